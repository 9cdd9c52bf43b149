// ABOUTME: Item record, kind and lifecycle status types
// ABOUTME: Encodes the allowed status transitions of a reported item

package item

import "time"

// Kind distinguishes lost reports from found reports.
type Kind string

const (
	KindLost  Kind = "lost"
	KindFound Kind = "found"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindLost || k == KindFound
}

// Status is the lifecycle state of an item.
type Status string

const (
	StatusOpen      Status = "open"
	StatusClaimed   Status = "claimed"
	StatusResolved  Status = "resolved"
	StatusWithdrawn Status = "withdrawn"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusClaimed, StatusResolved, StatusWithdrawn:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusWithdrawn
}

// transitions lists every allowed edge. Anything else is rejected.
var transitions = map[Status][]Status{
	StatusOpen:    {StatusClaimed, StatusWithdrawn},
	StatusClaimed: {StatusResolved, StatusOpen, StatusWithdrawn},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Item is a reported lost or found object.
type Item struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	OccurredAt  time.Time `json:"occurred_at"`
	Attachment  string    `json:"attachment,omitempty"`
	OwnerID     string    `json:"owner_id"`
	Status      Status    `json:"status"`
	ClaimantID  string    `json:"claimant_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewItem holds the fields supplied when an item is reported.
type NewItem struct {
	Kind        Kind
	Title       string
	Description string
	Location    string
	OccurredAt  time.Time
	OwnerID     string
	Attachment  string
}

// Details holds the owner-editable text fields.
type Details struct {
	Title       string
	Description string
	Location    string
}

// Filter narrows ListItems. Zero fields match everything.
type Filter struct {
	Kind    Kind
	Status  Status
	OwnerID string
}

func (f Filter) matches(it Item) bool {
	if f.Kind != "" && it.Kind != f.Kind {
		return false
	}
	if f.Status != "" && it.Status != f.Status {
		return false
	}
	if f.OwnerID != "" && it.OwnerID != f.OwnerID {
		return false
	}
	return true
}

// StatusChange is the lifecycle event emitted on every successful transition.
type StatusChange struct {
	ItemID     string    `json:"item_id"`
	OwnerID    string    `json:"owner_id"`
	ActorID    string    `json:"actor_id"`
	ClaimantID string    `json:"claimant_id,omitempty"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	At         time.Time `json:"at"`
}
