// ABOUTME: Item lifecycle observer that republishes status changes as events
// ABOUTME: Lets item listeners learn that a conversation was frozen or reopened

package events

import "github.com/2389/lostfound/internal/item"

// Lifecycle publishes item status changes.
type Lifecycle struct {
	pub Publisher
}

// NewLifecycle returns an item observer publishing to pub.
func NewLifecycle(pub Publisher) *Lifecycle {
	return &Lifecycle{pub: pub}
}

// ItemStatusChanged implements item.Observer.
func (l *Lifecycle) ItemStatusChanged(change item.StatusChange) {
	l.pub.Publish(New(KindItemStatusChanged, change.ItemID, "", change.At, change))
}
