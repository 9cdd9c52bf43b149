// ABOUTME: SQLite implementation of the journal using modernc.org/sqlite
// ABOUTME: Persists items, threads and messages with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/lostfound/internal/item"
	"github.com/2389/lostfound/internal/message"
	"github.com/2389/lostfound/internal/thread"
)

// SQLiteStore implements Writer and loads snapshots.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serializes writers and keeps PRAGMAs in effect.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS items (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT NOT NULL,
			location    TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			attachment  TEXT,
			owner_id    TEXT NOT NULL,
			status      TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			CHECK (kind IN ('lost', 'found')),
			CHECK (status IN ('open', 'claimed', 'resolved', 'withdrawn'))
		);

		CREATE INDEX IF NOT EXISTS idx_items_owner ON items(owner_id);

		CREATE TABLE IF NOT EXISTS threads (
			id              TEXT PRIMARY KEY,
			item_id         TEXT NOT NULL,
			counterparty_id TEXT NOT NULL,
			owner_id        TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			FOREIGN KEY (item_id) REFERENCES items(id)
		);

		CREATE INDEX IF NOT EXISTS idx_threads_item ON threads(item_id);

		CREATE TABLE IF NOT EXISTS messages (
			thread_id      TEXT NOT NULL,
			seq            INTEGER NOT NULL,
			sender_id      TEXT NOT NULL,
			body           TEXT NOT NULL,
			sent_at        TEXT NOT NULL,
			delivery_state TEXT NOT NULL,
			automated      INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (thread_id, seq),
			FOREIGN KEY (thread_id) REFERENCES threads(id)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies idempotent column additions for databases created by
// earlier versions.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "items",
			column: "claimant_id",
			apply:  `ALTER TABLE items ADD COLUMN claimant_id TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveItem inserts or replaces the item's current state.
func (s *SQLiteStore) SaveItem(ctx context.Context, it item.Item) error {
	query := `
		INSERT INTO items (id, kind, title, description, location, occurred_at, attachment,
			owner_id, status, claimant_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			location = excluded.location,
			attachment = excluded.attachment,
			status = excluded.status,
			claimant_id = excluded.claimant_id,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		it.ID,
		string(it.Kind),
		it.Title,
		it.Description,
		it.Location,
		formatTime(it.OccurredAt),
		nullString(it.Attachment),
		it.OwnerID,
		string(it.Status),
		nullString(it.ClaimantID),
		formatTime(it.CreatedAt),
		formatTime(it.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving item %s: %w", it.ID, err)
	}
	return nil
}

// GetItem retrieves an item by ID.
// Returns ErrNotFound if the item doesn't exist.
func (s *SQLiteStore) GetItem(ctx context.Context, id string) (item.Item, error) {
	row := s.db.QueryRowContext(ctx, itemColumns+` WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return item.Item{}, ErrNotFound
	}
	return it, err
}

// SaveThread records a new thread. Saving an existing thread is a no-op.
func (s *SQLiteStore) SaveThread(ctx context.Context, t thread.Thread) error {
	query := `
		INSERT OR IGNORE INTO threads (id, item_id, counterparty_id, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.ItemID, t.CounterpartyID, t.OwnerID, formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving thread %s: %w", t.ID, err)
	}
	return nil
}

// SaveMessage appends a delivered message. Saving an existing (thread, seq) is a no-op.
func (s *SQLiteStore) SaveMessage(ctx context.Context, m message.Message) error {
	query := `
		INSERT OR IGNORE INTO messages (thread_id, seq, sender_id, body, sent_at, delivery_state, automated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	automated := 0
	if m.Automated {
		automated = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		m.ThreadID, m.ID, m.SenderID, m.Body, formatTime(m.SentAt), string(m.DeliveryState), automated)
	if err != nil {
		return fmt.Errorf("saving message %s/%d: %w", m.ThreadID, m.ID, err)
	}
	return nil
}

// Load reads every record, ordered for Engine.Restore.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var err error

	if snap.Items, err = s.loadItems(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Threads, err = s.loadThreads(ctx); err != nil {
		return Snapshot{}, err
	}
	if snap.Messages, err = s.loadMessages(ctx); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

const itemColumns = `
	SELECT id, kind, title, description, location, occurred_at, attachment,
		owner_id, status, claimant_id, created_at, updated_at
	FROM items`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (item.Item, error) {
	var it item.Item
	var kind, status, occurredAt, createdAt, updatedAt string
	var attachment, claimant sql.NullString

	err := row.Scan(&it.ID, &kind, &it.Title, &it.Description, &it.Location, &occurredAt,
		&attachment, &it.OwnerID, &status, &claimant, &createdAt, &updatedAt)
	if err != nil {
		return item.Item{}, err
	}
	it.Kind = item.Kind(kind)
	it.Status = item.Status(status)
	it.Attachment = attachment.String
	it.ClaimantID = claimant.String

	if it.OccurredAt, err = parseTime(occurredAt); err != nil {
		return item.Item{}, fmt.Errorf("parsing occurred_at: %w", err)
	}
	if it.CreatedAt, err = parseTime(createdAt); err != nil {
		return item.Item{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if it.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return item.Item{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return it, nil
}

func (s *SQLiteStore) loadItems(ctx context.Context) ([]item.Item, error) {
	rows, err := s.db.QueryContext(ctx, itemColumns+` ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) loadThreads(ctx context.Context) ([]thread.Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, counterparty_id, owner_id, created_at
		FROM threads
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var threads []thread.Thread
	for rows.Next() {
		var t thread.Thread
		var createdAt string
		if err := rows.Scan(&t.ID, &t.ItemID, &t.CounterpartyID, &t.OwnerID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

func (s *SQLiteStore) loadMessages(ctx context.Context) ([]message.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, seq, sender_id, body, sent_at, delivery_state, automated
		FROM messages
		ORDER BY thread_id, seq
	`)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		var m message.Message
		var sentAt, state string
		var automated int
		if err := rows.Scan(&m.ThreadID, &m.ID, &m.SenderID, &m.Body, &sentAt, &state, &automated); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if m.SentAt, err = parseTime(sentAt); err != nil {
			return nil, fmt.Errorf("parsing sent_at: %w", err)
		}
		m.DeliveryState = message.DeliveryState(state)
		m.Automated = automated != 0
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// nullString converts empty strings to SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
