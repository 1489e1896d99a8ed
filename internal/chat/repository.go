package chat

import (
	"context"
	"database/sql"
	"slices"
	"sync"
	"time"

	"chatroom/internal/db"
)

// Repository is the append-only message log. Appends are serialized so that
// ids and timestamps grow together.
type Repository struct {
	db      *db.Database
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	lastSent time.Time
}

type RepositoryOption func(*Repository)

func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) { r.now = now }
}

func WithTimeout(d time.Duration) RepositoryOption {
	return func(r *Repository) { r.timeout = d }
}

func NewRepository(database *db.Database, opts ...RepositoryOption) *Repository {
	r := &Repository{
		db:      database,
		timeout: 3 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) Append(ctx context.Context, author, content string) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sentAt := r.now().UTC()
	if sentAt.Before(r.lastSent) {
		sentAt = r.lastSent
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var id int64
	query := r.db.Rebind("INSERT INTO message (content, username, date_sent) VALUES (?, ?, ?) RETURNING id")
	if err := r.db.Conn.QueryRowContext(ctx, query, content, author, sentAt).Scan(&id); err != nil {
		return nil, &StorageError{Op: "append", Err: err}
	}

	r.lastSent = sentAt
	return &Message{ID: id, Author: author, Content: content, SentAt: sentAt}, nil
}

// Recent returns the n newest messages, oldest first.
func (r *Repository) Recent(ctx context.Context, n int) ([]*Message, error) {
	return r.Range(ctx, 0, n)
}

// Range skips the offsetFromEnd newest messages and returns the count before
// them, oldest first.
func (r *Repository) Range(ctx context.Context, offsetFromEnd, count int) ([]*Message, error) {
	if count <= 0 {
		return []*Message{}, nil
	}
	offsetFromEnd = max(offsetFromEnd, 0)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := r.db.Rebind(`
		SELECT id, username, content, date_sent
		FROM message
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`)
	rows, err := r.db.Conn.QueryContext(ctx, query, count, offsetFromEnd)
	if err != nil {
		return nil, &StorageError{Op: "range", Err: err}
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, &StorageError{Op: "range", Err: err}
	}
	slices.Reverse(messages)
	return messages, nil
}

// SentSince returns the send times of the author's newest messages (at most
// limit) that are later than since, oldest first.
func (r *Repository) SentSince(ctx context.Context, author string, since time.Time, limit int) ([]time.Time, error) {
	if limit <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := r.db.Rebind("SELECT date_sent FROM message WHERE username = ? ORDER BY id DESC LIMIT ?")
	rows, err := r.db.Conn.QueryContext(ctx, query, author, limit)
	if err != nil {
		return nil, &StorageError{Op: "sent since", Err: err}
	}
	defer rows.Close()

	var stamps []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, &StorageError{Op: "sent since", Err: err}
		}
		// ids and timestamps grow together, so the first expired row ends the scan
		if !at.After(since) {
			break
		}
		stamps = append(stamps, at)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "sent since", Err: err}
	}
	slices.Reverse(stamps)
	return stamps, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.Author, &msg.Content, &msg.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []*Message{}
	}
	return messages, nil
}
