package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by mutations that target a missing row.
var ErrNotFound = errors.New("not found")

const DefaultConversationTitle = "New Conversation"

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *Conversation) error {
	if conv.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		conv.ID = id
	}
	if strings.TrimSpace(conv.Title) == "" {
		conv.Title = DefaultConversationTitle
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = nowUTC()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO conversations (id, title, created_at, updated_at)
VALUES (?, ?, ?, ?)
`, conv.ID, conv.Title, formatTimestamp(conv.CreatedAt), formatTimestamp(conv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// Get returns nil, nil when the conversation does not exist.
func (r *ConversationRepo) Get(ctx context.Context, id string) (*Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT c.id, c.title, c.created_at, c.updated_at,
	(SELECT count(1) FROM conversation_messages m WHERE m.conversation_id = c.id)
FROM conversations c
WHERE c.id = ?
`, id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation %q: %w", id, err)
	}
	return conv, nil
}

// List returns conversation metadata, newest first.
func (r *ConversationRepo) List(ctx context.Context) ([]*Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT c.id, c.title, c.created_at, c.updated_at,
	(SELECT count(1) FROM conversation_messages m WHERE m.conversation_id = c.id)
FROM conversations c
ORDER BY c.created_at DESC, c.rowid DESC
`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	convs := []*Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating conversations: %w", err)
	}
	return convs, nil
}

func (r *ConversationRepo) UpdateTitle(ctx context.Context, id, title string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?
`, title, formatTimestamp(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update conversation %q: %w", id, err)
	}
	return requireAffected(res, "conversation", id)
}

// Touch bumps updated_at after a new message.
func (r *ConversationRepo) Touch(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, formatTimestamp(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation %q: %w", id, err)
	}
	return nil
}

func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation %q: %w", id, err)
	}
	return requireAffected(res, "conversation", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var createdAtRaw, updatedAtRaw string
	if err := row.Scan(&c.ID, &c.Title, &createdAtRaw, &updatedAtRaw, &c.MessageCount); err != nil {
		return nil, err
	}
	var err error
	if c.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTimestamp(updatedAtRaw); err != nil {
		return nil, err
	}
	return &c, nil
}

func requireAffected(res sql.Result, kind, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for %s %q: %w", kind, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}
	return nil
}
