package db

import (
	"context"
	"database/sql"
	"fmt"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AddUser appends a user turn to the conversation.
func (r *MessageRepo) AddUser(ctx context.Context, conversationID, content string) (*Message, error) {
	msg := &Message{ConversationID: conversationID, Role: RoleUser, Content: content}
	if err := r.insert(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// AddAssistant appends a completed council round. Payloads are stored as-is.
func (r *MessageRepo) AddAssistant(ctx context.Context, msg *Message) error {
	msg.Role = RoleAssistant
	return r.insert(ctx, msg)
}

func (r *MessageRepo) insert(ctx context.Context, msg *Message) error {
	if msg.ConversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if msg.ID == "" {
		id, err := NewID()
		if err != nil {
			return err
		}
		msg.ID = id
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = nowUTC()
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO conversation_messages (id, conversation_id, role, content, stage1, stage2, stage3, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, msg.ID, msg.ConversationID, msg.Role, msg.Content,
		encodeRaw(msg.Stage1), encodeRaw(msg.Stage2), encodeRaw(msg.Stage3), encodeRaw(msg.Metadata),
		formatTimestamp(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to add %s message to conversation %q: %w", msg.Role, msg.ConversationID, err)
	}
	return nil
}

// ListByConversation returns messages oldest first.
func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, conversation_id, role, content, stage1, stage2, stage3, metadata, created_at
FROM conversation_messages
WHERE conversation_id = ?
ORDER BY created_at ASC, rowid ASC
`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for %q: %w", conversationID, err)
	}
	defer rows.Close()

	msgs := []*Message{}
	for rows.Next() {
		var m Message
		var stage1, stage2, stage3, metadata, createdAtRaw string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &stage1, &stage2, &stage3, &metadata, &createdAtRaw); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Stage1 = decodeRaw(stage1)
		m.Stage2 = decodeRaw(stage2)
		m.Stage3 = decodeRaw(stage3)
		m.Metadata = decodeRaw(metadata)
		if m.CreatedAt, err = parseTimestamp(createdAtRaw); err != nil {
			return nil, err
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating messages: %w", err)
	}
	return msgs, nil
}
