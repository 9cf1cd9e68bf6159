package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (s *Store) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	query := s.bind(`
INSERT INTO conversations (id, user_id, title, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
`)
	_, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := s.bind(`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?`)

	var conv Conversation
	var title sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.UserID, &title, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	conv.Title = title.String
	return &conv, nil
}

// AppendMessage stores a message with the next sequence number in its
// conversation and bumps the conversation timestamp.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ConversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = time.Now().UTC()

	seq, err := s.nextSequenceNum(ctx, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}
	msg.SequenceNum = seq

	query := s.bind(`
INSERT INTO messages (id, conversation_id, user_id, role, content, sequence_num, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`)
	_, err = s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, msg.UserID, msg.Role, msg.Content,
		msg.SequenceNum, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	touch := s.bind(`UPDATE conversations SET updated_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, touch, msg.CreatedAt, msg.ConversationID); err != nil {
		return fmt.Errorf("failed to update conversation timestamp: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := s.bind(`
SELECT id, conversation_id, user_id, role, content, sequence_num, created_at
FROM messages WHERE conversation_id = ? ORDER BY sequence_num
`)
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var userID sql.NullString
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &userID, &msg.Role, &msg.Content,
			&msg.SequenceNum, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.UserID = userID.String
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

func (s *Store) nextSequenceNum(ctx context.Context, conversationID string) (int64, error) {
	query := s.bind(`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM messages WHERE conversation_id = ?`)

	var seq int64
	if err := s.db.QueryRowContext(ctx, query, conversationID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}
