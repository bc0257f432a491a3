package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/skosovsky/universalis"
)

const selectConversation = "SELECT id, user_id, chat_title, input_tokens, output_tokens FROM chats"

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateConversation starts an empty conversation for userID.
func (s *Store) CreateConversation(ctx context.Context, userID int64, title string) (universalis.Conversation, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO chats (user_id, chat_title) VALUES (?, ?)", userID, title)
	if err != nil {
		return universalis.Conversation{}, fmt.Errorf("sqlitestore: create conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return universalis.Conversation{}, fmt.Errorf("sqlitestore: create conversation: %w", err)
	}
	return universalis.Conversation{ID: id, UserID: userID, Title: title}, nil
}

// Conversation returns one conversation by id.
func (s *Store) Conversation(ctx context.Context, id int64) (universalis.Conversation, error) {
	return scanConversation(s.db.QueryRowContext(ctx, selectConversation+" WHERE id = ?", id))
}

// ListConversations returns a page of userID's conversations, newest first.
func (s *Store) ListConversations(ctx context.Context, userID int64, limit, offset int) ([]universalis.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		selectConversation+" WHERE user_id = ? ORDER BY id DESC LIMIT ? OFFSET ?", userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list conversations: %w", err)
	}
	defer rows.Close()

	var out []universalis.Conversation
	for rows.Next() {
		var c universalis.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.InputTokens, &c.OutputTokens); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: list conversations: %w", err)
	}
	return out, nil
}

// CountConversations returns how many conversations userID owns.
func (s *Store) CountConversations(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chats WHERE user_id = ?", userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlitestore: count conversations: %w", err)
	}
	return n, nil
}

// DeleteConversation removes a conversation and, by cascade, its turns.
func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: delete conversation: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", universalis.ErrConversationNotFound, id)
	}
	return nil
}

// RenameConversation replaces the title of a conversation.
func (s *Store) RenameConversation(ctx context.Context, id int64, title string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE chats SET chat_title = ? WHERE id = ?", title, id)
	if err != nil {
		return fmt.Errorf("sqlitestore: rename conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", universalis.ErrConversationNotFound, id)
	}
	return nil
}

func (s *Store) requireConversation(ctx context.Context, db queryRower, id int64) error {
	var one int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM chats WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", universalis.ErrConversationNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("sqlitestore: lookup conversation: %w", err)
	}
	return nil
}

func scanConversation(row *sql.Row) (universalis.Conversation, error) {
	var c universalis.Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.InputTokens, &c.OutputTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return universalis.Conversation{}, universalis.ErrConversationNotFound
	}
	if err != nil {
		return universalis.Conversation{}, fmt.Errorf("sqlitestore: scan conversation: %w", err)
	}
	return c, nil
}
