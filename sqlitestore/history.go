package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/skosovsky/universalis"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Exchange is the set of writes that follows one successful provider reply.
type Exchange struct {
	ConversationID int64
	// Turns are appended in order: the pending user turns, then the assistant turn.
	Turns        []universalis.Turn
	InputTokens  int64
	OutputTokens int64
}

// ReadTurns returns the turns of a conversation in insertion order.
// An unknown conversation has no turns.
func (s *Store) ReadTurns(ctx context.Context, conversationID int64) ([]universalis.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT type, message, role FROM chat_history WHERE chat_id = ? ORDER BY message_id", conversationID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: read turns: %w", err)
	}
	defer rows.Close()

	var turns []universalis.Turn
	for rows.Next() {
		var t universalis.Turn
		if err := rows.Scan(&t.Kind, &t.Payload, &t.Role); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: read turns: %w", err)
	}
	return turns, nil
}

// CountTurns returns how many turns a conversation holds.
func (s *Store) CountTurns(ctx context.Context, conversationID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_history WHERE chat_id = ?", conversationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: count turns: %w", err)
	}
	return n, nil
}

// AppendTurn stores one turn at the end of a conversation.
func (s *Store) AppendTurn(ctx context.Context, conversationID int64, t universalis.Turn) error {
	if err := s.requireConversation(ctx, s.db, conversationID); err != nil {
		return err
	}
	return appendTurn(ctx, s.db, conversationID, t)
}

// TokenTotals returns the cumulative input and output token counts of a conversation.
func (s *Store) TokenTotals(ctx context.Context, conversationID int64) (in, out int64, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT input_tokens, output_tokens FROM chats WHERE id = ?", conversationID).Scan(&in, &out)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: %d", universalis.ErrConversationNotFound, conversationID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("sqlitestore: token totals: %w", err)
	}
	return in, out, nil
}

// AddTokenTotals adds to the cumulative token counts of a conversation.
func (s *Store) AddTokenTotals(ctx context.Context, conversationID, in, out int64) error {
	return addTokenTotals(ctx, s.db, conversationID, in, out)
}

// CommitExchange appends ex.Turns and adds the token counts in one transaction.
// Nothing is written when any step fails. It returns the conversation with updated totals.
func (s *Store) CommitExchange(ctx context.Context, ex Exchange) (universalis.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return universalis.Conversation{}, fmt.Errorf("sqlitestore: begin exchange: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range ex.Turns {
		if err := appendTurn(ctx, tx, ex.ConversationID, t); err != nil {
			return universalis.Conversation{}, err
		}
	}
	if err := addTokenTotals(ctx, tx, ex.ConversationID, ex.InputTokens, ex.OutputTokens); err != nil {
		return universalis.Conversation{}, err
	}
	c, err := scanConversation(tx.QueryRowContext(ctx, selectConversation+" WHERE id = ?", ex.ConversationID))
	if err != nil {
		return universalis.Conversation{}, err
	}
	if err := tx.Commit(); err != nil {
		return universalis.Conversation{}, fmt.Errorf("sqlitestore: commit exchange: %w", err)
	}
	return c, nil
}

func appendTurn(ctx context.Context, db execer, conversationID int64, t universalis.Turn) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO chat_history (chat_id, type, message, role) VALUES (?, ?, ?, ?)",
		conversationID, string(t.Kind), t.Payload, string(t.Role))
	if err != nil {
		return fmt.Errorf("sqlitestore: append turn: %w", err)
	}
	return nil
}

func addTokenTotals(ctx context.Context, db execer, conversationID, in, out int64) error {
	res, err := db.ExecContext(ctx,
		"UPDATE chats SET input_tokens = input_tokens + ?, output_tokens = output_tokens + ? WHERE id = ?",
		in, out, conversationID)
	if err != nil {
		return fmt.Errorf("sqlitestore: add token totals: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: add token totals: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", universalis.ErrConversationNotFound, conversationID)
	}
	return nil
}
