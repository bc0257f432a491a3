package sqlitestore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/skosovsky/universalis"
)

// AddUser whitelists userID with default settings. It reports whether the user was new.
func (s *Store) AddUser(ctx context.Context, userID int64) (bool, error) {
	d := universalis.DefaultSettings(userID, s.defaultPrompt)
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_preferences (user_id, provider, model, temperature, max_tokens, n, start_prompt)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, string(d.Provider), d.Model, d.Temperature, d.MaxTokens, d.N, d.SystemPrompt)
	if err != nil {
		return false, fmt.Errorf("sqlitestore: add user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlitestore: add user: %w", err)
	}
	if n > 0 {
		s.logger.Info("user whitelisted", zap.Int64("user_id", userID))
	}
	return n > 0, nil
}

// SeedUsers whitelists every id in ids.
func (s *Store) SeedUsers(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := s.AddUser(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// UserIDs returns every whitelisted user id in ascending order.
func (s *Store) UserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT user_id FROM user_preferences ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsAllowed reports whether userID is whitelisted.
func (s *Store) IsAllowed(ctx context.Context, userID int64) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM user_preferences WHERE user_id = ?", userID).Scan(&n); err != nil {
		return false, fmt.Errorf("sqlitestore: is allowed: %w", err)
	}
	return n > 0, nil
}
