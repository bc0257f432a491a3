package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/skosovsky/universalis"
)

// Settings returns userID's chat settings. A user without a row is not whitelisted
// and yields ErrUserNotFound.
func (s *Store) Settings(ctx context.Context, userID int64) (universalis.Settings, error) {
	st := universalis.Settings{UserID: userID}
	var provider string
	err := s.db.QueryRowContext(ctx,
		"SELECT provider, model, temperature, max_tokens, n, start_prompt FROM user_preferences WHERE user_id = ?", userID).
		Scan(&provider, &st.Model, &st.Temperature, &st.MaxTokens, &st.N, &st.SystemPrompt)
	if errors.Is(err, sql.ErrNoRows) {
		return universalis.Settings{}, fmt.Errorf("%w: %d", universalis.ErrUserNotFound, userID)
	}
	if err != nil {
		return universalis.Settings{}, fmt.Errorf("sqlitestore: settings: %w", err)
	}
	st.Provider = universalis.Provider(provider)
	return st, nil
}

// UpdateSettings validates st and stores it for st.UserID.
func (s *Store) UpdateSettings(ctx context.Context, st universalis.Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_preferences
		 SET provider = ?, model = ?, temperature = ?, max_tokens = ?, n = ?, start_prompt = ?
		 WHERE user_id = ?`,
		string(st.Provider), st.Model, st.Temperature, st.MaxTokens, st.N, st.SystemPrompt, st.UserID)
	if err != nil {
		return fmt.Errorf("sqlitestore: update settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", universalis.ErrUserNotFound, st.UserID)
	}
	return nil
}

// ResetSettings restores userID's chat settings to the defaults.
func (s *Store) ResetSettings(ctx context.Context, userID int64) (universalis.Settings, error) {
	st := universalis.DefaultSettings(userID, s.defaultPrompt)
	if err := s.UpdateSettings(ctx, st); err != nil {
		return universalis.Settings{}, err
	}
	return st, nil
}

// ImageSettings returns userID's image generation settings, or the defaults when none are stored.
func (s *Store) ImageSettings(ctx context.Context, userID int64) (universalis.ImageSettings, error) {
	st := universalis.ImageSettings{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		"SELECT model, size FROM image_gen_user_preferences WHERE user_id = ?", userID).Scan(&st.Model, &st.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return universalis.DefaultImageSettings(userID), nil
	}
	if err != nil {
		return universalis.ImageSettings{}, fmt.Errorf("sqlitestore: image settings: %w", err)
	}
	return st, nil
}

// UpdateImageSettings stores st for st.UserID.
func (s *Store) UpdateImageSettings(ctx context.Context, st universalis.ImageSettings) error {
	if _, err := universalis.DefaultImageSettings(st.UserID).WithModel(st.Model); err != nil {
		return err
	}
	if _, err := st.WithSize(st.Size); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO image_gen_user_preferences (user_id, model, size) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET model = excluded.model, size = excluded.size`,
		st.UserID, st.Model, st.Size)
	if err != nil {
		return fmt.Errorf("sqlitestore: update image settings: %w", err)
	}
	return nil
}
