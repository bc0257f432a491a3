package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/skosovsky/universalis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const defaultPrompt = "You are a helpful assistant. Today is {{DAY}}."

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenDir(context.Background(), t.TempDir(), WithDefaultSystemPrompt(defaultPrompt))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_MissingDirectory(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope", "x.db"))
	require.Error(t, err)
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	for range 2 {
		s, err := OpenDir(ctx, dir)
		require.NoError(t, err)
		v, err := migrationVersion(ctx, s.db)
		require.NoError(t, err)
		assert.Equal(t, 2, v)
		require.NoError(t, s.Ping(ctx))
		require.NoError(t, s.Close())
	}
}

func TestVersionFromFilename(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1, versionFromFilename("001_init.up.sql"))
	assert.Equal(t, 42, versionFromFilename("042_x.up.sql"))
	assert.Equal(t, 0, versionFromFilename("init.up.sql"))
}

func TestTurns_RoundTripInOrder(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	c, err := s.CreateConversation(ctx, 1, "first")
	require.NoError(t, err)

	want := []universalis.Turn{
		universalis.TextTurn(universalis.RoleSystem, "sp"),
		universalis.ImageTurn(universalis.RoleUser, "QUJD"),
		universalis.TextTurn(universalis.RoleUser, "what"),
	}
	for _, turn := range want {
		require.NoError(t, s.AppendTurn(ctx, c.ID, turn))
	}
	got, err := s.ReadTurns(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	n, err := s.CountTurns(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	err = s.AppendTurn(ctx, 999, want[0])
	require.ErrorIs(t, err, universalis.ErrConversationNotFound)

	none, err := s.ReadTurns(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCommitExchange(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	c, err := s.CreateConversation(ctx, 1, "chat")
	require.NoError(t, err)
	require.NoError(t, s.AddTokenTotals(ctx, c.ID, 5, 5))

	got, err := s.CommitExchange(ctx, Exchange{
		ConversationID: c.ID,
		Turns: []universalis.Turn{
			universalis.TextTurn(universalis.RoleUser, "hi"),
			universalis.TextTurn(universalis.RoleAssistant, "hello"),
		},
		InputTokens:  10,
		OutputTokens: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.InputTokens)
	assert.Equal(t, int64(7), got.OutputTokens)

	in, out, err := s.TokenTotals(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, [2]int64{15, 7}, [2]int64{in, out})

	turns, err := s.ReadTurns(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestCommitExchange_UnknownConversationWritesNothing(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	_, err := s.CommitExchange(ctx, Exchange{
		ConversationID: 404,
		Turns:          []universalis.Turn{universalis.TextTurn(universalis.RoleUser, "hi")},
	})
	require.Error(t, err)

	n, err := s.CountTurns(ctx, 404)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConversations_ListCountDelete(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	var ids []int64
	for _, title := range []string{"a", "b", "c"} {
		c, err := s.CreateConversation(ctx, 7, title)
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	_, err := s.CreateConversation(ctx, 8, "other user")
	require.NoError(t, err)

	n, err := s.CountConversations(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	page, err := s.ListConversations(ctx, 7, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Title)
	assert.Equal(t, "b", page[1].Title)

	page, err = s.ListConversations(ctx, 7, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Title)

	require.NoError(t, s.RenameConversation(ctx, ids[0], "renamed"))
	c, err := s.Conversation(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "renamed", c.Title)

	require.NoError(t, s.AppendTurn(ctx, ids[0], universalis.TextTurn(universalis.RoleUser, "x")))
	require.NoError(t, s.DeleteConversation(ctx, ids[0]))
	_, err = s.Conversation(ctx, ids[0])
	require.ErrorIs(t, err, universalis.ErrConversationNotFound)
	turns, err := s.CountTurns(ctx, ids[0])
	require.NoError(t, err)
	assert.Zero(t, turns, "turns cascade with the conversation")

	require.ErrorIs(t, s.DeleteConversation(ctx, ids[0]), universalis.ErrConversationNotFound)
	_, _, err = s.TokenTotals(ctx, ids[0])
	require.ErrorIs(t, err, universalis.ErrConversationNotFound)
}

func TestUsers_Whitelist(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	ok, err := s.IsAllowed(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SeedUsers(ctx, []int64{42, 7}))
	added, err := s.AddUser(ctx, 42)
	require.NoError(t, err)
	assert.False(t, added, "second add is a no-op")

	ok, err = s.IsAllowed(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := s.UserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 42}, ids)
}

func TestSettings(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Settings(ctx, 1)
	require.ErrorIs(t, err, universalis.ErrUserNotFound)

	_, err = s.AddUser(ctx, 1)
	require.NoError(t, err)
	st, err := s.Settings(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, universalis.DefaultSettings(1, defaultPrompt), st)

	st.Provider = universalis.ProviderClaude
	st.Model = "claude-3-haiku-20240307"
	st.Temperature = 0.2
	st.MaxTokens = 1000
	st.N = 2
	st.SystemPrompt = ""
	require.NoError(t, s.UpdateSettings(ctx, st))
	got, err := s.Settings(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, st, got)

	bad := got
	bad.Temperature = 1.5
	require.ErrorIs(t, s.UpdateSettings(ctx, bad), universalis.ErrInvalidSetting)

	reset, err := s.ResetSettings(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, universalis.DefaultSettings(1, defaultPrompt), reset)

	require.ErrorIs(t, s.UpdateSettings(ctx, universalis.DefaultSettings(2, "")), universalis.ErrUserNotFound)
}

func TestImageSettings(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	st, err := s.ImageSettings(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, universalis.DefaultImageSettings(3), st)

	st, err = st.WithModel(universalis.ImageModelDallE3)
	require.NoError(t, err)
	require.NoError(t, s.UpdateImageSettings(ctx, st))
	got, err := s.ImageSettings(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, universalis.ImageSettings{UserID: 3, Model: "dall-e-3", Size: "1024x1024"}, got)

	err = s.UpdateImageSettings(ctx, universalis.ImageSettings{UserID: 3, Model: "dall-e-3", Size: "256x256"})
	require.ErrorIs(t, err, universalis.ErrInvalidSetting)
}
