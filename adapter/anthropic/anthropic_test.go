package anthropic

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

func ExampleBuild() {
	msgs := Build([]universalis.Turn{
		universalis.TextTurn(universalis.RoleSystem, "sp"),
		universalis.TextTurn(universalis.RoleUser, "a"),
		universalis.TextTurn(universalis.RoleUser, "b"),
	}, adapter.Params{})
	for _, m := range msgs {
		fmt.Println(m.Role, m.Content[0].OfText.Text)
	}
	// Output:
	// user a
	// assistant Ignore this message
	// user b
}

// wire decodes messages the way the API receives them.
func wire(t *testing.T, msgs []anthropic.MessageParam) []map[string]any {
	t.Helper()
	b, err := json.Marshal(msgs)
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func roles(msgs []anthropic.MessageParam) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Role))
	}
	return out
}

func TestBuild_SystemFiltered(t *testing.T) {
	t.Parallel()
	msgs := Build([]universalis.Turn{
		universalis.TextTurn(universalis.RoleSystem, "You are helpful"),
		universalis.TextTurn(universalis.RoleUser, "hi"),
	}, adapter.Params{})
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"user"}, roles(msgs))
}

func TestBuild_FillerInsertion(t *testing.T) {
	t.Parallel()
	msgs := Build([]universalis.Turn{
		universalis.TextTurn(universalis.RoleSystem, "sp"),
		universalis.TextTurn(universalis.RoleUser, "a"),
		universalis.TextTurn(universalis.RoleUser, "b"),
	}, adapter.Params{})
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"user", "assistant", "user"}, roles(msgs))
	assert.Equal(t, "a", msgs[0].Content[0].OfText.Text)
	assert.Equal(t, FillerText, msgs[1].Content[0].OfText.Text)
	assert.Equal(t, "b", msgs[2].Content[0].OfText.Text)
}

func TestBuild_AssistantFiller(t *testing.T) {
	t.Parallel()
	msgs := Build([]universalis.Turn{
		universalis.TextTurn(universalis.RoleUser, "q"),
		universalis.TextTurn(universalis.RoleAssistant, "a1"),
		universalis.TextTurn(universalis.RoleAssistant, "a2"),
	}, adapter.Params{})
	assert.Equal(t, []string{"user", "assistant", "user", "assistant"}, roles(msgs))
	assert.Equal(t, FillerText, msgs[2].Content[0].OfText.Text)
}

func TestBuild_ImagePairedWithNextTurn(t *testing.T) {
	t.Parallel()
	msgs := Build([]universalis.Turn{
		universalis.TextTurn(universalis.RoleSystem, "sp"),
		universalis.ImageTurn(universalis.RoleUser, "QUJD"),
		universalis.TextTurn(universalis.RoleUser, "what is this"),
	}, adapter.Params{})
	require.Len(t, msgs, 1)

	w := wire(t, msgs)
	assert.Equal(t, "user", w[0]["role"])
	content := w[0]["content"].([]any)
	require.Len(t, content, 2)
	img := content[0].(map[string]any)
	assert.Equal(t, "image", img["type"])
	src := img["source"].(map[string]any)
	assert.Equal(t, "base64", src["type"])
	assert.Equal(t, "image/jpeg", src["media_type"])
	assert.Equal(t, "QUJD", src["data"])
	txt := content[1].(map[string]any)
	assert.Equal(t, "text", txt["type"])
	assert.Equal(t, "what is this", txt["text"])
}

func TestBuild_TrailingImageDropped(t *testing.T) {
	t.Parallel()
	msgs := Build([]universalis.Turn{
		universalis.TextTurn(universalis.RoleUser, "hi"),
		universalis.TextTurn(universalis.RoleAssistant, "hello"),
		universalis.ImageTurn(universalis.RoleUser, "QUJD"),
	}, adapter.Params{})
	assert.Equal(t, []string{"user", "assistant"}, roles(msgs))
}

func TestBuild_ImageFollowedByImageKeepsLatest(t *testing.T) {
	t.Parallel()
	msgs := Build([]universalis.Turn{
		universalis.ImageTurn(universalis.RoleUser, "OLD"),
		universalis.ImageTurn(universalis.RoleUser, "NEW"),
		universalis.TextTurn(universalis.RoleUser, "compare"),
	}, adapter.Params{})
	require.Len(t, msgs, 1)
	w := wire(t, msgs)
	src := w[0]["content"].([]any)[0].(map[string]any)["source"].(map[string]any)
	assert.Equal(t, "NEW", src["data"])
}

func TestBuild_AlternationProperty(t *testing.T) {
	t.Parallel()
	kinds := []universalis.Turn{
		universalis.TextTurn(universalis.RoleUser, "u"),
		universalis.TextTurn(universalis.RoleAssistant, "a"),
		universalis.TextTurn(universalis.RoleSystem, "s"),
		universalis.ImageTurn(universalis.RoleUser, "IMG"),
		universalis.ImageTurn(universalis.RoleAssistant, "IMG"),
	}
	// Every sequence of up to 5 turns drawn from kinds.
	var walk func(prefix []universalis.Turn)
	walk = func(prefix []universalis.Turn) {
		msgs := Build(prefix, adapter.Params{})
		for i := 1; i < len(msgs); i++ {
			require.NotEqual(t, msgs[i-1].Role, msgs[i].Role, "sequence %v", prefix)
		}
		if len(prefix) == 5 {
			return
		}
		for _, k := range kinds {
			walk(append(append([]universalis.Turn(nil), prefix...), k))
		}
	}
	walk(nil)
}

func TestBuild_PreservesOrder(t *testing.T) {
	t.Parallel()
	msgs := Build([]universalis.Turn{
		universalis.TextTurn(universalis.RoleUser, "1"),
		universalis.TextTurn(universalis.RoleAssistant, "2"),
		universalis.TextTurn(universalis.RoleUser, "3"),
		universalis.TextTurn(universalis.RoleAssistant, "4"),
	}, adapter.Params{})
	var texts []string
	for _, m := range msgs {
		texts = append(texts, m.Content[0].OfText.Text)
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, texts)
}

func TestBuild_Idempotent(t *testing.T) {
	t.Parallel()
	turns := []universalis.Turn{
		universalis.TextTurn(universalis.RoleSystem, "sp"),
		universalis.ImageTurn(universalis.RoleUser, "QUJD"),
		universalis.TextTurn(universalis.RoleUser, "x"),
		universalis.TextTurn(universalis.RoleUser, "y"),
	}
	a, err := json.Marshal(Build(turns, adapter.Params{}))
	require.NoError(t, err)
	b, err := json.Marshal(Build(turns, adapter.Params{}))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	resp, err := Normalize(&anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: "<h4>note</h4>"}},
		Usage:   anthropic.Usage{InputTokens: 9, OutputTokens: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, universalis.Response{InputTokens: 9, OutputTokens: 4, Role: universalis.RoleAssistant, Text: "<i>note</i>"}, resp)
}

func TestNormalize_Errors(t *testing.T) {
	t.Parallel()
	_, err := Normalize(nil)
	require.ErrorIs(t, err, adapter.ErrNilResponse)
	_, err = Normalize(&anthropic.Message{Content: []anthropic.ContentBlockUnion{}})
	require.ErrorIs(t, err, adapter.ErrEmptyResponse)
}
