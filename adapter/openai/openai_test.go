package openai

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/openai/openai-go/v3"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

var monday = time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)

func ExampleBuild() {
	msgs := Build([]universalis.Turn{
		universalis.TextTurn(universalis.RoleSystem, "Today is {{DAY}}"),
		universalis.TextTurn(universalis.RoleUser, "Hello"),
	}, adapter.Params{Now: monday})
	fmt.Println(*msgs[0].Content[0].Text)
	fmt.Println(msgs[1].Role, *msgs[1].Content[0].Text)
	// Output:
	// Today is Monday
	// user Hello
}

func TestBuild_SystemAndUser(t *testing.T) {
	t.Parallel()
	msgs := Build([]universalis.Turn{
		universalis.TextTurn(universalis.RoleSystem, "You are helpful"),
		universalis.TextTurn(universalis.RoleUser, "hi"),
	}, adapter.Params{Now: monday})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
}

func TestBuild_WireShape(t *testing.T) {
	t.Parallel()
	msgs := Build([]universalis.Turn{
		universalis.TextTurn(universalis.RoleSystem, "{{DAY}} {{DATE}}"),
		universalis.ImageTurn(universalis.RoleUser, "QUJD"),
		universalis.TextTurn(universalis.RoleAssistant, "a cat"),
	}, adapter.Params{Now: monday})

	b, err := json.Marshal(msgs)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"role":"system","content":[{"type":"text","text":"Monday 3 Mar 2025"}]},
		{"role":"user","content":[
			{"type":"text","text":""},
			{"type":"image_url","image_url":{"url":"data:image/jpeg;base64,QUJD"}}
		]},
		{"role":"assistant","content":[{"type":"text","text":"a cat"}]}
	]`, string(b))
}

func TestBuild_AssistantImageKeepsRole(t *testing.T) {
	t.Parallel()
	msgs := Build([]universalis.Turn{universalis.ImageTurn(universalis.RoleAssistant, "QUJD")}, adapter.Params{})
	require.Len(t, msgs, 1)
	assert.Equal(t, "assistant", msgs[0].Role)
	require.Len(t, msgs[0].Content, 2)
	assert.Equal(t, PartImageURL, msgs[0].Content[1].Type)
}

func TestBuild_UserTextNotExpanded(t *testing.T) {
	t.Parallel()
	msgs := Build([]universalis.Turn{universalis.TextTurn(universalis.RoleUser, "{{DAY}}")}, adapter.Params{Now: monday})
	assert.Equal(t, "{{DAY}}", *msgs[0].Content[0].Text)
}

func TestBuild_Idempotent(t *testing.T) {
	t.Parallel()
	turns := []universalis.Turn{
		universalis.TextTurn(universalis.RoleSystem, "{{DATE}}"),
		universalis.ImageTurn(universalis.RoleUser, "QUJD"),
		universalis.TextTurn(universalis.RoleUser, "what is this"),
	}
	p := adapter.Params{Now: monday}
	a, err := json.Marshal(Build(turns, p))
	require.NoError(t, err)
	b, err := json.Marshal(Build(turns, p))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuild_Empty(t *testing.T) {
	t.Parallel()
	msgs := Build(nil, adapter.Params{})
	assert.Empty(t, msgs)
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	resp, err := Normalize(&openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: "  <h1>Title</h1><p>body</p>\n"},
		}},
		Usage: openai.CompletionUsage{PromptTokens: 12, CompletionTokens: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), resp.InputTokens)
	assert.Equal(t, int64(3), resp.OutputTokens)
	assert.Equal(t, universalis.RoleAssistant, resp.Role)
	assert.Equal(t, "<b><u>Title</u></b>body", resp.Text)
}

func TestNormalize_Errors(t *testing.T) {
	t.Parallel()
	_, err := Normalize(nil)
	require.ErrorIs(t, err, adapter.ErrNilResponse)

	_, err = Normalize(&openai.ChatCompletion{})
	require.ErrorIs(t, err, adapter.ErrEmptyResponse)

	_, err = Normalize(&openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Refusal: "no"}}},
	})
	require.ErrorIs(t, err, adapter.ErrEmptyResponse)
}
