package ollama

import (
	"encoding/base64"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"
)

// KeepAlive is how long Ollama keeps the model loaded after a request.
const KeepAlive = 10 * time.Minute

// Build converts turns into a non-streaming *api.ChatRequest. Roles are sent as-is, system turns
// included. An image turn is held back and attached to the next message; an image followed by
// another image, or at the end of history, is dropped. Payloads that are not valid base64 are dropped.
func Build(turns []universalis.Turn, p adapter.Params) *api.ChatRequest {
	stream := false
	req := &api.ChatRequest{
		Model:     p.Model,
		Messages:  make([]api.Message, 0, len(turns)),
		Stream:    &stream,
		KeepAlive: &api.Duration{Duration: KeepAlive},
		Options:   map[string]any{"temperature": p.Temperature},
	}
	if p.MaxTokens > 0 {
		req.Options["num_predict"] = p.MaxTokens
	}

	var pending api.ImageData
	for _, t := range turns {
		if t.Kind == universalis.KindImage {
			data, err := base64.StdEncoding.DecodeString(t.Payload)
			if err != nil {
				pending = nil
				continue
			}
			pending = data
			continue
		}
		m := api.Message{Role: string(t.Role), Content: t.Payload}
		if pending != nil {
			m.Images = []api.ImageData{pending}
			pending = nil
		}
		req.Messages = append(req.Messages, m)
	}
	return req
}

// Normalize converts a chat response. Token counts come from the eval metrics.
func Normalize(resp *api.ChatResponse) (universalis.Response, error) {
	if resp == nil {
		return universalis.Response{}, adapter.ErrNilResponse
	}
	if resp.Message.Content == "" {
		return universalis.Response{}, adapter.ErrEmptyResponse
	}
	return universalis.Response{
		InputTokens:  int64(resp.PromptEvalCount),
		OutputTokens: int64(resp.EvalCount),
		Role:         universalis.RoleAssistant,
		Text:         universalis.Sanitize(resp.Message.Content),
	}, nil
}
