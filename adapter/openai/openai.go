package openai

import (
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"
)

// Content part types on the wire.
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ImageURL is the image_url object of an image part.
type ImageURL struct {
	URL string `json:"url"`
}

// Part is one element of a message's content array.
// Text is a pointer so that an empty text part is still emitted as "text":"".
type Part struct {
	Type     string    `json:"type"`
	Text     *string   `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Message is a chat completions message with multi-part content.
// The SDK's typed unions cannot carry image parts on assistant turns, and generated
// images are stored as assistant turns, so messages are spliced into the request body as-is.
type Message struct {
	Role    string `json:"role"`
	Content []Part `json:"content"`
}

// TextPart returns a text content part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: &text}
}

// ImagePart returns an image_url content part carrying base64 JPEG data inline.
func ImagePart(b64 string) Part {
	return Part{Type: PartImageURL, ImageURL: &ImageURL{URL: DataURL(b64)}}
}

// DataURL wraps base64 JPEG bytes in a data URL.
func DataURL(b64 string) string {
	return "data:" + adapter.ImageMIMEType + ";base64," + b64
}

// Build maps history to chat completions messages, one message per turn, roles unchanged.
// System turns get {{DAY}}/{{DATE}} expanded against p.Now.
func Build(turns []universalis.Turn, p adapter.Params) []Message {
	msgs := make([]Message, 0, len(turns))
	for _, t := range turns {
		switch t.Kind {
		case universalis.KindImage:
			msgs = append(msgs, Message{
				Role:    string(t.Role),
				Content: []Part{TextPart(""), ImagePart(t.Payload)},
			})
		default:
			text := t.Payload
			if t.Role == universalis.RoleSystem {
				text = universalis.ExpandPrompt(text, p.Now)
			}
			msgs = append(msgs, Message{
				Role:    string(t.Role),
				Content: []Part{TextPart(text)},
			})
		}
	}
	return msgs
}

// Normalize converts *openai.ChatCompletion into a universalis.Response using the first choice.
func Normalize(completion *openai.ChatCompletion) (universalis.Response, error) {
	if completion == nil {
		return universalis.Response{}, adapter.ErrNilResponse
	}
	if len(completion.Choices) == 0 {
		return universalis.Response{}, fmt.Errorf("%w: no choices", adapter.ErrEmptyResponse)
	}
	msg := completion.Choices[0].Message
	if msg.Content == "" && msg.Refusal != "" {
		return universalis.Response{}, fmt.Errorf("%w: refusal: %s", adapter.ErrEmptyResponse, msg.Refusal)
	}
	return universalis.Response{
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
		Role:         universalis.RoleAssistant,
		Text:         universalis.Sanitize(strings.TrimSpace(msg.Content)),
	}, nil
}
