package anthropic

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"
)

// FillerText is the content of a message inserted only to keep user/assistant alternation.
const FillerText = "Ignore this message"

// Build maps history to Messages API params. System turns are skipped; the system prompt
// travels separately. An image turn is held back and sent together with the next turn;
// an image with nothing after it is dropped. Consecutive messages of the same role are
// separated by a FillerText message of the opposite role.
func Build(turns []universalis.Turn, _ adapter.Params) []anthropic.MessageParam {
	var (
		msgs    []anthropic.MessageParam
		last    universalis.Role
		image   string
		pending bool
	)
	emit := func(role universalis.Role, blocks ...anthropic.ContentBlockParamUnion) {
		if len(msgs) > 0 && last == role {
			msgs = append(msgs, message(role.Opposite(), anthropic.NewTextBlock(FillerText)))
		}
		msgs = append(msgs, message(role, blocks...))
		last = role
	}
	for _, t := range turns {
		if t.Role == universalis.RoleSystem {
			continue
		}
		if t.Kind == universalis.KindImage {
			image, pending = t.Payload, true
			continue
		}
		if pending {
			emit(t.Role, anthropic.NewImageBlockBase64(adapter.ImageMIMEType, image), anthropic.NewTextBlock(t.Payload))
			image, pending = "", false
			continue
		}
		emit(t.Role, anthropic.NewTextBlock(t.Payload))
	}
	return msgs
}

func message(role universalis.Role, blocks ...anthropic.ContentBlockParamUnion) anthropic.MessageParam {
	if role == universalis.RoleAssistant {
		return anthropic.NewAssistantMessage(blocks...)
	}
	return anthropic.NewUserMessage(blocks...)
}

// Normalize converts *anthropic.Message into a universalis.Response using the first text block.
func Normalize(msg *anthropic.Message) (universalis.Response, error) {
	if msg == nil {
		return universalis.Response{}, adapter.ErrNilResponse
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return universalis.Response{
				InputTokens:  msg.Usage.InputTokens,
				OutputTokens: msg.Usage.OutputTokens,
				Role:         universalis.RoleAssistant,
				Text:         universalis.Sanitize(block.Text),
			}, nil
		}
	}
	return universalis.Response{}, fmt.Errorf("%w: no text block", adapter.ErrEmptyResponse)
}
