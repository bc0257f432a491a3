package telegram

import (
	"context"
	"strings"
)

// Button is one inline keyboard button. Data is returned in the callback when it is pressed.
type Button struct {
	Text string
	Data string
}

// Keyboard is an inline keyboard, one slice per row.
type Keyboard [][]Button

// Message is an outgoing text message.
type Message struct {
	Text     string
	HTML     bool
	Keyboard Keyboard
}

// Messenger is the chat transport the handler talks to.
type Messenger interface {
	// Send posts m to chatID and returns the new message id.
	Send(ctx context.Context, chatID int64, m Message) (int, error)
	// Edit replaces the text and keyboard of an earlier message.
	Edit(ctx context.Context, chatID int64, messageID int, m Message) error
	// SendPhoto posts a JPEG image.
	SendPhoto(ctx context.Context, chatID int64, jpeg []byte, caption string) (int, error)
	Delete(ctx context.Context, chatID int64, messageID int) error
	// Answer acknowledges a callback query so the client stops its spinner.
	Answer(ctx context.Context, callbackID string) error
	// FileURL resolves an uploaded file id to a download URL.
	FileURL(ctx context.Context, fileID string) (string, error)
}

// Update is one inbound event, reduced to the fields the handler uses.
type Update struct {
	ChatID    int64
	UserID    int64
	FirstName string
	MessageID int
	// Text is the message text, or the caption of a photo.
	Text string
	// PhotoID is the file id of the largest size of an attached photo.
	PhotoID string
	// CallbackID and Callback are set when an inline button was pressed.
	CallbackID string
	Callback   string
}

// Command splits a "/name args" message. The optional "@bot" suffix of the name is dropped.
func (u Update) Command() (name, args string, ok bool) {
	if u.Callback != "" || !strings.HasPrefix(u.Text, "/") {
		return "", "", false
	}
	name, args, _ = strings.Cut(u.Text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), strings.TrimSpace(args), name != ""
}
