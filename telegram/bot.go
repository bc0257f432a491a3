package telegram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// Commands is the command list published to Telegram clients.
var Commands = []models.BotCommand{
	{Command: "start", Description: "Show your chats"},
	{Command: "help", Description: "List commands"},
	{Command: "settings", Description: "Change provider, model and sampling"},
	{Command: "image", Description: "Generate an image in the open chat"},
	{Command: "end", Description: "Leave the open chat"},
	{Command: "delete", Description: "Delete the open chat"},
}

// UpdateHandler consumes inbound updates.
type UpdateHandler interface {
	Handle(ctx context.Context, u Update)
}

// Bot is a Messenger backed by the Telegram Bot API.
type Bot struct {
	api     *bot.Bot
	handler UpdateHandler
	logger  *zap.Logger
}

// BotOption configures NewBot.
type BotOption func(*botConfig)

type botConfig struct {
	serverURL string
	logger    *zap.Logger
}

// WithServerURL points the bot at a different Bot API server.
func WithServerURL(u string) BotOption {
	return func(c *botConfig) { c.serverURL = u }
}

// WithBotLogger sets the logger for transport errors. Default: zap.NewNop().
func WithBotLogger(l *zap.Logger) BotOption {
	return func(c *botConfig) { c.logger = l }
}

// NewBot connects to the Bot API with token. Updates are delivered once Run is called.
func NewBot(token string, opts ...BotOption) (*Bot, error) {
	cfg := botConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	b := &Bot{logger: cfg.logger}
	apiOpts := []bot.Option{
		bot.WithDefaultHandler(func(ctx context.Context, _ *bot.Bot, u *models.Update) {
			if in, ok := convert(u); ok && b.handler != nil {
				b.handler.Handle(ctx, in)
			}
		}),
		bot.WithErrorsHandler(func(err error) {
			cfg.logger.Warn("telegram transport error", zap.Error(err))
		}),
	}
	if cfg.serverURL != "" {
		apiOpts = append(apiOpts, bot.WithServerURL(cfg.serverURL))
	}
	api, err := bot.New(token, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	b.api = api
	return b, nil
}

// Run publishes the command list and passes updates to h until ctx is done.
func (b *Bot) Run(ctx context.Context, h UpdateHandler) {
	b.handler = h
	if _, err := b.api.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: Commands}); err != nil {
		b.logger.Warn("set commands failed", zap.Error(err))
	}
	b.api.Start(ctx)
}

// Send implements Messenger.
func (b *Bot) Send(ctx context.Context, chatID int64, m Message) (int, error) {
	params := &bot.SendMessageParams{ChatID: chatID, Text: m.Text}
	if m.HTML {
		params.ParseMode = models.ParseModeHTML
	}
	if kb := markup(m.Keyboard); kb != nil {
		params.ReplyMarkup = kb
	}
	msg, err := b.api.SendMessage(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("telegram: send message: %w", err)
	}
	return msg.ID, nil
}

// Edit implements Messenger.
func (b *Bot) Edit(ctx context.Context, chatID int64, messageID int, m Message) error {
	params := &bot.EditMessageTextParams{ChatID: chatID, MessageID: messageID, Text: m.Text}
	if m.HTML {
		params.ParseMode = models.ParseModeHTML
	}
	if kb := markup(m.Keyboard); kb != nil {
		params.ReplyMarkup = kb
	}
	if _, err := b.api.EditMessageText(ctx, params); err != nil {
		return fmt.Errorf("telegram: edit message: %w", err)
	}
	return nil
}

// SendPhoto implements Messenger.
func (b *Bot) SendPhoto(ctx context.Context, chatID int64, jpeg []byte, caption string) (int, error) {
	msg, err := b.api.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:    chatID,
		Photo:     &models.InputFileUpload{Filename: "image.jpg", Data: bytes.NewReader(jpeg)},
		Caption:   caption,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		return 0, fmt.Errorf("telegram: send photo: %w", err)
	}
	return msg.ID, nil
}

// Delete implements Messenger.
func (b *Bot) Delete(ctx context.Context, chatID int64, messageID int) error {
	if _, err := b.api.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: messageID}); err != nil {
		return fmt.Errorf("telegram: delete message: %w", err)
	}
	return nil
}

// Answer implements Messenger.
func (b *Bot) Answer(ctx context.Context, callbackID string) error {
	if _, err := b.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callbackID}); err != nil {
		return fmt.Errorf("telegram: answer callback: %w", err)
	}
	return nil
}

// FileURL implements Messenger.
func (b *Bot) FileURL(ctx context.Context, fileID string) (string, error) {
	f, err := b.api.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("telegram: get file: %w", err)
	}
	return b.api.FileDownloadLink(f), nil
}

func markup(kb Keyboard) *models.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]models.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		r := make([]models.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			r = append(r, models.InlineKeyboardButton{Text: btn.Text, CallbackData: btn.Data})
		}
		rows = append(rows, r)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// convert reduces a Bot API update to an Update. Updates without a user are ignored.
func convert(u *models.Update) (Update, bool) {
	switch {
	case u == nil:
		return Update{}, false
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		out := Update{
			UserID:     cq.From.ID,
			FirstName:  cq.From.FirstName,
			CallbackID: cq.ID,
			Callback:   cq.Data,
		}
		switch {
		case cq.Message.Message != nil:
			out.ChatID = cq.Message.Message.Chat.ID
			out.MessageID = cq.Message.Message.ID
		case cq.Message.InaccessibleMessage != nil:
			out.ChatID = cq.Message.InaccessibleMessage.Chat.ID
			out.MessageID = cq.Message.InaccessibleMessage.MessageID
		default:
			out.ChatID = cq.From.ID
		}
		return out, true
	case u.Message != nil && u.Message.From != nil:
		m := u.Message
		out := Update{
			ChatID:    m.Chat.ID,
			UserID:    m.From.ID,
			FirstName: m.From.FirstName,
			MessageID: m.ID,
			Text:      m.Text,
		}
		if len(m.Photo) > 0 {
			out.PhotoID = m.Photo[len(m.Photo)-1].FileID
			out.Text = m.Caption
		}
		return out, true
	default:
		return Update{}, false
	}
}

// Compile-time check that Bot implements Messenger.
var _ Messenger = (*Bot)(nil)
