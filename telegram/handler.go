package telegram

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/chat"
	"github.com/skosovsky/universalis/render"
)

// DefaultBotName is the heading of assistant replies.
const DefaultBotName = "Universalis"

// User-facing messages.
const (
	workingText      = "Working hard..."
	slowDownText     = "You are sending messages too fast. Wait a moment and try again."
	noChatText       = "Open a chat first. Type /start to see your chats."
	awaitCaptionText = "Photo received. Ask your question about it."
	exitText         = "Type /start to start again"
	genericErrorText = "Something went wrong. Please try again."
)

// ChatService runs the chat workflows.
type ChatService interface {
	Send(ctx context.Context, userID, convID int64, text string) (chat.Reply, error)
	SendPhoto(ctx context.Context, userID, convID int64, imageB64, caption string) (chat.Reply, error)
	StartConversation(ctx context.Context, userID int64, firstMessage string) (universalis.Conversation, error)
	GenerateImage(ctx context.Context, userID, convID int64, prompt string) (string, error)
	Delete(ctx context.Context, userID, convID int64) error
	Conversation(ctx context.Context, userID, convID int64) (universalis.Conversation, error)
	Conversations(ctx context.Context, userID int64, index int) (chat.Page, error)
	History(ctx context.Context, userID, convID int64) ([]universalis.Turn, error)
}

// SettingsStore holds user preferences and the whitelist.
type SettingsStore interface {
	Settings(ctx context.Context, userID int64) (universalis.Settings, error)
	UpdateSettings(ctx context.Context, st universalis.Settings) error
	ResetSettings(ctx context.Context, userID int64) (universalis.Settings, error)
	ImageSettings(ctx context.Context, userID int64) (universalis.ImageSettings, error)
	UpdateImageSettings(ctx context.Context, st universalis.ImageSettings) error
	AddUser(ctx context.Context, userID int64) (bool, error)
	IsAllowed(ctx context.Context, userID int64) (bool, error)
}

// ModelCatalog lists the configured providers and the models each offers.
type ModelCatalog interface {
	Providers() []universalis.Provider
	Models(ctx context.Context, p universalis.Provider) ([]string, error)
}

// PhotoFetcher downloads an image and returns it as base64 JPEG.
type PhotoFetcher interface {
	FetchJPEG(ctx context.Context, rawURL string) (string, error)
}

// Handler turns updates into chat service calls and menu screens.
type Handler struct {
	msgr     Messenger
	chats    ChatService
	store    SettingsStore
	catalog  ModelCatalog
	photos   PhotoFetcher
	renderer *render.Renderer
	botName  string
	adminID  int64
	limits   *limiter
	sessions *sessions
	logger   *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithBotName sets the heading of assistant replies. Default: DefaultBotName.
func WithBotName(name string) Option {
	return func(h *Handler) {
		if name != "" {
			h.botName = name
		}
	}
}

// WithAdmin sets the user allowed to run /adduser. The admin always passes the whitelist.
func WithAdmin(userID int64) Option {
	return func(h *Handler) { h.adminID = userID }
}

// WithRateLimit allows each user perSecond updates with bursts of burst. Zero disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(h *Handler) { h.limits = newLimiter(perSecond, burst) }
}

// WithPhotoFetcher enables photo messages.
func WithPhotoFetcher(f PhotoFetcher) Option {
	return func(h *Handler) { h.photos = f }
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler returns a Handler that replies through msgr.
func NewHandler(msgr Messenger, chats ChatService, store SettingsStore, catalog ModelCatalog, opts ...Option) *Handler {
	h := &Handler{
		msgr:     msgr,
		chats:    chats,
		store:    store,
		catalog:  catalog,
		renderer: render.New(),
		botName:  DefaultBotName,
		limits:   newLimiter(0, 1),
		sessions: newSessions(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// request is one update in flight.
type request struct {
	Update
	sess *session
	log  *zap.Logger
}

// Handle processes one update. Updates of one user are handled in arrival order;
// different users proceed in parallel.
func (h *Handler) Handle(ctx context.Context, u Update) {
	log := h.logger.With(zap.String("request_id", uuid.NewString()), zap.Int64("user_id", u.UserID))
	if u.CallbackID != "" {
		defer func() {
			if err := h.msgr.Answer(ctx, u.CallbackID); err != nil {
				log.Debug("answer callback failed", zap.Error(err))
			}
		}()
	}

	allowed, err := h.allowed(ctx, u.UserID)
	if err != nil {
		log.Error("whitelist lookup failed", zap.Error(err))
		return
	}
	if !allowed {
		log.Info("rejected user outside whitelist")
		h.send(ctx, u.ChatID, Message{
			Text: fmt.Sprintf("Hey! You are not allowed to use me! Ask the admin to add your user id: <code>%d</code>", u.UserID),
			HTML: true,
		})
		return
	}
	if !h.limits.allow(u.UserID) {
		log.Info("rate limited")
		h.send(ctx, u.ChatID, Message{Text: slowDownText})
		return
	}

	sess, release := h.sessions.acquire(u.UserID)
	defer release()
	r := &request{Update: u, sess: sess, log: log.With(zap.Stringer("state", sess.state))}

	switch name, args, isCmd := u.Command(); {
	case u.Callback != "":
		err = h.onCallback(ctx, r)
	case isCmd:
		err = h.onCommand(ctx, r, name, args)
	case u.PhotoID != "":
		err = h.onPhoto(ctx, r)
	default:
		err = h.onText(ctx, r)
	}
	if err != nil {
		h.fail(ctx, r, err)
	}
}

func (h *Handler) allowed(ctx context.Context, userID int64) (bool, error) {
	if h.adminID != 0 && userID == h.adminID {
		return true, nil
	}
	return h.store.IsAllowed(ctx, userID)
}

func (h *Handler) onCommand(ctx context.Context, r *request, name, args string) error {
	switch name {
	case "start":
		h.cleanup(ctx, r)
		r.sess.reset()
		return h.showChats(ctx, r, false)
	case "help":
		return h.showHelp(ctx, r, false)
	case "settings":
		r.sess.state = stateMenu
		return h.showSettings(ctx, r, false)
	case "image":
		return h.generateImage(ctx, r, args)
	case "end":
		if r.sess.state != stateChatting {
			h.reply(ctx, r, Message{Text: noChatText})
			return nil
		}
		r.sess.reset()
		h.reply(ctx, r, Message{Text: "Chat ended. Returning to chat selection."})
		return h.showChats(ctx, r, false)
	case "delete":
		return h.deleteChat(ctx, r)
	case "adduser":
		return h.addUser(ctx, r, args)
	default:
		h.reply(ctx, r, Message{Text: "Unknown command. Type /help to see what I can do."})
		return nil
	}
}

func (h *Handler) onText(ctx context.Context, r *request) error {
	switch r.sess.state {
	case stateNewChat:
		conv, err := h.chats.StartConversation(ctx, r.UserID, r.Text)
		if err != nil {
			return err
		}
		r.sess.state = stateChatting
		r.sess.conv = conv
		r.log.Info("conversation opened", zap.Int64("conversation_id", conv.ID))
		return h.converse(ctx, r)
	case stateChatting:
		return h.converse(ctx, r)
	case stateTemperature, stateMaxTokens, stateN, stateSystemPrompt:
		return h.applySetting(ctx, r)
	default:
		h.reply(ctx, r, Message{Text: noChatText})
		return nil
	}
}

// converse answers a text message in the open conversation.
func (h *Handler) converse(ctx context.Context, r *request) error {
	placeholder, err := h.msgr.Send(ctx, r.ChatID, Message{Text: workingText})
	if err != nil {
		return err
	}
	reply, err := h.chats.Send(ctx, r.UserID, r.sess.conv.ID, r.Text)
	if err != nil {
		return h.replyError(ctx, r, placeholder, err)
	}
	r.sess.conv = reply.Conversation
	h.deliver(ctx, r, placeholder, reply)
	return nil
}

func (h *Handler) onPhoto(ctx context.Context, r *request) error {
	if r.sess.state != stateChatting {
		h.reply(ctx, r, Message{Text: noChatText})
		return nil
	}
	if h.photos == nil {
		h.reply(ctx, r, Message{Text: "Photos are not supported here."})
		return nil
	}
	link, err := h.msgr.FileURL(ctx, r.PhotoID)
	if err != nil {
		return err
	}
	img, err := h.photos.FetchJPEG(ctx, link)
	if err != nil {
		return err
	}
	placeholder, err := h.msgr.Send(ctx, r.ChatID, Message{Text: workingText})
	if err != nil {
		return err
	}
	reply, err := h.chats.SendPhoto(ctx, r.UserID, r.sess.conv.ID, img, r.Text)
	if err != nil {
		return h.replyError(ctx, r, placeholder, err)
	}
	r.sess.conv = reply.Conversation
	if reply.AwaitingCaption {
		return h.msgr.Edit(ctx, r.ChatID, placeholder, Message{Text: awaitCaptionText})
	}
	h.deliver(ctx, r, placeholder, reply)
	return nil
}

// deliver replaces the placeholder with the first part of the reply and sends the rest.
// A part Telegram rejects as HTML is sent again as plain text.
func (h *Handler) deliver(ctx context.Context, r *request, placeholder int, reply chat.Reply) {
	body, err := h.renderer.TelegramHTML(reply.Response.Text)
	if err != nil {
		r.log.Warn("render failed, escaping reply", zap.Error(err))
		body = render.Escape(reply.Response.Text)
	}
	parts := render.Reply(h.botName, body, render.Usage{
		Input:       reply.Response.InputTokens,
		Output:      reply.Response.OutputTokens,
		TotalInput:  reply.Conversation.InputTokens,
		TotalOutput: reply.Conversation.OutputTokens,
	})
	for i, part := range parts {
		m := Message{Text: part, HTML: true}
		if i == 0 {
			err = h.msgr.Edit(ctx, r.ChatID, placeholder, m)
		} else {
			_, err = h.msgr.Send(ctx, r.ChatID, m)
		}
		if err == nil {
			continue
		}
		r.log.Warn("formatted reply rejected, sending plain text", zap.Error(err))
		h.sendPlain(ctx, r, placeholder, i == 0, reply.Response.Text)
		return
	}
}

func (h *Handler) sendPlain(ctx context.Context, r *request, placeholder int, editFirst bool, text string) {
	const prefix = "Message unable to format properly:\n"
	for i, part := range render.Split(text, render.MaxMessageRunes-len(prefix)) {
		m := Message{Text: part}
		if i == 0 {
			m.Text = prefix + part
		}
		var err error
		if i == 0 && editFirst {
			err = h.msgr.Edit(ctx, r.ChatID, placeholder, m)
		} else {
			_, err = h.msgr.Send(ctx, r.ChatID, m)
		}
		if err != nil {
			r.log.Error("plain reply failed", zap.Error(err))
			return
		}
	}
}

func (h *Handler) generateImage(ctx context.Context, r *request, prompt string) error {
	if r.sess.state != stateChatting {
		h.reply(ctx, r, Message{Text: noChatText})
		return nil
	}
	if prompt == "" {
		h.reply(ctx, r, Message{Text: "Usage: /image <prompt>"})
		return nil
	}
	placeholder, err := h.msgr.Send(ctx, r.ChatID, Message{Text: "Drawing..."})
	if err != nil {
		return err
	}
	b64, err := h.chats.GenerateImage(ctx, r.UserID, r.sess.conv.ID, prompt)
	if err != nil {
		return h.replyError(ctx, r, placeholder, err)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("telegram: decode generated image: %w", err)
	}
	if err := h.msgr.Delete(ctx, r.ChatID, placeholder); err != nil {
		r.log.Debug("delete placeholder failed", zap.Error(err))
	}
	_, err = h.msgr.SendPhoto(ctx, r.ChatID, raw, "")
	return err
}

func (h *Handler) deleteChat(ctx context.Context, r *request) error {
	if r.sess.state != stateChatting {
		h.reply(ctx, r, Message{Text: noChatText})
		return nil
	}
	conv := r.sess.conv
	if err := h.chats.Delete(ctx, r.UserID, conv.ID); err != nil {
		return err
	}
	r.log.Info("conversation deleted", zap.Int64("conversation_id", conv.ID))
	r.sess.reset()
	h.reply(ctx, r, Message{Text: fmt.Sprintf("Chat %q deleted successfully!", conv.Title)})
	h.cleanup(ctx, r)
	return h.showChats(ctx, r, false)
}

func (h *Handler) addUser(ctx context.Context, r *request, args string) error {
	if h.adminID == 0 || r.UserID != h.adminID {
		h.reply(ctx, r, Message{Text: "Only the admin can add users."})
		return nil
	}
	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil || id <= 0 {
		h.reply(ctx, r, Message{Text: "Usage: /adduser <telegram user id>"})
		return nil
	}
	added, err := h.store.AddUser(ctx, id)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("User <code>%d</code> added.", id)
	if !added {
		text = fmt.Sprintf("User <code>%d</code> is already whitelisted.", id)
	}
	r.log.Info("whitelist updated", zap.Int64("added_user_id", id), zap.Bool("new", added))
	h.reply(ctx, r, Message{Text: text, HTML: true})
	return nil
}

// replyError shows err in place of the placeholder. Provider failures are reported to the
// user and are not handler errors.
func (h *Handler) replyError(ctx context.Context, r *request, placeholder int, err error) error {
	var pe *universalis.ProviderError
	var text string
	switch {
	case errors.As(err, &pe):
		r.log.Warn("provider failed", zap.String("provider", string(pe.Provider)), zap.String("op", pe.Op), zap.Error(err))
		text = render.Error(h.botName, pe.Provider, pe.Err)
	case errors.Is(err, universalis.ErrNotVisionModel):
		text = "The current model cannot read images. Pick a vision model in /settings."
	case errors.Is(err, universalis.ErrConversationNotFound):
		r.sess.reset()
		text = "This chat no longer exists. Type /start to pick another one."
	case errors.Is(err, chat.ErrImagesDisabled):
		text = "Image generation is not available."
	default:
		return err
	}
	if editErr := h.msgr.Edit(ctx, r.ChatID, placeholder, Message{Text: text, HTML: true}); editErr != nil {
		r.log.Warn("error reply failed", zap.Error(editErr))
	}
	return nil
}

func (h *Handler) fail(ctx context.Context, r *request, err error) {
	if errors.Is(err, context.Canceled) {
		r.log.Info("update abandoned", zap.Error(err))
		return
	}
	r.log.Error("update failed", zap.Error(err))
	h.send(ctx, r.ChatID, Message{Text: genericErrorText})
}

// reply sends m and tracks it for cleanup.
func (h *Handler) reply(ctx context.Context, r *request, m Message) {
	id := h.send(ctx, r.ChatID, m)
	r.sess.track(id)
}

func (h *Handler) send(ctx context.Context, chatID int64, m Message) int {
	id, err := h.msgr.Send(ctx, chatID, m)
	if err != nil {
		h.logger.Warn("send failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return 0
	}
	return id
}

// cleanup deletes the menu messages sent since the last cleanup.
func (h *Handler) cleanup(ctx context.Context, r *request) {
	for _, id := range r.sess.sent {
		if err := h.msgr.Delete(ctx, r.ChatID, id); err != nil {
			r.log.Debug("delete message failed", zap.Int("message_id", id), zap.Error(err))
		}
	}
	r.sess.sent = nil
}

// Compile-time check that Handler can be driven by Bot.
var _ UpdateHandler = (*Handler)(nil)
