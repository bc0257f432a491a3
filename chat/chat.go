package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/adapter"
	"github.com/skosovsky/universalis/sqlitestore"
)

// Title generation parameters.
const (
	TitleModel       = "gpt-4o-mini"
	TitleTemperature = 1.0
	TitleMaxTokens   = 30
	TitlePrefix      = "The user has asked: "

	// titleInputTokens bounds the first message sent for titling.
	titleInputTokens = 1000
	// fallbackTitleTokens bounds the title used when titling fails.
	fallbackTitleTokens = 10
)

// ImagePromptPrefix precedes the stored user turn of an image generation.
const ImagePromptPrefix = "Generate an image prompt: "

// PageSize is the number of conversations per page.
const PageSize = 5

// Store is the persistence the service needs.
type Store interface {
	CreateConversation(ctx context.Context, userID int64, title string) (universalis.Conversation, error)
	Conversation(ctx context.Context, id int64) (universalis.Conversation, error)
	ListConversations(ctx context.Context, userID int64, limit, offset int) ([]universalis.Conversation, error)
	CountConversations(ctx context.Context, userID int64) (int, error)
	DeleteConversation(ctx context.Context, id int64) error
	CountTurns(ctx context.Context, conversationID int64) (int, error)
	ReadTurns(ctx context.Context, conversationID int64) ([]universalis.Turn, error)
	CommitExchange(ctx context.Context, ex sqlitestore.Exchange) (universalis.Conversation, error)
	Settings(ctx context.Context, userID int64) (universalis.Settings, error)
	ImageSettings(ctx context.Context, userID int64) (universalis.ImageSettings, error)
}

// Dispatcher generates replies.
type Dispatcher interface {
	Dispatch(ctx context.Context, conversationID int64, provider universalis.Provider, p adapter.Params, pending ...universalis.Turn) (universalis.Response, error)
	Generate(ctx context.Context, provider universalis.Provider, turns []universalis.Turn, p adapter.Params) (universalis.Response, error)
}

// ImageGenerator creates an image and returns it as base64 JPEG.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, s universalis.ImageSettings) (string, error)
}

// Reply is the outcome of one user message.
type Reply struct {
	// Conversation carries the cumulative token totals after the exchange.
	Conversation universalis.Conversation
	Response     universalis.Response
	// AwaitingCaption is set when a photo was stored without a question; no provider was called.
	AwaitingCaption bool
}

// Page is one page of a user's conversations. Index is zero-based.
type Page struct {
	Items []universalis.Conversation
	Index int
	Pages int
	Total int
}

// Service runs the chat workflows. Work on one conversation is serialized;
// different conversations proceed in parallel.
type Service struct {
	store       Store
	dispatcher  Dispatcher
	images      ImageGenerator
	titlePrompt string
	counter     universalis.TokenCounter
	locks       *keyedMutex
	logger      *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithImageGenerator enables GenerateImage.
func WithImageGenerator(g ImageGenerator) Option {
	return func(s *Service) { s.images = g }
}

// WithTitlePrompt sets the system prompt used to title new conversations.
func WithTitlePrompt(p string) Option {
	return func(s *Service) { s.titlePrompt = p }
}

// WithTokenCounter sets the counter used to truncate titling input. Default: CharFallbackCounter.
func WithTokenCounter(c universalis.TokenCounter) Option {
	return func(s *Service) { s.counter = c }
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// ErrImagesDisabled is returned by GenerateImage when no generator is configured.
var ErrImagesDisabled = errors.New("chat: image generation is not configured")

// New returns a Service.
func New(store Store, dispatcher Dispatcher, opts ...Option) *Service {
	s := &Service{
		store:      store,
		dispatcher: dispatcher,
		counter:    &universalis.CharFallbackCounter{},
		locks:      newKeyedMutex(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send answers a text message in conversation convID.
func (s *Service) Send(ctx context.Context, userID, convID int64, text string) (Reply, error) {
	unlock := s.locks.Lock(convID)
	defer unlock()

	settings, err := s.ownedSettings(ctx, userID, convID)
	if err != nil {
		return Reply{}, err
	}
	pending, err := s.openingTurns(ctx, convID, settings)
	if err != nil {
		return Reply{}, err
	}
	pending = append(pending, universalis.TextTurn(universalis.RoleUser, text))
	return s.exchange(ctx, convID, settings, text, pending)
}

// SendPhoto stores or answers a photo. The active model must accept images. Without a caption
// the image is only stored and the reply has AwaitingCaption set; with one, the caption is
// asked about the image.
func (s *Service) SendPhoto(ctx context.Context, userID, convID int64, imageB64, caption string) (Reply, error) {
	unlock := s.locks.Lock(convID)
	defer unlock()

	settings, err := s.ownedSettings(ctx, userID, convID)
	if err != nil {
		return Reply{}, err
	}
	if !universalis.IsVisionModel(settings.Model) {
		return Reply{}, fmt.Errorf("%w: %s", universalis.ErrNotVisionModel, settings.Model)
	}
	pending, err := s.openingTurns(ctx, convID, settings)
	if err != nil {
		return Reply{}, err
	}
	pending = append(pending, universalis.ImageTurn(universalis.RoleUser, imageB64))

	if strings.TrimSpace(caption) == "" {
		conv, err := s.store.CommitExchange(ctx, sqlitestore.Exchange{ConversationID: convID, Turns: pending})
		if err != nil {
			return Reply{}, err
		}
		return Reply{Conversation: conv, AwaitingCaption: true}, nil
	}
	pending = append(pending, universalis.TextTurn(universalis.RoleUser, caption))
	return s.exchange(ctx, convID, settings, caption, pending)
}

// StartConversation creates a conversation titled after firstMessage.
func (s *Service) StartConversation(ctx context.Context, userID int64, firstMessage string) (universalis.Conversation, error) {
	title := s.title(ctx, firstMessage)
	conv, err := s.store.CreateConversation(ctx, userID, title)
	if err != nil {
		return universalis.Conversation{}, err
	}
	s.logger.Info("conversation started", zap.Int64("user_id", userID), zap.Int64("conversation_id", conv.ID))
	return conv, nil
}

// GenerateImage creates an image from prompt with the user's image settings and records the
// request and the image in the conversation.
func (s *Service) GenerateImage(ctx context.Context, userID, convID int64, prompt string) (string, error) {
	if s.images == nil {
		return "", ErrImagesDisabled
	}
	unlock := s.locks.Lock(convID)
	defer unlock()

	settings, err := s.ownedSettings(ctx, userID, convID)
	if err != nil {
		return "", err
	}
	imgSettings, err := s.store.ImageSettings(ctx, userID)
	if err != nil {
		return "", err
	}
	img, err := s.images.GenerateImage(ctx, prompt, imgSettings)
	if err != nil {
		return "", universalis.CallFailed(universalis.ProviderOpenAI, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	turns, err := s.openingTurns(ctx, convID, settings)
	if err != nil {
		return "", err
	}
	turns = append(turns,
		universalis.TextTurn(universalis.RoleUser, ImagePromptPrefix+prompt),
		universalis.ImageTurn(universalis.RoleAssistant, img),
	)
	if _, err := s.store.CommitExchange(ctx, sqlitestore.Exchange{ConversationID: convID, Turns: turns}); err != nil {
		return "", err
	}
	return img, nil
}

// Delete removes a conversation owned by userID.
func (s *Service) Delete(ctx context.Context, userID, convID int64) error {
	unlock := s.locks.Lock(convID)
	defer unlock()

	if _, err := s.owned(ctx, userID, convID); err != nil {
		return err
	}
	return s.store.DeleteConversation(ctx, convID)
}

// Conversation returns a conversation owned by userID.
func (s *Service) Conversation(ctx context.Context, userID, convID int64) (universalis.Conversation, error) {
	return s.owned(ctx, userID, convID)
}

// History returns the visible turns of a conversation owned by userID, oldest first.
// System turns are left out.
func (s *Service) History(ctx context.Context, userID, convID int64) ([]universalis.Turn, error) {
	if _, err := s.owned(ctx, userID, convID); err != nil {
		return nil, err
	}
	turns, err := s.store.ReadTurns(ctx, convID)
	if err != nil {
		return nil, err
	}
	out := turns[:0]
	for _, t := range turns {
		if t.Role != universalis.RoleSystem {
			out = append(out, t)
		}
	}
	return out, nil
}

// Conversations returns page index (zero-based) of userID's conversations, newest first.
// An index past the end is clamped to the last page.
func (s *Service) Conversations(ctx context.Context, userID int64, index int) (Page, error) {
	total, err := s.store.CountConversations(ctx, userID)
	if err != nil {
		return Page{}, err
	}
	pages := max(1, (total+PageSize-1)/PageSize)
	index = min(max(index, 0), pages-1)
	items, err := s.store.ListConversations(ctx, userID, PageSize, index*PageSize)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Index: index, Pages: pages, Total: total}, nil
}

func (s *Service) exchange(ctx context.Context, convID int64, settings universalis.Settings, userMessage string, pending []universalis.Turn) (Reply, error) {
	resp, err := s.dispatcher.Dispatch(ctx, convID, settings.Provider, params(settings, userMessage), pending...)
	if err != nil {
		return Reply{}, err
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	pending = append(pending, universalis.TextTurn(universalis.RoleAssistant, resp.Text))
	conv, err := s.store.CommitExchange(ctx, sqlitestore.Exchange{
		ConversationID: convID,
		Turns:          pending,
		InputTokens:    resp.InputTokens,
		OutputTokens:   resp.OutputTokens,
	})
	if err != nil {
		return Reply{}, err
	}
	return Reply{Conversation: conv, Response: resp}, nil
}

// openingTurns returns the system turn that opens an empty conversation, or nothing.
func (s *Service) openingTurns(ctx context.Context, convID int64, settings universalis.Settings) ([]universalis.Turn, error) {
	n, err := s.store.CountTurns(ctx, convID)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, nil
	}
	return []universalis.Turn{universalis.TextTurn(universalis.RoleSystem, settings.SystemPrompt)}, nil
}

func (s *Service) owned(ctx context.Context, userID, convID int64) (universalis.Conversation, error) {
	conv, err := s.store.Conversation(ctx, convID)
	if err != nil {
		return universalis.Conversation{}, err
	}
	if conv.UserID != userID {
		return universalis.Conversation{}, fmt.Errorf("%w: %d", universalis.ErrConversationNotFound, convID)
	}
	return conv, nil
}

func (s *Service) ownedSettings(ctx context.Context, userID, convID int64) (universalis.Settings, error) {
	if _, err := s.owned(ctx, userID, convID); err != nil {
		return universalis.Settings{}, err
	}
	return s.store.Settings(ctx, userID)
}

func (s *Service) title(ctx context.Context, message string) string {
	input, err := universalis.TruncateTokens(s.counter, message, titleInputTokens)
	if err != nil {
		input = message
	}
	turns := []universalis.Turn{
		universalis.TextTurn(universalis.RoleSystem, s.titlePrompt),
		universalis.TextTurn(universalis.RoleUser, TitlePrefix+input),
	}
	resp, err := s.dispatcher.Generate(ctx, universalis.ProviderOpenAI, turns, adapter.Params{
		Model:        TitleModel,
		Temperature:  TitleTemperature,
		MaxTokens:    TitleMaxTokens,
		N:            1,
		SystemPrompt: s.titlePrompt,
	})
	if err == nil {
		if t := cleanTitle(resp.Text); t != "" {
			return t
		}
	} else {
		s.logger.Warn("title generation failed, using message prefix", zap.Error(err))
	}
	fallback, err := universalis.TruncateTokens(s.counter, strings.TrimSpace(message), fallbackTitleTokens)
	if err != nil || fallback == "" {
		return "New chat"
	}
	return fallback
}

func cleanTitle(t string) string {
	return strings.Trim(strings.TrimSpace(t), `"'`)
}

func params(st universalis.Settings, userMessage string) adapter.Params {
	return adapter.Params{
		Model:        st.Model,
		Temperature:  st.Temperature,
		MaxTokens:    st.MaxTokens,
		N:            st.N,
		SystemPrompt: st.SystemPrompt,
		UserMessage:  userMessage,
	}
}
