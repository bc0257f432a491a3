package telegram

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/skosovsky/universalis"
	"github.com/skosovsky/universalis/render"
)

// Callback data of the inline buttons. Parameterized callbacks append ":<value>".
const (
	cbNoop        = "noop"
	cbChats       = "chats"
	cbNew         = "new"
	cbOpen        = "open"
	cbHelp        = "help"
	cbExit        = "exit"
	cbSettings    = "settings"
	cbProviders   = "set:provider"
	cbProvider    = "provider"
	cbModel       = "model"
	cbTemperature = "set:temperature"
	cbMaxTokens   = "set:max_tokens"
	cbN           = "set:n"
	cbPrompt      = "set:prompt"
	cbReset       = "reset"
	cbImage       = "img"
	cbImageModels = "img:model"
	cbImageModel  = "imgmodel"
	cbImageSizes  = "img:size"
	cbImageSize   = "imgsize"
)

// maxCallbackData is Telegram's limit on callback data, in bytes.
const maxCallbackData = 64

// columns is the width of model and size pickers.
const columns = 2

const helpText = "<b><u>Help</u></b>\n" +
	"Here are the available commands:\n" +
	"/start - Brings you to the starting menu\n" +
	"/help - Brings you here\n" +
	"/settings - Enter the settings menu\n" +
	"/image [prompt] - Generates an image (only in a conversation)\n" +
	"/end - Ends the current conversation (only in a conversation)\n" +
	"/delete - Deletes the current conversation (only in a conversation)\n\n" +
	"Send a photo with a question to ask about it when the model supports images."

func (h *Handler) onCallback(ctx context.Context, r *request) error {
	action, value, _ := strings.Cut(r.Callback, ":")
	switch r.Callback {
	case cbNoop:
		return nil
	case cbChats:
		return h.showChats(ctx, r, true)
	case cbNew:
		r.sess.state = stateNewChat
		r.sess.conv = universalis.Conversation{}
		return h.show(ctx, r, true, Message{Text: "<u>How can " + render.Escape(h.botName) + " help you today?</u>", HTML: true})
	case cbHelp:
		return h.showHelp(ctx, r, true)
	case cbExit:
		h.cleanup(ctx, r)
		r.sess.reset()
		h.reply(ctx, r, Message{Text: exitText})
		return nil
	case cbSettings:
		r.sess.resume()
		return h.showSettings(ctx, r, true)
	case cbProviders:
		return h.showProviders(ctx, r)
	case cbTemperature, cbMaxTokens, cbN, cbPrompt:
		return h.askSetting(ctx, r)
	case cbReset:
		if _, err := h.store.ResetSettings(ctx, r.UserID); err != nil {
			return err
		}
		r.log.Info("settings reset")
		return h.showSettings(ctx, r, true)
	case cbImage:
		return h.showImageSettings(ctx, r)
	case cbImageModels:
		return h.showImageModels(ctx, r)
	case cbImageSizes:
		return h.showImageSizes(ctx, r)
	}

	switch action {
	case cbChats:
		page, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("telegram: bad page %q: %w", value, err)
		}
		r.sess.page = page
		return h.showChats(ctx, r, true)
	case cbOpen:
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("telegram: bad conversation id %q: %w", value, err)
		}
		return h.openChat(ctx, r, id)
	case cbProvider:
		p, err := universalis.ParseProvider(value)
		if err != nil {
			return err
		}
		return h.showModels(ctx, r, p)
	case cbModel:
		provider, model, ok := strings.Cut(value, ":")
		if !ok {
			return fmt.Errorf("telegram: bad model choice %q", value)
		}
		return h.selectModel(ctx, r, universalis.Provider(provider), model)
	case cbImageModel:
		return h.updateImageSettings(ctx, r, func(s universalis.ImageSettings) (universalis.ImageSettings, error) {
			return s.WithModel(value)
		})
	case cbImageSize:
		return h.updateImageSettings(ctx, r, func(s universalis.ImageSettings) (universalis.ImageSettings, error) {
			return s.WithSize(value)
		})
	}
	r.log.Warn("unknown callback", zap.String("data", r.Callback))
	return nil
}

// show edits the message the button belongs to, or sends m as a new tracked message.
func (h *Handler) show(ctx context.Context, r *request, edit bool, m Message) error {
	if edit && r.MessageID > 0 {
		err := h.msgr.Edit(ctx, r.ChatID, r.MessageID, m)
		if err == nil {
			return nil
		}
		r.log.Debug("edit failed, sending a new message", zap.Error(err))
	}
	id, err := h.msgr.Send(ctx, r.ChatID, m)
	if err != nil {
		return err
	}
	r.sess.track(id)
	return nil
}

func (h *Handler) showChats(ctx context.Context, r *request, edit bool) error {
	page, err := h.chats.Conversations(ctx, r.UserID, r.sess.page)
	if err != nil {
		return err
	}
	r.sess.page = page.Index

	var kb Keyboard
	for _, c := range page.Items {
		kb = append(kb, []Button{{Text: "💬 " + c.Title, Data: cbOpen + ":" + strconv.FormatInt(c.ID, 10)}})
	}
	if page.Pages > 1 {
		var nav []Button
		if page.Index > 0 {
			nav = append(nav, Button{Text: "«", Data: cbChats + ":" + strconv.Itoa(page.Index-1)})
		}
		nav = append(nav, Button{Text: fmt.Sprintf("%d/%d", page.Index+1, page.Pages), Data: cbNoop})
		if page.Index < page.Pages-1 {
			nav = append(nav, Button{Text: "»", Data: cbChats + ":" + strconv.Itoa(page.Index+1)})
		}
		kb = append(kb, nav)
	}
	kb = append(kb,
		[]Button{{Text: "🆕 New Chat", Data: cbNew}},
		[]Button{{Text: "⚙️ Settings", Data: cbSettings}},
		[]Button{{Text: "❓ Help", Data: cbHelp}},
		[]Button{{Text: "🚫 Exit", Data: cbExit}},
	)

	prompt := "<u>Create a new chat</u>:"
	if page.Total > 0 {
		prompt = "<u>Select a chat or create a new one</u>:"
	}
	name := r.FirstName
	if name == "" {
		name = "there"
	}
	text := fmt.Sprintf("<b><u>Hello %s</u></b>! Welcome to <b>%s</b>, I am here to answer your questions about anything.\n\n%s",
		render.Escape(name), render.Escape(h.botName), prompt)
	return h.show(ctx, r, edit, Message{Text: text, HTML: true, Keyboard: kb})
}

func (h *Handler) showHelp(ctx context.Context, r *request, edit bool) error {
	return h.show(ctx, r, edit, Message{Text: helpText, HTML: true, Keyboard: Keyboard{{{Text: "Start", Data: cbChats}}}})
}

func (h *Handler) openChat(ctx context.Context, r *request, id int64) error {
	conv, err := h.chats.Conversation(ctx, r.UserID, id)
	if errors.Is(err, universalis.ErrConversationNotFound) {
		return h.showChats(ctx, r, true)
	}
	if err != nil {
		return err
	}
	turns, err := h.chats.History(ctx, r.UserID, id)
	if err != nil {
		return err
	}
	r.sess.state = stateChatting
	r.sess.conv = conv
	r.log.Info("conversation opened", zap.Int64("conversation_id", id))

	if err := h.show(ctx, r, true, Message{Text: fmt.Sprintf("You are now chatting in: <b>%s</b>!", render.Escape(conv.Title)), HTML: true}); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	for _, t := range turns {
		h.replay(ctx, r, t)
	}
	h.reply(ctx, r, Message{
		Text: fmt.Sprintf("Continue messaging or /end to safely exit or /delete to delete this conversation.\nCurrent usage of tokens (I/O): <code>%d</code> / <code>%d</code>",
			conv.InputTokens, conv.OutputTokens),
		HTML: true,
	})
	return nil
}

// replay shows one stored turn. Failures are logged and the replay goes on.
func (h *Handler) replay(ctx context.Context, r *request, t universalis.Turn) {
	author := "You"
	if t.Role == universalis.RoleAssistant {
		author = h.botName
	}
	heading := "<u><b>" + render.Escape(author) + "</b></u>:\n"

	if t.Kind == universalis.KindImage {
		raw, err := base64.StdEncoding.DecodeString(t.Payload)
		if err == nil {
			var id int
			if id, err = h.msgr.SendPhoto(ctx, r.ChatID, raw, heading); err == nil {
				r.sess.track(id)
				return
			}
		}
		r.log.Warn("replay image failed", zap.Error(err))
		h.reply(ctx, r, Message{Text: "Error sending the image"})
		return
	}

	body := render.Escape(t.Payload)
	if t.Role == universalis.RoleAssistant {
		if html, err := h.renderer.TelegramHTML(t.Payload); err == nil {
			body = html
		}
	}
	budget := render.MaxMessageRunes - utf8.RuneCountInString(heading)
	for i, part := range render.Split(body, budget) {
		if i == 0 {
			part = heading + part
		}
		id, err := h.msgr.Send(ctx, r.ChatID, Message{Text: part, HTML: true})
		if err != nil {
			r.log.Warn("replay message rejected, sending plain text", zap.Error(err))
			id = h.send(ctx, r.ChatID, Message{Text: "Error formatting the message:\n" + truncate(t.Payload, render.MaxMessageRunes-64)})
		}
		r.sess.track(id)
	}
}

func (h *Handler) showSettings(ctx context.Context, r *request, edit bool) error {
	st, err := h.store.Settings(ctx, r.UserID)
	if err != nil {
		return err
	}
	img, err := h.store.ImageSettings(ctx, r.UserID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("<b><u>%s</u></b>\n\n<b>Current settings:</b>\n------------------\n"+
		"<b>Provider:</b> %s\n<b>Model:</b> %s\n<b>Temperature:</b> %s\n<b>Max tokens:</b> %d\n<b>N:</b> %d\n"+
		"<b>System prompt:</b> <blockquote>%s</blockquote>\n<b>Image generation:</b> %s, %s",
		render.Escape(h.botName), st.Provider.Title(), render.Escape(st.Model),
		strconv.FormatFloat(st.Temperature, 'g', -1, 64), st.MaxTokens, st.N,
		render.Escape(truncate(st.SystemPrompt, 300)), img.Model, img.Size)
	kb := Keyboard{
		{{Text: "Model", Data: cbProviders}, {Text: "Temperature", Data: cbTemperature}},
		{{Text: "Max tokens", Data: cbMaxTokens}, {Text: "N", Data: cbN}},
		{{Text: "System prompt", Data: cbPrompt}, {Text: "Image settings", Data: cbImage}},
		{{Text: "Reset to default", Data: cbReset}, {Text: "Done", Data: cbChats}},
	}
	return h.show(ctx, r, edit, Message{Text: text, HTML: true, Keyboard: kb})
}

func (h *Handler) showProviders(ctx context.Context, r *request) error {
	st, err := h.store.Settings(ctx, r.UserID)
	if err != nil {
		return err
	}
	var buttons []Button
	for _, p := range h.catalog.Providers() {
		buttons = append(buttons, Button{Text: p.Title(), Data: cbProvider + ":" + string(p)})
	}
	kb := grid(buttons, columns)
	kb = append(kb, []Button{{Text: "Back", Data: cbSettings}})
	text := fmt.Sprintf("<b><u>Current provider</u>:</b> %s\n<b><u>Current model</u>:</b> %s\n\nSelect a provider:",
		st.Provider.Title(), render.Escape(st.Model))
	return h.show(ctx, r, true, Message{Text: text, HTML: true, Keyboard: kb})
}

func (h *Handler) showModels(ctx context.Context, r *request, p universalis.Provider) error {
	back := []Button{{Text: "Back", Data: cbProviders}}
	models, err := h.catalog.Models(ctx, p)
	if err != nil {
		r.log.Warn("model listing failed", zap.String("provider", string(p)), zap.Error(err))
		return h.show(ctx, r, true, Message{
			Text:     fmt.Sprintf("Could not list %s models right now.", p.Title()),
			Keyboard: Keyboard{back},
		})
	}
	var buttons []Button
	for _, m := range models {
		data := cbModel + ":" + string(p) + ":" + m
		if len(data) > maxCallbackData {
			continue
		}
		buttons = append(buttons, Button{Text: m, Data: data})
	}
	if len(buttons) == 0 {
		return h.show(ctx, r, true, Message{
			Text:     fmt.Sprintf("No %s models are available right now.", p.Title()),
			Keyboard: Keyboard{back},
		})
	}
	kb := append(grid(buttons, columns), back)
	return h.show(ctx, r, true, Message{Text: fmt.Sprintf("Select a %s model:", p.Title()), Keyboard: kb})
}

func (h *Handler) selectModel(ctx context.Context, r *request, p universalis.Provider, model string) error {
	st, err := h.store.Settings(ctx, r.UserID)
	if err != nil {
		return err
	}
	st.Provider = p
	st.Model = model
	if err := h.store.UpdateSettings(ctx, st); err != nil {
		return err
	}
	r.log.Info("model selected", zap.String("provider", string(p)), zap.String("model", model))
	return h.showSettings(ctx, r, true)
}

// askSetting switches the session to read a setting value from the next message.
func (h *Handler) askSetting(ctx context.Context, r *request) error {
	st, err := h.store.Settings(ctx, r.UserID)
	if err != nil {
		return err
	}
	var text string
	switch r.Callback {
	case cbTemperature:
		r.sess.state = stateTemperature
		text = fmt.Sprintf("Current temperature: %s\n\nEnter a value between 0 and 1:", strconv.FormatFloat(st.Temperature, 'g', -1, 64))
	case cbMaxTokens:
		r.sess.state = stateMaxTokens
		text = fmt.Sprintf("Current max tokens: %d\n\nEnter a value between 1 and %d:", st.MaxTokens, universalis.MaxTokensLimit)
	case cbN:
		r.sess.state = stateN
		text = fmt.Sprintf("Current N: %d\n\nEnter a value between 1 and %d:", st.N, universalis.MaxN)
	default:
		r.sess.state = stateSystemPrompt
		text = fmt.Sprintf("Current system prompt:\n<blockquote>%s</blockquote>\n\nSend the new system prompt. {{DAY}} and {{DATE}} are filled in when a chat starts.",
			render.Escape(truncate(st.SystemPrompt, render.MaxMessageRunes-256)))
	}
	return h.show(ctx, r, true, Message{Text: text, HTML: true, Keyboard: Keyboard{{{Text: "Back", Data: cbSettings}}}})
}

// applySetting stores the value typed in reply to askSetting. An invalid value keeps the
// session waiting for another try.
func (h *Handler) applySetting(ctx context.Context, r *request) error {
	st, err := h.store.Settings(ctx, r.UserID)
	if err != nil {
		return err
	}
	switch r.sess.state {
	case stateTemperature:
		st.Temperature, err = universalis.ParseTemperature(r.Text)
	case stateMaxTokens:
		st.MaxTokens, err = universalis.ParseMaxTokens(r.Text)
	case stateN:
		st.N, err = universalis.ParseN(r.Text)
	case stateSystemPrompt:
		st.SystemPrompt = strings.TrimSpace(r.Text)
		if st.SystemPrompt == "" {
			err = fmt.Errorf("%w: system prompt is empty", universalis.ErrInvalidSetting)
		}
	}
	if err == nil {
		err = h.store.UpdateSettings(ctx, st)
	}
	if errors.Is(err, universalis.ErrInvalidSetting) {
		h.reply(ctx, r, Message{Text: "That value is not allowed. Try again or press Back."})
		return nil
	}
	if err != nil {
		return err
	}
	r.log.Info("setting updated", zap.Stringer("setting", r.sess.state))
	r.sess.resume()
	return h.showSettings(ctx, r, false)
}

func (h *Handler) showImageSettings(ctx context.Context, r *request) error {
	img, err := h.store.ImageSettings(ctx, r.UserID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("<b><u>Current image gen settings:</u></b>\n<b>Model:</b> %s\n<b>Image size:</b> %s", img.Model, img.Size)
	kb := Keyboard{
		{{Text: "Model", Data: cbImageModels}, {Text: "Size", Data: cbImageSizes}},
		{{Text: "Back", Data: cbSettings}},
	}
	return h.show(ctx, r, true, Message{Text: text, HTML: true, Keyboard: kb})
}

func (h *Handler) showImageModels(ctx context.Context, r *request) error {
	img, err := h.store.ImageSettings(ctx, r.UserID)
	if err != nil {
		return err
	}
	var buttons []Button
	for _, m := range universalis.ImageModels() {
		buttons = append(buttons, Button{Text: m, Data: cbImageModel + ":" + m})
	}
	kb := append(grid(buttons, columns), []Button{{Text: "Back", Data: cbImage}})
	return h.show(ctx, r, true, Message{
		Text:     fmt.Sprintf("Current image model: %s\n\nSelect a new image model:", img.Model),
		Keyboard: kb,
	})
}

func (h *Handler) showImageSizes(ctx context.Context, r *request) error {
	img, err := h.store.ImageSettings(ctx, r.UserID)
	if err != nil {
		return err
	}
	var buttons []Button
	for _, s := range universalis.ImageSizes(img.Model) {
		buttons = append(buttons, Button{Text: s, Data: cbImageSize + ":" + s})
	}
	kb := append(grid(buttons, columns), []Button{{Text: "Back", Data: cbImage}})
	return h.show(ctx, r, true, Message{
		Text:     fmt.Sprintf("Current image size: %s\n\nSelect a new image size:", img.Size),
		Keyboard: kb,
	})
}

func (h *Handler) updateImageSettings(ctx context.Context, r *request, change func(universalis.ImageSettings) (universalis.ImageSettings, error)) error {
	img, err := h.store.ImageSettings(ctx, r.UserID)
	if err != nil {
		return err
	}
	img, err = change(img)
	if err != nil {
		return err
	}
	if err := h.store.UpdateImageSettings(ctx, img); err != nil {
		return err
	}
	r.log.Info("image settings updated", zap.String("model", img.Model), zap.String("size", img.Size))
	return h.showImageSettings(ctx, r)
}

// grid lays buttons out in rows of n.
func grid(buttons []Button, n int) Keyboard {
	var kb Keyboard
	for len(buttons) > 0 {
		k := min(n, len(buttons))
		kb = append(kb, buttons[:k])
		buttons = buttons[k:]
	}
	return kb
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
