package render

import (
	"bytes"
	"fmt"
	stdhtml "html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/skosovsky/universalis"
)

// MaxMessageRunes is Telegram's limit for one message.
const MaxMessageRunes = 4096

// MaxBotNameRunes bounds the bot name shown in reply headings.
const MaxBotNameRunes = 64

// Renderer turns model output into Telegram-safe HTML.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// New returns a Renderer. It is safe for concurrent use.
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Strikethrough),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		policy: telegramPolicy(),
	}
}

// telegramPolicy keeps the tags Telegram's HTML parse mode understands and drops every other tag,
// keeping its text.
func telegramPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "ins", "s", "strike", "del", "code", "pre", "blockquote")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "tg", "mailto")
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "span")
	p.AllowElements("span")
	return p
}

// TelegramHTML converts Markdown (possibly mixed with HTML) to Telegram HTML.
// Headings become bold/underline, list items get a bullet, unsupported tags are removed
// and their text kept.
func (r *Renderer) TelegramHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("render: markdown: %w", err)
	}
	out := strings.ReplaceAll(buf.String(), "<li>", "<li>• ")
	out = universalis.RewriteHeadings(out)
	out = r.policy.Sanitize(out)
	return strings.TrimSpace(collapseBlankLines(out)), nil
}

// Escape makes text safe to embed in an HTML message verbatim.
func Escape(text string) string {
	return stdhtml.EscapeString(text)
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}

// Split cuts text into parts of at most limit runes, preferring paragraph breaks, then line
// breaks, then spaces. A part is hard-cut only when it has no break at all.
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageRunes
	}
	var parts []string
	for utf8.RuneCountInString(text) > limit {
		head := string([]rune(text)[:limit])
		cut := -1
		for _, sep := range []string{"\n\n", "\n", " "} {
			if i := strings.LastIndex(head, sep); i > 0 {
				cut = i
				break
			}
		}
		if cut < 0 {
			parts = append(parts, head)
			text = text[len(head):]
			continue
		}
		parts = append(parts, strings.TrimRight(head[:cut], " \n"))
		text = strings.TrimLeft(text[cut:], " \n")
	}
	if text != "" || len(parts) == 0 {
		parts = append(parts, text)
	}
	return parts
}

// Usage is the token accounting shown under a reply.
type Usage struct {
	Input, Output           int64
	TotalInput, TotalOutput int64
}

// Footer renders u as two lines of HTML.
func (u Usage) Footer() string {
	return fmt.Sprintf("Input: <code>%d</code> tokens | Output: <code>%d</code> tokens\nTotal input used: <code>%d</code> tokens | Total output used: <code>%d</code> tokens",
		u.Input, u.Output, u.TotalInput, u.TotalOutput)
}

// Reply assembles a heading with the bot name, the rendered body and the usage footer,
// split into Telegram-sized messages. The heading goes on the first part, the footer on the last.
func Reply(botName, body string, u Usage) []string {
	heading := "<b>" + Escape(shortName(botName)) + "</b>\n"
	footer := "\n\n" + u.Footer()
	budget := MaxMessageRunes - utf8.RuneCountInString(heading) - utf8.RuneCountInString(footer)
	parts := Split(body, budget)
	parts[0] = heading + parts[0]
	parts[len(parts)-1] += footer
	return parts
}

// Error renders a provider failure for the user.
func Error(botName string, provider universalis.Provider, err error) string {
	return fmt.Sprintf("<b>%s</b> | Error\nAn error occurred while talking to %s: %s",
		Escape(shortName(botName)), Escape(provider.Title()), Escape(err.Error()))
}

// shortName cuts name to MaxBotNameRunes so a heading never eats the message budget.
func shortName(name string) string {
	if utf8.RuneCountInString(name) <= MaxBotNameRunes {
		return name
	}
	return string([]rune(name)[:MaxBotNameRunes])
}
