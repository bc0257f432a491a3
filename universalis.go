package universalis

import (
	"fmt"
	"strings"
)

// Kind is the content kind of a history turn. Values match the stored "type" column.
type Kind string

// Turn kinds.
const (
	KindText  Kind = "text"
	KindImage Kind = "image_url"
)

// Role is the author of a history turn.
type Role string

// Turn roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Opposite returns the alternation partner of r: user for assistant and assistant for anything else.
func (r Role) Opposite() Role {
	if r == RoleAssistant {
		return RoleUser
	}
	return RoleAssistant
}

// Turn is one immutable record of conversation history.
// Payload is raw text for KindText and base64-encoded JPEG bytes for KindImage.
type Turn struct {
	Kind    Kind
	Payload string
	Role    Role
}

// TextTurn is a shorthand for a KindText turn.
func TextTurn(role Role, text string) Turn {
	return Turn{Kind: KindText, Payload: text, Role: role}
}

// ImageTurn is a shorthand for a KindImage turn.
func ImageTurn(role Role, b64 string) Turn {
	return Turn{Kind: KindImage, Payload: b64, Role: role}
}

// Conversation owns an ordered list of turns, a display title and cumulative token counters.
type Conversation struct {
	ID           int64
	UserID       int64
	Title        string
	InputTokens  int64
	OutputTokens int64
}

// Response is a provider reply normalized to a single shape. Role is always RoleAssistant.
type Response struct {
	InputTokens  int64
	OutputTokens int64
	Role         Role
	Text         string
}

// Provider identifies one of the supported upstream model providers.
type Provider string

// Supported providers. The set is closed.
const (
	ProviderOpenAI Provider = "openai"
	ProviderClaude Provider = "claude"
	ProviderGoogle Provider = "google"
	ProviderOllama Provider = "ollama"
)

// Providers lists every supported provider in menu order.
func Providers() []Provider {
	return []Provider{ProviderOpenAI, ProviderClaude, ProviderGoogle, ProviderOllama}
}

// ParseProvider maps a stored or user-supplied id to a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderOpenAI, ProviderClaude, ProviderGoogle, ProviderOllama:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

// Title returns the human-readable provider name.
func (p Provider) Title() string {
	switch p {
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderClaude:
		return "Claude"
	case ProviderGoogle:
		return "Google"
	case ProviderOllama:
		return "Ollama"
	default:
		return string(p)
	}
}
