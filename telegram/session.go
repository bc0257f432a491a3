package telegram

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/skosovsky/universalis"
)

// state is the position of a user in the menu flow.
type state int

const (
	stateMenu state = iota
	// stateNewChat waits for the first message of a conversation that does not exist yet.
	stateNewChat
	stateChatting
	stateTemperature
	stateMaxTokens
	stateN
	stateSystemPrompt
)

func (s state) String() string {
	switch s {
	case stateMenu:
		return "menu"
	case stateNewChat:
		return "new_chat"
	case stateChatting:
		return "chatting"
	case stateTemperature:
		return "temperature"
	case stateMaxTokens:
		return "max_tokens"
	case stateN:
		return "n"
	case stateSystemPrompt:
		return "system_prompt"
	default:
		return "unknown"
	}
}

// session is the per-user state. Fields are guarded by mu, which is held for the whole
// handling of one update so a user's updates are processed in order.
type session struct {
	mu    sync.Mutex
	state state
	conv  universalis.Conversation
	page  int
	// sent holds menu messages removed on the next cleanup.
	sent []int
}

func (s *session) reset() {
	s.state = stateMenu
	s.conv = universalis.Conversation{}
	s.page = 0
}

func (s *session) track(messageID int) {
	if messageID > 0 {
		s.sent = append(s.sent, messageID)
	}
}

type sessions struct {
	mu    sync.Mutex
	users map[int64]*session
}

func newSessions() *sessions {
	return &sessions{users: make(map[int64]*session)}
}

// acquire locks and returns the session of userID, creating it on first use.
func (s *sessions) acquire(userID int64) (*session, func()) {
	s.mu.Lock()
	sess, ok := s.users[userID]
	if !ok {
		sess = &session{}
		s.users[userID] = sess
	}
	s.mu.Unlock()
	sess.mu.Lock()
	return sess, sess.mu.Unlock
}

// limiter keeps one token bucket per user. A zero limit disables limiting.
type limiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[int64]*rate.Limiter
}

func newLimiter(perSecond float64, burst int) *limiter {
	return &limiter{limit: rate.Limit(perSecond), burst: max(burst, 1), buckets: make(map[int64]*rate.Limiter)}
}

func (l *limiter) allow(userID int64) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets[userID]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[userID] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

// resume leaves a settings prompt and returns to the open chat, if any.
func (s *session) resume() {
	if s.conv.ID != 0 {
		s.state = stateChatting
		return
	}
	s.state = stateMenu
}
