package session

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// Manager keeps the live sessions. Idle sessions expire after the TTL and
// finished ones are removed with End.
type Manager struct {
	sessions *expirable.LRU[string, *Session]
}

// NewManager keeps at most size sessions for ttl each.
func NewManager(size int, ttl time.Duration, log zerolog.Logger) *Manager {
	log = log.With().Str("component", "session").Logger()
	onEvict := func(id string, s *Session) {
		log.Debug().Str("session_id", id).Str("state", s.State().String()).Msg("Session closed")
	}
	return &Manager{sessions: expirable.NewLRU[string, *Session](size, onEvict, ttl)}
}

// Start registers a new session.
func (m *Manager) Start() *Session {
	s := New()
	m.sessions.Add(s.ID, s)
	return s
}

// Get returns a live session and restarts its TTL.
func (m *Manager) Get(id string) (*Session, bool) {
	s, ok := m.sessions.Get(id)
	if ok {
		m.sessions.Add(id, s)
	}
	return s, ok
}

// End forgets a session.
func (m *Manager) End(id string) {
	m.sessions.Remove(id)
}

func (m *Manager) Len() int {
	return m.sessions.Len()
}
