package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type exchange struct {
	userText      string
	assistantText string
}

// Manager keeps a bounded window of question/answer exchanges per session.
// Retention is FIFO: once a session holds maxHistory exchanges, the oldest is
// evicted on the next append.
type Manager struct {
	mu         sync.Mutex
	maxHistory int
	sessions   map[string][]exchange
}

func NewManager(maxHistory int) *Manager {
	if maxHistory <= 0 {
		maxHistory = 2
	}
	return &Manager{
		maxHistory: maxHistory,
		sessions:   make(map[string][]exchange),
	}
}

func (m *Manager) CreateSession() string {
	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = nil

	return id
}

// GetConversationHistory renders a session's retained exchanges as text, one
// "User:"/"Assistant:" pair per exchange. Returns "" for unknown or empty
// sessions.
func (m *Manager) GetConversationHistory(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	exchanges := m.sessions[sessionID]
	if len(exchanges) == 0 {
		return ""
	}

	rendered := make([]string, len(exchanges))
	for i, ex := range exchanges {
		rendered[i] = fmt.Sprintf("User: %s\nAssistant: %s", ex.userText, ex.assistantText)
	}
	return strings.Join(rendered, "\n")
}

func (m *Manager) AddExchange(sessionID, userText, assistantText string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exchanges := append(m.sessions[sessionID], exchange{userText: userText, assistantText: assistantText})
	if len(exchanges) > m.maxHistory {
		exchanges = exchanges[len(exchanges)-m.maxHistory:]
	}
	m.sessions[sessionID] = exchanges
}

func (m *Manager) ClearSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}
