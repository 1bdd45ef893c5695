package chat

import (
	"context"
	"sync"

	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
)

// MemoryStore keeps transcripts in process memory, suitable for a single instance.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
	}
}

func (m *MemoryStore) PutSession(_ context.Context, session chat.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	if _, ok := m.messages[session.ID]; !ok {
		m.messages[session.ID] = make([]chat.Message, 0, 16)
	}
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, message chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[message.SessionID]; !ok {
		return ErrSessionNotFound
	}
	m.messages[message.SessionID] = append(m.messages[message.SessionID], message)
	return nil
}

func (m *MemoryStore) LoadMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages, ok := m.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}
