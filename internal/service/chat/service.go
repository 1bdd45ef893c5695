package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
)

var (
	ErrAgentRequired   = errors.New("agent id is required")
	ErrSessionNotFound = errors.New("session not found")
)

// Store persists sessions and their transcripts.
type Store interface {
	PutSession(ctx context.Context, session chat.Session) error
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	AppendMessage(ctx context.Context, message chat.Message) error
	LoadMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
}

// Service encapsulates conversation state management.
type Service struct {
	store Store
}

// NewService bootstraps the chat service with an in-memory store.
func NewService() *Service {
	return NewServiceWithStore(NewMemoryStore())
}

// NewServiceWithStore uses the supplied store.
func NewServiceWithStore(store Store) *Service {
	return &Service{store: store}
}

// CreateSession provisions an anonymous session bound to an agent.
func (s *Service) CreateSession(ctx context.Context, agentID string) (chat.Session, error) {
	if agentID == "" {
		return chat.Session{}, ErrAgentRequired
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.PutSession(ctx, session); err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// SaveMessage appends a message to the session history.
func (s *Service) SaveMessage(ctx context.Context, message chat.Message) error {
	if message.SessionID == "" {
		return ErrSessionNotFound
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	return s.store.AppendMessage(ctx, message)
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.store.LoadMessages(ctx, sessionID)
}
