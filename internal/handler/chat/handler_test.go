package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/streamview/internal/model/agent"
	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
	chatservice "github.com/zhouzirui/z-tavern/streamview/internal/service/chat"
)

func setupRouter() (*chi.Mux, *chatservice.Service, agent.Store) {
	chatSvc := chatservice.NewService()
	store := agent.NewMemoryStore(agent.Seed())
	handler := New(chatSvc, store)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc, store
}

func post(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateSessionValidAgent(t *testing.T) {
	r, _, store := setupRouter()
	agents := store.List()

	resp := post(r, "/session", map[string]string{"agentId": agents[0].ID})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var session chat.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if session.ID == "" || session.AgentID != agents[0].ID {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestCreateSessionInvalidAgent(t *testing.T) {
	r, _, _ := setupRouter()
	if resp := post(r, "/session", map[string]string{"agentId": "non-existent"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCreateSessionMissingAgentID(t *testing.T) {
	r, _, _ := setupRouter()
	if resp := post(r, "/session", map[string]string{}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSaveMessageUnknownSession(t *testing.T) {
	r, _, _ := setupRouter()
	resp := post(r, "/messages", map[string]string{"sessionId": "missing", "sender": "user", "content": "hi"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSaveAndListMessages(t *testing.T) {
	r, chatSvc, _ := setupRouter()
	session, err := chatSvc.CreateSession(context.Background(), "skeptic")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	if resp := post(r, "/messages", map[string]string{"sessionId": session.ID, "sender": "robot", "content": "hi"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad sender, got %d", resp.Code)
	}
	if resp := post(r, "/messages", map[string]string{"sessionId": session.ID, "sender": "user", "content": "hi"}); resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/session/"+session.ID+"/messages", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var messages []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "hi" || !messages[0].IsFinal {
		t.Fatalf("unexpected messages %+v", messages)
	}
}
