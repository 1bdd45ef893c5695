package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zhouzirui/z-tavern/streamview/internal/metrics"
	"github.com/zhouzirui/z-tavern/streamview/internal/model/agent"
	chatService "github.com/zhouzirui/z-tavern/streamview/internal/service/chat"
)

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(method, path, nil))
	return resp
}

func TestRouterRoutes(t *testing.T) {
	metrics.MustRegister()
	r := NewRouter(agent.NewMemoryStore(agent.Seed()), chatService.NewService(), nil, Options{Metrics: true})

	if resp := serve(r, http.MethodGet, "/api/agents"); resp.Code != http.StatusOK {
		t.Fatalf("agents: expected 200, got %d", resp.Code)
	}
	if resp := serve(r, http.MethodGet, "/healthz"); resp.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", resp.Code)
	}
	if resp := serve(r, http.MethodGet, "/api/ws/anything"); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("ws without replier: expected 503, got %d", resp.Code)
	}

	resp := serve(r, http.MethodGet, "/metrics")
	if resp.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "agent_replies_total") && !strings.Contains(resp.Body.String(), "go_goroutines") {
		t.Fatal("metrics body missing collectors")
	}
}

func TestRouterMetricsDisabled(t *testing.T) {
	r := NewRouter(agent.NewMemoryStore(agent.Seed()), chatService.NewService(), nil, Options{})
	if resp := serve(r, http.MethodGet, "/metrics"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
