package chat_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
	chatservice "github.com/zhouzirui/z-tavern/streamview/internal/service/chat"
)

func TestServiceGetSession(t *testing.T) {
	svc := chatservice.NewService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "mentor")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	got, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}

	if got.ID != session.ID {
		t.Fatalf("unexpected session ID: got %s want %s", got.ID, session.ID)
	}
	if got.AgentID != "mentor" {
		t.Fatalf("unexpected agent ID: got %s", got.AgentID)
	}
}

func TestServiceGetSessionNotFound(t *testing.T) {
	svc := chatservice.NewService()
	ctx := context.Background()

	if _, err := svc.GetSession(ctx, "missing"); !errors.Is(err, chatservice.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestServiceRequiresAgent(t *testing.T) {
	svc := chatservice.NewService()
	if _, err := svc.CreateSession(context.Background(), ""); !errors.Is(err, chatservice.ErrAgentRequired) {
		t.Fatalf("expected ErrAgentRequired, got %v", err)
	}
}

func TestServiceTranscriptOrder(t *testing.T) {
	exerciseTranscript(t, chatservice.NewService())
}

func TestRedisStoreTranscript(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}

	store, err := chatservice.NewRedisStore(url, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore err: %v", err)
	}
	defer store.Close()
	if err := store.Ping(context.Background()); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	exerciseTranscript(t, chatservice.NewServiceWithStore(store))
}

func exerciseTranscript(t *testing.T, svc *chatservice.Service) {
	t.Helper()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "companion")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	for _, m := range []chat.Message{
		{SessionID: session.ID, Sender: chat.SenderUser, Content: "hi"},
		{SessionID: session.ID, Sender: chat.SenderBot, Content: "hello", IsFinal: true},
	} {
		if err := svc.SaveMessage(ctx, m); err != nil {
			t.Fatalf("SaveMessage err: %v", err)
		}
	}

	messages, err := svc.LoadTranscript(ctx, session.ID)
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(messages) != 2 || messages[0].Content != "hi" || messages[1].Content != "hello" {
		t.Fatalf("unexpected transcript %+v", messages)
	}
	if messages[0].ID == "" || messages[0].CreatedAt.IsZero() {
		t.Fatal("SaveMessage should assign id and timestamp")
	}

	if err := svc.SaveMessage(ctx, chat.Message{SessionID: "missing", Content: "x"}); !errors.Is(err, chatservice.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
