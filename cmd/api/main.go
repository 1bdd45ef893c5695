package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-tavern/streamview/internal/config"
	"github.com/zhouzirui/z-tavern/streamview/internal/handler"
	"github.com/zhouzirui/z-tavern/streamview/internal/metrics"
	agentModel "github.com/zhouzirui/z-tavern/streamview/internal/model/agent"
	agentservice "github.com/zhouzirui/z-tavern/streamview/internal/service/agent"
	"github.com/zhouzirui/z-tavern/streamview/internal/service/ai"
	"github.com/zhouzirui/z-tavern/streamview/internal/service/chat"
	emotionservice "github.com/zhouzirui/z-tavern/streamview/internal/service/emotion"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if cfg.Metrics.Enabled {
		metrics.MustRegister()
	}

	agentStore := agentModel.NewMemoryStore(agentModel.Seed())
	chatService := newChatService(ctx, cfg.Storage)

	// Initialize AI service
	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - 请检查 Ark 模型相关环境变量")
		} else {
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	// Reflection uses the same model, falling back to heuristics without it
	emotionCfg := emotionservice.Config{
		Enabled:      cfg.AI.EmotionLLMEnabled,
		HistoryLimit: cfg.AI.EmotionHistoryLimit,
	}
	var chatModelForEmotion model.ChatModel
	if aiService != nil {
		chatModelForEmotion = aiService.GetChatModel()
	}
	emotionSvc, err := emotionservice.NewService(ctx, chatModelForEmotion, emotionCfg)
	if err != nil {
		log.Fatalf("failed to initialize emotion service: %v", err)
	}
	if emotionSvc.Enabled() {
		log.Println("Emotion reflection service enabled")
	} else if emotionCfg.Enabled {
		log.Println("Emotion reflection requested but chat model unavailable, falling back to heuristics")
	}

	var generator agentservice.Generator
	if aiService != nil {
		generator = aiService
	}
	agentService := agentservice.New(chatService, agentStore, generator, emotionSvc)

	router := handler.NewRouter(agentStore, chatService, agentService, handler.Options{Metrics: cfg.Metrics.Enabled})

	startServer(ctx, cfg.Server, router)
}

// newChatService 在配置了 REDIS_URL 时使用 Redis 保存会话，否则保存在内存中。
func newChatService(ctx context.Context, storage config.StorageConfig) *chat.Service {
	if storage.RedisURL == "" {
		log.Println("REDIS_URL 未配置，会话记录保存在内存中")
		return chat.NewService()
	}

	store, err := chat.NewRedisStore(storage.RedisURL, storage.SessionTTL)
	if err != nil {
		log.Fatalf("failed to configure redis store: %v", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	log.Printf("Session transcripts stored in redis (ttl=%s)", storage.SessionTTL)
	return chat.NewServiceWithStore(store)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Z Tavern streamview backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
