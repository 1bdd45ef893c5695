package socket

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tavern/streamview/internal/metrics"
	agentservice "github.com/zhouzirui/z-tavern/streamview/internal/service/agent"
	chatservice "github.com/zhouzirui/z-tavern/streamview/internal/service/chat"
	"github.com/zhouzirui/z-tavern/streamview/internal/transport"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
	replyQueue   = 8
)

// Replier 为一条用户消息生成回复，由 agent.Service 实现。
type Replier interface {
	Reply(ctx context.Context, sessionID, text string, pub agentservice.Publisher) error
}

// Handler 把 agent 回复以 socket 帧的形式推给聊天视图。
type Handler struct {
	chatSvc  *chatservice.Service
	replier  Replier
	upgrader websocket.Upgrader
}

// New 创建 socket 处理器
func New(chatSvc *chatservice.Service, replier Replier) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		replier: replier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册 socket 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleSocket)
}

// conn 串行化对同一连接的写入，ping 与回复来自不同 goroutine。
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) Send(ev transport.Event) error {
	data, err := transport.Encode(ev)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *conn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chatservice.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, "session not found", status)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[socket] upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	metrics.SocketOpened()
	defer metrics.SocketClosed()
	log.Printf("[socket] new connection for session: %s", sessionID)

	// 连接断开后不再继续生成。
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &conn{ws: ws}
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, c)

	texts := make(chan string, replyQueue)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.replyLoop(ctx, c, sessionID, texts)
	}()
	defer wg.Wait()
	defer close(texts)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[socket] read error: %v", err)
			}
			cancel()
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		ev, err := transport.Decode(data)
		if err != nil {
			log.Printf("[socket] discard frame from session=%s: %v", sessionID, err)
			continue
		}
		msg, ok := ev.(transport.UserMessageEvent)
		if !ok {
			log.Printf("[socket] ignore %s event from client", ev.Kind())
			continue
		}

		select {
		case texts <- msg.Text:
		default:
			log.Printf("[socket] reply queue full for session=%s, drop message", sessionID)
		}
	}
}

// replyLoop 逐条处理用户消息，保证同一连接上的回复不交错。
func (h *Handler) replyLoop(ctx context.Context, c *conn, sessionID string, texts <-chan string) {
	for text := range texts {
		if ctx.Err() != nil {
			continue
		}
		if err := h.replier.Reply(ctx, sessionID, text, c); err != nil {
			log.Printf("[socket] reply for session=%s failed: %v", sessionID, err)
		}
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
