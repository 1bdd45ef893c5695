package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientOptions 客户端连接配置选项
type ClientOptions struct {
	MaxRetries     int           // 最大重试次数
	HandshakeDelay time.Duration // 首次重试等待，之后线性递增
	ReadTimeout    time.Duration // 读取超时时间
	WriteTimeout   time.Duration // 写入超时时间
	PingInterval   time.Duration // Ping间隔
	Header         http.Header
}

// DefaultClientOptions 默认客户端选项
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		MaxRetries:     3,
		HandshakeDelay: time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
	}
}

// Client 是连接 agent socket 的一端。Send 可并发调用，Listen 只能有一个调用方。
type Client struct {
	conn    *websocket.Conn
	opts    ClientOptions
	writeMu sync.Mutex
	closeMu sync.Once
}

// Dial 带重试地建立连接。
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}

	var lastErr error
	for i := 0; i < opts.MaxRetries; i++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
		if err == nil {
			return &Client{conn: conn, opts: opts}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		log.Printf("[transport] dial attempt %d/%d failed: %v", i+1, opts.MaxRetries, err)
		if i == opts.MaxRetries-1 {
			break
		}
		retryDelay := time.Duration(i+1) * opts.HandshakeDelay
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	return nil, fmt.Errorf("failed to connect after %d retries, last error: %w", opts.MaxRetries, lastErr)
}

// Listen 读取帧并交给 handle，直到连接关闭或 ctx 结束。正常关闭返回 nil。
func (c *Client) Listen(ctx context.Context, handle func(frame []byte)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.extendDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	go c.pingLoop(ctx)
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		c.extendDeadline()
		handle(data)
	}
}

// Send 编码并写出一个事件。
func (c *Client) Send(ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// Close 发送关闭帧并关闭底层连接，可重复调用。
func (c *Client) Close() error {
	var err error
	c.closeMu.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if writeErr := c.write(websocket.CloseMessage, msg); writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
			log.Printf("[transport] write close failed: %v", writeErr)
		}
		err = c.conn.Close()
	})
	return err
}

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.opts.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) extendDeadline() {
	if c.opts.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
}

// pingLoop 定期发送ping消息
func (c *Client) pingLoop(ctx context.Context) {
	if c.opts.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.PingInterval)
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
