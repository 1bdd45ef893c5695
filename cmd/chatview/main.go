package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-tavern/streamview/internal/config"
	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
	"github.com/zhouzirui/z-tavern/streamview/internal/render"
	"github.com/zhouzirui/z-tavern/streamview/internal/transport"
	"github.com/zhouzirui/z-tavern/streamview/internal/view"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[chatview] 无法加载 .env，改用系统环境变量: %v", err)
	}

	server := flag.String("server", "http://localhost:8080", "API 地址")
	agentID := flag.String("agent", "mentor", "对话的 agent ID")
	hidden := flag.Bool("hidden", false, "以隐藏状态启动（批量输出）")
	timeout := flag.Duration("timeout", 10*time.Second, "创建会话与建立连接的超时时间")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setupCtx, cancel := context.WithTimeout(ctx, *timeout)
	session, err := createSession(setupCtx, *server, *agentID)
	if err != nil {
		cancel()
		log.Fatalf("创建会话失败: %v", err)
	}

	client, err := transport.Dial(setupCtx, socketURL(*server, session.ID), transport.DefaultClientOptions())
	cancel()
	if err != nil {
		log.Fatalf("连接 socket 失败: %v", err)
	}
	defer client.Close()

	// loop 比 ctx 活得久，退出时还要在 loop 上执行 Close。
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	loop := render.NewLoop(64)
	go loop.Run(loopCtx)

	state := view.New()
	state.Subscribe(newPrinter(os.Stdout).handle)
	renderer := render.NewSession(cfg.Render.Session(*hidden), state, loop)

	log.Printf("[chatview] session=%s agent=%s，输入消息后回车发送，Ctrl-C 退出", session.ID, *agentID)

	go watchVisibility(ctx, loop, renderer)
	go readInput(ctx, os.Stdin, loop, renderer, client, *agentID)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- client.Listen(ctx, func(frame []byte) {
			loop.Post(func() { renderer.Ingest(frame) })
		})
	}()

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		if err != nil {
			log.Printf("[chatview] connection lost: %v", err)
		}
	}

	// 卸载视图：取消所有定时器后再停止 loop。
	closed := make(chan struct{})
	if loop.Post(func() {
		renderer.Close()
		close(closed)
	}) {
		<-closed
	}
	stopLoop()
	<-loop.Done()
	fmt.Println()
}

func createSession(ctx context.Context, server, agentID string) (chat.Session, error) {
	body, err := json.Marshal(map[string]string{"agentId": agentID})
	if err != nil {
		return chat.Session{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/api/session", bytes.NewReader(body))
	if err != nil {
		return chat.Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return chat.Session{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return chat.Session{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var session chat.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return chat.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}

func socketURL(server, sessionID string) string {
	base := strings.TrimRight(server, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/ws/" + sessionID
}

func readInput(ctx context.Context, in io.Reader, loop *render.Loop, renderer *render.Session, client *transport.Client, agentID string) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		loop.Post(func() { renderer.SubmitUser(text) })
		if err := client.Send(transport.UserMessageEvent{Text: text, Agent: agentID}); err != nil {
			log.Printf("[chatview] send failed: %v", err)
			return
		}
	}
}
