package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-tavern/streamview/internal/metrics"
	agentmodel "github.com/zhouzirui/z-tavern/streamview/internal/model/agent"
	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
	chatservice "github.com/zhouzirui/z-tavern/streamview/internal/service/chat"
	emotionservice "github.com/zhouzirui/z-tavern/streamview/internal/service/emotion"
	"github.com/zhouzirui/z-tavern/streamview/internal/transport"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrEmptyMessage  = errors.New("message is empty")
	ErrUnavailable   = errors.New("ai service unavailable")
)

const (
	modeStream   = "stream"
	modeComplete = "complete"
)

// Publisher 把事件写回发起请求的 socket。
type Publisher interface {
	Send(ev transport.Event) error
}

// Generator 是回复生成所需的模型能力，由 ai.Service 实现。
type Generator interface {
	StreamingEnabled() bool
	GenerateResponse(ctx context.Context, sessionID string, profile *agentmodel.Profile, messages []chat.Message, userMessage string, guidance *emotionservice.Guidance) (*schema.Message, error)
	StreamResponse(ctx context.Context, profile *agentmodel.Profile, messages []chat.Message, userMessage string, guidance *emotionservice.Guidance) (*schema.StreamReader[*schema.Message], error)
}

// Reflector 估计用户状态，由 emotion.Service 实现。
type Reflector interface {
	Reflect(ctx context.Context, profile *agentmodel.Profile, history []chat.Message, userMessage, draft string) emotionservice.Guidance
}

// Service 处理一条用户消息并通过 Publisher 下发 agent 回复。
type Service struct {
	chats     *chatservice.Service
	agents    agentmodel.Store
	generator Generator
	reflector Reflector
}

// New 创建回复服务。generator 为 nil 时每次回复都以 stream_error 结束。
func New(chats *chatservice.Service, agents agentmodel.Store, generator Generator, reflector Reflector) *Service {
	return &Service{
		chats:     chats,
		agents:    agents,
		generator: generator,
		reflector: reflector,
	}
}

// Available reports whether a model is wired.
func (s *Service) Available() bool {
	return s.generator != nil
}

// Reply 为 sessionID 上的一条用户消息生成回复。会话不存在等请求错误直接返回，
// 不写任何帧；生成失败时下发 stream_error 并返回错误。
func (s *Service) Reply(ctx context.Context, sessionID, text string, pub Publisher) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	session, err := s.chats.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	profile, ok := s.agents.FindByID(session.AgentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, session.AgentID)
	}

	history, err := s.chats.LoadTranscript(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}

	userMsg := chat.Message{
		SessionID: sessionID,
		Sender:    chat.SenderUser,
		Content:   text,
		IsFinal:   true,
	}
	if err := s.chats.SaveMessage(ctx, userMsg); err != nil {
		log.Printf("[agent] failed to save user message: %v", err)
	}

	guidance := s.reflect(ctx, &profile, history, text)

	mode := modeComplete
	if s.generator != nil && s.generator.StreamingEnabled() {
		mode = modeStream
	}

	start := time.Now()
	content, err := s.dispatch(ctx, pub, mode, sessionID, &profile, history, text, guidance)
	metrics.ObserveAgentReply(profile.ID, mode, time.Since(start), err == nil)
	if err != nil {
		log.Printf("[agent] reply failed for session=%s, agent=%s: %v", sessionID, profile.ID, err)
		if sendErr := pub.Send(transport.ErrorEvent{Message: "generation failed"}); sendErr != nil {
			log.Printf("[agent] failed to send error event: %v", sendErr)
		}
		return err
	}

	botMsg := chat.Message{
		SessionID: sessionID,
		Sender:    chat.SenderBot,
		Content:   content,
		Metadata:  metadataFor(&profile, guidance),
		IsFinal:   true,
	}
	if err := s.chats.SaveMessage(ctx, botMsg); err != nil {
		log.Printf("[agent] failed to save agent message: %v", err)
	}

	log.Printf("[agent] completed %s reply for session=%s, agent=%s, length=%d", mode, sessionID, profile.ID, len(content))
	return nil
}

func (s *Service) reflect(ctx context.Context, profile *agentmodel.Profile, history []chat.Message, text string) emotionservice.Guidance {
	if s.reflector == nil {
		fallback, _ := emotionservice.NewService(ctx, nil, emotionservice.Config{})
		return fallback.Reflect(ctx, profile, history, text, "")
	}
	return s.reflector.Reflect(ctx, profile, history, text, "")
}

func (s *Service) dispatch(ctx context.Context, pub Publisher, mode, sessionID string, profile *agentmodel.Profile, history []chat.Message, text string, guidance emotionservice.Guidance) (string, error) {
	if s.generator == nil {
		return "", ErrUnavailable
	}
	if mode == modeStream {
		return s.stream(ctx, pub, profile, history, text, guidance)
	}

	response, err := s.generator.GenerateResponse(ctx, sessionID, profile, history, text, &guidance)
	if err != nil {
		return "", err
	}

	ev := transport.ResponseEvent{Message: response.Content}
	applyResponseMetadata(&ev, profile, guidance)
	if err := pub.Send(ev); err != nil {
		return "", fmt.Errorf("send response: %w", err)
	}
	return response.Content, nil
}

func (s *Service) stream(ctx context.Context, pub Publisher, profile *agentmodel.Profile, history []chat.Message, text string, guidance emotionservice.Guidance) (string, error) {
	stream, err := s.generator.StreamResponse(ctx, profile, history, text, &guidance)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var builder strings.Builder
	first := true
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		ev := transport.DeltaEvent{Delta: chunk.Content}
		if first {
			applyDeltaMetadata(&ev, profile, guidance)
			first = false
		}
		if err := pub.Send(ev); err != nil {
			return "", fmt.Errorf("send delta: %w", err)
		}
		builder.WriteString(chunk.Content)
	}

	if err := pub.Send(transport.EndEvent{}); err != nil {
		return "", fmt.Errorf("send stream end: %w", err)
	}
	return builder.String(), nil
}

func applyDeltaMetadata(ev *transport.DeltaEvent, profile *agentmodel.Profile, g emotionservice.Guidance) {
	ev.Agent = profile.Name
	ev.MentalModel = profile.MentalModel
	ev.Tone = toneFor(profile, g)
	ev.Valence = transport.Float(g.Reading.Valence)
	ev.Confidence = transport.Float(g.Reading.Confidence)
	ev.GrowthSignal = g.Reading.Growth
	ev.ReflectionSummary = g.Reflection
	ev.EmotionalStage = string(g.Stage)
}

func applyResponseMetadata(ev *transport.ResponseEvent, profile *agentmodel.Profile, g emotionservice.Guidance) {
	ev.Agent = profile.Name
	ev.MentalModel = profile.MentalModel
	ev.Tone = toneFor(profile, g)
	ev.Valence = transport.Float(g.Reading.Valence)
	ev.Confidence = transport.Float(g.Reading.Confidence)
	ev.GrowthSignal = g.Reading.Growth
	ev.ReflectionSummary = g.Reflection
	ev.EmotionalStage = string(g.Stage)
}

func metadataFor(profile *agentmodel.Profile, g emotionservice.Guidance) *chat.Metadata {
	return &chat.Metadata{
		Agent:             profile.Name,
		MentalModel:       profile.MentalModel,
		Tone:              toneFor(profile, g),
		Valence:           g.Reading.Valence,
		GrowthSignal:      g.Reading.Growth,
		ReflectionSummary: g.Reflection,
	}
}

func toneFor(profile *agentmodel.Profile, g emotionservice.Guidance) string {
	if g.Tone != "" {
		return g.Tone
	}
	return profile.Tone
}
