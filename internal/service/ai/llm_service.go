package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-tavern/streamview/internal/config"
	"github.com/zhouzirui/z-tavern/streamview/internal/model/agent"
	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
	emotionservice "github.com/zhouzirui/z-tavern/streamview/internal/service/emotion"
)

// ErrStreamingDisabled is returned by StreamResponse when ARK_STREAM is off.
var ErrStreamingDisabled = errors.New("streaming disabled in configuration")

const historyLimit = 10

// Service encapsulates AI-powered chat functionality
type Service struct {
	chatModel model.ChatModel
	streaming bool
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates a new AI service instance
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg.StreamResponse)
}

// NewServiceWithModel 使用已有的模型实例构造服务。
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, streaming bool) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		streaming: streaming,
		chain:     runnable,
	}, nil
}

// StreamingEnabled 指示是否以分片形式下发回复。
func (s *Service) StreamingEnabled() bool {
	return s.streaming
}

// GenerateResponse generates a complete reply for the agent.
func (s *Service) GenerateResponse(ctx context.Context, sessionID string, profile *agent.Profile, messages []chat.Message, userMessage string, guidance *emotionservice.Guidance) (*schema.Message, error) {
	input := buildChainInput(profile, messages, userMessage, guidance)

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}

	log.Printf("[ai] generated response for session=%s, agent=%s, length=%d", sessionID, profile.ID, len(response.Content))
	return response, nil
}

// StreamResponse streams reply chunks via the configured chain.
func (s *Service) StreamResponse(ctx context.Context, profile *agent.Profile, messages []chat.Message, userMessage string, guidance *emotionservice.Guidance) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, ErrStreamingDisabled
	}

	input := buildChainInput(profile, messages, userMessage, guidance)

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}

	return stream, nil
}

// GetChatModel 返回底层的聊天模型
func (s *Service) GetChatModel() model.ChatModel {
	return s.chatModel
}

func buildChainInput(profile *agent.Profile, messages []chat.Message, userMessage string, guidance *emotionservice.Guidance) map[string]any {
	return map[string]any{
		"system":  buildSystemPrompt(profile, guidance),
		"history": buildHistoryMessages(messages),
		"query":   userMessage,
	}
}

// buildSystemPrompt 在 agent 基础提示词后附加反思结果。
func buildSystemPrompt(profile *agent.Profile, guidance *emotionservice.Guidance) string {
	base := BuildSystemPrompt(profile)
	if guidance == nil {
		return base
	}

	var builder strings.Builder
	builder.WriteString(base)
	builder.WriteString(fmt.Sprintf("\n\n用户当前情绪阶段：%s（valence %.2f，置信度 %.2f）。", guidance.Stage, guidance.Reading.Valence, guidance.Reading.Confidence))
	if guidance.Tone != "" {
		builder.WriteString("\n建议语气：")
		builder.WriteString(guidance.Tone)
	}
	if guidance.Reflection != "" {
		builder.WriteString("\n反思：")
		builder.WriteString(guidance.Reflection)
	}
	builder.WriteString("\n请在保持 agent 风格的前提下照顾上述状态。")
	return builder.String()
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderBot:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
