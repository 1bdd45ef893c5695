package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/zhouzirui/z-tavern/streamview/internal/analysis/emotion"
	"github.com/zhouzirui/z-tavern/streamview/internal/model/agent"
	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
)

const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// Config 控制情绪反思服务的行为。
type Config struct {
	Enabled      bool
	HistoryLimit int
}

// Guidance 是一次反思的结果，随回复的第一帧一起下发。
type Guidance struct {
	Reading    analysis.Reading
	Stage      chat.EmotionalStage
	Tone       string
	Reflection string
	Source     string
}

// Service 使用大模型对会话进行反思，并在必要时回退到启发式规则。
type Service struct {
	enabled      bool
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     func(user, agent string) analysis.Reading
	historyLimit int
}

// NewService 创建情绪反思服务。chatModel 可重用现有的大模型实例，为 nil 时只使用启发式规则。
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config) (*Service, error) {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		fallback:     analysis.Analyze,
		historyLimit: historyLimit,
	}

	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(reflectionSystemPrompt),
		schema.UserMessage(reflectionUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reflection chain: %w", err)
	}

	svc.classifier = runnable
	return svc, nil
}

// Enabled 返回大模型反思是否启用。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Reflect 根据会话上下文估计用户状态。draft 为空时同样运行，以便在回复前获取语气建议。
func (s *Service) Reflect(ctx context.Context, profile *agent.Profile, history []chat.Message, userMessage, draft string) Guidance {
	if !s.Enabled() {
		return s.fallbackGuidance(profile, userMessage, draft)
	}

	input := map[string]any{
		"agent":        summarizeAgent(profile),
		"history":      formatHistory(history, s.historyLimit),
		"user_message": strings.TrimSpace(userMessage),
		"agent_draft":  strings.TrimSpace(draft),
	}

	msg, err := s.classifier.Invoke(ctx, input)
	if err != nil {
		log.Printf("[emotion] reflection invoke failed, use fallback: %v", err)
		return s.fallbackGuidance(profile, userMessage, draft)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.fallbackGuidance(profile, userMessage, draft)
	}

	guidance, err := parseReflection(msg.Content)
	if err != nil {
		log.Printf("[emotion] reflection output parse failed, use fallback: %v", err)
		return s.fallbackGuidance(profile, userMessage, draft)
	}
	if guidance.Tone == "" && profile != nil {
		guidance.Tone = profile.Tone
	}
	return guidance
}

func (s *Service) fallbackGuidance(profile *agent.Profile, userMessage, draft string) Guidance {
	reading := s.fallback(userMessage, draft)

	tone := defaultToneByEmotion[reading.Emotion]
	if tone == "" && profile != nil {
		tone = profile.Tone
	}

	return Guidance{
		Reading:    reading,
		Stage:      reading.Stage(),
		Tone:       tone,
		Reflection: reflectionByEmotion[reading.Emotion],
		Source:     SourceFallback,
	}
}

// parseReflection 解析大模型返回的 JSON，允许前后夹带多余文本。
func parseReflection(content string) (Guidance, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return Guidance{}, fmt.Errorf("missing json object")
	}

	var payload reflectionPayload
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &payload); err != nil {
		return Guidance{}, err
	}

	valence := chat.ParseScore(payload.Valence.String())
	confidence := chat.ParseScore(payload.Confidence.String())
	growth := normalizeGrowth(payload.GrowthSignal)

	return Guidance{
		Reading: analysis.Reading{
			Emotion:    labelForValence(valence),
			Valence:    valence,
			Confidence: confidence,
			Growth:     growth,
		},
		Stage:      chat.StageFor(payload.Stage, valence),
		Tone:       strings.TrimSpace(payload.Tone),
		Reflection: strings.TrimSpace(payload.Reflection),
		Source:     SourceModel,
	}, nil
}

func summarizeAgent(p *agent.Profile) string {
	if p == nil {
		return "无特定 agent 设定。"
	}

	sections := []string{
		fmt.Sprintf("名字:%s", strings.TrimSpace(p.Name)),
		fmt.Sprintf("心智模型:%s", strings.TrimSpace(p.MentalModel)),
	}
	if tone := strings.TrimSpace(p.Tone); tone != "" {
		sections = append(sections, fmt.Sprintf("既有语气:%s", tone))
	}
	return strings.Join(sections, " | ")
}

func formatHistory(messages []chat.Message, limit int) string {
	if len(messages) == 0 {
		return "无历史对话"
	}
	if limit < 1 {
		limit = 1
	}
	start := len(messages) - limit
	if start < 0 {
		start = 0
	}

	var builder strings.Builder
	for i := start; i < len(messages); i++ {
		msg := messages[i]
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		role := "用户"
		if msg.Sender == chat.SenderBot {
			role = "Agent"
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(role)
		builder.WriteString(": ")
		builder.WriteString(content)
	}
	if builder.Len() == 0 {
		return "无历史对话"
	}
	return builder.String()
}

func normalizeGrowth(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case analysis.GrowthRising:
		return analysis.GrowthRising
	case analysis.GrowthStalled:
		return analysis.GrowthStalled
	default:
		return analysis.GrowthSteady
	}
}

func labelForValence(v float64) analysis.Label {
	switch {
	case v > 0.7:
		return analysis.Joyful
	case v < 0.3:
		return analysis.Sad
	default:
		return analysis.Neutral
	}
}

type reflectionPayload struct {
	Valence      scoreField `json:"valence"`
	Confidence   scoreField `json:"confidence"`
	Stage        string     `json:"stage"`
	Tone         string     `json:"tone"`
	GrowthSignal string     `json:"growth_signal"`
	Reflection   string     `json:"reflection"`
}

// scoreField 接受数字或字符串形式的分数。
type scoreField string

func (f *scoreField) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = scoreField(s)
		return nil
	}
	*f = scoreField(raw)
	return nil
}

func (f scoreField) String() string { return string(f) }

const reflectionSystemPrompt = "你是一名对话反思助手。请阅读提供的 agent 设定、历史对话、用户输入以及（可选的）agent 草稿，估计用户当前的情绪效价并给出回复语气建议。\n输出要求：只返回一个 JSON 对象，字段如下：valence (0~1 之间的小数，越大越积极)、confidence (0~1 之间的小数)、stage (positive/neutral/negative 之一)、tone (一个英文单词描述建议语气)、growth_signal (rising/steady/stalled 之一)、reflection (一句简短的中文反思)。不得输出多余文本。"

const reflectionUserPrompt = "Agent 信息：\n{agent}\n\n最近对话：\n{history}\n\n用户最新输入：\n{user_message}\n\nAgent 预期回复草稿（可能为空）：\n{agent_draft}\n\n请基于这些信息给出 JSON。"

var defaultToneByEmotion = map[analysis.Label]string{
	analysis.Joyful:     "bright",
	analysis.Hopeful:    "encouraging",
	analysis.Calm:       "calm",
	analysis.Anxious:    "reassuring",
	analysis.Sad:        "gentle",
	analysis.Frustrated: "steady",
}

var reflectionByEmotion = map[analysis.Label]string{
	analysis.Neutral:    "用户情绪平稳，保持清晰自然的交流。",
	analysis.Joyful:     "用户情绪积极，可以顺势肯定进展。",
	analysis.Hopeful:    "用户带着期待，适合给出具体的下一步。",
	analysis.Calm:       "用户状态放松，可以深入展开话题。",
	analysis.Anxious:    "用户有些担心，先确认感受再给建议。",
	analysis.Sad:        "用户情绪低落，需要耐心倾听与陪伴。",
	analysis.Frustrated: "用户感到受阻，帮助拆解问题并降低门槛。",
}
