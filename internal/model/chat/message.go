package chat

import "time"

// Sender 标识消息的发送方。
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Metadata 来自流的首个分片，描述回复它的 agent 以及情绪线索。
type Metadata struct {
	Agent             string  `json:"agent,omitempty"`
	MentalModel       string  `json:"mentalModel,omitempty"`
	Tone              string  `json:"tone,omitempty"`
	Valence           float64 `json:"valence"`
	GrowthSignal      string  `json:"growthSignal,omitempty"`
	ReflectionSummary string  `json:"reflectionSummary,omitempty"`
}

// Message 是展示给用户的一条聊天内容。Content 在 IsFinal 之前只增不减。
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId,omitempty"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	IsFinal   bool      `json:"isFinal"`
	CreatedAt time.Time `json:"createdAt"`
}
