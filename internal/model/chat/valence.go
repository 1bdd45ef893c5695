package chat

import (
	"math"
	"strconv"
	"strings"
)

// EmotionalStage 是 valence 的离散化结果，供信任度组件使用。
type EmotionalStage string

const (
	StagePositive EmotionalStage = "positive"
	StageNeutral  EmotionalStage = "neutral"
	StageNegative EmotionalStage = "negative"
)

// DefaultScore 是 valence/confidence 无法解析时的替代值。
const DefaultScore = 0.5

// ValenceState 描述最近一条 bot 回复的情绪基调。
type ValenceState struct {
	Valence           float64        `json:"valence"`
	Confidence        float64        `json:"confidence"`
	EmotionalStage    EmotionalStage `json:"emotionalStage"`
	ReflectionSummary *string        `json:"reflection_summary"`
}

// ParseScore 解析 0..1 的分值，非有限数返回 DefaultScore，结果被截断到 [0,1]。
func ParseScore(raw string) float64 {
	val, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(val) || math.IsInf(val, 0) {
		return DefaultScore
	}
	return Clamp01(val)
}

// Clamp01 将 v 限制在 [0,1]。
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// StageFor 根据显式字段或 valence 阈值推导情绪阶段。
func StageFor(explicit string, valence float64) EmotionalStage {
	switch EmotionalStage(strings.ToLower(strings.TrimSpace(explicit))) {
	case StagePositive:
		return StagePositive
	case StageNeutral:
		return StageNeutral
	case StageNegative:
		return StageNegative
	}

	switch {
	case valence > 0.7:
		return StagePositive
	case valence < 0.3:
		return StageNegative
	default:
		return StageNeutral
	}
}

// NewValenceState 由原始字段构造 ValenceState。
func NewValenceState(valence, confidence, stage, reflection string) ValenceState {
	v := ParseScore(valence)
	state := ValenceState{
		Valence:        v,
		Confidence:     ParseScore(confidence),
		EmotionalStage: StageFor(stage, v),
	}
	if summary := strings.TrimSpace(reflection); summary != "" {
		state.ReflectionSummary = &summary
	}
	return state
}
