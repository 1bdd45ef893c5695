package emotion

import (
	"strings"

	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
)

// Label 表示一段话语的主导情绪。
type Label string

const (
	Neutral    Label = "neutral"
	Joyful     Label = "joyful"
	Hopeful    Label = "hopeful"
	Calm       Label = "calm"
	Anxious    Label = "anxious"
	Sad        Label = "sad"
	Frustrated Label = "frustrated"
)

// Growth signals attached to agent replies.
const (
	GrowthRising  = "rising"
	GrowthSteady  = "steady"
	GrowthStalled = "stalled"
)

// Reading 给出情绪识别结果以及 valence 估计。
type Reading struct {
	Emotion    Label
	Valence    float64
	Confidence float64
	Growth     string
	Score      int
}

// Stage 返回离散化的情绪阶段。
func (r Reading) Stage() chat.EmotionalStage {
	return chat.StageFor("", r.Valence)
}

// 正值代表积极情绪，负值代表消极情绪。
var labelPolarity = map[Label]int{
	Joyful:     2,
	Hopeful:    1,
	Calm:       1,
	Anxious:    -1,
	Sad:        -2,
	Frustrated: -2,
}

var keywordBuckets = map[Label][]string{
	Joyful: {
		"开心", "高兴", "太好了", "太棒了", "哈哈", "great", "awesome", "amazing", "love", "thanks", "thank you", "glad",
	},
	Hopeful: {
		"希望", "期待", "试试", "也许可以", "hope", "looking forward", "excited", "can't wait", "let's try",
	},
	Calm: {
		"平静", "放松", "还好", "慢慢来", "calm", "relaxed", "fine", "okay", "peaceful", "steady",
	},
	Anxious: {
		"担心", "焦虑", "紧张", "害怕", "worried", "anxious", "nervous", "afraid", "scared", "overwhelmed",
	},
	Sad: {
		"难过", "伤心", "失落", "孤单", "sad", "lonely", "down", "cry", "hurt", "miss",
	},
	Frustrated: {
		"烦", "生气", "受够了", "卡住", "angry", "annoyed", "stuck", "frustrated", "hate", "fed up",
	},
}

var growthKeywords = map[string][]string{
	GrowthRising:  {"学到", "下一步", "计划", "练习", "learn", "next step", "plan", "practice", "improve"},
	GrowthStalled: {"放弃", "没用", "做不到", "give up", "pointless", "can't do", "no use"},
}

// Analyze 根据用户话语与 agent 回复估计 valence。
func Analyze(userUtterance, agentUtterance string) Reading {
	userScore := scoreText(userUtterance)
	agentScore := scoreText(agentUtterance)

	final := agentScore
	// agent 回复缺少明显情绪时，以用户情绪为准。
	if final.Score == 0 && userScore.Score > 0 {
		final = userScore
	}

	final.Growth = detectGrowth(userUtterance + " " + agentUtterance)
	if final.Score == 0 {
		final.Emotion = Neutral
		final.Valence = chat.DefaultScore
		final.Confidence = 0.3
		return final
	}

	net := labelPolarity[final.Emotion] * final.Score
	final.Valence = chat.Clamp01(0.5 + float64(net)*0.04)
	final.Confidence = 0.4 + float64(final.Score)*0.05
	if final.Confidence > 0.95 {
		final.Confidence = 0.95
	}
	return final
}

func scoreText(text string) Reading {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Reading{Emotion: Neutral}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	if exclamations := strings.Count(text, "!") + strings.Count(text, "！"); exclamations > 0 && scores[Joyful] > 0 {
		scores[Joyful] += exclamations
	}

	best := Neutral
	bestScore := 0
	for _, label := range []Label{Joyful, Hopeful, Calm, Anxious, Sad, Frustrated} {
		if scores[label] > bestScore {
			best = label
			bestScore = scores[label]
		}
	}
	return Reading{Emotion: best, Score: bestScore}
}

func detectGrowth(text string) string {
	normalized := strings.ToLower(text)
	for _, signal := range []string{GrowthStalled, GrowthRising} {
		for _, word := range growthKeywords[signal] {
			if strings.Contains(normalized, word) {
				return signal
			}
		}
	}
	return GrowthSteady
}
