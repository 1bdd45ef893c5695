package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/z-tavern/streamview/internal/model/agent"
)

// mentalModelHints 描述每种心智模型在回复中的表现方式。
var mentalModelHints = map[string][]string{
	"growth-mindset": {
		"把挫折描述为练习的一部分",
		"肯定用户付出的努力，而不是天赋",
		"每次回复至多给出一个具体的下一步",
	},
	"first-principles": {
		"先分清事实与推测",
		"把问题拆回最基本的假设再重新推理",
		"先复述对方观点的最强版本，再提出质疑",
	},
	"stoic-reflection": {
		"先映照用户的感受，再回应内容",
		"区分可以控制与无法控制的部分",
		"语速放慢，句子简短",
	},
}

// BuildSystemPrompt 为 agent 构造系统提示词。
func BuildSystemPrompt(profile *agent.Profile) string {
	if profile == nil {
		return "你是一个友好、简洁的对话助手。"
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("你是%s，一个以「%s」心智模型与用户对话的 agent。\n", profile.Name, profile.MentalModel))
	if profile.Description != "" {
		builder.WriteString("简介：")
		builder.WriteString(profile.Description)
		builder.WriteString("\n")
	}
	builder.WriteString(fmt.Sprintf("语气：%s\n", profile.Tone))
	if profile.PromptHint != "" {
		builder.WriteString("提示：")
		builder.WriteString(profile.PromptHint)
		builder.WriteString("\n")
	}

	if hints := mentalModelHints[profile.MentalModel]; len(hints) > 0 {
		builder.WriteString("\n思考方式：\n- ")
		builder.WriteString(strings.Join(hints, "\n- "))
		builder.WriteString("\n")
	}
	if len(profile.Principles) > 0 {
		builder.WriteString("\n回复原则：\n- ")
		builder.WriteString(strings.Join(profile.Principles, "\n- "))
		builder.WriteString("\n")
	}

	builder.WriteString("\n请使用用户的语言回复，保持角色一致。")
	if profile.OpeningLine != "" {
		builder.WriteString("\n开场白参考：")
		builder.WriteString(profile.OpeningLine)
	}
	return builder.String()
}
