package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind 是帧上的事件名。
type Kind string

const (
	KindResponse    Kind = "agent_response"
	KindDelta       Kind = "agent_response_stream"
	KindEnd         Kind = "agent_response_stream_end"
	KindError       Kind = "agent_response_stream_error"
	KindUserMessage Kind = "user_message"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMalformedDelta = errors.New("malformed delta")
	ErrUnknownEvent   = errors.New("unknown event")
)

// Event is the decoded form of one socket frame. The concrete type is one of
// ResponseEvent, DeltaEvent, EndEvent, ErrorEvent or UserMessageEvent.
type Event interface {
	Kind() Kind
}

// ResponseEvent 一次性下发完整回复（非流式模式）。
type ResponseEvent struct {
	Message           string `json:"message"`
	Agent             string `json:"agent,omitempty"`
	MentalModel       string `json:"mental_model,omitempty"`
	Tone              string `json:"tone,omitempty"`
	Valence           Scalar `json:"valence"`
	Confidence        Scalar `json:"confidence"`
	GrowthSignal      string `json:"growth_signal,omitempty"`
	ReflectionSummary string `json:"reflection_summary,omitempty"`
	EmotionalStage    string `json:"emotionalStage,omitempty"`
}

// DeltaEvent 是流式回复中的一个文本分片。元数据只在首个分片上有意义。
type DeltaEvent struct {
	Delta             string `json:"delta"`
	Agent             string `json:"agent,omitempty"`
	MentalModel       string `json:"mental_model,omitempty"`
	Tone              string `json:"tone,omitempty"`
	Valence           Scalar `json:"valence"`
	Confidence        Scalar `json:"confidence"`
	GrowthSignal      string `json:"growth_signal,omitempty"`
	ReflectionSummary string `json:"reflection_summary,omitempty"`
	EmotionalStage    string `json:"emotionalStage,omitempty"`
}

// EndEvent 标记流式回复结束，没有负载。
type EndEvent struct{}

// ErrorEvent 表示服务端生成失败。
type ErrorEvent struct {
	Message string `json:"message,omitempty"`
}

// UserMessageEvent 由客户端发往服务端。
type UserMessageEvent struct {
	Text  string `json:"text"`
	Agent string `json:"agent,omitempty"`
}

func (ResponseEvent) Kind() Kind    { return KindResponse }
func (DeltaEvent) Kind() Kind       { return KindDelta }
func (EndEvent) Kind() Kind         { return KindEnd }
func (ErrorEvent) Kind() Kind       { return KindError }
func (UserMessageEvent) Kind() Kind { return KindUserMessage }

type frame struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode 将一帧解析为具体事件。负载既可以是对象，也可以是包含 JSON 对象的字符串。
func Decode(raw []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Event {
	case KindDelta:
		var ev DeltaEvent
		if err := decodePayload(f.Data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDelta, err)
		}
		return ev, nil
	case KindResponse:
		var ev ResponseEvent
		if err := decodePayload(f.Data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return ev, nil
	case KindEnd:
		return EndEvent{}, nil
	case KindError:
		return decodeError(f.Data), nil
	case KindUserMessage:
		var ev UserMessageEvent
		if err := decodePayload(f.Data, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

// Encode 将事件编码为一帧。
func Encode(ev Event) ([]byte, error) {
	f := frame{Event: ev.Kind()}
	if _, empty := ev.(EndEvent); !empty {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", ev.Kind(), err)
		}
		f.Data = data
	}
	return json.Marshal(f)
}

func decodePayload(data json.RawMessage, out any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return errors.New("missing payload")
	}

	if trimmed[0] == '"' {
		var encoded string
		if err := json.Unmarshal(trimmed, &encoded); err != nil {
			return err
		}
		trimmed = []byte(encoded)
	}
	return json.Unmarshal(trimmed, out)
}

// decodeError 从不失败：错误信号本身不能因为负载异常而丢失。
func decodeError(data json.RawMessage) ErrorEvent {
	var ev ErrorEvent
	if err := decodePayload(data, &ev); err == nil {
		return ev
	}

	var text string
	if err := json.Unmarshal(bytes.TrimSpace(data), &text); err == nil {
		ev.Message = text
	}
	return ev
}
