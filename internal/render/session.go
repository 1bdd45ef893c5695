package render

import (
	"log"
	"time"

	"github.com/zhouzirui/z-tavern/streamview/internal/metrics"
	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
	"github.com/zhouzirui/z-tavern/streamview/internal/transport"
)

// Sink is the UI state the renderer writes into. It owns the message list;
// the session only appends messages and mutates the one it is drawing.
type Sink interface {
	AppendMessage(msg chat.Message)
	// AppendContent returns false when the message is missing or final.
	AppendContent(id, text string) bool
	Finalize(id string)
	SetTyping(on bool)
	SetLoading(on bool)
	PublishValence(state chat.ValenceState)
}

// State 是单次 bot 回复的生命周期。
type State string

const (
	StateIdle     State = "idle"
	StateOpen     State = "open"
	StateDraining State = "draining"
	StateClosed   State = "closed"
	StateFailed   State = "failed"
)

const (
	modeStream   = "stream"
	modeComplete = "complete"
)

// Session 把 socket 帧转换为逐字出现的消息。一个聊天视图持有一个 Session，
// 卸载时调用 Close。Session 不是并发安全的，所有方法都必须在同一个 Loop 上调用。
type Session struct {
	cfg   Config
	sink  Sink
	sched Scheduler

	state      State
	visible    bool
	firstChunk bool
	closed     bool

	// activeID 仅在流打开期间非空；drainID 是 Emitter 正在写入的消息，
	// 流结束后仍可能在排空剩余字符。
	activeID string
	drainID  string
	ended    bool
	buffer   []rune
	tick     Timer
	tickGen  uint64
	drainAt  time.Time

	revealID   string
	revealText []rune
	revealPos  int
	reveal     Timer
	revealGen  uint64
	revealAt   time.Time
}

// NewSession 创建一个空闲的 Session。
func NewSession(cfg Config, sink Sink, sched Scheduler) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:        cfg,
		sink:       sink,
		sched:      sched,
		state:      StateIdle,
		visible:    !cfg.Hidden,
		firstChunk: true,
	}
}

// State returns the lifecycle state of the current bot reply.
func (s *Session) State() State { return s.state }

// Buffered returns the number of characters waiting to be displayed.
func (s *Session) Buffered() int { return len(s.buffer) }

// Visible reports the last visibility passed to SetVisible.
func (s *Session) Visible() bool { return s.visible }

// ActiveMessageID returns the message receiving deltas, empty when no stream is open.
func (s *Session) ActiveMessageID() string { return s.activeID }

// Ingest 解码一帧并处理。无法解码的帧记录日志后丢弃，不影响当前会话。
func (s *Session) Ingest(frame []byte) {
	ev, err := transport.Decode(frame)
	if err != nil {
		metrics.FrameMalformed()
		log.Printf("[render] discard frame: %v", err)
		return
	}
	s.Handle(ev)
}

// Handle 处理一个已解码的事件。
func (s *Session) Handle(ev transport.Event) {
	if s.closed {
		return
	}
	metrics.FrameHandled(string(ev.Kind()))

	switch e := ev.(type) {
	case transport.DeltaEvent:
		s.onDelta(e)
	case transport.ResponseEvent:
		s.onResponse(e)
	case transport.EndEvent:
		s.onEnd()
	case transport.ErrorEvent:
		s.onError(e)
	default:
		log.Printf("[render] ignore %s event", ev.Kind())
	}
}

// SubmitUser 追加一条用户消息并打开 typing/loading 指示。
func (s *Session) SubmitUser(text string) chat.Message {
	msg := chat.Message{
		ID:        s.cfg.NewID(),
		Sender:    chat.SenderUser,
		Content:   text,
		IsFinal:   true,
		CreatedAt: s.cfg.Now(),
	}
	if s.closed {
		return msg
	}
	s.sink.AppendMessage(msg)
	s.sink.SetTyping(true)
	s.sink.SetLoading(true)
	return msg
}

// SetVisible 更新页面可见性。从隐藏切回可见时，如果缓冲区仍有字符而没有
// 待执行的 tick，立即重启 Emitter。
func (s *Session) SetVisible(visible bool) {
	was := s.visible
	s.visible = visible
	if s.closed || was || !visible {
		return
	}
	if s.drainID != "" && len(s.buffer) > 0 && s.tick == nil {
		s.startEmitter()
	}
}

// Close 取消全部定时器。之后的调用都不再产生效果。
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.stopTick()
	s.stopReveal()
	s.closed = true
	s.state = StateClosed
}

func (s *Session) onDelta(d transport.DeltaEvent) {
	if d.Delta == "" {
		return
	}
	chars := []rune(d.Delta)

	if !s.firstChunk {
		s.buffer = append(s.buffer, chars...)
		if s.tick == nil {
			s.startEmitter()
		}
		return
	}

	s.settleReveal()
	s.settleDrain()

	id := s.openMessage(chat.Metadata{
		Agent:             d.Agent,
		MentalModel:       d.MentalModel,
		Tone:              d.Tone,
		Valence:           chat.ParseScore(d.Valence.String()),
		GrowthSignal:      d.GrowthSignal,
		ReflectionSummary: d.ReflectionSummary,
	})
	s.publishValence(d.Valence, d.Confidence, d.EmotionalStage, d.ReflectionSummary)

	s.activeID = id
	s.drainID = id
	s.ended = false
	s.drainAt = s.cfg.Now()
	s.buffer = append(s.buffer[:0], chars...)
	s.firstChunk = false
	s.state = StateOpen
	s.startEmitter()
}

func (s *Session) onResponse(r transport.ResponseEvent) {
	s.settleReveal()
	if s.activeID != "" {
		// 两种投递模式对同一条消息互斥，完整消息到达即视为旧流结束。
		s.ended = true
		s.activeID = ""
		s.firstChunk = true
	}
	s.settleDrain()

	id := s.openMessage(chat.Metadata{
		Agent:             r.Agent,
		MentalModel:       r.MentalModel,
		Tone:              r.Tone,
		Valence:           chat.ParseScore(r.Valence.String()),
		GrowthSignal:      r.GrowthSignal,
		ReflectionSummary: r.ReflectionSummary,
	})
	s.publishValence(r.Valence, r.Confidence, r.EmotionalStage, r.ReflectionSummary)

	s.revealID = id
	s.revealText = []rune(r.Message)
	s.revealPos = 0
	s.revealAt = s.cfg.Now()
	s.state = StateDraining
	s.revealStep()
}

func (s *Session) onEnd() {
	if s.drainID != "" && s.activeID == s.drainID {
		s.ended = true
	}
	s.activeID = ""
	s.firstChunk = true

	switch {
	case s.drainID == "":
		s.sink.SetTyping(false)
		s.sink.SetLoading(false)
		if s.revealID == "" {
			s.state = StateClosed
		}
	case s.tick != nil:
		// 已调度的 tick 会在缓冲区排空后完成收尾。
	case len(s.buffer) > 0:
		s.startEmitter()
	default:
		s.finalizeDrain(metrics.OutcomeCompleted)
	}
}

func (s *Session) onError(e transport.ErrorEvent) {
	if e.Message != "" {
		log.Printf("[render] stream failed: %s", e.Message)
	}

	s.stopTick()
	if s.drainID != "" {
		metrics.MessageFinalized(modeStream, metrics.OutcomeError, s.cfg.Now().Sub(s.drainAt))
	}
	// 已经显示的内容保留，剩余缓冲既不丢弃也不再显示。
	s.drainID = ""
	s.ended = false
	s.activeID = ""
	s.firstChunk = true

	s.sink.AppendMessage(chat.Message{
		ID:        s.cfg.NewID(),
		Sender:    chat.SenderBot,
		Content:   ErrorNotice,
		IsFinal:   true,
		CreatedAt: s.cfg.Now(),
	})
	s.sink.SetTyping(false)
	s.sink.SetLoading(false)
	s.state = StateFailed
}

func (s *Session) openMessage(meta chat.Metadata) string {
	id := s.cfg.NewID()
	s.sink.AppendMessage(chat.Message{
		ID:        id,
		Sender:    chat.SenderBot,
		Content:   "",
		Metadata:  &meta,
		CreatedAt: s.cfg.Now(),
	})
	return id
}

func (s *Session) publishValence(valence, confidence transport.Scalar, stage, reflection string) {
	s.sink.PublishValence(chat.NewValenceState(valence.String(), confidence.String(), stage, reflection))
}
