package render

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
	"github.com/zhouzirui/z-tavern/streamview/internal/transport"
	"github.com/zhouzirui/z-tavern/streamview/internal/view"
)

type manualTimer struct {
	at      time.Duration
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// manualScheduler fires timers only when the test advances its clock.
// With throttled set it refuses to arm timers, like a background tab.
type manualScheduler struct {
	now       time.Duration
	seq       int
	timers    []*manualTimer
	throttled bool
}

func (m *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	if m.throttled {
		return nil
	}
	t := &manualTimer{at: m.now + d, seq: m.seq, f: f}
	m.seq++
	m.timers = append(m.timers, t)
	return t
}

func (m *manualScheduler) Advance(d time.Duration) {
	target := m.now + d
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.now = next.at
		next.fired = true
		next.f()
	}
	m.now = target
}

// RunAll advances until no timer is pending.
func (m *manualScheduler) RunAll(t *testing.T) {
	t.Helper()
	for i := 0; m.pending() > 0; i++ {
		if i > 10000 {
			t.Fatal("scheduler did not settle")
		}
		m.Advance(time.Second)
	}
}

func (m *manualScheduler) pending() int {
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (m *manualScheduler) nextDue(target time.Duration) *manualTimer {
	var best *manualTimer
	for _, t := range m.timers {
		if t.stopped || t.fired || t.at > target {
			continue
		}
		if best == nil || t.at < best.at || (t.at == best.at && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

func newTestSession(cfg Config) (*Session, *view.State, *manualScheduler) {
	n := 0
	cfg.NewID = func() string {
		n++
		return fmt.Sprintf("msg-%d", n)
	}
	state := view.New()
	sched := &manualScheduler{}
	return NewSession(cfg, state, sched), state, sched
}

func deltaEvent(text string) transport.DeltaEvent {
	return transport.DeltaEvent{Delta: text, Agent: "mentor"}
}

func mustMessage(t *testing.T, state *view.State, id string) chat.Message {
	t.Helper()
	msg, ok := state.Message(id)
	if !ok {
		t.Fatalf("message %s not found", id)
	}
	return msg
}

func TestStreamPreservesDeltaOrder(t *testing.T) {
	for _, hidden := range []bool{false, true} {
		session, state, sched := newTestSession(Config{Hidden: hidden})
		parts := []string{"Hel", "lo, ", "wör", "ld! ", strings.Repeat("z", 37)}

		for i, part := range parts {
			session.Handle(deltaEvent(part))
			sched.Advance(time.Duration(i*7) * time.Millisecond)
		}
		session.Handle(transport.EndEvent{})
		sched.RunAll(t)

		msg := mustMessage(t, state, "msg-1")
		if want := strings.Join(parts, ""); msg.Content != want {
			t.Fatalf("hidden=%v content %q want %q", hidden, msg.Content, want)
		}
		if !msg.IsFinal {
			t.Fatalf("hidden=%v expected final message", hidden)
		}
		if session.State() != StateClosed {
			t.Fatalf("hidden=%v expected closed, got %s", hidden, session.State())
		}
	}
}

func TestStreamMetadataFromFirstChunk(t *testing.T) {
	session, state, sched := newTestSession(Config{})
	session.Handle(transport.DeltaEvent{
		Delta:             "Hi",
		Agent:             "skeptic",
		MentalModel:       "first-principles",
		Tone:              "direct",
		Valence:           transport.Float(0.8),
		GrowthSignal:      "curious",
		ReflectionSummary: "user is testing an idea",
	})
	session.Handle(transport.DeltaEvent{Delta: "!", Agent: "ignored", Valence: transport.Float(0.1)})
	sched.RunAll(t)

	msg := mustMessage(t, state, "msg-1")
	if msg.Sender != chat.SenderBot {
		t.Fatalf("expected bot sender, got %s", msg.Sender)
	}
	if msg.Metadata == nil || msg.Metadata.Agent != "skeptic" || msg.Metadata.MentalModel != "first-principles" {
		t.Fatalf("unexpected metadata %+v", msg.Metadata)
	}
	if msg.Metadata.Valence != 0.8 {
		t.Fatalf("expected valence 0.8, got %v", msg.Metadata.Valence)
	}

	mood, ok := state.Valence()
	if !ok {
		t.Fatal("valence not published")
	}
	if mood.Valence != 0.8 || mood.EmotionalStage != chat.StagePositive {
		t.Fatalf("continuation must not re-derive valence: %+v", mood)
	}
	if mood.ReflectionSummary == nil || *mood.ReflectionSummary != "user is testing an idea" {
		t.Fatalf("unexpected reflection %v", mood.ReflectionSummary)
	}
	if msg.Content != "Hi!" {
		t.Fatalf("unexpected content %q", msg.Content)
	}
	if msg.IsFinal {
		t.Fatal("message must stay open until the stream ends")
	}
}

func TestBatchSizeFollowsVisibility(t *testing.T) {
	session, state, sched := newTestSession(Config{Hidden: true})
	session.Handle(deltaEvent(strings.Repeat("a", 40)))

	if got := len(mustMessage(t, state, "msg-1").Content); got != 15 {
		t.Fatalf("hidden first tick: got %d chars want 15", got)
	}
	sched.Advance(199 * time.Millisecond)
	if got := len(mustMessage(t, state, "msg-1").Content); got != 15 {
		t.Fatalf("hidden tick fired early: %d chars", got)
	}
	sched.Advance(time.Millisecond)
	if got := len(mustMessage(t, state, "msg-1").Content); got != 30 {
		t.Fatalf("hidden second tick: got %d chars want 30", got)
	}
	sched.Advance(200 * time.Millisecond)
	if got := len(mustMessage(t, state, "msg-1").Content); got != 40 {
		t.Fatalf("hidden third tick: got %d chars want 40", got)
	}

	session.Handle(deltaEvent(strings.Repeat("b", 30)))
	sched.Advance(200 * time.Millisecond)
	session.SetVisible(true)
	before := len(mustMessage(t, state, "msg-1").Content)
	sched.Advance(200 * time.Millisecond)
	if got := len(mustMessage(t, state, "msg-1").Content) - before; got != 1 {
		t.Fatalf("next tick after the hidden delay must be a visible batch of 1, got %d", got)
	}
	sched.Advance(20 * time.Millisecond)
	if got := len(mustMessage(t, state, "msg-1").Content) - before; got != 2 {
		t.Fatalf("visible tick should add 1 char, total delta %d", got)
	}
}

func TestVisibleCadence(t *testing.T) {
	session, state, sched := newTestSession(Config{})
	session.Handle(deltaEvent("abcdef"))

	if got := mustMessage(t, state, "msg-1").Content; got != "a" {
		t.Fatalf("first visible tick: %q", got)
	}
	sched.Advance(20 * time.Millisecond)
	if got := mustMessage(t, state, "msg-1").Content; got != "ab" {
		t.Fatalf("second visible tick: %q", got)
	}
	if sched.pending() != 1 {
		t.Fatalf("expected exactly one scheduled tick, got %d", sched.pending())
	}
}

func TestResumeOnVisibility(t *testing.T) {
	session, state, sched := newTestSession(Config{Hidden: true})
	sched.throttled = true

	session.Handle(deltaEvent(strings.Repeat("x", 30)))
	if got := len(mustMessage(t, state, "msg-1").Content); got != 15 {
		t.Fatalf("expected one hidden batch, got %d", got)
	}
	if session.Buffered() != 15 {
		t.Fatalf("expected 15 buffered, got %d", session.Buffered())
	}

	sched.Advance(time.Hour)
	if got := len(mustMessage(t, state, "msg-1").Content); got != 15 {
		t.Fatalf("throttled view must stall, got %d", got)
	}

	sched.throttled = false
	session.SetVisible(true)
	if got := len(mustMessage(t, state, "msg-1").Content); got != 16 {
		t.Fatalf("visibility restore should drain immediately, got %d", got)
	}

	session.Handle(transport.EndEvent{})
	sched.RunAll(t)
	msg := mustMessage(t, state, "msg-1")
	if msg.Content != strings.Repeat("x", 30) || !msg.IsFinal {
		t.Fatalf("unexpected message after resume: %+v", msg)
	}
}

func TestVisibilityDoesNotDuplicateEmitter(t *testing.T) {
	session, _, sched := newTestSession(Config{})
	session.Handle(deltaEvent("abcdef"))

	session.SetVisible(false)
	session.SetVisible(true)
	if sched.pending() != 1 {
		t.Fatalf("expected one pending tick, got %d", sched.pending())
	}
}

func TestFinalizedMessageIsImmutable(t *testing.T) {
	session, state, sched := newTestSession(Config{})
	session.Handle(deltaEvent("done"))
	session.Handle(transport.EndEvent{})
	sched.RunAll(t)

	session.Handle(deltaEvent("late"))
	sched.RunAll(t)

	first := mustMessage(t, state, "msg-1")
	if first.Content != "done" || !first.IsFinal {
		t.Fatalf("finalized message changed: %+v", first)
	}
	second := mustMessage(t, state, "msg-2")
	if second.Content != "late" {
		t.Fatalf("late delta should open a new message, got %q", second.Content)
	}
}

func TestNewStreamSettlesPreviousMessage(t *testing.T) {
	session, state, sched := newTestSession(Config{})
	session.Handle(deltaEvent("first reply"))
	session.Handle(transport.EndEvent{})
	sched.Advance(40 * time.Millisecond)

	session.Handle(deltaEvent("second"))

	open := 0
	for _, msg := range state.Snapshot() {
		if !msg.IsFinal {
			open++
		}
	}
	if open != 1 {
		t.Fatalf("expected exactly one open message, got %d", open)
	}
	if got := mustMessage(t, state, "msg-1"); got.Content != "first reply" || !got.IsFinal {
		t.Fatalf("previous message not settled: %+v", got)
	}

	session.Handle(transport.EndEvent{})
	sched.RunAll(t)
	if got := mustMessage(t, state, "msg-2"); got.Content != "second" || !got.IsFinal {
		t.Fatalf("unexpected second message: %+v", got)
	}
}

func TestStreamErrorKeepsPartialContent(t *testing.T) {
	session, state, sched := newTestSession(Config{})
	state.SetTyping(true)
	state.SetLoading(true)

	session.Handle(deltaEvent("Hel"))
	sched.RunAll(t)
	session.Handle(transport.ErrorEvent{Message: "upstream closed"})

	messages := state.Snapshot()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "Hel" || messages[0].IsFinal {
		t.Fatalf("partial message should stay as-is: %+v", messages[0])
	}
	if messages[1].Content != ErrorNotice || messages[1].Sender != chat.SenderBot {
		t.Fatalf("unexpected error message: %+v", messages[1])
	}
	if state.Typing() || state.Loading() {
		t.Fatal("indicators should be off after error")
	}
	if session.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", session.State())
	}

	session.Handle(deltaEvent("retry"))
	session.Handle(transport.EndEvent{})
	sched.RunAll(t)
	if got := mustMessage(t, state, "msg-3"); got.Content != "retry" || !got.IsFinal {
		t.Fatalf("new stream after error should start normally: %+v", got)
	}
}

func TestStreamErrorStopsDraining(t *testing.T) {
	session, state, sched := newTestSession(Config{})
	session.Handle(deltaEvent("Hello"))
	session.Handle(transport.ErrorEvent{})
	sched.RunAll(t)

	if got := mustMessage(t, state, "msg-1").Content; got != "H" {
		t.Fatalf("buffered characters must not be displayed after error, got %q", got)
	}
	if session.Buffered() != 4 {
		t.Fatalf("buffer should be left in place, got %d", session.Buffered())
	}

	session.SetVisible(false)
	session.SetVisible(true)
	if got := mustMessage(t, state, "msg-1").Content; got != "H" {
		t.Fatalf("visibility must not resume a failed stream, got %q", got)
	}
}

func TestValenceDerivation(t *testing.T) {
	cases := []struct {
		frame      string
		valence    float64
		confidence float64
		stage      chat.EmotionalStage
	}{
		{`{"event":"agent_response_stream","data":{"delta":"a","valence":"1.7","confidence":0.9}}`, 1, 0.9, chat.StagePositive},
		{`{"event":"agent_response_stream","data":{"delta":"a","valence":"abc"}}`, 0.5, 0.5, chat.StageNeutral},
		{`{"event":"agent_response_stream","data":"{\"delta\":\"a\",\"valence\":0.1}"}`, 0.1, 0.5, chat.StageNegative},
		{`{"event":"agent_response_stream","data":{"delta":"a","valence":0.1,"emotionalStage":"positive"}}`, 0.1, 0.5, chat.StagePositive},
	}

	for _, tc := range cases {
		session, state, _ := newTestSession(Config{})
		session.Ingest([]byte(tc.frame))

		mood, ok := state.Valence()
		if !ok {
			t.Fatalf("%s: valence not published", tc.frame)
		}
		if mood.Valence != tc.valence || mood.Confidence != tc.confidence || mood.EmotionalStage != tc.stage {
			t.Fatalf("%s: got %+v", tc.frame, mood)
		}
	}
}

func TestCompleteMessageReveal(t *testing.T) {
	session, state, sched := newTestSession(Config{})
	state.SetTyping(true)
	session.Ingest([]byte(`{"event":"agent_response","data":{"message":"Hi there","agent":"mentor","valence":0.9}}`))

	if got := mustMessage(t, state, "msg-1").Content; got != "H" {
		t.Fatalf("reveal should start immediately, got %q", got)
	}
	if session.Buffered() != 0 {
		t.Fatal("complete mode must not use the character buffer")
	}

	sched.RunAll(t)
	msg := mustMessage(t, state, "msg-1")
	if msg.Content != "Hi there" || !msg.IsFinal {
		t.Fatalf("unexpected revealed message: %+v", msg)
	}
	if state.Typing() {
		t.Fatal("typing should be off after reveal")
	}
	if mood, _ := state.Valence(); mood.EmotionalStage != chat.StagePositive {
		t.Fatalf("unexpected stage %s", mood.EmotionalStage)
	}
}

func TestNewMessageCancelsPendingReveal(t *testing.T) {
	session, state, sched := newTestSession(Config{})
	session.Handle(transport.ResponseEvent{Message: "abcdef"})
	sched.Advance(20 * time.Millisecond)

	session.Handle(deltaEvent("next"))
	sched.RunAll(t)

	first := mustMessage(t, state, "msg-1")
	if first.Content != "abcdef" || !first.IsFinal {
		t.Fatalf("superseded reveal should be completed and final: %+v", first)
	}
	if got := mustMessage(t, state, "msg-2").Content; got != "next" {
		t.Fatalf("unexpected second message %q", got)
	}
}

func TestCompleteMessageSupersedesOpenStream(t *testing.T) {
	session, state, sched := newTestSession(Config{})
	session.Handle(deltaEvent("partial"))
	session.Handle(transport.ResponseEvent{Message: "full"})
	sched.RunAll(t)

	if got := mustMessage(t, state, "msg-1"); got.Content != "partial" || !got.IsFinal {
		t.Fatalf("open stream should be flushed and finalized: %+v", got)
	}
	if got := mustMessage(t, state, "msg-2"); got.Content != "full" || !got.IsFinal {
		t.Fatalf("unexpected complete message: %+v", got)
	}
	if session.ActiveMessageID() != "" {
		t.Fatal("no stream should be open")
	}
}

func TestMalformedAndEmptyDeltasAreSkipped(t *testing.T) {
	session, state, sched := newTestSession(Config{})
	session.Handle(deltaEvent(""))
	if len(state.Snapshot()) != 0 {
		t.Fatal("empty delta must not open a message")
	}

	session.Handle(deltaEvent("ok"))
	session.Ingest([]byte(`{"event":"agent_response_stream","data":"{broken"}`))
	session.Ingest([]byte(`not even json`))
	session.Handle(deltaEvent("!"))
	session.Handle(transport.EndEvent{})
	sched.RunAll(t)

	if got := mustMessage(t, state, "msg-1"); got.Content != "ok!" || !got.IsFinal {
		t.Fatalf("malformed frames should not disturb the session: %+v", got)
	}
}

func TestIdleEmitterRestartsOnContinuation(t *testing.T) {
	session, state, sched := newTestSession(Config{})
	session.Handle(deltaEvent("ab"))
	sched.RunAll(t)

	if msg := mustMessage(t, state, "msg-1"); msg.IsFinal {
		t.Fatal("drained buffer must not finalize an open stream")
	}
	session.Handle(deltaEvent("cd"))
	session.Handle(transport.EndEvent{})
	sched.RunAll(t)

	if got := mustMessage(t, state, "msg-1"); got.Content != "abcd" || !got.IsFinal {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestEndWithoutStream(t *testing.T) {
	session, state, _ := newTestSession(Config{})
	state.SetTyping(true)
	state.SetLoading(true)

	session.Handle(transport.EndEvent{})
	if state.Typing() || state.Loading() {
		t.Fatal("indicators should be off")
	}
	if session.State() != StateClosed {
		t.Fatalf("expected closed, got %s", session.State())
	}
}

func TestCloseCancelsTimers(t *testing.T) {
	session, state, sched := newTestSession(Config{})
	session.Handle(deltaEvent("Hello"))
	session.Close()
	sched.Advance(time.Second)

	if got := mustMessage(t, state, "msg-1").Content; got != "H" {
		t.Fatalf("closed session kept drawing: %q", got)
	}
	if sched.pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", sched.pending())
	}
	session.Handle(deltaEvent("ignored"))
	if len(state.Snapshot()) != 1 {
		t.Fatal("closed session must ignore events")
	}
}

func TestSubmitUserRaisesIndicators(t *testing.T) {
	session, state, _ := newTestSession(Config{})
	msg := session.SubmitUser("hello")

	if msg.Sender != chat.SenderUser || !msg.IsFinal {
		t.Fatalf("unexpected user message %+v", msg)
	}
	if !state.Typing() || !state.Loading() {
		t.Fatal("indicators should be on while waiting for the reply")
	}
}
