package view

import (
	"sync"

	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
)

// ChangeKind 描述一次状态变化。
type ChangeKind string

const (
	ChangeAppended  ChangeKind = "appended"
	ChangeContent   ChangeKind = "content"
	ChangeFinalized ChangeKind = "finalized"
	ChangeTyping    ChangeKind = "typing"
	ChangeLoading   ChangeKind = "loading"
	ChangeValence   ChangeKind = "valence"
)

// Change is delivered to listeners after the state has been updated. Text
// carries the appended fragment for ChangeContent and the full content for
// ChangeAppended.
type Change struct {
	Kind      ChangeKind
	MessageID string
	Sender    chat.Sender
	Text      string
	On        bool
}

// Listener 在写入方的 goroutine 上同步调用，不能阻塞。
type Listener func(Change)

// State owns the chat transcript shown to the user together with the
// typing/loading indicators and the latest valence. It is safe for
// concurrent readers; writes normally come from a single render loop.
type State struct {
	mu        sync.RWMutex
	messages  []chat.Message
	index     map[string]int
	typing    bool
	loading   bool
	valence   chat.ValenceState
	hasMood   bool
	listeners []Listener
}

// New returns an empty State.
func New() *State {
	return &State{index: make(map[string]int)}
}

// Subscribe registers a listener for future changes.
func (s *State) Subscribe(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// AppendMessage adds a message to the end of the transcript. Duplicate ids are ignored.
func (s *State) AppendMessage(msg chat.Message) {
	s.mu.Lock()
	if _, exists := s.index[msg.ID]; exists {
		s.mu.Unlock()
		return
	}
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeAppended, MessageID: msg.ID, Sender: msg.Sender, Text: msg.Content})
}

// AppendContent grows a message that is not yet final.
func (s *State) AppendContent(id, text string) bool {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok || s.messages[i].IsFinal {
		s.mu.Unlock()
		return false
	}
	s.messages[i].Content += text
	sender := s.messages[i].Sender
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeContent, MessageID: id, Sender: sender, Text: text})
	return true
}

// Finalize marks a message complete; later appends are rejected.
func (s *State) Finalize(id string) {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok || s.messages[i].IsFinal {
		s.mu.Unlock()
		return
	}
	s.messages[i].IsFinal = true
	sender := s.messages[i].Sender
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeFinalized, MessageID: id, Sender: sender})
}

func (s *State) SetTyping(on bool) {
	s.mu.Lock()
	changed := s.typing != on
	s.typing = on
	s.mu.Unlock()

	if changed {
		s.notify(Change{Kind: ChangeTyping, On: on})
	}
}

func (s *State) SetLoading(on bool) {
	s.mu.Lock()
	changed := s.loading != on
	s.loading = on
	s.mu.Unlock()

	if changed {
		s.notify(Change{Kind: ChangeLoading, On: on})
	}
}

func (s *State) PublishValence(state chat.ValenceState) {
	s.mu.Lock()
	s.valence = state
	s.hasMood = true
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeValence, Text: string(state.EmotionalStage)})
}

// Snapshot returns a copy of the transcript.
func (s *State) Snapshot() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.Message(nil), s.messages...)
}

// Message returns one message by id.
func (s *State) Message(id string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return chat.Message{}, false
	}
	return s.messages[i], true
}

func (s *State) Typing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing
}

func (s *State) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Valence returns the latest published valence and whether one exists.
func (s *State) Valence() (chat.ValenceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valence, s.hasMood
}

func (s *State) notify(change Change) {
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()

	for _, l := range listeners {
		l(change)
	}
}
