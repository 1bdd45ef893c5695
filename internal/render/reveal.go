package render

import "github.com/zhouzirui/z-tavern/streamview/internal/metrics"

// revealStep 是完整消息模式的逐字展示，不经过字符缓冲区。
func (s *Session) revealStep() {
	s.reveal = nil
	if s.revealID == "" {
		return
	}

	if s.revealPos >= len(s.revealText) {
		id := s.revealID
		s.clearReveal()
		s.sink.Finalize(id)
		s.sink.SetTyping(false)
		s.sink.SetLoading(false)
		metrics.MessageFinalized(modeComplete, metrics.OutcomeCompleted, s.cfg.Now().Sub(s.revealAt))
		if s.drainID == "" && s.activeID == "" {
			s.state = StateClosed
		}
		return
	}

	next := string(s.revealText[s.revealPos])
	s.revealPos++
	if !s.sink.AppendContent(s.revealID, next) {
		s.clearReveal()
		return
	}
	metrics.CharactersDrained(1)

	s.revealGen++
	gen := s.revealGen
	s.reveal = s.sched.AfterFunc(s.cfg.RevealInterval, func() {
		if s.closed || gen != s.revealGen {
			return
		}
		s.revealStep()
	})
}

// settleReveal 取消待执行的逐字展示，并把剩余文本一次写完后收尾，
// 避免过期的定时器修改已经被取代的消息。
func (s *Session) settleReveal() {
	if s.revealID == "" {
		return
	}
	s.stopReveal()

	id := s.revealID
	rest := s.revealText[s.revealPos:]
	if len(rest) > 0 && s.sink.AppendContent(id, string(rest)) {
		metrics.CharactersDrained(len(rest))
	}
	s.clearReveal()
	s.sink.Finalize(id)
	metrics.MessageFinalized(modeComplete, metrics.OutcomeSuperseded, s.cfg.Now().Sub(s.revealAt))
}

func (s *Session) stopReveal() {
	if s.reveal != nil {
		s.reveal.Stop()
		s.reveal = nil
	}
	s.revealGen++
}

func (s *Session) clearReveal() {
	s.revealID = ""
	s.revealText = nil
	s.revealPos = 0
}
