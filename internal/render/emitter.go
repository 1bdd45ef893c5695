package render

import (
	"log"
	"time"

	"github.com/zhouzirui/z-tavern/streamview/internal/metrics"
)

// cadence 按可见性返回本次 tick 的批量与下一次 tick 的延迟。
func (s *Session) cadence() (int, time.Duration) {
	if s.visible {
		return s.cfg.VisibleBatch, s.cfg.VisibleDelay
	}
	return s.cfg.HiddenBatch, s.cfg.HiddenDelay
}

// startEmitter 取消已调度的 tick 后立即执行一次排空。
func (s *Session) startEmitter() {
	s.stopTick()
	s.state = StateDraining
	s.drain()
}

func (s *Session) drain() {
	s.tick = nil
	if s.drainID == "" {
		return
	}

	if len(s.buffer) == 0 {
		if s.ended {
			s.finalizeDrain(metrics.OutcomeCompleted)
		} else {
			// 流仍在进行，等待下一个分片重新启动。
			s.state = StateOpen
		}
		return
	}

	batch, delay := s.cadence()
	if batch > len(s.buffer) {
		batch = len(s.buffer)
	}
	text := string(s.buffer[:batch])
	s.buffer = s.buffer[batch:]

	if !s.sink.AppendContent(s.drainID, text) {
		log.Printf("[render] message %s no longer accepts content, dropping buffer", s.drainID)
		s.buffer = nil
		s.drainID = ""
		return
	}
	metrics.CharactersDrained(batch)
	s.scheduleTick(delay)
}

func (s *Session) scheduleTick(delay time.Duration) {
	s.tickGen++
	gen := s.tickGen
	s.tick = s.sched.AfterFunc(delay, func() {
		if s.closed || gen != s.tickGen {
			return
		}
		s.drain()
	})
}

func (s *Session) stopTick() {
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
	s.tickGen++
}

// settleDrain 将上一条仍在排空的消息一次性写完并收尾。
func (s *Session) settleDrain() {
	if s.drainID == "" {
		s.buffer = s.buffer[:0]
		return
	}
	s.stopTick()
	if len(s.buffer) > 0 {
		if s.sink.AppendContent(s.drainID, string(s.buffer)) {
			metrics.CharactersDrained(len(s.buffer))
		}
	}
	id := s.drainID
	s.buffer = s.buffer[:0]
	s.drainID = ""
	s.ended = false
	s.sink.Finalize(id)
	metrics.MessageFinalized(modeStream, metrics.OutcomeSuperseded, s.cfg.Now().Sub(s.drainAt))
}

func (s *Session) finalizeDrain(outcome string) {
	id := s.drainID
	s.drainID = ""
	s.ended = false
	s.buffer = s.buffer[:0]

	s.sink.Finalize(id)
	s.sink.SetTyping(false)
	s.sink.SetLoading(false)
	metrics.MessageFinalized(modeStream, outcome, s.cfg.Now().Sub(s.drainAt))

	if s.activeID == "" && s.revealID == "" {
		s.state = StateClosed
	}
}
