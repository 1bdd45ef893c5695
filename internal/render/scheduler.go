package render

import (
	"context"
	"sync"
	"time"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler arms one-shot timers. AfterFunc may return nil when the timer
// cannot be armed (a stopped loop, a throttled background view); callers
// treat nil as "nothing scheduled".
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Loop 串行执行投递的任务，Session 的全部调用都必须发生在 Loop 的 goroutine 上。
// 定时器回调同样被投递回 Loop，因此 socket 帧、定时器与可见性变化不会并发执行。
type Loop struct {
	tasks    chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// NewLoop 创建一个任务队列长度为 queue 的 Loop。
func NewLoop(queue int) *Loop {
	if queue < 1 {
		queue = 64
	}
	return &Loop{
		tasks: make(chan func(), queue),
		done:  make(chan struct{}),
	}
}

// Run 处理任务直到 ctx 结束。返回后 Post 与 AfterFunc 都不再生效。
func (l *Loop) Run(ctx context.Context) {
	defer l.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-l.tasks:
			task()
		}
	}
}

// Post 投递任务，Loop 已停止时返回 false。不能在 Loop 自身的任务里调用。
func (l *Loop) Post(task func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case <-l.done:
		return false
	case l.tasks <- task:
		return true
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// AfterFunc implements Scheduler; f runs on the loop goroutine.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	select {
	case <-l.done:
		return nil
	default:
	}

	lt := &loopTimer{}
	lt.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if !lt.stopped {
				f()
			}
		})
	})
	return lt
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// loopTimer 的 stopped 只在 Loop goroutine 上读写。
type loopTimer struct {
	timer   *time.Timer
	stopped bool
}

func (t *loopTimer) Stop() bool {
	t.stopped = true
	return t.timer.Stop()
}
