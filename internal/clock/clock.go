// Package clock provides the time source and task scheduler used by the
// acquisition loop, session timers and sync triggers. Production code uses
// Real; tests drive a Virtual clock explicitly.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is a time source that can schedule work
type Clock interface {
	Now() time.Time
	// Every runs fn every interval until the returned task is stopped
	Every(interval time.Duration, fn func()) Task
	// AfterFunc runs fn once after d unless stopped first
	AfterFunc(d time.Duration, fn func()) Task
}

// Task is a scheduled callback
type Task interface {
	// Stop prevents future invocations. It does not wait for an invocation
	// already in progress.
	Stop()
}

// Real is a Clock backed by the runtime timers
type Real struct{}

// New returns the wall clock
func New() Real {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) Every(interval time.Duration, fn func()) Task {
	t := &realTicker{done: make(chan struct{})}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				if t.stopped.Load() {
					return
				}
				fn()
			}
		}
	}()
	return t
}

func (Real) AfterFunc(d time.Duration, fn func()) Task {
	return &realTimer{timer: time.AfterFunc(d, fn)}
}

type realTicker struct {
	done    chan struct{}
	once    sync.Once
	stopped atomic.Bool
}

func (t *realTicker) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		close(t.done)
	})
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) Stop() {
	t.timer.Stop()
}
