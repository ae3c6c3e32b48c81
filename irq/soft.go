package irq

import (
	"context"
	"sync/atomic"
)

// Soft is an interrupt line implemented in software. Its handler runs when
// the line is both enabled and pending, from Service or from the goroutine
// running Run. The handler never runs concurrently with itself.
type Soft struct {
	handler func()
	enabled atomic.Bool
	pending atomic.Bool
	active  atomic.Bool
	kick    chan struct{}
}

func NewSoft(handler func()) *Soft {
	return &Soft{
		handler: handler,
		kick:    make(chan struct{}, 1),
	}
}

// SetHandler replaces the handler. It must be called before the line
// is enabled.
func (s *Soft) SetHandler(handler func()) {
	s.handler = handler
}

func (s *Soft) Enable() {
	s.enabled.Store(true)
	if s.pending.Load() {
		s.notify()
	}
}

func (s *Soft) Disable() {
	s.enabled.Store(false)
}

func (s *Soft) SetPending() {
	s.pending.Store(true)
	s.notify()
}

// Pending reports whether the line is waiting to be serviced.
func (s *Soft) Pending() bool {
	return s.pending.Load()
}

func (s *Soft) notify() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Service runs the handler once if the line is enabled and pending and
// reports whether it ran.
func (s *Soft) Service() bool {
	if !s.enabled.Load() || s.handler == nil {
		return false
	}
	if !s.active.CompareAndSwap(false, true) {
		return false
	}
	defer s.active.Store(false)
	if !s.pending.CompareAndSwap(true, false) {
		return false
	}
	s.handler()
	return true
}

// Run services the line until ctx is done.
func (s *Soft) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		}
		for s.Service() {
		}
	}
}
