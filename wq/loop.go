package wq

import (
	"iter"
	"sync/atomic"

	"github.com/golang/glog"
	"halcore.dev/hal"
	"halcore.dev/irq"
)

// Loop is a polling scheduler that runs until stopped.
type Loop struct {
	q       *queue
	running atomic.Bool
	stop    atomic.Bool
}

func New(cfg Config) (*Loop, error) {
	q, err := newQueue(cfg)
	if err != nil {
		return nil, err
	}
	return &Loop{q: q}, nil
}

// Add queues a task. It is safe to call from any context and returns
// hal.ErrFull if the queue has no room.
func (l *Loop) Add(fn Func, arg any) error {
	return l.q.add(fn, arg)
}

// Len returns the number of queued tasks.
func (l *Loop) Len() int {
	return l.q.len()
}

// Start resets the statistics and runs queued tasks until Stop is called.
// It returns hal.ErrBusy if the loop is already running.
func (l *Loop) Start() error {
	if !l.running.CompareAndSwap(false, true) {
		return hal.ErrBusy
	}
	defer l.running.Store(false)
	l.stop.Store(false)
	l.q.reset()
	glog.V(1).Infof("wq: loop started with %d slots", l.q.tasks.Cap())
	for !l.stop.Load() {
		l.idle()
		l.q.pass()
	}
	glog.V(1).Infof("wq: loop stopped")
	return nil
}

func (l *Loop) idle() {
	if l.q.cfg.Sleeper == nil || l.q.cfg.Load {
		return
	}
	// Check and sleep with interrupts masked, or a task queued in
	// between would wait for the next unrelated interrupt.
	s := irq.Save()
	if l.q.tasks.Len() == 0 && !l.stop.Load() {
		l.q.cfg.Sleeper.Sleep()
	}
	irq.Restore(s)
}

// Stop makes Start return after the current pass.
func (l *Loop) Stop() {
	l.stop.Store(true)
	irq.Wake()
}

// Close stops the loop.
func (l *Loop) Close() error {
	l.Stop()
	return nil
}

func (l *Loop) Statistics() Info {
	return l.q.statistics()
}

// Profiles iterates over the execution profiles of every task callback
// queued since start.
func (l *Loop) Profiles() iter.Seq[TaskInfo] {
	return l.q.profileSeq()
}
