package wq

import (
	"fmt"
	"iter"

	"halcore.dev/hal"
	"halcore.dev/irq"
)

// IRQ is a scheduler drained by an interrupt handler. Adding a task marks
// the interrupt line pending; the line's handler must call Handle.
type IRQ struct {
	q    *queue
	line irq.Line
}

// NewIRQ creates a scheduler triggered through line. The Sleeper of cfg
// is not used.
func NewIRQ(cfg Config, line irq.Line) (*IRQ, error) {
	if line == nil {
		return nil, fmt.Errorf("%w: nil interrupt line", hal.ErrInvalid)
	}
	q, err := newQueue(cfg)
	if err != nil {
		return nil, err
	}
	return &IRQ{q: q, line: line}, nil
}

func (w *IRQ) Add(fn Func, arg any) error {
	if err := w.q.add(fn, arg); err != nil {
		return err
	}
	w.line.SetPending()
	return nil
}

// Enable resets the statistics and arms the interrupt line.
func (w *IRQ) Enable() {
	w.q.reset()
	w.line.Enable()
}

func (w *IRQ) Disable() {
	w.line.Disable()
}

// Handle drains the queue. It is the interrupt handler of the line.
func (w *IRQ) Handle() {
	w.q.pass()
}

func (w *IRQ) Statistics() Info {
	return w.q.statistics()
}

func (w *IRQ) Profiles() iter.Seq[TaskInfo] {
	return w.q.profileSeq()
}
