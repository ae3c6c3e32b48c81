// Package dmastream implements a stream that moves request buffers to or
// from a peripheral data register with a one-shot DMA channel.
package dmastream

import (
	"errors"
	"fmt"
	"unsafe"

	"halcore.dev/dma"
	"halcore.dev/hal"
	"halcore.dev/internal/ring"
	"halcore.dev/irq"
	"halcore.dev/stream"
)

type Config struct {
	// Channel is a one-shot channel dedicated to the stream.
	Channel dma.Controller
	// Register is the address of the peripheral data register.
	Register uintptr
	// Direction is dma.PeripheralToMemory for receive streams and
	// dma.MemoryToPeripheral for transmit streams.
	Direction dma.Direction
	// Width is the access width of the data register.
	Width dma.Width
	// Depth is the number of requests that can wait behind the
	// running one.
	Depth int
}

type Stream struct {
	ch    dma.Controller
	reg   uintptr
	rx    bool
	width int

	// Guarded by the irq critical section.
	pending ring.Ring[*stream.Request]
	current *stream.Request
}

func New(cfg Config) (*Stream, error) {
	if cfg.Channel == nil || cfg.Register == 0 {
		return nil, fmt.Errorf("%w: dma stream without channel or register", hal.ErrInvalid)
	}
	if cfg.Depth < 0 {
		return nil, fmt.Errorf("%w: dma stream depth %d", hal.ErrInvalid, cfg.Depth)
	}
	s := &Stream{
		ch:      cfg.Channel,
		reg:     cfg.Register,
		width:   cfg.Width.Bytes(),
		pending: ring.New[*stream.Request](cfg.Depth),
	}
	var settings dma.Settings
	switch cfg.Direction {
	case dma.PeripheralToMemory:
		s.rx = true
		settings.Source = dma.Side{Width: cfg.Width}
		settings.Destination = dma.Side{Width: cfg.Width, Increment: true}
	case dma.MemoryToPeripheral:
		settings.Source = dma.Side{Width: cfg.Width, Increment: true}
		settings.Destination = dma.Side{Width: cfg.Width}
	default:
		return nil, fmt.Errorf("%w: dma stream direction %d", hal.ErrInvalid, cfg.Direction)
	}
	s.ch.Configure(settings)
	s.ch.SetCallback(s.done, nil)
	return s, nil
}

// Enqueue starts r if the stream is idle or queues it behind the running
// request. Receive requests are filled up to their capacity; transmit
// requests send Length bytes.
func (s *Stream) Enqueue(r *stream.Request) error {
	size := r.Length
	if s.rx {
		size = r.Capacity
	}
	if size <= 0 || size%s.width != 0 || len(r.Buffer) < size {
		return fmt.Errorf("%w: request of %d bytes", hal.ErrInvalid, size)
	}
	st := irq.Save()
	if s.current == nil && s.pending.Len() == 0 {
		s.current = r
		irq.Restore(st)
		if err := s.program(r); err != nil {
			st = irq.Save()
			s.current = nil
			irq.Restore(st)
			return err
		}
		return nil
	}
	if s.pending.Free() == 0 {
		irq.Restore(st)
		return hal.ErrFull
	}
	s.pending.Push(r)
	irq.Restore(st)
	return nil
}

func (s *Stream) program(r *stream.Request) error {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(r.Buffer)))
	if s.rx {
		s.ch.Append(addr, s.reg, r.Capacity)
	} else {
		s.ch.Append(s.reg, addr, r.Length)
	}
	return s.ch.Enable()
}

// done is the channel callback.
func (s *Stream) done(any) {
	err := s.ch.Status()
	if errors.Is(err, hal.ErrBusy) {
		// Progress of a running transfer.
		return
	}
	st := irq.Save()
	r := s.current
	s.current = nil
	irq.Restore(st)
	if r == nil {
		return
	}
	status := stream.StatusCompleted
	if err != nil {
		status = stream.StatusFailure
	}
	if s.rx {
		r.Length = 0
		if res, err := s.ch.Residue(); err == nil {
			r.Length = r.Capacity - res
		}
	}
	r.Complete(status)
	s.next()
}

// next starts the oldest waiting request. If the channel refuses it, the
// requests waiting behind it complete with StatusCancelled and the refused
// one with StatusFailure. Only requests queued before the refusal are
// completed, so consumers that resubmit from their callbacks cannot keep
// next running.
func (s *Stream) next() {
	st := irq.Save()
	if s.current != nil || s.pending.Len() == 0 {
		irq.Restore(st)
		return
	}
	r := s.pending.Pop()
	s.current = r
	irq.Restore(st)
	if err := s.program(r); err == nil {
		return
	}
	st = irq.Save()
	s.current = nil
	waiting := s.pending.Len()
	irq.Restore(st)
	for range waiting {
		st = irq.Save()
		if s.pending.Len() == 0 {
			irq.Restore(st)
			break
		}
		w := s.pending.Pop()
		irq.Restore(st)
		w.Complete(stream.StatusCancelled)
	}
	r.Complete(stream.StatusFailure)
}

// Close stops the channel and cancels every request.
func (s *Stream) Close() error {
	s.ch.Disable()
	for {
		st := irq.Save()
		r := s.current
		s.current = nil
		if r == nil && s.pending.Len() > 0 {
			r = s.pending.Pop()
		}
		irq.Restore(st)
		if r == nil {
			return nil
		}
		r.Complete(stream.StatusCancelled)
	}
}
