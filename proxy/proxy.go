// Package proxy turns a pair of request based streams into buffered byte
// streams. A fixed pool of receive buffers is kept queued on the receive
// stream; completed buffers wait in a queue until read. Writes are copied
// into free transmit buffers and queued on the transmit stream.
package proxy

import (
	"fmt"
	"sync/atomic"

	"github.com/golang/glog"
	"halcore.dev/hal"
	"halcore.dev/internal/arena"
	"halcore.dev/internal/ring"
	"halcore.dev/irq"
	"halcore.dev/stream"
	"periph.io/x/conn/v3"
)

var _ conn.Resource = (*Proxy)(nil)

// Direction configures the buffers of one direction. A nil Stream disables
// the direction.
type Direction struct {
	Stream stream.Stream
	Count  int
	Size   int
}

type Config struct {
	// Pipe answers the parameters the proxy does not handle itself.
	Pipe stream.Interface
	Rx   Direction
	Tx   Direction
}

// Proxy is a buffering proxy. Read, Write and Close are called from task
// context; stream completions may arrive from interrupt context.
type Proxy struct {
	pipe   stream.Interface
	rx, tx Direction

	arena    []byte
	requests []stream.Request
	// rxPool holds receive buffers not owned by the receive stream
	// because it refused them; rxQueue holds completed ones.
	rxPool  ring.Ring[*stream.Request]
	rxQueue ring.Ring[*stream.Request]
	txPool  ring.Ring[*stream.Request]

	notify atomic.Pointer[notifier]
}

type notifier struct {
	fn  func(arg any)
	arg any
}

func (d Direction) validate(name string) error {
	if d.Stream == nil {
		return nil
	}
	if d.Count < 1 || d.Size < 1 {
		return fmt.Errorf("%w: %s: %d buffers of %d bytes", hal.ErrInvalid, name, d.Count, d.Size)
	}
	return nil
}

// New allocates the buffers of both directions in a single block and
// queues every receive buffer.
func New(cfg Config) (*Proxy, error) {
	if cfg.Pipe == nil {
		return nil, fmt.Errorf("%w: proxy without pipe", hal.ErrInvalid)
	}
	if cfg.Rx.Stream == nil && cfg.Tx.Stream == nil {
		return nil, fmt.Errorf("%w: proxy without streams", hal.ErrInvalid)
	}
	if err := cfg.Rx.validate("rx"); err != nil {
		return nil, err
	}
	if err := cfg.Tx.validate("tx"); err != nil {
		return nil, err
	}
	if cfg.Rx.Stream == nil {
		cfg.Rx = Direction{}
	}
	if cfg.Tx.Stream == nil {
		cfg.Tx = Direction{}
	}
	mem, err := arena.Alloc(cfg.Rx.Count*cfg.Rx.Size + cfg.Tx.Count*cfg.Tx.Size)
	if err != nil {
		return nil, err
	}
	p := &Proxy{
		pipe:     cfg.Pipe,
		rx:       cfg.Rx,
		tx:       cfg.Tx,
		arena:    mem,
		requests: make([]stream.Request, cfg.Rx.Count+cfg.Tx.Count),
		rxPool:   ring.New[*stream.Request](cfg.Rx.Count),
		rxQueue:  ring.New[*stream.Request](cfg.Rx.Count),
		txPool:   ring.New[*stream.Request](cfg.Tx.Count),
	}
	off := 0
	for i := range p.requests {
		r := &p.requests[i]
		size := cfg.Rx.Size
		if i >= cfg.Rx.Count {
			size = cfg.Tx.Size
		}
		r.Buffer = mem[off : off+size : off+size]
		r.Capacity = size
		off += size
		if i < cfg.Rx.Count {
			r.SetCallback(p.rxDone)
			p.rxPool.Push(r)
		} else {
			r.SetCallback(p.txDone)
			p.txPool.Push(r)
		}
	}
	p.refill()
	glog.V(1).Infof("proxy: %d rx buffers of %d bytes, %d tx buffers of %d bytes",
		cfg.Rx.Count, cfg.Rx.Size, cfg.Tx.Count, cfg.Tx.Size)
	return p, nil
}

// SetCallback sets the function called when data arrives or a transmit
// buffer is released. It may be called from interrupt context.
func (p *Proxy) SetCallback(fn func(arg any), arg any) {
	if fn == nil {
		p.notify.Store(nil)
		return
	}
	p.notify.Store(&notifier{fn: fn, arg: arg})
}

func (p *Proxy) signal() {
	if n := p.notify.Load(); n != nil {
		n.fn(n.arg)
	}
}

// refill queues pooled receive buffers until the stream refuses one.
func (p *Proxy) refill() {
	if p.rx.Stream == nil {
		return
	}
	for {
		s := irq.Save()
		if p.rxPool.Len() == 0 {
			irq.Restore(s)
			return
		}
		r := p.rxPool.Pop()
		irq.Restore(s)
		if !p.submit(r) {
			return
		}
	}
}

// submit queues a receive buffer, or returns it to the pool if the stream
// refuses it.
func (p *Proxy) submit(r *stream.Request) bool {
	r.Length = 0
	if err := p.rx.Stream.Enqueue(r); err != nil {
		s := irq.Save()
		p.rxPool.Push(r)
		irq.Restore(s)
		return false
	}
	return true
}

func (p *Proxy) rxDone(r *stream.Request, st stream.Status) {
	switch st {
	case stream.StatusCompleted:
		s := irq.Save()
		p.rxQueue.Push(r)
		irq.Restore(s)
		p.signal()
	case stream.StatusCancelled:
		s := irq.Save()
		p.rxPool.Push(r)
		irq.Restore(s)
	default:
		p.submit(r)
	}
}

func (p *Proxy) txDone(r *stream.Request, st stream.Status) {
	s := irq.Save()
	p.txPool.Push(r)
	irq.Restore(s)
	p.signal()
}

// Read copies the oldest received buffer into b and queues the buffer for
// reception again. It returns 0 if no data is waiting. b must be able to
// hold a full receive buffer.
func (p *Proxy) Read(b []byte) (int, error) {
	if p.rx.Stream == nil {
		return 0, fmt.Errorf("%w: proxy has no rx stream", hal.ErrInvalid)
	}
	if len(b) < p.rx.Size {
		panic("proxy: read buffer smaller than rx buffer")
	}
	s := irq.Save()
	if p.rxQueue.Len() == 0 {
		irq.Restore(s)
		return 0, nil
	}
	r := p.rxQueue.Pop()
	irq.Restore(s)
	n := copy(b, r.Data())
	if p.submit(r) {
		p.refill()
	}
	return n, nil
}

// Write queues up to one transmit buffer of data from b and returns the
// number of bytes queued. It returns 0 and no error if every transmit
// buffer is in flight.
func (p *Proxy) Write(b []byte) (int, error) {
	if p.tx.Stream == nil {
		return 0, fmt.Errorf("%w: proxy has no tx stream", hal.ErrInvalid)
	}
	if len(b) == 0 {
		return 0, nil
	}
	s := irq.Save()
	if p.txPool.Len() == 0 {
		irq.Restore(s)
		return 0, nil
	}
	r := p.txPool.Pop()
	irq.Restore(s)
	r.Length = copy(r.Buffer[:r.Capacity], b)
	if err := p.tx.Stream.Enqueue(r); err != nil {
		s := irq.Save()
		p.txPool.Push(r)
		irq.Restore(s)
		return 0, err
	}
	return r.Length, nil
}

// Param returns the buffer counts for the proxy's own parameters and
// forwards other parameters to the pipe.
func (p *Proxy) Param(param stream.Param) (int, error) {
	var dir Direction
	switch param {
	case stream.ParamRxAvailable, stream.ParamRxPending:
		dir = p.rx
	case stream.ParamTxAvailable, stream.ParamTxPending:
		dir = p.tx
	default:
		return p.pipe.Param(param)
	}
	if dir.Stream == nil {
		return 0, fmt.Errorf("%w: %v of a disabled direction", hal.ErrInvalid, param)
	}
	s := irq.Save()
	defer irq.Restore(s)
	switch param {
	case stream.ParamRxAvailable:
		return p.rxQueue.Len(), nil
	case stream.ParamRxPending:
		return p.rx.Count - p.rxQueue.Len(), nil
	case stream.ParamTxAvailable:
		return p.txPool.Len(), nil
	default:
		return p.tx.Count - p.txPool.Len(), nil
	}
}

// SetParam forwards to the pipe.
func (p *Proxy) SetParam(param stream.Param, v int) error {
	return p.pipe.SetParam(param, v)
}

// inFlight returns the number of buffers owned by the streams.
func (p *Proxy) inFlight() int {
	s := irq.Save()
	defer irq.Restore(s)
	return p.rx.Count - p.rxQueue.Len() - p.rxPool.Len() + p.tx.Count - p.txPool.Len()
}

// Close frees the buffers. It returns hal.ErrBusy while any buffer is still
// owned by a stream; stop or cancel the streams first.
func (p *Proxy) Close() error {
	if p.arena == nil {
		return nil
	}
	if n := p.inFlight(); n > 0 {
		return fmt.Errorf("%w: %d buffers in flight", hal.ErrBusy, n)
	}
	err := arena.Free(p.arena)
	p.arena, p.requests = nil, nil
	s := irq.Save()
	p.rxPool.Reset()
	p.rxQueue.Reset()
	p.txPool.Reset()
	irq.Restore(s)
	return err
}

func (p *Proxy) String() string {
	return fmt.Sprintf("proxy(rx %dx%d, tx %dx%d)", p.rx.Count, p.rx.Size, p.tx.Count, p.tx.Size)
}

// Halt discards received data that has not been read.
func (p *Proxy) Halt() error {
	if p.rx.Stream == nil {
		return nil
	}
	for {
		s := irq.Save()
		if p.rxQueue.Len() == 0 {
			irq.Restore(s)
			break
		}
		r := p.rxQueue.Pop()
		irq.Restore(s)
		p.submit(r)
	}
	p.refill()
	return nil
}
