package dmastream

import (
	"errors"
	"testing"
	"time"
	"unsafe"

	"halcore.dev/dma"
	"halcore.dev/dma/stm32"
	"halcore.dev/hal"
	"halcore.dev/proxy"
	"halcore.dev/stream"
	"halcore.dev/stream/streamtest"
)

const (
	usartDR = 0x4001_3804
	tcif3   = 1 << (4*2 + 1)
)

func newRx(t *testing.T, depth int) (*Stream, *stm32.Controller, *stm32.Regs) {
	t.Helper()
	regs := new(stm32.Regs)
	c := stm32.New("DMA1", regs)
	ch, err := c.Channel(stm32.ChannelConfig{Number: 2, Direction: dma.PeripheralToMemory})
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(Config{
		Channel:   ch,
		Register:  usartDR,
		Direction: dma.PeripheralToMemory,
		Width:     dma.Width8,
		Depth:     depth,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s, c, regs
}

func addr(b []byte) uint32 {
	return uint32(uintptr(unsafe.Pointer(&b[0])))
}

func TestReceive(t *testing.T) {
	s, c, regs := newRx(t, 1)
	var got []int
	var statuses []stream.Status
	reqs := make([]*stream.Request, 3)
	for i := range reqs {
		buf := make([]byte, 8)
		reqs[i] = &stream.Request{Buffer: buf, Capacity: len(buf)}
		reqs[i].SetCallback(func(r *stream.Request, st stream.Status) {
			got = append(got, r.Length)
			statuses = append(statuses, st)
		})
	}
	if err := s.Enqueue(reqs[0]); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(reqs[1]); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(reqs[2]); !errors.Is(err, hal.ErrFull) {
		t.Errorf("Enqueue() beyond depth = %v, want %v", err, hal.ErrFull)
	}
	cr := &regs.Channels[2]
	if got, want := cr.CMAR.Get(), addr(reqs[0].Buffer); got != want {
		t.Errorf("CMAR = %#x, want first buffer at %#x", got, want)
	}
	if got := cr.CPAR.Get(); got != usartDR {
		t.Errorf("CPAR = %#x, want %#x", got, usartDR)
	}

	// The first request fills up; the second stops short.
	cr.CNDTR.Set(0)
	regs.ISR.Set(tcif3)
	c.ServiceInterrupt(2)
	if got, want := cr.CMAR.Get(), addr(reqs[1].Buffer); got != want {
		t.Errorf("CMAR = %#x, want second buffer at %#x", got, want)
	}
	cr.CNDTR.Set(3)
	c.ServiceInterrupt(2)
	if len(got) != 2 || got[0] != 8 || got[1] != 5 {
		t.Errorf("completed lengths = %v, want [8 5]", got)
	}
	for i, st := range statuses {
		if st != stream.StatusCompleted {
			t.Errorf("request %d status = %v, want %v", i, st, stream.StatusCompleted)
		}
	}

	if err := s.Enqueue(reqs[2]); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if st := statuses[len(statuses)-1]; st != stream.StatusCancelled {
		t.Errorf("status after Close = %v, want %v", st, stream.StatusCancelled)
	}
}

func TestTransferError(t *testing.T) {
	s, c, regs := newRx(t, 0)
	var status stream.Status = 0xff
	r := &stream.Request{Buffer: make([]byte, 4), Capacity: 4}
	r.SetCallback(func(_ *stream.Request, st stream.Status) { status = st })
	if err := s.Enqueue(r); err != nil {
		t.Fatal(err)
	}
	regs.ISR.Set(1 << (4*2 + 3))
	c.ServiceInterrupt(2)
	if status != stream.StatusFailure {
		t.Errorf("status = %v, want %v", status, stream.StatusFailure)
	}
}

func TestOwnedChannel(t *testing.T) {
	s, c, _ := newRx(t, 0)
	other, err := c.Channel(stm32.ChannelConfig{Number: 2})
	if err != nil {
		t.Fatal(err)
	}
	other.Configure(dma.Settings{Source: dma.Side{Width: dma.Width8}, Destination: dma.Side{Width: dma.Width8}})
	other.Append(0x2000_0000, 0x2000_1000, 1)
	if err := other.Enable(); err != nil {
		t.Fatal(err)
	}
	r := &stream.Request{Buffer: make([]byte, 4), Capacity: 4}
	if err := s.Enqueue(r); !errors.Is(err, dma.ErrOwned) {
		t.Errorf("Enqueue() on an owned channel = %v, want %v", err, dma.ErrOwned)
	}
}

func TestTransmitProxy(t *testing.T) {
	regs := new(stm32.Regs)
	c := stm32.New("DMA1", regs)
	ch, err := c.Channel(stm32.ChannelConfig{Number: 3, Direction: dma.MemoryToPeripheral})
	if err != nil {
		t.Fatal(err)
	}
	tx, err := New(Config{
		Channel:   ch,
		Register:  usartDR,
		Direction: dma.MemoryToPeripheral,
		Width:     dma.Width8,
		Depth:     2,
	})
	if err != nil {
		t.Fatal(err)
	}
	p, err := proxy.New(proxy.Config{
		Pipe: new(streamtest.Pipe),
		Tx:   proxy.Direction{Stream: tx, Count: 3, Size: 16},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, msg := range []string{"one", "two", "three"} {
		if n, err := p.Write([]byte(msg)); err != nil || n != len(msg) {
			t.Fatalf("Write(%q) = %d, %v", msg, n, err)
		}
	}
	cr := &regs.Channels[3]
	if got := cr.CNDTR.Get(); got != 3 {
		t.Errorf("CNDTR = %d, want 3", got)
	}
	for want := 2; want >= 0; want-- {
		cr.CNDTR.Set(0)
		regs.ISR.Set(1 << (4*3 + 1))
		c.ServiceInterrupt(3)
		if got, _ := p.Param(stream.ParamTxPending); got != want {
			t.Errorf("TxPending = %d, want %d", got, want)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRefusedWhileQueued(t *testing.T) {
	s, c, regs := newRx(t, 2)
	p, err := proxy.New(proxy.Config{
		Pipe: new(streamtest.Pipe),
		Rx:   proxy.Direction{Stream: s, Count: 3, Size: 8},
	})
	if err != nil {
		t.Fatal(err)
	}
	other, err := c.Channel(stm32.ChannelConfig{Number: 2})
	if err != nil {
		t.Fatal(err)
	}
	other.Configure(dma.Settings{Source: dma.Side{Width: dma.Width8}, Destination: dma.Side{Width: dma.Width8}})
	other.Append(0x2000_0000, 0x2000_1000, 1)
	var enableErr error
	// Another channel claims the hardware as soon as data arrives, so the
	// stream cannot start its waiting requests.
	p.SetCallback(func(any) {
		if other.State() == dma.StateReady {
			enableErr = other.Enable()
		}
	}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		regs.Channels[2].CNDTR.Set(0)
		regs.ISR.Set(tcif3)
		c.ServiceInterrupt(2)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ServiceInterrupt did not return")
	}
	if enableErr != nil {
		t.Fatalf("other.Enable() = %v", enableErr)
	}
	if got, want := other.Status(), hal.ErrBusy; got != want {
		t.Errorf("other.Status() = %v, want %v", got, want)
	}
	if n, _ := p.Param(stream.ParamRxAvailable); n != 1 {
		t.Errorf("RxAvailable = %d, want 1", n)
	}
	if n, _ := p.Param(stream.ParamRxPending); n != 2 {
		t.Errorf("RxPending = %d, want 2", n)
	}
	buf := make([]byte, 8)
	if n, err := p.Read(buf); n != 8 || err != nil {
		t.Errorf("Read() = %d, %v, want 8, nil", n, err)
	}
	other.Disable()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
