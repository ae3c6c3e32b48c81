package gpdma

import (
	"errors"
	"testing"

	"halcore.dev/dma"
	"halcore.dev/hal"
)

func newChannel(t *testing.T, c *Controller, cfg ChannelConfig, s dma.Settings) *dma.Channel {
	t.Helper()
	ch, err := c.Channel(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ch.Configure(s)
	return ch
}

func TestLinkedList(t *testing.T) {
	regs := new(Regs)
	c := New("GPDMA", regs)
	if !regs.CONFIG.HasBits(1) {
		t.Error("controller not enabled")
	}
	ch := newChannel(t, c, ChannelConfig{
		Number:      3,
		Direction:   dma.PeripheralToMemory,
		Peripheral:  7,
		Descriptors: 3,
	}, dma.Settings{
		Burst:       dma.Burst4,
		Source:      dma.Side{Width: dma.Width8},
		Destination: dma.Side{Width: dma.Width8, Increment: true},
	})
	events := []dma.State{}
	ch.SetCallback(func(any) { events = append(events, ch.State()) }, nil)
	ch.Append(0x1000_0000, 0x4001_0000, 16)
	ch.Append(0x1000_0010, 0x4001_0000, 16)
	ch.Append(0x1000_0020, 0x4001_0000, 8)
	if err := ch.Enable(); err != nil {
		t.Fatal(err)
	}
	e := c.running[3].Load()
	if e == nil {
		t.Fatal("no running engine")
	}
	r := &regs.Channels[3]
	wantCtl := uint32(16 | 1<<ctlSBSize | 1<<ctlDBSize | ctlDI | ctlI)
	if got := r.CONTROL.Get(); got != wantCtl {
		t.Errorf("CONTROL = %#x, want %#x", got, wantCtl)
	}
	if got := r.SRCADDR.Get(); got != 0x4001_0000 {
		t.Errorf("SRCADDR = %#x, want 0x40010000", got)
	}
	if got, want := r.LLI.Get(), e.addr(1); got != want {
		t.Errorf("LLI = %#x, want entry 1 at %#x", got, want)
	}
	wantCfg := uint32(cfgE | cfgIE | cfgITC | flowP2M<<cfgFlow | 7<<cfgSrcPeriph)
	if got := r.CONFIG.Get(); got != wantCfg {
		t.Errorf("CONFIG = %#x, want %#x", got, wantCfg)
	}
	if e.entries[1].Next != e.addr(2) || e.entries[2].Next != 0 {
		t.Errorf("list links = %#x, %#x, want entry 2 and end", e.entries[1].Next, e.entries[2].Next)
	}
	if got := ch.Queued(); got != 3 {
		t.Errorf("Queued() = %d, want 3", got)
	}

	// First entry done; the controller loaded the second.
	r.LLI.Set(e.entries[1].Next)
	r.CONTROL.Set(e.entries[1].Control)
	regs.INTTCSTAT.Set(1 << 3)
	c.ServiceInterrupt(3)
	if got := ch.Queued(); got != 2 {
		t.Errorf("Queued() = %d, want 2", got)
	}
	if res, err := ch.Residue(); err != nil || res != 16 {
		t.Errorf("Residue() = %d, %v, want 16, nil", res, err)
	}

	// Last entry done; the controller disabled the channel.
	r.LLI.Set(0)
	r.CONTROL.Set(e.entries[2].Control &^ ctlSizeMask)
	r.CONFIG.ClearBits(cfgE)
	c.ServiceInterrupt(3)
	if got := regs.INTTCCLEAR.Get(); got != 1<<3 {
		t.Errorf("INTTCCLEAR = %#x, want %#x", got, 1<<3)
	}
	want := []dma.State{dma.StateBusy, dma.StateDone}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("callback states = %v, want %v", events, want)
	}
	if res, err := ch.Residue(); err != nil || res != 0 {
		t.Errorf("Residue() = %d, %v, want 0, nil", res, err)
	}
}

func TestCircularSilent(t *testing.T) {
	regs := new(Regs)
	c := New("GPDMA", regs)
	ch := newChannel(t, c, ChannelConfig{
		Number:      0,
		Direction:   dma.MemoryToPeripheral,
		Peripheral:  9,
		Mode:        dma.Circular,
		Descriptors: 2,
		Silent:      true,
	}, dma.Settings{
		Source:      dma.Side{Width: dma.Width16, Increment: true},
		Destination: dma.Side{Width: dma.Width16},
	})
	ch.Append(0x4008_c000, 0x2000_0000, 64)
	ch.Append(0x4008_c000, 0x2000_0040, 64)
	if err := ch.Enable(); err != nil {
		t.Fatal(err)
	}
	e := c.running[0].Load()
	if e.entries[0].Control&ctlI != 0 || e.entries[1].Control&ctlI == 0 {
		t.Errorf("interrupt bits = %#x, %#x, want only the last entry", e.entries[0].Control, e.entries[1].Control)
	}
	if e.entries[1].Next != e.addr(0) {
		t.Error("circular list does not wrap to its first entry")
	}
	if got := e.entries[0].Control & ctlSizeMask; got != 32 {
		t.Errorf("transfer size = %d, want 32", got)
	}
	regs.INTTCSTAT.Set(1)
	c.ServiceInterrupt(0)
	if got := ch.State(); got != dma.StateBusy {
		t.Errorf("State() = %v, want %v", got, dma.StateBusy)
	}
	regs.INTERRSTAT.Set(1)
	c.ServiceInterrupt(0)
	if got := ch.Status(); !errors.Is(got, hal.ErrHardware) {
		t.Errorf("Status() = %v, want %v", got, hal.ErrHardware)
	}
	if regs.Channels[0].CONFIG.HasBits(cfgE) {
		t.Error("error did not disable the channel")
	}
	if c.running[0].Load() != nil {
		t.Error("stopped engine still registered")
	}
}

func TestUnsupportedBurst(t *testing.T) {
	c := New("GPDMA", new(Regs))
	ch, err := c.Channel(ChannelConfig{Number: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Error("Configure with a burst of 2 did not panic")
		}
	}()
	ch.Configure(dma.Settings{Burst: dma.Burst2})
}

func TestTooLarge(t *testing.T) {
	c := New("GPDMA", new(Regs))
	ch := newChannel(t, c, ChannelConfig{Number: 1}, dma.Settings{
		Source:      dma.Side{Width: dma.Width8, Increment: true},
		Destination: dma.Side{Width: dma.Width8, Increment: true},
	})
	defer func() {
		if recover() == nil {
			t.Error("Append of 4096 transfers did not panic")
		}
	}()
	ch.Append(0x2000_0000, 0x2000_2000, 4096)
}
