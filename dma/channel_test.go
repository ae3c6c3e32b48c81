package dma

import (
	"errors"
	"testing"

	"halcore.dev/hal"
)

type fakeEngine struct {
	n         int
	limits    Limits
	settings  Settings
	started   [][]Descriptor
	circular  bool
	stops     int
	remaining uint32
	stale     bool
	inFlight  int
}

func (e *fakeEngine) Number() int          { return e.n }
func (e *fakeEngine) Limits() Limits       { return e.limits }
func (e *fakeEngine) Configure(s Settings) { e.settings = s }
func (e *fakeEngine) Stop()                { e.stops++ }
func (e *fakeEngine) Queued(n int) int     { return min(n, e.inFlight) }
func (e *fakeEngine) String() string       { return "fake channel" }

func (e *fakeEngine) Start(list []Descriptor, circular bool) {
	e.started = append(e.started, append([]Descriptor(nil), list...))
	e.circular = circular
}

func (e *fakeEngine) Remaining() (uint32, bool) {
	return e.remaining, !e.stale
}

func newFake(n int) *fakeEngine {
	return &fakeEngine{
		n: n,
		limits: Limits{
			MaxTransfers: 1024,
			MaxWidth:     Width32,
			Bursts:       1<<Burst1 | 1<<Burst4,
			Circular:     true,
		},
	}
}

var words = Settings{
	Source:      Side{Width: Width32, Increment: true},
	Destination: Side{Width: Width32},
}

func newChannel(t *testing.T, e Engine, r *Registry, mode Mode, descs int) *Channel {
	t.Helper()
	ch, err := New(Config{Engine: e, Registry: r, Mode: mode, Descriptors: descs})
	if err != nil {
		t.Fatal(err)
	}
	ch.Configure(words)
	return ch
}

func TestOneShot(t *testing.T) {
	e := newFake(2)
	r := NewRegistry(4)
	ch := newChannel(t, e, r, OneShot, 1)
	calls := 0
	ch.SetCallback(func(arg any) {
		calls++
		if arg != "ctx" {
			t.Errorf("callback arg = %v, want ctx", arg)
		}
	}, "ctx")
	if got := ch.State(); got != StateIdle {
		t.Fatalf("State() = %v, want %v", got, StateIdle)
	}
	for round := range 3 {
		ch.Append(0x2000_0000, 0x4000_0000, 64)
		if got := ch.State(); got != StateReady {
			t.Fatalf("round %d: State() = %v, want %v", round, got, StateReady)
		}
		if err := ch.Enable(); err != nil {
			t.Fatalf("round %d: Enable() = %v", round, err)
		}
		if got := ch.Status(); !errors.Is(got, hal.ErrBusy) {
			t.Errorf("round %d: Status() = %v, want %v", round, got, hal.ErrBusy)
		}
		if r.Owner(2) != ch {
			t.Errorf("round %d: channel does not own its slot", round)
		}
		ch.Interrupt(EventComplete)
		if got := ch.State(); got != StateDone {
			t.Errorf("round %d: State() = %v, want %v", round, got, StateDone)
		}
		if got := ch.Status(); got != nil {
			t.Errorf("round %d: Status() = %v, want nil", round, got)
		}
		if res, err := ch.Residue(); err != nil || res != 0 {
			t.Errorf("round %d: Residue() = %d, %v, want 0, nil", round, res, err)
		}
		if r.Owner(2) != nil {
			t.Errorf("round %d: slot not released", round)
		}
	}
	if calls != 3 {
		t.Errorf("callback ran %d times, want 3", calls)
	}
	want := Descriptor{Destination: 0x2000_0000, Source: 0x4000_0000, Transfers: 16}
	for _, list := range e.started {
		if len(list) != 1 || list[0] != want {
			t.Errorf("started %v, want [%v]", list, want)
		}
	}
}

func TestOwnerExclusion(t *testing.T) {
	e := newFake(0)
	r := NewRegistry(1)
	ch1 := newChannel(t, e, r, OneShot, 1)
	ch2 := newChannel(t, e, r, OneShot, 1)
	ch1.Append(0x1000, 0x2000, 4)
	ch2.Append(0x1000, 0x2000, 4)
	if err := ch1.Enable(); err != nil {
		t.Fatal(err)
	}
	err := ch2.Enable()
	if !errors.Is(err, ErrOwned) || !errors.Is(err, hal.ErrBusy) {
		t.Errorf("Enable() of a contended channel = %v, want %v", err, ErrOwned)
	}
	if got := ch2.State(); got != StateError {
		t.Errorf("State() = %v, want %v", got, StateError)
	}
	if got := ch2.Status(); !errors.Is(got, ErrOwned) {
		t.Errorf("Status() = %v, want %v", got, ErrOwned)
	}
	if r.Owner(0) != ch1 {
		t.Error("contended Enable changed the owner")
	}
	e.remaining = 3
	if n, err := ch2.Residue(); !errors.Is(err, hal.ErrInvalid) {
		t.Errorf("Residue() of the losing channel = %d, %v, want %v", n, err, hal.ErrInvalid)
	}
	if n, err := ch1.Residue(); err != nil || n != 12 {
		t.Errorf("Residue() of the owner = %d, %v, want 12", n, err)
	}
	ch1.Interrupt(EventComplete)
	ch2.Append(0x1000, 0x2000, 4)
	if err := ch2.Enable(); err != nil {
		t.Errorf("Enable() after release = %v", err)
	}
	if r.Owner(0) != ch2 {
		t.Error("second channel does not own the slot")
	}
}

func TestHardwareError(t *testing.T) {
	e := newFake(1)
	r := NewRegistry(2)
	ch := newChannel(t, e, r, Circular, 2)
	calls := 0
	ch.SetCallback(func(any) { calls++ }, nil)
	ch.Append(0x1000, 0x2000, 8)
	if err := ch.Enable(); err != nil {
		t.Fatal(err)
	}
	ch.Interrupt(EventError)
	if got := ch.State(); got != StateError {
		t.Errorf("State() = %v, want %v", got, StateError)
	}
	if got := ch.Status(); !errors.Is(got, hal.ErrHardware) {
		t.Errorf("Status() = %v, want %v", got, hal.ErrHardware)
	}
	if e.stops != 1 || r.Owner(1) != nil {
		t.Errorf("after error stops = %d, owner = %v, want 1, nil", e.stops, r.Owner(1))
	}
	// Late events from the failed transfer are ignored.
	ch.Interrupt(EventComplete)
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
	ch.Append(0x1000, 0x2000, 8)
	if got := ch.Status(); got != nil {
		t.Errorf("Status() after re-arm = %v, want nil", got)
	}
}

func TestCircular(t *testing.T) {
	e := newFake(0)
	r := NewRegistry(1)
	ch := newChannel(t, e, r, Circular, 2)
	calls := 0
	ch.SetCallback(func(any) { calls++ }, nil)
	ch.Append(0x1000, 0x8000, 16)
	ch.Append(0x1010, 0x8000, 16)
	if err := ch.Enable(); err != nil {
		t.Fatal(err)
	}
	if !e.circular || len(e.started[0]) != 2 {
		t.Errorf("started %v circular=%v, want 2 descriptors, circular", e.started, e.circular)
	}
	ch.Interrupt(EventProgress)
	ch.Interrupt(EventComplete)
	ch.Interrupt(EventComplete)
	if got := ch.State(); got != StateBusy {
		t.Errorf("State() = %v, want %v", got, StateBusy)
	}
	if calls != 3 {
		t.Errorf("callback ran %d times, want 3", calls)
	}
	e.inFlight = 1
	if got := ch.Queued(); got != 1 {
		t.Errorf("Queued() = %d, want 1", got)
	}
	e.remaining = 3
	if got, err := ch.Residue(); err != nil || got != 12 {
		t.Errorf("Residue() = %d, %v, want 12, nil", got, err)
	}
	e.stale = true
	if _, err := ch.Residue(); !errors.Is(err, hal.ErrInvalid) {
		t.Errorf("Residue() with a stale count = %v, want %v", err, hal.ErrInvalid)
	}
	ch.Disable()
	if got := ch.State(); got != StateDone {
		t.Errorf("State() after Disable = %v, want %v", got, StateDone)
	}
	if got := ch.Queued(); got != 0 {
		t.Errorf("Queued() after Disable = %d, want 0", got)
	}
	if r.Owner(0) != nil || e.stops != 1 {
		t.Errorf("Disable: owner = %v, stops = %d, want nil, 1", r.Owner(0), e.stops)
	}
	ch.Disable()
	if e.stops != 1 {
		t.Errorf("Disable of a done channel stopped the engine")
	}
	ch.Interrupt(EventComplete)
	if calls != 3 {
		t.Errorf("event after Disable ran the callback")
	}
}

func TestClear(t *testing.T) {
	e := newFake(0)
	r := NewRegistry(1)
	ch := newChannel(t, e, r, OneShot, 4)
	ch.Append(0x1000, 0x2000, 4)
	ch.Append(0x1004, 0x2000, 4)
	if err := ch.Enable(); err != nil {
		t.Fatal(err)
	}
	ch.Clear()
	if got := ch.State(); got != StateIdle {
		t.Errorf("State() = %v, want %v", got, StateIdle)
	}
	if r.Owner(0) != nil {
		t.Error("Clear did not release the slot")
	}
	if _, err := ch.Residue(); !errors.Is(err, hal.ErrInvalid) {
		t.Errorf("Residue() of an idle channel = %v, want %v", err, hal.ErrInvalid)
	}
	ch.Append(0x1000, 0x2000, 4)
	if err := ch.Enable(); err != nil {
		t.Fatal(err)
	}
	if got := len(e.started[len(e.started)-1]); got != 1 {
		t.Errorf("started %d descriptors after Clear, want 1", got)
	}
	if err := ch.Halt(); err != nil {
		t.Fatal(err)
	}
	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestMisuse(t *testing.T) {
	tests := []struct {
		name string
		run  func(ch *Channel)
	}{
		{"misaligned source", func(ch *Channel) { ch.Append(0x1000, 0x2002, 4) }},
		{"nil address", func(ch *Channel) { ch.Append(0, 0x2000, 4) }},
		{"partial transfer", func(ch *Channel) { ch.Append(0x1000, 0x2000, 6) }},
		{"too large", func(ch *Channel) { ch.Append(0x1000, 0x2000, 4*1025) }},
		{"enable idle", func(ch *Channel) { ch.Enable() }},
		{"wide transfers", func(ch *Channel) {
			ch.Configure(Settings{Source: Side{Width: Width64}, Destination: Side{Width: Width64}})
		}},
		{"unsupported burst", func(ch *Channel) {
			ch.Configure(Settings{Burst: Burst2, Source: Side{Width: Width8}, Destination: Side{Width: Width8}})
		}},
		{"list full", func(ch *Channel) {
			ch.Append(0x1000, 0x2000, 4)
			ch.Append(0x1000, 0x2000, 4)
			ch.Append(0x1000, 0x2000, 4)
		}},
		{"append busy", func(ch *Channel) {
			ch.Append(0x1000, 0x2000, 4)
			ch.Enable()
			ch.Append(0x1000, 0x2000, 4)
		}},
		{"close busy", func(ch *Channel) {
			ch.Append(0x1000, 0x2000, 4)
			ch.Enable()
			ch.Close()
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ch := newChannel(t, newFake(0), NewRegistry(1), OneShot, 2)
			defer func() {
				if recover() == nil {
					t.Errorf("%s did not panic", test.name)
				}
			}()
			test.run(ch)
		})
	}
}

func TestNewInvalid(t *testing.T) {
	e := newFake(3)
	e.limits.Circular = false
	e.limits.Descriptors = 1
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no engine", Config{Registry: NewRegistry(4)}},
		{"slot outside registry", Config{Engine: e, Registry: NewRegistry(2)}},
		{"circular", Config{Engine: e, Registry: NewRegistry(4), Mode: Circular}},
		{"list", Config{Engine: e, Registry: NewRegistry(4), Descriptors: 2}},
	}
	for _, test := range tests {
		if _, err := New(test.cfg); !errors.Is(err, hal.ErrInvalid) {
			t.Errorf("%s: New() = %v, want %v", test.name, err, hal.ErrInvalid)
		}
	}
}
