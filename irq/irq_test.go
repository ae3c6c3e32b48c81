//go:build !tinygo

package irq

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCriticalSection(t *testing.T) {
	const (
		workers = 8
		rounds  = 1000
	)
	counter := 0
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rounds {
				s := Save()
				v := counter
				counter = v + 1
				Restore(s)
			}
		}()
	}
	wg.Wait()
	if want := workers * rounds; counter != want {
		t.Errorf("counter = %d, want %d", counter, want)
	}
}

func TestWaitLatchedWake(t *testing.T) {
	// A wakeup delivered before Wait must not be lost.
	Wake()
	done := make(chan struct{})
	go func() {
		s := Save()
		Wait()
		Restore(s)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Wake")
	}
}

func TestWaitUnmasks(t *testing.T) {
	waiting := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s := Save()
		close(waiting)
		Wait()
		Restore(s)
		close(done)
	}()
	<-waiting
	// Save must not deadlock while the other goroutine waits.
	s := Save()
	Restore(s)
	Wake()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Wake")
	}
}

func TestSoftService(t *testing.T) {
	calls := 0
	l := NewSoft(func() { calls++ })
	l.SetPending()
	if l.Service() {
		t.Error("Service() ran a disabled line")
	}
	l.Enable()
	if !l.Service() {
		t.Error("Service() = false for an enabled, pending line")
	}
	if l.Service() {
		t.Error("Service() ran a line that is no longer pending")
	}
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
	l.Disable()
	l.SetPending()
	if !l.Pending() {
		t.Error("Pending() = false after SetPending")
	}
	if l.Service() {
		t.Error("Service() ran a disabled line")
	}
}

func TestSoftRun(t *testing.T) {
	ran := make(chan struct{}, 1)
	l := NewSoft(func() { ran <- struct{}{} })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	l.Enable()
	l.SetPending()
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not run")
	}
}
