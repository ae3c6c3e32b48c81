// Package wq implements cooperative run-to-completion work queues.
//
// Tasks are callbacks queued from task or interrupt context and run in FIFO
// order by a scheduler: Loop polls and can be stopped, Daemon polls forever
// and IRQ drains from an interrupt handler. Every scheduler drains its queue
// completely on each pass, including tasks queued by tasks of the same pass.
package wq

import (
	"fmt"
	"math/bits"
	"time"

	"halcore.dev/hal"
	"halcore.dev/pm"
	"periph.io/x/conn/v3/physic"
)

// Func is a task callback.
type Func func(arg any)

// ErrPending is returned by unique queues when the same task and argument
// are already queued.
var ErrPending = fmt.Errorf("%w: task already pending", hal.ErrBusy)

type Config struct {
	// Size is the number of tasks the queue can hold.
	Size int
	// Clock enables uptime and, with Profile, execution statistics.
	Clock Clock
	// Profile records per task execution times and dispatch latency.
	Profile bool
	// Load keeps polling schedulers from sleeping, so that
	// Info.Loops counts idle passes.
	Load bool
	// Unique refuses tasks whose callback and argument are already
	// queued. Callbacks are the same if they are the same func value:
	// closures are distinct per evaluation, so store method values in a
	// variable. Adding an uncomparable argument panics.
	Unique bool
	// Sleeper is used by polling schedulers while the queue is empty. A
	// nil Sleeper makes them spin.
	Sleeper pm.Sleeper
}

// Clock is a free running tick counter.
type Clock interface {
	Now() Ticks
	Frequency() physic.Frequency
}

// Ticks is a duration or timestamp in clock ticks.
type Ticks uint64

// Duration converts ticks at frequency f to a duration. It saturates
// instead of overflowing.
func (t Ticks) Duration(f physic.Frequency) time.Duration {
	if f <= 0 {
		return 0
	}
	// f is in µHz.
	const scale = uint64(time.Second/time.Nanosecond) * uint64(physic.Hertz)
	hi, lo := bits.Mul64(uint64(t), scale)
	if hi >= uint64(f) {
		return 1<<63 - 1
	}
	ns, _ := bits.Div64(hi, lo, uint64(f))
	if ns > 1<<63-1 {
		return 1<<63 - 1
	}
	return time.Duration(ns)
}

// Info is a snapshot of scheduler statistics.
type Info struct {
	// Watermark is the highest number of queued tasks since start.
	Watermark int
	// Uptime is the time since start. It is zero without a Clock.
	Uptime Ticks
	// Latency is the range of delays between queueing and running
	// a task. It is only recorded when profiling.
	Latency struct {
		Min, Max Ticks
	}
	// Loops is the number of scheduler passes since the previous
	// call to Statistics.
	Loops uint64
}

// TaskInfo is the execution profile of a task callback.
type TaskInfo struct {
	// Task is the code address of the callback.
	Task  uintptr
	Name  string
	Count uint64
	// Execution is the range and total of run times.
	Execution struct {
		Min, Max, Total Ticks
	}
}

func (c Config) validate() error {
	if c.Size < 1 {
		return fmt.Errorf("%w: queue size %d", hal.ErrInvalid, c.Size)
	}
	if c.Profile && c.Clock == nil {
		return fmt.Errorf("%w: profiling without a clock", hal.ErrInvalid)
	}
	return nil
}
