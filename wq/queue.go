package wq

import (
	"iter"
	"reflect"
	"runtime"
	"unsafe"

	"halcore.dev/hal"
	"halcore.dev/internal/ring"
	"halcore.dev/irq"
)

type task struct {
	fn  Func
	arg any
	// id is the closure object of fn. Closures of one function literal
	// share a code pointer but not a closure object.
	id      unsafe.Pointer
	pc      uintptr
	queued  Ticks
	profile *profile
}

type profile struct {
	pc              uintptr
	count           uint64
	min, max, total Ticks
}

// queue is the task ring and statistics shared by the schedulers. All
// fields are guarded by the irq critical section.
type queue struct {
	cfg       Config
	tasks     ring.Ring[task]
	profiles  []*profile
	start     Ticks
	watermark int
	latency   struct {
		min, max Ticks
		samples  uint64
	}
	loops uint64
}

func newQueue(cfg Config) (*queue, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &queue{
		cfg:   cfg,
		tasks: ring.New[task](cfg.Size),
	}, nil
}

func (q *queue) profiling() bool {
	return q.cfg.Profile && q.cfg.Clock != nil
}

func funcPC(fn Func) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// funcID returns the closure object of fn. Method values make a new
// closure on every evaluation.
func funcID(fn Func) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&fn))
}

func (q *queue) add(fn Func, arg any) error {
	if fn == nil {
		panic("wq: nil task")
	}
	t := task{fn: fn, arg: arg}
	if q.cfg.Unique {
		// Comparing an uncomparable argument panics, which must not
		// happen with interrupts masked.
		if arg != nil && !reflect.TypeOf(arg).Comparable() {
			panic("wq: uncomparable argument in unique queue")
		}
		t.id = funcID(fn)
	}
	if q.profiling() {
		t.pc = funcPC(fn)
	}
	s := irq.Save()
	if q.cfg.Unique && q.pending(t.id, arg) {
		irq.Restore(s)
		return ErrPending
	}
	if q.tasks.Free() == 0 {
		irq.Restore(s)
		return hal.ErrFull
	}
	if q.profiling() {
		t.queued = q.cfg.Clock.Now()
		t.profile = q.lookup(t.pc)
	}
	q.tasks.Push(t)
	q.watermark = max(q.watermark, q.tasks.Len())
	irq.Restore(s)
	irq.Wake()
	return nil
}

func (q *queue) pending(id unsafe.Pointer, arg any) bool {
	for i := range q.tasks.Len() {
		t := q.tasks.At(i)
		if t.id == id && t.arg == arg {
			return true
		}
	}
	return false
}

func (q *queue) lookup(pc uintptr) *profile {
	for _, p := range q.profiles {
		if p.pc == pc {
			return p
		}
	}
	p := &profile{pc: pc}
	q.profiles = append(q.profiles, p)
	return p
}

func (q *queue) len() int {
	s := irq.Save()
	n := q.tasks.Len()
	irq.Restore(s)
	return n
}

// pass counts a scheduler pass and drains the queue.
func (q *queue) pass() {
	s := irq.Save()
	q.loops++
	irq.Restore(s)
	q.drain()
}

func (q *queue) drain() {
	for {
		s := irq.Save()
		if q.tasks.Len() == 0 {
			irq.Restore(s)
			return
		}
		t := q.tasks.Pop()
		irq.Restore(s)
		if !q.profiling() {
			t.fn(t.arg)
			continue
		}
		begin := q.cfg.Clock.Now()
		t.fn(t.arg)
		end := q.cfg.Clock.Now()
		s = irq.Save()
		q.record(t, begin, end)
		irq.Restore(s)
	}
}

func (q *queue) record(t task, begin, end Ticks) {
	lat := begin - t.queued
	if q.latency.samples == 0 || lat < q.latency.min {
		q.latency.min = lat
	}
	if lat > q.latency.max {
		q.latency.max = lat
	}
	q.latency.samples++
	p := t.profile
	exec := end - begin
	if p.count == 0 || exec < p.min {
		p.min = exec
	}
	if exec > p.max {
		p.max = exec
	}
	p.total += exec
	p.count++
}

// reset clears the statistics at scheduler start. Queued tasks are kept.
func (q *queue) reset() {
	s := irq.Save()
	for _, p := range q.profiles {
		*p = profile{pc: p.pc}
	}
	q.watermark = q.tasks.Len()
	q.latency.min, q.latency.max, q.latency.samples = 0, 0, 0
	q.loops = 0
	if q.cfg.Clock != nil {
		q.start = q.cfg.Clock.Now()
	}
	irq.Restore(s)
}

func (q *queue) statistics() Info {
	var now Ticks
	if q.cfg.Clock != nil {
		now = q.cfg.Clock.Now()
	}
	s := irq.Save()
	info := Info{
		Watermark: q.watermark,
		Loops:     q.loops,
	}
	info.Latency.Min, info.Latency.Max = q.latency.min, q.latency.max
	if q.cfg.Clock != nil {
		info.Uptime = now - q.start
	}
	q.loops = 0
	irq.Restore(s)
	return info
}

func (q *queue) profileSeq() iter.Seq[TaskInfo] {
	return func(yield func(TaskInfo) bool) {
		s := irq.Save()
		snapshot := make([]profile, len(q.profiles))
		for i, p := range q.profiles {
			snapshot[i] = *p
		}
		irq.Restore(s)
		for _, p := range snapshot {
			ti := TaskInfo{
				Task:  p.pc,
				Count: p.count,
			}
			if f := runtime.FuncForPC(p.pc); f != nil {
				ti.Name = f.Name()
			}
			ti.Execution.Min, ti.Execution.Max, ti.Execution.Total = p.min, p.max, p.total
			if !yield(ti) {
				return
			}
		}
	}
}
