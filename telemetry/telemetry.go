// Package telemetry exports scheduler and stream statistics as CBOR
// reports.
package telemetry

import (
	"fmt"
	"iter"
	"time"

	"github.com/fxamacker/cbor/v2"
	"halcore.dev/stream"
	"halcore.dev/wq"
	"periph.io/x/conn/v3/physic"
)

// Report is a statistics snapshot. Durations are in nanoseconds.
type Report struct {
	Time       int64    `cbor:"1,keyasint"`
	Uptime     uint64   `cbor:"2,keyasint"`
	Watermark  int      `cbor:"3,keyasint"`
	LatencyMin uint64   `cbor:"4,keyasint,omitempty"`
	LatencyMax uint64   `cbor:"5,keyasint,omitempty"`
	Loops      uint64   `cbor:"6,keyasint"`
	Tasks      []Task   `cbor:"7,keyasint,omitempty"`
	Streams    *Streams `cbor:"8,keyasint,omitempty"`
}

// Task is the execution profile of a task callback.
type Task struct {
	Name  string `cbor:"1,keyasint"`
	Count uint64 `cbor:"2,keyasint"`
	Min   uint64 `cbor:"3,keyasint"`
	Max   uint64 `cbor:"4,keyasint"`
	Total uint64 `cbor:"5,keyasint"`
}

// Streams holds buffer counts of a stream interface.
type Streams struct {
	RxAvailable int `cbor:"1,keyasint"`
	RxPending   int `cbor:"2,keyasint"`
	TxAvailable int `cbor:"3,keyasint"`
	TxPending   int `cbor:"4,keyasint"`
	Rate        int `cbor:"5,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}

// FromQueue builds a report from queue statistics and profiles measured
// by a clock running at f.
func FromQueue(now time.Time, info wq.Info, profiles iter.Seq[wq.TaskInfo], f physic.Frequency) *Report {
	ns := func(t wq.Ticks) uint64 {
		return uint64(t.Duration(f))
	}
	r := &Report{
		Time:       now.UnixMilli(),
		Uptime:     ns(info.Uptime),
		Watermark:  info.Watermark,
		LatencyMin: ns(info.Latency.Min),
		LatencyMax: ns(info.Latency.Max),
		Loops:      info.Loops,
	}
	if profiles != nil {
		for p := range profiles {
			r.Tasks = append(r.Tasks, Task{
				Name:  p.Name,
				Count: p.Count,
				Min:   ns(p.Execution.Min),
				Max:   ns(p.Execution.Max),
				Total: ns(p.Execution.Total),
			})
		}
	}
	return r
}

// AddStreams records the buffer counts of s. Parameters s does not
// support are left zero.
func (r *Report) AddStreams(s stream.Interface) {
	get := func(p stream.Param) int {
		v, err := s.Param(p)
		if err != nil {
			return 0
		}
		return v
	}
	r.Streams = &Streams{
		RxAvailable: get(stream.ParamRxAvailable),
		RxPending:   get(stream.ParamRxPending),
		TxAvailable: get(stream.ParamTxAvailable),
		TxPending:   get(stream.ParamTxPending),
		Rate:        get(stream.ParamRate),
	}
}

// Encode returns the deterministic CBOR encoding of r.
func (r *Report) Encode() ([]byte, error) {
	b, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("telemetry: encode: %w", err)
	}
	return b, nil
}

func Decode(b []byte) (*Report, error) {
	r := new(Report)
	if err := decMode.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("telemetry: decode: %w", err)
	}
	return r, nil
}
