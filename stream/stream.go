// Package stream defines request based byte streams. A stream accepts
// requests and completes each of them exactly once, usually from interrupt
// context.
package stream

import "fmt"

type Status uint8

const (
	StatusCompleted Status = iota
	StatusCancelled
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Callback is called when a request completes.
type Callback func(r *Request, s Status)

// Request is a buffer submitted to a stream. For receive streams Length is
// set on completion; for transmit streams it is the number of bytes to
// send.
type Request struct {
	Buffer []byte
	// Capacity is the usable size of Buffer.
	Capacity int
	Length   int

	callback Callback
}

// SetCallback sets the completion callback. It must not be changed while
// the request is queued.
func (r *Request) SetCallback(fn Callback) {
	r.callback = fn
}

// Complete finishes the request. It is called by stream implementations.
func (r *Request) Complete(s Status) {
	if r.callback != nil {
		r.callback(r, s)
	}
}

// Data returns the valid part of the buffer.
func (r *Request) Data() []byte {
	return r.Buffer[:r.Length]
}

// Stream queues requests. Enqueue returns an error wrapping hal.ErrBusy
// if the request cannot be queued now.
type Stream interface {
	Enqueue(r *Request) error
}

// Param identifies a stream parameter.
type Param int

const (
	// ParamRxAvailable is the number of received buffers waiting
	// to be read.
	ParamRxAvailable Param = iota
	// ParamRxPending is the number of receive buffers owned by the
	// underlying stream.
	ParamRxPending
	// ParamTxAvailable is the number of free transmit buffers.
	ParamTxAvailable
	// ParamTxPending is the number of transmit buffers in flight.
	ParamTxPending
	// ParamRate is the line rate, in bits per second for serial lines.
	ParamRate
)

func (p Param) String() string {
	switch p {
	case ParamRxAvailable:
		return "rx available"
	case ParamRxPending:
		return "rx pending"
	case ParamTxAvailable:
		return "tx available"
	case ParamTxPending:
		return "tx pending"
	case ParamRate:
		return "rate"
	default:
		return fmt.Sprintf("Param(%d)", int(p))
	}
}

// Interface is the control side of a stream.
type Interface interface {
	Param(p Param) (int, error)
	SetParam(p Param, v int) error
}
