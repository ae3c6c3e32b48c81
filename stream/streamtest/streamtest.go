// Package streamtest provides in-memory streams for tests.
package streamtest

import (
	"fmt"
	"sync"

	"halcore.dev/hal"
	"halcore.dev/stream"
)

// Stream is a stream whose requests are completed by the test. It is safe
// for concurrent use.
type Stream struct {
	mu       sync.Mutex
	inFlight []*stream.Request
	// Refuse makes Enqueue fail.
	Refuse bool
	// Limit caps the number of requests in flight, if positive.
	Limit int
}

func (s *Stream) Enqueue(r *stream.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Refuse || (s.Limit > 0 && len(s.inFlight) >= s.Limit) {
		return hal.ErrBusy
	}
	s.inFlight = append(s.inFlight, r)
	return nil
}

// InFlight returns the number of queued requests.
func (s *Stream) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Peek returns the oldest queued request, or nil.
func (s *Stream) Peek() *stream.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inFlight) == 0 {
		return nil
	}
	return s.inFlight[0]
}

// Complete copies data into the oldest request and completes it with
// status st. It reports whether a request was queued.
func (s *Stream) Complete(data []byte, st stream.Status) bool {
	s.mu.Lock()
	if len(s.inFlight) == 0 {
		s.mu.Unlock()
		return false
	}
	r := s.inFlight[0]
	s.inFlight = s.inFlight[1:]
	s.mu.Unlock()
	if data != nil {
		r.Length = copy(r.Buffer[:r.Capacity], data)
	}
	r.Complete(st)
	return true
}

// Pipe is a parameter store implementing stream.Interface.
type Pipe struct {
	mu     sync.Mutex
	params map[stream.Param]int
}

func (p *Pipe) Param(param stream.Param) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.params[param]
	if !ok {
		return 0, fmt.Errorf("%w: %v", hal.ErrInvalid, param)
	}
	return v, nil
}

func (p *Pipe) SetParam(param stream.Param, v int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.params == nil {
		p.params = make(map[stream.Param]int)
	}
	p.params[param] = v
	return nil
}
