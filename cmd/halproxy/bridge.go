package main

import (
	"errors"
	"io"
	"time"

	"github.com/golang/glog"
	"halcore.dev/hal"
	"halcore.dev/proxy"
	"halcore.dev/telemetry"
	"halcore.dev/wq"
	"periph.io/x/conn/v3/gpio"
)

// bridge copies between a proxy and a pair of host streams. Its methods
// run as tasks on a unique work queue, so a burst of notifications queues
// a single task.
type bridge struct {
	p     *proxy.Proxy
	queue *wq.Loop
	clock wq.Clock
	out   io.Writer
	// in delivers chunks read from the host.
	in  <-chan []byte
	led gpio.PinOut

	// Task callbacks, evaluated once so the unique queue sees the same
	// func values.
	serviceTask, reportTask wq.Func

	rbuf    []byte
	pending []byte
	ledOn   bool
	// reports hands statistics to the publisher.
	reports chan *telemetry.Report
}

func newBridge(p *proxy.Proxy, queue *wq.Loop, clock wq.Clock, rxSize int, out io.Writer, in <-chan []byte) *bridge {
	b := &bridge{
		p:       p,
		queue:   queue,
		clock:   clock,
		out:     out,
		in:      in,
		rbuf:    make([]byte, rxSize),
		reports: make(chan *telemetry.Report, 1),
	}
	b.serviceTask, b.reportTask = b.service, b.report
	p.SetCallback(b.notify, nil)
	return b
}

// notify is called by the proxy, possibly from a stream's completion
// context.
func (b *bridge) notify(any) {
	b.schedule()
}

func (b *bridge) schedule() {
	if err := b.queue.Add(b.serviceTask, b); err != nil && !errors.Is(err, wq.ErrPending) {
		glog.Warningf("halproxy: queue service: %v", err)
	}
}

func (b *bridge) service(any) {
	for {
		n, err := b.p.Read(b.rbuf)
		if err != nil {
			glog.Errorf("halproxy: read: %v", err)
			break
		}
		if n == 0 {
			break
		}
		if _, err := b.out.Write(b.rbuf[:n]); err != nil {
			glog.Errorf("halproxy: output: %v", err)
		}
		b.toggle()
	}
	for {
		if len(b.pending) == 0 {
			select {
			case c, ok := <-b.in:
				if !ok {
					return
				}
				b.pending = c
			default:
				return
			}
		}
		n, err := b.p.Write(b.pending)
		if err != nil {
			glog.Errorf("halproxy: write: %v", err)
			b.pending = nil
			continue
		}
		if n == 0 {
			// Resumed by the next transmit completion.
			return
		}
		b.pending = b.pending[n:]
	}
}

func (b *bridge) toggle() {
	if b.led == nil {
		return
	}
	b.ledOn = !b.ledOn
	if err := b.led.Out(gpio.Level(b.ledOn)); err != nil {
		glog.V(1).Infof("halproxy: led: %v", err)
	}
}

// report snapshots the statistics. Publishing happens outside the queue.
func (b *bridge) report(any) {
	info := b.queue.Statistics()
	r := telemetry.FromQueue(time.Now(), info, b.queue.Profiles(), b.clock.Frequency())
	r.AddStreams(b.p)
	select {
	case b.reports <- r:
	default:
		glog.V(1).Infof("halproxy: publisher busy, dropping report")
	}
}

func (b *bridge) scheduleReport() {
	err := b.queue.Add(b.reportTask, b)
	switch {
	case err == nil, errors.Is(err, wq.ErrPending):
	case errors.Is(err, hal.ErrBusy):
		glog.V(1).Infof("halproxy: queue full, skipping report")
	default:
		glog.Warningf("halproxy: queue report: %v", err)
	}
}

// publish sends reports to sink until the channel closes.
func publish(reports <-chan *telemetry.Report, sink telemetry.Sink) {
	for r := range reports {
		// Errors are logged by the sinks.
		sink.Publish(r)
	}
}
