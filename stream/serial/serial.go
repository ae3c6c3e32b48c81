// Package serial implements receive and transmit streams on a serial port.
// Each direction is served by a goroutine that plays the role of the
// port's interrupt handler: requests complete from that goroutine.
package serial

import (
	"fmt"
	"io"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/tarm/serial"
	"halcore.dev/hal"
	"halcore.dev/stream"
)

// Rates lists the supported line rates.
var Rates = []int{
	1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200,
	230400, 460800, 500000, 576000, 921600, 1000000,
}

type Config struct {
	// Name is the device. An empty name tries the platform's
	// usual USB serial devices.
	Name string
	Baud int
	// ReadTimeout bounds a single read. Zero blocks until data arrives.
	ReadTimeout time.Duration
	// Depth is the number of requests each direction can queue.
	Depth int
}

const defaultDepth = 8

// Port is a serial port driven through streams.
type Port struct {
	name string
	baud int
	conn io.ReadWriteCloser
	rx   *direction
	tx   *direction

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// direction is the request queue of one direction.
type direction struct {
	done <-chan struct{}
	reqs chan *stream.Request
}

func (d *direction) Enqueue(r *stream.Request) error {
	select {
	case <-d.done:
		return fmt.Errorf("serial: port closed: %w", hal.ErrInvalid)
	default:
	}
	select {
	case d.reqs <- r:
		return nil
	default:
		return hal.ErrFull
	}
}

// Open opens the serial device of cfg.
func Open(cfg Config) (*Port, error) {
	if !slices.Contains(Rates, cfg.Baud) {
		return nil, errors.NotValidf("baud rate %d", cfg.Baud)
	}
	var devices []string
	if cfg.Name != "" {
		devices = append(devices, cfg.Name)
	} else {
		switch runtime.GOOS {
		case "windows":
			devices = append(devices, "COM3")
		case "linux":
			devices = append(devices, "/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyACM0")
		}
	}
	if len(devices) == 0 {
		return nil, errors.New("serial: no device specified")
	}
	var firstErr error
	for _, dev := range devices {
		c := &serial.Config{Name: dev, Baud: cfg.Baud, ReadTimeout: cfg.ReadTimeout}
		s, err := serial.OpenPort(c)
		if err == nil {
			glog.Infof("serial: opened %s at %d baud", dev, cfg.Baud)
			cfg.Name = dev
			return NewPort(s, cfg), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, errors.Annotatef(firstErr, "serial: open %s", strings.Join(devices, ", "))
}

// NewPort serves streams on an open connection.
func NewPort(conn io.ReadWriteCloser, cfg Config) *Port {
	depth := cfg.Depth
	if depth <= 0 {
		depth = defaultDepth
	}
	p := &Port{
		name: cfg.Name,
		baud: cfg.Baud,
		conn: conn,
		done: make(chan struct{}),
	}
	p.rx = &direction{done: p.done, reqs: make(chan *stream.Request, depth)}
	p.tx = &direction{done: p.done, reqs: make(chan *stream.Request, depth)}
	p.wg.Add(2)
	go p.receive()
	go p.transmit()
	return p
}

// Rx returns the receive stream. A request completes with the bytes of
// a single read.
func (p *Port) Rx() stream.Stream {
	return p.rx
}

// Tx returns the transmit stream.
func (p *Port) Tx() stream.Stream {
	return p.tx
}

func (p *Port) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// errorBackoff is the pause after a failed read.
var errorBackoff = 100 * time.Millisecond

func (p *Port) receive() {
	defer p.wg.Done()
	failing := false
	for {
		var r *stream.Request
		select {
		case <-p.done:
			return
		case r = <-p.rx.reqs:
		}
		for {
			n, err := p.conn.Read(r.Buffer[:r.Capacity])
			if p.closed() {
				r.Length = 0
				r.Complete(stream.StatusCancelled)
				return
			}
			if n == 0 && (err == nil || err == io.EOF) {
				// Read timeout.
				continue
			}
			r.Length = n
			if err == nil {
				failing = false
				r.Complete(stream.StatusCompleted)
				break
			}
			if !failing {
				glog.Warningf("serial: %s: read: %v", p.name, err)
			}
			failing = true
			// A failing device is not retried by resubmission: the
			// request is cancelled unless it carries data.
			if n > 0 {
				r.Complete(stream.StatusCompleted)
			} else {
				r.Complete(stream.StatusCancelled)
			}
			select {
			case <-p.done:
				return
			case <-time.After(errorBackoff):
			}
			break
		}
	}
}

func (p *Port) transmit() {
	defer p.wg.Done()
	for {
		var r *stream.Request
		select {
		case <-p.done:
			return
		case r = <-p.tx.reqs:
		}
		_, err := p.conn.Write(r.Data())
		switch {
		case p.closed():
			r.Complete(stream.StatusCancelled)
			return
		case err != nil:
			glog.Warningf("serial: %s: write: %v", p.name, err)
			r.Complete(stream.StatusFailure)
		default:
			r.Complete(stream.StatusCompleted)
		}
	}
}

// Param reports the line rate.
func (p *Port) Param(param stream.Param) (int, error) {
	if param != stream.ParamRate {
		return 0, fmt.Errorf("serial: parameter %v: %w", param, hal.ErrInvalid)
	}
	return p.baud, nil
}

// SetParam accepts the current rate only; the rate is fixed while the
// port is open.
func (p *Port) SetParam(param stream.Param, v int) error {
	if param != stream.ParamRate || v != p.baud {
		return fmt.Errorf("serial: set %v to %d: %w", param, v, hal.ErrInvalid)
	}
	return nil
}

// Close closes the connection and cancels queued requests.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.conn.Close()
		p.wg.Wait()
		for _, d := range []*direction{p.rx, p.tx} {
			for {
				select {
				case r := <-d.reqs:
					r.Length = 0
					r.Complete(stream.StatusCancelled)
					continue
				default:
				}
				break
			}
		}
	})
	return errors.Trace(err)
}

func (p *Port) String() string {
	return p.name
}
