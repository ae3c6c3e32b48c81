// Command halproxy bridges a serial port to standard input and output. The
// port is served by request streams and a buffering proxy, driven by a
// work queue that sleeps while idle. Queue and stream statistics can be
// exported as CBOR reports to a file, the log or an MQTT broker.
package main

import (
	goflag "flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
	"halcore.dev/pm"
	"halcore.dev/proxy"
	"halcore.dev/stream/serial"
	"halcore.dev/telemetry"
	"halcore.dev/wq"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

func main() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "halproxy: %v\n", err)
		os.Exit(2)
	}
	// Silence glog's complaint about an unparsed flag set; pflag already
	// set its flags.
	goflag.CommandLine.Parse(nil)
	err = run(cfg, os.Stdin, os.Stdout)
	if err != nil {
		glog.Errorf("halproxy: %v", errors.ErrorStack(err))
	}
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg Config, stdin io.Reader, stdout io.Writer) error {
	port, err := serial.Open(cfg.serial())
	if err != nil {
		return errors.Trace(err)
	}
	defer port.Close()
	clock := wq.NewSystemClock()
	loop, err := wq.New(wq.Config{
		Size:    cfg.Queue,
		Clock:   clock,
		Profile: cfg.Profile,
		Unique:  true,
		Sleeper: pm.WaitForInterrupt,
	})
	if err != nil {
		return errors.Trace(err)
	}
	p, err := proxy.New(proxy.Config{
		Pipe: port,
		Rx:   proxy.Direction{Stream: port.Rx(), Count: cfg.Rx.Count, Size: cfg.Rx.Size},
		Tx:   proxy.Direction{Stream: port.Tx(), Count: cfg.Tx.Count, Size: cfg.Tx.Size},
	})
	if err != nil {
		return errors.Trace(err)
	}
	in := make(chan []byte, 1)
	b := newBridge(p, loop, clock, cfg.Rx.Size, stdout, in)
	if cfg.LED != "" {
		led, err := openLED(cfg.LED)
		if err != nil {
			return errors.Trace(err)
		}
		b.led = led
	}
	sink, closeSinks, err := openSinks(cfg.Stats)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeSinks()
	go readInput(stdin, in, b, cfg.Tx.Size*cfg.Tx.Count)

	if cfg.Stats.Interval > 0 && sink != nil {
		go publish(b.reports, sink)
		t := time.NewTicker(cfg.Stats.Interval)
		defer t.Stop()
		go func() {
			for range t.C {
				b.scheduleReport()
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		glog.Infof("halproxy: %v, stopping", s)
		loop.Stop()
	}()

	glog.Infof("halproxy: %v on %v, rx %v, tx %v", p, port, cfg.Rx, cfg.Tx)
	if err := loop.Start(); err != nil {
		return errors.Trace(err)
	}
	close(b.reports)
	if err := port.Close(); err != nil {
		glog.Warningf("halproxy: close %v: %v", port, err)
	}
	return errors.Trace(p.Close())
}

// readInput feeds chunks of r to the bridge. Chunks are handed over, not
// reused.
func readInput(r io.Reader, in chan<- []byte, b *bridge, size int) {
	defer close(in)
	for {
		buf := make([]byte, size)
		n, err := r.Read(buf)
		if n > 0 {
			in <- buf[:n]
			b.schedule()
		}
		if err != nil {
			if err != io.EOF {
				glog.Errorf("halproxy: input: %v", err)
			}
			return
		}
	}
}

func openLED(name string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph")
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.NotFoundf("GPIO %s", name)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, errors.Annotatef(err, "GPIO %s", name)
	}
	return pin, nil
}

func openSinks(st Stats) (telemetry.Sink, func(), error) {
	var sinks telemetry.Multi
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if st.Log {
		sinks = append(sinks, telemetry.LogSink{})
	}
	switch st.File {
	case "":
	case "-":
		sinks = append(sinks, telemetry.NewWriterSink(os.Stderr))
	default:
		f, err := os.Create(st.File)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		closers = append(closers, func() { f.Close() })
		sinks = append(sinks, telemetry.NewWriterSink(f))
	}
	if st.MQTT.Broker != "" {
		c, err := telemetry.DialMQTT(st.MQTT.Broker, st.MQTT.ClientID)
		if err != nil {
			closeAll()
			return nil, nil, errors.Trace(err)
		}
		closers = append(closers, func() { c.Disconnect(250) })
		sinks = append(sinks, telemetry.NewMQTTSink(c, st.MQTT.Topic, byte(st.MQTT.QoS)))
	}
	if len(sinks) == 0 {
		return nil, closeAll, nil
	}
	return sinks, closeAll, nil
}
