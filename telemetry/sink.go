package telemetry

import (
	"io"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Sink receives reports.
type Sink interface {
	Publish(r *Report) error
}

// WriterSink writes encoded reports back to back. The encoding is self
// delimiting, so a cbor.Decoder reads them one at a time.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Publish(r *Report) error {
	b, err := r.Encode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(b)
	return errors.Annotate(err, "telemetry: write report")
}

// LogSink logs a one line summary of each report.
type LogSink struct{}

func (LogSink) Publish(r *Report) error {
	glog.Infof("telemetry: uptime %v, %d loops, watermark %d, latency %v-%v, %d tasks",
		time.Duration(r.Uptime), r.Loops, r.Watermark,
		time.Duration(r.LatencyMin), time.Duration(r.LatencyMax), len(r.Tasks))
	for _, t := range r.Tasks {
		glog.V(1).Infof("telemetry: %s: %d runs, %v-%v", t.Name, t.Count, time.Duration(t.Min), time.Duration(t.Max))
	}
	return nil
}

// Publisher is the publishing side of an MQTT client.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes encoded reports to an MQTT topic.
type MQTTSink struct {
	client  Publisher
	topic   string
	qos     byte
	timeout time.Duration
}

func NewMQTTSink(client Publisher, topic string, qos byte) *MQTTSink {
	return &MQTTSink{client: client, topic: topic, qos: qos, timeout: 5 * time.Second}
}

func (s *MQTTSink) Publish(r *Report) error {
	b, err := r.Encode()
	if err != nil {
		return err
	}
	tok := s.client.Publish(s.topic, s.qos, false, b)
	if !tok.WaitTimeout(s.timeout) {
		return errors.Errorf("telemetry: publish to %s timed out", s.topic)
	}
	return errors.Annotatef(tok.Error(), "telemetry: publish to %s", s.topic)
}

// DialMQTT connects to broker and returns the client. Callers disconnect
// it when done.
func DialMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	c := mqtt.NewClient(opts)
	if tok := c.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, errors.Annotatef(tok.Error(), "telemetry: connect to %s", broker)
	}
	glog.Infof("telemetry: connected to %s as %s", broker, clientID)
	return c, nil
}

// Multi publishes to every sink and returns the first error.
type Multi []Sink

func (m Multi) Publish(r *Report) error {
	var first error
	for _, s := range m {
		if err := s.Publish(r); err != nil {
			glog.Warningf("%v", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
