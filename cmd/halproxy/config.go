package main

import (
	"fmt"
	"os"
	"time"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
	"halcore.dev/internal/flagenv"
	"halcore.dev/stream/serial"
)

const envPrefix = "HALPROXY_"

type Config struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// Queue is the number of work queue slots.
	Queue   int     `yaml:"queue"`
	Profile bool    `yaml:"profile"`
	Rx      Buffers `yaml:"rx"`
	Tx      Buffers `yaml:"tx"`
	LED     string  `yaml:"led"`
	Stats   Stats   `yaml:"stats"`
}

type Buffers struct {
	Count int `yaml:"count"`
	Size  int `yaml:"size"`
}

type Stats struct {
	Interval time.Duration `yaml:"interval"`
	// File receives CBOR reports; "-" is standard error.
	File string `yaml:"file"`
	Log  bool   `yaml:"log"`
	MQTT MQTT   `yaml:"mqtt"`
}

type MQTT struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      int    `yaml:"qos"`
}

func defaultConfig() Config {
	return Config{
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
		Queue:       16,
		Rx:          Buffers{Count: 4, Size: 64},
		Tx:          Buffers{Count: 4, Size: 64},
		Stats: Stats{
			MQTT: MQTT{Topic: "halproxy/stats", ClientID: "halproxy"},
		},
	}
}

// parseConfig parses args into a configuration. Settings come from, in
// increasing precedence, the defaults, the --config file, the environment
// and the command line.
func parseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := defaultConfig()
	path := fs.String("config", "", "YAML configuration file")
	fs.StringVar(&cfg.Port, "port", cfg.Port, "serial device (default: first USB serial device)")
	fs.IntVar(&cfg.Baud, "baud", cfg.Baud, "line rate")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "serial read timeout")
	fs.IntVar(&cfg.Queue, "queue", cfg.Queue, "work queue slots")
	fs.BoolVar(&cfg.Profile, "profile", cfg.Profile, "record task execution profiles")
	fs.IntVar(&cfg.Rx.Count, "rx-buffers", cfg.Rx.Count, "receive buffers")
	fs.IntVar(&cfg.Rx.Size, "rx-size", cfg.Rx.Size, "receive buffer size")
	fs.IntVar(&cfg.Tx.Count, "tx-buffers", cfg.Tx.Count, "transmit buffers")
	fs.IntVar(&cfg.Tx.Size, "tx-size", cfg.Tx.Size, "transmit buffer size")
	fs.StringVar(&cfg.LED, "led", cfg.LED, "GPIO toggled on received data")
	fs.DurationVar(&cfg.Stats.Interval, "stats-interval", cfg.Stats.Interval, "statistics interval (0 disables)")
	fs.StringVar(&cfg.Stats.File, "stats-file", cfg.Stats.File, "file receiving CBOR statistics")
	fs.BoolVar(&cfg.Stats.Log, "stats-log", cfg.Stats.Log, "log statistics")
	fs.StringVar(&cfg.Stats.MQTT.Broker, "mqtt-broker", cfg.Stats.MQTT.Broker, "MQTT broker for statistics, e.g. tcp://localhost:1883")
	fs.StringVar(&cfg.Stats.MQTT.Topic, "mqtt-topic", cfg.Stats.MQTT.Topic, "MQTT statistics topic")
	fs.StringVar(&cfg.Stats.MQTT.ClientID, "mqtt-client-id", cfg.Stats.MQTT.ClientID, "MQTT client id")
	if err := fs.Parse(args); err != nil {
		return Config{}, errors.Trace(err)
	}
	if err := flagenv.Apply(fs, envPrefix); err != nil {
		return Config{}, errors.Trace(err)
	}
	if *path != "" {
		// The file overrides defaults only: remember explicit flags and
		// set them again.
		set := make(map[string]string)
		fs.Visit(func(f *flag.Flag) {
			set[f.Name] = f.Value.String()
		})
		if err := loadConfig(*path, &cfg); err != nil {
			return Config{}, err
		}
		for name, v := range set {
			if err := fs.Set(name, v); err != nil {
				return Config{}, errors.Trace(err)
			}
		}
	}
	return cfg, cfg.validate()
}

func loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Trace(err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return errors.Annotatef(err, "%s", path)
	}
	return nil
}

func (c Config) validate() error {
	switch {
	case c.Queue < 2:
		// One slot for the bridge task and one for statistics.
		return errors.NotValidf("queue size %d", c.Queue)
	case c.Rx.Count < 1 || c.Rx.Size < 1:
		return errors.NotValidf("rx buffers %dx%d", c.Rx.Count, c.Rx.Size)
	case c.Tx.Count < 1 || c.Tx.Size < 1:
		return errors.NotValidf("tx buffers %dx%d", c.Tx.Count, c.Tx.Size)
	case c.Stats.MQTT.QoS < 0 || c.Stats.MQTT.QoS > 2:
		return errors.NotValidf("MQTT QoS %d", c.Stats.MQTT.QoS)
	case c.Stats.Interval < 0:
		return errors.NotValidf("statistics interval %v", c.Stats.Interval)
	}
	return nil
}

func (c Config) serial() serial.Config {
	return serial.Config{
		Name:        c.Port,
		Baud:        c.Baud,
		ReadTimeout: c.ReadTimeout,
		Depth:       max(c.Rx.Count, c.Tx.Count),
	}
}

func (b Buffers) String() string {
	return fmt.Sprintf("%dx%d", b.Count, b.Size)
}
