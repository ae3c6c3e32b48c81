package wq

import (
	"iter"

	"github.com/golang/glog"
	"halcore.dev/irq"
)

// Daemon is a polling scheduler that never stops. It is meant to be the
// last call of a program's main function.
type Daemon struct {
	q *queue
}

func NewDaemon(cfg Config) (*Daemon, error) {
	q, err := newQueue(cfg)
	if err != nil {
		return nil, err
	}
	return &Daemon{q: q}, nil
}

func (d *Daemon) Add(fn Func, arg any) error {
	return d.q.add(fn, arg)
}

// Start runs queued tasks forever.
func (d *Daemon) Start() {
	d.q.reset()
	glog.V(1).Infof("wq: daemon started with %d slots", d.q.tasks.Cap())
	sleep := d.q.cfg.Sleeper != nil && !d.q.cfg.Load
	for {
		if sleep {
			s := irq.Save()
			if d.q.tasks.Len() == 0 {
				d.q.cfg.Sleeper.Sleep()
			}
			irq.Restore(s)
		}
		d.q.pass()
	}
}

func (d *Daemon) Statistics() Info {
	return d.q.statistics()
}

func (d *Daemon) Profiles() iter.Seq[TaskInfo] {
	return d.q.profileSeq()
}
