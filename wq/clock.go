package wq

import (
	"time"

	"periph.io/x/conn/v3/physic"
)

// SystemClock counts microseconds of the monotonic system clock.
type SystemClock struct {
	epoch time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

func (c *SystemClock) Now() Ticks {
	return Ticks(time.Since(c.epoch) / time.Microsecond)
}

func (c *SystemClock) Frequency() physic.Frequency {
	return physic.MegaHertz
}
