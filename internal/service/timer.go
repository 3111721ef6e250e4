package service

import (
	"sync"
	"time"
)

// Countdown is an attempt-scoped countdown timer. It ticks while the attempt
// is in progress and invokes onExpire exactly once when the deadline passes.
// It never touches persistence; expiry only triggers the state machine's
// submit path. Each session owns its own Countdown and must Stop it on
// finalize so timers never outlive their attempt.
type Countdown struct {
	deadline time.Time
	interval time.Duration
	onExpire func()

	stop       chan struct{}
	stopOnce   sync.Once
	expireOnce sync.Once
}

// NewCountdown creates a countdown with remaining time left on the clock.
// The caller decides what remaining means (full duration on a fresh start,
// the recomputed remainder on resume).
func NewCountdown(remaining time.Duration, onExpire func()) *Countdown {
	return newCountdownWithInterval(remaining, time.Second, onExpire)
}

func newCountdownWithInterval(remaining, interval time.Duration, onExpire func()) *Countdown {
	return &Countdown{
		deadline: time.Now().Add(remaining),
		interval: interval,
		onExpire: onExpire,
		stop:     make(chan struct{}),
	}
}

// Start launches the tick loop. A countdown that is already expired fires
// immediately rather than granting time.
func (c *Countdown) Start() {
	if !c.deadline.After(time.Now()) {
		go c.fire()
		return
	}

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				if !c.deadline.After(time.Now()) {
					c.fire()
					return
				}
			}
		}
	}()
}

// Remaining returns the wall-clock time left, floored at zero.
func (c *Countdown) Remaining() time.Duration {
	d := time.Until(c.deadline)
	if d < 0 {
		return 0
	}
	return d
}

// Stop halts the tick loop. Safe to call more than once; a stopped countdown
// that has not yet fired never fires.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Countdown) fire() {
	c.expireOnce.Do(func() {
		select {
		case <-c.stop:
			return
		default:
		}
		c.onExpire()
	})
}
