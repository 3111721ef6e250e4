package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountdownFiresExactlyOnce(t *testing.T) {
	var fires int32
	c := newCountdownWithInterval(20*time.Millisecond, 5*time.Millisecond, func() {
		atomic.AddInt32(&fires, 1)
	})
	c.Start()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fires) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fires))
}

func TestCountdownStopPreventsFiring(t *testing.T) {
	var fires int32
	c := newCountdownWithInterval(30*time.Millisecond, 5*time.Millisecond, func() {
		atomic.AddInt32(&fires, 1)
	})
	c.Start()
	c.Stop()
	c.Stop() // idempotent

	time.Sleep(80 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&fires))
}

func TestCountdownExpiredDeadlineFiresImmediately(t *testing.T) {
	var fires int32
	c := newCountdownWithInterval(-time.Second, 5*time.Millisecond, func() {
		atomic.AddInt32(&fires, 1)
	})
	c.Start()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fires) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, c.Remaining())
}

func TestCountdownRemainingFlooredAtZero(t *testing.T) {
	c := NewCountdown(50*time.Millisecond, func() {})
	assert.True(t, c.Remaining() > 0)

	expired := NewCountdown(-time.Minute, func() {})
	assert.Zero(t, expired.Remaining())
}
