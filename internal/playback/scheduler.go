package playback

import (
	"sync"
	"time"
)

// Timer is a scheduled callback that can be cancelled before it runs.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay. Engines take a Scheduler instead of
// calling time.AfterFunc so tests can drive logical time.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

// WallClock schedules callbacks on real time.
func WallClock() Scheduler {
	return wallScheduler{}
}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type lockedScheduler struct {
	mu    sync.Locker
	inner Scheduler
}

// Serialized wraps s so that every callback runs while holding mu. Sessions
// use it to keep timer callbacks on the same logical thread as ticks.
func Serialized(mu sync.Locker, s Scheduler) Scheduler {
	return &lockedScheduler{mu: mu, inner: s}
}

func (l *lockedScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return l.inner.AfterFunc(d, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		f()
	})
}

// StopTimer stops t if it is non-nil.
func StopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
