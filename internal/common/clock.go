package common

import "time"

// Clock abstracts time for components that schedule or delay work, so
// retry backoff and SLA urgency can be tested without real timers.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// NewClock returns the wall clock.
func NewClock() Clock {
	return realClock{}
}
