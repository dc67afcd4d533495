package channel

import "time"

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Reconnects and polls are timers, never sleeps,
// so a closed channel can cancel everything it has pending.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (realClock) Now() time.Time {
	return time.Now()
}

// Backoff returns the reconnect delay for the given 1-based attempt:
// initial * factor^(attempt-1), capped at max.
func Backoff(attempt int, initial, max time.Duration, factor float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if factor < 1 {
		factor = 1
	}

	d := float64(initial)
	for i := 1; i < attempt; i++ {
		d *= factor
		if d >= float64(max) {
			return max
		}
	}
	if time.Duration(d) > max {
		return max
	}
	return time.Duration(d)
}
