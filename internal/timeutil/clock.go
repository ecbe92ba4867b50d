package timeutil

import "time"

// Clock abstracts wall-clock scheduling so coordinators can be driven
// deterministically in tests. The real implementation delegates to the
// time package.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is the cancellable handle returned by AfterFunc.
type Timer interface {
	// Stop reports whether the timer was stopped before firing.
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }
