package engine

import "time"

// Clock abstracts timer creation so tests can drive the gate by hand
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

// Timer is the subset of *time.Timer the gate needs
type Timer interface {
	Stop() bool
}

type realClock struct{}

// NewRealClock returns a Clock backed by the time package
func NewRealClock() Clock { return realClock{} }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (realClock) Now() time.Time { return time.Now() }
