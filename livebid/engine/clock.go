package engine

import "time"

// Clock is the single authoritative time source for auction windows.
// Client-supplied timestamps are never consulted.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production clock.
var SystemClock Clock = systemClock{}
