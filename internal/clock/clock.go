package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts time for services that need deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock returns a Clock backed by the wall clock in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}

// Module wires the system clock.
var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
