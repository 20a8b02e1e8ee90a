package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall-clock reads so time-dependent logic stays testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Module provides the system clock.
var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)
