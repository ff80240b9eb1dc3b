package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts time for period math and breaker timeouts.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewSystem returns the wall clock.
func NewSystem() Clock { return systemClock{} }

// Module provides the system clock.
var Module = fx.Module("clock",
	fx.Provide(NewSystem),
)
