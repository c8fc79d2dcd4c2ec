package chrono

import "github.com/benbjohnson/clock"

// Clock abstracts wall-clock time and timers so ExecutionBroadcaster's single-
// timer design (spec §4.2/§9) can be driven deterministically in tests. The
// default implementation wraps the real clock; tests inject clock.NewMock().
type Clock = clock.Clock

// Timer is clock.Timer, the single timer the broadcaster re-arms on every
// state change of the firing queue.
type Timer = clock.Timer

// NewClock returns the real wall-clock implementation.
func NewClock() Clock {
	return clock.New()
}
