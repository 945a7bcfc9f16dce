package intervention

import "time"

// Timer is a cancelable one-shot timer handle.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Clock abstracts timer creation so the state machine can be driven by a
// virtual clock in tests.
type Clock interface {
	// AfterFunc schedules f to run once after d and returns a handle to
	// cancel it.
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock returns a Clock backed by the runtime timers.
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return systemTimer{t: time.AfterFunc(d, f)}
}

type systemTimer struct {
	t *time.Timer
}

func (st systemTimer) Stop() bool { return st.t.Stop() }
