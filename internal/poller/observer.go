package poller

import "time"

// Observer receives the outcome of every run. Implementations must be safe
// for concurrent use.
type Observer interface {
	ProbeSucceeded(name string, elapsed time.Duration)
	ProbeFailed(name string, elapsed time.Duration, consecutive int)
	// Paused is called when the poller stops rescheduling; auto is true
	// when the error threshold caused it.
	Paused(name string, auto bool)
	Resumed(name string)
}

type nopObserver struct{}

func (nopObserver) ProbeSucceeded(string, time.Duration)   {}
func (nopObserver) ProbeFailed(string, time.Duration, int) {}
func (nopObserver) Paused(string, bool)                    {}
func (nopObserver) Resumed(string)                         {}

// Observers fans every call out to each non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var list multiObserver
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) ProbeSucceeded(name string, elapsed time.Duration) {
	for _, o := range m {
		o.ProbeSucceeded(name, elapsed)
	}
}

func (m multiObserver) ProbeFailed(name string, elapsed time.Duration, consecutive int) {
	for _, o := range m {
		o.ProbeFailed(name, elapsed, consecutive)
	}
}

func (m multiObserver) Paused(name string, auto bool) {
	for _, o := range m {
		o.Paused(name, auto)
	}
}

func (m multiObserver) Resumed(name string) {
	for _, o := range m {
		o.Resumed(name)
	}
}
