package watcher

import "time"

// State is the change loop lifecycle phase.
type State string

const (
	StateBootstrapping State = "BOOTSTRAPPING"
	StateSteady        State = "STEADY"
	StateTerminated    State = "TERMINATED"
)

var allStates = []State{StateBootstrapping, StateSteady, StateTerminated}

// Outcome describes what a single steady-state tick did.
type Outcome string

const (
	OutcomeLookupFailed Outcome = "lookup_failed"
	OutcomeBlacklisted  Outcome = "blacklisted"
	OutcomeUnchanged    Outcome = "unchanged"
	OutcomeChanged      Outcome = "changed"
)

// Status is a point-in-time copy of the loop state for the status server.
type Status struct {
	State                     State      `json:"state"`
	LastKnownAddress          *string    `json:"last_known_address"`
	LastCheckAt               *time.Time `json:"last_check_at,omitempty"`
	LastChangeAt              *time.Time `json:"last_change_at,omitempty"`
	ConsecutiveLookupFailures int        `json:"consecutive_lookup_failures"`
	LookupURL                 string     `json:"lookup_url"`
	IntervalSeconds           float64    `json:"interval_seconds"`
}

// Healthy is false while bootstrapping or after termination.
func (s Status) Healthy() bool {
	return s.State == StateSteady
}

func (w *Watcher) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	st := Status{
		State:                     w.state,
		ConsecutiveLookupFailures: w.lookupFailStreak,
		LookupURL:                 w.cfg.LookupURL,
		IntervalSeconds:           w.cfg.Interval.Seconds(),
	}
	if w.hasLastKnown {
		addr := w.lastKnown
		st.LastKnownAddress = &addr
	}
	if !w.lastCheckAt.IsZero() {
		t := w.lastCheckAt
		st.LastCheckAt = &t
	}
	if !w.lastChangeAt.IsZero() {
		t := w.lastChangeAt
		st.LastChangeAt = &t
	}
	return st
}
