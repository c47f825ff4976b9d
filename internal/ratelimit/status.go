package ratelimit

import (
	"fmt"
	"time"
)

// Outcome records what produced a Status.
type Outcome int

const (
	// OutcomeObserved marks a Status query; nothing was admitted or denied.
	OutcomeObserved Outcome = iota
	OutcomeAllowed
	OutcomeDenied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeDenied:
		return "denied"
	default:
		return "observed"
	}
}

// Status is a snapshot of one user's window taken inside the same critical
// section as the decision it accompanies.
type Status struct {
	Outcome           Outcome
	CurrentRequests   int
	MaxRequests       int
	RemainingRequests int
	Window            time.Duration

	// TimeUntilReset is how long until the oldest request in the window
	// expires. Zero when the window is empty.
	TimeUntilReset time.Duration

	// ResetAt is when the oldest request in the window expires. Zero when
	// the window is empty.
	ResetAt time.Time
}

// Allowed returns the admission decision. decided is false for snapshots
// returned by a Status query.
func (s Status) Allowed() (allowed, decided bool) {
	return s.Outcome == OutcomeAllowed, s.Outcome != OutcomeObserved
}

// WouldAllow reports whether a request at the snapshot's time would have
// been admitted.
func (s Status) WouldAllow() bool {
	return s.CurrentRequests < s.MaxRequests
}

// Message is the human readable form of the decision.
func (s Status) Message() string {
	if s.Outcome == OutcomeDenied || (s.Outcome == OutcomeObserved && !s.WouldAllow()) {
		return fmt.Sprintf("Rate limit exceeded. Try again in %.1f seconds.", s.TimeUntilReset.Seconds())
	}
	return "Request allowed"
}

func newStatus(outcome Outcome, current, max int, span time.Duration, oldest time.Time, hasOldest bool, now time.Time) Status {
	st := Status{
		Outcome:           outcome,
		CurrentRequests:   current,
		MaxRequests:       max,
		RemainingRequests: max - current,
		Window:            span,
	}
	if st.RemainingRequests < 0 {
		st.RemainingRequests = 0
	}
	if hasOldest {
		st.ResetAt = oldest.Add(span)
		if d := st.ResetAt.Sub(now); d > 0 {
			st.TimeUntilReset = d
		}
	}
	return st
}
