package repository

import "time"

// State is the persisted lifecycle state of a contest. Transitions only
// move forward: Draft -> Scheduled -> Live -> Ended.
type State string

const (
	StateDraft     State = "DRAFT"
	StateScheduled State = "SCHEDULED"
	StateLive      State = "LIVE"
	StateEnded     State = "ENDED"
)

// Phase is the clock-derived view of a contest. Unlike State it never
// lags behind wall time: a Scheduled contest whose window has opened is
// already PhaseLive even before the row is updated.
type Phase string

const (
	PhaseDraft    Phase = "DRAFT"
	PhaseUpcoming Phase = "UPCOMING"
	PhaseLive     Phase = "LIVE"
	PhaseEnded    Phase = "ENDED"
)

// Contest is the core contest entity. FreezeOffset is how long before
// EndTime the public scoreboard stops reflecting new results; zero means
// no freeze. ProblemScore is the flat weight awarded per solved problem.
type Contest struct {
	ID           int64
	Title        string
	Description  string
	State        State
	StartTime    time.Time
	EndTime      time.Time
	FreezeOffset time.Duration
	ProblemScore int32
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ContestProblem binds a problem into a contest at a declared position.
// Ordinal defines both display order and judge execution order.
type ContestProblem struct {
	ContestID int64
	ProblemID int64
	Ordinal   int32
	Label     string
}

// PhaseAt derives the phase of a contest at the given instant. The
// submission window is half-open: the instant EndTime itself is ended.
func PhaseAt(c Contest, now time.Time) Phase {
	switch c.State {
	case StateDraft:
		return PhaseDraft
	case StateEnded:
		return PhaseEnded
	}
	if now.Before(c.StartTime) {
		return PhaseUpcoming
	}
	if now.Before(c.EndTime) {
		return PhaseLive
	}
	return PhaseEnded
}

// FreezeAt returns the instant the scoreboard freezes and whether a
// freeze is configured at all.
func (c Contest) FreezeAt() (time.Time, bool) {
	if c.FreezeOffset <= 0 {
		return time.Time{}, false
	}
	return c.EndTime.Add(-c.FreezeOffset), true
}
