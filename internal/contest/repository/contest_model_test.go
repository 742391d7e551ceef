package repository_test

import (
	"testing"
	"time"

	"arenaoj/internal/contest/repository"
)

func TestPhaseAt(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	cases := []struct {
		name  string
		state repository.State
		now   time.Time
		want  repository.Phase
	}{
		{"draft ignores clock", repository.StateDraft, end.Add(time.Hour), repository.PhaseDraft},
		{"scheduled before start", repository.StateScheduled, start.Add(-time.Minute), repository.PhaseUpcoming},
		{"scheduled at start", repository.StateScheduled, start, repository.PhaseLive},
		{"scheduled past end", repository.StateScheduled, end, repository.PhaseEnded},
		{"live inside window", repository.StateLive, start.Add(30 * time.Minute), repository.PhaseLive},
		{"live one second before end", repository.StateLive, end.Add(-time.Second), repository.PhaseLive},
		{"live exactly at end", repository.StateLive, end, repository.PhaseEnded},
		{"ended ignores clock", repository.StateEnded, start, repository.PhaseEnded},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			contest := repository.Contest{State: tc.state, StartTime: start, EndTime: end}
			if got := repository.PhaseAt(contest, tc.now); got != tc.want {
				t.Fatalf("PhaseAt() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestFreezeAt(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	contest := repository.Contest{StartTime: start, EndTime: end, FreezeOffset: 15 * time.Minute}
	at, ok := contest.FreezeAt()
	if !ok {
		t.Fatal("expected freeze to be configured")
	}
	if want := end.Add(-15 * time.Minute); !at.Equal(want) {
		t.Fatalf("FreezeAt() = %v, want %v", at, want)
	}

	contest.FreezeOffset = 0
	if _, ok := contest.FreezeAt(); ok {
		t.Fatal("expected no freeze when offset is zero")
	}
}
