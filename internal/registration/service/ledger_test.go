package service_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"arenaoj/internal/common/db"
	contestRepo "arenaoj/internal/contest/repository"
	contestService "arenaoj/internal/contest/service"
	problemRepo "arenaoj/internal/problem/repository"
	"arenaoj/internal/registration/repository"
	"arenaoj/internal/registration/service"
	appErr "arenaoj/pkg/errors"
)

type contestStore struct {
	contests map[int64]contestRepo.Contest
}

func (s *contestStore) Create(_ context.Context, _ db.Transaction, c *contestRepo.Contest) (int64, error) {
	s.contests[c.ID] = *c
	return c.ID, nil
}

func (s *contestStore) Get(_ context.Context, _ db.Transaction, id int64) (contestRepo.Contest, error) {
	c, ok := s.contests[id]
	if !ok {
		return contestRepo.Contest{}, contestRepo.ErrContestNotFound
	}
	return c, nil
}

func (s *contestStore) UpdateState(_ context.Context, _ db.Transaction, id int64, from, to contestRepo.State) (bool, error) {
	c, ok := s.contests[id]
	if !ok || c.State != from {
		return false, nil
	}
	c.State = to
	s.contests[id] = c
	return true, nil
}

func (s *contestStore) UpdateWindow(_ context.Context, _ db.Transaction, _ int64, _, _ time.Time, _ time.Duration) error {
	return nil
}

func (s *contestStore) AttachProblem(_ context.Context, _ db.Transaction, _ *contestRepo.ContestProblem) error {
	return nil
}

func (s *contestStore) ListProblems(_ context.Context, _ db.Transaction, _ int64) ([]contestRepo.ContestProblem, error) {
	return nil, nil
}

func (s *contestStore) AddManager(_ context.Context, _ db.Transaction, _ int64, _ string) error {
	return nil
}

func (s *contestStore) IsManager(_ context.Context, _ db.Transaction, _ int64, _ string) (bool, error) {
	return false, nil
}

func (s *contestStore) ListByState(_ context.Context, _ db.Transaction, _ contestRepo.State, _ int) ([]contestRepo.Contest, error) {
	return nil, nil
}

type problemStore struct{}

func (problemStore) Create(_ context.Context, _ db.Transaction, p *problemRepo.Problem) (int64, error) {
	return p.ID, nil
}

func (problemStore) Get(_ context.Context, _ db.Transaction, _ int64) (problemRepo.Problem, error) {
	return problemRepo.Problem{}, problemRepo.ErrProblemNotFound
}

func (problemStore) Exists(_ context.Context, _ db.Transaction, _ int64) (bool, error) {
	return false, nil
}

func (problemStore) AddTestCase(_ context.Context, _ db.Transaction, _ *problemRepo.TestCase) error {
	return nil
}

func (problemStore) ListTestCases(_ context.Context, _ db.Transaction, _ int64) ([]problemRepo.TestCase, error) {
	return nil, problemRepo.ErrTestCaseNotFound
}

type registrationStore struct {
	rows map[string]repository.Registration
}

func (s *registrationStore) key(contestID int64, userID string) string {
	return strconv.FormatInt(contestID, 10) + "/" + userID
}

func (s *registrationStore) Create(_ context.Context, _ db.Transaction, reg *repository.Registration) error {
	k := s.key(reg.ContestID, reg.UserID)
	if _, ok := s.rows[k]; ok {
		return repository.ErrAlreadyRegistered
	}
	s.rows[k] = *reg
	return nil
}

func (s *registrationStore) Delete(_ context.Context, _ db.Transaction, contestID int64, userID string) error {
	k := s.key(contestID, userID)
	if _, ok := s.rows[k]; !ok {
		return repository.ErrRegistrationMissing
	}
	delete(s.rows, k)
	return nil
}

func (s *registrationStore) Get(_ context.Context, _ db.Transaction, contestID int64, userID string) (repository.Registration, error) {
	reg, ok := s.rows[s.key(contestID, userID)]
	if !ok {
		return repository.Registration{}, repository.ErrRegistrationMissing
	}
	return reg, nil
}

func (s *registrationStore) MarkParticipated(_ context.Context, _ db.Transaction, contestID int64, userID string, at time.Time) error {
	k := s.key(contestID, userID)
	reg, ok := s.rows[k]
	if !ok || reg.ParticipatedAt != nil {
		return nil
	}
	reg.ParticipatedAt = &at
	s.rows[k] = reg
	return nil
}

func (s *registrationStore) ListByContest(_ context.Context, _ db.Transaction, contestID int64) ([]repository.Registration, error) {
	var out []repository.Registration
	for _, reg := range s.rows {
		if reg.ContestID == contestID {
			out = append(out, reg)
		}
	}
	return out, nil
}

type ledgerFixture struct {
	ledger *service.LedgerService
	clock  *time.Time
	store  *contestStore
}

func newLedgerFixture(t *testing.T, state contestRepo.State, start, end time.Time) *ledgerFixture {
	t.Helper()
	now := start.Add(-time.Hour)
	clock := &now

	contests := &contestStore{contests: map[int64]contestRepo.Contest{
		1: {ID: 1, Title: "Weekly Round", State: state, StartTime: start, EndTime: end, CreatedBy: "alice"},
	}}
	lifecycle, err := contestService.NewLifecycleService(contestService.Config{
		ContestRepo: contests,
		ProblemRepo: problemStore{},
		Now:         func() time.Time { return *clock },
	})
	if err != nil {
		t.Fatalf("NewLifecycleService() error = %v", err)
	}
	ledger, err := service.NewLedgerService(service.Config{
		RegistrationRepo: &registrationStore{rows: make(map[string]repository.Registration)},
		Lifecycle:        lifecycle,
	})
	if err != nil {
		t.Fatalf("NewLedgerService() error = %v", err)
	}
	return &ledgerFixture{ledger: ledger, clock: clock, store: contests}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	t.Run("open while upcoming", func(t *testing.T) {
		t.Parallel()
		fx := newLedgerFixture(t, contestRepo.StateScheduled, start, end)
		if _, err := fx.ledger.Register(context.Background(), 1, "bob"); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	})

	t.Run("open while live", func(t *testing.T) {
		t.Parallel()
		fx := newLedgerFixture(t, contestRepo.StateScheduled, start, end)
		*fx.clock = start.Add(time.Minute)
		if _, err := fx.ledger.Register(context.Background(), 1, "bob"); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	})

	t.Run("closed on draft", func(t *testing.T) {
		t.Parallel()
		fx := newLedgerFixture(t, contestRepo.StateDraft, start, end)
		_, err := fx.ledger.Register(context.Background(), 1, "bob")
		if appErr.GetCode(err) != appErr.ContestHidden {
			t.Fatalf("Register() code = %d, want ContestHidden", appErr.GetCode(err))
		}
	})

	t.Run("closed after end", func(t *testing.T) {
		t.Parallel()
		fx := newLedgerFixture(t, contestRepo.StateScheduled, start, end)
		*fx.clock = end
		_, err := fx.ledger.Register(context.Background(), 1, "bob")
		if appErr.GetCode(err) != appErr.NotRegisterable {
			t.Fatalf("Register() code = %d, want NotRegisterable", appErr.GetCode(err))
		}
	})

	t.Run("duplicate registration", func(t *testing.T) {
		t.Parallel()
		fx := newLedgerFixture(t, contestRepo.StateScheduled, start, end)
		if _, err := fx.ledger.Register(context.Background(), 1, "bob"); err != nil {
			t.Fatalf("first Register() error = %v", err)
		}
		_, err := fx.ledger.Register(context.Background(), 1, "bob")
		if appErr.GetCode(err) != appErr.AlreadyRegistered {
			t.Fatalf("second Register() code = %d, want AlreadyRegistered", appErr.GetCode(err))
		}
	})
}

func TestUnregister(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	t.Run("allowed before live", func(t *testing.T) {
		t.Parallel()
		fx := newLedgerFixture(t, contestRepo.StateScheduled, start, end)
		if _, err := fx.ledger.Register(context.Background(), 1, "bob"); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if err := fx.ledger.Unregister(context.Background(), 1, "bob"); err != nil {
			t.Fatalf("Unregister() error = %v", err)
		}
	})

	t.Run("too late once live", func(t *testing.T) {
		t.Parallel()
		fx := newLedgerFixture(t, contestRepo.StateScheduled, start, end)
		if _, err := fx.ledger.Register(context.Background(), 1, "bob"); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		*fx.clock = start
		err := fx.ledger.Unregister(context.Background(), 1, "bob")
		if appErr.GetCode(err) != appErr.UnregisterTooLate {
			t.Fatalf("Unregister() code = %d, want UnregisterTooLate", appErr.GetCode(err))
		}
	})

	t.Run("not registered", func(t *testing.T) {
		t.Parallel()
		fx := newLedgerFixture(t, contestRepo.StateScheduled, start, end)
		err := fx.ledger.Unregister(context.Background(), 1, "bob")
		if appErr.GetCode(err) != appErr.NotRegistered {
			t.Fatalf("Unregister() code = %d, want NotRegistered", appErr.GetCode(err))
		}
	})
}

func TestIsParticipant(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	fx := newLedgerFixture(t, contestRepo.StateScheduled, start, end)

	if _, err := fx.ledger.Register(context.Background(), 1, "bob"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if ok, _ := fx.ledger.IsParticipant(context.Background(), 1, "bob"); ok {
		t.Error("registered user counted as participant before joining")
	}

	*fx.clock = start.Add(time.Minute)
	if _, err := fx.ledger.Join(context.Background(), 1, "bob"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if ok, _ := fx.ledger.IsParticipant(context.Background(), 1, "bob"); !ok {
		t.Error("joined user not counted as participant")
	}
	if ok, _ := fx.ledger.IsParticipant(context.Background(), 1, "ghost"); ok {
		t.Error("unknown user counted as participant")
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	t.Run("only while live", func(t *testing.T) {
		t.Parallel()
		fx := newLedgerFixture(t, contestRepo.StateScheduled, start, end)
		if _, err := fx.ledger.Register(context.Background(), 1, "bob"); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		_, err := fx.ledger.Join(context.Background(), 1, "bob")
		if appErr.GetCode(err) != appErr.JoinNotLive {
			t.Fatalf("Join() before start code = %d, want JoinNotLive", appErr.GetCode(err))
		}
	})

	t.Run("records first participation once", func(t *testing.T) {
		t.Parallel()
		fx := newLedgerFixture(t, contestRepo.StateScheduled, start, end)
		if _, err := fx.ledger.Register(context.Background(), 1, "bob"); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		*fx.clock = start.Add(5 * time.Minute)
		first, err := fx.ledger.Join(context.Background(), 1, "bob")
		if err != nil {
			t.Fatalf("Join() error = %v", err)
		}
		if first.ParticipatedAt == nil {
			t.Fatal("expected participation timestamp")
		}

		*fx.clock = start.Add(20 * time.Minute)
		second, err := fx.ledger.Join(context.Background(), 1, "bob")
		if err != nil {
			t.Fatalf("second Join() error = %v", err)
		}
		if !second.ParticipatedAt.Equal(*first.ParticipatedAt) {
			t.Fatalf("participation timestamp changed: %v -> %v", first.ParticipatedAt, second.ParticipatedAt)
		}
	})

	t.Run("requires registration", func(t *testing.T) {
		t.Parallel()
		fx := newLedgerFixture(t, contestRepo.StateScheduled, start, end)
		*fx.clock = start
		_, err := fx.ledger.Join(context.Background(), 1, "bob")
		if appErr.GetCode(err) != appErr.NotRegistered {
			t.Fatalf("Join() code = %d, want NotRegistered", appErr.GetCode(err))
		}
	})
}
