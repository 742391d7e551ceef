package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	contestRepo "arenaoj/internal/contest/repository"
	contestService "arenaoj/internal/contest/service"
	"arenaoj/internal/registration/repository"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB time.Duration
}

// Config holds ledger service dependencies.
type Config struct {
	RegistrationRepo repository.RegistrationRepository
	Lifecycle        *contestService.LifecycleService
	Timeouts         TimeoutConfig
}

// LedgerService keeps the registration ledger of each contest.
// Registration is open from publication until the contest ends;
// unregistering is only allowed while the contest has not gone live.
type LedgerService struct {
	registrationRepo repository.RegistrationRepository
	lifecycle        *contestService.LifecycleService
	timeouts         TimeoutConfig
}

func NewLedgerService(cfg Config) (*LedgerService, error) {
	if cfg.RegistrationRepo == nil {
		return nil, fmt.Errorf("registration repository is required")
	}
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle service is required")
	}
	return &LedgerService{
		registrationRepo: cfg.RegistrationRepo,
		lifecycle:        cfg.Lifecycle,
		timeouts:         cfg.Timeouts,
	}, nil
}

// Register adds the user to the contest ledger.
func (s *LedgerService) Register(ctx context.Context, contestID int64, userID string) (repository.Registration, error) {
	if strings.TrimSpace(userID) == "" {
		return repository.Registration{}, appErr.ValidationError("user_id", "required")
	}
	contest, err := s.lifecycle.Load(ctx, contestID)
	if err != nil {
		return repository.Registration{}, err
	}

	now := s.lifecycle.Clock()()
	switch contestRepo.PhaseAt(contest, now) {
	case contestRepo.PhaseUpcoming, contestRepo.PhaseLive:
	case contestRepo.PhaseDraft:
		return repository.Registration{}, appErr.New(appErr.ContestHidden).
			WithMessage("contest is not published")
	default:
		return repository.Registration{}, appErr.New(appErr.NotRegisterable).
			WithMessage("contest already ended")
	}

	reg := repository.Registration{
		ContestID:    contestID,
		UserID:       userID,
		RegisteredAt: now,
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.registrationRepo.Create(ctxDB.ctx, nil, &reg); err != nil {
		if errors.Is(err, repository.ErrAlreadyRegistered) {
			return repository.Registration{}, appErr.New(appErr.AlreadyRegistered).
				WithDetail("contest_id", contestID)
		}
		return repository.Registration{}, appErr.Wrapf(err, appErr.DatabaseError, "register failed")
	}

	logger.Info(ctx, "user registered",
		zap.Int64("contest_id", contestID),
		zap.String("user_id", userID))
	return reg, nil
}

// Unregister removes the user from the ledger before the contest opens.
func (s *LedgerService) Unregister(ctx context.Context, contestID int64, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return appErr.ValidationError("user_id", "required")
	}
	contest, err := s.lifecycle.Load(ctx, contestID)
	if err != nil {
		return err
	}

	now := s.lifecycle.Clock()()
	phase := contestRepo.PhaseAt(contest, now)
	if phase == contestRepo.PhaseLive || phase == contestRepo.PhaseEnded {
		return appErr.New(appErr.UnregisterTooLate).
			WithMessage("contest already started")
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.registrationRepo.Delete(ctxDB.ctx, nil, contestID, userID); err != nil {
		if errors.Is(err, repository.ErrRegistrationMissing) {
			return appErr.New(appErr.NotRegistered).
				WithDetail("contest_id", contestID)
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "unregister failed")
	}
	return nil
}

// Join records first participation. Only live contests can be joined,
// and joining twice is a no-op.
func (s *LedgerService) Join(ctx context.Context, contestID int64, userID string) (repository.Registration, error) {
	if strings.TrimSpace(userID) == "" {
		return repository.Registration{}, appErr.ValidationError("user_id", "required")
	}
	contest, err := s.lifecycle.Load(ctx, contestID)
	if err != nil {
		return repository.Registration{}, err
	}

	now := s.lifecycle.Clock()()
	if contestRepo.PhaseAt(contest, now) != contestRepo.PhaseLive {
		return repository.Registration{}, appErr.New(appErr.JoinNotLive).
			WithMessage("contest is not live")
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	if err := s.registrationRepo.MarkParticipated(ctxDB.ctx, nil, contestID, userID, now); err != nil {
		return repository.Registration{}, appErr.Wrapf(err, appErr.DatabaseError, "join failed")
	}
	reg, err := s.registrationRepo.Get(ctxDB.ctx, nil, contestID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrRegistrationMissing) {
			return repository.Registration{}, appErr.New(appErr.NotRegistered).
				WithDetail("contest_id", contestID)
		}
		return repository.Registration{}, appErr.Wrapf(err, appErr.DatabaseError, "load registration failed")
	}
	return reg, nil
}

// IsParticipant reports whether the user has joined the contest.
// Registering alone is not enough; participation starts at the first
// Join call while the contest is live.
func (s *LedgerService) IsParticipant(ctx context.Context, contestID int64, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	reg, err := s.registrationRepo.Get(ctxDB.ctx, nil, contestID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrRegistrationMissing) {
			return false, nil
		}
		return false, appErr.Wrapf(err, appErr.DatabaseError, "check registration failed")
	}
	return reg.ParticipatedAt != nil, nil
}

// Roster returns all registrations of a contest in registration order.
func (s *LedgerService) Roster(ctx context.Context, contestID int64) ([]repository.Registration, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	regs, err := s.registrationRepo.ListByContest(ctxDB.ctx, nil, contestID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list registrations failed")
	}
	return regs, nil
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
