package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"arenaoj/internal/contest/repository"
	problemRepo "arenaoj/internal/problem/repository"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultProblemScore = 100
	maxTitleLen         = 200
	maxListLimit        = 100
)

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB time.Duration
}

// Config holds lifecycle service dependencies and settings.
type Config struct {
	ContestRepo repository.ContestRepository
	ProblemRepo problemRepo.ProblemRepository

	// Now supplies the current instant. Defaults to time.Now; tests
	// substitute a fixed clock.
	Now      func() time.Time
	Timeouts TimeoutConfig
}

// LifecycleService owns contest state transitions and authoring.
// State changes are conditional updates keyed on the expected current
// state, so two movers racing the same boundary resolve to one winner.
type LifecycleService struct {
	contestRepo repository.ContestRepository
	problemRepo problemRepo.ProblemRepository
	now         func() time.Time
	timeouts    TimeoutConfig
}

// CreateInput describes a new contest draft.
type CreateInput struct {
	Title        string
	Description  string
	StartTime    time.Time
	EndTime      time.Time
	FreezeOffset time.Duration
	ProblemScore int32
	CreatedBy    string
}

// ContestView is a contest together with its clock-derived phase.
type ContestView struct {
	Contest repository.Contest
	Phase   repository.Phase
}

func NewLifecycleService(cfg Config) (*LifecycleService, error) {
	if cfg.ContestRepo == nil {
		return nil, fmt.Errorf("contest repository is required")
	}
	if cfg.ProblemRepo == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LifecycleService{
		contestRepo: cfg.ContestRepo,
		problemRepo: cfg.ProblemRepo,
		now:         cfg.Now,
		timeouts:    cfg.Timeouts,
	}, nil
}

// Create stores a new contest in Draft state owned by the caller.
func (s *LifecycleService) Create(ctx context.Context, input CreateInput) (repository.Contest, error) {
	if strings.TrimSpace(input.Title) == "" {
		return repository.Contest{}, appErr.ValidationError("title", "required")
	}
	if len(input.Title) > maxTitleLen {
		return repository.Contest{}, appErr.ValidationError("title", "too_long")
	}
	if strings.TrimSpace(input.CreatedBy) == "" {
		return repository.Contest{}, appErr.ValidationError("created_by", "required")
	}
	if !input.StartTime.Before(input.EndTime) {
		return repository.Contest{}, appErr.ValidationError("end_time", "must be after start_time")
	}
	if input.FreezeOffset < 0 || input.FreezeOffset > input.EndTime.Sub(input.StartTime) {
		return repository.Contest{}, appErr.ValidationError("freeze_offset", "outside contest window")
	}
	if input.ProblemScore == 0 {
		input.ProblemScore = defaultProblemScore
	}
	if input.ProblemScore < 0 {
		return repository.Contest{}, appErr.ValidationError("problem_score", "must be positive")
	}

	contest := repository.Contest{
		Title:        strings.TrimSpace(input.Title),
		Description:  input.Description,
		State:        repository.StateDraft,
		StartTime:    input.StartTime,
		EndTime:      input.EndTime,
		FreezeOffset: input.FreezeOffset,
		ProblemScore: input.ProblemScore,
		CreatedBy:    input.CreatedBy,
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if _, err := s.contestRepo.Create(ctxDB.ctx, nil, &contest); err != nil {
		return repository.Contest{}, appErr.Wrapf(err, appErr.ContestCreateFailed, "create contest failed")
	}

	logger.Info(ctx, "contest created",
		zap.Int64("contest_id", contest.ID),
		zap.String("created_by", contest.CreatedBy))
	return contest, nil
}

// Get returns the contest after syncing lazy clock transitions. Drafts
// are hidden from everyone except managers.
func (s *LifecycleService) Get(ctx context.Context, contestID int64, viewerID string) (ContestView, error) {
	contest, err := s.load(ctx, contestID)
	if err != nil {
		return ContestView{}, err
	}
	contest, err = s.syncState(ctx, contest)
	if err != nil {
		return ContestView{}, err
	}

	phase := repository.PhaseAt(contest, s.now())
	if phase == repository.PhaseDraft {
		manage, err := s.CanManage(ctx, contest, viewerID)
		if err != nil {
			return ContestView{}, err
		}
		if !manage {
			return ContestView{}, appErr.New(appErr.ContestHidden).
				WithMessage("contest is not published")
		}
	}
	return ContestView{Contest: contest, Phase: phase}, nil
}

// List returns published contests newest first. Drafts never appear
// here. Each row carries its clock-derived phase, so a contest whose
// persisted state lags its window still shows as live or ended.
func (s *LifecycleService) List(ctx context.Context, stateFilter repository.State, limit int) ([]ContestView, error) {
	states := []repository.State{repository.StateScheduled, repository.StateLive, repository.StateEnded}
	if stateFilter != "" {
		switch stateFilter {
		case repository.StateScheduled, repository.StateLive, repository.StateEnded:
			states = []repository.State{stateFilter}
		default:
			return nil, appErr.ValidationError("state", "unknown")
		}
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	now := s.now()
	var views []ContestView
	for _, state := range states {
		contests, err := s.contestRepo.ListByState(ctxDB.ctx, nil, state, limit)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "list contests failed")
		}
		for _, contest := range contests {
			views = append(views, ContestView{Contest: contest, Phase: repository.PhaseAt(contest, now)})
		}
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].Contest.StartTime.After(views[j].Contest.StartTime)
	})
	if len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

// Publish moves a Draft to Scheduled. The draft must carry at least one
// problem and a window that has not already closed.
func (s *LifecycleService) Publish(ctx context.Context, contestID int64, actorID string) (repository.Contest, error) {
	contest, err := s.load(ctx, contestID)
	if err != nil {
		return repository.Contest{}, err
	}
	if err := s.requireManage(ctx, contest, actorID); err != nil {
		return repository.Contest{}, err
	}
	if contest.State != repository.StateDraft {
		return repository.Contest{}, appErr.New(appErr.InvalidTransition).
			WithMessage("only draft contests can be published").
			WithDetail("state", string(contest.State))
	}
	if !s.now().Before(contest.EndTime) {
		return repository.Contest{}, appErr.New(appErr.InvalidTransition).
			WithMessage("contest window already closed")
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	problems, err := s.contestRepo.ListProblems(ctxDB.ctx, nil, contestID)
	if err != nil {
		return repository.Contest{}, appErr.Wrapf(err, appErr.DatabaseError, "list contest problems failed")
	}
	if len(problems) == 0 {
		return repository.Contest{}, appErr.New(appErr.InvalidTransition).
			WithMessage("contest has no problems")
	}

	moved, err := s.contestRepo.UpdateState(ctxDB.ctx, nil, contestID, repository.StateDraft, repository.StateScheduled)
	if err != nil {
		return repository.Contest{}, appErr.Wrapf(err, appErr.DatabaseError, "publish contest failed")
	}
	if !moved {
		return repository.Contest{}, appErr.New(appErr.InvalidTransition).
			WithMessage("contest state changed concurrently")
	}

	contest.State = repository.StateScheduled
	logger.Info(ctx, "contest published",
		zap.Int64("contest_id", contestID),
		zap.String("actor", actorID),
		zap.Time("start_time", contest.StartTime))
	return contest, nil
}

// AttachProblem binds a problem to the contest at the next ordinal.
// The problem set is only editable before the contest goes live.
func (s *LifecycleService) AttachProblem(ctx context.Context, contestID, problemID int64, actorID string) error {
	contest, err := s.load(ctx, contestID)
	if err != nil {
		return err
	}
	if err := s.requireManage(ctx, contest, actorID); err != nil {
		return err
	}
	if contest.State != repository.StateDraft && contest.State != repository.StateScheduled {
		return appErr.New(appErr.ContestNotEditable).
			WithMessage("contest problems are locked once live")
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	exists, err := s.problemRepo.Exists(ctxDB.ctx, nil, problemID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "check problem failed")
	}
	if !exists {
		return appErr.New(appErr.UnknownProblem).
			WithDetail("problem_id", problemID)
	}

	existing, err := s.contestRepo.ListProblems(ctxDB.ctx, nil, contestID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "list contest problems failed")
	}
	ordinal := int32(len(existing) + 1)

	cp := &repository.ContestProblem{
		ContestID: contestID,
		ProblemID: problemID,
		Ordinal:   ordinal,
		Label:     problemLabel(ordinal),
	}
	if err := s.contestRepo.AttachProblem(ctxDB.ctx, nil, cp); err != nil {
		if errors.Is(err, repository.ErrProblemAttached) {
			return appErr.New(appErr.ProblemAttachFailed).
				WithMessage("problem already attached")
		}
		return appErr.Wrapf(err, appErr.ProblemAttachFailed, "attach problem failed")
	}
	return nil
}

// ListProblems returns the declared problem order of a contest. The
// set stays hidden from non-managers until the contest starts.
func (s *LifecycleService) ListProblems(ctx context.Context, contestID int64, viewerID string) ([]repository.ContestProblem, error) {
	contest, err := s.Load(ctx, contestID)
	if err != nil {
		return nil, err
	}
	phase := repository.PhaseAt(contest, s.now())
	if phase == repository.PhaseDraft || phase == repository.PhaseUpcoming {
		manage, err := s.CanManage(ctx, contest, viewerID)
		if err != nil {
			return nil, err
		}
		if !manage {
			return nil, appErr.New(appErr.ContestHidden).
				WithMessage("problems are hidden until the contest starts")
		}
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	problems, err := s.contestRepo.ListProblems(ctxDB.ctx, nil, contestID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list contest problems failed")
	}
	return problems, nil
}

// UpdateWindow changes contest timing. Only drafts are editable.
func (s *LifecycleService) UpdateWindow(ctx context.Context, contestID int64, actorID string, start, end time.Time, freezeOffset time.Duration) error {
	contest, err := s.load(ctx, contestID)
	if err != nil {
		return err
	}
	if err := s.requireManage(ctx, contest, actorID); err != nil {
		return err
	}
	if contest.State != repository.StateDraft {
		return appErr.New(appErr.ContestNotEditable).
			WithMessage("window can only be changed on drafts")
	}
	if !start.Before(end) {
		return appErr.ValidationError("end_time", "must be after start_time")
	}
	if freezeOffset < 0 || freezeOffset > end.Sub(start) {
		return appErr.ValidationError("freeze_offset", "outside contest window")
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.contestRepo.UpdateWindow(ctxDB.ctx, nil, contestID, start, end, freezeOffset); err != nil {
		return appErr.Wrapf(err, appErr.ContestUpdateFailed, "update contest window failed")
	}
	return nil
}

// AddManager grants contest management to another user.
func (s *LifecycleService) AddManager(ctx context.Context, contestID int64, actorID, userID string) error {
	contest, err := s.load(ctx, contestID)
	if err != nil {
		return err
	}
	if err := s.requireManage(ctx, contest, actorID); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return appErr.ValidationError("user_id", "required")
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.contestRepo.AddManager(ctxDB.ctx, nil, contestID, userID); err != nil {
		if errors.Is(err, repository.ErrManagerExists) {
			return nil
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "add manager failed")
	}
	return nil
}

// CanManage reports whether userID may administer the contest.
func (s *LifecycleService) CanManage(ctx context.Context, contest repository.Contest, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if contest.CreatedBy == userID {
		return true, nil
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	isManager, err := s.contestRepo.IsManager(ctxDB.ctx, nil, contest.ID, userID)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "check manager failed")
	}
	return isManager, nil
}

// Load returns the contest with lazy clock transitions applied. It is
// the shared entry point for sibling services that need current state.
func (s *LifecycleService) Load(ctx context.Context, contestID int64) (repository.Contest, error) {
	contest, err := s.load(ctx, contestID)
	if err != nil {
		return repository.Contest{}, err
	}
	return s.syncState(ctx, contest)
}

// Clock exposes the injected time source.
func (s *LifecycleService) Clock() func() time.Time {
	return s.now
}

func (s *LifecycleService) load(ctx context.Context, contestID int64) (repository.Contest, error) {
	if contestID <= 0 {
		return repository.Contest{}, appErr.ValidationError("contest_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	contest, err := s.contestRepo.Get(ctxDB.ctx, nil, contestID)
	if err != nil {
		if errors.Is(err, repository.ErrContestNotFound) {
			return repository.Contest{}, appErr.New(appErr.ContestNotFound).
				WithDetail("contest_id", contestID)
		}
		return repository.Contest{}, appErr.Wrapf(err, appErr.DatabaseError, "get contest failed")
	}
	return contest, nil
}

// syncState brings the persisted state in line with the clock. Losing a
// conditional update just means another caller moved the row first, so
// the fresh row is re-read instead of treated as an error.
func (s *LifecycleService) syncState(ctx context.Context, contest repository.Contest) (repository.Contest, error) {
	now := s.now()
	changed := false

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	if contest.State == repository.StateScheduled && !now.Before(contest.StartTime) {
		moved, err := s.contestRepo.UpdateState(ctxDB.ctx, nil, contest.ID, repository.StateScheduled, repository.StateLive)
		if err != nil {
			return repository.Contest{}, appErr.Wrapf(err, appErr.DatabaseError, "open contest failed")
		}
		if moved {
			logger.Info(ctx, "contest opened", zap.Int64("contest_id", contest.ID))
		}
		contest.State = repository.StateLive
		changed = true
	}

	if contest.State == repository.StateLive && !now.Before(contest.EndTime) {
		moved, err := s.contestRepo.UpdateState(ctxDB.ctx, nil, contest.ID, repository.StateLive, repository.StateEnded)
		if err != nil {
			return repository.Contest{}, appErr.Wrapf(err, appErr.DatabaseError, "close contest failed")
		}
		if moved {
			logger.Info(ctx, "contest ended", zap.Int64("contest_id", contest.ID))
		}
		contest.State = repository.StateEnded
		changed = true
	}

	if !changed {
		return contest, nil
	}
	fresh, err := s.contestRepo.Get(ctxDB.ctx, nil, contest.ID)
	if err != nil {
		if errors.Is(err, repository.ErrContestNotFound) {
			return contest, nil
		}
		return repository.Contest{}, appErr.Wrapf(err, appErr.DatabaseError, "reload contest failed")
	}
	return fresh, nil
}

func (s *LifecycleService) requireManage(ctx context.Context, contest repository.Contest, actorID string) error {
	manage, err := s.CanManage(ctx, contest, actorID)
	if err != nil {
		return err
	}
	if !manage {
		return appErr.New(appErr.NotManager).
			WithDetail("contest_id", contest.ID)
	}
	return nil
}

// problemLabel maps ordinal 1..n to A, B, ... Z, AA, AB, ...
func problemLabel(ordinal int32) string {
	if ordinal <= 0 {
		return ""
	}
	n := ordinal
	var label []byte
	for n > 0 {
		n--
		label = append([]byte{byte('A' + n%26)}, label...)
		n /= 26
	}
	return string(label)
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
