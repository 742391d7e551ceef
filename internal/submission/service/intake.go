package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"arenaoj/internal/common/storage"
	contestRepo "arenaoj/internal/contest/repository"
	contestService "arenaoj/internal/contest/service"
	registrationService "arenaoj/internal/registration/service"
	"arenaoj/internal/submission/repository"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSourcePrefix = "submissions"
	defaultMaxCodeBytes = 256 * 1024
)

// JudgeQueue accepts claimed submissions for asynchronous judging.
type JudgeQueue interface {
	Enqueue(ctx context.Context, submissionID string) error
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration
	Storage time.Duration
}

// Config holds intake service dependencies and settings.
type Config struct {
	SubmissionRepo repository.SubmissionRepository
	ContestRepo    contestRepo.ContestRepository
	Lifecycle      *contestService.LifecycleService
	Ledger         *registrationService.LedgerService
	Storage        storage.ObjectStorage
	Queue          JudgeQueue

	SourceBucket    string
	SourceKeyPrefix string
	Languages       []string
	MaxCodeBytes    int
	Timeouts        TimeoutConfig
}

// IntakeService admits contest submissions. Checks run in a fixed
// order so a caller failing several conditions always sees the same
// error: contest not live, window closed, not a participant, unknown
// problem, then payload validation.
type IntakeService struct {
	submissionRepo repository.SubmissionRepository
	contestRepo    contestRepo.ContestRepository
	lifecycle      *contestService.LifecycleService
	ledger         *registrationService.LedgerService
	storage        storage.ObjectStorage
	queue          JudgeQueue

	sourceBucket    string
	sourceKeyPrefix string
	languages       map[string]struct{}
	maxCodeBytes    int
	timeouts        TimeoutConfig
}

// SubmitInput describes a submission request.
type SubmitInput struct {
	ContestID  int64
	ProblemID  int64
	UserID     string
	LanguageID string
	SourceCode string
}

func NewIntakeService(cfg Config) (*IntakeService, error) {
	if cfg.SubmissionRepo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.ContestRepo == nil {
		return nil, fmt.Errorf("contest repository is required")
	}
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle service is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("judge queue is required")
	}
	if cfg.SourceBucket == "" {
		return nil, fmt.Errorf("source bucket is required")
	}
	if cfg.SourceKeyPrefix == "" {
		cfg.SourceKeyPrefix = defaultSourcePrefix
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	languages := make(map[string]struct{}, len(cfg.Languages))
	for _, lang := range cfg.Languages {
		languages[strings.ToLower(strings.TrimSpace(lang))] = struct{}{}
	}
	return &IntakeService{
		submissionRepo:  cfg.SubmissionRepo,
		contestRepo:     cfg.ContestRepo,
		lifecycle:       cfg.Lifecycle,
		ledger:          cfg.Ledger,
		storage:         cfg.Storage,
		queue:           cfg.Queue,
		sourceBucket:    cfg.SourceBucket,
		sourceKeyPrefix: cfg.SourceKeyPrefix,
		languages:       languages,
		maxCodeBytes:    cfg.MaxCodeBytes,
		timeouts:        cfg.Timeouts,
	}, nil
}

// Submit admits one submission, assigns its contest sequence number and
// hands it to the judge queue as Pending.
func (s *IntakeService) Submit(ctx context.Context, input SubmitInput) (*repository.Submission, error) {
	contest, err := s.lifecycle.Load(ctx, input.ContestID)
	if err != nil {
		return nil, err
	}
	if err := s.admit(ctx, contest, input); err != nil {
		return nil, err
	}
	if err := s.validatePayload(input); err != nil {
		return nil, err
	}

	// The source is archived before any sequence number exists, and the
	// number is allocated in the same transaction as the row insert, so
	// a failure on either side leaves the per-contest sequence gap free.
	submissionID := uuid.NewString()
	sourceKey := s.buildSourceKey(input.ContestID, submissionID)
	if err := s.uploadSource(ctx, sourceKey, input.SourceCode); err != nil {
		return nil, err
	}

	submission := &repository.Submission{
		SubmissionID: submissionID,
		ContestID:    input.ContestID,
		ProblemID:    input.ProblemID,
		UserID:       input.UserID,
		LanguageID:   strings.ToLower(strings.TrimSpace(input.LanguageID)),
		SourceCode:   input.SourceCode,
		SourceKey:    sourceKey,
		SourceHash:   hashSource(input.SourceCode),
		Status:       repository.StatusPending,
		CreatedAt:    s.lifecycle.Clock()(),
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.submissionRepo.CreateWithSequence(ctxDB.ctx, submission); err != nil {
		return nil, appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}

	if err := s.queue.Enqueue(ctx, submissionID); err != nil {
		logger.Error(ctx, "enqueue submission failed",
			zap.String("submission_id", submissionID),
			zap.Error(err))
		return nil, appErr.Wrap(err, appErr.JudgeQueueFull)
	}

	logger.Info(ctx, "submission accepted",
		zap.String("submission_id", submissionID),
		zap.Int64("contest_id", input.ContestID),
		zap.Int64("problem_id", input.ProblemID),
		zap.Int64("sequence", submission.Sequence))
	return submission, nil
}

// Get returns one submission. Non-owners must be contest managers.
func (s *IntakeService) Get(ctx context.Context, submissionID, viewerID string) (*repository.Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	submission, err := s.submissionRepo.GetByID(ctxDB.ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound).
				WithDetail("submission_id", submissionID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	if submission.UserID != viewerID {
		contest, err := s.lifecycle.Load(ctx, submission.ContestID)
		if err != nil {
			return nil, err
		}
		manage, err := s.lifecycle.CanManage(ctx, contest, viewerID)
		if err != nil {
			return nil, err
		}
		if !manage {
			return nil, appErr.ForbiddenError("submission belongs to another user")
		}
	}
	return submission, nil
}

// ListMine returns the caller's submissions in a contest, newest first.
func (s *IntakeService) ListMine(ctx context.Context, contestID int64, userID string, limit int) ([]repository.Submission, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submissions, err := s.submissionRepo.ListByContestUser(ctxDB.ctx, nil, contestID, userID, limit)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	return submissions, nil
}

func (s *IntakeService) admit(ctx context.Context, contest contestRepo.Contest, input SubmitInput) error {
	now := s.lifecycle.Clock()()
	switch contestRepo.PhaseAt(contest, now) {
	case contestRepo.PhaseLive:
	case contestRepo.PhaseEnded:
		// The window is half-open: a submission arriving exactly at the
		// end instant is already outside it.
		return appErr.New(appErr.SubmissionWindowClosed).
			WithDetail("seconds_until_end", 0)
	default:
		return appErr.New(appErr.ContestNotLive).
			WithDetail("contest_id", contest.ID)
	}

	participant, err := s.ledger.IsParticipant(ctx, contest.ID, input.UserID)
	if err != nil {
		return err
	}
	if !participant {
		return appErr.New(appErr.NotParticipant).
			WithDetail("contest_id", contest.ID)
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	problems, err := s.contestRepo.ListProblems(ctxDB.ctx, nil, contest.ID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "list contest problems failed")
	}
	for _, p := range problems {
		if p.ProblemID == input.ProblemID {
			return nil
		}
	}
	return appErr.New(appErr.UnknownProblem).
		WithDetail("problem_id", input.ProblemID)
}

func (s *IntakeService) validatePayload(input SubmitInput) error {
	if strings.TrimSpace(input.UserID) == "" {
		return appErr.ValidationError("user_id", "required")
	}
	lang := strings.ToLower(strings.TrimSpace(input.LanguageID))
	if lang == "" {
		return appErr.ValidationError("language_id", "required")
	}
	if len(s.languages) > 0 {
		if _, ok := s.languages[lang]; !ok {
			return appErr.New(appErr.LanguageNotSupported).
				WithDetail("language_id", input.LanguageID)
		}
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if len(input.SourceCode) > s.maxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).
			WithDetail("max_bytes", s.maxCodeBytes)
	}
	return nil
}

func (s *IntakeService) uploadSource(ctx context.Context, key, source string) error {
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	reader := strings.NewReader(source)
	if err := s.storage.PutObject(ctxStorage.ctx, s.sourceBucket, key, reader, int64(len(source)), "text/plain"); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "archive source failed")
	}
	return nil
}

func (s *IntakeService) buildSourceKey(contestID int64, submissionID string) string {
	return fmt.Sprintf("%s/%d/%s", s.sourceKeyPrefix, contestID, submissionID)
}

func hashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
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
