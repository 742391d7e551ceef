// Package pipeline drives submissions from Pending to a terminal
// verdict. Each submission is claimed by exactly one worker, executed
// case by case in declared order, and finished exactly once; worker
// failures requeue the submission with a bounded retry budget.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"arenaoj/internal/judge/model"
	judgeRepo "arenaoj/internal/judge/repository"
	"arenaoj/internal/judge/sandbox"
	submissionRepo "arenaoj/internal/submission/repository"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultQueueSize   = 1024
	defaultWorkers     = 4
	defaultMaxAttempts = 3
	defaultRetryBase   = 200 * time.Millisecond
	defaultCaseTimeout = 30 * time.Second

	judgeTimeoutReason = "judge timeout"
)

// ScoreboardApplier folds a finished submission into the standings.
// Apply must be idempotent per submission id.
type ScoreboardApplier interface {
	Apply(ctx context.Context, submission *submissionRepo.Submission) error
}

// Config holds pipeline dependencies and settings.
type Config struct {
	SubmissionRepo submissionRepo.SubmissionRepository
	Cases          TestCaseSource
	Executor       sandbox.Executor
	Scoreboard     ScoreboardApplier
	Publisher      judgeRepo.VerdictEventPublisher

	QueueSize   int
	Workers     int
	MaxAttempts int
	RetryBase   time.Duration
	CaseTimeout time.Duration
	Now         func() time.Time
}

// Pipeline is the asynchronous judge worker pool.
type Pipeline struct {
	submissionRepo submissionRepo.SubmissionRepository
	cases          TestCaseSource
	executor       sandbox.Executor
	scoreboard     ScoreboardApplier
	publisher      judgeRepo.VerdictEventPublisher

	tasks       chan task
	workers     int
	maxAttempts int
	retryBase   time.Duration
	caseTimeout time.Duration
	now         func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

type task struct {
	submissionID string
	attempt      int
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.SubmissionRepo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Cases == nil {
		return nil, fmt.Errorf("test case source is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Scoreboard == nil {
		return nil, fmt.Errorf("scoreboard applier is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.CaseTimeout <= 0 {
		cfg.CaseTimeout = defaultCaseTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		submissionRepo: cfg.SubmissionRepo,
		cases:          cfg.Cases,
		executor:       cfg.Executor,
		scoreboard:     cfg.Scoreboard,
		publisher:      cfg.Publisher,
		tasks:          make(chan task, cfg.QueueSize),
		workers:        cfg.Workers,
		maxAttempts:    cfg.MaxAttempts,
		retryBase:      cfg.RetryBase,
		caseTimeout:    cfg.CaseTimeout,
		now:            cfg.Now,
	}, nil
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pipeline already started")
	}
	if p.stopped {
		return fmt.Errorf("pipeline is stopped")
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(workerCtx)
	}
	return nil
}

// Stop cancels workers and waits for in-flight judgements to settle.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Enqueue hands a Pending submission to the worker pool. A full queue
// is reported immediately instead of blocking intake.
func (p *Pipeline) Enqueue(ctx context.Context, submissionID string) error {
	return p.enqueueTask(ctx, task{submissionID: submissionID})
}

// Rejudge resets a finished submission and runs it again. The new
// verdict replaces the old scoreboard contribution.
func (p *Pipeline) Rejudge(ctx context.Context, submissionID string) error {
	reset, err := p.submissionRepo.ResetForRejudge(ctx, nil, submissionID)
	if err != nil {
		return appErr.Wrapf(err, appErr.RejudgeFailed, "reset submission failed")
	}
	if !reset {
		return appErr.New(appErr.RejudgeFailed).
			WithMessage("submission is not finished")
	}
	return p.Enqueue(ctx, submissionID)
}

// QueueDepth reports how many submissions are waiting for a worker.
func (p *Pipeline) QueueDepth() int {
	return len(p.tasks)
}

func (p *Pipeline) enqueueTask(ctx context.Context, t task) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("judge pipeline is stopped")
	}
	select {
	case p.tasks <- t:
		return nil
	default:
		return appErr.New(appErr.JudgeQueueFull).WithMessage("judge queue is full")
	}
}

func (p *Pipeline) workerLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.tasks:
			p.handle(ctx, t)
		}
	}
}

// handle isolates one judgement. A panicking executor must not take the
// worker down; the submission goes back to the queue instead.
func (p *Pipeline) handle(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "judge worker panicked",
				zap.String("submission_id", t.submissionID),
				zap.Any("panic", r))
			p.retryOrFail(ctx, t, fmt.Errorf("worker panic: %v", r))
		}
	}()
	p.process(ctx, t)
}

func (p *Pipeline) process(ctx context.Context, t task) {
	claimed, err := p.submissionRepo.ClaimRunning(ctx, nil, t.submissionID)
	if err != nil {
		p.retryOrFail(ctx, t, err)
		return
	}
	if !claimed {
		submission, err := p.submissionRepo.GetByID(ctx, nil, t.submissionID)
		if err != nil {
			logger.Error(ctx, "load unclaimed submission failed",
				zap.String("submission_id", t.submissionID), zap.Error(err))
			return
		}
		switch {
		case submission.Status == submissionRepo.StatusFinished:
			// Someone already finished it, nothing to do.
			return
		case submission.Status == submissionRepo.StatusRunning && t.attempt > 0:
			// Our claim from a failed attempt whose revert did not
			// land; keep going.
		default:
			logger.Warn(ctx, "submission claimed by another worker",
				zap.String("submission_id", t.submissionID))
			return
		}
	}

	submission, err := p.submissionRepo.GetByID(ctx, nil, t.submissionID)
	if err != nil {
		p.retryOrFail(ctx, t, err)
		return
	}

	record, err := p.judge(ctx, submission)
	if err != nil {
		p.retryOrFail(ctx, t, err)
		return
	}
	p.finalize(ctx, submission, record)
}

// judge runs the cases in declared order and stops at the first case
// that is not accepted. A returned error means the run is operational
// noise (sandbox down, storage miss) and may be retried; every verdict
// path returns a record instead.
func (p *Pipeline) judge(ctx context.Context, submission *submissionRepo.Submission) (*submissionRepo.VerdictRecord, error) {
	cases, err := p.cases.Load(ctx, submission.ProblemID)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, appErr.New(appErr.TestCaseNotFound).
			WithDetail("problem_id", submission.ProblemID)
	}

	record := &submissionRepo.VerdictRecord{
		SubmissionID: submission.SubmissionID,
		Verdict:      submissionRepo.VerdictAccepted,
		JudgedAt:     p.now(),
	}

	for _, testCase := range cases {
		result, err := p.executeCase(ctx, submission, testCase)
		if err != nil {
			return nil, err
		}

		if result.Outcome == sandbox.OutcomeCompileError {
			// Compilation happens once; no per-case stats apply.
			return &submissionRepo.VerdictRecord{
				SubmissionID: submission.SubmissionID,
				Verdict:      submissionRepo.VerdictCompileError,
				JudgeReason:  result.Detail,
				JudgedAt:     p.now(),
			}, nil
		}

		if result.TimeMs > record.TimeMs {
			record.TimeMs = result.TimeMs
		}
		if result.MemoryKB > record.MemoryKB {
			record.MemoryKB = result.MemoryKB
		}
		if result.Outcome != sandbox.OutcomeAccepted {
			record.Verdict = submissionRepo.Verdict(result.Outcome)
			record.FailedTestID = testCase.TestID
			record.JudgeReason = result.Detail
			break
		}
	}
	record.JudgedAt = p.now()
	return record, nil
}

func (p *Pipeline) executeCase(ctx context.Context, submission *submissionRepo.Submission, testCase sandbox.TestCase) (sandbox.ExecResult, error) {
	caseCtx, cancel := context.WithTimeout(ctx, p.caseTimeout)
	defer cancel()
	result, err := p.executor.Execute(caseCtx, sandbox.ExecRequest{
		SubmissionID: submission.SubmissionID,
		LanguageID:   submission.LanguageID,
		SourceCode:   submission.SourceCode,
		Case:         testCase,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return sandbox.ExecResult{}, appErr.Wrapf(err, appErr.SandboxError,
				"case %d exceeded operational timeout", testCase.TestID)
		}
		return sandbox.ExecResult{}, err
	}
	return result, nil
}

// finalize writes the terminal verdict, folds it into the scoreboard
// and then announces it. The conditional write makes redelivered tasks
// harmless: only the first writer proceeds.
func (p *Pipeline) finalize(ctx context.Context, submission *submissionRepo.Submission, record *submissionRepo.VerdictRecord) {
	won, err := p.submissionRepo.SaveVerdict(ctx, nil, record)
	if err != nil {
		logger.Error(ctx, "save verdict failed",
			zap.String("submission_id", record.SubmissionID), zap.Error(err))
		return
	}
	if !won {
		logger.Warn(ctx, "verdict already recorded",
			zap.String("submission_id", record.SubmissionID))
		return
	}

	submission.Status = submissionRepo.StatusFinished
	submission.Verdict = record.Verdict
	submission.TimeMs = record.TimeMs
	submission.MemoryKB = record.MemoryKB
	submission.FailedTestID = record.FailedTestID
	submission.JudgeReason = record.JudgeReason
	judgedAt := record.JudgedAt
	submission.JudgedAt = &judgedAt

	if err := p.scoreboard.Apply(ctx, submission); err != nil {
		logger.Error(ctx, "apply verdict to scoreboard failed",
			zap.String("submission_id", submission.SubmissionID), zap.Error(err))
	}

	if p.publisher != nil {
		event := model.VerdictEvent{
			Type:         model.VerdictEventFinal,
			SubmissionID: submission.SubmissionID,
			ContestID:    submission.ContestID,
			ProblemID:    submission.ProblemID,
			UserID:       submission.UserID,
			Sequence:     submission.Sequence,
			Verdict:      string(record.Verdict),
			TimeMs:       record.TimeMs,
			MemoryKB:     record.MemoryKB,
			FailedTestID: record.FailedTestID,
			JudgedAt:     record.JudgedAt.Unix(),
			CreatedAt:    p.now().Unix(),
		}
		if err := p.publisher.PublishFinalVerdict(ctx, event); err != nil {
			logger.Error(ctx, "publish verdict event failed",
				zap.String("submission_id", submission.SubmissionID), zap.Error(err))
		}
	}

	logger.Info(ctx, "submission judged",
		zap.String("submission_id", submission.SubmissionID),
		zap.String("verdict", string(record.Verdict)),
		zap.Int32("time_ms", record.TimeMs),
		zap.Int32("memory_kb", record.MemoryKB))
}

// retryOrFail returns the submission to the queue with backoff until
// the attempt budget is spent, then records a forced runtime error so
// the submission still reaches exactly one terminal verdict.
func (p *Pipeline) retryOrFail(ctx context.Context, t task, cause error) {
	next := task{submissionID: t.submissionID, attempt: t.attempt + 1}
	if next.attempt < p.maxAttempts {
		logger.Warn(ctx, "judge attempt failed, requeueing",
			zap.String("submission_id", t.submissionID),
			zap.Int("attempt", next.attempt),
			zap.Error(cause))

		// Release our claim so the requeued task claims afresh. A
		// submission lives in the queue at most once, so there is no
		// other claim holder this could steal from.
		if _, err := p.submissionRepo.RevertPending(ctx, nil, t.submissionID); err != nil {
			logger.Error(ctx, "revert submission to pending failed",
				zap.String("submission_id", t.submissionID), zap.Error(err))
		}

		backoff := p.retryBase << uint(t.attempt)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		if err := p.enqueueTask(ctx, next); err == nil {
			return
		}
		// Queue full or pipeline stopping; fall through to a terminal
		// verdict rather than losing the submission.
	}

	logger.Error(ctx, "judge retry budget exhausted",
		zap.String("submission_id", t.submissionID),
		zap.Error(cause))

	submission, err := p.submissionRepo.GetByID(ctx, nil, t.submissionID)
	if err != nil {
		logger.Error(ctx, "load submission for forced verdict failed",
			zap.String("submission_id", t.submissionID), zap.Error(err))
		return
	}
	if submission.Status == submissionRepo.StatusPending {
		// Not currently claimed, either because the failed attempt
		// never got that far or because it was reverted; claim so the
		// terminal write below can land.
		if _, err := p.submissionRepo.ClaimRunning(ctx, nil, t.submissionID); err != nil {
			logger.Error(ctx, "claim for forced verdict failed",
				zap.String("submission_id", t.submissionID), zap.Error(err))
			return
		}
	}
	p.finalize(ctx, submission, &submissionRepo.VerdictRecord{
		SubmissionID: t.submissionID,
		Verdict:      submissionRepo.VerdictRuntimeError,
		JudgeReason:  judgeTimeoutReason,
		JudgedAt:     p.now(),
	})
}
