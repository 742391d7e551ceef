// Package service computes contest standings. Each contest gets an
// in-memory board fed synchronously by the judge pipeline; boards are
// rebuilt from the submission history after a restart.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	contestRepo "arenaoj/internal/contest/repository"
	"arenaoj/internal/scoreboard/model"
	submissionRepo "arenaoj/internal/submission/repository"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// Config holds engine dependencies.
type Config struct {
	ContestRepo    contestRepo.ContestRepository
	SubmissionRepo submissionRepo.SubmissionRepository
	Mirror         *BoardCache
	Now            func() time.Time
}

// Engine maintains one board per contest. Contributions are keyed by
// submission id, so replaying a verdict or applying a rejudged result
// replaces the old entry instead of double counting.
type Engine struct {
	contestRepo    contestRepo.ContestRepository
	submissionRepo submissionRepo.SubmissionRepository
	mirror         *BoardCache
	now            func() time.Time

	mu     sync.Mutex
	boards map[int64]*board
}

type contribution struct {
	submissionID string
	userID       string
	problemID    int64
	verdict      submissionRepo.Verdict
	sequence     int64
	submittedAt  time.Time
}

type board struct {
	mu            sync.RWMutex
	contestID     int64
	problemScore  int32
	problemOrder  []int64
	freezeAt      time.Time
	endTime       time.Time
	hasFreeze     bool
	unfrozen      bool
	contributions map[string]contribution
}

// frozenLocked reports whether public views withhold post-freeze
// results at the given instant. The freeze lifts on its own at contest
// end; Unfreeze is the manual early reveal. Callers hold the board lock.
func (b *board) frozenLocked(now time.Time) bool {
	return b.hasFreeze && !b.unfrozen && !now.Before(b.freezeAt) && now.Before(b.endTime)
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ContestRepo == nil {
		return nil, fmt.Errorf("contest repository is required")
	}
	if cfg.SubmissionRepo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		contestRepo:    cfg.ContestRepo,
		submissionRepo: cfg.SubmissionRepo,
		mirror:         cfg.Mirror,
		now:            cfg.Now,
		boards:         make(map[int64]*board),
	}, nil
}

// Apply folds one finished submission into its contest board. It is
// called synchronously by the judge pipeline before the verdict event
// is announced, and is idempotent per submission id.
func (e *Engine) Apply(ctx context.Context, submission *submissionRepo.Submission) error {
	if submission == nil {
		return fmt.Errorf("submission is nil")
	}
	if submission.Status != submissionRepo.StatusFinished {
		return nil
	}

	b, err := e.board(ctx, submission.ContestID)
	if err != nil {
		return err
	}

	now := e.now()
	b.mu.Lock()
	b.contributions[submission.SubmissionID] = contribution{
		submissionID: submission.SubmissionID,
		userID:       submission.UserID,
		problemID:    submission.ProblemID,
		verdict:      submission.Verdict,
		sequence:     submission.Sequence,
		submittedAt:  submission.CreatedAt,
	}
	// Inside the freeze window the mirror gets the withheld total, so
	// the rank endpoint cannot leak results the standing hides.
	row := computeRow(b, submission.UserID, b.frozenLocked(now))
	b.mu.Unlock()

	if e.mirror != nil {
		if err := e.mirror.SetScore(ctx, submission.ContestID, submission.UserID, row.TotalScore); err != nil {
			logger.Warn(ctx, "mirror scoreboard update failed",
				zap.Int64("contest_id", submission.ContestID), zap.Error(err))
		}
	}
	return nil
}

// Snapshot returns the ranked standing. Official snapshots always see
// everything; public ones taken during the freeze window exclude
// submissions made after the freeze point. Once the contest ends the
// freeze lifts and the public view shows the exact final results.
func (e *Engine) Snapshot(ctx context.Context, contestID int64, official bool) (model.Standing, error) {
	contest, err := e.contestRepo.Get(ctx, nil, contestID)
	if err != nil {
		if errors.Is(err, contestRepo.ErrContestNotFound) {
			return model.Standing{}, appErr.New(appErr.ContestNotFound).
				WithDetail("contest_id", contestID)
		}
		return model.Standing{}, appErr.Wrapf(err, appErr.DatabaseError, "get contest failed")
	}
	if contest.State == contestRepo.StateDraft {
		return model.Standing{}, appErr.New(appErr.StandingNotAvailable).
			WithMessage("contest is not published")
	}

	b, err := e.board(ctx, contestID)
	if err != nil {
		return model.Standing{}, err
	}

	now := e.now()
	b.mu.RLock()
	frozen := !official && contest.State != contestRepo.StateEnded && b.frozenLocked(now)
	standing := computeStanding(b, frozen, now)
	b.mu.RUnlock()
	return standing, nil
}

// Unfreeze lifts the freeze early so public snapshots show final
// results before the contest end would reveal them anyway. The mirror
// is rewritten so ranks catch up with the totals held back so far.
func (e *Engine) Unfreeze(ctx context.Context, contestID int64) error {
	b, err := e.board(ctx, contestID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.unfrozen = true
	standing := computeStanding(b, false, e.now())
	b.mu.Unlock()

	if e.mirror != nil {
		if err := e.mirror.Rewrite(ctx, contestID, standing.Rows); err != nil {
			logger.Warn(ctx, "mirror scoreboard rewrite failed",
				zap.Int64("contest_id", contestID), zap.Error(err))
		}
	}
	logger.Info(ctx, "scoreboard unfrozen", zap.Int64("contest_id", contestID))
	return nil
}

// Rebuild drops the board and replays the finished submission history,
// reconciling memory with the database after a restart or a rejudge
// sweep.
func (e *Engine) Rebuild(ctx context.Context, contestID int64) error {
	e.mu.Lock()
	delete(e.boards, contestID)
	e.mu.Unlock()

	b, err := e.board(ctx, contestID)
	if err != nil {
		return err
	}

	submissions, err := e.submissionRepo.ListFinishedByContest(ctx, nil, contestID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "load submission history failed")
	}

	now := e.now()
	b.mu.Lock()
	for i := range submissions {
		s := &submissions[i]
		b.contributions[s.SubmissionID] = contribution{
			submissionID: s.SubmissionID,
			userID:       s.UserID,
			problemID:    s.ProblemID,
			verdict:      s.Verdict,
			sequence:     s.Sequence,
			submittedAt:  s.CreatedAt,
		}
	}
	mirrored := computeStanding(b, b.frozenLocked(now), now)
	b.mu.Unlock()

	if e.mirror != nil {
		if err := e.mirror.Rewrite(ctx, contestID, mirrored.Rows); err != nil {
			logger.Warn(ctx, "mirror scoreboard rewrite failed",
				zap.Int64("contest_id", contestID), zap.Error(err))
		}
	}
	logger.Info(ctx, "scoreboard rebuilt",
		zap.Int64("contest_id", contestID),
		zap.Int("submissions", len(submissions)))
	return nil
}

// Evict drops the in-memory board of a finished contest.
func (e *Engine) Evict(contestID int64) {
	e.mu.Lock()
	delete(e.boards, contestID)
	e.mu.Unlock()
}

func (e *Engine) board(ctx context.Context, contestID int64) (*board, error) {
	e.mu.Lock()
	if b, ok := e.boards[contestID]; ok {
		e.mu.Unlock()
		return b, nil
	}
	e.mu.Unlock()

	contest, err := e.contestRepo.Get(ctx, nil, contestID)
	if err != nil {
		if errors.Is(err, contestRepo.ErrContestNotFound) {
			return nil, appErr.New(appErr.ContestNotFound).
				WithDetail("contest_id", contestID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get contest failed")
	}
	problems, err := e.contestRepo.ListProblems(ctx, nil, contestID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list contest problems failed")
	}
	order := make([]int64, 0, len(problems))
	for _, p := range problems {
		order = append(order, p.ProblemID)
	}

	freezeAt, hasFreeze := contest.FreezeAt()
	b := &board{
		contestID:     contestID,
		problemScore:  contest.ProblemScore,
		problemOrder:  order,
		freezeAt:      freezeAt,
		endTime:       contest.EndTime,
		hasFreeze:     hasFreeze,
		contributions: make(map[string]contribution),
	}

	e.mu.Lock()
	if existing, ok := e.boards[contestID]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	e.boards[contestID] = b
	e.mu.Unlock()
	return b, nil
}

// computeRow derives one user's line from the raw contributions.
// Callers hold the board lock.
func computeRow(b *board, userID string, frozen bool) model.Row {
	cells := make(map[int64][]contribution)
	for _, c := range b.contributions {
		if c.userID != userID {
			continue
		}
		if frozen && !c.submittedAt.Before(b.freezeAt) {
			continue
		}
		cells[c.problemID] = append(cells[c.problemID], c)
	}
	return buildRow(b, userID, cells)
}

// computeStanding ranks every user on the board. Callers hold the
// board lock.
func computeStanding(b *board, frozen bool, now time.Time) model.Standing {
	byUser := make(map[string]map[int64][]contribution)
	for _, c := range b.contributions {
		if frozen && !c.submittedAt.Before(b.freezeAt) {
			continue
		}
		cells, ok := byUser[c.userID]
		if !ok {
			cells = make(map[int64][]contribution)
			byUser[c.userID] = cells
		}
		cells[c.problemID] = append(cells[c.problemID], c)
	}

	rows := make([]model.Row, 0, len(byUser))
	for userID, cells := range byUser {
		rows = append(rows, buildRow(b, userID, cells))
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalScore != rows[j].TotalScore {
			return rows[i].TotalScore > rows[j].TotalScore
		}
		if rows[i].LastAcceptedSeq != rows[j].LastAcceptedSeq {
			return rows[i].LastAcceptedSeq < rows[j].LastAcceptedSeq
		}
		return rows[i].UserID < rows[j].UserID
	})

	// Competition ranking: rows tied on the full sort key share a rank
	// and the following rank skips the tie block.
	for i := range rows {
		if i > 0 && rows[i].TotalScore == rows[i-1].TotalScore &&
			rows[i].LastAcceptedSeq == rows[i-1].LastAcceptedSeq {
			rows[i].Rank = rows[i-1].Rank
		} else {
			rows[i].Rank = int32(i + 1)
		}
	}

	return model.Standing{
		ContestID:   b.contestID,
		Frozen:      frozen,
		GeneratedAt: now,
		Rows:        rows,
	}
}

func buildRow(b *board, userID string, cells map[int64][]contribution) model.Row {
	row := model.Row{UserID: userID, Cells: make([]model.Cell, 0, len(b.problemOrder))}
	for _, problemID := range b.problemOrder {
		cell := model.Cell{ProblemID: problemID}
		contribs := cells[problemID]
		sort.Slice(contribs, func(i, j int) bool {
			return contribs[i].sequence < contribs[j].sequence
		})

		acceptedSeq := int64(0)
		var solvedAt time.Time
		for _, c := range contribs {
			if c.verdict == submissionRepo.VerdictAccepted {
				acceptedSeq = c.sequence
				solvedAt = c.submittedAt
				break
			}
		}
		// Every judged submission counts as an attempt; the score never
		// goes down for extra ones.
		cell.Attempts = int32(len(contribs))
		if acceptedSeq > 0 {
			cell.Solved = true
			cell.Score = b.problemScore
			cell.AcceptedSeq = acceptedSeq
			cell.SolvedAt = &solvedAt
			row.SolvedCount++
			row.TotalScore += int64(b.problemScore)
			if acceptedSeq > row.LastAcceptedSeq {
				row.LastAcceptedSeq = acceptedSeq
			}
		}
		row.Cells = append(row.Cells, cell)
	}
	return row
}
