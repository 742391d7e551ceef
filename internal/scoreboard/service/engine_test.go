package service_test

import (
	"context"
	"sort"
	"testing"
	"time"

	"arenaoj/internal/common/db"
	contestRepo "arenaoj/internal/contest/repository"
	"arenaoj/internal/scoreboard/model"
	"arenaoj/internal/scoreboard/service"
	submissionRepo "arenaoj/internal/submission/repository"
	appErr "arenaoj/pkg/errors"
)

var (
	contestStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	contestEnd   = contestStart.Add(2 * time.Hour)
)

type contestStore struct {
	contests map[int64]contestRepo.Contest
	problems map[int64][]contestRepo.ContestProblem
}

func newContestStore(c contestRepo.Contest, problemIDs ...int64) *contestStore {
	problems := make([]contestRepo.ContestProblem, 0, len(problemIDs))
	for i, id := range problemIDs {
		problems = append(problems, contestRepo.ContestProblem{
			ContestID: c.ID,
			ProblemID: id,
			Ordinal:   int32(i + 1),
		})
	}
	return &contestStore{
		contests: map[int64]contestRepo.Contest{c.ID: c},
		problems: map[int64][]contestRepo.ContestProblem{c.ID: problems},
	}
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

func (s *contestStore) UpdateState(_ context.Context, _ db.Transaction, _ int64, _, _ contestRepo.State) (bool, error) {
	return false, nil
}

func (s *contestStore) UpdateWindow(_ context.Context, _ db.Transaction, _ int64, _, _ time.Time, _ time.Duration) error {
	return nil
}

func (s *contestStore) AttachProblem(_ context.Context, _ db.Transaction, _ *contestRepo.ContestProblem) error {
	return nil
}

func (s *contestStore) ListProblems(_ context.Context, _ db.Transaction, contestID int64) ([]contestRepo.ContestProblem, error) {
	return s.problems[contestID], nil
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

type submissionHistory struct {
	rows []submissionRepo.Submission
}

func (s *submissionHistory) Create(_ context.Context, _ db.Transaction, _ *submissionRepo.Submission) error {
	return nil
}

func (s *submissionHistory) GetByID(_ context.Context, _ db.Transaction, _ string) (*submissionRepo.Submission, error) {
	return nil, submissionRepo.ErrSubmissionNotFound
}

func (s *submissionHistory) CreateWithSequence(_ context.Context, _ *submissionRepo.Submission) error {
	return nil
}

func (s *submissionHistory) ClaimRunning(_ context.Context, _ db.Transaction, _ string) (bool, error) {
	return false, nil
}

func (s *submissionHistory) RevertPending(_ context.Context, _ db.Transaction, _ string) (bool, error) {
	return false, nil
}

func (s *submissionHistory) SaveVerdict(_ context.Context, _ db.Transaction, _ *submissionRepo.VerdictRecord) (bool, error) {
	return false, nil
}

func (s *submissionHistory) ResetForRejudge(_ context.Context, _ db.Transaction, _ string) (bool, error) {
	return false, nil
}

func (s *submissionHistory) ListByContest(_ context.Context, _ db.Transaction, _ int64, _ int) ([]submissionRepo.Submission, error) {
	return nil, nil
}

func (s *submissionHistory) ListFinishedByContest(_ context.Context, _ db.Transaction, contestID int64) ([]submissionRepo.Submission, error) {
	var out []submissionRepo.Submission
	for _, row := range s.rows {
		if row.ContestID == contestID && row.Status == submissionRepo.StatusFinished {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *submissionHistory) ListByContestUser(_ context.Context, _ db.Transaction, _ int64, _ string, _ int) ([]submissionRepo.Submission, error) {
	return nil, nil
}

func finished(id, userID string, problemID int64, verdict submissionRepo.Verdict, sequence int64, submittedAt time.Time) *submissionRepo.Submission {
	judgedAt := submittedAt.Add(10 * time.Second)
	return &submissionRepo.Submission{
		SubmissionID: id,
		ContestID:    1,
		ProblemID:    problemID,
		UserID:       userID,
		LanguageID:   "go",
		Sequence:     sequence,
		Status:       submissionRepo.StatusFinished,
		Verdict:      verdict,
		CreatedAt:    submittedAt,
		JudgedAt:     &judgedAt,
	}
}

type engineFixture struct {
	engine   *service.Engine
	contests *contestStore
	history  *submissionHistory
	clock    *time.Time
}

func newEngineFixture(t *testing.T, contest contestRepo.Contest, problemIDs ...int64) *engineFixture {
	t.Helper()
	now := contestStart.Add(30 * time.Minute)
	clock := &now
	contests := newContestStore(contest, problemIDs...)
	history := &submissionHistory{}
	engine, err := service.NewEngine(service.Config{
		ContestRepo:    contests,
		SubmissionRepo: history,
		Now:            func() time.Time { return *clock },
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return &engineFixture{engine: engine, contests: contests, history: history, clock: clock}
}

func liveContest() contestRepo.Contest {
	return contestRepo.Contest{
		ID:           1,
		Title:        "Weekly Round",
		State:        contestRepo.StateLive,
		StartTime:    contestStart,
		EndTime:      contestEnd,
		ProblemScore: 100,
		CreatedBy:    "alice",
	}
}

func (fx *engineFixture) apply(t *testing.T, submissions ...*submissionRepo.Submission) {
	t.Helper()
	for _, s := range submissions {
		if err := fx.engine.Apply(context.Background(), s); err != nil {
			t.Fatalf("Apply(%s) error = %v", s.SubmissionID, err)
		}
	}
}

func (fx *engineFixture) snapshot(t *testing.T, official bool) model.Standing {
	t.Helper()
	standing, err := fx.engine.Snapshot(context.Background(), 1, official)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return standing
}

func TestSnapshotRanking(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, liveContest(), 100, 101)
	at := contestStart.Add(5 * time.Minute)
	fx.apply(t,
		// bob solves both problems, carol one, dave none.
		finished("s1", "bob", 100, submissionRepo.VerdictAccepted, 1, at),
		finished("s2", "carol", 100, submissionRepo.VerdictWrongAnswer, 2, at),
		finished("s3", "carol", 100, submissionRepo.VerdictAccepted, 3, at),
		finished("s4", "bob", 101, submissionRepo.VerdictAccepted, 4, at),
		finished("s5", "dave", 101, submissionRepo.VerdictTimeLimitExceeded, 5, at),
	)

	standing := fx.snapshot(t, false)
	if len(standing.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(standing.Rows))
	}
	wantOrder := []string{"bob", "carol", "dave"}
	for i, want := range wantOrder {
		if standing.Rows[i].UserID != want {
			t.Fatalf("row %d = %s, want %s (full order %+v)", i, standing.Rows[i].UserID, want, standing.Rows)
		}
	}
	if standing.Rows[0].TotalScore != 200 || standing.Rows[0].SolvedCount != 2 {
		t.Errorf("bob row = %+v, want 200 points from 2 solves", standing.Rows[0])
	}
	if standing.Rows[1].Cells[0].Attempts != 2 {
		t.Errorf("carol attempts on first problem = %d, want 2 judged runs", standing.Rows[1].Cells[0].Attempts)
	}
}

func TestSnapshotTieBreaks(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, liveContest(), 100)
	at := contestStart.Add(5 * time.Minute)
	fx.apply(t,
		finished("s1", "carol", 100, submissionRepo.VerdictAccepted, 1, at),
		finished("s2", "bob", 100, submissionRepo.VerdictAccepted, 2, at),
	)

	standing := fx.snapshot(t, false)
	// Same score; carol accepted earlier in intake order.
	if standing.Rows[0].UserID != "carol" || standing.Rows[1].UserID != "bob" {
		t.Fatalf("order = [%s %s], want [carol bob]", standing.Rows[0].UserID, standing.Rows[1].UserID)
	}
	if standing.Rows[0].Rank != 1 || standing.Rows[1].Rank != 2 {
		t.Errorf("ranks = [%d %d], want [1 2]", standing.Rows[0].Rank, standing.Rows[1].Rank)
	}
}

func TestSnapshotSharedRanks(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, liveContest(), 100, 101)
	at := contestStart.Add(5 * time.Minute)
	fx.apply(t,
		// bob and carol tie on the full sort key, dave trails.
		finished("s1", "bob", 100, submissionRepo.VerdictAccepted, 1, at),
		finished("s2", "carol", 101, submissionRepo.VerdictAccepted, 1, at),
		finished("s3", "dave", 100, submissionRepo.VerdictWrongAnswer, 3, at),
	)

	standing := fx.snapshot(t, false)
	if len(standing.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(standing.Rows))
	}
	if standing.Rows[0].Rank != 1 || standing.Rows[1].Rank != 1 {
		t.Errorf("tied ranks = [%d %d], want shared rank 1", standing.Rows[0].Rank, standing.Rows[1].Rank)
	}
	if standing.Rows[2].Rank != 3 {
		t.Errorf("rank after tie block = %d, want 3", standing.Rows[2].Rank)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, liveContest(), 100)
	at := contestStart.Add(5 * time.Minute)
	accepted := finished("s1", "bob", 100, submissionRepo.VerdictAccepted, 1, at)
	fx.apply(t, accepted, accepted, accepted)

	standing := fx.snapshot(t, false)
	if len(standing.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(standing.Rows))
	}
	if standing.Rows[0].TotalScore != 100 || standing.Rows[0].SolvedCount != 1 {
		t.Errorf("row = %+v, want a single 100 point solve", standing.Rows[0])
	}
}

func TestApplyReplacesRejudgedContribution(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, liveContest(), 100)
	at := contestStart.Add(5 * time.Minute)
	fx.apply(t, finished("s1", "bob", 100, submissionRepo.VerdictAccepted, 1, at))

	if got := fx.snapshot(t, false).Rows[0].TotalScore; got != 100 {
		t.Fatalf("TotalScore before rejudge = %d, want 100", got)
	}

	// Rejudge flips the same submission to WA; the contribution is
	// replaced, not added alongside the old one.
	fx.apply(t, finished("s1", "bob", 100, submissionRepo.VerdictWrongAnswer, 1, at))

	row := fx.snapshot(t, false).Rows[0]
	if row.TotalScore != 0 || row.SolvedCount != 0 {
		t.Errorf("row after rejudge = %+v, want no solves", row)
	}
	if row.Cells[0].Attempts != 1 {
		t.Errorf("attempts after rejudge = %d, want 1", row.Cells[0].Attempts)
	}
}

func TestAttemptsCountEveryJudgedRun(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, liveContest(), 100)
	solvedAt := contestStart.Add(15 * time.Minute)
	fx.apply(t,
		finished("s1", "bob", 100, submissionRepo.VerdictCompileError, 1, contestStart.Add(5*time.Minute)),
		finished("s2", "bob", 100, submissionRepo.VerdictWrongAnswer, 2, contestStart.Add(10*time.Minute)),
		finished("s3", "bob", 100, submissionRepo.VerdictAccepted, 3, solvedAt),
		// A run after the accepted one still counts as an attempt but
		// never takes the score back.
		finished("s4", "bob", 100, submissionRepo.VerdictWrongAnswer, 4, contestStart.Add(20*time.Minute)),
	)

	row := fx.snapshot(t, false).Rows[0]
	cell := row.Cells[0]
	if !cell.Solved || cell.Score != 100 {
		t.Fatalf("cell = %+v, want solved for 100", cell)
	}
	if cell.Attempts != 4 {
		t.Errorf("attempts = %d, want all 4 judged runs", cell.Attempts)
	}
	if cell.AcceptedSeq != 3 {
		t.Errorf("AcceptedSeq = %d, want first accepted run", cell.AcceptedSeq)
	}
	if cell.SolvedAt == nil || !cell.SolvedAt.Equal(solvedAt) {
		t.Errorf("SolvedAt = %v, want submit time of the accepted run", cell.SolvedAt)
	}
	if row.TotalScore != 100 {
		t.Errorf("TotalScore = %d, want 100", row.TotalScore)
	}
}

func TestFreezeHidesLateSubmissions(t *testing.T) {
	t.Parallel()

	contest := liveContest()
	contest.FreezeOffset = 30 * time.Minute
	fx := newEngineFixture(t, contest, 100, 101)

	freezeAt := contestEnd.Add(-30 * time.Minute)
	fx.apply(t,
		finished("s1", "bob", 100, submissionRepo.VerdictAccepted, 1, contestStart.Add(5*time.Minute)),
		finished("s2", "carol", 100, submissionRepo.VerdictAccepted, 2, freezeAt.Add(-time.Second)),
		finished("s3", "carol", 101, submissionRepo.VerdictAccepted, 3, freezeAt),
		finished("s4", "bob", 101, submissionRepo.VerdictAccepted, 4, freezeAt.Add(time.Minute)),
	)

	t.Run("before freeze point", func(t *testing.T) {
		standing := fx.snapshot(t, false)
		if standing.Frozen {
			t.Fatal("standing frozen before the freeze point")
		}
	})

	*fx.clock = freezeAt.Add(5 * time.Minute)

	t.Run("public view is frozen", func(t *testing.T) {
		standing := fx.snapshot(t, false)
		if !standing.Frozen {
			t.Fatal("standing not frozen inside the freeze window")
		}
		for _, row := range standing.Rows {
			if row.TotalScore != 100 {
				t.Errorf("%s score = %d, want 100 with frozen submissions hidden", row.UserID, row.TotalScore)
			}
		}
	})

	t.Run("official view sees everything", func(t *testing.T) {
		standing := fx.snapshot(t, true)
		if standing.Frozen {
			t.Fatal("official standing reported frozen")
		}
		for _, row := range standing.Rows {
			if row.TotalScore != 200 {
				t.Errorf("%s official score = %d, want 200", row.UserID, row.TotalScore)
			}
		}
	})

	t.Run("unfreeze reveals the rest", func(t *testing.T) {
		if err := fx.engine.Unfreeze(context.Background(), 1); err != nil {
			t.Fatalf("Unfreeze() error = %v", err)
		}
		standing := fx.snapshot(t, false)
		if standing.Frozen {
			t.Fatal("standing still frozen after Unfreeze")
		}
		for _, row := range standing.Rows {
			if row.TotalScore != 200 {
				t.Errorf("%s score = %d, want 200 after unfreeze", row.UserID, row.TotalScore)
			}
		}
	})
}

func TestFreezeLiftsAtContestEnd(t *testing.T) {
	t.Parallel()

	freezeAt := contestEnd.Add(-30 * time.Minute)
	seed := func(t *testing.T, contest contestRepo.Contest) *engineFixture {
		fx := newEngineFixture(t, contest, 100, 101)
		fx.apply(t,
			finished("s1", "bob", 100, submissionRepo.VerdictAccepted, 1, contestStart.Add(5*time.Minute)),
			finished("s2", "bob", 101, submissionRepo.VerdictAccepted, 2, freezeAt.Add(time.Minute)),
		)
		return fx
	}

	t.Run("ended contest", func(t *testing.T) {
		t.Parallel()
		contest := liveContest()
		contest.State = contestRepo.StateEnded
		contest.FreezeOffset = 30 * time.Minute
		fx := seed(t, contest)
		*fx.clock = contestEnd.Add(time.Hour)

		standing := fx.snapshot(t, false)
		if standing.Frozen {
			t.Fatal("public standing still frozen after contest end")
		}
		if standing.Rows[0].TotalScore != 200 {
			t.Errorf("bob total after contest end = %d, want 200", standing.Rows[0].TotalScore)
		}
	})

	t.Run("clock past end with stale state", func(t *testing.T) {
		t.Parallel()
		contest := liveContest()
		contest.FreezeOffset = 30 * time.Minute
		fx := seed(t, contest)
		// The row still says LIVE because no read ran the clock
		// transition yet; the freeze ends with the window regardless.
		*fx.clock = contestEnd

		standing := fx.snapshot(t, false)
		if standing.Frozen {
			t.Fatal("public standing frozen at the end instant")
		}
		if standing.Rows[0].TotalScore != 200 {
			t.Errorf("bob total at the end instant = %d, want 200", standing.Rows[0].TotalScore)
		}
	})
}

func TestMirrorWithholdsFrozenScores(t *testing.T) {
	t.Parallel()

	contest := liveContest()
	contest.FreezeOffset = 30 * time.Minute
	freezeAt := contestEnd.Add(-30 * time.Minute)

	now := contestStart.Add(30 * time.Minute)
	clock := &now
	mirror := newBoardCache(t)
	engine, err := service.NewEngine(service.Config{
		ContestRepo:    newContestStore(contest, 100, 101),
		SubmissionRepo: &submissionHistory{},
		Mirror:         mirror,
		Now:            func() time.Time { return *clock },
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	ctx := context.Background()
	mirrorScore := func(t *testing.T) int64 {
		t.Helper()
		entries, err := mirror.Top(ctx, 1, 10)
		if err != nil {
			t.Fatalf("Top() error = %v", err)
		}
		if len(entries) != 1 || entries[0].UserID != "bob" {
			t.Fatalf("mirror entries = %+v, want only bob", entries)
		}
		return entries[0].Score
	}

	if err := engine.Apply(ctx, finished("s1", "bob", 100, submissionRepo.VerdictAccepted, 1, contestStart.Add(5*time.Minute))); err != nil {
		t.Fatalf("Apply(s1) error = %v", err)
	}
	if got := mirrorScore(t); got != 100 {
		t.Fatalf("mirrored score before freeze = %d, want 100", got)
	}

	// A solve landing inside the freeze window must not move the
	// mirrored total the rank endpoint serves.
	*clock = freezeAt.Add(5 * time.Minute)
	if err := engine.Apply(ctx, finished("s2", "bob", 101, submissionRepo.VerdictAccepted, 2, freezeAt.Add(time.Minute))); err != nil {
		t.Fatalf("Apply(s2) error = %v", err)
	}
	if got := mirrorScore(t); got != 100 {
		t.Errorf("mirrored score inside freeze window = %d, want 100", got)
	}

	if err := engine.Unfreeze(ctx, 1); err != nil {
		t.Fatalf("Unfreeze() error = %v", err)
	}
	if got := mirrorScore(t); got != 200 {
		t.Errorf("mirrored score after unfreeze = %d, want 200", got)
	}
}

func TestSnapshotDraftContest(t *testing.T) {
	t.Parallel()

	contest := liveContest()
	contest.State = contestRepo.StateDraft
	fx := newEngineFixture(t, contest, 100)

	_, err := fx.engine.Snapshot(context.Background(), 1, false)
	if appErr.GetCode(err) != appErr.StandingNotAvailable {
		t.Fatalf("Snapshot() code = %d, want StandingNotAvailable", appErr.GetCode(err))
	}
}

func TestRebuildReplaysHistory(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, liveContest(), 100)
	at := contestStart.Add(5 * time.Minute)

	// The board in memory is stale: it saw an AC that a rejudge sweep
	// later turned into WA in the database.
	fx.apply(t, finished("s1", "bob", 100, submissionRepo.VerdictAccepted, 1, at))
	fx.history.rows = []submissionRepo.Submission{
		*finished("s1", "bob", 100, submissionRepo.VerdictWrongAnswer, 1, at),
		*finished("s2", "carol", 100, submissionRepo.VerdictAccepted, 2, at),
	}

	if err := fx.engine.Rebuild(context.Background(), 1); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	standing := fx.snapshot(t, false)
	if len(standing.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(standing.Rows))
	}
	if standing.Rows[0].UserID != "carol" || standing.Rows[0].TotalScore != 100 {
		t.Errorf("top row = %+v, want carol with 100", standing.Rows[0])
	}
	if standing.Rows[1].UserID != "bob" || standing.Rows[1].TotalScore != 0 {
		t.Errorf("second row = %+v, want bob with 0", standing.Rows[1])
	}
}
