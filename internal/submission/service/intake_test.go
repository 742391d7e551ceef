package service_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"arenaoj/internal/common/db"
	"arenaoj/internal/common/storage"
	contestRepo "arenaoj/internal/contest/repository"
	contestService "arenaoj/internal/contest/service"
	problemRepo "arenaoj/internal/problem/repository"
	registrationRepo "arenaoj/internal/registration/repository"
	registrationService "arenaoj/internal/registration/service"
	"arenaoj/internal/submission/repository"
	"arenaoj/internal/submission/service"
	appErr "arenaoj/pkg/errors"
)

type contestStore struct {
	contests map[int64]contestRepo.Contest
	problems map[int64][]contestRepo.ContestProblem
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

func (s *contestStore) AttachProblem(_ context.Context, _ db.Transaction, cp *contestRepo.ContestProblem) error {
	s.problems[cp.ContestID] = append(s.problems[cp.ContestID], *cp)
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

type problemStore struct{}

func (problemStore) Create(_ context.Context, _ db.Transaction, p *problemRepo.Problem) (int64, error) {
	return p.ID, nil
}

func (problemStore) Get(_ context.Context, _ db.Transaction, _ int64) (problemRepo.Problem, error) {
	return problemRepo.Problem{}, problemRepo.ErrProblemNotFound
}

func (problemStore) Exists(_ context.Context, _ db.Transaction, _ int64) (bool, error) {
	return true, nil
}

func (problemStore) AddTestCase(_ context.Context, _ db.Transaction, _ *problemRepo.TestCase) error {
	return nil
}

func (problemStore) ListTestCases(_ context.Context, _ db.Transaction, _ int64) ([]problemRepo.TestCase, error) {
	return nil, problemRepo.ErrTestCaseNotFound
}

type registrationStore struct {
	rows map[string]registrationRepo.Registration
}

func (s *registrationStore) key(contestID int64, userID string) string {
	return strconv.FormatInt(contestID, 10) + "/" + userID
}

func (s *registrationStore) Create(_ context.Context, _ db.Transaction, reg *registrationRepo.Registration) error {
	k := s.key(reg.ContestID, reg.UserID)
	if _, ok := s.rows[k]; ok {
		return registrationRepo.ErrAlreadyRegistered
	}
	s.rows[k] = *reg
	return nil
}

func (s *registrationStore) Delete(_ context.Context, _ db.Transaction, contestID int64, userID string) error {
	delete(s.rows, s.key(contestID, userID))
	return nil
}

func (s *registrationStore) Get(_ context.Context, _ db.Transaction, contestID int64, userID string) (registrationRepo.Registration, error) {
	reg, ok := s.rows[s.key(contestID, userID)]
	if !ok {
		return registrationRepo.Registration{}, registrationRepo.ErrRegistrationMissing
	}
	return reg, nil
}

func (s *registrationStore) MarkParticipated(_ context.Context, _ db.Transaction, _ int64, _ string, _ time.Time) error {
	return nil
}

func (s *registrationStore) ListByContest(_ context.Context, _ db.Transaction, _ int64) ([]registrationRepo.Registration, error) {
	return nil, nil
}

type submissionStore struct {
	rows      map[string]repository.Submission
	sequences map[int64]int64
	createErr error
}

func newSubmissionStore() *submissionStore {
	return &submissionStore{
		rows:      make(map[string]repository.Submission),
		sequences: make(map[int64]int64),
	}
}

func (s *submissionStore) Create(_ context.Context, _ db.Transaction, submission *repository.Submission) error {
	if _, ok := s.rows[submission.SubmissionID]; ok {
		return repository.ErrSubmissionExists
	}
	s.rows[submission.SubmissionID] = *submission
	return nil
}

// CreateWithSequence mimics the transactional allocation: a failed
// insert does not advance the counter.
func (s *submissionStore) CreateWithSequence(ctx context.Context, submission *repository.Submission) error {
	if s.createErr != nil {
		return s.createErr
	}
	submission.Sequence = s.sequences[submission.ContestID] + 1
	if err := s.Create(ctx, nil, submission); err != nil {
		return err
	}
	s.sequences[submission.ContestID] = submission.Sequence
	return nil
}

func (s *submissionStore) GetByID(_ context.Context, _ db.Transaction, submissionID string) (*repository.Submission, error) {
	row, ok := s.rows[submissionID]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	return &row, nil
}

func (s *submissionStore) ClaimRunning(_ context.Context, _ db.Transaction, _ string) (bool, error) {
	return false, nil
}

func (s *submissionStore) RevertPending(_ context.Context, _ db.Transaction, _ string) (bool, error) {
	return false, nil
}

func (s *submissionStore) SaveVerdict(_ context.Context, _ db.Transaction, _ *repository.VerdictRecord) (bool, error) {
	return false, nil
}

func (s *submissionStore) ResetForRejudge(_ context.Context, _ db.Transaction, _ string) (bool, error) {
	return false, nil
}

func (s *submissionStore) ListByContest(_ context.Context, _ db.Transaction, _ int64, _ int) ([]repository.Submission, error) {
	return nil, nil
}

func (s *submissionStore) ListFinishedByContest(_ context.Context, _ db.Transaction, _ int64) ([]repository.Submission, error) {
	return nil, nil
}

func (s *submissionStore) ListByContestUser(_ context.Context, _ db.Transaction, contestID int64, userID string, _ int) ([]repository.Submission, error) {
	var out []repository.Submission
	for _, row := range s.rows {
		if row.ContestID == contestID && row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

type memStorage struct {
	objects map[string][]byte
	putErr  error
}

func (m *memStorage) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	body, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (m *memStorage) PutObject(_ context.Context, bucket, key string, reader io.Reader, _ int64, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[bucket+"/"+key] = body
	return nil
}

func (m *memStorage) StatObject(_ context.Context, bucket, key string) (storage.ObjectStat, error) {
	body, ok := m.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, errors.New("object not found")
	}
	return storage.ObjectStat{SizeBytes: int64(len(body))}, nil
}

type recordingQueue struct {
	ids []string
	err error
}

func (q *recordingQueue) Enqueue(_ context.Context, submissionID string) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, submissionID)
	return nil
}

type intakeFixture struct {
	intake      *service.IntakeService
	clock       *time.Time
	queue       *recordingQueue
	submissions *submissionStore
	storage     *memStorage
	start       time.Time
	end         time.Time
}

func newIntakeFixture(t *testing.T) *intakeFixture {
	t.Helper()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	now := start.Add(time.Minute)
	clock := &now

	contests := &contestStore{
		contests: map[int64]contestRepo.Contest{
			1: {ID: 1, Title: "Weekly Round", State: contestRepo.StateLive, StartTime: start, EndTime: end, CreatedBy: "alice"},
		},
		problems: map[int64][]contestRepo.ContestProblem{
			1: {
				{ContestID: 1, ProblemID: 100, Ordinal: 1, Label: "A"},
				{ContestID: 1, ProblemID: 101, Ordinal: 2, Label: "B"},
			},
		},
	}
	lifecycle, err := contestService.NewLifecycleService(contestService.Config{
		ContestRepo: contests,
		ProblemRepo: problemStore{},
		Now:         func() time.Time { return *clock },
	})
	if err != nil {
		t.Fatalf("NewLifecycleService() error = %v", err)
	}

	joinedAt := start.Add(30 * time.Second)
	registrations := &registrationStore{rows: map[string]registrationRepo.Registration{
		// bob has joined; mallory registered but never joined.
		"1/bob":     {ContestID: 1, UserID: "bob", RegisteredAt: start.Add(-time.Hour), ParticipatedAt: &joinedAt},
		"1/mallory": {ContestID: 1, UserID: "mallory", RegisteredAt: start.Add(-time.Hour)},
	}}
	ledger, err := registrationService.NewLedgerService(registrationService.Config{
		RegistrationRepo: registrations,
		Lifecycle:        lifecycle,
	})
	if err != nil {
		t.Fatalf("NewLedgerService() error = %v", err)
	}

	submissions := newSubmissionStore()
	objects := &memStorage{objects: make(map[string][]byte)}
	queue := &recordingQueue{}
	intake, err := service.NewIntakeService(service.Config{
		SubmissionRepo: submissions,
		ContestRepo:    contests,
		Lifecycle:      lifecycle,
		Ledger:         ledger,
		Storage:        objects,
		Queue:          queue,
		SourceBucket:   "submissions",
		Languages:      []string{"c", "cpp", "go"},
		MaxCodeBytes:   1024,
	})
	if err != nil {
		t.Fatalf("NewIntakeService() error = %v", err)
	}
	return &intakeFixture{
		intake:      intake,
		clock:       clock,
		queue:       queue,
		submissions: submissions,
		storage:     objects,
		start:       start,
		end:         end,
	}
}

func validInput() service.SubmitInput {
	return service.SubmitInput{
		ContestID:  1,
		ProblemID:  100,
		UserID:     "bob",
		LanguageID: "go",
		SourceCode: "package main\n\nfunc main() {}\n",
	}
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	fx := newIntakeFixture(t)
	submission, err := fx.intake.Submit(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if submission.Status != repository.StatusPending {
		t.Errorf("Status = %q, want %q", submission.Status, repository.StatusPending)
	}
	if submission.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", submission.Sequence)
	}
	if len(fx.queue.ids) != 1 || fx.queue.ids[0] != submission.SubmissionID {
		t.Errorf("queue got %v, want [%s]", fx.queue.ids, submission.SubmissionID)
	}
	if _, ok := fx.storage.objects["submissions/"+submission.SourceKey]; !ok {
		t.Errorf("source not archived under %q", submission.SourceKey)
	}
}

func TestSubmitSequenceHasNoGaps(t *testing.T) {
	t.Parallel()

	fx := newIntakeFixture(t)
	for want := int64(1); want <= 3; want++ {
		submission, err := fx.intake.Submit(context.Background(), validInput())
		if err != nil {
			t.Fatalf("Submit() #%d error = %v", want, err)
		}
		if submission.Sequence != want {
			t.Fatalf("Sequence = %d, want %d", submission.Sequence, want)
		}
	}
}

func TestSubmitFailuresDoNotBurnSequenceNumbers(t *testing.T) {
	t.Parallel()

	fx := newIntakeFixture(t)

	fx.storage.putErr = errors.New("object store unreachable")
	if _, err := fx.intake.Submit(context.Background(), validInput()); appErr.GetCode(err) != appErr.SubmissionCreateFailed {
		t.Fatalf("Submit() with storage down code = %d, want SubmissionCreateFailed", appErr.GetCode(err))
	}
	fx.storage.putErr = nil

	fx.submissions.createErr = errors.New("deadlock")
	if _, err := fx.intake.Submit(context.Background(), validInput()); appErr.GetCode(err) != appErr.SubmissionCreateFailed {
		t.Fatalf("Submit() with insert failing code = %d, want SubmissionCreateFailed", appErr.GetCode(err))
	}
	fx.submissions.createErr = nil

	submission, err := fx.intake.Submit(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if submission.Sequence != 1 {
		t.Errorf("Sequence after two failed submits = %d, want 1", submission.Sequence)
	}
}

func TestSubmitAdmissionOrder(t *testing.T) {
	t.Parallel()

	// A request failing several checks reports the first one in the
	// fixed order, so the stranger submitting an unknown problem to an
	// upcoming contest hears about the contest, not the problem.
	t.Run("not live wins over everything", func(t *testing.T) {
		t.Parallel()
		fx := newIntakeFixture(t)
		*fx.clock = fx.start.Add(-time.Minute)
		input := validInput()
		input.UserID = "stranger"
		input.ProblemID = 999
		_, err := fx.intake.Submit(context.Background(), input)
		if appErr.GetCode(err) != appErr.ContestNotLive {
			t.Fatalf("Submit() code = %d, want ContestNotLive", appErr.GetCode(err))
		}
	})

	t.Run("window closed wins over participant check", func(t *testing.T) {
		t.Parallel()
		fx := newIntakeFixture(t)
		*fx.clock = fx.end
		input := validInput()
		input.UserID = "stranger"
		_, err := fx.intake.Submit(context.Background(), input)
		if appErr.GetCode(err) != appErr.SubmissionWindowClosed {
			t.Fatalf("Submit() code = %d, want SubmissionWindowClosed", appErr.GetCode(err))
		}
	})

	t.Run("participant check wins over problem check", func(t *testing.T) {
		t.Parallel()
		fx := newIntakeFixture(t)
		input := validInput()
		input.UserID = "stranger"
		input.ProblemID = 999
		_, err := fx.intake.Submit(context.Background(), input)
		if appErr.GetCode(err) != appErr.NotParticipant {
			t.Fatalf("Submit() code = %d, want NotParticipant", appErr.GetCode(err))
		}
	})

	t.Run("registered but never joined", func(t *testing.T) {
		t.Parallel()
		fx := newIntakeFixture(t)
		input := validInput()
		input.UserID = "mallory"
		_, err := fx.intake.Submit(context.Background(), input)
		if appErr.GetCode(err) != appErr.NotParticipant {
			t.Fatalf("Submit() code = %d, want NotParticipant", appErr.GetCode(err))
		}
	})

	t.Run("unknown problem", func(t *testing.T) {
		t.Parallel()
		fx := newIntakeFixture(t)
		input := validInput()
		input.ProblemID = 999
		_, err := fx.intake.Submit(context.Background(), input)
		if appErr.GetCode(err) != appErr.UnknownProblem {
			t.Fatalf("Submit() code = %d, want UnknownProblem", appErr.GetCode(err))
		}
	})
}

func TestSubmitWindowBoundary(t *testing.T) {
	t.Parallel()

	t.Run("one second before end", func(t *testing.T) {
		t.Parallel()
		fx := newIntakeFixture(t)
		*fx.clock = fx.end.Add(-time.Second)
		if _, err := fx.intake.Submit(context.Background(), validInput()); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	})

	t.Run("exactly at end", func(t *testing.T) {
		t.Parallel()
		fx := newIntakeFixture(t)
		*fx.clock = fx.end
		_, err := fx.intake.Submit(context.Background(), validInput())
		if appErr.GetCode(err) != appErr.SubmissionWindowClosed {
			t.Fatalf("Submit() code = %d, want SubmissionWindowClosed", appErr.GetCode(err))
		}
	})
}

func TestSubmitPayloadValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*service.SubmitInput)
		wantCode appErr.ErrorCode
	}{
		{
			name:     "unsupported language",
			mutate:   func(in *service.SubmitInput) { in.LanguageID = "brainfuck" },
			wantCode: appErr.LanguageNotSupported,
		},
		{
			name:     "missing language",
			mutate:   func(in *service.SubmitInput) { in.LanguageID = "  " },
			wantCode: appErr.ValidationFailed,
		},
		{
			name:     "empty source",
			mutate:   func(in *service.SubmitInput) { in.SourceCode = "\n\t" },
			wantCode: appErr.ValidationFailed,
		},
		{
			name: "source over the limit",
			mutate: func(in *service.SubmitInput) {
				in.SourceCode = string(bytes.Repeat([]byte{'a'}, 1025))
			},
			wantCode: appErr.CodeTooLarge,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fx := newIntakeFixture(t)
			input := validInput()
			tt.mutate(&input)
			_, err := fx.intake.Submit(context.Background(), input)
			if appErr.GetCode(err) != tt.wantCode {
				t.Fatalf("Submit() code = %d, want %d", appErr.GetCode(err), tt.wantCode)
			}
		})
	}
}

func TestSubmitLanguageCaseInsensitive(t *testing.T) {
	t.Parallel()

	fx := newIntakeFixture(t)
	input := validInput()
	input.LanguageID = " GO "
	submission, err := fx.intake.Submit(context.Background(), input)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if submission.LanguageID != "go" {
		t.Errorf("LanguageID = %q, want %q", submission.LanguageID, "go")
	}
}

func TestSubmitQueueFull(t *testing.T) {
	t.Parallel()

	fx := newIntakeFixture(t)
	fx.queue.err = errors.New("queue is full")
	_, err := fx.intake.Submit(context.Background(), validInput())
	if appErr.GetCode(err) != appErr.JudgeQueueFull {
		t.Fatalf("Submit() code = %d, want JudgeQueueFull", appErr.GetCode(err))
	}
}

func TestGetVisibility(t *testing.T) {
	t.Parallel()

	fx := newIntakeFixture(t)
	submission, err := fx.intake.Submit(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if _, err := fx.intake.Get(context.Background(), submission.SubmissionID, "bob"); err != nil {
		t.Errorf("owner Get() error = %v", err)
	}
	if _, err := fx.intake.Get(context.Background(), submission.SubmissionID, "alice"); err != nil {
		t.Errorf("creator Get() error = %v", err)
	}
	_, err = fx.intake.Get(context.Background(), submission.SubmissionID, "eve")
	if appErr.GetCode(err) != appErr.Forbidden {
		t.Errorf("stranger Get() code = %d, want Forbidden", appErr.GetCode(err))
	}
}
