package repository

import "time"

// Status is the processing state of a submission. A submission enters
// Pending, is claimed Running by exactly one judge worker, and finishes
// exactly once.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusRunning  Status = "RUNNING"
	StatusFinished Status = "FINISHED"
)

// Verdict is the judge outcome of a finished submission.
type Verdict string

const (
	VerdictAccepted          Verdict = "AC"
	VerdictWrongAnswer       Verdict = "WA"
	VerdictTimeLimitExceeded Verdict = "TLE"
	VerdictMemoryLimit       Verdict = "MLE"
	VerdictRuntimeError      Verdict = "RE"
	VerdictCompileError      Verdict = "CE"
)

// Submission is one judged attempt at a contest problem. Sequence is a
// per-contest counter assigned at intake with no gaps; it orders all
// submissions of a contest regardless of wall clock skew.
type Submission struct {
	SubmissionID string
	ContestID    int64
	ProblemID    int64
	UserID       string
	LanguageID   string
	SourceCode   string
	SourceKey    string
	SourceHash   string
	Sequence     int64
	Status       Status
	Verdict      Verdict
	TimeMs       int32
	MemoryKB     int32
	FailedTestID int32
	JudgeReason  string
	CreatedAt    time.Time
	JudgedAt     *time.Time
}

// IsAccepted reports whether the submission finished with AC.
func (s *Submission) IsAccepted() bool {
	return s.Status == StatusFinished && s.Verdict == VerdictAccepted
}
