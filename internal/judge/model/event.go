package model

// VerdictEventType distinguishes event kinds on the verdict topic.
type VerdictEventType string

const (
	VerdictEventFinal VerdictEventType = "final"
)

// VerdictEvent is the message published after a submission reaches a
// terminal verdict. Consumers must treat redelivery as idempotent; the
// submission id is the dedup key.
type VerdictEvent struct {
	Type         VerdictEventType `json:"type"`
	SubmissionID string           `json:"submission_id"`
	ContestID    int64            `json:"contest_id"`
	ProblemID    int64            `json:"problem_id"`
	UserID       string           `json:"user_id"`
	Sequence     int64            `json:"sequence"`
	Verdict      string           `json:"verdict"`
	TimeMs       int32            `json:"time_ms"`
	MemoryKB     int32            `json:"memory_kb"`
	FailedTestID int32            `json:"failed_test_id,omitempty"`
	JudgedAt     int64            `json:"judged_at"`
	CreatedAt    int64            `json:"created_at"`
}
