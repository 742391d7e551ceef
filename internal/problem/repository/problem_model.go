package repository

import "time"

const (
	ProblemStatusDraft     int32 = 0
	ProblemStatusPublished int32 = 1
	ProblemStatusArchived  int32 = 2
)

// Problem represents the basic problem entity.
type Problem struct {
	ID        int64
	Title     string
	Status    int32
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TestCase describes one judge case of a problem. Input and answer bodies
// live in object storage under InputKey and AnswerKey; only limits and
// ordering metadata are kept in the database.
type TestCase struct {
	ProblemID     int64
	TestID        int32
	IsSample      bool
	InputKey      string
	AnswerKey     string
	TimeLimitMs   int32
	MemoryLimitKB int32
}
