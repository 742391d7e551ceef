// Package sandbox defines the execution boundary of the judge. The
// pipeline feeds it one test case at a time and maps outcomes to
// submission verdicts.
package sandbox

import "context"

// Outcome is the per-case result reported by an executor.
type Outcome string

const (
	OutcomeAccepted     Outcome = "AC"
	OutcomeWrongAnswer  Outcome = "WA"
	OutcomeTimeLimit    Outcome = "TLE"
	OutcomeMemoryLimit  Outcome = "MLE"
	OutcomeRuntimeError Outcome = "RE"
	OutcomeCompileError Outcome = "CE"
)

// TestCase is one resolved judge case with its payloads loaded.
type TestCase struct {
	TestID        int32
	Input         []byte
	Answer        []byte
	TimeLimitMs   int32
	MemoryLimitKB int32
}

// ExecRequest asks an executor to run one source against one case.
type ExecRequest struct {
	SubmissionID string
	LanguageID   string
	SourceCode   string
	Case         TestCase
}

// ExecResult is the outcome of one case execution. A compile failure
// surfaces as OutcomeCompileError on the first executed case.
type ExecResult struct {
	Outcome  Outcome
	TimeMs   int32
	MemoryKB int32
	Detail   string
}

// Executor runs submission code in an isolated environment. A returned
// error means the executor itself failed and the run may be retried;
// verdict-worthy failures are expressed through Outcome instead.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}
