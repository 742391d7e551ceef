package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Contest lifecycle errors
// 12000-12999: Registration & Participation errors
// 13000-13999: Submission & Judge errors
// 14000-14999: Scoreboard & Ranking errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Contest Lifecycle Errors (11000-11999) ==========

	// Contest basic (11000-11099)
	ContestNotFound     ErrorCode = 11000
	ContestCreateFailed ErrorCode = 11001
	ContestUpdateFailed ErrorCode = 11002
	ContestHidden       ErrorCode = 11003
	ContestNotEditable  ErrorCode = 11004

	// State machine (11100-11199)
	InvalidTransition ErrorCode = 11100
	ContestNotLive    ErrorCode = 11101
	ContestEnded      ErrorCode = 11102

	// Management (11200-11299)
	NotManager          ErrorCode = 11200
	ProblemAttachFailed ErrorCode = 11201
	ProblemNotAttached  ErrorCode = 11202

	// ========== Registration & Participation Errors (12000-12999) ==========

	AlreadyRegistered ErrorCode = 12000
	NotRegistered     ErrorCode = 12001
	NotRegisterable   ErrorCode = 12002
	UnregisterTooLate ErrorCode = 12003
	NotParticipant    ErrorCode = 12100
	JoinNotLive       ErrorCode = 12101

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission intake (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	SubmissionWindowClosed ErrorCode = 13002
	UnknownProblem         ErrorCode = 13003
	LanguageNotSupported   ErrorCode = 13004
	CodeTooLarge           ErrorCode = 13005
	SubmitTooFrequently    ErrorCode = 13006

	// Judge pipeline (13100-13199)
	JudgeQueueFull   ErrorCode = 13100
	JudgeSystemError ErrorCode = 13101
	SandboxError     ErrorCode = 13102
	JudgeTimeout     ErrorCode = 13103
	RejudgeFailed    ErrorCode = 13104

	// Test cases (13200-13299)
	TestCaseNotFound ErrorCode = 13200

	// ========== Scoreboard & Ranking Errors (14000-14999) ==========

	StandingNotAvailable ErrorCode = 14000
	StandingFrozen       ErrorCode = 14001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",

	// Cache
	CacheError: "Cache operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Contest
	ContestNotFound:     "Contest not found",
	ContestCreateFailed: "Failed to create contest",
	ContestUpdateFailed: "Failed to update contest",
	ContestHidden:       "Contest has not started yet",
	ContestNotEditable:  "Contest can no longer be edited",

	// State machine
	InvalidTransition: "Invalid contest state transition",
	ContestNotLive:    "Contest is not accepting submissions",
	ContestEnded:      "Contest has ended",

	// Management
	NotManager:          "Not a manager of this contest",
	ProblemAttachFailed: "Failed to attach problem to contest",
	ProblemNotAttached:  "Problem is not part of this contest",

	// Registration
	AlreadyRegistered: "Already registered for this contest",
	NotRegistered:     "Not registered for this contest",
	NotRegisterable:   "Registration is closed for this contest",
	UnregisterTooLate: "Cannot unregister once the contest is live",
	NotParticipant:    "You have not joined this contest",
	JoinNotLive:       "Contest is not live, cannot join",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	SubmissionWindowClosed: "Submission window closed",
	UnknownProblem:         "Problem is not part of this contest",
	LanguageNotSupported:   "Programming language not supported",
	CodeTooLarge:           "Code is too large",
	SubmitTooFrequently:    "Submitting too frequently, please wait",

	// Judge
	JudgeQueueFull:   "Judge queue is full, please try again later",
	JudgeSystemError: "Judge system error",
	SandboxError:     "Sandbox execution failed",
	JudgeTimeout:     "Judging timed out",
	RejudgeFailed:    "Failed to re-judge submission",

	// Test cases
	TestCaseNotFound: "Test case not found",

	// Scoreboard
	StandingNotAvailable: "Standings are not available",
	StandingFrozen:       "Standings are frozen",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden, c == NotManager, c == NotParticipant:
		return 403
	case c == NotFound, c == ContestNotFound, c == SubmissionNotFound,
		c == TestCaseNotFound, c == RecordNotFound:
		return 404
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable, c == JudgeQueueFull:
		return 503
	case c >= 10300 && c < 10400, c == InvalidParams:
		return 400
	case c == InvalidTransition, c == ContestNotLive, c == ContestEnded,
		c == SubmissionWindowClosed, c == AlreadyRegistered, c == NotRegistered,
		c == NotRegisterable, c == UnregisterTooLate, c == JoinNotLive,
		c == ContestNotEditable, c == UnknownProblem, c == ProblemNotAttached:
		return 409
	default:
		return 500
	}
}
