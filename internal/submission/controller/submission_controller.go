package controller

import (
	"strconv"
	"time"

	"arenaoj/internal/common/http/middleware"
	"arenaoj/internal/submission/repository"
	"arenaoj/internal/submission/service"
	"arenaoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmissionController handles submission HTTP endpoints.
type SubmissionController struct {
	intake *service.IntakeService
}

func NewSubmissionController(intake *service.IntakeService) *SubmissionController {
	return &SubmissionController{intake: intake}
}

// Create handles submission requests.
func (h *SubmissionController) Create(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	submission, err := h.intake.Submit(c.Request.Context(), service.SubmitInput{
		ContestID:  contestID,
		ProblemID:  req.ProblemID,
		UserID:     middleware.UserID(c),
		LanguageID: req.LanguageID,
		SourceCode: req.SourceCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, toSubmissionResponse(submission, false))
}

// Get returns one submission.
func (h *SubmissionController) Get(c *gin.Context) {
	submissionID := c.Param("sid")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	submission, err := h.intake.Get(c.Request.Context(), submissionID, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toSubmissionResponse(submission, true))
}

// ListMine returns the caller's submissions in a contest.
func (h *SubmissionController) ListMine(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	submissions, err := h.intake.ListMine(c.Request.Context(), contestID, middleware.UserID(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]SubmissionResponse, 0, len(submissions))
	for i := range submissions {
		items = append(items, toSubmissionResponse(&submissions[i], false))
	}
	response.Success(c, SubmissionListResponse{Items: items})
}

// SubmitRequest is the payload of a submission.
type SubmitRequest struct {
	ProblemID  int64  `json:"problem_id" binding:"required"`
	LanguageID string `json:"language_id" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

// SubmissionResponse is the wire form of a submission.
type SubmissionResponse struct {
	SubmissionID string `json:"submission_id"`
	ContestID    int64  `json:"contest_id"`
	ProblemID    int64  `json:"problem_id"`
	UserID       string `json:"user_id"`
	LanguageID   string `json:"language_id"`
	Sequence     int64  `json:"sequence"`
	Status       string `json:"status"`
	Verdict      string `json:"verdict,omitempty"`
	TimeMs       int32  `json:"time_ms,omitempty"`
	MemoryKB     int32  `json:"memory_kb,omitempty"`
	FailedTestID int32  `json:"failed_test_id,omitempty"`
	JudgeReason  string `json:"judge_reason,omitempty"`
	SourceCode   string `json:"source_code,omitempty"`
	CreatedAt    string `json:"created_at"`
	JudgedAt     string `json:"judged_at,omitempty"`
}

// SubmissionListResponse wraps a submission list.
type SubmissionListResponse struct {
	Items []SubmissionResponse `json:"items"`
}

func toSubmissionResponse(s *repository.Submission, withSource bool) SubmissionResponse {
	resp := SubmissionResponse{
		SubmissionID: s.SubmissionID,
		ContestID:    s.ContestID,
		ProblemID:    s.ProblemID,
		UserID:       s.UserID,
		LanguageID:   s.LanguageID,
		Sequence:     s.Sequence,
		Status:       string(s.Status),
		Verdict:      string(s.Verdict),
		TimeMs:       s.TimeMs,
		MemoryKB:     s.MemoryKB,
		FailedTestID: s.FailedTestID,
		JudgeReason:  s.JudgeReason,
		CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if withSource {
		resp.SourceCode = s.SourceCode
	}
	if s.JudgedAt != nil {
		resp.JudgedAt = s.JudgedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func parseContestID(c *gin.Context) (int64, bool) {
	contestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || contestID <= 0 {
		response.BadRequest(c, "Invalid contest id")
		return 0, false
	}
	return contestID, true
}
