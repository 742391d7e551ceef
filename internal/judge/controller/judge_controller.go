package controller

import (
	"errors"

	"arenaoj/internal/common/http/middleware"
	contestService "arenaoj/internal/contest/service"
	"arenaoj/internal/judge/pipeline"
	submissionRepo "arenaoj/internal/submission/repository"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// JudgeController exposes judge administration endpoints.
type JudgeController struct {
	pipeline       *pipeline.Pipeline
	submissionRepo submissionRepo.SubmissionRepository
	lifecycle      *contestService.LifecycleService
}

func NewJudgeController(p *pipeline.Pipeline, repo submissionRepo.SubmissionRepository, lifecycle *contestService.LifecycleService) *JudgeController {
	return &JudgeController{pipeline: p, submissionRepo: repo, lifecycle: lifecycle}
}

// Rejudge resets a finished submission and runs it again. Only contest
// managers may trigger it.
func (h *JudgeController) Rejudge(c *gin.Context) {
	submissionID := c.Param("sid")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}

	submission, err := h.submissionRepo.GetByID(c.Request.Context(), nil, submissionID)
	if err != nil {
		if errors.Is(err, submissionRepo.ErrSubmissionNotFound) {
			response.Error(c, appErr.New(appErr.SubmissionNotFound).
				WithDetail("submission_id", submissionID))
			return
		}
		response.Error(c, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed"))
		return
	}

	contest, err := h.lifecycle.Load(c.Request.Context(), submission.ContestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	manage, err := h.lifecycle.CanManage(c.Request.Context(), contest, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !manage {
		response.Error(c, appErr.New(appErr.NotManager).
			WithDetail("contest_id", submission.ContestID))
		return
	}

	if err := h.pipeline.Rejudge(c.Request.Context(), submissionID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"rejudging": true})
}

// QueueDepth reports the judge backlog.
func (h *JudgeController) QueueDepth(c *gin.Context) {
	response.Success(c, gin.H{"depth": h.pipeline.QueueDepth()})
}
