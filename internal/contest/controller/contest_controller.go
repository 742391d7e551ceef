package controller

import (
	"strconv"
	"time"

	"arenaoj/internal/common/http/middleware"
	"arenaoj/internal/contest/repository"
	"arenaoj/internal/contest/service"
	"arenaoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ContestController handles contest authoring and lifecycle endpoints.
type ContestController struct {
	lifecycle *service.LifecycleService
}

func NewContestController(lifecycle *service.LifecycleService) *ContestController {
	return &ContestController{lifecycle: lifecycle}
}

// Create handles contest draft creation.
func (h *ContestController) Create(c *gin.Context) {
	var req CreateContestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	start, end, ok := parseWindow(c, req.StartTime, req.EndTime)
	if !ok {
		return
	}

	contest, err := h.lifecycle.Create(c.Request.Context(), service.CreateInput{
		Title:        req.Title,
		Description:  req.Description,
		StartTime:    start,
		EndTime:      end,
		FreezeOffset: time.Duration(req.FreezeOffsetSec) * time.Second,
		ProblemScore: req.ProblemScore,
		CreatedBy:    middleware.UserID(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, toContestResponse(contest, repository.PhaseDraft))
}

// List returns published contests, optionally narrowed by state.
func (h *ContestController) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.BadRequest(c, "Invalid limit")
			return
		}
		limit = parsed
	}
	stateFilter := repository.State(c.Query("state"))

	views, err := h.lifecycle.List(c.Request.Context(), stateFilter, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]ContestResponse, 0, len(views))
	for _, view := range views {
		items = append(items, toContestResponse(view.Contest, view.Phase))
	}
	response.Success(c, ContestListResponse{Items: items})
}

// Get returns one contest with its current phase.
func (h *ContestController) Get(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	view, err := h.lifecycle.Get(c.Request.Context(), contestID, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toContestResponse(view.Contest, view.Phase))
}

// Publish moves a draft to the scheduled state.
func (h *ContestController) Publish(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	contest, err := h.lifecycle.Publish(c.Request.Context(), contestID, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toContestResponse(contest, repository.PhaseUpcoming))
}

// AttachProblem binds a problem into a draft contest.
func (h *ContestController) AttachProblem(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	var req AttachProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ProblemID <= 0 {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	err := h.lifecycle.AttachProblem(c.Request.Context(), contestID, req.ProblemID, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"attached": true})
}

// ListProblems returns the declared problem order of a contest.
func (h *ContestController) ListProblems(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	problems, err := h.lifecycle.ListProblems(c.Request.Context(), contestID, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]ContestProblemResponse, 0, len(problems))
	for _, p := range problems {
		items = append(items, ContestProblemResponse{
			ProblemID: p.ProblemID,
			Ordinal:   p.Ordinal,
			Label:     p.Label,
		})
	}
	response.Success(c, ContestProblemListResponse{Items: items})
}

// AddManager grants contest management to another user.
func (h *ContestController) AddManager(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	var req AddManagerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	err := h.lifecycle.AddManager(c.Request.Context(), contestID, middleware.UserID(c), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"added": true})
}

// UpdateWindow changes contest timing on a draft.
func (h *ContestController) UpdateWindow(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	var req UpdateWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	start, end, ok := parseWindow(c, req.StartTime, req.EndTime)
	if !ok {
		return
	}
	err := h.lifecycle.UpdateWindow(c.Request.Context(), contestID, middleware.UserID(c),
		start, end, time.Duration(req.FreezeOffsetSec)*time.Second)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"updated": true})
}

func parseContestID(c *gin.Context) (int64, bool) {
	contestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || contestID <= 0 {
		response.BadRequest(c, "Invalid contest id")
		return 0, false
	}
	return contestID, true
}

func parseWindow(c *gin.Context, startRaw, endRaw string) (time.Time, time.Time, bool) {
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		response.BadRequest(c, "Invalid start_time")
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		response.BadRequest(c, "Invalid end_time")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func toContestResponse(contest repository.Contest, phase repository.Phase) ContestResponse {
	return ContestResponse{
		ID:              contest.ID,
		Title:           contest.Title,
		Description:     contest.Description,
		State:           string(contest.State),
		Phase:           string(phase),
		StartTime:       contest.StartTime.UTC().Format(time.RFC3339),
		EndTime:         contest.EndTime.UTC().Format(time.RFC3339),
		FreezeOffsetSec: int64(contest.FreezeOffset / time.Second),
		ProblemScore:    contest.ProblemScore,
		CreatedBy:       contest.CreatedBy,
	}
}
