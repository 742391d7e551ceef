package controller

import (
	"strconv"

	"arenaoj/internal/common/http/middleware"
	contestService "arenaoj/internal/contest/service"
	"arenaoj/internal/scoreboard/service"
	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ScoreboardController serves contest standings.
type ScoreboardController struct {
	engine    *service.Engine
	mirror    *service.BoardCache
	lifecycle *contestService.LifecycleService
}

func NewScoreboardController(engine *service.Engine, mirror *service.BoardCache, lifecycle *contestService.LifecycleService) *ScoreboardController {
	return &ScoreboardController{engine: engine, mirror: mirror, lifecycle: lifecycle}
}

// Standing returns the public standing. During the freeze window the
// rows exclude results of submissions made after the freeze point.
func (h *ScoreboardController) Standing(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	standing, err := h.engine.Snapshot(c.Request.Context(), contestID, false)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, standing)
}

// OfficialStanding returns the unfrozen standing to contest managers.
func (h *ScoreboardController) OfficialStanding(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	if !h.requireManage(c, contestID) {
		return
	}
	standing, err := h.engine.Snapshot(c.Request.Context(), contestID, true)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, standing)
}

// Unfreeze lifts the scoreboard freeze.
func (h *ScoreboardController) Unfreeze(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	if !h.requireManage(c, contestID) {
		return
	}
	if err := h.engine.Unfreeze(c.Request.Context(), contestID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"unfrozen": true})
}

// Rebuild replays the submission history into a fresh board.
func (h *ScoreboardController) Rebuild(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	if !h.requireManage(c, contestID) {
		return
	}
	if err := h.engine.Rebuild(c.Request.Context(), contestID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"rebuilt": true})
}

// MyRank returns the caller's mirrored scoreboard position.
func (h *ScoreboardController) MyRank(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	if h.mirror == nil {
		response.Error(c, appErr.New(appErr.StandingNotAvailable).
			WithMessage("rank mirror is not configured"))
		return
	}
	rank, err := h.mirror.UserRank(c.Request.Context(), contestID, middleware.UserID(c))
	if err != nil {
		response.Error(c, appErr.Wrap(err, appErr.CacheError))
		return
	}
	response.Success(c, gin.H{"rank": rank})
}

func (h *ScoreboardController) requireManage(c *gin.Context, contestID int64) bool {
	contest, err := h.lifecycle.Load(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return false
	}
	manage, err := h.lifecycle.CanManage(c.Request.Context(), contest, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return false
	}
	if !manage {
		response.Error(c, appErr.New(appErr.NotManager).WithDetail("contest_id", contestID))
		return false
	}
	return true
}

func parseContestID(c *gin.Context) (int64, bool) {
	contestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || contestID <= 0 {
		response.BadRequest(c, "Invalid contest id")
		return 0, false
	}
	return contestID, true
}
