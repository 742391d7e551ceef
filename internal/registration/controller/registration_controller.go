package controller

import (
	"strconv"
	"time"

	"arenaoj/internal/common/http/middleware"
	"arenaoj/internal/registration/repository"
	"arenaoj/internal/registration/service"
	"arenaoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RegistrationController handles contest registration endpoints.
type RegistrationController struct {
	ledger *service.LedgerService
}

func NewRegistrationController(ledger *service.LedgerService) *RegistrationController {
	return &RegistrationController{ledger: ledger}
}

// Register adds the caller to the contest ledger.
func (h *RegistrationController) Register(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	reg, err := h.ledger.Register(c.Request.Context(), contestID, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, toRegistrationResponse(reg))
}

// Unregister removes the caller from the ledger.
func (h *RegistrationController) Unregister(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	if err := h.ledger.Unregister(c.Request.Context(), contestID, middleware.UserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"unregistered": true})
}

// Join records first participation in a live contest.
func (h *RegistrationController) Join(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	reg, err := h.ledger.Join(c.Request.Context(), contestID, middleware.UserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, toRegistrationResponse(reg))
}

// Roster lists contest registrations.
func (h *RegistrationController) Roster(c *gin.Context) {
	contestID, ok := parseContestID(c)
	if !ok {
		return
	}
	regs, err := h.ledger.Roster(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]RegistrationResponse, 0, len(regs))
	for _, reg := range regs {
		items = append(items, toRegistrationResponse(reg))
	}
	response.Success(c, RosterResponse{Items: items, Total: len(items)})
}

// RegistrationResponse is the wire form of a ledger row.
type RegistrationResponse struct {
	ContestID      int64  `json:"contest_id"`
	UserID         string `json:"user_id"`
	RegisteredAt   string `json:"registered_at"`
	ParticipatedAt string `json:"participated_at,omitempty"`
}

// RosterResponse wraps a contest roster.
type RosterResponse struct {
	Items []RegistrationResponse `json:"items"`
	Total int                    `json:"total"`
}

func toRegistrationResponse(reg repository.Registration) RegistrationResponse {
	resp := RegistrationResponse{
		ContestID:    reg.ContestID,
		UserID:       reg.UserID,
		RegisteredAt: reg.RegisteredAt.UTC().Format(time.RFC3339),
	}
	if reg.ParticipatedAt != nil {
		resp.ParticipatedAt = reg.ParticipatedAt.UTC().Format(time.RFC3339)
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
