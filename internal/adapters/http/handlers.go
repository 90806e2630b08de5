package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mystline/advisory/internal/app"
	"github.com/mystline/advisory/internal/core"
	"github.com/mystline/advisory/internal/domain"
)

// sessionHandlers is the thin request/response layer over the session
// lifecycle: validation and status-code mapping only, no business logic.
type sessionHandlers struct {
	deps Deps
}

func parseSessionID(c *gin.Context) (domain.SessionID, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return domain.SessionID(id), true
}

type startRequest struct {
	UserID         domain.UserID      `json:"userId"`
	AdvisorID      domain.UserID      `json:"advisorId"`
	Kind           domain.SessionKind `json:"kind"`
	RatePerMinute  int64              `json:"ratePerMinute"`
	ScheduledStart time.Time          `json:"scheduledStart,omitzero"`
	Notes          string             `json:"notes"`
}

func (h *sessionHandlers) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sess, err := h.deps.Sessions.CreateSession(c.Request.Context(), app.CreateSessionInput{
		UserID:         req.UserID,
		AdvisorID:      req.AdvisorID,
		Kind:           req.Kind,
		RatePerMinute:  req.RatePerMinute,
		ScheduledStart: req.ScheduledStart,
		Notes:          req.Notes,
	})
	switch {
	case errors.Is(err, domain.ErrInvalidParticipant),
		errors.Is(err, domain.ErrInvalidRate),
		errors.Is(err, domain.ErrInvalidKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		// Creation fails closed: no durable record, no session.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusCreated, sess)
	}
}

func (h *sessionHandlers) status(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}
	sess, err := h.deps.Sessions.LookupSession(c.Request.Context(), id)
	switch {
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, sess)
	}
}

type participantRequest struct {
	UserID domain.UserID `json:"userId"`
}

func (h *sessionHandlers) join(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}
	var req participantRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid userId"})
		return
	}
	if !h.deps.Sessions.AddParticipant(id, req.UserID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"joined": true})
}

func (h *sessionHandlers) leave(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}
	var req participantRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid userId"})
		return
	}
	if !h.deps.Sessions.RemoveParticipant(id, req.UserID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": true})
}

type endRequest struct {
	EndReason string `json:"endReason"`
	Notes     string `json:"notes"`
}

func (h *sessionHandlers) end(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}
	var req endRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	outcome := h.deps.Sessions.EndSession(c.Request.Context(), id, app.EndSessionInput{
		EndReason: req.EndReason,
		Notes:     req.Notes,
	})
	if outcome == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if outcome.Err == app.ErrAlreadyEnded.Error() {
		c.JSON(http.StatusConflict, gin.H{"error": outcome.Err})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (h *sessionHandlers) notes(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}
	var req notesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !h.deps.Sessions.SetNotes(c.Request.Context(), id, req.Notes) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (h *sessionHandlers) billing(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}
	sum, err := h.deps.Billing.GetSessionBilling(c.Request.Context(), id)
	switch {
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no billing for session"})
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, sum)
	}
}

func (h *sessionHandlers) messages(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	history, err := h.deps.Delivery.History(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": history})
}
