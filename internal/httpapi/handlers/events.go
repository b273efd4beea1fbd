package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/velonix/chatlytics/internal/analytics"
	"github.com/velonix/chatlytics/internal/common"
	"github.com/velonix/chatlytics/internal/httpapi/middleware"
)

type publishEventReq struct {
	SessionID      string   `json:"session_id"`
	Role           string   `json:"role" binding:"required"`
	Content        string   `json:"content" binding:"required"`
	ResponseTimeMS *float64 `json:"response_time_ms"`
}

// PublishEvent is the publish interface the chat collaborator calls once per
// message turn. A request without a session_id starts a new session. The
// chat path treats this endpoint as best-effort telemetry: an error response
// means the event was dropped, never that the chat reply failed.
func (h *Handler) PublishEvent(c *gin.Context) {
	t, ok := middleware.TenantFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40110, "api key required")
		return
	}

	var req publishEventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Role != analytics.RoleUser && req.Role != analytics.RoleAssistant {
		common.Fail(c, http.StatusBadRequest, 10003, "role must be user or assistant")
		return
	}

	ctx := c.Request.Context()

	sessionID, created, err := h.Tracker.Ensure(ctx, req.SessionID, t.APIKey)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50010, "session setup failed")
		return
	}
	if created {
		log.Printf("new widget session created: %s tenant=%s", sessionID, t.APIKey)
	}

	event, err := h.Publisher.Publish(ctx, analytics.PublishInput{
		SessionID:      sessionID,
		APIKey:         t.APIKey,
		CompanyName:    t.CompanyName,
		Role:           req.Role,
		Content:        req.Content,
		ResponseTimeMS: req.ResponseTimeMS,
	})
	if err != nil {
		log.Printf("publish failed tenant=%s err=%v", t.APIKey, err)
		common.Fail(c, http.StatusServiceUnavailable, 50011, "event dropped")
		return
	}

	// Session state refresh is best-effort alongside the event.
	if err := h.Tracker.Touch(ctx, sessionID, t.APIKey, t.CompanyName); err != nil {
		log.Printf("session touch failed session=%s err=%v", sessionID, err)
	}

	common.Ok(c, gin.H{
		"event_id":   event.EventID,
		"session_id": sessionID,
	})
}

type ratingReq struct {
	Rating    int    `json:"rating" binding:"required"`
	SessionID string `json:"session_id"`
}

func (h *Handler) SubmitRating(c *gin.Context) {
	t, ok := middleware.TenantFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40110, "api key required")
		return
	}

	var req ratingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		common.Fail(c, http.StatusBadRequest, 10004, "rating must be between 1 and 5")
		return
	}

	if err := h.Redis.AddRating(c.Request.Context(), t.APIKey, req.SessionID, req.Rating, h.Tracker.TTL()); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50012, "failed to store rating")
		return
	}

	common.Ok(c, gin.H{"stored": true})
}

func (h *Handler) HasRated(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		common.Fail(c, http.StatusBadRequest, 10005, "session_id required")
		return
	}

	rated, err := h.Redis.HasRated(c.Request.Context(), sessionID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50013, "lookup failed")
		return
	}
	common.Ok(c, gin.H{"has_rated": rated})
}

// SessionActive reports whether a session's sliding TTL window is still
// open. Absence is the only end-of-session signal.
func (h *Handler) SessionActive(c *gin.Context) {
	sessionID := c.Param("session_id")

	active, err := h.Tracker.IsActive(c.Request.Context(), sessionID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50014, "lookup failed")
		return
	}
	common.Ok(c, gin.H{
		"session_id": sessionID,
		"active":     active,
	})
}
