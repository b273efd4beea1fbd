package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/velonix/chatlytics/internal/analytics"
	"github.com/velonix/chatlytics/internal/common"
	"github.com/velonix/chatlytics/internal/httpapi/middleware"
	"github.com/velonix/chatlytics/internal/tenant"
)

// CompanyAnalytics merges the three time horizons a dashboard shows: today's
// live counters from Redis, yesterday's daily row, and the cumulative totals.
// Cumulative numbers are totals-table values plus the not-yet-rolled-up
// counters, so the view is current between rollup runs.
func (h *Handler) CompanyAnalytics(c *gin.Context) {
	t, ok := middleware.TenantFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40110, "api key required")
		return
	}
	ctx := c.Request.Context()

	snap, err := h.Redis.CounterSnapshot(ctx, t.APIKey)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50020, "counter read failed")
		return
	}

	activeSessions, err := h.Tracker.ActiveCount(ctx, t.APIKey)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50021, "active session read failed")
		return
	}

	totals, err := h.Analytics.GetTotals(ctx, t.APIKey)
	if err != nil {
		if !errors.Is(err, analytics.ErrTotalsNotFound) {
			common.Fail(c, http.StatusInternalServerError, 50022, "totals read failed")
			return
		}
		totals = &analytics.TotalAnalytics{APIKey: t.APIKey, CompanyName: t.CompanyName}
	}

	yesterday := analytics.DateOnly(time.Now().UTC().AddDate(0, 0, -1))
	var yesterdayRow *analytics.DailyAnalytics
	if d, err := h.Analytics.GetDaily(ctx, t.APIKey, yesterday); err == nil {
		yesterdayRow = d
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		common.Fail(c, http.StatusInternalServerError, 50023, "daily read failed")
		return
	}

	ratingsSum := totals.RatingsSum + snap.RatingsSum
	ratingsCount := totals.RatingsCount + snap.RatingsCount
	var avgRating float64
	if ratingsCount > 0 {
		avgRating = float64(ratingsSum) / float64(ratingsCount)
	}

	common.Ok(c, gin.H{
		"company_name": t.CompanyName,

		"total_messages":           totals.TotalMessages + snap.TotalMessages,
		"total_user_messages":      totals.UserMessages + snap.UserMessages,
		"total_assistant_messages": totals.AssistantMessages + snap.AssistantMessages,
		"total_sessions":           totals.TotalSessions + snap.TotalSessions,
		"total_avg_rating":         avgRating,
		"total_ratings_count":      ratingsCount,

		"today": gin.H{
			"total_messages":     snap.TotalMessages,
			"user_messages":      snap.UserMessages,
			"assistant_messages": snap.AssistantMessages,
			"total_sessions":     snap.TotalSessions,
			"avg_rating":         snap.AvgRating(),
			"ratings_count":      snap.RatingsCount,
			"avg_response_time":  snap.AvgResponseTime,
		},
		"yesterday": yesterdayRow,

		"active_sessions": activeSessions,
		"last_message_at": snap.LastMessageAt,
	})
}

// Overview aggregates the document store across all tenants; admin only.
func (h *Handler) Overview(c *gin.Context) {
	o, err := h.Analytics.GetOverview(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50024, "overview failed")
		return
	}
	common.Ok(c, o)
}

type createTenantReq struct {
	CompanyName string `json:"company_name" binding:"required"`
	WebsiteURL  string `json:"website_url"`
}

// CreateTenant registers a company and seeds its zeroed totals row. The API
// key is returned once; only the tenant row stores it.
func (h *Handler) CreateTenant(c *gin.Context) {
	var req createTenantReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	key, err := tenant.NewAPIKey()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50030, "key generation failed")
		return
	}

	t := &tenant.Tenant{
		APIKey:      key,
		CompanyName: req.CompanyName,
		WebsiteURL:  req.WebsiteURL,
		Status:      "active",
	}
	if err := h.Tenants.Create(c.Request.Context(), t); err != nil {
		common.Fail(c, http.StatusConflict, 40910, "company already exists")
		return
	}

	if err := h.Analytics.EnsureTotals(c.Request.Context(), t.APIKey, t.CompanyName); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50031, "totals init failed")
		return
	}

	common.Ok(c, gin.H{
		"api_key":      t.APIKey,
		"company_name": t.CompanyName,
	})
}
