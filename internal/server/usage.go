package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	usagedomain "github.com/smallbiznis/stratus/internal/usage/domain"
)

const periodLayout = "2006-01"

type recordUsageRequest struct {
	FeatureKey     string         `json:"feature_key" binding:"required"`
	Units          int64          `json:"units" binding:"required"`
	IdempotencyKey string         `json:"idempotency_key" binding:"required"`
	Metadata       map[string]any `json:"metadata"`
	RecordedAt     *time.Time     `json:"recorded_at"`
}

func (s *Server) RecordUsage(c *gin.Context) {
	principal, _ := currentPrincipal(c)

	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	record := usagedomain.RecordRequest{
		TenantID:       principal.TenantID,
		FeatureKey:     req.FeatureKey,
		Units:          req.Units,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	}
	if req.RecordedAt != nil {
		record.RecordedAt = *req.RecordedAt
	}

	// Best-effort serialization of hot feature counters. The aggregate
	// upsert stays correct without the lock, so contention never rejects.
	if token, ok, err := s.usageLimiter.TryLockTenantFeature(c.Request.Context(), principal.TenantID.String(), req.FeatureKey); err == nil && ok && token != "" {
		defer func() {
			_ = s.usageLimiter.ReleaseTenantFeature(c.Request.Context(), principal.TenantID.String(), req.FeatureKey, token)
		}()
	}

	event, err := s.usageSvc.Record(c.Request.Context(), record)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// parsePeriod reads the ?period=YYYY-MM query param, defaulting to the
// current month.
func parsePeriod(c *gin.Context) (time.Time, bool) {
	raw := c.Query("period")
	if raw == "" {
		return usagedomain.PeriodOf(time.Now().UTC()), true
	}
	period, err := time.Parse(periodLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return period, true
}

func (s *Server) ListUsageAggregates(c *gin.Context) {
	principal, _ := currentPrincipal(c)

	period, ok := parsePeriod(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	aggregates, err := s.usageSvc.ListAggregates(c.Request.Context(), principal.TenantID, period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"period":     period.Format(periodLayout),
		"aggregates": aggregates,
	})
}

func (s *Server) ListUsageEvents(c *gin.Context) {
	principal, _ := currentPrincipal(c)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	events, err := s.usageSvc.ListEvents(c.Request.Context(), principal.TenantID, c.Query("feature_key"), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) ListOverageFees(c *gin.Context) {
	principal, _ := currentPrincipal(c)

	period, ok := parsePeriod(c)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	fees, err := s.usageSvc.ListOverageFees(c.Request.Context(), principal.TenantID, period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"period": period.Format(periodLayout),
		"fees":   fees,
	})
}
