package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	ledgerdomain "github.com/smallbiznis/stratus/internal/ledger/domain"
)

func (s *Server) GetCreditBalance(c *gin.Context) {
	principal, _ := currentPrincipal(c)

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), principal.TenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": principal.TenantID.String(),
		"balance":   balance,
	})
}

func (s *Server) ListCreditEntries(c *gin.Context) {
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

	entries, err := s.ledgerSvc.ListEntries(c.Request.Context(), principal.TenantID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type grantCreditsRequest struct {
	Delta          int64          `json:"delta" binding:"required"`
	Reason         string         `json:"reason" binding:"required"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
	ExpiresAt      *time.Time     `json:"expires_at"`
}

func (s *Server) GrantCredits(c *gin.Context) {
	principal, _ := currentPrincipal(c)

	var req grantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		// Grants without a client key are not retry-safe; a fresh key keeps
		// the ledger insert path uniform.
		key = ulid.Make().String()
	}

	entry, err := s.ledgerSvc.AddCredits(c.Request.Context(), ledgerdomain.AddCreditsRequest{
		TenantID:       principal.TenantID,
		Delta:          req.Delta,
		Reason:         req.Reason,
		Source:         ledgerdomain.SourceAdmin,
		IdempotencyKey: key,
		Metadata:       req.Metadata,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}
