package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type checkEntitlementRequest struct {
	FeatureKey     string `json:"feature_key" binding:"required"`
	Units          int64  `json:"units"`
	Record         bool   `json:"record"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) CheckEntitlement(c *gin.Context) {
	principal, _ := currentPrincipal(c)

	var req checkEntitlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.Units <= 0 {
		req.Units = 1
	}

	if req.Record {
		decision, event, err := s.entitlementSvc.CheckAndRecord(c.Request.Context(), principal.TenantID, req.FeatureKey, req.Units, req.IdempotencyKey)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"decision": decision,
			"event":    event,
		})
		return
	}

	decision, err := s.entitlementSvc.Check(c.Request.Context(), principal.TenantID, req.FeatureKey, req.Units)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"decision": decision})
}
