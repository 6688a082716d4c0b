package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/stratus/internal/tenantcontext"
)

const (
	headerUserID   = "X-User-ID"
	headerTenantID = "X-Tenant-ID"
)

// PrincipalRequired builds the request principal from the identity headers
// set by the upstream auth proxy. Tenant scope comes only from here; request
// bodies never carry a tenant id.
func (s *Server) PrincipalRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := tenantcontext.ParseID(c.GetHeader(headerTenantID))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		principal := tenantcontext.Principal{TenantID: tenantID}
		if userID, ok := tenantcontext.ParseID(c.GetHeader(headerUserID)); ok {
			principal.UserID = userID
		}

		ctx := tenantcontext.WithPrincipal(c.Request.Context(), principal)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Authorize gates the route on the caller's role in the active tenant.
func (s *Server) Authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := tenantcontext.PrincipalFromContext(c.Request.Context())
		if !ok || principal.TenantID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !s.iamSvc.HasPermission(c.Request.Context(), principal, object, action) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// UsageRateLimit throttles ingestion per tenant when the redis-backed
// limiter is configured. 429 responses carry the retry delay.
func (s *Server) UsageRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.usageLimiter.Enabled() {
			c.Next()
			return
		}
		tenantID, ok := tenantcontext.TenantIDFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		result, err := s.usageLimiter.AllowTenant(c.Request.Context(), tenantID.String())
		if err != nil {
			// Fail open: losing redis should not take down ingestion.
			s.log.Warn("usage rate limiter unavailable")
			c.Next()
			return
		}
		if !result.Allowed {
			if result.RetryAfter > 0 {
				c.Header("Retry-After", result.RetryAfter.String())
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"type":    "rate_limited",
					"message": "usage ingestion rate limit exceeded",
				},
			})
			return
		}
		c.Next()
	}
}
