package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	tenantdomain "github.com/smallbiznis/stratus/internal/tenant/domain"
	"github.com/smallbiznis/stratus/internal/tenantcontext"
)

func currentPrincipal(c *gin.Context) (tenantcontext.Principal, bool) {
	return tenantcontext.PrincipalFromContext(c.Request.Context())
}

func (s *Server) CreateTenant(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok || principal.UserID == 0 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req tenantdomain.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	tenant, err := s.tenantSvc.Create(c.Request.Context(), principal.UserID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tenant)
}

func (s *Server) ListUserTenants(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok || principal.UserID == 0 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	tenants, err := s.tenantSvc.ListByUser(c.Request.Context(), principal.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenants": tenants})
}

func (s *Server) GetCurrentTenant(c *gin.Context) {
	principal, _ := currentPrincipal(c)

	tenant, err := s.tenantSvc.Get(c.Request.Context(), principal.TenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, tenant)
}

type setMemberRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (s *Server) SetMemberRole(c *gin.Context) {
	principal, _ := currentPrincipal(c)

	memberID, ok := tenantcontext.ParseID(c.Param("userId"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req setMemberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	role := tenantdomain.MemberRole(req.Role)
	if err := s.tenantSvc.SetMemberRole(c.Request.Context(), principal.TenantID, memberID, role); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}
