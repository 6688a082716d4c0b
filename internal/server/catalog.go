package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	catalogdomain "github.com/smallbiznis/stratus/internal/catalog/domain"
	"github.com/smallbiznis/stratus/internal/tenantcontext"
)

func (s *Server) ListActivePlans(c *gin.Context) {
	plans, err := s.catalogSvc.ListPlans(c.Request.Context(), true)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (s *Server) ListPlanFeatures(c *gin.Context) {
	planID, ok := tenantcontext.ParseID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	features, err := s.catalogSvc.ListPlanFeatures(c.Request.Context(), planID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"features": features})
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req catalogdomain.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	plan, err := s.catalogSvc.CreatePlan(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (s *Server) ListAllPlans(c *gin.Context) {
	plans, err := s.catalogSvc.ListPlans(c.Request.Context(), false)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (s *Server) DeactivatePlan(c *gin.Context) {
	planID, ok := tenantcontext.ParseID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.catalogSvc.DeactivatePlan(c.Request.Context(), planID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}

func (s *Server) SetPlanFeature(c *gin.Context) {
	planID, ok := tenantcontext.ParseID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req catalogdomain.SetPlanFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	feature, err := s.catalogSvc.SetPlanFeature(c.Request.Context(), planID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, feature)
}

func (s *Server) UpsertPlanPrice(c *gin.Context) {
	planID, ok := tenantcontext.ParseID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req catalogdomain.UpsertPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	price, err := s.catalogSvc.UpsertPrice(c.Request.Context(), planID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, price)
}

type createFeatureRequest struct {
	Key         string `json:"key" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (s *Server) CreateFeature(c *gin.Context) {
	var req createFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	feature, err := s.catalogSvc.CreateFeature(c.Request.Context(), req.Key, req.Name, req.Description)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, feature)
}

func (s *Server) ListFeatures(c *gin.Context) {
	features, err := s.catalogSvc.ListFeatures(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"features": features})
}

type createProductMappingRequest struct {
	ProviderProductID string `json:"provider_product_id" binding:"required"`
	PlanID            string `json:"plan_id" binding:"required"`
}

func (s *Server) CreateProductMapping(c *gin.Context) {
	var req createProductMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	planID, ok := tenantcontext.ParseID(req.PlanID)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	mapping, err := s.catalogSvc.CreateProductMapping(c.Request.Context(), req.ProviderProductID, planID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mapping)
}
