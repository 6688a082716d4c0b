package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreatePlanRequest struct {
	Name      string `json:"name" binding:"required"`
	BasePrice int64  `json:"base_price"`
	Currency  string `json:"currency"`
	Interval  string `json:"interval"`
	IsCustom  bool   `json:"is_custom"`
}

type SetPlanFeatureRequest struct {
	FeatureKey     string `json:"feature_key" binding:"required"`
	IncludedUnits  int64  `json:"included_units"`
	OveragePrice   int64  `json:"overage_price"`
	WorkspaceCount int    `json:"workspace_count"`
	GuestCount     int    `json:"guest_count"`
	MemberSeat     int    `json:"member_seat"`
}

type UpsertPriceRequest struct {
	ProviderProductID string `json:"provider_product_id" binding:"required"`
	Amount            int64  `json:"amount" binding:"required"`
	Currency          string `json:"currency"`
}

type Service interface {
	CreatePlan(ctx context.Context, req CreatePlanRequest) (*Plan, error)
	GetPlan(ctx context.Context, planID snowflake.ID) (*Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error)
	DeactivatePlan(ctx context.Context, planID snowflake.ID) error

	CreateFeature(ctx context.Context, key, name, description string) (*Feature, error)
	ListFeatures(ctx context.Context) ([]Feature, error)

	SetPlanFeature(ctx context.Context, planID snowflake.ID, req SetPlanFeatureRequest) (*PlanFeature, error)
	ListPlanFeatures(ctx context.Context, planID snowflake.ID) ([]PlanFeature, error)

	UpsertPrice(ctx context.Context, planID snowflake.ID, req UpsertPriceRequest) (*PlanPrice, error)
	GetActivePrice(ctx context.Context, planID snowflake.ID) (*PlanPrice, error)

	CreateProductMapping(ctx context.Context, providerProductID string, planID snowflake.ID) (*ProductMapping, error)
	ResolvePlanByProduct(ctx context.Context, providerProductID string) (*Plan, error)

	// GetActivePlanFeature resolves the tenant's active subscription to its
	// plan feature row for the given feature key.
	GetActivePlanFeature(ctx context.Context, tenantID snowflake.ID, featureKey string) (*PlanFeature, error)
}

var (
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrInvalidFeature       = errors.New("invalid_feature")
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrInvalidInterval      = errors.New("invalid_interval")
	ErrPlanNotFound         = errors.New("plan_not_found")
	ErrFeatureNotFound      = errors.New("feature_not_found")
	ErrDuplicatePlan        = errors.New("duplicate_plan")
	ErrDuplicateFeature     = errors.New("duplicate_feature")
	ErrDuplicateMapping     = errors.New("duplicate_product_mapping")
	ErrMappingNotFound      = errors.New("product_mapping_not_found")
	ErrPriceNotFound        = errors.New("price_not_found")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrFeatureNotInPlan     = errors.New("feature_not_in_plan")
)
