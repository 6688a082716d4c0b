package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	InsertPlan(ctx context.Context, plan Plan) error
	GetPlan(ctx context.Context, planID snowflake.ID) (*Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error)
	SetPlanActive(ctx context.Context, planID snowflake.ID, active bool) (bool, error)

	InsertFeature(ctx context.Context, feature Feature) error
	ListFeatures(ctx context.Context) ([]Feature, error)
	FeatureExists(ctx context.Context, key string) (bool, error)

	UpsertPlanFeature(ctx context.Context, pf PlanFeature) error
	GetPlanFeature(ctx context.Context, planID snowflake.ID, featureKey string) (*PlanFeature, error)
	ListPlanFeatures(ctx context.Context, planID snowflake.ID) ([]PlanFeature, error)

	DeactivatePrices(ctx context.Context, planID snowflake.ID) error
	InsertPrice(ctx context.Context, price PlanPrice) error
	GetActivePrice(ctx context.Context, planID snowflake.ID) (*PlanPrice, error)

	InsertProductMapping(ctx context.Context, mapping ProductMapping) (bool, error)
	GetProductMapping(ctx context.Context, providerProductID string) (*ProductMapping, error)

	ActivePlanID(ctx context.Context, tenantID snowflake.ID) (snowflake.ID, bool, error)
}
