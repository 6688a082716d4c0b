package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stratus/internal/catalog/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) InsertPlan(ctx context.Context, plan domain.Plan) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO billing_plans (
			id, key, name, base_price, currency, interval, is_active, is_custom,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.Key,
		plan.Name,
		plan.BasePrice,
		plan.Currency,
		plan.Interval,
		plan.IsActive,
		plan.IsCustom,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repository) GetPlan(ctx context.Context, planID snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := r.db.WithContext(ctx).Where("id = ?", planID).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListPlans(ctx context.Context, activeOnly bool) ([]domain.Plan, error) {
	var plans []domain.Plan
	stmt := r.db.WithContext(ctx).Model(&domain.Plan{})
	if activeOnly {
		stmt = stmt.Where("is_active = ?", true)
	}
	if err := stmt.Order("base_price asc, id asc").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) SetPlanActive(ctx context.Context, planID snowflake.ID, active bool) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE billing_plans SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND is_active <> ?`,
		active,
		planID,
		active,
	)
	return result.RowsAffected > 0, result.Error
}

func (r *repository) InsertFeature(ctx context.Context, feature domain.Feature) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO billing_features (id, key, name, description, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		feature.ID,
		feature.Key,
		feature.Name,
		feature.Description,
		feature.CreatedAt,
	).Error
}

func (r *repository) ListFeatures(ctx context.Context) ([]domain.Feature, error) {
	var features []domain.Feature
	if err := r.db.WithContext(ctx).Order("key asc").Find(&features).Error; err != nil {
		return nil, err
	}
	return features, nil
}

func (r *repository) FeatureExists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM billing_features WHERE key = ?`, key,
	).Scan(&count).Error
	return count > 0, err
}

func (r *repository) UpsertPlanFeature(ctx context.Context, pf domain.PlanFeature) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO billing_plan_features (
			id, plan_id, feature_key, included_units, overage_price,
			workspace_count, guest_count, member_seat, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (plan_id, feature_key) DO UPDATE SET
			included_units = excluded.included_units,
			overage_price = excluded.overage_price,
			workspace_count = excluded.workspace_count,
			guest_count = excluded.guest_count,
			member_seat = excluded.member_seat,
			updated_at = excluded.updated_at`,
		pf.ID,
		pf.PlanID,
		pf.FeatureKey,
		pf.IncludedUnits,
		pf.OveragePrice,
		pf.WorkspaceCount,
		pf.GuestCount,
		pf.MemberSeat,
		pf.CreatedAt,
		pf.UpdatedAt,
	).Error
}

func (r *repository) GetPlanFeature(ctx context.Context, planID snowflake.ID, featureKey string) (*domain.PlanFeature, error) {
	var pf domain.PlanFeature
	err := r.db.WithContext(ctx).
		Where("plan_id = ? AND feature_key = ?", planID, featureKey).
		First(&pf).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrFeatureNotInPlan
		}
		return nil, err
	}
	return &pf, nil
}

func (r *repository) ListPlanFeatures(ctx context.Context, planID snowflake.ID) ([]domain.PlanFeature, error) {
	var features []domain.PlanFeature
	err := r.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("feature_key asc").
		Find(&features).Error
	if err != nil {
		return nil, err
	}
	return features, nil
}

func (r *repository) DeactivatePrices(ctx context.Context, planID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE billing_plan_prices SET is_active = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE plan_id = ? AND is_active = ?`,
		false,
		planID,
		true,
	).Error
}

func (r *repository) InsertPrice(ctx context.Context, price domain.PlanPrice) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO billing_plan_prices (
			id, plan_id, provider_product_id, amount, currency, is_active,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		price.ID,
		price.PlanID,
		price.ProviderProductID,
		price.Amount,
		price.Currency,
		price.IsActive,
		price.CreatedAt,
		price.UpdatedAt,
	).Error
}

func (r *repository) GetActivePrice(ctx context.Context, planID snowflake.ID) (*domain.PlanPrice, error) {
	var price domain.PlanPrice
	err := r.db.WithContext(ctx).
		Where("plan_id = ? AND is_active = ?", planID, true).
		First(&price).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPriceNotFound
		}
		return nil, err
	}
	return &price, nil
}

func (r *repository) InsertProductMapping(ctx context.Context, mapping domain.ProductMapping) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`INSERT INTO billing_product_mappings (id, provider_product_id, plan_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (provider_product_id) DO NOTHING`,
		mapping.ID,
		mapping.ProviderProductID,
		mapping.PlanID,
		mapping.CreatedAt,
	)
	return result.RowsAffected > 0, result.Error
}

func (r *repository) GetProductMapping(ctx context.Context, providerProductID string) (*domain.ProductMapping, error) {
	var mapping domain.ProductMapping
	err := r.db.WithContext(ctx).
		Where("provider_product_id = ?", providerProductID).
		First(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMappingNotFound
		}
		return nil, err
	}
	return &mapping, nil
}

func (r *repository) ActivePlanID(ctx context.Context, tenantID snowflake.ID) (snowflake.ID, bool, error) {
	var row struct {
		PlanID snowflake.ID
	}
	result := r.db.WithContext(ctx).Raw(
		`SELECT plan_id
		 FROM billing_subscriptions
		 WHERE tenant_id = ? AND status = 'active'
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		tenantID,
	).Scan(&row)
	if result.Error != nil {
		return 0, false, result.Error
	}
	if result.RowsAffected == 0 || row.PlanID == 0 {
		return 0, false, nil
	}
	return row.PlanID, true, nil
}
