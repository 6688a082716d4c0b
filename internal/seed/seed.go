package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/stratus/internal/catalog/domain"
	"gorm.io/gorm"
)

type planSeed struct {
	Key       string
	Name      string
	BasePrice int64
	Features  []featureGrant
}

type featureGrant struct {
	FeatureKey     string
	IncludedUnits  int64
	OveragePrice   int64
	WorkspaceCount int
	MemberSeat     int
}

var defaultFeatures = []struct {
	Key         string
	Name        string
	Description string
}{
	{"api_calls", "API Calls", "Metered API requests per billing period"},
	{"storage_gb", "Storage", "Stored data in gigabytes"},
	{"workspaces", "Workspaces", "Workspaces per tenant"},
	{"seats", "Member Seats", "Members per tenant"},
}

var defaultPlans = []planSeed{
	{
		Key:       "free",
		Name:      "Free",
		BasePrice: 0,
		Features: []featureGrant{
			{FeatureKey: "api_calls", IncludedUnits: 1000},
			{FeatureKey: "storage_gb", IncludedUnits: 1},
			{FeatureKey: "workspaces", IncludedUnits: 1, WorkspaceCount: 1},
			{FeatureKey: "seats", IncludedUnits: 3, MemberSeat: 3},
		},
	},
	{
		Key:       "pro",
		Name:      "Pro",
		BasePrice: 2900,
		Features: []featureGrant{
			{FeatureKey: "api_calls", IncludedUnits: 100000, OveragePrice: 2},
			{FeatureKey: "storage_gb", IncludedUnits: 50, OveragePrice: 100},
			{FeatureKey: "workspaces", IncludedUnits: catalogdomain.UnlimitedUnits},
			{FeatureKey: "seats", IncludedUnits: 25, MemberSeat: 25},
		},
	},
}

// EnsureDefaultCatalog seeds the built-in plans and features so a fresh
// install can serve entitlement checks before any admin configuration.
// Existing rows are left untouched.
func EnsureDefaultCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureFeatures(ctx, tx, node); err != nil {
			return err
		}
		for _, plan := range defaultPlans {
			if err := ensurePlan(ctx, tx, node, plan); err != nil {
				return err
			}
		}
		return nil
	})
}

func ensureFeatures(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	for _, feature := range defaultFeatures {
		err := tx.WithContext(ctx).Exec(
			`INSERT INTO billing_features (id, key, name, description, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (key) DO NOTHING`,
			node.Generate(),
			feature.Key,
			feature.Name,
			feature.Description,
			time.Now().UTC(),
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func ensurePlan(ctx context.Context, tx *gorm.DB, node *snowflake.Node, plan planSeed) error {
	now := time.Now().UTC()
	err := tx.WithContext(ctx).Exec(
		`INSERT INTO billing_plans (id, key, name, base_price, currency, interval, is_active, is_custom, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'USD', 'monthly', TRUE, FALSE, ?, ?)
		 ON CONFLICT (key) DO NOTHING`,
		node.Generate(),
		plan.Key,
		plan.Name,
		plan.BasePrice,
		now,
		now,
	).Error
	if err != nil {
		return err
	}

	var row struct {
		ID snowflake.ID `gorm:"column:id"`
	}
	if err := tx.WithContext(ctx).Raw(
		`SELECT id FROM billing_plans WHERE key = ?`, plan.Key,
	).Scan(&row).Error; err != nil {
		return err
	}
	if row.ID == 0 {
		return errors.New("seed plan lookup failed")
	}

	for _, grant := range plan.Features {
		err := tx.WithContext(ctx).Exec(
			`INSERT INTO billing_plan_features (id, plan_id, feature_key, included_units, overage_price, workspace_count, guest_count, member_seat, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
			 ON CONFLICT (plan_id, feature_key) DO NOTHING`,
			node.Generate(),
			row.ID,
			grant.FeatureKey,
			grant.IncludedUnits,
			grant.OveragePrice,
			grant.WorkspaceCount,
			grant.MemberSeat,
			now,
			now,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}
