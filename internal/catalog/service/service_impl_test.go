package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/stratus/internal/audit/domain"
	"github.com/smallbiznis/stratus/internal/catalog/domain"
	"github.com/smallbiznis/stratus/internal/catalog/repository"
)

type auditStub struct{}

func (auditStub) AuditLog(context.Context, *snowflake.ID, string, *string, string, string, *string, map[string]any) error {
	return nil
}

func (auditStub) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func openCatalogDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	db.Exec("PRAGMA busy_timeout = 5000")

	for _, stmt := range []string{
		`CREATE TABLE billing_plans (
			id INTEGER PRIMARY KEY,
			key TEXT NOT NULL,
			name TEXT NOT NULL,
			base_price INTEGER NOT NULL,
			currency TEXT NOT NULL,
			interval TEXT NOT NULL,
			is_active BOOLEAN NOT NULL,
			is_custom BOOLEAN NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_billing_plans_key ON billing_plans (key)`,
		`CREATE TABLE billing_features (
			id INTEGER PRIMARY KEY,
			key TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_billing_features_key ON billing_features (key)`,
		`CREATE TABLE billing_plan_features (
			id INTEGER PRIMARY KEY,
			plan_id INTEGER NOT NULL,
			feature_key TEXT NOT NULL,
			included_units INTEGER NOT NULL,
			overage_price INTEGER NOT NULL,
			workspace_count INTEGER NOT NULL,
			guest_count INTEGER NOT NULL,
			member_seat INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_billing_plan_features
			ON billing_plan_features (plan_id, feature_key)`,
		`CREATE TABLE billing_plan_prices (
			id INTEGER PRIMARY KEY,
			plan_id INTEGER NOT NULL,
			provider_product_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			currency TEXT NOT NULL,
			is_active BOOLEAN NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_billing_plan_prices_active
			ON billing_plan_prices (plan_id) WHERE is_active`,
		`CREATE TABLE billing_product_mappings (
			id INTEGER PRIMARY KEY,
			provider_product_id TEXT NOT NULL,
			plan_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_billing_product_mappings
			ON billing_product_mappings (provider_product_id)`,
		`CREATE TABLE billing_subscriptions (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			plan_id INTEGER NOT NULL,
			provider_subscription_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_period_start DATETIME NOT NULL,
			current_period_end DATETIME NOT NULL,
			seats INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	} {
		require.NoError(t, db.Exec(stmt).Error)
	}

	return db
}

type catalogFixture struct {
	svc  domain.Service
	db   *gorm.DB
	node *snowflake.Node
}

func newCatalogFixture(t *testing.T, name string) *catalogFixture {
	t.Helper()
	db := openCatalogDB(t, name)
	node := mustNode(t)
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     repository.NewRepository(db),
		AuditSvc: auditStub{},
	})
	return &catalogFixture{svc: svc, db: db, node: node}
}

func (f *catalogFixture) addSubscription(t *testing.T, tenantID, planID snowflake.ID, status string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.db.Exec(
		`INSERT INTO billing_subscriptions (
			id, tenant_id, plan_id, provider_subscription_id, status,
			current_period_start, current_period_end, seats, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.node.Generate(), tenantID, planID, "sub_"+planID.String(), status,
		now, now.AddDate(0, 1, 0), 1, now, now,
	).Error)
}

func TestCreatePlan_SlugsKeyAndDefaults(t *testing.T) {
	fx := newCatalogFixture(t, "catalog_create_plan")
	ctx := context.Background()

	plan, err := fx.svc.CreatePlan(ctx, domain.CreatePlanRequest{Name: "Pro Annual", BasePrice: 29900, Interval: "yearly"})
	require.NoError(t, err)
	assert.Equal(t, "pro-annual", plan.Key)
	assert.Equal(t, "USD", plan.Currency)
	assert.Equal(t, domain.IntervalYearly, plan.Interval)
	assert.True(t, plan.IsActive)
}

func TestCreatePlan_DuplicateKey(t *testing.T) {
	fx := newCatalogFixture(t, "catalog_dup_plan")
	ctx := context.Background()

	_, err := fx.svc.CreatePlan(ctx, domain.CreatePlanRequest{Name: "Pro"})
	require.NoError(t, err)
	_, err = fx.svc.CreatePlan(ctx, domain.CreatePlanRequest{Name: "pro"})
	assert.ErrorIs(t, err, domain.ErrDuplicatePlan)
}

func TestCreatePlan_InvalidInterval(t *testing.T) {
	fx := newCatalogFixture(t, "catalog_bad_interval")

	_, err := fx.svc.CreatePlan(context.Background(), domain.CreatePlanRequest{Name: "Pro", Interval: "weekly"})
	assert.ErrorIs(t, err, domain.ErrInvalidInterval)
}

func TestListPlans_ActiveOnly(t *testing.T) {
	fx := newCatalogFixture(t, "catalog_list_plans")
	ctx := context.Background()

	free, err := fx.svc.CreatePlan(ctx, domain.CreatePlanRequest{Name: "Free"})
	require.NoError(t, err)
	_, err = fx.svc.CreatePlan(ctx, domain.CreatePlanRequest{Name: "Pro", BasePrice: 2900})
	require.NoError(t, err)
	require.NoError(t, fx.svc.DeactivatePlan(ctx, free.ID))

	active, err := fx.svc.ListPlans(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "pro", active[0].Key)

	all, err := fx.svc.ListPlans(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSetPlanFeature_UpsertsGrant(t *testing.T) {
	fx := newCatalogFixture(t, "catalog_plan_feature")
	ctx := context.Background()

	plan, err := fx.svc.CreatePlan(ctx, domain.CreatePlanRequest{Name: "Pro"})
	require.NoError(t, err)
	_, err = fx.svc.CreateFeature(ctx, "api_calls", "API Calls", "")
	require.NoError(t, err)

	pf, err := fx.svc.SetPlanFeature(ctx, plan.ID, domain.SetPlanFeatureRequest{
		FeatureKey:    "api_calls",
		IncludedUnits: 1000,
		OveragePrice:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), pf.IncludedUnits)

	// Same key again replaces the grant instead of duplicating it.
	pf, err = fx.svc.SetPlanFeature(ctx, plan.ID, domain.SetPlanFeatureRequest{
		FeatureKey:    "api_calls",
		IncludedUnits: domain.UnlimitedUnits,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.UnlimitedUnits, pf.IncludedUnits)

	features, err := fx.svc.ListPlanFeatures(ctx, plan.ID)
	require.NoError(t, err)
	assert.Len(t, features, 1)
}

func TestSetPlanFeature_UnknownFeature(t *testing.T) {
	fx := newCatalogFixture(t, "catalog_unknown_feature")
	ctx := context.Background()

	plan, err := fx.svc.CreatePlan(ctx, domain.CreatePlanRequest{Name: "Pro"})
	require.NoError(t, err)

	_, err = fx.svc.SetPlanFeature(ctx, plan.ID, domain.SetPlanFeatureRequest{
		FeatureKey:    "nope",
		IncludedUnits: 10,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidFeature)
}

func TestUpsertPrice_SingleActive(t *testing.T) {
	fx := newCatalogFixture(t, "catalog_price")
	ctx := context.Background()

	plan, err := fx.svc.CreatePlan(ctx, domain.CreatePlanRequest{Name: "Pro"})
	require.NoError(t, err)

	_, err = fx.svc.UpsertPrice(ctx, plan.ID, domain.UpsertPriceRequest{ProviderProductID: "prod_v1", Amount: 2900})
	require.NoError(t, err)
	second, err := fx.svc.UpsertPrice(ctx, plan.ID, domain.UpsertPriceRequest{ProviderProductID: "prod_v2", Amount: 3900})
	require.NoError(t, err)

	active, err := fx.svc.GetActivePrice(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
	assert.Equal(t, int64(3900), active.Amount)

	var count int64
	require.NoError(t, fx.db.Raw(
		`SELECT COUNT(1) FROM billing_plan_prices WHERE plan_id = ? AND is_active`, plan.ID,
	).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestProductMapping_ResolveAndDuplicate(t *testing.T) {
	fx := newCatalogFixture(t, "catalog_mapping")
	ctx := context.Background()

	plan, err := fx.svc.CreatePlan(ctx, domain.CreatePlanRequest{Name: "Pro"})
	require.NoError(t, err)

	_, err = fx.svc.CreateProductMapping(ctx, "prod_123", plan.ID)
	require.NoError(t, err)
	_, err = fx.svc.CreateProductMapping(ctx, "prod_123", plan.ID)
	assert.ErrorIs(t, err, domain.ErrDuplicateMapping)

	resolved, err := fx.svc.ResolvePlanByProduct(ctx, "prod_123")
	require.NoError(t, err)
	assert.Equal(t, plan.ID, resolved.ID)

	_, err = fx.svc.ResolvePlanByProduct(ctx, "prod_missing")
	assert.ErrorIs(t, err, domain.ErrMappingNotFound)
}

func TestGetActivePlanFeature(t *testing.T) {
	fx := newCatalogFixture(t, "catalog_active_feature")
	ctx := context.Background()
	tenantID := fx.node.Generate()

	plan, err := fx.svc.CreatePlan(ctx, domain.CreatePlanRequest{Name: "Pro"})
	require.NoError(t, err)
	_, err = fx.svc.CreateFeature(ctx, "api_calls", "API Calls", "")
	require.NoError(t, err)
	_, err = fx.svc.SetPlanFeature(ctx, plan.ID, domain.SetPlanFeatureRequest{
		FeatureKey:    "api_calls",
		IncludedUnits: 1000,
	})
	require.NoError(t, err)

	// No subscription yet.
	_, err = fx.svc.GetActivePlanFeature(ctx, tenantID, "api_calls")
	assert.ErrorIs(t, err, domain.ErrNoActiveSubscription)

	fx.addSubscription(t, tenantID, plan.ID, "active")

	pf, err := fx.svc.GetActivePlanFeature(ctx, tenantID, "api_calls")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), pf.IncludedUnits)

	_, err = fx.svc.GetActivePlanFeature(ctx, tenantID, "storage_gb")
	assert.ErrorIs(t, err, domain.ErrFeatureNotInPlan)
}

func TestGetActivePlanFeature_CanceledSubscription(t *testing.T) {
	fx := newCatalogFixture(t, "catalog_canceled_sub")
	ctx := context.Background()
	tenantID := fx.node.Generate()

	plan, err := fx.svc.CreatePlan(ctx, domain.CreatePlanRequest{Name: "Pro"})
	require.NoError(t, err)
	fx.addSubscription(t, tenantID, plan.ID, "canceled")

	_, err = fx.svc.GetActivePlanFeature(ctx, tenantID, "api_calls")
	assert.ErrorIs(t, err, domain.ErrNoActiveSubscription)
}
