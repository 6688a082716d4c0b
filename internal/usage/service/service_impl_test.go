package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/gorm"

	catalogdomain "github.com/smallbiznis/stratus/internal/catalog/domain"
	"github.com/smallbiznis/stratus/internal/clock"
	usagedomain "github.com/smallbiznis/stratus/internal/usage/domain"
)

type catalogMock struct {
	mock.Mock
}

func (m *catalogMock) GetActivePlanFeature(ctx context.Context, tenantID snowflake.ID, featureKey string) (*catalogdomain.PlanFeature, error) {
	args := m.Called(ctx, tenantID, featureKey)
	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}
	return res.(*catalogdomain.PlanFeature), args.Error(1)
}

func (m *catalogMock) CreatePlan(context.Context, catalogdomain.CreatePlanRequest) (*catalogdomain.Plan, error) {
	return nil, nil
}
func (m *catalogMock) GetPlan(context.Context, snowflake.ID) (*catalogdomain.Plan, error) {
	return nil, nil
}
func (m *catalogMock) ListPlans(context.Context, bool) ([]catalogdomain.Plan, error) { return nil, nil }
func (m *catalogMock) DeactivatePlan(context.Context, snowflake.ID) error            { return nil }
func (m *catalogMock) CreateFeature(context.Context, string, string, string) (*catalogdomain.Feature, error) {
	return nil, nil
}
func (m *catalogMock) ListFeatures(context.Context) ([]catalogdomain.Feature, error) {
	return nil, nil
}
func (m *catalogMock) SetPlanFeature(context.Context, snowflake.ID, catalogdomain.SetPlanFeatureRequest) (*catalogdomain.PlanFeature, error) {
	return nil, nil
}
func (m *catalogMock) ListPlanFeatures(context.Context, snowflake.ID) ([]catalogdomain.PlanFeature, error) {
	return nil, nil
}
func (m *catalogMock) UpsertPrice(context.Context, snowflake.ID, catalogdomain.UpsertPriceRequest) (*catalogdomain.PlanPrice, error) {
	return nil, nil
}
func (m *catalogMock) GetActivePrice(context.Context, snowflake.ID) (*catalogdomain.PlanPrice, error) {
	return nil, nil
}
func (m *catalogMock) CreateProductMapping(context.Context, string, snowflake.ID) (*catalogdomain.ProductMapping, error) {
	return nil, nil
}
func (m *catalogMock) ResolvePlanByProduct(context.Context, string) (*catalogdomain.Plan, error) {
	return nil, nil
}

func openUsageDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	db.Exec("PRAGMA busy_timeout = 5000")

	statements := []string{
		`CREATE TABLE usage_events (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			feature_key TEXT NOT NULL,
			units INTEGER NOT NULL,
			idempotency_key TEXT NOT NULL,
			metadata TEXT,
			recorded_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_usage_events_idem
			ON usage_events (tenant_id, feature_key, idempotency_key)`,
		`CREATE TABLE usage_aggregates (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			feature_key TEXT NOT NULL,
			period DATETIME NOT NULL,
			units_used INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_usage_aggregates
			ON usage_aggregates (tenant_id, feature_key, period)`,
		`CREATE TABLE usage_overage_fees (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			period DATETIME NOT NULL,
			feature_key TEXT NOT NULL,
			units_used INTEGER NOT NULL,
			included_units INTEGER NOT NULL,
			overage_units INTEGER NOT NULL,
			unit_price INTEGER NOT NULL,
			total INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_usage_overage_fees
			ON usage_overage_fees (tenant_id, period, feature_key)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatal(err)
		}
	}
	return db
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatal(err)
	}
	return node
}

func newUsageService(db *gorm.DB, node *snowflake.Node, clk clock.Clock, catalogSvc catalogdomain.Service) usagedomain.Service {
	return NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		CatalogSvc: catalogSvc,
	})
}

func TestRecord_IdempotentAggregates(t *testing.T) {
	db := openUsageDB(t, "usage_idem")
	node := mustNode(t)
	now := time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)
	svc := newUsageService(db, node, clock.NewFakeClock(now), new(catalogMock))

	tenantID := node.Generate()
	req := usagedomain.RecordRequest{
		TenantID:       tenantID,
		FeatureKey:     "api_calls",
		Units:          5,
		IdempotencyKey: "evt_1",
	}

	first, err := svc.Record(context.Background(), req)
	assert.NoError(t, err)
	assert.NotNil(t, first)

	second, err := svc.Record(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	aggregate, err := svc.GetAggregate(context.Background(), tenantID, "api_calls", now)
	assert.NoError(t, err)
	assert.NotNil(t, aggregate)
	assert.Equal(t, int64(5), aggregate.UnitsUsed)
}

func TestRecord_ConcurrentSameKey(t *testing.T) {
	db := openUsageDB(t, "usage_concurrent")
	node := mustNode(t)
	now := time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)
	svc := newUsageService(db, node, clock.NewFakeClock(now), new(catalogMock))

	tenantID := node.Generate()

	const workers = 3
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Record(context.Background(), usagedomain.RecordRequest{
				TenantID:       tenantID,
				FeatureKey:     "api_calls",
				Units:          5,
				IdempotencyKey: "race_key",
			})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Record failed: %v", err)
	}

	var eventCount int64
	db.Raw(`SELECT COUNT(1) FROM usage_events WHERE tenant_id = ?`, tenantID).Scan(&eventCount)
	assert.Equal(t, int64(1), eventCount)

	aggregate, err := svc.GetAggregate(context.Background(), tenantID, "api_calls", now)
	assert.NoError(t, err)
	assert.NotNil(t, aggregate)
	assert.Equal(t, int64(5), aggregate.UnitsUsed)
}

func TestRecord_DistinctKeysAccumulate(t *testing.T) {
	db := openUsageDB(t, "usage_accumulate")
	node := mustNode(t)
	now := time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)
	svc := newUsageService(db, node, clock.NewFakeClock(now), new(catalogMock))

	tenantID := node.Generate()
	for _, key := range []string{"a", "b", "c"} {
		_, err := svc.Record(context.Background(), usagedomain.RecordRequest{
			TenantID:       tenantID,
			FeatureKey:     "api_calls",
			Units:          10,
			IdempotencyKey: key,
		})
		assert.NoError(t, err)
	}

	aggregate, err := svc.GetAggregate(context.Background(), tenantID, "api_calls", now)
	assert.NoError(t, err)
	assert.Equal(t, int64(30), aggregate.UnitsUsed)
}

func TestRecord_CrossTenantIsolation(t *testing.T) {
	db := openUsageDB(t, "usage_isolation")
	node := mustNode(t)
	now := time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)
	svc := newUsageService(db, node, clock.NewFakeClock(now), new(catalogMock))

	tenantA := node.Generate()
	tenantB := node.Generate()

	for _, tenantID := range []snowflake.ID{tenantA, tenantB} {
		_, err := svc.Record(context.Background(), usagedomain.RecordRequest{
			TenantID:       tenantID,
			FeatureKey:     "api_calls",
			Units:          7,
			IdempotencyKey: "shared_key",
		})
		assert.NoError(t, err)
	}

	aggA, err := svc.GetAggregate(context.Background(), tenantA, "api_calls", now)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), aggA.UnitsUsed)

	aggB, err := svc.GetAggregate(context.Background(), tenantB, "api_calls", now)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), aggB.UnitsUsed)
}

func TestCloseOveragePeriod(t *testing.T) {
	db := openUsageDB(t, "usage_overage")
	node := mustNode(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)

	tenantID := node.Generate()
	planID := node.Generate()

	catalogSvc := new(catalogMock)
	catalogSvc.On("GetActivePlanFeature", mock.Anything, tenantID, "api_calls").Return(&catalogdomain.PlanFeature{
		PlanID:        planID,
		FeatureKey:    "api_calls",
		IncludedUnits: 100,
		OveragePrice:  3,
	}, nil)
	catalogSvc.On("GetActivePlanFeature", mock.Anything, tenantID, "storage_gb").Return(&catalogdomain.PlanFeature{
		PlanID:        planID,
		FeatureKey:    "storage_gb",
		IncludedUnits: catalogdomain.UnlimitedUnits,
	}, nil)
	catalogSvc.On("GetActivePlanFeature", mock.Anything, tenantID, "exports").Return(nil, catalogdomain.ErrFeatureNotInPlan)

	svc := newUsageService(db, node, clk, catalogSvc)

	period := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	recordedAt := period.Add(72 * time.Hour)

	seed := []struct {
		feature string
		units   int64
		key     string
	}{
		{"api_calls", 130, "k1"},
		{"storage_gb", 9000, "k2"},
		{"exports", 12, "k3"},
	}
	for _, s := range seed {
		_, err := svc.Record(context.Background(), usagedomain.RecordRequest{
			TenantID:       tenantID,
			FeatureKey:     s.feature,
			Units:          s.units,
			IdempotencyKey: s.key,
			RecordedAt:     recordedAt,
		})
		assert.NoError(t, err)
	}

	fees, err := svc.CloseOveragePeriod(context.Background(), tenantID, period)
	assert.NoError(t, err)
	assert.Len(t, fees, 1)
	assert.Equal(t, "api_calls", fees[0].FeatureKey)
	assert.Equal(t, int64(30), fees[0].OverageUnits)
	assert.Equal(t, int64(90), fees[0].Total)

	// Close again: no duplicate fee rows.
	fees, err = svc.CloseOveragePeriod(context.Background(), tenantID, period)
	assert.NoError(t, err)
	assert.Len(t, fees, 1)

	var count int64
	db.Raw(`SELECT COUNT(1) FROM usage_overage_fees WHERE tenant_id = ?`, tenantID).Scan(&count)
	assert.Equal(t, int64(1), count)
}

func TestRecord_Validation(t *testing.T) {
	db := openUsageDB(t, "usage_validation")
	node := mustNode(t)
	svc := newUsageService(db, node, clock.NewFakeClock(time.Now().UTC()), new(catalogMock))

	tenantID := node.Generate()

	_, err := svc.Record(context.Background(), usagedomain.RecordRequest{
		TenantID:       tenantID,
		FeatureKey:     "",
		Units:          1,
		IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidFeature)

	_, err = svc.Record(context.Background(), usagedomain.RecordRequest{
		TenantID:       tenantID,
		FeatureKey:     "api_calls",
		Units:          0,
		IdempotencyKey: "k",
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidUnits)

	_, err = svc.Record(context.Background(), usagedomain.RecordRequest{
		TenantID:   tenantID,
		FeatureKey: "api_calls",
		Units:      1,
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidIdempotencyKey)
}
