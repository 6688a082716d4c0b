package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	catalogdomain "github.com/smallbiznis/stratus/internal/catalog/domain"
	"github.com/smallbiznis/stratus/internal/clock"
	"github.com/smallbiznis/stratus/internal/config"
	ledgerdomain "github.com/smallbiznis/stratus/internal/ledger/domain"
	usagedomain "github.com/smallbiznis/stratus/internal/usage/domain"
)

type catalogStub struct {
	pf  *catalogdomain.PlanFeature
	err error
}

func (s catalogStub) GetActivePlanFeature(context.Context, snowflake.ID, string) (*catalogdomain.PlanFeature, error) {
	return s.pf, s.err
}
func (s catalogStub) CreatePlan(context.Context, catalogdomain.CreatePlanRequest) (*catalogdomain.Plan, error) {
	return nil, nil
}
func (s catalogStub) GetPlan(context.Context, snowflake.ID) (*catalogdomain.Plan, error) {
	return nil, nil
}
func (s catalogStub) ListPlans(context.Context, bool) ([]catalogdomain.Plan, error) { return nil, nil }
func (s catalogStub) DeactivatePlan(context.Context, snowflake.ID) error            { return nil }
func (s catalogStub) CreateFeature(context.Context, string, string, string) (*catalogdomain.Feature, error) {
	return nil, nil
}
func (s catalogStub) ListFeatures(context.Context) ([]catalogdomain.Feature, error) { return nil, nil }
func (s catalogStub) SetPlanFeature(context.Context, snowflake.ID, catalogdomain.SetPlanFeatureRequest) (*catalogdomain.PlanFeature, error) {
	return nil, nil
}
func (s catalogStub) ListPlanFeatures(context.Context, snowflake.ID) ([]catalogdomain.PlanFeature, error) {
	return nil, nil
}
func (s catalogStub) UpsertPrice(context.Context, snowflake.ID, catalogdomain.UpsertPriceRequest) (*catalogdomain.PlanPrice, error) {
	return nil, nil
}
func (s catalogStub) GetActivePrice(context.Context, snowflake.ID) (*catalogdomain.PlanPrice, error) {
	return nil, nil
}
func (s catalogStub) CreateProductMapping(context.Context, string, snowflake.ID) (*catalogdomain.ProductMapping, error) {
	return nil, nil
}
func (s catalogStub) ResolvePlanByProduct(context.Context, string) (*catalogdomain.Plan, error) {
	return nil, nil
}

type usageMock struct {
	mock.Mock
}

func (m *usageMock) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.UsageEvent, error) {
	args := m.Called(ctx, req)
	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}
	return res.(*usagedomain.UsageEvent), args.Error(1)
}

func (m *usageMock) GetAggregate(ctx context.Context, tenantID snowflake.ID, featureKey string, period time.Time) (*usagedomain.UsageAggregate, error) {
	args := m.Called(ctx, tenantID, featureKey, period)
	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}
	return res.(*usagedomain.UsageAggregate), args.Error(1)
}

func (m *usageMock) ListAggregates(context.Context, snowflake.ID, time.Time) ([]usagedomain.UsageAggregate, error) {
	return nil, nil
}
func (m *usageMock) ListEvents(context.Context, snowflake.ID, string, int) ([]usagedomain.UsageEvent, error) {
	return nil, nil
}
func (m *usageMock) ListOverageFees(context.Context, snowflake.ID, time.Time) ([]usagedomain.OverageFee, error) {
	return nil, nil
}
func (m *usageMock) CloseOveragePeriod(context.Context, snowflake.ID, time.Time) ([]usagedomain.OverageFee, error) {
	return nil, nil
}

type ledgerStub struct {
	balance int64
}

func (s ledgerStub) AddCredits(context.Context, ledgerdomain.AddCreditsRequest) (*ledgerdomain.CreditEntry, error) {
	return nil, nil
}
func (s ledgerStub) Balance(context.Context, snowflake.ID) (int64, error) {
	return s.balance, nil
}
func (s ledgerStub) ListEntries(context.Context, snowflake.ID, int) ([]ledgerdomain.CreditEntry, error) {
	return nil, nil
}

func newTestService(pf *catalogdomain.PlanFeature, pfErr error, usageSvc usagedomain.Service, balance int64, creditPool bool) Service {
	return NewService(Params{
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)),
		CatalogSvc: catalogStub{pf: pf, err: pfErr},
		UsageSvc:   usageSvc,
		LedgerSvc:  ledgerStub{balance: balance},
		Billing: config.NewStaticBillingConfigHolder(config.BillingConfig{
			CreditPoolEnabled:    creditPool,
			PeriodCloseGraceDays: 3,
			PeriodCloseBatchSize: 100,
		}),
	})
}

func TestCheck_Unlimited(t *testing.T) {
	usageSvc := new(usageMock)
	svc := newTestService(&catalogdomain.PlanFeature{IncludedUnits: catalogdomain.UnlimitedUnits}, nil, usageSvc, 0, true)

	node, _ := snowflake.NewNode(3)
	decision, err := svc.Check(context.Background(), node.Generate(), "api_calls", 1_000_000)
	assert.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.True(t, decision.Unlimited)
	usageSvc.AssertNotCalled(t, "GetAggregate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheck_WithinLimit(t *testing.T) {
	node, _ := snowflake.NewNode(3)
	tenantID := node.Generate()

	usageSvc := new(usageMock)
	usageSvc.On("GetAggregate", mock.Anything, tenantID, "api_calls", mock.Anything).Return(&usagedomain.UsageAggregate{UnitsUsed: 40}, nil)

	svc := newTestService(&catalogdomain.PlanFeature{IncludedUnits: 100}, nil, usageSvc, 0, true)

	decision, err := svc.Check(context.Background(), tenantID, "api_calls", 10)
	assert.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(60), decision.Remaining)
}

func TestCheck_OverLimitDenied(t *testing.T) {
	node, _ := snowflake.NewNode(3)
	tenantID := node.Generate()

	usageSvc := new(usageMock)
	usageSvc.On("GetAggregate", mock.Anything, tenantID, "api_calls", mock.Anything).Return(&usagedomain.UsageAggregate{UnitsUsed: 95}, nil)

	svc := newTestService(&catalogdomain.PlanFeature{IncludedUnits: 100}, nil, usageSvc, 0, true)

	decision, err := svc.Check(context.Background(), tenantID, "api_calls", 10)
	assert.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, int64(5), decision.Remaining)
}

func TestCheck_CreditPoolExtendsLimit(t *testing.T) {
	node, _ := snowflake.NewNode(3)
	tenantID := node.Generate()

	usageSvc := new(usageMock)
	usageSvc.On("GetAggregate", mock.Anything, tenantID, "api_calls", mock.Anything).Return(&usagedomain.UsageAggregate{UnitsUsed: 95}, nil)

	svc := newTestService(&catalogdomain.PlanFeature{IncludedUnits: 100}, nil, usageSvc, 50, true)
	decision, err := svc.Check(context.Background(), tenantID, "api_calls", 10)
	assert.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(55), decision.Remaining)

	// Same scenario with the pool switched off is denied.
	svc = newTestService(&catalogdomain.PlanFeature{IncludedUnits: 100}, nil, usageSvc, 50, false)
	decision, err = svc.Check(context.Background(), tenantID, "api_calls", 10)
	assert.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestCheck_NotEntitled(t *testing.T) {
	node, _ := snowflake.NewNode(3)

	svc := newTestService(nil, catalogdomain.ErrFeatureNotInPlan, new(usageMock), 0, true)
	_, err := svc.Check(context.Background(), node.Generate(), "api_calls", 1)
	assert.ErrorIs(t, err, ErrFeatureNotEntitled)

	svc = newTestService(nil, catalogdomain.ErrNoActiveSubscription, new(usageMock), 0, true)
	_, err = svc.Check(context.Background(), node.Generate(), "api_calls", 1)
	assert.ErrorIs(t, err, ErrFeatureNotEntitled)
}

func TestCheckAndRecord(t *testing.T) {
	node, _ := snowflake.NewNode(3)
	tenantID := node.Generate()

	usageSvc := new(usageMock)
	usageSvc.On("GetAggregate", mock.Anything, tenantID, "api_calls", mock.Anything).Return(&usagedomain.UsageAggregate{UnitsUsed: 10}, nil)
	usageSvc.On("Record", mock.Anything, mock.MatchedBy(func(req usagedomain.RecordRequest) bool {
		return req.TenantID == tenantID && req.Units == 5 && req.IdempotencyKey == "call_1"
	})).Return(&usagedomain.UsageEvent{ID: node.Generate(), Units: 5}, nil)

	svc := newTestService(&catalogdomain.PlanFeature{IncludedUnits: 100}, nil, usageSvc, 0, true)

	decision, event, err := svc.CheckAndRecord(context.Background(), tenantID, "api_calls", 5, "call_1")
	assert.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.NotNil(t, event)
	usageSvc.AssertExpectations(t)
}

func TestCheckAndRecord_DeniedSkipsRecord(t *testing.T) {
	node, _ := snowflake.NewNode(3)
	tenantID := node.Generate()

	usageSvc := new(usageMock)
	usageSvc.On("GetAggregate", mock.Anything, tenantID, "api_calls", mock.Anything).Return(&usagedomain.UsageAggregate{UnitsUsed: 100}, nil)

	svc := newTestService(&catalogdomain.PlanFeature{IncludedUnits: 100}, nil, usageSvc, 0, false)

	decision, event, err := svc.CheckAndRecord(context.Background(), tenantID, "api_calls", 1, "call_2")
	assert.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Nil(t, event)
	usageSvc.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}
