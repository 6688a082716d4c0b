package entitlement

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/stratus/internal/catalog/domain"
	"github.com/smallbiznis/stratus/internal/clock"
	"github.com/smallbiznis/stratus/internal/config"
	ledgerdomain "github.com/smallbiznis/stratus/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/stratus/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/stratus/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Decision is advisory. Two racing checks can both pass; the period close
// settles any resulting overage instead of blocking the request path.
type Decision struct {
	Allowed   bool  `json:"allowed"`
	Unlimited bool  `json:"unlimited"`
	Remaining int64 `json:"remaining"`
}

type Service interface {
	Check(ctx context.Context, tenantID snowflake.ID, featureKey string, requestedUnits int64) (Decision, error)
	CheckAndRecord(ctx context.Context, tenantID snowflake.ID, featureKey string, requestedUnits int64, idempotencyKey string) (Decision, *usagedomain.UsageEvent, error)
}

var (
	ErrInvalidTenant      = errors.New("invalid_tenant")
	ErrInvalidFeature     = errors.New("invalid_feature")
	ErrInvalidUnits       = errors.New("invalid_units")
	ErrFeatureNotEntitled = errors.New("feature_not_entitled")
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	CatalogSvc catalogdomain.Service
	UsageSvc   usagedomain.Service
	LedgerSvc  ledgerdomain.Service
	Billing    *config.BillingConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	log        *zap.Logger
	clock      clock.Clock
	catalogSvc catalogdomain.Service
	usageSvc   usagedomain.Service
	ledgerSvc  ledgerdomain.Service
	billing    *config.BillingConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) Service {
	return &service{
		log:        p.Log.Named("entitlement.service"),
		clock:      p.Clock,
		catalogSvc: p.CatalogSvc,
		usageSvc:   p.UsageSvc,
		ledgerSvc:  p.LedgerSvc,
		billing:    p.Billing,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *service) Check(ctx context.Context, tenantID snowflake.ID, featureKey string, requestedUnits int64) (Decision, error) {
	decision, err := s.check(ctx, tenantID, featureKey, requestedUnits)
	s.observe(featureKey, decision, err)
	return decision, err
}

func (s *service) CheckAndRecord(ctx context.Context, tenantID snowflake.ID, featureKey string, requestedUnits int64, idempotencyKey string) (Decision, *usagedomain.UsageEvent, error) {
	decision, err := s.check(ctx, tenantID, featureKey, requestedUnits)
	s.observe(featureKey, decision, err)
	if err != nil {
		return decision, nil, err
	}
	if !decision.Allowed {
		return decision, nil, nil
	}

	event, err := s.usageSvc.Record(ctx, usagedomain.RecordRequest{
		TenantID:       tenantID,
		FeatureKey:     featureKey,
		Units:          requestedUnits,
		IdempotencyKey: idempotencyKey,
		RecordedAt:     s.clock.Now(),
	})
	if err != nil {
		return decision, nil, err
	}
	return decision, event, nil
}

func (s *service) check(ctx context.Context, tenantID snowflake.ID, featureKey string, requestedUnits int64) (Decision, error) {
	if tenantID == 0 {
		return Decision{}, ErrInvalidTenant
	}
	featureKey = strings.TrimSpace(featureKey)
	if featureKey == "" {
		return Decision{}, ErrInvalidFeature
	}
	if requestedUnits <= 0 {
		return Decision{}, ErrInvalidUnits
	}

	pf, err := s.catalogSvc.GetActivePlanFeature(ctx, tenantID, featureKey)
	if err != nil {
		if errors.Is(err, catalogdomain.ErrNoActiveSubscription) || errors.Is(err, catalogdomain.ErrFeatureNotInPlan) {
			return Decision{}, ErrFeatureNotEntitled
		}
		return Decision{}, err
	}

	if pf.IncludedUnits == catalogdomain.UnlimitedUnits {
		return Decision{Allowed: true, Unlimited: true, Remaining: 0}, nil
	}

	limit := pf.IncludedUnits
	if s.billing.Get().CreditPoolEnabled {
		balance, err := s.ledgerSvc.Balance(ctx, tenantID)
		if err != nil {
			return Decision{}, err
		}
		if balance > 0 {
			limit += balance
		}
	}

	var used int64
	aggregate, err := s.usageSvc.GetAggregate(ctx, tenantID, featureKey, s.clock.Now())
	if err != nil {
		return Decision{}, err
	}
	if aggregate != nil {
		used = aggregate.UnitsUsed
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   used+requestedUnits <= limit,
		Remaining: remaining,
	}, nil
}

func (s *service) observe(featureKey string, decision Decision, err error) {
	if s.obsMetrics == nil {
		return
	}
	outcome := "allowed"
	switch {
	case errors.Is(err, ErrFeatureNotEntitled):
		outcome = "not_entitled"
	case err != nil:
		outcome = "error"
	case !decision.Allowed:
		outcome = "denied"
	}
	s.obsMetrics.EntitlementDecisions.WithLabelValues(featureKey, outcome).Inc()
}
