package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/stratus/internal/catalog/domain"
	"github.com/smallbiznis/stratus/internal/clock"
	obsmetrics "github.com/smallbiznis/stratus/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/stratus/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	CatalogSvc catalogdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	catalogSvc catalogdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		catalogSvc: p.CatalogSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.UsageEvent, error) {
	if req.TenantID == 0 {
		return nil, usagedomain.ErrInvalidTenant
	}
	featureKey := strings.TrimSpace(req.FeatureKey)
	if featureKey == "" {
		return nil, usagedomain.ErrInvalidFeature
	}
	if req.Units <= 0 {
		return nil, usagedomain.ErrInvalidUnits
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, usagedomain.ErrInvalidIdempotencyKey
	}

	now := s.clock.Now()
	recordedAt := req.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = now
	}
	recordedAt = recordedAt.UTC()
	period := usagedomain.PeriodOf(recordedAt)

	event := usagedomain.UsageEvent{
		ID:             s.genID.Generate(),
		TenantID:       req.TenantID,
		FeatureKey:     featureKey,
		Units:          req.Units,
		IdempotencyKey: key,
		Metadata:       datatypes.JSONMap(req.Metadata),
		RecordedAt:     recordedAt,
		CreatedAt:      now,
	}

	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.WithContext(ctx).Exec(
			`INSERT INTO usage_events (
				id, tenant_id, feature_key, units, idempotency_key, metadata,
				recorded_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, feature_key, idempotency_key) DO NOTHING`,
			event.ID,
			event.TenantID,
			event.FeatureKey,
			event.Units,
			event.IdempotencyKey,
			event.Metadata,
			event.RecordedAt,
			event.CreatedAt,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		inserted = true

		return tx.WithContext(ctx).Exec(
			`INSERT INTO usage_aggregates (
				id, tenant_id, feature_key, period, units_used, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, feature_key, period) DO UPDATE SET
				units_used = usage_aggregates.units_used + excluded.units_used,
				updated_at = excluded.updated_at`,
			s.genID.Generate(),
			req.TenantID,
			featureKey,
			period,
			req.Units,
			now,
			now,
		).Error
	})
	if err != nil {
		return nil, err
	}

	if !inserted {
		if s.obsMetrics != nil {
			s.obsMetrics.UsageEventsIngested.WithLabelValues("duplicate").Inc()
		}
		return s.findByIdempotencyKey(ctx, req.TenantID, featureKey, key)
	}
	if s.obsMetrics != nil {
		s.obsMetrics.UsageEventsIngested.WithLabelValues("inserted").Inc()
	}
	return &event, nil
}

func (s *Service) GetAggregate(ctx context.Context, tenantID snowflake.ID, featureKey string, period time.Time) (*usagedomain.UsageAggregate, error) {
	if tenantID == 0 {
		return nil, usagedomain.ErrInvalidTenant
	}
	featureKey = strings.TrimSpace(featureKey)
	if featureKey == "" {
		return nil, usagedomain.ErrInvalidFeature
	}

	var aggregate usagedomain.UsageAggregate
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND feature_key = ? AND period = ?", tenantID, featureKey, usagedomain.PeriodOf(period)).
		First(&aggregate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &aggregate, nil
}

func (s *Service) ListAggregates(ctx context.Context, tenantID snowflake.ID, period time.Time) ([]usagedomain.UsageAggregate, error) {
	if tenantID == 0 {
		return nil, usagedomain.ErrInvalidTenant
	}
	var aggregates []usagedomain.UsageAggregate
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND period = ?", tenantID, usagedomain.PeriodOf(period)).
		Order("feature_key asc").
		Find(&aggregates).Error
	if err != nil {
		return nil, err
	}
	return aggregates, nil
}

func (s *Service) ListEvents(ctx context.Context, tenantID snowflake.ID, featureKey string, limit int) ([]usagedomain.UsageEvent, error) {
	if tenantID == 0 {
		return nil, usagedomain.ErrInvalidTenant
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 250 {
		limit = 250
	}

	stmt := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if featureKey = strings.TrimSpace(featureKey); featureKey != "" {
		stmt = stmt.Where("feature_key = ?", featureKey)
	}

	var events []usagedomain.UsageEvent
	err := stmt.Order("recorded_at desc, id desc").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Service) ListOverageFees(ctx context.Context, tenantID snowflake.ID, period time.Time) ([]usagedomain.OverageFee, error) {
	if tenantID == 0 {
		return nil, usagedomain.ErrInvalidTenant
	}
	var fees []usagedomain.OverageFee
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND period = ?", tenantID, usagedomain.PeriodOf(period)).
		Order("feature_key asc").
		Find(&fees).Error
	if err != nil {
		return nil, err
	}
	return fees, nil
}

// CloseOveragePeriod turns a period's aggregates into fee line items. Safe
// to run repeatedly: the unique index skips fees already written.
func (s *Service) CloseOveragePeriod(ctx context.Context, tenantID snowflake.ID, period time.Time) ([]usagedomain.OverageFee, error) {
	if tenantID == 0 {
		return nil, usagedomain.ErrInvalidTenant
	}
	if period.IsZero() {
		return nil, usagedomain.ErrInvalidPeriod
	}
	period = usagedomain.PeriodOf(period)

	aggregates, err := s.ListAggregates(ctx, tenantID, period)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	for _, aggregate := range aggregates {
		pf, err := s.catalogSvc.GetActivePlanFeature(ctx, tenantID, aggregate.FeatureKey)
		if err != nil {
			if errors.Is(err, catalogdomain.ErrNoActiveSubscription) || errors.Is(err, catalogdomain.ErrFeatureNotInPlan) {
				continue
			}
			return nil, err
		}
		if pf.IncludedUnits == catalogdomain.UnlimitedUnits {
			continue
		}
		if pf.OveragePrice <= 0 {
			continue
		}
		overage := aggregate.UnitsUsed - pf.IncludedUnits
		if overage <= 0 {
			continue
		}

		result := s.db.WithContext(ctx).Exec(
			`INSERT INTO usage_overage_fees (
				id, tenant_id, period, feature_key, units_used, included_units,
				overage_units, unit_price, total, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, period, feature_key) DO NOTHING`,
			s.genID.Generate(),
			tenantID,
			period,
			aggregate.FeatureKey,
			aggregate.UnitsUsed,
			pf.IncludedUnits,
			overage,
			pf.OveragePrice,
			overage*pf.OveragePrice,
			now,
		)
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected > 0 && s.obsMetrics != nil {
			s.obsMetrics.OverageFeesRecorded.Inc()
		}
	}

	return s.ListOverageFees(ctx, tenantID, period)
}

func (s *Service) findByIdempotencyKey(ctx context.Context, tenantID snowflake.ID, featureKey, key string) (*usagedomain.UsageEvent, error) {
	var event usagedomain.UsageEvent
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND feature_key = ? AND idempotency_key = ?", tenantID, featureKey, key).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}
