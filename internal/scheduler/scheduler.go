package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/stratus/internal/audit/domain"
	"github.com/smallbiznis/stratus/internal/clock"
	stratusconfig "github.com/smallbiznis/stratus/internal/config"
	usagedomain "github.com/smallbiznis/stratus/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler requires db, log, usage service and clock")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	UsageSvc usagedomain.Service
	AuditSvc auditdomain.Service `optional:"true"`
	Billing  *stratusconfig.BillingConfigHolder
	Clock    clock.Clock
	Config   Config `optional:"true"`
}

type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	usageSvc usagedomain.Service
	auditSvc auditdomain.Service
	billing  *stratusconfig.BillingConfigHolder

	lastClosedPeriod time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.UsageSvc == nil || p.Billing == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		usageSvc: p.UsageSvc,
		auditSvc: p.AuditSvc,
		billing:  p.Billing,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	err := fn(ctx)
	log.Debug("job finished", zap.Duration("elapsed", time.Since(start)))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, "close_overage_period", s.cfg.JobTimeout, s.ClosePeriodsJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ClosePeriodsJob closes the previous usage period once the grace window
// into the new month has passed. The underlying close is idempotent, so the
// in-memory skip only saves work; a restart simply re-runs a no-op close.
func (s *Scheduler) ClosePeriodsJob(ctx context.Context) error {
	now := s.clock.Now().UTC()
	billingCfg := s.billing.Get()

	period := usagedomain.PreviousPeriod(now)
	boundary := usagedomain.PeriodOf(now).AddDate(0, 0, billingCfg.PeriodCloseGraceDays)
	if now.Before(boundary) {
		return nil
	}
	if period.Equal(s.lastClosedPeriod) {
		return nil
	}

	return s.withCloseLock(ctx, func(ctx context.Context) error {
		if err := s.closePeriod(ctx, period, billingCfg.PeriodCloseBatchSize); err != nil {
			return err
		}
		s.lastClosedPeriod = period

		if s.auditSvc != nil {
			targetID := period.Format("2006-01")
			_ = s.auditSvc.AuditLog(ctx, nil, string(auditdomain.ActorTypeSystem), nil, "usage.period_closed", "usage_period", &targetID, map[string]any{
				"period": period.Format(time.RFC3339),
			})
		}
		return nil
	})
}

func (s *Scheduler) closePeriod(ctx context.Context, period time.Time, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 100
	}

	var lastTenantID snowflake.ID
	for {
		tenants, err := s.tenantsWithAggregates(ctx, period, lastTenantID, batchSize)
		if err != nil {
			return err
		}
		if len(tenants) == 0 {
			return nil
		}

		for _, tenantID := range tenants {
			if _, err := s.usageSvc.CloseOveragePeriod(ctx, tenantID, period); err != nil {
				s.log.Warn("period close failed for tenant",
					zap.String("tenant_id", tenantID.String()),
					zap.Time("period", period),
					zap.Error(err),
				)
				continue
			}
			lastTenantID = tenantID
		}
		if len(tenants) < batchSize {
			return nil
		}
		lastTenantID = tenants[len(tenants)-1]
	}
}

func (s *Scheduler) tenantsWithAggregates(ctx context.Context, period time.Time, afterTenantID snowflake.ID, limit int) ([]snowflake.ID, error) {
	var rows []struct {
		TenantID snowflake.ID `gorm:"column:tenant_id"`
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT tenant_id
		 FROM usage_aggregates
		 WHERE period = ? AND tenant_id > ?
		 ORDER BY tenant_id
		 LIMIT ?`,
		period,
		afterTenantID,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	tenants := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		tenants = append(tenants, row.TenantID)
	}
	return tenants, nil
}
