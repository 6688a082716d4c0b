package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/stratus/internal/audit/domain"
	"github.com/smallbiznis/stratus/internal/cache"
	"github.com/smallbiznis/stratus/internal/clock"
	ledgerdomain "github.com/smallbiznis/stratus/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/stratus/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const balanceCacheTTL = 5 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	balances   cache.Cache[snowflake.ID, int64]
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		balances:   cache.NewTTLCache[snowflake.ID, int64](),
	}
}

func (s *Service) AddCredits(ctx context.Context, req ledgerdomain.AddCreditsRequest) (*ledgerdomain.CreditEntry, error) {
	if req.TenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	if req.Delta == 0 {
		return nil, ledgerdomain.ErrInvalidDelta
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, ledgerdomain.ErrInvalidReason
	}
	source, err := normalizeSource(req.Source)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, ledgerdomain.ErrInvalidIdempotencyKey
	}

	now := s.clock.Now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, ledgerdomain.ErrInvalidExpiry
	}

	entry := ledgerdomain.CreditEntry{
		ID:             s.genID.Generate(),
		TenantID:       req.TenantID,
		Delta:          req.Delta,
		Reason:         reason,
		Source:         source,
		IdempotencyKey: key,
		ReferenceType:  normalizePointer(req.ReferenceType),
		ReferenceID:    normalizePointer(req.ReferenceID),
		Metadata:       datatypes.JSONMap(req.Metadata),
		ExpiresAt:      normalizeExpiry(req.ExpiresAt),
		CreatedAt:      now,
	}

	result := s.db.WithContext(ctx).Exec(
		`INSERT INTO tenant_credit_ledgers (
			id, tenant_id, delta, reason, source, idempotency_key,
			reference_type, reference_id, metadata, expires_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING`,
		entry.ID,
		entry.TenantID,
		entry.Delta,
		entry.Reason,
		entry.Source,
		entry.IdempotencyKey,
		entry.ReferenceType,
		entry.ReferenceID,
		entry.Metadata,
		entry.ExpiresAt,
		entry.CreatedAt,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return s.findByIdempotencyKey(ctx, req.TenantID, key)
	}

	s.balances.Delete(req.TenantID)
	if s.obsMetrics != nil {
		s.obsMetrics.LedgerEntriesWritten.WithLabelValues(reason).Inc()
	}

	entryIDStr := entry.ID.String()
	if err := s.auditSvc.AuditLog(ctx, &req.TenantID, "", nil, "ledger.credits_added", "credit_entry", &entryIDStr, map[string]any{
		"delta":           req.Delta,
		"reason":          reason,
		"source":          string(source),
		"idempotency_key": key,
	}); err != nil {
		s.log.Warn("failed to write ledger audit log", zap.Error(err))
	}

	return &entry, nil
}

func (s *Service) Balance(ctx context.Context, tenantID snowflake.ID) (int64, error) {
	if tenantID == 0 {
		return 0, ledgerdomain.ErrInvalidTenant
	}

	if balance, ok := s.balances.Get(tenantID); ok {
		return balance, nil
	}

	var balance int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(delta), 0)
		 FROM tenant_credit_ledgers
		 WHERE tenant_id = ?
		   AND (expires_at IS NULL OR expires_at > ?)`,
		tenantID,
		s.clock.Now(),
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}

	s.balances.Set(tenantID, balance, balanceCacheTTL)
	return balance, nil
}

func (s *Service) ListEntries(ctx context.Context, tenantID snowflake.ID, limit int) ([]ledgerdomain.CreditEntry, error) {
	if tenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 250 {
		limit = 250
	}

	var entries []ledgerdomain.CreditEntry
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) findByIdempotencyKey(ctx context.Context, tenantID snowflake.ID, key string) (*ledgerdomain.CreditEntry, error) {
	var entry ledgerdomain.CreditEntry
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func normalizeSource(source ledgerdomain.CreditSource) (ledgerdomain.CreditSource, error) {
	normalized := ledgerdomain.CreditSource(strings.ToLower(strings.TrimSpace(string(source))))
	switch normalized {
	case ledgerdomain.SourceBilling, ledgerdomain.SourceAdmin, ledgerdomain.SourcePromo:
		return normalized, nil
	default:
		return "", ledgerdomain.ErrInvalidSource
	}
}

func normalizeExpiry(expiresAt *time.Time) *time.Time {
	if expiresAt == nil {
		return nil
	}
	utc := expiresAt.UTC()
	return &utc
}

func normalizePointer(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
