package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type RecordRequest struct {
	TenantID       snowflake.ID
	FeatureKey     string
	Units          int64
	IdempotencyKey string
	Metadata       map[string]any
	RecordedAt     time.Time
}

type Service interface {
	Record(ctx context.Context, req RecordRequest) (*UsageEvent, error)
	GetAggregate(ctx context.Context, tenantID snowflake.ID, featureKey string, period time.Time) (*UsageAggregate, error)
	ListAggregates(ctx context.Context, tenantID snowflake.ID, period time.Time) ([]UsageAggregate, error)
	ListEvents(ctx context.Context, tenantID snowflake.ID, featureKey string, limit int) ([]UsageEvent, error)
	ListOverageFees(ctx context.Context, tenantID snowflake.ID, period time.Time) ([]OverageFee, error)
	CloseOveragePeriod(ctx context.Context, tenantID snowflake.ID, period time.Time) ([]OverageFee, error)
}

var (
	ErrInvalidTenant         = errors.New("invalid_tenant")
	ErrInvalidFeature        = errors.New("invalid_feature")
	ErrInvalidUnits          = errors.New("invalid_units")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrInvalidPeriod         = errors.New("invalid_period")
)
