package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type CreditSource string

const (
	SourceBilling CreditSource = "billing"
	SourceAdmin   CreditSource = "admin"
	SourcePromo   CreditSource = "promo"
)

// CreditEntry is an immutable ledger row. Balances are always derived by
// summing deltas, never stored.
type CreditEntry struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_credit_ledger_tenant_key,priority:1" json:"tenant_id"`
	Delta          int64             `gorm:"not null" json:"delta"`
	Reason         string            `gorm:"type:text;not null" json:"reason"`
	Source         CreditSource      `gorm:"type:text;not null" json:"source"`
	IdempotencyKey string            `gorm:"type:text;not null;uniqueIndex:ux_credit_ledger_tenant_key,priority:2" json:"idempotency_key"`
	ReferenceType  *string           `gorm:"type:text" json:"reference_type,omitempty"`
	ReferenceID    *string           `gorm:"type:text" json:"reference_id,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (CreditEntry) TableName() string { return "tenant_credit_ledgers" }

type AddCreditsRequest struct {
	TenantID       snowflake.ID
	Delta          int64
	Reason         string
	Source         CreditSource
	IdempotencyKey string
	ReferenceType  string
	ReferenceID    string
	Metadata       map[string]any
	ExpiresAt      *time.Time
}

type Service interface {
	AddCredits(ctx context.Context, req AddCreditsRequest) (*CreditEntry, error)
	Balance(ctx context.Context, tenantID snowflake.ID) (int64, error)
	ListEntries(ctx context.Context, tenantID snowflake.ID, limit int) ([]CreditEntry, error)
}

var (
	ErrInvalidTenant         = errors.New("invalid_tenant")
	ErrInvalidDelta          = errors.New("invalid_delta")
	ErrInvalidReason         = errors.New("invalid_reason")
	ErrInvalidSource         = errors.New("invalid_source")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrInvalidExpiry         = errors.New("invalid_expiry")
)
