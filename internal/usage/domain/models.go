package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageEvent is the raw metered record. Replays with the same idempotency
// key never create a second row or touch the aggregate.
type UsageEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_usage_events_idem,priority:1" json:"tenant_id"`
	FeatureKey     string            `gorm:"type:text;not null;uniqueIndex:ux_usage_events_idem,priority:2" json:"feature_key"`
	Units          int64             `gorm:"not null" json:"units"`
	IdempotencyKey string            `gorm:"type:text;not null;uniqueIndex:ux_usage_events_idem,priority:3" json:"idempotency_key"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	RecordedAt     time.Time         `gorm:"not null" json:"recorded_at"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

// UsageAggregate is the per-period running total a tenant's entitlement
// checks read from.
type UsageAggregate struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID   snowflake.ID `gorm:"not null;index;uniqueIndex:ux_usage_aggregates,priority:1" json:"tenant_id"`
	FeatureKey string       `gorm:"type:text;not null;uniqueIndex:ux_usage_aggregates,priority:2" json:"feature_key"`
	Period     time.Time    `gorm:"not null;uniqueIndex:ux_usage_aggregates,priority:3" json:"period"`
	UnitsUsed  int64        `gorm:"not null;default:0" json:"units_used"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageAggregate) TableName() string { return "usage_aggregates" }

// OverageFee is the line item produced at period close for usage beyond the
// plan's included units.
type OverageFee struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID      snowflake.ID `gorm:"not null;index;uniqueIndex:ux_usage_overage_fees,priority:1" json:"tenant_id"`
	Period        time.Time    `gorm:"not null;uniqueIndex:ux_usage_overage_fees,priority:2" json:"period"`
	FeatureKey    string       `gorm:"type:text;not null;uniqueIndex:ux_usage_overage_fees,priority:3" json:"feature_key"`
	UnitsUsed     int64        `gorm:"not null" json:"units_used"`
	IncludedUnits int64        `gorm:"not null" json:"included_units"`
	OverageUnits  int64        `gorm:"not null" json:"overage_units"`
	UnitPrice     int64        `gorm:"not null" json:"unit_price"`
	Total         int64        `gorm:"not null" json:"total"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (OverageFee) TableName() string { return "usage_overage_fees" }

// PeriodOf truncates a timestamp to the first of its month in UTC.
func PeriodOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PreviousPeriod returns the period immediately before the one containing t.
func PreviousPeriod(t time.Time) time.Time {
	return PeriodOf(t).AddDate(0, -1, 0)
}
