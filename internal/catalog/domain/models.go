package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const UnlimitedUnits int64 = -1

type PlanInterval string

const (
	IntervalMonthly PlanInterval = "monthly"
	IntervalYearly  PlanInterval = "yearly"
)

// Plan is a sellable tier. Key is a slug and stable across renames.
type Plan struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Key       string       `gorm:"type:text;not null;uniqueIndex:ux_billing_plans_key" json:"key"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	BasePrice int64        `gorm:"not null;default:0" json:"base_price"`
	Currency  string       `gorm:"type:text;not null;default:USD" json:"currency"`
	Interval  PlanInterval `gorm:"type:text;not null;default:monthly" json:"interval"`
	IsActive  bool         `gorm:"not null;default:true" json:"is_active"`
	IsCustom  bool         `gorm:"not null;default:false" json:"is_custom"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "billing_plans" }

type Feature struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Key         string       `gorm:"type:text;not null;uniqueIndex:ux_billing_features_key" json:"key"`
	Name        string       `gorm:"type:text;not null" json:"name"`
	Description *string      `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Feature) TableName() string { return "billing_features" }

// PlanFeature binds a feature to a plan with its quota. IncludedUnits of -1
// means unlimited, as does MemberSeat of -1 for seats.
type PlanFeature struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	PlanID         snowflake.ID `gorm:"not null;index;uniqueIndex:ux_billing_plan_features,priority:1" json:"plan_id"`
	FeatureKey     string       `gorm:"type:text;not null;uniqueIndex:ux_billing_plan_features,priority:2" json:"feature_key"`
	IncludedUnits  int64        `gorm:"not null;default:0" json:"included_units"`
	OveragePrice   int64        `gorm:"not null;default:0" json:"overage_price"`
	WorkspaceCount int          `gorm:"not null;default:0" json:"workspace_count"`
	GuestCount     int          `gorm:"not null;default:0" json:"guest_count"`
	MemberSeat     int          `gorm:"not null;default:0" json:"member_seat"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (PlanFeature) TableName() string { return "billing_plan_features" }

// PlanPrice is a provider-facing price point. At most one active price per
// plan, enforced by a partial unique index.
type PlanPrice struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	PlanID            snowflake.ID `gorm:"not null;index" json:"plan_id"`
	ProviderProductID string       `gorm:"type:text;not null" json:"provider_product_id"`
	Amount            int64        `gorm:"not null" json:"amount"`
	Currency          string       `gorm:"type:text;not null;default:USD" json:"currency"`
	IsActive          bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (PlanPrice) TableName() string { return "billing_plan_prices" }

// ProductMapping resolves a provider product id to a plan. Webhook payload
// metadata is never trusted for plan resolution.
type ProductMapping struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	ProviderProductID string       `gorm:"type:text;not null;uniqueIndex:ux_billing_product_mappings" json:"provider_product_id"`
	PlanID            snowflake.ID `gorm:"not null;index" json:"plan_id"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ProductMapping) TableName() string { return "billing_product_mappings" }
