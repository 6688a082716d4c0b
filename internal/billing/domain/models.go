package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EventPaymentSucceeded     = "payment.succeeded"
	EventPaymentFailed        = "payment.failed"
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionRenewed  = "subscription.renewed"
	EventSubscriptionCanceled = "subscription.canceled"
	EventInvoicePaid          = "invoice.paid"
)

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type PaymentReason string

const (
	PaymentReasonTopup PaymentReason = "topup"
	PaymentReasonAddon PaymentReason = "addon"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

type InvoiceStatus string

const (
	InvoiceStatusOpen InvoiceStatus = "open"
	InvoiceStatusPaid InvoiceStatus = "paid"
	InvoiceStatusVoid InvoiceStatus = "void"
)

// EventRecord is the raw webhook event as received. ProcessedAt flips only
// after the dispatch for its type succeeded.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID        snowflake.ID   `json:"tenant_id" gorm:"not null;index"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_billing_payment_events,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_billing_payment_events,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

// TableName sets the database table name.
func (EventRecord) TableName() string { return "billing_payment_events" }

type OneTimePayment struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	TenantID          snowflake.ID  `json:"tenant_id" gorm:"not null;index"`
	ProviderPaymentID string        `json:"provider_payment_id" gorm:"type:text;not null;uniqueIndex:ux_billing_one_time_payments"`
	Amount            int64         `json:"amount" gorm:"not null"`
	Currency          string        `json:"currency" gorm:"type:text;not null"`
	Status            PaymentStatus `json:"status" gorm:"type:text;not null"`
	Reason            PaymentReason `json:"reason" gorm:"type:text;not null;default:topup"`
	CreatedAt         time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OneTimePayment) TableName() string { return "billing_one_time_payments" }

type Subscription struct {
	ID                     snowflake.ID       `json:"id" gorm:"primaryKey"`
	TenantID               snowflake.ID       `json:"tenant_id" gorm:"not null;index"`
	PlanID                 snowflake.ID       `json:"plan_id" gorm:"not null;index"`
	ProviderSubscriptionID string             `json:"provider_subscription_id" gorm:"type:text;not null;uniqueIndex:ux_billing_subscriptions"`
	Status                 SubscriptionStatus `json:"status" gorm:"type:text;not null;default:active"`
	CurrentPeriodStart     time.Time          `json:"current_period_start" gorm:"not null"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end" gorm:"not null"`
	Seats                  int                `json:"seats" gorm:"not null;default:1"`
	CreatedAt              time.Time          `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time          `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "billing_subscriptions" }

type Invoice struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	TenantID          snowflake.ID  `json:"tenant_id" gorm:"not null;index"`
	ProviderInvoiceID string        `json:"provider_invoice_id" gorm:"type:text;not null;uniqueIndex:ux_billing_invoices"`
	Period            time.Time     `json:"period" gorm:"not null"`
	Subtotal          int64         `json:"subtotal" gorm:"not null;default:0"`
	OverageTotal      int64         `json:"overage_total" gorm:"not null;default:0"`
	TotalAmount       int64         `json:"total_amount" gorm:"not null"`
	Currency          string        `json:"currency" gorm:"type:text;not null;default:USD"`
	Status            InvoiceStatus `json:"status" gorm:"type:text;not null;default:open"`
	PaidAt            *time.Time    `json:"paid_at"`
	CreatedAt         time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time     `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "billing_invoices" }

// WebhookEvent is the canonical event parsed by a provider adapter.
type WebhookEvent struct {
	Provider          string
	ProviderEventID   string
	Type              string
	TenantID          snowflake.ID
	UserRef           string
	Amount            int64
	Currency          string
	Reason            PaymentReason
	ProviderPaymentID string
	SubscriptionID    string
	InvoiceID         string
	ProductID         string
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	OccurredAt        time.Time
	RawPayload        []byte
}
