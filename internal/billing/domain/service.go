package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	ProcessEvent(ctx context.Context, event *WebhookEvent) error

	ListInvoices(ctx context.Context, tenantID snowflake.ID, limit int) ([]Invoice, error)
	GetInvoice(ctx context.Context, tenantID, invoiceID snowflake.ID) (*Invoice, error)
	ListSubscriptions(ctx context.Context, tenantID snowflake.ID) ([]Subscription, error)
	GetActiveSubscription(ctx context.Context, tenantID snowflake.ID) (*Subscription, error)
}

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error

	InsertOneTimePayment(ctx context.Context, db *gorm.DB, payment *OneTimePayment) (bool, error)
	InsertSubscription(ctx context.Context, db *gorm.DB, sub *Subscription) (bool, error)
	UpdateSubscriptionPeriod(ctx context.Context, db *gorm.DB, providerSubscriptionID string, start, end *time.Time, updatedAt time.Time) (bool, error)
	CancelSubscription(ctx context.Context, db *gorm.DB, providerSubscriptionID string, updatedAt time.Time) (bool, error)

	FindInvoiceByProviderID(ctx context.Context, db *gorm.DB, providerInvoiceID string) (*Invoice, error)
	MarkInvoicePaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time) (bool, error)

	ListInvoices(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, limit int) ([]Invoice, error)
	GetInvoice(ctx context.Context, db *gorm.DB, tenantID, invoiceID snowflake.ID) (*Invoice, error)
	ListSubscriptions(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Subscription, error)
	GetActiveSubscription(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Subscription, error)
}

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrMissingTenantMetadata = errors.New("missing_tenant_metadata")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrPlanMappingNotFound   = errors.New("plan_mapping_not_found")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrInvoiceNotFound       = errors.New("invoice_not_found")
)

// ValidationError reports webhook failures the sender caused. The HTTP layer
// returns 400 for these and 200 for everything else so the provider retries
// only what can succeed.
func ValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidProvider),
		errors.Is(err, ErrProviderNotFound),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrInvalidEvent),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidCurrency),
		errors.Is(err, ErrMissingTenantMetadata):
		return true
	default:
		return false
	}
}
