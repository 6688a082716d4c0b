package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/stratus/internal/audit/domain"
	billingdomain "github.com/smallbiznis/stratus/internal/billing/domain"
	catalogdomain "github.com/smallbiznis/stratus/internal/catalog/domain"
	"github.com/smallbiznis/stratus/internal/clock"
	ledgerdomain "github.com/smallbiznis/stratus/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/stratus/internal/observability/metrics"
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
	Repo       billingdomain.Repository
	LedgerSvc  ledgerdomain.Service
	CatalogSvc catalogdomain.Service
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       billingdomain.Repository
	ledgerSvc  ledgerdomain.Service
	catalogSvc catalogdomain.Service
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("billing.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		ledgerSvc:  p.LedgerSvc,
		catalogSvc: p.CatalogSvc,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// ProcessEvent runs the received -> dispatching -> processed reconciliation.
// The raw event row is the state: absent means never seen, present with a
// NULL processed_at means a retry is still expected, processed_at set means
// the event is settled and replays are no-ops.
func (s *Service) ProcessEvent(ctx context.Context, event *billingdomain.WebhookEvent) error {
	if err := validateEvent(event); err != nil {
		s.observe(event, "rejected")
		return err
	}

	now := s.clock.Now()
	received := billingdomain.EventRecord{
		ID:              s.genID.Generate(),
		TenantID:        event.TenantID,
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return billingdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.observe(event, "replayed")
			return nil
		}
	}

	if err := s.dispatch(ctx, event); err != nil {
		s.observe(event, "failed")
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, now); err != nil {
		return err
	}
	s.observe(event, "processed")

	eventIDStr := stored.ID.String()
	if err := s.auditSvc.AuditLog(ctx, tenantRef(event.TenantID), string(auditdomain.ActorTypeSystem), nil, "billing.webhook_processed", "payment_event", &eventIDStr, map[string]any{
		"provider":          event.Provider,
		"provider_event_id": event.ProviderEventID,
		"event_type":        event.Type,
	}); err != nil {
		s.log.Warn("failed to write billing audit log", zap.Error(err))
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, event *billingdomain.WebhookEvent) error {
	switch event.Type {
	case billingdomain.EventPaymentSucceeded:
		return s.handlePaymentSucceeded(ctx, event)
	case billingdomain.EventPaymentFailed:
		return s.handlePaymentFailed(ctx, event)
	case billingdomain.EventSubscriptionCreated:
		return s.handleSubscriptionCreated(ctx, event)
	case billingdomain.EventSubscriptionRenewed:
		return s.handleSubscriptionRenewed(ctx, event)
	case billingdomain.EventSubscriptionCanceled:
		return s.handleSubscriptionCanceled(ctx, event)
	case billingdomain.EventInvoicePaid:
		return s.handleInvoicePaid(ctx, event)
	default:
		// Unknown types are recorded and settled so the provider stops
		// redelivering them.
		s.log.Info("unhandled webhook event type",
			zap.String("provider", event.Provider),
			zap.String("event_type", event.Type),
		)
		return nil
	}
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, event *billingdomain.WebhookEvent) error {
	if event.TenantID == 0 {
		return billingdomain.ErrMissingTenantMetadata
	}
	if event.Amount <= 0 {
		return billingdomain.ErrInvalidAmount
	}

	payment := billingdomain.OneTimePayment{
		ID:                s.genID.Generate(),
		TenantID:          event.TenantID,
		ProviderPaymentID: event.ProviderPaymentID,
		Amount:            event.Amount,
		Currency:          event.Currency,
		Status:            billingdomain.PaymentStatusSucceeded,
		Reason:            normalizeReason(event.Reason),
		CreatedAt:         s.clock.Now(),
	}
	if _, err := s.repo.InsertOneTimePayment(ctx, s.db, &payment); err != nil {
		return err
	}

	reason := "credit_topup"
	if payment.Reason == billingdomain.PaymentReasonAddon {
		reason = "addon_purchase"
	}
	_, err := s.ledgerSvc.AddCredits(ctx, ledgerdomain.AddCreditsRequest{
		TenantID:       event.TenantID,
		Delta:          event.Amount,
		Reason:         reason,
		Source:         ledgerdomain.SourceBilling,
		IdempotencyKey: event.ProviderPaymentID,
		ReferenceType:  "payment",
		ReferenceID:    event.ProviderPaymentID,
	})
	return err
}

func (s *Service) handlePaymentFailed(ctx context.Context, event *billingdomain.WebhookEvent) error {
	if event.TenantID == 0 {
		// Nothing to reconcile against; settle the event.
		s.log.Warn("payment.failed without tenant metadata",
			zap.String("provider_event_id", event.ProviderEventID))
		return nil
	}

	payment := billingdomain.OneTimePayment{
		ID:                s.genID.Generate(),
		TenantID:          event.TenantID,
		ProviderPaymentID: event.ProviderPaymentID,
		Amount:            event.Amount,
		Currency:          event.Currency,
		Status:            billingdomain.PaymentStatusFailed,
		Reason:            normalizeReason(event.Reason),
		CreatedAt:         s.clock.Now(),
	}
	_, err := s.repo.InsertOneTimePayment(ctx, s.db, &payment)
	return err
}

func (s *Service) handleSubscriptionCreated(ctx context.Context, event *billingdomain.WebhookEvent) error {
	if event.TenantID == 0 {
		return billingdomain.ErrMissingTenantMetadata
	}
	if strings.TrimSpace(event.SubscriptionID) == "" {
		return billingdomain.ErrInvalidEvent
	}

	plan, err := s.catalogSvc.ResolvePlanByProduct(ctx, event.ProductID)
	if err != nil {
		if errors.Is(err, catalogdomain.ErrMappingNotFound) {
			return billingdomain.ErrPlanMappingNotFound
		}
		return err
	}

	now := s.clock.Now()
	periodStart := now
	if event.PeriodStart != nil {
		periodStart = event.PeriodStart.UTC()
	}
	periodEnd := now.AddDate(0, 1, 0)
	if event.PeriodEnd != nil {
		periodEnd = event.PeriodEnd.UTC()
	}

	sub := billingdomain.Subscription{
		ID:                     s.genID.Generate(),
		TenantID:               event.TenantID,
		PlanID:                 plan.ID,
		ProviderSubscriptionID: event.SubscriptionID,
		Status:                 billingdomain.SubscriptionStatusActive,
		CurrentPeriodStart:     periodStart,
		CurrentPeriodEnd:       periodEnd,
		Seats:                  1,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	_, err = s.repo.InsertSubscription(ctx, s.db, &sub)
	return err
}

func (s *Service) handleSubscriptionRenewed(ctx context.Context, event *billingdomain.WebhookEvent) error {
	if strings.TrimSpace(event.SubscriptionID) == "" {
		return billingdomain.ErrInvalidEvent
	}
	updated, err := s.repo.UpdateSubscriptionPeriod(ctx, s.db, event.SubscriptionID, event.PeriodStart, event.PeriodEnd, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		return billingdomain.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Service) handleSubscriptionCanceled(ctx context.Context, event *billingdomain.WebhookEvent) error {
	if strings.TrimSpace(event.SubscriptionID) == "" {
		return billingdomain.ErrInvalidEvent
	}
	// Zero rows means the subscription is unknown or already canceled;
	// either way the cancel is settled.
	_, err := s.repo.CancelSubscription(ctx, s.db, event.SubscriptionID, s.clock.Now())
	return err
}

func (s *Service) handleInvoicePaid(ctx context.Context, event *billingdomain.WebhookEvent) error {
	if event.TenantID == 0 {
		return billingdomain.ErrMissingTenantMetadata
	}

	providerInvoiceID := strings.TrimSpace(event.InvoiceID)
	if providerInvoiceID == "" {
		providerInvoiceID = event.ProviderEventID
	}

	invoice, err := s.repo.FindInvoiceByProviderID(ctx, s.db, providerInvoiceID)
	if err != nil {
		return err
	}
	if invoice == nil {
		// The invoice row may not exist yet; the provider will not redeliver
		// once settled, so record nothing rather than fail the event.
		s.log.Warn("invoice.paid for unknown invoice",
			zap.String("provider_invoice_id", providerInvoiceID))
		return nil
	}

	now := s.clock.Now()
	if _, err := s.repo.MarkInvoicePaid(ctx, s.db, invoice.ID, now); err != nil {
		return err
	}

	_, err = s.ledgerSvc.AddCredits(ctx, ledgerdomain.AddCreditsRequest{
		TenantID:       event.TenantID,
		Delta:          -invoice.TotalAmount,
		Reason:         "invoice_settlement",
		Source:         ledgerdomain.SourceBilling,
		IdempotencyKey: "invoice-" + providerInvoiceID,
		ReferenceType:  "invoice",
		ReferenceID:    providerInvoiceID,
	})
	return err
}

func (s *Service) ListInvoices(ctx context.Context, tenantID snowflake.ID, limit int) ([]billingdomain.Invoice, error) {
	if tenantID == 0 {
		return nil, billingdomain.ErrInvalidEvent
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 250 {
		limit = 250
	}
	return s.repo.ListInvoices(ctx, s.db, tenantID, limit)
}

func (s *Service) GetInvoice(ctx context.Context, tenantID, invoiceID snowflake.ID) (*billingdomain.Invoice, error) {
	if tenantID == 0 || invoiceID == 0 {
		return nil, billingdomain.ErrInvoiceNotFound
	}
	return s.repo.GetInvoice(ctx, s.db, tenantID, invoiceID)
}

func (s *Service) ListSubscriptions(ctx context.Context, tenantID snowflake.ID) ([]billingdomain.Subscription, error) {
	if tenantID == 0 {
		return nil, billingdomain.ErrInvalidEvent
	}
	return s.repo.ListSubscriptions(ctx, s.db, tenantID)
}

func (s *Service) GetActiveSubscription(ctx context.Context, tenantID snowflake.ID) (*billingdomain.Subscription, error) {
	if tenantID == 0 {
		return nil, billingdomain.ErrSubscriptionNotFound
	}
	return s.repo.GetActiveSubscription(ctx, s.db, tenantID)
}

func (s *Service) observe(event *billingdomain.WebhookEvent, outcome string) {
	if s.obsMetrics == nil || event == nil {
		return
	}
	s.obsMetrics.WebhookEvents.WithLabelValues(event.Provider, event.Type, outcome).Inc()
}

func validateEvent(event *billingdomain.WebhookEvent) error {
	if event == nil {
		return billingdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return billingdomain.ErrInvalidProvider
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return billingdomain.ErrInvalidEvent
	}
	event.Type = strings.TrimSpace(event.Type)
	if event.Type == "" {
		return billingdomain.ErrInvalidEvent
	}
	if len(event.RawPayload) == 0 || !json.Valid(event.RawPayload) {
		return billingdomain.ErrInvalidPayload
	}
	event.Currency = strings.ToUpper(strings.TrimSpace(event.Currency))
	if event.Currency == "" {
		event.Currency = "USD"
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.ProviderPaymentID == "" {
		event.ProviderPaymentID = event.ProviderEventID
	}
	return nil
}

func normalizeReason(reason billingdomain.PaymentReason) billingdomain.PaymentReason {
	if reason == billingdomain.PaymentReasonAddon {
		return billingdomain.PaymentReasonAddon
	}
	return billingdomain.PaymentReasonTopup
}

func tenantRef(tenantID snowflake.ID) *snowflake.ID {
	if tenantID == 0 {
		return nil
	}
	return &tenantID
}
