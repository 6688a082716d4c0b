package dodo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stratus/internal/billing/domain"
)

const ProviderName = "dodo"

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw body,
// optionally prefixed with "sha256=".
const SignatureHeader = "webhook-signature"

type Adapter struct {
	secret []byte
}

func New(webhookSecret string) *Adapter {
	return &Adapter{secret: []byte(webhookSecret)}
}

func (a *Adapter) Provider() string { return ProviderName }

func (a *Adapter) Verify(payload []byte, headers map[string]string) error {
	if len(a.secret) == 0 {
		return domain.ErrInvalidSignature
	}
	signature := headerValue(headers, SignatureHeader)
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

type payload struct {
	PaymentID  string    `json:"payment_id"`
	BusinessID string    `json:"business_id"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Data       struct {
		PaymentID             string          `json:"payment_id"`
		TotalAmount           int64           `json:"total_amount"`
		Amount                int64           `json:"amount"`
		RecurringPreTaxAmount int64           `json:"recurring_pre_tax_amount"`
		Currency              string          `json:"currency"`
		SubscriptionID        string          `json:"subscription_id"`
		InvoiceID             string          `json:"invoice_id"`
		ProductID             string          `json:"product_id"`
		CreatedAt             *time.Time      `json:"created_at"`
		PreviousBillingDate   *time.Time      `json:"previous_billing_date"`
		NextBillingDate       *time.Time      `json:"next_billing_date"`
		Metadata              metadataPayload `json:"metadata"`
	} `json:"data"`
}

type metadataPayload struct {
	TenantUUID string `json:"tenant_uuid"`
	UserUUID   string `json:"user_uuid"`
	Reason     string `json:"reason"`
}

func (a *Adapter) Parse(raw []byte) (*domain.WebhookEvent, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if p.PaymentID == "" || p.Type == "" {
		return nil, domain.ErrInvalidPayload
	}

	event := &domain.WebhookEvent{
		Provider:        ProviderName,
		ProviderEventID: p.PaymentID,
		Type:            p.Type,
		UserRef:         p.Data.Metadata.UserUUID,
		Currency:        p.Data.Currency,
		SubscriptionID:  p.Data.SubscriptionID,
		InvoiceID:       p.Data.InvoiceID,
		ProductID:       p.Data.ProductID,
		PeriodStart:     p.Data.PreviousBillingDate,
		PeriodEnd:       p.Data.NextBillingDate,
		OccurredAt:      p.Timestamp,
		RawPayload:      raw,
	}

	if uuid := strings.TrimSpace(p.Data.Metadata.TenantUUID); uuid != "" {
		tenantID, err := snowflake.ParseString(uuid)
		if err != nil {
			return nil, domain.ErrMissingTenantMetadata
		}
		event.TenantID = tenantID
	}

	event.ProviderPaymentID = p.Data.PaymentID
	if event.ProviderPaymentID == "" {
		event.ProviderPaymentID = p.PaymentID
	}

	event.Amount = p.Data.TotalAmount
	if event.Amount == 0 {
		event.Amount = p.Data.Amount
	}
	if event.Amount == 0 {
		event.Amount = p.Data.RecurringPreTaxAmount
	}

	if strings.EqualFold(p.Data.Metadata.Reason, string(domain.PaymentReasonAddon)) {
		event.Reason = domain.PaymentReasonAddon
	} else {
		event.Reason = domain.PaymentReasonTopup
	}

	if event.OccurredAt.IsZero() && p.Data.CreatedAt != nil {
		event.OccurredAt = *p.Data.CreatedAt
	}
	return event, nil
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
