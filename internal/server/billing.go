package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	billingdomain "github.com/smallbiznis/stratus/internal/billing/domain"
	"github.com/smallbiznis/stratus/internal/tenantcontext"
)

const maxWebhookBody = 1 << 20

func (s *Server) ListInvoices(c *gin.Context) {
	principal, _ := currentPrincipal(c)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		limit = parsed
	}

	invoices, err := s.billingSvc.ListInvoices(c.Request.Context(), principal.TenantID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

func (s *Server) GetInvoice(c *gin.Context) {
	principal, _ := currentPrincipal(c)

	invoiceID, ok := tenantcontext.ParseID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	invoice, err := s.billingSvc.GetInvoice(c.Request.Context(), principal.TenantID, invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	principal, _ := currentPrincipal(c)

	subs, err := s.billingSvc.ListSubscriptions(c.Request.Context(), principal.TenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// HandlePaymentWebhook receives provider callbacks. Signature failures and
// malformed payloads get a 400 so the sender sees the rejection; downstream
// processing errors get a 200 so the provider redelivers.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	adapter, err := s.adapters.Get(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: errorPayload{
			Type:    "validation_error",
			Message: "unknown payment provider",
		}})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: errorPayload{
			Type:    "validation_error",
			Message: "unreadable payload",
		}})
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for name := range c.Request.Header {
		headers[name] = c.GetHeader(name)
	}

	if err := adapter.Verify(body, headers); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: errorPayload{
			Type:    "invalid_signature",
			Message: "signature verification failed",
		}})
		return
	}

	event, err := adapter.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}})
		return
	}

	if err := s.billingSvc.ProcessEvent(c.Request.Context(), event); err != nil {
		if billingdomain.ValidationError(err) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: errorPayload{
				Type:    "validation_error",
				Message: err.Error(),
			}})
			return
		}
		// Leave the event unsettled and acknowledge; the provider will
		// redeliver and the idempotent pipeline picks it back up.
		s.log.Warn("webhook processing deferred",
			zap.String("provider", event.Provider),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
