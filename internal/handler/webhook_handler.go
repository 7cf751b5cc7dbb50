package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/dto"
	"github.com/prohmpiriya/ticketing-core/internal/metrics"
	"github.com/prohmpiriya/ticketing-core/internal/service"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	"github.com/prohmpiriya/ticketing-core/pkg/response"
)

// SignatureHeader carries the processor's webhook signature
const SignatureHeader = "Stripe-Signature"

// maxWebhookBytes matches the processor's documented payload ceiling
const maxWebhookBytes = 65536

// WebhookService is satisfied by *service.WebhookReconciler
type WebhookService interface {
	Handle(ctx context.Context, payload []byte, signature string) (*service.WebhookResult, error)
}

// WebhookHandler receives processor webhooks
type WebhookHandler struct {
	webhooks WebhookService
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(webhooks WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// HandleWebhook handles POST /payments/webhook. Replays are acknowledged
// with 200; unknown correlations get 404 so the processor redelivers.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	log := logger.Get()
	ctx := c.Request.Context()

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes+1))
	if err != nil {
		log.Error(fmt.Sprintf("Failed to read webhook body: %v", err))
		response.BadRequest(c, "Failed to read request body")
		return
	}
	if len(payload) > maxWebhookBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "webhook payload too large", "")
		return
	}

	signature := c.GetHeader(SignatureHeader)
	if signature == "" {
		log.Warn("Missing " + SignatureHeader + " header")
		metrics.RecordWebhook("unknown", "bad_signature")
		response.Error(c, http.StatusBadRequest, "BAD_SIGNATURE", "missing "+SignatureHeader+" header", "")
		return
	}

	result, err := h.webhooks.Handle(ctx, payload, signature)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, dto.WebhookAck{Received: true, Outcome: string(result.Outcome)})
	case errors.Is(err, domain.ErrAlreadyProcessed):
		c.JSON(http.StatusOK, dto.WebhookAck{Received: true, Outcome: "already_processed"})
	default:
		if errors.Is(err, domain.ErrBadSignature) {
			log.WarnContext(ctx, fmt.Sprintf("Rejected webhook: %v", err))
		}
		respondError(c, err)
	}
}
