package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/gateway"
	"github.com/prohmpiriya/ticketing-core/pkg/logger"
	"github.com/prohmpiriya/ticketing-core/pkg/response"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorMappings is checked in order; the first match wins
var errorMappings = []errorMapping{
	{domain.ErrOutOfStock, http.StatusConflict, "OUT_OF_STOCK"},
	{domain.ErrSeatUnavailable, http.StatusConflict, "SEAT_UNAVAILABLE"},
	{domain.ErrOrderLimitExceeded, http.StatusUnprocessableEntity, "ORDER_LIMIT_EXCEEDED"},
	{domain.ErrSalesClosed, http.StatusConflict, "SALES_CLOSED"},
	{domain.ErrPromoCodeExhausted, http.StatusConflict, "PROMO_CODE_EXHAUSTED"},
	{domain.ErrPromoCodeNotFound, http.StatusNotFound, "PROMO_CODE_NOT_FOUND"},
	{domain.ErrReservationReleased, http.StatusConflict, "RESERVATION_RELEASED"},
	{domain.ErrPaymentNotSucceeded, http.StatusConflict, "PAYMENT_NOT_SUCCEEDED"},
	{domain.ErrPaymentNotRefundable, http.StatusUnprocessableEntity, "PAYMENT_NOT_REFUNDABLE"},
	{domain.ErrRefundExceedsBalance, http.StatusUnprocessableEntity, "REFUND_EXCEEDS_BALANCE"},
	{domain.ErrPaymentStatusConflict, http.StatusConflict, "PAYMENT_STATUS_CONFLICT"},
	{domain.ErrPaymentAccessForbidden, http.StatusForbidden, "FORBIDDEN"},
	{domain.ErrProcessorUnavailable, http.StatusServiceUnavailable, "PROCESSOR_UNAVAILABLE"},
	{gateway.ErrDeclined, http.StatusPaymentRequired, "PAYMENT_DECLINED"},
	{domain.ErrAlreadyOnWaitlist, http.StatusConflict, "ALREADY_ON_WAITLIST"},
	{domain.ErrInvalidWaitlistPass, http.StatusForbidden, "INVALID_WAITLIST_PASS"},
	{domain.ErrWaitlistAccessDenied, http.StatusForbidden, "FORBIDDEN"},
	{domain.ErrTicketAccessForbidden, http.StatusForbidden, "FORBIDDEN"},
	{domain.ErrTicketNotActive, http.StatusConflict, "TICKET_NOT_ACTIVE"},
	{domain.ErrBadSignature, http.StatusBadRequest, "BAD_SIGNATURE"},
	{domain.ErrMalformedWebhook, http.StatusBadRequest, "MALFORMED_WEBHOOK"},
	{domain.ErrUnknownCorrelation, http.StatusNotFound, "UNKNOWN_CORRELATION"},
}

// respondError writes err as a response envelope. Unknown errors are
// logged and hidden behind a 500.
func respondError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			response.Error(c, m.status, m.code, m.err.Error(), "")
			return
		}
	}

	switch {
	case domain.IsNotFoundError(err):
		response.NotFound(c, err.Error())
	case domain.IsValidationError(err):
		response.ValidationError(c, err.Error())
	case domain.IsConflictError(err):
		response.Error(c, http.StatusConflict, "CONFLICT", err.Error(), "")
	default:
		logger.Get().ErrorContext(c.Request.Context(), fmt.Sprintf("%s %s failed: %v", c.Request.Method, c.FullPath(), err))
		response.InternalError(c, err)
	}
}
