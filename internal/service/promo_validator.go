package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/prohmpiriya/ticketing-core/internal/pricing"
	"github.com/prohmpiriya/ticketing-core/internal/repository"
	"github.com/prohmpiriya/ticketing-core/pkg/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// PromoValidator checks codes at quote time and redeems them atomically
// when the payment is created
type PromoValidator struct {
	store repository.Store
}

// NewPromoValidator creates a new promo validator
func NewPromoValidator(store repository.Store) *PromoValidator {
	return &PromoValidator{store: store}
}

// Validate returns the discount code grants on subtotal. Unknown, inactive,
// out-of-window and used-up codes yield nil so the purchase goes ahead at
// full price. Errors are store failures only.
func (v *PromoValidator) Validate(ctx context.Context, code string, subtotal decimal.Decimal, now time.Time) (*pricing.Discount, error) {
	code = domain.NormalizePromoCode(code)
	if code == "" || !subtotal.IsPositive() {
		return nil, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "service.promo.validate")
	defer span.End()
	span.SetAttributes(attribute.String("promo_code", code))

	promo, err := v.store.Repos().Promos.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrPromoCodeNotFound) {
			return nil, nil
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load promo code: %w", err)
	}
	if !promo.IsApplicable(now) {
		span.SetAttributes(attribute.Bool("promo_applicable", false))
		return nil, nil
	}

	return &pricing.Discount{
		PromoCodeID: promo.ID,
		Code:        promo.Code,
		Type:        promo.DiscountType,
		Value:       promo.DiscountValue,
		MaxDiscount: promo.MaxDiscount,
	}, nil
}

// Redeem takes one use of the code inside the caller's transaction.
// Returns ErrPromoCodeExhausted when the cap has been reached meanwhile.
func (v *PromoValidator) Redeem(ctx context.Context, repos repository.Repositories, promoID string) error {
	return repos.Promos.IncrementUsage(ctx, promoID)
}

// Restore gives a use back after a hold ends without settlement
func (v *PromoValidator) Restore(ctx context.Context, repos repository.Repositories, promoID string) error {
	return repos.Promos.DecrementUsage(ctx, promoID)
}
