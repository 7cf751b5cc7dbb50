package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType selects how DiscountValue is applied
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "PERCENTAGE"
	DiscountTypeFixed      DiscountType = "FIXED"
)

// PromoCode is a redeemable discount with an optional usage cap
type PromoCode struct {
	ID            string              `json:"id"`
	Code          string              `json:"code"`
	DiscountType  DiscountType        `json:"discount_type"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	MaxDiscount   decimal.NullDecimal `json:"max_discount"`
	MaxUses       *int                `json:"max_uses,omitempty"`
	UsedCount     int                 `json:"used_count"`
	ValidFrom     time.Time           `json:"valid_from"`
	ValidUntil    time.Time           `json:"valid_until"`
	IsActive      bool                `json:"is_active"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// IsApplicable reports whether the code may be used at now. The usage count
// is only a hint here; redemption re-checks it atomically.
func (p *PromoCode) IsApplicable(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if now.Before(p.ValidFrom) || now.After(p.ValidUntil) {
		return false
	}
	return p.MaxUses == nil || p.UsedCount < *p.MaxUses
}

// NormalizePromoCode upper-cases and trims a user supplied code
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
