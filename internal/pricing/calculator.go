// Package pricing computes order totals and the money split between the
// platform, the processor and the organizer. All arithmetic is decimal and
// every stored component is rounded half-even to cents.
package pricing

import (
	"github.com/prohmpiriya/ticketing-core/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Rates are percentages (5 means 5%) plus the processor's fixed fee
type Rates struct {
	PlatformCommissionPct decimal.Decimal
	ProcessorFeePct       decimal.Decimal
	ProcessorFixedFee     decimal.Decimal
	TaxPct                decimal.Decimal
	ServiceFeePct         decimal.Decimal
}

// DefaultRates charges 5% commission and a 2.9% + 0.30 processor fee
func DefaultRates() Rates {
	return Rates{
		PlatformCommissionPct: decimal.NewFromInt(5),
		ProcessorFeePct:       decimal.RequireFromString("2.9"),
		ProcessorFixedFee:     decimal.RequireFromString("0.30"),
		TaxPct:                decimal.Zero,
		ServiceFeePct:         decimal.Zero,
	}
}

// Discount is a validated promo ready to apply
type Discount struct {
	PromoCodeID string
	Code        string
	Type        domain.DiscountType
	Value       decimal.Decimal
	MaxDiscount decimal.NullDecimal
}

// Input is one order line
type Input struct {
	UnitPrice decimal.Decimal
	Quantity  int
	Discount  *Discount
}

// Breakdown is the full money split of an order
type Breakdown struct {
	Subtotal              decimal.Decimal `json:"subtotal"`
	Discount              decimal.Decimal `json:"discount"`
	TaxAmount             decimal.Decimal `json:"tax_amount"`
	ServiceFee            decimal.Decimal `json:"service_fee"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	ProcessorFee          decimal.Decimal `json:"processor_fee"`
	PlatformCommission    decimal.Decimal `json:"platform_commission"`
	PlatformCommissionPct decimal.Decimal `json:"platform_commission_pct"`
	OrganizerPayout       decimal.Decimal `json:"organizer_payout"`
}

// Calculator is pure and safe for concurrent use
type Calculator struct {
	rates Rates
}

// NewCalculator creates a calculator for the given rates
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rates returns the calculator's rates
func (c *Calculator) Rates() Rates {
	return c.rates
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

func pct(amount, rate decimal.Decimal) decimal.Decimal {
	return round(amount.Mul(rate).Div(hundred))
}

// DiscountFor returns the discount d grants on subtotal, never more than
// the subtotal itself.
func DiscountFor(d *Discount, subtotal decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch d.Type {
	case domain.DiscountTypePercentage:
		amount = subtotal.Mul(d.Value).Div(hundred)
		if d.MaxDiscount.Valid && amount.GreaterThan(d.MaxDiscount.Decimal) {
			amount = d.MaxDiscount.Decimal
		}
	case domain.DiscountTypeFixed:
		amount = d.Value
	}
	amount = round(decimal.Max(amount, decimal.Zero))
	return decimal.Min(amount, subtotal)
}

// Calculate prices an order. Total and payout are derived from the rounded
// components so the parts always add up.
func (c *Calculator) Calculate(in Input) Breakdown {
	subtotal := round(in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity))))
	discount := DiscountFor(in.Discount, subtotal)
	net := subtotal.Sub(discount)

	tax := pct(net, c.rates.TaxPct)
	service := pct(net, c.rates.ServiceFeePct)
	total := net.Add(tax).Add(service)

	fee := decimal.Zero
	if total.IsPositive() {
		fee = round(total.Mul(c.rates.ProcessorFeePct).Div(hundred).Add(c.rates.ProcessorFixedFee))
	}
	commission := pct(subtotal, c.rates.PlatformCommissionPct)

	return Breakdown{
		Subtotal:              subtotal,
		Discount:              discount,
		TaxAmount:             tax,
		ServiceFee:            service,
		TotalAmount:           total,
		ProcessorFee:          fee,
		PlatformCommission:    commission,
		PlatformCommissionPct: c.rates.PlatformCommissionPct,
		OrganizerPayout:       decimal.Max(decimal.Zero, net.Sub(commission).Sub(fee)),
	}
}

// Apply copies the breakdown onto a payment
func (b Breakdown) Apply(p *domain.Payment) {
	p.Subtotal = b.Subtotal
	p.Discount = b.Discount
	p.TaxAmount = b.TaxAmount
	p.ServiceFee = b.ServiceFee
	p.TotalAmount = b.TotalAmount
	p.ProcessorFee = b.ProcessorFee
	p.PlatformCommission = b.PlatformCommission
	p.PlatformCommissionPct = b.PlatformCommissionPct
	p.OrganizerPayout = b.OrganizerPayout
}

// Payout recomputes what the organizer is owed after refunds. Fees already
// charged are not returned by the processor, so they stay deducted.
func Payout(p *domain.Payment) decimal.Decimal {
	payout := p.TotalAmount.
		Sub(p.RefundedAmount).
		Sub(p.TaxAmount).
		Sub(p.ServiceFee).
		Sub(p.PlatformCommission).
		Sub(p.ProcessorFee)
	return round(decimal.Max(decimal.Zero, payout))
}
