package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/prohmpiriya/ticketing-core/internal/domain"
)

type postgresPromoRepository struct {
	q querier
}

func (r *postgresPromoRepository) Create(ctx context.Context, p *domain.PromoCode) error {
	query := `
		INSERT INTO promo_codes (
			id, code, discount_type, discount_value, max_discount, max_uses, used_count,
			valid_from, valid_until, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.q.Exec(ctx, query,
		p.ID, domain.NormalizePromoCode(p.Code), string(p.DiscountType), p.DiscountValue, p.MaxDiscount,
		p.MaxUses, p.UsedCount, p.ValidFrom, p.ValidUntil, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create promo code: %w", err)
	}
	return nil
}

func (r *postgresPromoRepository) GetByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	query := `
		SELECT id, code, discount_type, discount_value, max_discount, max_uses, used_count,
		       valid_from, valid_until, is_active, created_at, updated_at
		FROM promo_codes WHERE UPPER(code) = $1`

	p := &domain.PromoCode{}
	var discountType string
	err := r.q.QueryRow(ctx, query, domain.NormalizePromoCode(code)).Scan(
		&p.ID, &p.Code, &discountType, &p.DiscountValue, &p.MaxDiscount, &p.MaxUses, &p.UsedCount,
		&p.ValidFrom, &p.ValidUntil, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPromoCodeNotFound
		}
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}
	p.DiscountType = domain.DiscountType(discountType)
	return p, nil
}

func (r *postgresPromoRepository) IncrementUsage(ctx context.Context, id string) error {
	query := `
		UPDATE promo_codes
		SET used_count = used_count + 1, updated_at = NOW()
		WHERE id = $1 AND is_active AND (max_uses IS NULL OR used_count < max_uses)`

	result, err := r.q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to redeem promo code: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPromoCodeExhausted
	}
	return nil
}

func (r *postgresPromoRepository) DecrementUsage(ctx context.Context, id string) error {
	query := `UPDATE promo_codes SET used_count = GREATEST(used_count - 1, 0), updated_at = NOW() WHERE id = $1`

	if _, err := r.q.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to restore promo code usage: %w", err)
	}
	return nil
}
