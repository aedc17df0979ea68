package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/util"
)

// GetRuleByCode retrieves a discount rule, or nil if the code is unknown
func (s *Store) GetRuleByCode(ctx context.Context, code string) (*models.DiscountRule, error) {
	ctx, span := util.StartSpan(ctx, "Store.GetRuleByCode")
	defer span.End()

	var rule models.DiscountRule
	err := s.db.GetContext(ctx, &rule, `
		SELECT code, kind, value, active_from, active_to, minimum_order_amount, is_active
		FROM discount_rules WHERE code = $1`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get discount rule %s: %w", code, err)
	}
	return &rule, nil
}

// UpsertRule creates or replaces a discount rule
func (s *Store) UpsertRule(ctx context.Context, rule *models.DiscountRule) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO discount_rules (code, kind, value, active_from, active_to, minimum_order_amount, is_active)
		VALUES (:code, :kind, :value, :active_from, :active_to, :minimum_order_amount, :is_active)
		ON CONFLICT (code) DO UPDATE SET
			kind = EXCLUDED.kind,
			value = EXCLUDED.value,
			active_from = EXCLUDED.active_from,
			active_to = EXCLUDED.active_to,
			minimum_order_amount = EXCLUDED.minimum_order_amount,
			is_active = EXCLUDED.is_active`, rule)
	if err != nil {
		return fmt.Errorf("failed to upsert discount rule %s: %w", rule.Code, err)
	}
	return nil
}
