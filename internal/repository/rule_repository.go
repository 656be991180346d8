package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
)

type RuleRepository struct {
	db *sqlx.DB
}

func NewRuleRepository(db *sqlx.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// FindEnabled returns enabled rules in creation order.
func (r *RuleRepository) FindEnabled(ctx context.Context) ([]domain.AutomationRule, error) {
	query := `
		SELECT id, name, enabled, trigger_type, conditions, keywords, action_type, action_text,
		       action_lead_updates, throttle_minutes_per_lead, created_at
		FROM automation_rules
		WHERE enabled = TRUE
		ORDER BY created_at ASC, id ASC
	`

	var rules []domain.AutomationRule
	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, fmt.Errorf("failed to get enabled rules: %w", err)
	}

	return rules, nil
}
