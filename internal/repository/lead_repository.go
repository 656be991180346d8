package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
)

const leadColumns = `id, name, phone_number, status, workshop_name, assigned_to_user_id, labels,
	rule_throttle, chatbot_state, created_at, updated_at`

// LeadRepository reads and patches the CRM lead table.
type LeadRepository struct {
	db *sqlx.DB
}

func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

func (r *LeadRepository) getOne(ctx context.Context, where string, args ...any) (*domain.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE ` + where

	var lead domain.Lead
	if err := r.db.GetContext(ctx, &lead, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}

	return &lead, nil
}

func (r *LeadRepository) FindByID(ctx context.Context, id int64) (*domain.Lead, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *LeadRepository) FindByPhone(ctx context.Context, phoneNumber string) (*domain.Lead, error) {
	return r.getOne(ctx, "phone_number = ?", phoneNumber)
}

// FindByIDs loads the given leads in the order of ids, skipping unknown ids.
func (r *LeadRepository) FindByIDs(ctx context.Context, ids []int64) ([]domain.Lead, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT `+leadColumns+` FROM leads WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build lead id query: %w", err)
	}

	var leads []domain.Lead
	if err := r.db.SelectContext(ctx, &leads, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get leads by id: %w", err)
	}

	byID := make(map[int64]domain.Lead, len(leads))
	for _, l := range leads {
		byID[l.ID] = l
	}

	ordered := make([]domain.Lead, 0, len(leads))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			ordered = append(ordered, l)
			delete(byID, id)
		}
	}

	return ordered, nil
}

// Find returns up to limit leads matching filter, oldest first.
func (r *LeadRepository) Find(ctx context.Context, filter domain.LeadFilter, limit int) ([]domain.Lead, error) {
	where, args, err := buildLeadWhere(filter)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + leadColumns + ` FROM leads WHERE ` + where + ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	var leads []domain.Lead
	if err := r.db.SelectContext(ctx, &leads, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to find leads: %w", err)
	}

	return leads, nil
}

func (r *LeadRepository) Create(ctx context.Context, lead *domain.Lead) error {
	query := `
		INSERT INTO leads (name, phone_number, status, workshop_name, assigned_to_user_id, labels, rule_throttle, chatbot_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		lead.Name, lead.PhoneNumber, lead.Status, lead.WorkshopName, lead.AssignedToUserID,
		lead.Labels, lead.RuleThrottle, lead.Chatbot,
	)
	if err != nil {
		return fmt.Errorf("failed to create lead: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	lead.ID = id
	now := time.Now().UTC()
	lead.CreatedAt, lead.UpdatedAt = now, now

	return nil
}

// UpdateFields applies a field-level merge. AddLabels must already be
// resolved by the caller (see LeadUpdate.Resolve).
func (r *LeadRepository) UpdateFields(ctx context.Context, id int64, u domain.LeadUpdate) error {
	var (
		sets []string
		args []any
	)

	if u.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *u.Name)
	}
	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.WorkshopName != nil {
		sets = append(sets, "workshop_name = ?")
		args = append(args, *u.WorkshopName)
	}
	if u.AssignedToUserID != nil {
		sets = append(sets, "assigned_to_user_id = ?")
		args = append(args, *u.AssignedToUserID)
	}
	if u.Labels != nil {
		sets = append(sets, "labels = ?")
		args = append(args, domain.StringList(*u.Labels))
	}
	if u.RuleThrottle != nil {
		sets = append(sets, "rule_throttle = ?")
		args = append(args, *u.RuleThrottle)
	}
	if u.Chatbot != nil {
		sets = append(sets, "chatbot_state = ?")
		args = append(args, *u.Chatbot)
	}

	if len(sets) == 0 {
		return nil
	}

	query := `UPDATE leads SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update lead %d: %w", id, err)
	}

	return ensureUpdated(ctx, r.db, result, "leads", id, domain.ErrLeadNotFound)
}
