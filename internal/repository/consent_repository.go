package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
)

// ConsentRepository is read-only; consent rows are owned by the CRM.
type ConsentRepository struct {
	db *sqlx.DB
}

func NewConsentRepository(db *sqlx.DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

// Latest returns the most recent consent row for phone on channel, or nil.
func (r *ConsentRepository) Latest(ctx context.Context, phoneNumber, channel string) (*domain.ConsentRecord, error) {
	query := `
		SELECT id, phone_number, channel, status, source, updated_at
		FROM consent_records
		WHERE phone_number = ? AND channel = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`

	var record domain.ConsentRecord
	if err := r.db.GetContext(ctx, &record, query, phoneNumber, channel); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get consent record: %w", err)
	}

	return &record, nil
}
