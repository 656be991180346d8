package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
)

const messageColumns = `id, lead_id, job_id, rule_id, sender_id, phone_number, direction, message_type, content,
	status, retry_count, next_retry_time, last_error_code, last_error_message, provider_message_id,
	sent_at, created_at, updated_at`

// mysqlDuplicateEntry is ER_DUP_ENTRY, raised by uq_messages_provider_id.
const mysqlDuplicateEntry = 1062

// MessageRepository handles database operations for WhatsApp message records.
type MessageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, m *domain.MessageRecord) error {
	query := `
		INSERT INTO whatsapp_messages (` + messageColumns + `)
		VALUES (:id, :lead_id, :job_id, :rule_id, :sender_id, :phone_number, :direction, :message_type, :content,
			:status, :retry_count, :next_retry_time, :last_error_code, :last_error_message, :provider_message_id,
			:sent_at, :created_at, :updated_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateMessage, m.ID)
		}
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

// Update persists the mutable lifecycle fields of m.
func (r *MessageRepository) Update(ctx context.Context, m *domain.MessageRecord) error {
	query := `
		UPDATE whatsapp_messages
		SET status = :status,
		    retry_count = :retry_count,
		    next_retry_time = :next_retry_time,
		    last_error_code = :last_error_code,
		    last_error_message = :last_error_message,
		    provider_message_id = :provider_message_id,
		    sent_at = :sent_at,
		    updated_at = :updated_at
		WHERE id = :id
	`

	result, err := r.db.NamedExecContext(ctx, query, m)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}

	return ensureUpdated(ctx, r.db, result, "whatsapp_messages", m.ID, domain.ErrMessageNotFound)
}

func (r *MessageRepository) getOne(ctx context.Context, where string, args ...any) (*domain.MessageRecord, error) {
	query := `SELECT ` + messageColumns + ` FROM whatsapp_messages WHERE ` + where

	var message domain.MessageRecord
	if err := r.db.GetContext(ctx, &message, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &message, nil
}

// GetByID returns the record if it was created at or after since, or nil.
func (r *MessageRepository) GetByID(ctx context.Context, id string, since time.Time) (*domain.MessageRecord, error) {
	return r.getOne(ctx, "id = ? AND created_at >= ?", id, since)
}

func (r *MessageRepository) GetByProviderID(ctx context.Context, providerID string, since time.Time) (*domain.MessageRecord, error) {
	return r.getOne(ctx, "provider_message_id = ? AND created_at >= ?", providerID, since)
}

// ListConversation returns both directions for a lead and phone in creation order.
func (r *MessageRepository) ListConversation(
	ctx context.Context,
	leadID *int64,
	phoneNumber string,
	since time.Time,
) ([]domain.MessageRecord, error) {
	query := `SELECT ` + messageColumns + ` FROM whatsapp_messages WHERE phone_number = ? AND created_at >= ?`
	args := []any{phoneNumber, since}

	if leadID != nil {
		query += ` AND lead_id = ?`
		args = append(args, *leadID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	var messages []domain.MessageRecord
	if err := r.db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return messages, nil
}

// ListRecentByLead returns the newest limit records for a lead, newest first.
func (r *MessageRepository) ListRecentByLead(
	ctx context.Context,
	leadID int64,
	limit int,
	since time.Time,
) ([]domain.MessageRecord, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM whatsapp_messages
		WHERE lead_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	var messages []domain.MessageRecord
	if err := r.db.SelectContext(ctx, &messages, query, leadID, since, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent messages: %w", err)
	}

	return messages, nil
}

// CountInbound counts received messages from a lead or phone, including expired ones.
func (r *MessageRepository) CountInbound(ctx context.Context, leadID int64, phoneNumber string) (int64, error) {
	query := `
		SELECT COUNT(*) FROM whatsapp_messages
		WHERE direction = 'inbound' AND (lead_id = ? OR phone_number = ?)
	`

	var count int64
	if err := r.db.GetContext(ctx, &count, query, leadID, phoneNumber); err != nil {
		return 0, fmt.Errorf("failed to count inbound messages: %w", err)
	}

	return count, nil
}

// ListRetryDue returns failed outbound text records whose backoff has elapsed.
func (r *MessageRepository) ListRetryDue(
	ctx context.Context,
	now time.Time,
	limit int,
	since time.Time,
) ([]domain.MessageRecord, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM whatsapp_messages
		WHERE status = 'failed'
		  AND direction = 'outbound'
		  AND message_type = 'text'
		  AND retry_count < ?
		  AND next_retry_time IS NOT NULL
		  AND next_retry_time <= ?
		  AND created_at >= ?
		ORDER BY next_retry_time ASC
		LIMIT ?
	`

	var messages []domain.MessageRecord
	if err := r.db.SelectContext(ctx, &messages, query, domain.MaxRetries, now, since, limit); err != nil {
		return nil, fmt.Errorf("failed to get retryable messages: %w", err)
	}

	return messages, nil
}

// GetStats returns counts per status among unexpired records.
func (r *MessageRepository) GetStats(ctx context.Context, since time.Time) (*domain.MessageStats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END), 0)    AS queued,
			COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0)      AS sent,
			COALESCE(SUM(CASE WHEN status = 'delivered' THEN 1 ELSE 0 END), 0) AS delivered,
			COALESCE(SUM(CASE WHEN status = 'read' THEN 1 ELSE 0 END), 0)      AS read_count,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)    AS failed
		FROM whatsapp_messages
		WHERE created_at >= ?
	`

	var stats domain.MessageStats
	if err := r.db.GetContext(ctx, &stats, query, since); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return &stats, nil
}

// DeleteCreatedBefore hard-deletes records created before cutoff.
func (r *MessageRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM whatsapp_messages WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired messages: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}
