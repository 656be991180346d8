package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
)

const (
	baseRetryBackoff = 5 * time.Minute

	ErrorCodeRateLimited = "rate_limited"
)

type messageStore interface {
	Create(ctx context.Context, m *domain.MessageRecord) error
	Update(ctx context.Context, m *domain.MessageRecord) error
	GetByID(ctx context.Context, id string, since time.Time) (*domain.MessageRecord, error)
	GetByProviderID(ctx context.Context, providerID string, since time.Time) (*domain.MessageRecord, error)
	ListConversation(ctx context.Context, leadID *int64, phoneNumber string, since time.Time) ([]domain.MessageRecord, error)
	ListRecentByLead(ctx context.Context, leadID int64, limit int, since time.Time) ([]domain.MessageRecord, error)
	CountInbound(ctx context.Context, leadID int64, phoneNumber string) (int64, error)
	ListRetryDue(ctx context.Context, now time.Time, limit int, since time.Time) ([]domain.MessageRecord, error)
	GetStats(ctx context.Context, since time.Time) (*domain.MessageStats, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DeliveryTracker owns the message record lifecycle.
type DeliveryTracker struct {
	store messageStore
	now   func() time.Time
	newID func() string
}

func NewDeliveryTracker(store messageStore) *DeliveryTracker {
	return &DeliveryTracker{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: newMessageID,
	}
}

// newMessageID returns a time-ordered UUIDv7 so ids sort in creation order.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// RetryBackoff is the delay before retry attempt n (n >= 1). Each step doubles.
func RetryBackoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return baseRetryBackoff << (n - 1)
}

func (t *DeliveryTracker) cutoff(now time.Time) time.Time {
	return now.Add(-domain.MessageRetention)
}

func (t *DeliveryTracker) newRecord(in domain.NewMessage, now time.Time) (*domain.MessageRecord, error) {
	phone := strings.TrimSpace(in.PhoneNumber)
	if phone == "" {
		return nil, errors.New("phone number is required")
	}

	direction := in.Direction
	if direction == "" {
		direction = domain.DirectionOutbound
	}
	if direction != domain.DirectionOutbound && direction != domain.DirectionInbound {
		return nil, fmt.Errorf("invalid direction %q", in.Direction)
	}

	messageType := in.MessageType
	if messageType == "" {
		messageType = domain.MessageTypeText
	}

	rec := &domain.MessageRecord{
		ID:          t.newID(),
		LeadID:      in.LeadID,
		JobID:       in.JobID,
		RuleID:      in.RuleID,
		SenderID:    in.SenderID,
		PhoneNumber: phone,
		Direction:   direction,
		MessageType: messageType,
		Content:     in.Content,
		Status:      domain.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if id := strings.TrimSpace(in.ProviderMessageID); id != "" {
		rec.ProviderMessageID = &id
	}

	return rec, nil
}

// TrackMessage creates a record. Outbound records start queued; inbound
// records are already received and start delivered.
func (t *DeliveryTracker) TrackMessage(ctx context.Context, in domain.NewMessage) (*domain.MessageRecord, error) {
	rec, err := t.newRecord(in, t.now())
	if err != nil {
		return nil, err
	}

	if rec.Direction == domain.DirectionInbound {
		rec.Status = domain.StatusDelivered
	}

	if err := t.store.Create(ctx, rec); err != nil {
		return nil, err
	}

	return rec, nil
}

// RecordBlocked stores a terminal failed record for a send the rate limiter denied.
func (t *DeliveryTracker) RecordBlocked(ctx context.Context, in domain.NewMessage, reason string) (*domain.MessageRecord, error) {
	rec, err := t.newRecord(in, t.now())
	if err != nil {
		return nil, err
	}

	rec.Status = domain.StatusFailed
	rec.RetryCount = domain.MaxRetries
	rec.SetLastError(&domain.ErrorInfo{Code: ErrorCodeRateLimited, Message: reason})

	if err := t.store.Create(ctx, rec); err != nil {
		return nil, err
	}

	return rec, nil
}

// UpdateStatus applies a status transition to the record with id.
func (t *DeliveryTracker) UpdateStatus(
	ctx context.Context,
	id string,
	status domain.MessageStatus,
	info *domain.ErrorInfo,
) (*domain.MessageRecord, error) {
	rec, err := t.GetMessageStatus(ctx, id)
	if err != nil {
		return nil, err
	}

	return t.apply(ctx, rec, status, info, "")
}

// UpdateStatusByProviderID applies a delivery callback keyed by the provider's message id.
func (t *DeliveryTracker) UpdateStatusByProviderID(
	ctx context.Context,
	providerID string,
	status domain.MessageStatus,
	info *domain.ErrorInfo,
) (*domain.MessageRecord, error) {
	now := t.now()

	rec, err := t.store.GetByProviderID(ctx, providerID, t.cutoff(now))
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Expired(now) {
		return nil, domain.ErrMessageNotFound
	}

	return t.apply(ctx, rec, status, info, "")
}

// MarkSent records a successful provider hand-off.
func (t *DeliveryTracker) MarkSent(ctx context.Context, rec *domain.MessageRecord, providerMessageID string) error {
	_, err := t.apply(ctx, rec, domain.StatusSent, nil, providerMessageID)
	return err
}

// MarkFailed records a failed attempt and schedules the next retry if any remain.
func (t *DeliveryTracker) MarkFailed(ctx context.Context, rec *domain.MessageRecord, info *domain.ErrorInfo) error {
	_, err := t.apply(ctx, rec, domain.StatusFailed, info, "")
	return err
}

func (t *DeliveryTracker) apply(
	ctx context.Context,
	rec *domain.MessageRecord,
	status domain.MessageStatus,
	info *domain.ErrorInfo,
	providerMessageID string,
) (*domain.MessageRecord, error) {
	changed, err := transition(rec, status, info, providerMessageID, t.now())
	if err != nil {
		return nil, err
	}

	if !changed {
		logger.Debugf("Message %s: %s -> %s is a no-op", rec.ID, rec.Status, status)
		return rec, nil
	}

	if err := t.store.Update(ctx, rec); err != nil {
		return nil, err
	}

	return rec, nil
}

// transition mutates rec in place and reports whether anything changed.
// Forward moves only advance; repeating or regressing is a no-op. Failed is
// reachable from any non-terminal state, and a failed record may still move
// forward when the provider later reports success.
func transition(
	rec *domain.MessageRecord,
	to domain.MessageStatus,
	info *domain.ErrorInfo,
	providerMessageID string,
	now time.Time,
) (bool, error) {
	if _, err := domain.ParseMessageStatus(string(to)); err != nil {
		return false, err
	}

	changed := false
	if providerMessageID != "" && (rec.ProviderMessageID == nil || *rec.ProviderMessageID != providerMessageID) {
		id := providerMessageID
		rec.ProviderMessageID = &id
		changed = true
	}

	switch {
	case to == domain.StatusQueued:
		if rec.Status != domain.StatusQueued {
			return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, rec.Status, to)
		}

	case to == domain.StatusFailed:
		if rec.Terminal() {
			break
		}
		rec.Status = domain.StatusFailed
		if rec.RetryCount < domain.MaxRetries {
			rec.RetryCount++
		}
		if rec.RetryCount < domain.MaxRetries {
			next := now.Add(RetryBackoff(rec.RetryCount))
			rec.NextRetryTime = &next
		} else {
			rec.NextRetryTime = nil
		}
		rec.SetLastError(info)
		changed = true

	case rec.Status == domain.StatusFailed || to.Rank() > rec.Status.Rank():
		rec.Status = to
		rec.NextRetryTime = nil
		if rec.SentAt == nil {
			sentAt := now
			rec.SentAt = &sentAt
		}
		changed = true
	}

	if changed {
		rec.UpdatedAt = now
	}

	return changed, nil
}

// GetMessageStatus returns the record or ErrMessageNotFound once it has expired.
func (t *DeliveryTracker) GetMessageStatus(ctx context.Context, id string) (*domain.MessageRecord, error) {
	now := t.now()

	rec, err := t.store.GetByID(ctx, id, t.cutoff(now))
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Expired(now) {
		return nil, domain.ErrMessageNotFound
	}

	return rec, nil
}

// GetConversation returns both directions for a lead and phone in creation order.
func (t *DeliveryTracker) GetConversation(ctx context.Context, leadID *int64, phoneNumber string) ([]domain.MessageRecord, error) {
	return t.store.ListConversation(ctx, leadID, phoneNumber, t.cutoff(t.now()))
}

// RecentTurns returns up to limit messages for a lead as role-tagged turns,
// oldest first.
func (t *DeliveryTracker) RecentTurns(ctx context.Context, leadID int64, limit int) ([]domain.ConversationTurn, error) {
	recent, err := t.store.ListRecentByLead(ctx, leadID, limit, t.cutoff(t.now()))
	if err != nil {
		return nil, err
	}

	turns := make([]domain.ConversationTurn, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		role := "assistant"
		if recent[i].Direction == domain.DirectionInbound {
			role = "user"
		}
		turns = append(turns, domain.ConversationTurn{Role: role, Content: recent[i].Content})
	}

	return turns, nil
}

// HasProviderID reports whether a live record already carries providerID.
func (t *DeliveryTracker) HasProviderID(ctx context.Context, providerID string) (bool, error) {
	rec, err := t.store.GetByProviderID(ctx, providerID, t.cutoff(t.now()))
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// HasInbound reports whether anything was ever received from the lead or phone.
func (t *DeliveryTracker) HasInbound(ctx context.Context, leadID int64, phoneNumber string) (bool, error) {
	n, err := t.store.CountInbound(ctx, leadID, phoneNumber)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DueForRetry lists failed outbound text records whose backoff has elapsed at now.
func (t *DeliveryTracker) DueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.MessageRecord, error) {
	return t.store.ListRetryDue(ctx, now, limit, t.cutoff(now))
}

func (t *DeliveryTracker) GetStats(ctx context.Context) (*domain.MessageStats, error) {
	return t.store.GetStats(ctx, t.cutoff(t.now()))
}

// PurgeExpired hard-deletes records past the retention window.
func (t *DeliveryTracker) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := t.store.DeleteCreatedBefore(ctx, t.cutoff(t.now()))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Infof("Purged %d expired message records", n)
	}
	return n, nil
}
