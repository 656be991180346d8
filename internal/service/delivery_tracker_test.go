package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
)

func trackOutbound(t *testing.T, h *harness) *domain.MessageRecord {
	t.Helper()
	rec, err := h.tracker.TrackMessage(context.Background(), domain.NewMessage{
		SenderID:    "studio",
		PhoneNumber: phoneAsha,
		Content:     "hello",
	})
	require.NoError(t, err)
	return rec
}

func TestTrackMessage_Defaults(t *testing.T) {
	h := newHarness()
	rec := trackOutbound(t, h)

	assert.Equal(t, domain.StatusQueued, rec.Status)
	assert.Equal(t, domain.DirectionOutbound, rec.Direction)
	assert.Equal(t, domain.MessageTypeText, rec.MessageType)
	assert.Equal(t, h.clock.Now(), rec.CreatedAt)

	in, err := h.tracker.TrackMessage(context.Background(), domain.NewMessage{
		PhoneNumber: phoneAsha,
		Direction:   domain.DirectionInbound,
		Content:     "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, in.Status)
}

func TestTrackMessage_RequiresPhone(t *testing.T) {
	h := newHarness()
	_, err := h.tracker.TrackMessage(context.Background(), domain.NewMessage{Content: "x"})
	assert.Error(t, err)
}

func TestUpdateStatus_ForwardOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := trackOutbound(t, h)

	got, err := h.tracker.UpdateStatus(ctx, rec.ID, domain.StatusDelivered, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, got.Status)
	require.NotNil(t, got.SentAt)

	// Regressing is an idempotent no-op.
	got, err = h.tracker.UpdateStatus(ctx, rec.ID, domain.StatusSent, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, got.Status)

	got, err = h.tracker.UpdateStatus(ctx, rec.ID, domain.StatusRead, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, got.Status)

	// Read is terminal, failure reports are ignored.
	got, err = h.tracker.UpdateStatus(ctx, rec.ID, domain.StatusFailed, &domain.ErrorInfo{Code: "131026"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, got.Status)
	assert.Zero(t, got.RetryCount)

	_, err = h.tracker.UpdateStatus(ctx, rec.ID, domain.StatusQueued, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.tracker.UpdateStatus(ctx, rec.ID, domain.MessageStatus("bounced"), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestUpdateStatus_RetryCapAndBackoff(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := trackOutbound(t, h)

	var previousDelay time.Duration
	for attempt := 1; attempt <= domain.MaxRetries; attempt++ {
		got, err := h.tracker.UpdateStatus(ctx, rec.ID, domain.StatusFailed, &domain.ErrorInfo{Code: "500", Message: "boom"})
		require.NoError(t, err)
		assert.Equal(t, attempt, got.RetryCount)

		if attempt < domain.MaxRetries {
			require.NotNil(t, got.NextRetryTime)
			delay := got.NextRetryTime.Sub(h.clock.Now())
			assert.Greater(t, delay, previousDelay)
			previousDelay = delay
		} else {
			assert.Nil(t, got.NextRetryTime)
			assert.True(t, got.Terminal())
		}
		h.clock.Advance(time.Minute)
	}

	got, err := h.tracker.UpdateStatus(ctx, rec.ID, domain.StatusFailed, &domain.ErrorInfo{Code: "500"})
	require.NoError(t, err)
	assert.Equal(t, domain.MaxRetries, got.RetryCount)
	assert.Nil(t, got.NextRetryTime)
	assert.Equal(t, "boom", got.LastError().Message)
}

func TestRetryBackoff_StrictlyIncreasing(t *testing.T) {
	for n := 1; n < 6; n++ {
		assert.Greater(t, RetryBackoff(n+1), RetryBackoff(n))
	}
	assert.Equal(t, 5*time.Minute, RetryBackoff(1))
	assert.Equal(t, 10*time.Minute, RetryBackoff(2))
}

func TestUpdateStatus_FailedCanBeRedelivered(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := trackOutbound(t, h)

	_, err := h.tracker.UpdateStatus(ctx, rec.ID, domain.StatusFailed, &domain.ErrorInfo{Code: "1"})
	require.NoError(t, err)

	got, err := h.tracker.UpdateStatus(ctx, rec.ID, domain.StatusSent, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)
	assert.Nil(t, got.NextRetryTime)
	assert.Equal(t, 1, got.RetryCount)
}

func TestGetMessageStatus_ExpiresAfterRetention(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := trackOutbound(t, h)

	h.clock.Advance(89 * 24 * time.Hour)
	_, err := h.tracker.GetMessageStatus(ctx, rec.ID)
	require.NoError(t, err)

	h.clock.Advance(2 * 24 * time.Hour)
	_, err = h.tracker.GetMessageStatus(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	_, err = h.tracker.UpdateStatus(ctx, rec.ID, domain.StatusDelivered, nil)
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	purged, err := h.tracker.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
	assert.Empty(t, h.messages.all())
}

func TestGetConversation_CreationOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	leadID := int64(1)

	for i, dir := range []domain.Direction{domain.DirectionInbound, domain.DirectionOutbound, domain.DirectionInbound} {
		_, err := h.tracker.TrackMessage(ctx, domain.NewMessage{
			LeadID:      &leadID,
			PhoneNumber: phoneAsha,
			Direction:   dir,
			Content:     string(rune('a' + i)),
		})
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}
	_, err := h.tracker.TrackMessage(ctx, domain.NewMessage{PhoneNumber: phoneDev, Content: "other"})
	require.NoError(t, err)

	conv, err := h.tracker.GetConversation(ctx, &leadID, phoneAsha)
	require.NoError(t, err)
	require.Len(t, conv, 3)
	assert.Equal(t, "a", conv[0].Content)
	assert.Equal(t, "c", conv[2].Content)

	turns, err := h.tracker.RecentTurns(ctx, leadID, 2)
	require.NoError(t, err)
	assert.Equal(t, []domain.ConversationTurn{
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
	}, turns)
}

func TestUpdateStatusByProviderID(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := trackOutbound(t, h)
	require.NoError(t, h.tracker.MarkSent(ctx, rec, "wamid.abc"))

	got, err := h.tracker.UpdateStatusByProviderID(ctx, "wamid.abc", domain.StatusDelivered, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, got.Status)

	_, err = h.tracker.UpdateStatusByProviderID(ctx, "wamid.missing", domain.StatusRead, nil)
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestRetention_BoundaryMatchesExpired(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	rec := trackOutbound(t, h)

	h.clock.Advance(domain.MessageRetention)
	got, err := h.tracker.GetMessageStatus(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Expired(h.clock.Now()))

	purged, err := h.tracker.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)

	h.clock.Advance(time.Second)
	_, err = h.tracker.GetMessageStatus(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	purged, err = h.tracker.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
}

func TestTrackMessage_ProviderIDIsUnique(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	in := domain.NewMessage{PhoneNumber: phoneAsha, Direction: domain.DirectionInbound, Content: "hi", ProviderMessageID: "wamid.IN7"}

	rec, err := h.tracker.TrackMessage(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, rec.ProviderMessageID)
	assert.Equal(t, "wamid.IN7", *rec.ProviderMessageID)

	seen, err := h.tracker.HasProviderID(ctx, "wamid.IN7")
	require.NoError(t, err)
	assert.True(t, seen)

	_, err = h.tracker.TrackMessage(ctx, in)
	assert.ErrorIs(t, err, domain.ErrDuplicateMessage)
}
