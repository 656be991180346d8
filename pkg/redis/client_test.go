package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeys_BucketByUTC(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2026, 3, 2, 1, 15, 0, 0, ist) // 2026-03-01 19:45 UTC

	assert.Equal(t, "ratelimit:recipient:studio:+919876543210:20260301", recipientKey("studio", "+919876543210", now))
	assert.Equal(t, "ratelimit:sender:studio:202603011945", senderKey("studio", now))
}

func TestNoopLimiter_AlwaysAllows(t *testing.T) {
	var l NoopLimiter
	assert.True(t, l.CanSendMessage(context.Background(), "studio", "+919876543210").Allowed)
	assert.NoError(t, l.IncrementCount(context.Background(), "studio", "+919876543210"))
}
