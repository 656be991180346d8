package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/onurcolak/whatsapp-automation-service/environments"
	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
)

type Client struct {
	client valkey.Client
	limits environments.RateLimitConfig
	now    func() time.Time
}

const (
	recipientKeyPrefix = "ratelimit:recipient:"
	senderKeyPrefix    = "ratelimit:sender:"
	recipientKeyTTL    = 25 * time.Hour
	senderKeyTTL       = 2 * time.Minute
)

func NewRedisClient(cfg environments.RedisConfig, limits environments.RateLimitConfig) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infof("Connected to Redis (via Valkey client)")

	return &Client{client: client, limits: limits, now: time.Now}, nil
}

func recipientKey(senderID, phone string, now time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s", recipientKeyPrefix, senderID, phone, now.UTC().Format("20060102"))
}

func senderKey(senderID string, now time.Time) string {
	return fmt.Sprintf("%s%s:%s", senderKeyPrefix, senderID, now.UTC().Format("200601021504"))
}

// CanSendMessage checks the per-recipient daily and per-sender minute caps.
// Counter read failures fail open.
func (c *Client) CanSendMessage(ctx context.Context, senderID, phone string) domain.RateLimitDecision {
	now := c.now()

	if c.limits.PerRecipientDaily > 0 {
		count, err := c.counter(ctx, recipientKey(senderID, phone, now))
		if err != nil {
			logger.Warnf("rate limiter: failed to read recipient counter for %s: %v", phone, err)
			return domain.RateLimitDecision{Allowed: true}
		}
		if count >= int64(c.limits.PerRecipientDaily) {
			return domain.RateLimitDecision{
				Reason: fmt.Sprintf("daily limit of %d messages to %s reached", c.limits.PerRecipientDaily, phone),
			}
		}
	}

	if c.limits.PerSenderMinute > 0 {
		count, err := c.counter(ctx, senderKey(senderID, now))
		if err != nil {
			logger.Warnf("rate limiter: failed to read sender counter for %s: %v", senderID, err)
			return domain.RateLimitDecision{Allowed: true}
		}
		if count >= int64(c.limits.PerSenderMinute) {
			return domain.RateLimitDecision{
				Reason: fmt.Sprintf("sender %s exceeded %d messages per minute", senderID, c.limits.PerSenderMinute),
			}
		}
	}

	return domain.RateLimitDecision{Allowed: true}
}

// IncrementCount records one successful send against both counters.
func (c *Client) IncrementCount(ctx context.Context, senderID, phone string) error {
	now := c.now()
	rKey := recipientKey(senderID, phone, now)
	sKey := senderKey(senderID, now)

	results := c.client.DoMulti(ctx,
		c.client.B().Incr().Key(rKey).Build(),
		c.client.B().Expire().Key(rKey).Seconds(int64(recipientKeyTTL.Seconds())).Build(),
		c.client.B().Incr().Key(sKey).Build(),
		c.client.B().Expire().Key(sKey).Seconds(int64(senderKeyTTL.Seconds())).Build(),
	)
	for _, r := range results {
		if err := r.Error(); err != nil {
			return fmt.Errorf("failed to increment rate limit counters: %w", err)
		}
	}

	return nil
}

func (c *Client) counter(ctx context.Context, key string) (int64, error) {
	count, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).AsInt64()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

func (c *Client) Close() error {
	c.client.Close()
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

// NoopLimiter allows every send. It stands in when Valkey is not configured.
type NoopLimiter struct{}

func (NoopLimiter) CanSendMessage(context.Context, string, string) domain.RateLimitDecision {
	return domain.RateLimitDecision{Allowed: true}
}

func (NoopLimiter) IncrementCount(context.Context, string, string) error { return nil }
