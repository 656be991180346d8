package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/onurcolak/whatsapp-automation-service/environments"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
)

// MediaSend is the body published for a queued non-text record.
type MediaSend struct {
	MessageID string `json:"messageId"`
}

// Publisher hands queued media records to the worker that owns non-text sends.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

func NewPublisher(cfg environments.RabbitMQConfig) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.MediaQueue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %q: %w", cfg.MediaQueue, err)
	}

	logger.Infof("Connected to RabbitMQ, media queue %q", cfg.MediaQueue)

	return &Publisher{conn: conn, channel: ch, queue: cfg.MediaQueue}, nil
}

// Enqueue publishes messageID on the media queue as a persistent message.
func (p *Publisher) Enqueue(ctx context.Context, messageID string) error {
	body, err := json.Marshal(MediaSend{MessageID: messageID})
	if err != nil {
		return fmt.Errorf("failed to marshal media send: %w", err)
	}

	err = p.channel.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish media send %s: %w", messageID, err)
	}

	return nil
}

// IsClosed reports whether the broker connection has gone away.
func (p *Publisher) IsClosed() bool {
	return p.conn == nil || p.conn.IsClosed()
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			return err
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
