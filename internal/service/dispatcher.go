package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
	"github.com/onurcolak/whatsapp-automation-service/pkg/metrics"
	"github.com/onurcolak/whatsapp-automation-service/pkg/phone"
	"github.com/onurcolak/whatsapp-automation-service/pkg/whatsapp"
)

type textSender interface {
	SendText(ctx context.Context, toPhone, text string) (string, error)
}

type complianceChecker interface {
	ValidateCompliance(ctx context.Context, phoneNumber string) (domain.ComplianceResult, error)
}

type RateLimiter interface {
	CanSendMessage(ctx context.Context, senderID, phoneNumber string) domain.RateLimitDecision
	IncrementCount(ctx context.Context, senderID, phoneNumber string) error
}

type MediaQueue interface {
	Enqueue(ctx context.Context, messageID string) error
}

type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeBlocked
	OutcomeSent
	OutcomeFailed
	OutcomeQueued
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBlocked:
		return "blocked"
	case OutcomeSent:
		return "sent"
	case OutcomeFailed:
		return "failed"
	case OutcomeQueued:
		return "queued"
	}
	return "skipped"
}

type DispatchResult struct {
	Outcome Outcome
	Record  *domain.MessageRecord
	Reason  string
}

// Dispatcher runs one outbound message through consent, rate limiting,
// tracking and the provider. Provider failures end up on the record; only
// storage failures are returned as errors.
type Dispatcher struct {
	tracker       *DeliveryTracker
	sender        textSender
	consent       complianceChecker
	limiter       RateLimiter
	media         MediaQueue
	defaultRegion string
}

func NewDispatcher(
	tracker *DeliveryTracker,
	sender textSender,
	consent complianceChecker,
	limiter RateLimiter,
	media MediaQueue,
	defaultRegion string,
) *Dispatcher {
	return &Dispatcher{
		tracker:       tracker,
		sender:        sender,
		consent:       consent,
		limiter:       limiter,
		media:         media,
		defaultRegion: defaultRegion,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.NewMessage) (DispatchResult, error) {
	msg.Direction = domain.DirectionOutbound
	if msg.MessageType == "" {
		msg.MessageType = domain.MessageTypeText
	}

	normalized := phone.Normalize(msg.PhoneNumber, d.defaultRegion)
	if normalized == "" {
		logger.Warnf("Skipping send to unparseable phone %q", msg.PhoneNumber)
		return d.done(DispatchResult{Outcome: OutcomeSkipped, Reason: "invalid phone number"}), nil
	}
	msg.PhoneNumber = normalized

	compliance, err := d.consent.ValidateCompliance(ctx, normalized)
	if err != nil {
		return DispatchResult{}, err
	}
	if !compliance.Compliant {
		logger.Debugf("Skipping send to %s: %s", normalized, compliance.Reason)
		return d.done(DispatchResult{Outcome: OutcomeSkipped, Reason: compliance.Reason}), nil
	}

	if decision := d.limiter.CanSendMessage(ctx, msg.SenderID, normalized); !decision.Allowed {
		rec, err := d.tracker.RecordBlocked(ctx, msg, decision.Reason)
		if err != nil {
			return DispatchResult{}, err
		}
		logger.Warnf("Rate limited send to %s: %s", normalized, decision.Reason)
		return d.done(DispatchResult{Outcome: OutcomeBlocked, Record: rec, Reason: decision.Reason}), nil
	}

	rec, err := d.tracker.TrackMessage(ctx, msg)
	if err != nil {
		return DispatchResult{}, err
	}

	if rec.MessageType != domain.MessageTypeText {
		if d.media != nil {
			if err := d.media.Enqueue(ctx, rec.ID); err != nil {
				logger.Warnf("Failed to hand off %s message %s: %v", rec.MessageType, rec.ID, err)
			}
		}
		return d.done(DispatchResult{Outcome: OutcomeQueued, Record: rec}), nil
	}

	return d.send(ctx, rec)
}

// send delivers an already tracked text record.
func (d *Dispatcher) send(ctx context.Context, rec *domain.MessageRecord) (DispatchResult, error) {
	providerID, sendErr := d.sender.SendText(ctx, rec.PhoneNumber, rec.Content)
	if sendErr != nil {
		logger.Errorf("Failed to send message %s to %s: %v", rec.ID, rec.PhoneNumber, sendErr)
		if err := d.tracker.MarkFailed(ctx, rec, errorInfoFrom(sendErr)); err != nil {
			return DispatchResult{}, err
		}
		return d.done(DispatchResult{Outcome: OutcomeFailed, Record: rec, Reason: sendErr.Error()}), nil
	}

	if err := d.tracker.MarkSent(ctx, rec, providerID); err != nil {
		return DispatchResult{}, err
	}

	if err := d.limiter.IncrementCount(ctx, rec.SenderID, rec.PhoneNumber); err != nil {
		logger.Warnf("Failed to count send for %s: %v", rec.PhoneNumber, err)
	}

	logger.Infof("Sent message %s to %s (providerMessageId: %s)", rec.ID, rec.PhoneNumber, providerID)

	return d.done(DispatchResult{Outcome: OutcomeSent, Record: rec}), nil
}

func (d *Dispatcher) done(r DispatchResult) DispatchResult {
	metrics.MessagesTotal.WithLabelValues(r.Outcome.String()).Inc()
	return r
}

func errorInfoFrom(err error) *domain.ErrorInfo {
	var providerErr *whatsapp.ProviderError
	if errors.As(err, &providerErr) {
		return &domain.ErrorInfo{Code: strconv.Itoa(providerErr.Code), Message: providerErr.Message}
	}
	return &domain.ErrorInfo{Code: "send_error", Message: err.Error()}
}
