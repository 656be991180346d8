package service

import (
	"context"
	"time"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
)

const ErrorCodeNotCompliant = "not_compliant"

type RetryReport struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Retrier re-sends failed text messages whose backoff has elapsed.
type Retrier struct {
	tracker    *DeliveryTracker
	dispatcher *Dispatcher
}

func NewRetrier(tracker *DeliveryTracker, dispatcher *Dispatcher) *Retrier {
	return &Retrier{tracker: tracker, dispatcher: dispatcher}
}

func (r *Retrier) RetryDue(ctx context.Context, now time.Time, limit int) (*RetryReport, error) {
	due, err := r.tracker.DueForRetry(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	report := &RetryReport{}
	for i := range due {
		rec := &due[i]

		compliance, err := r.dispatcher.consent.ValidateCompliance(ctx, rec.PhoneNumber)
		if err != nil {
			return report, err
		}
		if !compliance.Compliant {
			// Counts as an attempt so the record reaches its retry cap instead
			// of being picked up forever.
			if err := r.tracker.MarkFailed(ctx, rec, &domain.ErrorInfo{Code: ErrorCodeNotCompliant, Message: compliance.Reason}); err != nil {
				return report, err
			}
			report.Skipped++
			continue
		}

		if decision := r.dispatcher.limiter.CanSendMessage(ctx, rec.SenderID, rec.PhoneNumber); !decision.Allowed {
			logger.Debugf("Retry of %s deferred: %s", rec.ID, decision.Reason)
			report.Skipped++
			continue
		}

		report.Attempted++
		result, err := r.dispatcher.send(ctx, rec)
		if err != nil {
			return report, err
		}
		if result.Outcome == OutcomeSent {
			report.Sent++
		} else {
			report.Failed++
		}
	}

	if report.Attempted > 0 || report.Skipped > 0 {
		logger.Infof("Retry sweep: %d attempted, %d sent, %d failed, %d skipped",
			report.Attempted, report.Sent, report.Failed, report.Skipped)
	}

	return report, nil
}
