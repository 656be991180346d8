package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
	"github.com/onurcolak/whatsapp-automation-service/pkg/phone"
	"github.com/onurcolak/whatsapp-automation-service/pkg/whatsapp"
)

type inboundAutomation interface {
	OnInbound(ctx context.Context, ev domain.InboundEvent) error
}

// InboundService turns webhook notifications into tracked records, lead
// bookkeeping and automation runs.
type InboundService struct {
	leads         leadStore
	tracker       *DeliveryTracker
	automation    inboundAutomation
	defaultRegion string
}

func NewInboundService(leads leadStore, tracker *DeliveryTracker, automation inboundAutomation, defaultRegion string) *InboundService {
	return &InboundService{
		leads:         leads,
		tracker:       tracker,
		automation:    automation,
		defaultRegion: defaultRegion,
	}
}

// HandleMessage records one received message and runs automations for text.
// A redelivered provider message id is acknowledged without side effects.
func (s *InboundService) HandleMessage(ctx context.Context, msg whatsapp.InboundMessage) error {
	normalized := phone.Normalize(msg.PhoneNumber, s.defaultRegion)
	if normalized == "" {
		return fmt.Errorf("unparseable sender %q", msg.PhoneNumber)
	}

	if msg.ProviderMessageID != "" {
		seen, err := s.tracker.HasProviderID(ctx, msg.ProviderMessageID)
		if err != nil {
			return err
		}
		if seen {
			logger.Debugf("Skipping redelivered message %s", msg.ProviderMessageID)
			return nil
		}
	}

	lead, err := s.leads.FindByPhone(ctx, normalized)
	if err != nil {
		return err
	}
	if lead == nil {
		lead = &domain.Lead{
			Name:        msg.ProfileName,
			PhoneNumber: normalized,
			Status:      domain.LeadStatusNew,
		}
		if err := s.leads.Create(ctx, lead); err != nil {
			return err
		}
		logger.Infof("Created lead %d for new WhatsApp contact %s", lead.ID, normalized)
	}

	seen, err := s.tracker.HasInbound(ctx, lead.ID, normalized)
	if err != nil {
		return err
	}

	messageType := msg.Type
	if messageType == "" || messageType == "button" {
		messageType = domain.MessageTypeText
	}

	leadID := lead.ID
	_, err = s.tracker.TrackMessage(ctx, domain.NewMessage{
		LeadID:            &leadID,
		PhoneNumber:       normalized,
		Direction:         domain.DirectionInbound,
		MessageType:       messageType,
		Content:           msg.Body,
		ProviderMessageID: msg.ProviderMessageID,
	})
	if errors.Is(err, domain.ErrDuplicateMessage) {
		logger.Debugf("Skipping concurrently delivered message %s", msg.ProviderMessageID)
		return nil
	}
	if err != nil {
		return err
	}

	if messageType != domain.MessageTypeText {
		return nil
	}

	return s.automation.OnInbound(ctx, domain.InboundEvent{
		LeadID:          lead.ID,
		PhoneNumber:     normalized,
		Body:            msg.Body,
		WasFirstInbound: !seen,
	})
}

// HandleStatus applies a delivery receipt. Unknown message ids are ignored.
func (s *InboundService) HandleStatus(ctx context.Context, update whatsapp.StatusUpdate) error {
	status, err := domain.ParseMessageStatus(update.Status)
	if err != nil {
		logger.Debugf("Ignoring provider status %q for %s", update.Status, update.ProviderMessageID)
		return nil
	}

	var info *domain.ErrorInfo
	if status == domain.StatusFailed {
		info = &domain.ErrorInfo{Code: update.ErrorCode, Message: update.ErrorMessage}
	}

	if _, err := s.tracker.UpdateStatusByProviderID(ctx, update.ProviderMessageID, status, info); err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			logger.Debugf("Status %s for unknown message %s", status, update.ProviderMessageID)
			return nil
		}
		return err
	}

	return nil
}
