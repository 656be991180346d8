package service

import (
	"context"
	"fmt"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
)

type consentStore interface {
	Latest(ctx context.Context, phoneNumber, channel string) (*domain.ConsentRecord, error)
}

// ConsentGate answers whether a phone may currently be contacted on WhatsApp.
type ConsentGate struct {
	store        consentStore
	requireOptIn bool
}

func NewConsentGate(store consentStore, requireOptIn bool) *ConsentGate {
	return &ConsentGate{store: store, requireOptIn: requireOptIn}
}

func (g *ConsentGate) ValidateCompliance(ctx context.Context, phoneNumber string) (domain.ComplianceResult, error) {
	record, err := g.store.Latest(ctx, phoneNumber, domain.ChannelWhatsApp)
	if err != nil {
		return domain.ComplianceResult{}, fmt.Errorf("failed to check consent for %s: %w", phoneNumber, err)
	}

	switch {
	case record == nil && g.requireOptIn:
		return domain.ComplianceResult{Reason: "no opt-in on record"}, nil
	case record == nil:
		return domain.ComplianceResult{Compliant: true}, nil
	case record.Status == domain.ConsentOptedOut:
		return domain.ComplianceResult{Reason: "opted out via " + record.Source}, nil
	case record.Status == domain.ConsentOptedIn:
		return domain.ComplianceResult{Compliant: true}, nil
	}

	return domain.ComplianceResult{Reason: fmt.Sprintf("unknown consent status %q", record.Status)}, nil
}
