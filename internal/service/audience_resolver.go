package service

import (
	"context"
	"fmt"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
)

type leadStore interface {
	FindByID(ctx context.Context, id int64) (*domain.Lead, error)
	FindByPhone(ctx context.Context, phoneNumber string) (*domain.Lead, error)
	FindByIDs(ctx context.Context, ids []int64) ([]domain.Lead, error)
	Find(ctx context.Context, filter domain.LeadFilter, limit int) ([]domain.Lead, error)
	Create(ctx context.Context, lead *domain.Lead) error
	UpdateFields(ctx context.Context, id int64, u domain.LeadUpdate) error
}

// AudienceResolver turns a job's targeting into concrete leads.
type AudienceResolver struct {
	leads leadStore
}

func NewAudienceResolver(leads leadStore) *AudienceResolver {
	return &AudienceResolver{leads: leads}
}

// Resolve returns at most hardLimit leads. No match is an empty list.
func (r *AudienceResolver) Resolve(
	ctx context.Context,
	targetType domain.TargetType,
	spec domain.TargetSpec,
	hardLimit int,
) ([]domain.Lead, error) {
	if hardLimit <= 0 {
		return nil, nil
	}

	switch targetType {
	case domain.TargetExplicit:
		ids := []int64(spec.LeadIDs)
		if len(ids) > hardLimit {
			ids = ids[:hardLimit]
		}
		if len(ids) == 0 {
			return nil, nil
		}
		return r.leads.FindByIDs(ctx, ids)

	case domain.TargetFilter:
		return r.leads.Find(ctx, spec.Filter, hardLimit)
	}

	return nil, fmt.Errorf("unknown target type %q", targetType)
}
