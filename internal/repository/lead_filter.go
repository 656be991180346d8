package repository

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
)

// buildLeadWhere translates a LeadFilter into an AND-combined WHERE clause
// with ? placeholders. An empty filter yields "1 = 1".
func buildLeadWhere(f domain.LeadFilter) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)

	if len(f.Statuses) > 0 {
		clause, inArgs, err := sqlx.In("status IN (?)", f.Statuses)
		if err != nil {
			return "", nil, fmt.Errorf("failed to expand status filter: %w", err)
		}
		clauses = append(clauses, clause)
		args = append(args, inArgs...)
	}

	if f.WorkshopName != "" {
		clauses = append(clauses, "workshop_name = ?")
		args = append(args, f.WorkshopName)
	}

	if f.AssignedToUserID != nil {
		clauses = append(clauses, "assigned_to_user_id = ?")
		args = append(args, *f.AssignedToUserID)
	}

	if len(f.LabelsAny) > 0 {
		labels, err := json.Marshal(f.LabelsAny)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode labels filter: %w", err)
		}
		clauses = append(clauses, "JSON_OVERLAPS(labels, CAST(? AS JSON))")
		args = append(args, string(labels))
	}

	if len(f.LabelsAll) > 0 {
		labels, err := json.Marshal(f.LabelsAll)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode labels filter: %w", err)
		}
		clauses = append(clauses, "JSON_CONTAINS(labels, CAST(? AS JSON))")
		args = append(args, string(labels))
	}

	if len(clauses) == 0 {
		return "1 = 1", nil, nil
	}

	return strings.Join(clauses, " AND "), args, nil
}
