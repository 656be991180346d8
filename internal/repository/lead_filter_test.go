package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
)

func TestBuildLeadWhere_Empty(t *testing.T) {
	where, args, err := buildLeadWhere(domain.LeadFilter{})
	require.NoError(t, err)
	assert.Equal(t, "1 = 1", where)
	assert.Empty(t, args)
}

func TestBuildLeadWhere_AllFields(t *testing.T) {
	owner := int64(7)
	where, args, err := buildLeadWhere(domain.LeadFilter{
		Statuses:         []string{"new", "prospect"},
		WorkshopName:     "Morning Hatha",
		AssignedToUserID: &owner,
		LabelsAny:        []string{"weekend", "beginner"},
		LabelsAll:        []string{"paid"},
	})
	require.NoError(t, err)

	assert.Equal(t,
		"status IN (?, ?) AND workshop_name = ? AND assigned_to_user_id = ? AND "+
			"JSON_OVERLAPS(labels, CAST(? AS JSON)) AND JSON_CONTAINS(labels, CAST(? AS JSON))",
		where)
	assert.Equal(t, []any{"new", "prospect", "Morning Hatha", int64(7), `["weekend","beginner"]`, `["paid"]`}, args)
}

func TestBuildLeadWhere_SingleLabelAll(t *testing.T) {
	where, args, err := buildLeadWhere(domain.LeadFilter{LabelsAll: []string{"vip", "paid"}})
	require.NoError(t, err)
	assert.Equal(t, "JSON_CONTAINS(labels, CAST(? AS JSON))", where)
	assert.Equal(t, []any{`["vip","paid"]`}, args)
}
