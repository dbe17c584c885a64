package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskline/internal/domain"
)

var (
	region = domain.FieldDefinition{ID: "f-region", Name: "region", ValueKind: domain.KindText}
	due    = domain.FieldDefinition{ID: "f-due", Name: "due", ValueKind: domain.KindDate}
	vip    = domain.FieldDefinition{ID: "f-vip", Name: "vip", ValueKind: domain.KindBoolean}
)

func TestSetPredicateReplacesSameField(t *testing.T) {
	b := New()
	require.NoError(t, b.SetPredicate(region, "emea"))
	require.NoError(t, b.SetPredicate(region, "apac"))

	preds := b.Predicates()
	require.Len(t, preds, 1)
	assert.Equal(t, "apac", preds[0].Value.String())
}

func TestSetPredicateNilValueIsIgnored(t *testing.T) {
	b := New()
	require.NoError(t, b.SetPredicate(region, nil))
	assert.Empty(t, b.ToQuery())

	require.NoError(t, b.SetPredicate(region, "emea"))
	require.NoError(t, b.SetPredicate(region, nil))
	require.Len(t, b.ToQuery(), 1)
}

func TestSetPredicateRejectsWrongKind(t *testing.T) {
	b := New()
	require.Error(t, b.SetPredicate(vip, "maybe"))
	assert.Empty(t, b.Predicates())
}

func TestDisabledSetHidesButKeepsPredicates(t *testing.T) {
	b := New()
	require.NoError(t, b.SetPredicate(region, "emea"))
	require.NoError(t, b.SetPredicate(due, "2024-05-01"))

	b.SetEnabled(false)
	assert.Empty(t, b.ToQuery())
	assert.Len(t, b.Predicates(), 2)

	b.SetEnabled(true)
	clauses := b.ToQuery()
	require.Len(t, clauses, 2)
	assert.Equal(t, "f-region", clauses[0].FieldID)
	assert.Equal(t, OpEq, clauses[0].Op)
	assert.Equal(t, OpDateEq, clauses[1].Op)
}

func TestRemoveAndClear(t *testing.T) {
	b := New()
	require.NoError(t, b.SetPredicate(region, "emea"))
	require.NoError(t, b.SetPredicate(vip, true))
	b.RemovePredicate(region.ID)
	clauses := b.ToQuery()
	require.Len(t, clauses, 1)
	assert.Equal(t, vip.ID, clauses[0].FieldID)

	b.ClearAll()
	assert.Empty(t, b.ToQuery())
}

func TestOperatorTable(t *testing.T) {
	for _, kind := range domain.ValueKinds {
		want := OpEq
		if kind == domain.KindDate || kind == domain.KindTimestamp {
			want = OpDateEq
		}
		assert.Equal(t, want, OperatorFor(kind), kind)
	}
}

func TestForgetDropsDeletedFields(t *testing.T) {
	b := New()
	require.NoError(t, b.SetPredicate(region, "emea"))
	require.NoError(t, b.SetPredicate(vip, true))
	b.Forget(func(id string) bool { return id != region.ID })
	require.Len(t, b.Predicates(), 1)
}
