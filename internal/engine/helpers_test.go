package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"deskline/internal/domain"
	"deskline/internal/filter"
)

func newBuilder(t *testing.T, f domain.FieldDefinition, raw any) *filter.Builder {
	t.Helper()
	b := filter.New()
	require.NoError(t, b.SetPredicate(f, raw))
	return b
}
