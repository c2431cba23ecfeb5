package store

import (
	"testing"

	"fapchat/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLWhere(t *testing.T) {
	f := types.Filter{
		Owner: &types.OwnerScope{OwnerID: "HE1", IncludeShared: true},
		Must: []types.Condition{
			types.Match(types.FieldRecordType, "attendance"),
			types.Between(types.FieldDateKey, 20250122, 20250128),
		},
		Should: []types.Condition{
			types.Match(types.FieldSubjectCode, "CPV301"),
			types.Match(types.FieldTerm, "Fall2024"),
		},
	}

	where, args, err := sqlWhere(f, []any{"vec"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"(owner_id = $2 OR owner_id = '')",
		"record_type = $3",
		"date_key BETWEEN $4 AND $5",
		"(subject_code = $6 OR term = $7)",
	}, where)
	assert.Equal(t, []any{"vec", "HE1", "attendance", 20250122, 20250128, "CPV301", "Fall2024"}, args)
}

func TestSQLWhereStrictOwner(t *testing.T) {
	where, args, err := sqlWhere(types.Filter{Owner: &types.OwnerScope{OwnerID: "HE1"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner_id = $1"}, where)
	assert.Equal(t, []any{"HE1"}, args)
}

func TestSQLWhereEmpty(t *testing.T) {
	where, args, err := sqlWhere(types.Filter{}, []any{"vec"})
	require.NoError(t, err)
	assert.Empty(t, where)
	assert.Equal(t, []any{"vec"}, args)
}

func TestSQLWhereRejectsUnknownKey(t *testing.T) {
	_, _, err := sqlWhere(types.Filter{Must: []types.Condition{types.Match("text; DROP", "x")}}, nil)
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, OperationErrorValidationFailed, opErr.Code)
	assert.False(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", &OperationError{Code: OperationErrorQueryFailed, StatusCode: 503}, true},
		{"rate limited", &OperationError{Code: OperationErrorQueryFailed, StatusCode: 429}, true},
		{"bad request", &OperationError{Code: OperationErrorQueryFailed, StatusCode: 400}, false},
		{"timeout", &OperationError{Code: OperationErrorTimeout}, true},
		{"decode", &OperationError{Code: OperationErrorDecodeFailed}, false},
		{"dimension", ErrDimensionMismatch, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestMemoryStoreDimension(t *testing.T) {
	mem := NewMemoryStore()
	require.NoError(t, mem.EnsureCollection(testContext(t), 3, Cosine))
	require.NoError(t, mem.EnsureCollection(testContext(t), 3, Cosine))
	assert.ErrorIs(t, mem.EnsureCollection(testContext(t), 4, Cosine), ErrDimensionMismatch)
	assert.ErrorIs(t, mem.EnsureCollection(testContext(t), 3, Distance("Dot")), ErrUnsupportedDistance)
}

func TestCosine32(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine32([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine32([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, Cosine32([]float32{1}, []float32{1, 2}))
	assert.Zero(t, Cosine32([]float32{0, 0}, []float32{1, 2}))
}
