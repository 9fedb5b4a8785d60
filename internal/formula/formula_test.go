package formula

import (
	"testing"

	"github.com/emrgen/tabular/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestExtractFieldIDs(t *testing.T) {
	tests := []struct {
		name string
		expr string
		ids  []string
	}{
		{
			name: "empty",
			expr: "1 + 2",
			ids:  nil,
		},
		{
			name: "single",
			expr: "{fld1} * 2",
			ids:  []string{"fld1"},
		},
		{
			name: "deduplicated in order",
			expr: "{fld2} + {fld1} + {fld2}",
			ids:  []string{"fld2", "fld1"},
		},
		{
			name: "unterminated reference ignored",
			expr: "{fld1} + {fld2",
			ids:  []string{"fld1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ids, ExtractFieldIDs(tt.expr))
		})
	}
}

func TestParseRollup(t *testing.T) {
	fn, err := ParseRollup("sum({values})")
	assert.NoError(t, err)
	assert.Equal(t, model.CellValueNumber, fn.ValueType)
	assert.False(t, fn.Multiple)

	fn, err = ParseRollup("concatenate({values})")
	assert.NoError(t, err)
	assert.Equal(t, model.CellValueString, fn.ValueType)

	fn, err = ParseRollup("array_unique({values})")
	assert.NoError(t, err)
	assert.Empty(t, fn.ValueType)
	assert.True(t, fn.Multiple)

	_, err = ParseRollup("median({values})")
	assert.Error(t, err)
}

func TestInferValueType(t *testing.T) {
	assert.Equal(t, model.CellValueString, InferValueType(nil))
	assert.Equal(t, model.CellValueNumber, InferValueType([]model.CellValueType{model.CellValueNumber, model.CellValueNumber}))
	assert.Equal(t, model.CellValueString, InferValueType([]model.CellValueType{model.CellValueNumber, model.CellValueBoolean}))
	assert.Equal(t, model.CellValueBoolean, InferValueType([]model.CellValueType{model.CellValueBoolean}))
}
