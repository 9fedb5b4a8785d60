package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlattenLinkCellValue(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		cells []LinkCell
	}{
		{
			name:  "empty",
			raw:   "",
			cells: nil,
		},
		{
			name:  "null",
			raw:   "null",
			cells: nil,
		},
		{
			name:  "single object",
			raw:   `{"id":"rec1","title":"Alpha"}`,
			cells: []LinkCell{{ID: "rec1", Title: "Alpha"}},
		},
		{
			name:  "array",
			raw:   `[{"id":"rec1","title":"Alpha"},{"id":"rec2","title":"Beta"}]`,
			cells: []LinkCell{{ID: "rec1", Title: "Alpha"}, {ID: "rec2", Title: "Beta"}},
		},
		{
			name:  "bare title",
			raw:   `"Alpha"`,
			cells: []LinkCell{{Title: "Alpha"}},
		},
		{
			name:  "title array",
			raw:   `["Alpha","","Beta"]`,
			cells: []LinkCell{{Title: "Alpha"}, {Title: "Beta"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.cells, FlattenLinkCellValue(tt.raw))
		})
	}
}

func TestEncodeLinkCellValue(t *testing.T) {
	cells := []LinkCell{{ID: "rec1", Title: "Alpha"}, {ID: "rec2", Title: "Beta"}}

	assert.Equal(t, `{"id":"rec1","title":"Alpha"}`, EncodeLinkCellValue(cells, false))
	assert.Equal(t, `[{"id":"rec1","title":"Alpha"},{"id":"rec2","title":"Beta"}]`, EncodeLinkCellValue(cells, true))
	assert.Equal(t, "", EncodeLinkCellValue(nil, true))
}

func TestJunctionTableName(t *testing.T) {
	assert.Equal(t, "junction_fld1", JunctionTableName("fld1", ""))
	assert.Equal(t, "junction_fld1_fld2", JunctionTableName("fld1", "fld2"))
	assert.Equal(t, "__fk_fld1", FkColumnName("fld1"))
}
