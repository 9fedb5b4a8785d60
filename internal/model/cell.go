package model

import "encoding/json"

// Physical naming contract. Existing data depends on these being bit-exact.
const (
	RowIDColumn    = "__id"
	FkColumnPrefix = "__fk_"
	JunctionPrefix = "junction_"
)

func FkColumnName(fieldID string) string {
	return FkColumnPrefix + fieldID
}

func JunctionTableName(fieldID, symmetricFieldID string) string {
	if symmetricFieldID == "" {
		return JunctionPrefix + fieldID
	}
	return JunctionPrefix + fieldID + "_" + symmetricFieldID
}

// LinkCell is the cell value of a link field: one linked foreign row with
// its display title. Multi-value links store an array of these.
type LinkCell struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// FlattenLinkCellValue normalizes a stored cell value into an ordered flat
// list of link cells. It accepts the single-value object shape, the
// multi-value array shape, and bare titles left behind by imports.
func FlattenLinkCellValue(raw string) []LinkCell {
	if raw == "" || raw == "null" {
		return nil
	}

	var one LinkCell
	if err := json.Unmarshal([]byte(raw), &one); err == nil && (one.ID != "" || one.Title != "") {
		return []LinkCell{one}
	}

	var many []LinkCell
	if err := json.Unmarshal([]byte(raw), &many); err == nil && len(many) > 0 {
		return many
	}

	var title string
	if err := json.Unmarshal([]byte(raw), &title); err == nil && title != "" {
		return []LinkCell{{Title: title}}
	}

	var titles []string
	if err := json.Unmarshal([]byte(raw), &titles); err == nil {
		cells := make([]LinkCell, 0, len(titles))
		for _, t := range titles {
			if t != "" {
				cells = append(cells, LinkCell{Title: t})
			}
		}
		return cells
	}

	return nil
}

// EncodeLinkCellValue re-encodes link cells honoring the field's
// multiplicity. A single-value field keeps only the first cell. An empty
// list encodes as the empty string, meaning "no value".
func EncodeLinkCellValue(cells []LinkCell, multiple bool) string {
	if len(cells) == 0 {
		return ""
	}
	if !multiple {
		data, _ := json.Marshal(cells[0])
		return string(data)
	}
	data, _ := json.Marshal(cells)
	return string(data)
}
