package model

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// FieldType tags the variant of a field.
type FieldType string

const (
	FieldTypeSingleLineText FieldType = "singleLineText"
	FieldTypeLongText       FieldType = "longText"
	FieldTypeNumber         FieldType = "number"
	FieldTypeCheckbox       FieldType = "checkbox"
	FieldTypeDate           FieldType = "date"
	FieldTypeSingleSelect   FieldType = "singleSelect"
	FieldTypeAutoNumber     FieldType = "autoNumber"
	FieldTypeCreatedTime    FieldType = "createdTime"
	FieldTypeLink           FieldType = "link"
	FieldTypeRollup         FieldType = "rollup"
	FieldTypeFormula        FieldType = "formula"
)

// CellValueType is the logical type of a field's cell values.
type CellValueType string

const (
	CellValueString   CellValueType = "string"
	CellValueNumber   CellValueType = "number"
	CellValueBoolean  CellValueType = "boolean"
	CellValueDateTime CellValueType = "dateTime"
)

// DBFieldType is the storage type of a field's column.
type DBFieldType string

const (
	DBTypeText    DBFieldType = "TEXT"
	DBTypeReal    DBFieldType = "REAL"
	DBTypeInteger DBFieldType = "INTEGER"
	DBTypeJSON    DBFieldType = "JSON"
	DBTypeDateTime DBFieldType = "DATETIME"
)

// LinkOptions describes the physical storage of a link field.
type LinkOptions struct {
	Relationship     Relationship `json:"relationship"`
	ForeignTableID   string       `json:"foreignTableId"`
	LookupFieldID    string       `json:"lookupFieldId"`
	FkHostTableName  string       `json:"fkHostTableName"`
	SelfKeyName      string       `json:"selfKeyName"`
	ForeignKeyName   string       `json:"foreignKeyName"`
	SymmetricFieldID string       `json:"symmetricFieldId,omitempty"`
	IsOneWay         bool         `json:"isOneWay,omitempty"`
}

// LookupOptions points a lookup or rollup field at the field it mirrors
// through a link on the same table.
type LookupOptions struct {
	LinkFieldID    string `json:"linkFieldId"`
	ForeignTableID string `json:"foreignTableId"`
	LookupFieldID  string `json:"lookupFieldId"`
	// Filter restricts which linked records feed the lookup. Field ids
	// referenced by its predicates join the dependency graph.
	Filter *LookupFilter `json:"filter,omitempty"`
}

// LookupFilter is a flat predicate list over foreign-table fields.
type LookupFilter struct {
	Conjunction string            `json:"conjunction,omitempty"`
	Predicates  []FilterPredicate `json:"predicates,omitempty"`
}

type FilterPredicate struct {
	FieldID  string `json:"fieldId"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// FieldIDs returns every field id referenced by the filter's predicates.
func (f *LookupFilter) FieldIDs() []string {
	if f == nil {
		return nil
	}
	ids := make([]string, 0, len(f.Predicates))
	for _, p := range f.Predicates {
		if p.FieldID != "" {
			ids = append(ids, p.FieldID)
		}
	}
	return ids
}

// RollupOptions carries the aggregation expression, e.g. "sum({values})".
type RollupOptions struct {
	Expression string `json:"expression"`
}

// FormulaOptions carries the formula expression with {fieldId} references.
type FormulaOptions struct {
	Expression string `json:"expression"`
}

// Field is the metadata row for one column of a table. Options and
// LookupOptions are JSON blobs whose shape depends on Type.
type Field struct {
	gorm.Model
	ID                  string    `gorm:"primaryKey;not null"`
	TableID             string    `gorm:"not null;index:idx_fields_table_id"`
	Name                string    `gorm:"not null"`
	Description         string
	Type                FieldType `gorm:"not null"`
	DBFieldName         string    `gorm:"not null"`
	DBFieldType         DBFieldType `gorm:"not null"`
	CellValueType       CellValueType `gorm:"not null"`
	IsMultipleCellValue bool
	IsComputed          bool
	IsLookup            bool
	IsPrimary           bool
	HasError            bool
	Options             string `gorm:"type:text"`
	LookupOptions       string `gorm:"type:text"`
}

func (f *Field) TableName() string {
	return "fields"
}

// LinkOptions decodes the field's options. Only meaningful for link fields.
func (f *Field) LinkOptions() (*LinkOptions, error) {
	if f.Type != FieldTypeLink {
		return nil, fmt.Errorf("field %s is %s, not a link", f.ID, f.Type)
	}
	var opts LinkOptions
	if err := json.Unmarshal([]byte(f.Options), &opts); err != nil {
		return nil, fmt.Errorf("field %s link options corrupted: %w", f.ID, err)
	}
	return &opts, nil
}

func (f *Field) SetLinkOptions(opts *LinkOptions) error {
	data, err := json.Marshal(opts)
	if err != nil {
		return err
	}
	f.Options = string(data)
	return nil
}

// GetLookupOptions decodes the lookup options of a lookup or rollup field.
func (f *Field) GetLookupOptions() (*LookupOptions, error) {
	if f.LookupOptions == "" {
		return nil, fmt.Errorf("field %s has no lookup options", f.ID)
	}
	var opts LookupOptions
	if err := json.Unmarshal([]byte(f.LookupOptions), &opts); err != nil {
		return nil, fmt.Errorf("field %s lookup options corrupted: %w", f.ID, err)
	}
	return &opts, nil
}

func (f *Field) SetLookupOptions(opts *LookupOptions) error {
	data, err := json.Marshal(opts)
	if err != nil {
		return err
	}
	f.LookupOptions = string(data)
	return nil
}

func (f *Field) RollupOptions() (*RollupOptions, error) {
	var opts RollupOptions
	if err := json.Unmarshal([]byte(f.Options), &opts); err != nil {
		return nil, fmt.Errorf("field %s rollup options corrupted: %w", f.ID, err)
	}
	return &opts, nil
}

func (f *Field) FormulaOptions() (*FormulaOptions, error) {
	var opts FormulaOptions
	if err := json.Unmarshal([]byte(f.Options), &opts); err != nil {
		return nil, fmt.Errorf("field %s formula options corrupted: %w", f.ID, err)
	}
	return &opts, nil
}
