package service

import (
	"context"
	"fmt"

	"github.com/emrgen/tabular/internal/model"
	"github.com/emrgen/tabular/internal/schema"
	"github.com/emrgen/tabular/internal/store"
)

// NewTableService creates a table service sharing the field service's
// store and synthesizer.
func NewTableService(s store.Store, fields *FieldService) *TableService {
	return &TableService{
		store:  s,
		fields: fields,
		synth:  schema.NewSynthesizer(s),
	}
}

// TableService creates tables with their physical storage and primary
// field.
type TableService struct {
	store  store.Store
	fields *FieldService
	synth  *schema.Synthesizer
}

// CreateTable creates the metadata row, the physical data table with its
// row id column, and a primary text field.
func (s *TableService) CreateTable(ctx context.Context, baseID, name string) (*model.Table, error) {
	table := &model.Table{
		ID:          model.NewTableID(),
		BaseID:      baseID,
		Name:        name,
		DBTableName: fmt.Sprintf("%s_%s", slugify(name), model.NewTableID()),
	}
	if err := s.store.CreateTable(ctx, table); err != nil {
		return nil, err
	}
	if err := s.synth.CreateDataTable(ctx, table.DBTableName); err != nil {
		return nil, err
	}

	primary, err := s.fields.PrepareCreateField(ctx, table.ID, &FieldRequest{
		Name: "Name",
		Type: model.FieldTypeSingleLineText,
	})
	if err != nil {
		return nil, err
	}
	primary.IsPrimary = true
	if _, err := s.fields.CreateFieldItem(ctx, table.ID, primary); err != nil {
		return nil, err
	}
	return table, nil
}
