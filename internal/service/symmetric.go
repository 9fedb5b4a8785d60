package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/emrgen/tabular/internal/graph"
	"github.com/emrgen/tabular/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EnsureSymmetric creates the paired field of a two-way link on the
// foreign table if it does not exist yet. One-way links never have one.
func (s *FieldService) EnsureSymmetric(ctx context.Context, owner *model.Field) (*model.Field, error) {
	opts, err := owner.LinkOptions()
	if err != nil {
		return nil, err
	}
	if opts.IsOneWay || opts.SymmetricFieldID == "" {
		return nil, nil
	}

	existing, err := s.store.GetField(ctx, opts.SymmetricFieldID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	symmetric, err := s.generateSymmetricField(ctx, owner, opts)
	if err != nil {
		return nil, err
	}

	foreignTable, err := s.getTable(ctx, symmetric.TableID)
	if err != nil {
		return nil, err
	}
	if err := s.synth.AddColumn(ctx, foreignTable.DBTableName, symmetric.DBFieldName, symmetric.DBFieldType); err != nil {
		return nil, err
	}
	if err := s.store.CreateField(ctx, symmetric); err != nil {
		return nil, err
	}

	froms, err := graph.EdgesForField(symmetric)
	if err != nil {
		return nil, err
	}
	if err := s.graph.AddEdges(ctx, symmetric.ID, froms); err != nil {
		return nil, err
	}

	logrus.Infof("created symmetric field %s of %s on table %s", symmetric.ID, owner.ID, symmetric.TableID)
	return symmetric, nil
}

// generateSymmetricField builds the reversed field: cardinality reverted,
// key columns swapped, display title taken from the owner table's primary
// field, back-pointer set to the owner.
func (s *FieldService) generateSymmetricField(ctx context.Context, owner *model.Field, opts *model.LinkOptions) (*model.Field, error) {
	ownerTable, err := s.getTable(ctx, owner.TableID)
	if err != nil {
		return nil, err
	}

	primary, err := s.store.GetPrimaryField(ctx, ownerTable.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: table %s", ErrPrimaryFieldMissing, ownerTable.ID)
	}
	if err != nil {
		return nil, err
	}

	rel := opts.Relationship.Revert()
	symmetric := &model.Field{
		ID:                  opts.SymmetricFieldID,
		TableID:             opts.ForeignTableID,
		Name:                ownerTable.Name,
		Type:                model.FieldTypeLink,
		CellValueType:       model.CellValueString,
		DBFieldType:         model.DBTypeJSON,
		IsMultipleCellValue: rel.IsMultipleCellValue(),
		IsComputed:          true,
	}
	if err := symmetric.SetLinkOptions(&model.LinkOptions{
		Relationship:     rel,
		ForeignTableID:   ownerTable.ID,
		LookupFieldID:    primary.ID,
		FkHostTableName:  opts.FkHostTableName,
		SelfKeyName:      opts.ForeignKeyName,
		ForeignKeyName:   opts.SelfKeyName,
		SymmetricFieldID: owner.ID,
	}); err != nil {
		return nil, err
	}

	siblings, err := s.store.ListFields(ctx, opts.ForeignTableID)
	if err != nil {
		return nil, err
	}
	symmetric.Name = uniqueName(symmetric.Name, siblings)
	if err := assignDBFieldName(symmetric, "", siblings); err != nil {
		return nil, err
	}
	return symmetric, nil
}

// AnalyzeSupplementLink is a dry run of ReconcileSymmetric: which
// symmetric field a change would delete, and whether one would be
// created.
func (s *FieldService) AnalyzeSupplementLink(oldField, newField *model.Field) (*SupplementPlan, error) {
	oldOpts, err := oldField.LinkOptions()
	if err != nil {
		return nil, err
	}
	newOpts, err := newField.LinkOptions()
	if err != nil {
		return nil, err
	}

	plan := &SupplementPlan{}
	if oldOpts.SymmetricFieldID == newOpts.SymmetricFieldID {
		return plan, nil
	}
	plan.DeleteFieldID = oldOpts.SymmetricFieldID
	plan.CreateNeeded = !newOpts.IsOneWay && newOpts.SymmetricFieldID != ""
	return plan, nil
}

// DeleteOrCreateSupplementLink reconciles the symmetric pairing after a
// link change. A stale pair is deleted, a missing one created; when only
// the cardinality changed within the same pair, options on both sides are
// rewritten without recreating the pair.
func (s *FieldService) DeleteOrCreateSupplementLink(ctx context.Context, oldField, newField *model.Field) (created *model.Field, deleted []FieldRef, err error) {
	oldOpts, err := oldField.LinkOptions()
	if err != nil {
		return nil, nil, err
	}
	newOpts, err := newField.LinkOptions()
	if err != nil {
		return nil, nil, err
	}

	if oldOpts.SymmetricFieldID == newOpts.SymmetricFieldID && newOpts.SymmetricFieldID != "" {
		return nil, nil, s.rewriteSymmetricOptions(ctx, newField, newOpts)
	}

	if oldOpts.SymmetricFieldID != "" {
		deleted, err = s.deleteSymmetricField(ctx, oldOpts.SymmetricFieldID)
		if err != nil {
			return nil, nil, err
		}
	}
	if !newOpts.IsOneWay && newOpts.SymmetricFieldID != "" {
		created, err = s.EnsureSymmetric(ctx, newField)
		if err != nil {
			return nil, deleted, err
		}
	}
	return created, deleted, nil
}

// rewriteSymmetricOptions keeps the pair but re-reverts its cardinality
// and re-swaps the key names after the owner's options changed.
func (s *FieldService) rewriteSymmetricOptions(ctx context.Context, owner *model.Field, ownerOpts *model.LinkOptions) error {
	symmetric, err := s.store.GetField(ctx, ownerOpts.SymmetricFieldID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: symmetric %s", ErrFieldNotFound, ownerOpts.SymmetricFieldID)
	}
	if err != nil {
		return err
	}

	symOpts, err := symmetric.LinkOptions()
	if err != nil {
		return err
	}
	rel := ownerOpts.Relationship.Revert()
	symOpts.Relationship = rel
	symOpts.FkHostTableName = ownerOpts.FkHostTableName
	symOpts.SelfKeyName = ownerOpts.ForeignKeyName
	symOpts.ForeignKeyName = ownerOpts.SelfKeyName
	symmetric.IsMultipleCellValue = rel.IsMultipleCellValue()
	if err := symmetric.SetLinkOptions(symOpts); err != nil {
		return err
	}
	if err := s.store.UpdateField(ctx, symmetric); err != nil {
		return err
	}
	s.invalidateFields(ctx, symmetric.TableID)
	return nil
}

// deleteSymmetricField removes the paired field record and its edges.
// Foreign key storage is shared with the owner and cleaned by the owner's
// side of the operation.
func (s *FieldService) deleteSymmetricField(ctx context.Context, symmetricFieldID string) ([]FieldRef, error) {
	symmetric, err := s.store.GetField(ctx, symmetricFieldID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	orphans, err := s.graph.RemoveEdges(ctx, symmetric.ID)
	if err != nil {
		return nil, err
	}
	if err := s.flagOrphans(ctx, orphans); err != nil {
		return nil, err
	}
	if err := s.store.DeleteField(ctx, symmetric.ID); err != nil {
		return nil, err
	}
	s.invalidateFields(ctx, symmetric.TableID)
	return []FieldRef{{TableID: symmetric.TableID, FieldID: symmetric.ID}}, nil
}
