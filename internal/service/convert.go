package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/emrgen/tabular/internal/graph"
	"github.com/emrgen/tabular/internal/model"
	"github.com/emrgen/tabular/internal/schema"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ConversionKind classifies a field update into one of the fixed
// transition cases the orchestrator knows how to drive.
type ConversionKind int

const (
	// ConvertNone merges non-major properties, no schema or graph work.
	ConvertNone ConversionKind = iota
	// ConvertTypeChange swaps a simple kind for another; cell rewriting
	// of plain values is the caller's concern.
	ConvertTypeChange
	// ConvertToLink turns a non-link field into a link.
	ConvertToLink
	// ConvertFromLink turns a link into a non-link field.
	ConvertFromLink
	// ConvertLinkForeignTable re-targets a link at another table.
	ConvertLinkForeignTable
	// ConvertLinkRelationship changes cardinality within the same pair
	// of tables.
	ConvertLinkRelationship
	// ConvertLinkOneWayToTwoWay adds the symmetric side to a one-way link.
	ConvertLinkOneWayToTwoWay
	// ConvertLinkTwoWayToOneWay removes the symmetric side.
	ConvertLinkTwoWayToOneWay
	// ConvertComputedRewire re-resolves a lookup, rollup or formula whose
	// referenced field or link changed.
	ConvertComputedRewire
)

// UpdatePlan is the prepared outcome of PrepareUpdateField: the existing
// field, the fully-resolved replacement, and the transition case.
type UpdatePlan struct {
	Kind     ConversionKind
	Table    *model.Table
	OldField *model.Field
	NewField *model.Field
}

// PrepareUpdateField resolves an update request against the existing
// field and classifies the transition. Validation only; no writes.
func (s *FieldService) PrepareUpdateField(ctx context.Context, tableID, fieldID string, req *FieldRequest) (*UpdatePlan, error) {
	table, err := s.getTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	old, err := s.store.GetTableField(ctx, tableID, fieldID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, fieldID)
	}
	if err != nil {
		return nil, err
	}

	targetType := req.Type
	if targetType == "" {
		targetType = old.Type
	}
	oldIsLink := old.Type == model.FieldTypeLink && !old.IsLookup
	newIsLink := targetType == model.FieldTypeLink && !req.IsLookup

	plan := &UpdatePlan{Table: table, OldField: old}

	switch {
	case oldIsLink && newIsLink:
		return s.prepareLinkToLink(ctx, plan, req)
	case newIsLink:
		plan.Kind = ConvertToLink
	case oldIsLink:
		plan.Kind = ConvertFromLink
	case req.IsLookup || old.IsLookup ||
		targetType == model.FieldTypeRollup || targetType == model.FieldTypeFormula ||
		old.Type == model.FieldTypeRollup || old.Type == model.FieldTypeFormula:
		if computedInputsUnchanged(old, targetType, req) {
			plan.Kind = ConvertNone
			plan.NewField = mergeMinor(old, req)
			return plan, nil
		}
		plan.Kind = ConvertComputedRewire
	case targetType == old.Type:
		plan.Kind = ConvertNone
		plan.NewField = mergeMinor(old, req)
		return plan, nil
	default:
		plan.Kind = ConvertTypeChange
	}

	newField, err := s.resolveReplacement(ctx, table, old, targetType, req)
	if err != nil {
		return nil, err
	}
	plan.NewField = newField
	return plan, nil
}

// prepareLinkToLink classifies a link-to-link update by which of its
// options changed: foreign table beats relationship beats the one-way
// flag; everything else is a metadata merge.
func (s *FieldService) prepareLinkToLink(ctx context.Context, plan *UpdatePlan, req *FieldRequest) (*UpdatePlan, error) {
	old := plan.OldField
	oldOpts, err := old.LinkOptions()
	if err != nil {
		return nil, err
	}
	if req.Link == nil {
		plan.Kind = ConvertNone
		plan.NewField = mergeMinor(old, req)
		return plan, nil
	}
	rel, err := model.ParseRelationship(req.Link.Relationship)
	if err != nil {
		return nil, err
	}

	switch {
	case req.Link.ForeignTableID != oldOpts.ForeignTableID:
		plan.Kind = ConvertLinkForeignTable
		newField, err := s.resolveReplacement(ctx, plan.Table, old, model.FieldTypeLink, req)
		if err != nil {
			return nil, err
		}
		plan.NewField = newField

	case rel != oldOpts.Relationship:
		plan.Kind = ConvertLinkRelationship
		newField, err := s.prepareRelationshipChange(ctx, plan.Table, old, oldOpts, rel, req)
		if err != nil {
			return nil, err
		}
		plan.NewField = newField

	case req.Link.IsOneWay != oldOpts.IsOneWay:
		newField := mergeMinor(old, req)
		newOpts := *oldOpts
		if req.Link.IsOneWay {
			plan.Kind = ConvertLinkTwoWayToOneWay
			newOpts.IsOneWay = true
			newOpts.SymmetricFieldID = ""
		} else {
			plan.Kind = ConvertLinkOneWayToTwoWay
			newOpts.IsOneWay = false
			newOpts.SymmetricFieldID = model.NewFieldID()
		}
		if err := newField.SetLinkOptions(&newOpts); err != nil {
			return nil, err
		}
		plan.NewField = newField

	case req.Link.LookupFieldID != "" && req.Link.LookupFieldID != oldOpts.LookupFieldID:
		plan.Kind = ConvertComputedRewire
		if _, err := s.mustGetTableField(ctx, oldOpts.ForeignTableID, req.Link.LookupFieldID); err != nil {
			return nil, err
		}
		newField := mergeMinor(old, req)
		newOpts := *oldOpts
		newOpts.LookupFieldID = req.Link.LookupFieldID
		if err := newField.SetLinkOptions(&newOpts); err != nil {
			return nil, err
		}
		plan.NewField = newField

	default:
		plan.Kind = ConvertNone
		plan.NewField = mergeMinor(old, req)
	}
	return plan, nil
}

// prepareRelationshipChange keeps the pair of tables and, for a two-way
// link, the symmetric field id, but synthesizes the new physical layout.
func (s *FieldService) prepareRelationshipChange(ctx context.Context, table *model.Table, old *model.Field, oldOpts *model.LinkOptions, rel model.Relationship, req *FieldRequest) (*model.Field, error) {
	foreign, err := s.getTable(ctx, oldOpts.ForeignTableID)
	if err != nil {
		return nil, err
	}

	symmetricFieldID := oldOpts.SymmetricFieldID
	isOneWay := req.Link.IsOneWay
	if isOneWay {
		symmetricFieldID = ""
	} else if symmetricFieldID == "" {
		symmetricFieldID = model.NewFieldID()
	}

	layout, err := s.synth.SynthesizeLayout(rel, isOneWay, old.ID, symmetricFieldID, table.DBTableName, foreign.DBTableName)
	if err != nil {
		return nil, err
	}

	newField := mergeMinor(old, req)
	newField.IsMultipleCellValue = rel.IsMultipleCellValue()
	if err := newField.SetLinkOptions(schema.LinkOptionsFromLayout(layout, foreign.ID, oldOpts.LookupFieldID, symmetricFieldID)); err != nil {
		return nil, err
	}
	return newField, nil
}

// resolveReplacement runs the preparation pipeline for the target kind
// while preserving the field's identity, storage column and primary flag.
func (s *FieldService) resolveReplacement(ctx context.Context, table *model.Table, old *model.Field, targetType model.FieldType, req *FieldRequest) (*model.Field, error) {
	newField := &model.Field{
		ID:          old.ID,
		Model:       old.Model,
		TableID:     old.TableID,
		Name:        old.Name,
		Description: old.Description,
		Type:        targetType,
		DBFieldName: old.DBFieldName,
		IsPrimary:   old.IsPrimary,
	}
	if req.Name != "" {
		newField.Name = req.Name
	}
	if req.Description != "" {
		newField.Description = req.Description
	}

	reqCopy := *req
	reqCopy.Type = targetType
	if err := s.resolveKind(ctx, table, newField, &reqCopy); err != nil {
		return nil, err
	}
	return newField, nil
}

// mergeMinor carries non-major request properties onto a copy of the
// existing field.
func mergeMinor(old *model.Field, req *FieldRequest) *model.Field {
	merged := *old
	if req.Name != "" {
		merged.Name = req.Name
	}
	if req.Description != "" {
		merged.Description = req.Description
	}
	return &merged
}

func computedInputsUnchanged(old *model.Field, targetType model.FieldType, req *FieldRequest) bool {
	if targetType != old.Type || req.IsLookup != old.IsLookup {
		return false
	}
	if req.Lookup != nil {
		oldOpts, err := old.GetLookupOptions()
		if err != nil {
			return false
		}
		if req.Lookup.LinkFieldID != oldOpts.LinkFieldID || req.Lookup.LookupFieldID != oldOpts.LookupFieldID {
			return false
		}
	}
	if req.Expression != "" {
		switch old.Type {
		case model.FieldTypeRollup:
			opts, err := old.RollupOptions()
			if err != nil || opts.Expression != req.Expression {
				return false
			}
		case model.FieldTypeFormula:
			opts, err := old.FormulaOptions()
			if err != nil || opts.Expression != req.Expression {
				return false
			}
		}
	}
	return true
}

// ConvertField drives a prepared field update end to end: schema changes,
// symmetric reconciliation, graph rewiring and cell migration, in that
// order. Like CreateFieldItem, DDL can precede the cycle check; the
// caller's transaction owns atomicity.
func (s *FieldService) ConvertField(ctx context.Context, tableID, fieldID string, req *FieldRequest) (*ConversionResult, error) {
	plan, err := s.PrepareUpdateField(ctx, tableID, fieldID, req)
	if err != nil {
		return nil, err
	}

	defer s.invalidateFields(ctx, tableID)

	switch plan.Kind {
	case ConvertNone, ConvertTypeChange:
		if err := s.store.UpdateField(ctx, plan.NewField); err != nil {
			return nil, err
		}
		return &ConversionResult{Field: plan.NewField}, nil

	case ConvertToLink:
		return s.convertToLink(ctx, plan)

	case ConvertFromLink:
		return s.convertFromLink(ctx, plan)

	case ConvertLinkForeignTable:
		return s.ConvertLink(ctx, plan)

	case ConvertLinkRelationship:
		return s.ConvertLinkOnlyRelationship(ctx, plan)

	case ConvertLinkOneWayToTwoWay:
		return s.OneWayToTwoWay(ctx, plan)

	case ConvertLinkTwoWayToOneWay:
		return s.twoWayToOneWay(ctx, plan)

	case ConvertComputedRewire:
		return s.rewireComputed(ctx, plan)
	}

	return nil, fmt.Errorf("unhandled conversion kind %d", plan.Kind)
}

func (s *FieldService) convertToLink(ctx context.Context, plan *UpdatePlan) (*ConversionResult, error) {
	newField := plan.NewField
	opts, err := newField.LinkOptions()
	if err != nil {
		return nil, err
	}

	if err := s.synth.CreateForeignKey(ctx, schema.LayoutFromOptions(opts)); err != nil {
		return nil, err
	}
	if err := s.store.UpdateField(ctx, newField); err != nil {
		return nil, err
	}

	froms, err := graph.EdgesForField(newField)
	if err != nil {
		return nil, err
	}
	if err := s.graph.AddEdges(ctx, newField.ID, froms); err != nil {
		return nil, err
	}

	result := &ConversionResult{Field: newField}
	if !opts.IsOneWay {
		symmetric, err := s.EnsureSymmetric(ctx, newField)
		if err != nil {
			return nil, err
		}
		if symmetric != nil {
			result.CreatedFields = append(result.CreatedFields, symmetric)
		}
	}
	return result, nil
}

func (s *FieldService) convertFromLink(ctx context.Context, plan *UpdatePlan) (*ConversionResult, error) {
	old := plan.OldField
	oldOpts, err := old.LinkOptions()
	if err != nil {
		return nil, err
	}

	result := &ConversionResult{Field: plan.NewField}

	// Lookups and rollups defined through this link lose their source;
	// formulas referencing the field by id stay valid, it still exists.
	if err := s.degradeLinkDependents(ctx, old.ID); err != nil {
		return nil, err
	}
	if err := s.graph.RemoveUpstreamEdges(ctx, old.ID); err != nil {
		return nil, err
	}

	if err := s.synth.CleanForeignKey(ctx, oldOpts); err != nil {
		return nil, err
	}
	if oldOpts.SymmetricFieldID != "" {
		deleted, err := s.deleteSymmetricField(ctx, oldOpts.SymmetricFieldID)
		if err != nil {
			return nil, err
		}
		result.DeletedFields = append(result.DeletedFields, deleted...)
	}

	if err := s.store.UpdateField(ctx, plan.NewField); err != nil {
		return nil, err
	}
	return result, nil
}

// degradeLinkDependents flags the lookup and rollup fields defined
// through the link and unwires their upstream edges.
func (s *FieldService) degradeLinkDependents(ctx context.Context, linkFieldID string) error {
	refs, err := s.store.ListReferencesFrom(ctx, linkFieldID)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		dependent, err := s.store.GetField(ctx, ref.ToFieldID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if !dependent.IsLookup && dependent.Type != model.FieldTypeRollup {
			continue
		}
		opts, err := dependent.GetLookupOptions()
		if err != nil || opts.LinkFieldID != linkFieldID {
			continue
		}
		if err := s.graph.RemoveUpstreamEdges(ctx, dependent.ID); err != nil {
			return err
		}
		if err := s.flagOrphans(ctx, []string{dependent.ID}); err != nil {
			return err
		}
	}
	return nil
}

// ConvertLink re-targets a link at a new foreign table: old storage and
// edges go, new ones come, the symmetric pairing is reconciled, and cell
// values migrate by title against the new table.
func (s *FieldService) ConvertLink(ctx context.Context, plan *UpdatePlan) (*ConversionResult, error) {
	old, newField := plan.OldField, plan.NewField
	oldOpts, err := old.LinkOptions()
	if err != nil {
		return nil, err
	}
	newOpts, err := newField.LinkOptions()
	if err != nil {
		return nil, err
	}

	if err := s.graph.RemoveUpstreamEdges(ctx, old.ID); err != nil {
		return nil, err
	}
	if err := s.synth.CleanForeignKey(ctx, oldOpts); err != nil {
		return nil, err
	}
	if err := s.synth.CreateForeignKey(ctx, schema.LayoutFromOptions(newOpts)); err != nil {
		return nil, err
	}

	froms, err := graph.EdgesForField(newField)
	if err != nil {
		return nil, err
	}
	if err := s.graph.AddEdges(ctx, newField.ID, froms); err != nil {
		return nil, err
	}

	result := &ConversionResult{Field: newField, Ops: make(RecordOpsByTable)}
	created, deleted, err := s.DeleteOrCreateSupplementLink(ctx, old, newField)
	if err != nil {
		return nil, err
	}
	if created != nil {
		result.CreatedFields = append(result.CreatedFields, created)
	}
	result.DeletedFields = append(result.DeletedFields, deleted...)

	if err := s.store.UpdateField(ctx, newField); err != nil {
		return nil, err
	}

	migrated, err := s.migrator.Migrate(ctx, plan.Table, old, newField)
	if err != nil {
		return nil, err
	}
	result.Ops.merge(RecordOpsByTable{plan.Table.ID: migrated.Ops})
	result.Dropped = migrated.Dropped

	logrus.Infof("converted link %s to foreign table %s (%d records touched, %d candidates dropped)",
		newField.ID, newOpts.ForeignTableID, len(migrated.Ops), migrated.Dropped)
	return result, nil
}

// ConvertLinkOnlyRelationship changes cardinality within the same pair
// of tables: the foreign key storage is rebuilt under the new layout, the
// symmetric pair is reconciled in place, and cell values are remapped to
// the new multiplicity.
func (s *FieldService) ConvertLinkOnlyRelationship(ctx context.Context, plan *UpdatePlan) (*ConversionResult, error) {
	old, newField := plan.OldField, plan.NewField
	oldOpts, err := old.LinkOptions()
	if err != nil {
		return nil, err
	}
	newOpts, err := newField.LinkOptions()
	if err != nil {
		return nil, err
	}

	if err := s.synth.CleanForeignKey(ctx, oldOpts); err != nil {
		return nil, err
	}
	if err := s.synth.CreateForeignKey(ctx, schema.LayoutFromOptions(newOpts)); err != nil {
		return nil, err
	}

	result := &ConversionResult{Field: newField, Ops: make(RecordOpsByTable)}
	created, deleted, err := s.DeleteOrCreateSupplementLink(ctx, old, newField)
	if err != nil {
		return nil, err
	}
	if created != nil {
		result.CreatedFields = append(result.CreatedFields, created)
	}
	result.DeletedFields = append(result.DeletedFields, deleted...)

	if err := s.store.UpdateField(ctx, newField); err != nil {
		return nil, err
	}

	migrated, err := s.migrator.Migrate(ctx, plan.Table, old, newField)
	if err != nil {
		return nil, err
	}
	result.Ops.merge(RecordOpsByTable{plan.Table.ID: migrated.Ops})
	result.Dropped = migrated.Dropped
	return result, nil
}

// OneWayToTwoWay creates the symmetric field of a previously one-way
// link and back-fills its values on the foreign table from the existing
// foreign keys. The owner field's own values do not change.
func (s *FieldService) OneWayToTwoWay(ctx context.Context, plan *UpdatePlan) (*ConversionResult, error) {
	old, newField := plan.OldField, plan.NewField
	oldOpts, err := old.LinkOptions()
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateField(ctx, newField); err != nil {
		return nil, err
	}
	symmetric, err := s.EnsureSymmetric(ctx, newField)
	if err != nil {
		return nil, err
	}

	result := &ConversionResult{Field: newField, Ops: make(RecordOpsByTable)}
	if symmetric == nil {
		return result, nil
	}
	result.CreatedFields = append(result.CreatedFields, symmetric)

	pairs, err := s.migrator.loadLinkPairs(ctx, oldOpts, plan.Table.DBTableName)
	if err != nil {
		return nil, err
	}

	primary, err := s.store.GetPrimaryField(ctx, plan.Table.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: table %s", ErrPrimaryFieldMissing, plan.Table.ID)
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListRows(ctx, plan.Table.DBTableName, []string{model.RowIDColumn, primary.DBFieldName})
	if err != nil {
		return nil, err
	}
	titles := make(map[string]string, len(rows))
	for _, row := range rows {
		titles[asString(row[model.RowIDColumn])] = asString(row[primary.DBFieldName])
	}

	byForeign := make(map[string][]model.LinkCell)
	var order []string
	for _, pair := range pairs {
		ownerID, foreignID := pair[0], pair[1]
		if _, ok := byForeign[foreignID]; !ok {
			order = append(order, foreignID)
		}
		byForeign[foreignID] = append(byForeign[foreignID], model.LinkCell{ID: ownerID, Title: titles[ownerID]})
	}

	for _, foreignID := range order {
		value := model.EncodeLinkCellValue(byForeign[foreignID], symmetric.IsMultipleCellValue)
		result.Ops.add(symmetric.TableID, SetCellOp{
			RecordID: foreignID,
			FieldID:  symmetric.ID,
			OldValue: "",
			NewValue: value,
		})
	}
	return result, nil
}

// twoWayToOneWay deletes the symmetric field. The foreign key storage is
// kept as-is: it still fits the unchanged cardinality, only the named
// symmetric correlation is lost. For OneMany that means the key column
// stays on the foreign table, a layout a fresh one-way link would never
// get — the stored options, not SynthesizeLayout, describe it.
func (s *FieldService) twoWayToOneWay(ctx context.Context, plan *UpdatePlan) (*ConversionResult, error) {
	oldOpts, err := plan.OldField.LinkOptions()
	if err != nil {
		return nil, err
	}

	result := &ConversionResult{Field: plan.NewField}
	if oldOpts.SymmetricFieldID != "" {
		deleted, err := s.deleteSymmetricField(ctx, oldOpts.SymmetricFieldID)
		if err != nil {
			return nil, err
		}
		result.DeletedFields = append(result.DeletedFields, deleted...)
	}
	if err := s.store.UpdateField(ctx, plan.NewField); err != nil {
		return nil, err
	}
	return result, nil
}

// rewireComputed re-resolves a computed field as if newly created: fresh
// upstream edges, and the hasError flag cleared on success since the
// reference chain is whole again.
func (s *FieldService) rewireComputed(ctx context.Context, plan *UpdatePlan) (*ConversionResult, error) {
	newField := plan.NewField
	if err := s.graph.RemoveUpstreamEdges(ctx, newField.ID); err != nil {
		return nil, err
	}

	froms, err := graph.EdgesForField(newField)
	if err != nil {
		return nil, err
	}
	if err := s.graph.AddEdges(ctx, newField.ID, froms); err != nil {
		return nil, err
	}

	newField.HasError = false
	if err := s.store.UpdateField(ctx, newField); err != nil {
		return nil, err
	}
	return &ConversionResult{Field: newField}, nil
}
