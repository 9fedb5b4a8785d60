package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/emrgen/tabular/internal/formula"
	"github.com/emrgen/tabular/internal/model"
	"github.com/emrgen/tabular/internal/schema"
	"gorm.io/gorm"
)

// PrepareCreateField normalizes a field request into a fully-resolved
// field definition. Pure validation: nothing is written here; schema and
// graph changes happen only when the caller commits via CreateFieldItem.
func (s *FieldService) PrepareCreateField(ctx context.Context, tableID string, req *FieldRequest) (*model.Field, error) {
	table, err := s.getTable(ctx, tableID)
	if err != nil {
		return nil, err
	}

	field := &model.Field{
		ID:          model.NewFieldID(),
		TableID:     tableID,
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
	}

	if err := s.resolveKind(ctx, table, field, req); err != nil {
		return nil, err
	}

	existing, err := s.store.ListFields(ctx, tableID)
	if err != nil {
		return nil, err
	}
	field.Name = uniqueName(field.Name, existing)
	if err := assignDBFieldName(field, req.DBFieldName, existing); err != nil {
		return nil, err
	}
	return field, nil
}

// resolveKind dispatches on the closed set of field kinds. An unknown
// kind is a validation error, never silently passed through.
func (s *FieldService) resolveKind(ctx context.Context, table *model.Table, field *model.Field, req *FieldRequest) error {
	switch {
	case req.IsLookup:
		return s.prepareLookup(ctx, table, field, req)
	case req.Type == model.FieldTypeLink:
		return s.prepareLink(ctx, table, field, req)
	case req.Type == model.FieldTypeRollup:
		return s.prepareRollup(ctx, table, field, req)
	case req.Type == model.FieldTypeFormula:
		return s.prepareFormula(ctx, table, field, req)
	default:
		return prepareSimple(field, req)
	}
}

func (s *FieldService) prepareLink(ctx context.Context, table *model.Table, field *model.Field, req *FieldRequest) error {
	if req.Link == nil {
		return ErrLinkOptionsMissing
	}
	rel, err := model.ParseRelationship(req.Link.Relationship)
	if err != nil {
		return err
	}

	foreign, err := s.store.GetTable(ctx, req.Link.ForeignTableID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrForeignTableNotFound, req.Link.ForeignTableID)
	}
	if err != nil {
		return err
	}
	if foreign.BaseID != table.BaseID && !s.allowCrossBase {
		return fmt.Errorf("%w: %s", ErrCrossBaseLink, foreign.ID)
	}

	lookupFieldID := req.Link.LookupFieldID
	if lookupFieldID == "" {
		primary, err := s.store.GetPrimaryField(ctx, foreign.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: table %s", ErrPrimaryFieldMissing, foreign.ID)
		}
		if err != nil {
			return err
		}
		lookupFieldID = primary.ID
	} else if _, err := s.mustGetTableField(ctx, foreign.ID, lookupFieldID); err != nil {
		return err
	}

	symmetricFieldID := ""
	if !req.Link.IsOneWay {
		// Reserved up front so the junction table and key columns can
		// carry its name before the symmetric field itself exists.
		symmetricFieldID = model.NewFieldID()
	}

	layout, err := s.synth.SynthesizeLayout(rel, req.Link.IsOneWay, field.ID, symmetricFieldID, table.DBTableName, foreign.DBTableName)
	if err != nil {
		return err
	}

	field.CellValueType = model.CellValueString
	field.DBFieldType = model.DBTypeJSON
	field.IsMultipleCellValue = rel.IsMultipleCellValue()
	field.IsComputed = true
	if field.Name == "" {
		field.Name = foreign.Name
	}
	return field.SetLinkOptions(schema.LinkOptionsFromLayout(layout, foreign.ID, lookupFieldID, symmetricFieldID))
}

func (s *FieldService) prepareLookup(ctx context.Context, table *model.Table, field *model.Field, req *FieldRequest) error {
	if req.Lookup == nil {
		return ErrLookupOptionsMissing
	}

	link, linkOpts, target, err := s.resolveLookupChain(ctx, table, req.Lookup)
	if err != nil {
		return err
	}

	field.Type = target.Type
	field.IsLookup = true
	field.IsComputed = true
	field.CellValueType = target.CellValueType
	field.IsMultipleCellValue = link.IsMultipleCellValue || target.IsMultipleCellValue
	if field.IsMultipleCellValue {
		field.DBFieldType = model.DBTypeJSON
	} else {
		field.DBFieldType = target.DBFieldType
	}
	if field.Name == "" {
		field.Name = fmt.Sprintf("%s (from %s)", target.Name, link.Name)
	}
	return field.SetLookupOptions(&model.LookupOptions{
		LinkFieldID:    link.ID,
		ForeignTableID: linkOpts.ForeignTableID,
		LookupFieldID:  target.ID,
		Filter:         req.Lookup.Filter,
	})
}

func (s *FieldService) prepareRollup(ctx context.Context, table *model.Table, field *model.Field, req *FieldRequest) error {
	if req.Lookup == nil {
		return ErrLookupOptionsMissing
	}
	if req.Expression == "" {
		return ErrExpressionMissing
	}
	fn, err := formula.ParseRollup(req.Expression)
	if err != nil {
		return fmt.Errorf("rollup: %w", err)
	}

	link, linkOpts, target, err := s.resolveLookupChain(ctx, table, req.Lookup)
	if err != nil {
		return err
	}

	field.IsComputed = true
	field.IsMultipleCellValue = fn.Multiple
	if fn.ValueType != "" {
		field.CellValueType = fn.ValueType
	} else {
		field.CellValueType = target.CellValueType
	}
	field.DBFieldType = dbTypeForValue(field.CellValueType, field.IsMultipleCellValue)
	if field.Name == "" {
		field.Name = fmt.Sprintf("%s Rollup (from %s)", target.Name, link.Name)
	}
	if err := field.SetLookupOptions(&model.LookupOptions{
		LinkFieldID:    link.ID,
		ForeignTableID: linkOpts.ForeignTableID,
		LookupFieldID:  target.ID,
		Filter:         req.Lookup.Filter,
	}); err != nil {
		return err
	}
	return setExpression(field, req.Expression)
}

func (s *FieldService) prepareFormula(ctx context.Context, table *model.Table, field *model.Field, req *FieldRequest) error {
	if req.Expression == "" {
		return ErrExpressionMissing
	}

	ids := formula.ExtractFieldIDs(req.Expression)
	var refTypes []model.CellValueType
	for _, id := range ids {
		ref, err := s.mustGetTableField(ctx, table.ID, id)
		if err != nil {
			return fmt.Errorf("formula: %w", err)
		}
		refTypes = append(refTypes, ref.CellValueType)
	}

	field.IsComputed = true
	field.CellValueType = formula.InferValueType(refTypes)
	field.DBFieldType = dbTypeForValue(field.CellValueType, false)
	if field.Name == "" {
		field.Name = "Formula"
	}
	return setExpression(field, req.Expression)
}

func setExpression(field *model.Field, expr string) error {
	data, err := json.Marshal(model.FormulaOptions{Expression: expr})
	if err != nil {
		return err
	}
	field.Options = string(data)
	return nil
}

func prepareSimple(field *model.Field, req *FieldRequest) error {
	switch req.Type {
	case model.FieldTypeSingleLineText, model.FieldTypeLongText, model.FieldTypeSingleSelect:
		field.CellValueType = model.CellValueString
		field.DBFieldType = model.DBTypeText
	case model.FieldTypeNumber:
		field.CellValueType = model.CellValueNumber
		field.DBFieldType = model.DBTypeReal
	case model.FieldTypeCheckbox:
		field.CellValueType = model.CellValueBoolean
		field.DBFieldType = model.DBTypeInteger
	case model.FieldTypeDate:
		field.CellValueType = model.CellValueDateTime
		field.DBFieldType = model.DBTypeDateTime
	case model.FieldTypeAutoNumber:
		field.CellValueType = model.CellValueNumber
		field.DBFieldType = model.DBTypeInteger
		field.IsComputed = true
	case model.FieldTypeCreatedTime:
		field.CellValueType = model.CellValueDateTime
		field.DBFieldType = model.DBTypeDateTime
		field.IsComputed = true
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFieldType, req.Type)
	}
	if field.Name == "" {
		field.Name = string(req.Type)
	}
	field.Options = "{}"
	return nil
}

// resolveLookupChain validates link field -> foreign table -> looked-up
// field for lookup and rollup preparation.
func (s *FieldService) resolveLookupChain(ctx context.Context, table *model.Table, req *LookupRequest) (*model.Field, *model.LinkOptions, *model.Field, error) {
	link, err := s.mustGetTableField(ctx, table.ID, req.LinkFieldID)
	if err != nil {
		return nil, nil, nil, err
	}
	if link.Type != model.FieldTypeLink || link.IsLookup {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrNotLinkField, link.ID)
	}
	linkOpts, err := link.LinkOptions()
	if err != nil {
		return nil, nil, nil, err
	}

	target, err := s.mustGetTableField(ctx, linkOpts.ForeignTableID, req.LookupFieldID)
	if err != nil {
		return nil, nil, nil, err
	}

	if req.Filter != nil {
		for _, id := range req.Filter.FieldIDs() {
			if _, err := s.mustGetTableField(ctx, linkOpts.ForeignTableID, id); err != nil {
				return nil, nil, nil, fmt.Errorf("lookup filter: %w", err)
			}
		}
	}
	return link, linkOpts, target, nil
}

func (s *FieldService) mustGetTableField(ctx context.Context, tableID, fieldID string) (*model.Field, error) {
	field, err := s.store.GetTableField(ctx, tableID, fieldID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s in table %s", ErrFieldNotFound, fieldID, tableID)
	}
	return field, err
}

func dbTypeForValue(t model.CellValueType, multiple bool) model.DBFieldType {
	if multiple {
		return model.DBTypeJSON
	}
	switch t {
	case model.CellValueNumber:
		return model.DBTypeReal
	case model.CellValueBoolean:
		return model.DBTypeInteger
	case model.CellValueDateTime:
		return model.DBTypeDateTime
	default:
		return model.DBTypeText
	}
}

// uniqueName suffixes the display name with a counter on collision.
func uniqueName(name string, existing []*model.Field) string {
	taken := make(map[string]struct{}, len(existing))
	for _, f := range existing {
		taken[f.Name] = struct{}{}
	}
	if _, ok := taken[name]; !ok {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s %d", name, i)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

// assignDBFieldName picks the storage column name. A caller-supplied name
// must be unused; a derived name is suffixed until unique.
func assignDBFieldName(field *model.Field, requested string, existing []*model.Field) error {
	taken := map[string]struct{}{model.RowIDColumn: {}}
	for _, f := range existing {
		taken[f.DBFieldName] = struct{}{}
	}

	if requested != "" {
		if _, ok := taken[requested]; ok {
			return fmt.Errorf("%w: %s", ErrDBFieldNameTaken, requested)
		}
		field.DBFieldName = requested
		return nil
	}

	base := slugify(field.Name)
	candidate := base
	for i := 2; ; i++ {
		if _, ok := taken[candidate]; !ok {
			break
		}
		candidate = fmt.Sprintf("%s_%d", base, i)
	}
	field.DBFieldName = candidate
	return nil
}

func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		slug = "field"
	}
	return slug
}
