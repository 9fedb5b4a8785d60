package service

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/tabular/internal/model"
	"github.com/emrgen/tabular/internal/store"
	"github.com/sirupsen/logrus"
)

func newCellMigrator(s store.Store) *cellMigrator {
	return &cellMigrator{store: s}
}

// cellMigrator re-derives link cell values after a link's foreign table
// or relationship changed. It loads the whole table and the whole foreign
// table at once; pagination is the caller's problem for now.
type cellMigrator struct {
	store store.Store
}

type migrateResult struct {
	// Ops per record id, in table row order.
	Ops map[string][]SetCellOp
	// Dropped counts candidates that no longer resolved and were
	// silently discarded from the migrated values.
	Dropped int
}

// migrationState is the accumulator threaded through the per-record fold.
// It carries the cross-record consumption set that enforces single
// cardinality: once a foreign row is taken by a record, OneOne/OneMany
// links may not hand it to a later record.
type migrationState struct {
	consumed      mapset.Set[string]
	singleConsume bool
	dropped       int
}

// Migrate rebuilds every record's cell value of a converted link field.
// Candidates resolve through a title index when the foreign table
// changed (old row ids are meaningless there), or through a row-id index
// when it stayed.
func (m *cellMigrator) Migrate(ctx context.Context, table *model.Table, oldField, newField *model.Field) (*migrateResult, error) {
	oldOpts, err := oldField.LinkOptions()
	if err != nil {
		return nil, err
	}
	newOpts, err := newField.LinkOptions()
	if err != nil {
		return nil, err
	}
	foreignChanged := oldOpts.ForeignTableID != newOpts.ForeignTableID

	idToTitle, titleToID, err := m.foreignIndex(ctx, newOpts)
	if err != nil {
		return nil, err
	}

	rows, err := m.store.ListRows(ctx, table.DBTableName, []string{model.RowIDColumn, oldField.DBFieldName})
	if err != nil {
		return nil, err
	}

	state := &migrationState{
		consumed:      mapset.NewSet[string](),
		singleConsume: newOpts.Relationship == model.OneOne || newOpts.Relationship == model.OneMany,
	}
	result := &migrateResult{Ops: make(map[string][]SetCellOp)}

	for _, row := range rows {
		recordID := asString(row[model.RowIDColumn])
		oldRaw := asString(row[oldField.DBFieldName])
		cells := model.FlattenLinkCellValue(oldRaw)

		next := remapRecord(state, cells, foreignChanged, idToTitle, titleToID, newField.IsMultipleCellValue)
		newRaw := model.EncodeLinkCellValue(next, newField.IsMultipleCellValue)
		if newRaw == oldRaw {
			continue
		}
		result.Ops[recordID] = append(result.Ops[recordID], SetCellOp{
			RecordID: recordID,
			FieldID:  newField.ID,
			OldValue: oldRaw,
			NewValue: newRaw,
		})
	}

	result.Dropped = state.dropped
	if result.Dropped > 0 {
		logrus.Warnf("cell migration of field %s dropped %d unresolved link candidates", newField.ID, result.Dropped)
	}
	return result, nil
}

// remapRecord resolves one record's candidates against the foreign index,
// enforcing the two dedup constraints: a foreign row linked once per
// record, and for single cardinality once per batch.
func remapRecord(state *migrationState, cells []model.LinkCell, foreignChanged bool, idToTitle, titleToID map[string]string, multiple bool) []model.LinkCell {
	recordSeen := mapset.NewSet[string]()
	var out []model.LinkCell

	for _, cell := range cells {
		id, title, ok := resolveCandidate(cell, foreignChanged, idToTitle, titleToID)
		if !ok {
			state.dropped++
			continue
		}
		if recordSeen.Contains(id) {
			continue
		}
		if state.singleConsume && state.consumed.Contains(id) {
			state.dropped++
			continue
		}

		recordSeen.Add(id)
		if state.singleConsume {
			state.consumed.Add(id)
		}
		out = append(out, model.LinkCell{ID: id, Title: title})
		if !multiple {
			break
		}
	}
	return out
}

func resolveCandidate(cell model.LinkCell, foreignChanged bool, idToTitle, titleToID map[string]string) (string, string, bool) {
	if foreignChanged {
		id, ok := titleToID[cell.Title]
		return id, cell.Title, ok
	}
	if cell.ID != "" {
		title, ok := idToTitle[cell.ID]
		return cell.ID, title, ok
	}
	id, ok := titleToID[cell.Title]
	return id, cell.Title, ok
}

// foreignIndex loads the foreign table and indexes row id by display
// title and back. On duplicate titles the first row wins.
func (m *cellMigrator) foreignIndex(ctx context.Context, opts *model.LinkOptions) (map[string]string, map[string]string, error) {
	foreignTable, err := m.store.GetTable(ctx, opts.ForeignTableID)
	if err != nil {
		return nil, nil, err
	}
	lookupField, err := m.store.GetField(ctx, opts.LookupFieldID)
	if err != nil {
		return nil, nil, err
	}

	rows, err := m.store.ListRows(ctx, foreignTable.DBTableName, []string{model.RowIDColumn, lookupField.DBFieldName})
	if err != nil {
		return nil, nil, err
	}

	idToTitle := make(map[string]string, len(rows))
	titleToID := make(map[string]string, len(rows))
	for _, row := range rows {
		id := asString(row[model.RowIDColumn])
		title := asString(row[lookupField.DBFieldName])
		idToTitle[id] = title
		if _, ok := titleToID[title]; !ok && title != "" {
			titleToID[title] = id
		}
	}
	return idToTitle, titleToID, nil
}

// loadLinkPairs reads (owner row, foreign row) pairs out of whichever
// physical layout the link uses.
func (m *cellMigrator) loadLinkPairs(ctx context.Context, opts *model.LinkOptions, ownerDBTable string) ([][2]string, error) {
	host := opts.FkHostTableName

	var ownerCol, foreignCol string
	switch {
	case opts.SelfKeyName == model.RowIDColumn && host == ownerDBTable:
		ownerCol, foreignCol = model.RowIDColumn, opts.ForeignKeyName
	case opts.ForeignKeyName == model.RowIDColumn:
		ownerCol, foreignCol = opts.SelfKeyName, model.RowIDColumn
	default:
		ownerCol, foreignCol = opts.SelfKeyName, opts.ForeignKeyName
	}

	rows, err := m.store.ListRows(ctx, host, []string{ownerCol, foreignCol})
	if err != nil {
		return nil, err
	}

	var pairs [][2]string
	for _, row := range rows {
		owner := asString(row[ownerCol])
		foreign := asString(row[foreignCol])
		if owner == "" || foreign == "" {
			continue
		}
		pairs = append(pairs, [2]string{owner, foreign})
	}
	return pairs, nil
}

// asString coerces a scanned row value. gorm hands JSON-declared columns
// back as *interface{}, so pointers are dereferenced first.
func asString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case *any:
		if v == nil {
			return ""
		}
		return asString(*v)
	}
	return fmt.Sprintf("%v", v)
}
