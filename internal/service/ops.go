package service

import "github.com/emrgen/tabular/internal/model"

// FieldRef names one field of one table.
type FieldRef struct {
	TableID string `json:"tableId"`
	FieldID string `json:"fieldId"`
}

// SetCellOp rewrites one record's cell. Old and new values are attached
// for the collaborative layer to apply and undo.
type SetCellOp struct {
	RecordID string `json:"recordId"`
	FieldID  string `json:"fieldId"`
	OldValue any    `json:"oldValue"`
	NewValue any    `json:"newValue"`
}

// RecordOpsByTable groups pending cell operations per table and record.
// Nothing here has been applied; the caller owns that.
type RecordOpsByTable map[string]map[string][]SetCellOp

func (ops RecordOpsByTable) add(tableID string, op SetCellOp) {
	if ops[tableID] == nil {
		ops[tableID] = make(map[string][]SetCellOp)
	}
	ops[tableID][op.RecordID] = append(ops[tableID][op.RecordID], op)
}

func (ops RecordOpsByTable) merge(other RecordOpsByTable) {
	for tableID, byRecord := range other {
		for _, recordOps := range byRecord {
			for _, op := range recordOps {
				ops.add(tableID, op)
			}
		}
	}
}

// ConversionResult is the outcome of one field conversion: the stored
// field, pending record operations, and any supplement fields the
// conversion created or deleted along the way.
type ConversionResult struct {
	Field         *model.Field
	Ops           RecordOpsByTable
	CreatedFields []*model.Field
	DeletedFields []FieldRef
	// Dropped counts link candidates silently discarded during cell
	// migration because they no longer resolved.
	Dropped int
}

// SupplementPlan is the dry-run answer of AnalyzeSupplementLink.
type SupplementPlan struct {
	DeleteFieldID string
	CreateNeeded  bool
}
