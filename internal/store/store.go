package store

import (
	"context"

	"github.com/emrgen/tabular/internal/model"
)

type Store interface {
	TableStore
	FieldStore
	ReferenceStore
	RowStore
	SchemaStore
	Transaction(ctx context.Context, f func(tx Store) error) error
	Migrate() error
}

type TableStore interface {
	// CreateTable creates a table metadata row.
	CreateTable(ctx context.Context, table *model.Table) error
	// GetTable retrieves a table by ID.
	GetTable(ctx context.Context, id string) (*model.Table, error)
	// ListTables retrieves the tables of a base.
	ListTables(ctx context.Context, baseID string) ([]*model.Table, error)
}

type FieldStore interface {
	// CreateField creates a field metadata row.
	CreateField(ctx context.Context, field *model.Field) error
	// GetField retrieves a field by ID.
	GetField(ctx context.Context, id string) (*model.Field, error)
	// GetTableField retrieves a field by table ID and field ID.
	GetTableField(ctx context.Context, tableID, fieldID string) (*model.Field, error)
	// ListFields retrieves the live fields of a table.
	ListFields(ctx context.Context, tableID string) ([]*model.Field, error)
	// ListFieldsFromIDs retrieves fields by IDs.
	ListFieldsFromIDs(ctx context.Context, ids []string) ([]*model.Field, error)
	// GetPrimaryField retrieves the primary field of a table.
	GetPrimaryField(ctx context.Context, tableID string) (*model.Field, error)
	// UpdateField saves a field.
	UpdateField(ctx context.Context, field *model.Field) error
	// DeleteField soft-deletes a field by ID.
	DeleteField(ctx context.Context, id string) error
	// MarkFieldsError flips the hasError flag on the given fields.
	MarkFieldsError(ctx context.Context, ids []string, hasError bool) error
}

type ReferenceStore interface {
	// CreateReferences persists dependency edges.
	CreateReferences(ctx context.Context, refs []*model.Reference) error
	// ListReferencesByFieldIDs retrieves every edge touching any of the ids.
	ListReferencesByFieldIDs(ctx context.Context, ids []string) ([]*model.Reference, error)
	// ListReferencesFrom retrieves the edges whose source is the field.
	ListReferencesFrom(ctx context.Context, fieldID string) ([]*model.Reference, error)
	// DeleteReferencesByField deletes every edge where the field is source or target.
	DeleteReferencesByField(ctx context.Context, fieldID string) error
	// DeleteReferencesTo deletes the edges whose target is the field.
	DeleteReferencesTo(ctx context.Context, fieldID string) error
	// ListReferences retrieves the whole edge set.
	ListReferences(ctx context.Context) ([]*model.Reference, error)
}

// RowStore reads rows of the physical data tables.
type RowStore interface {
	ListRows(ctx context.Context, dbTableName string, columns []string) ([]map[string]any, error)
}

// SchemaStore executes schema-alteration statements produced by the
// layout synthesizer.
type SchemaStore interface {
	ExecStatements(ctx context.Context, stmts []string) error
}
