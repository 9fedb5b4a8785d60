package store

import (
	"context"

	"github.com/emrgen/tabular/internal/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db: db,
	}
}

var _ Store = (*GormStore)(nil)

type GormStore struct {
	db *gorm.DB
}

func (g *GormStore) CreateTable(ctx context.Context, table *model.Table) error {
	return g.db.WithContext(ctx).Create(table).Error
}

func (g *GormStore) GetTable(ctx context.Context, id string) (*model.Table, error) {
	var table model.Table
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&table).Error
	return &table, err
}

func (g *GormStore) ListTables(ctx context.Context, baseID string) ([]*model.Table, error) {
	var tables []*model.Table
	err := g.db.WithContext(ctx).Where("base_id = ?", baseID).Find(&tables).Error
	return tables, err
}

func (g *GormStore) CreateField(ctx context.Context, field *model.Field) error {
	return g.db.WithContext(ctx).Create(field).Error
}

func (g *GormStore) GetField(ctx context.Context, id string) (*model.Field, error) {
	var field model.Field
	err := g.db.WithContext(ctx).Where("id = ?", id).First(&field).Error
	return &field, err
}

func (g *GormStore) GetTableField(ctx context.Context, tableID, fieldID string) (*model.Field, error) {
	var field model.Field
	err := g.db.WithContext(ctx).Where("table_id = ? AND id = ?", tableID, fieldID).First(&field).Error
	return &field, err
}

func (g *GormStore) ListFields(ctx context.Context, tableID string) ([]*model.Field, error) {
	var fields []*model.Field
	err := g.db.WithContext(ctx).Where("table_id = ?", tableID).Order("created_at").Find(&fields).Error
	return fields, err
}

func (g *GormStore) ListFieldsFromIDs(ctx context.Context, ids []string) ([]*model.Field, error) {
	var fields []*model.Field
	err := g.db.WithContext(ctx).Where("id in (?)", ids).Find(&fields).Error
	return fields, err
}

func (g *GormStore) GetPrimaryField(ctx context.Context, tableID string) (*model.Field, error) {
	var field model.Field
	err := g.db.WithContext(ctx).Where("table_id = ? AND is_primary = ?", tableID, true).First(&field).Error
	return &field, err
}

func (g *GormStore) UpdateField(ctx context.Context, field *model.Field) error {
	return g.db.WithContext(ctx).Save(field).Error
}

func (g *GormStore) DeleteField(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Field{}).Error
}

func (g *GormStore) MarkFieldsError(ctx context.Context, ids []string, hasError bool) error {
	if len(ids) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Model(&model.Field{}).
		Where("id in (?)", ids).
		Update("has_error", hasError).Error
}

func (g *GormStore) CreateReferences(ctx context.Context, refs []*model.Reference) error {
	if len(refs) == 0 {
		return nil
	}
	return g.db.WithContext(ctx).Create(refs).Error
}

func (g *GormStore) ListReferencesByFieldIDs(ctx context.Context, ids []string) ([]*model.Reference, error) {
	var refs []*model.Reference
	err := g.db.WithContext(ctx).
		Where("from_field_id in (?) OR to_field_id in (?)", ids, ids).
		Find(&refs).Error
	return refs, err
}

func (g *GormStore) ListReferencesFrom(ctx context.Context, fieldID string) ([]*model.Reference, error) {
	var refs []*model.Reference
	err := g.db.WithContext(ctx).Where("from_field_id = ?", fieldID).Find(&refs).Error
	return refs, err
}

func (g *GormStore) DeleteReferencesByField(ctx context.Context, fieldID string) error {
	return g.db.WithContext(ctx).
		Where("from_field_id = ? OR to_field_id = ?", fieldID, fieldID).
		Delete(&model.Reference{}).Error
}

func (g *GormStore) DeleteReferencesTo(ctx context.Context, fieldID string) error {
	return g.db.WithContext(ctx).
		Where("to_field_id = ?", fieldID).
		Delete(&model.Reference{}).Error
}

func (g *GormStore) ListReferences(ctx context.Context) ([]*model.Reference, error) {
	var refs []*model.Reference
	err := g.db.WithContext(ctx).Find(&refs).Error
	return refs, err
}

func (g *GormStore) ListRows(ctx context.Context, dbTableName string, columns []string) ([]map[string]any, error) {
	var rows []map[string]any
	err := g.db.WithContext(ctx).Table(dbTableName).Select(columns).Find(&rows).Error
	if err != nil {
		logrus.Errorf("listing rows of %s: %v", dbTableName, err)
		return nil, err
	}
	return rows, nil
}

func (g *GormStore) ExecStatements(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if err := g.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			logrus.Errorf("executing %q: %v", stmt, err)
			return err
		}
	}
	return nil
}

func (g *GormStore) Migrate() error {
	return model.Migrate(g.db)
}

func (g *GormStore) Transaction(ctx context.Context, f func(tx Store) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return f(&GormStore{db: tx})
	})
}
