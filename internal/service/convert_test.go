package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/emrgen/tabular/internal/model"
	"github.com/emrgen/tabular/internal/tester"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestConvertField_TypeChange(t *testing.T) {
	s, fields, tables := setupServices(t)
	ctx := context.TODO()

	books, _ := tables.CreateTable(ctx, "base1", "Books")
	field, err := fields.PrepareCreateField(ctx, books.ID, &FieldRequest{
		Name: "Pages",
		Type: model.FieldTypeSingleLineText,
	})
	assert.NoError(t, err)
	_, err = fields.CreateFieldItem(ctx, books.ID, field)
	assert.NoError(t, err)

	result, err := fields.ConvertField(ctx, books.ID, field.ID, &FieldRequest{Type: model.FieldTypeNumber})
	assert.NoError(t, err)
	assert.Equal(t, model.FieldTypeNumber, result.Field.Type)

	got, err := s.GetField(ctx, field.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.FieldTypeNumber, got.Type)
	assert.Equal(t, model.CellValueNumber, got.CellValueType)
	// Identity and storage column survive the change.
	assert.Equal(t, field.DBFieldName, got.DBFieldName)

	// A rename alone is a metadata merge.
	_, err = fields.ConvertField(ctx, books.ID, field.ID, &FieldRequest{Name: "Page Count"})
	assert.NoError(t, err)
	got, _ = s.GetField(ctx, field.ID)
	assert.Equal(t, "Page Count", got.Name)
	assert.Equal(t, model.FieldTypeNumber, got.Type)
}

func TestConvertField_RelationshipManyManyToManyOne(t *testing.T) {
	s, fields, tables := setupServices(t)
	ctx := context.TODO()

	books, _ := tables.CreateTable(ctx, "base1", "Books")
	authors, _ := tables.CreateTable(ctx, "base1", "Authors")
	authorPrimary, _ := s.GetPrimaryField(ctx, authors.ID)

	field, created := createLink(t, fields, books.ID, &FieldRequest{
		Name: "Authors",
		Type: model.FieldTypeLink,
		Link: &LinkRequest{Relationship: "manyMany", ForeignTableID: authors.ID},
	})
	oldOpts, _ := field.LinkOptions()
	symmetric := created.CreatedFields[0]

	execInsert(t, authors.DBTableName, []string{model.RowIDColumn, authorPrimary.DBFieldName}, "a1", "Ann")
	execInsert(t, authors.DBTableName, []string{model.RowIDColumn, authorPrimary.DBFieldName}, "a2", "Ben")
	execInsert(t, books.DBTableName, []string{model.RowIDColumn, field.DBFieldName},
		"b1", `[{"id":"a1","title":"Ann"},{"id":"a2","title":"Ben"}]`)
	execInsert(t, books.DBTableName, []string{model.RowIDColumn, field.DBFieldName},
		"b2", `[{"id":"a1","title":"Ann"}]`)

	result, err := fields.ConvertField(ctx, books.ID, field.ID, &FieldRequest{
		Type: model.FieldTypeLink,
		Link: &LinkRequest{Relationship: "manyOne", ForeignTableID: authors.ID},
	})
	assert.NoError(t, err)

	got, _ := s.GetField(ctx, field.ID)
	newOpts, err := got.LinkOptions()
	assert.NoError(t, err)
	assert.Equal(t, model.ManyOne, newOpts.Relationship)
	assert.False(t, got.IsMultipleCellValue)
	// Junction replaced by a key column on the owner table.
	assert.Equal(t, books.DBTableName, newOpts.FkHostTableName)
	assert.Equal(t, model.RowIDColumn, newOpts.SelfKeyName)
	assert.Equal(t, model.FkColumnName(field.ID), newOpts.ForeignKeyName)
	// Same pair kept, options rewritten on the other side.
	assert.Equal(t, oldOpts.SymmetricFieldID, newOpts.SymmetricFieldID)
	sym, err := s.GetField(ctx, symmetric.ID)
	assert.NoError(t, err)
	symOpts, _ := sym.LinkOptions()
	assert.Equal(t, model.OneMany, symOpts.Relationship)
	assert.True(t, sym.IsMultipleCellValue)

	// Multi values collapse to the first candidate.
	assert.Equal(t, `{"id":"a1","title":"Ann"}`, result.Ops[books.ID]["b1"][0].NewValue)
	assert.Equal(t, `{"id":"a1","title":"Ann"}`, result.Ops[books.ID]["b2"][0].NewValue)
	assert.Zero(t, result.Dropped)

	// The old junction is gone, the new key column is readable.
	stmt := fmt.Sprintf(`INSERT INTO %q (%q, %q) VALUES (?, ?)`,
		oldOpts.FkHostTableName, oldOpts.SelfKeyName, oldOpts.ForeignKeyName)
	assert.Error(t, tester.TestDB().Exec(stmt, "x", "y").Error)
	_, err = s.ListRows(ctx, books.DBTableName, []string{model.RowIDColumn, newOpts.ForeignKeyName})
	assert.NoError(t, err)
}

func TestConvertField_TwoWayToOneWay(t *testing.T) {
	s, fields, tables := setupServices(t)
	ctx := context.TODO()

	books, _ := tables.CreateTable(ctx, "base1", "Books")
	shelves, _ := tables.CreateTable(ctx, "base1", "Shelves")

	field, created := createLink(t, fields, books.ID, &FieldRequest{
		Name: "Shelf",
		Type: model.FieldTypeLink,
		Link: &LinkRequest{Relationship: "manyOne", ForeignTableID: shelves.ID},
	})
	symmetric := created.CreatedFields[0]
	oldOpts, _ := field.LinkOptions()

	result, err := fields.ConvertField(ctx, books.ID, field.ID, &FieldRequest{
		Type: model.FieldTypeLink,
		Link: &LinkRequest{Relationship: "manyOne", ForeignTableID: shelves.ID, IsOneWay: true},
	})
	assert.NoError(t, err)
	assert.Equal(t, []FieldRef{{TableID: shelves.ID, FieldID: symmetric.ID}}, result.DeletedFields)

	_, err = s.GetField(ctx, symmetric.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	got, _ := s.GetField(ctx, field.ID)
	newOpts, _ := got.LinkOptions()
	assert.True(t, newOpts.IsOneWay)
	assert.Empty(t, newOpts.SymmetricFieldID)
	// The key column stays, it still fits the unchanged cardinality.
	assert.Equal(t, oldOpts.FkHostTableName, newOpts.FkHostTableName)
	_, err = s.ListRows(ctx, books.DBTableName, []string{model.RowIDColumn, newOpts.ForeignKeyName})
	assert.NoError(t, err)
}

func TestConvertField_TwoWayToOneWay_OneMany(t *testing.T) {
	s, fields, tables := setupServices(t)
	ctx := context.TODO()

	books, _ := tables.CreateTable(ctx, "base1", "Books")
	chapters, _ := tables.CreateTable(ctx, "base1", "Chapters")

	field, created := createLink(t, fields, books.ID, &FieldRequest{
		Name: "Chapters",
		Type: model.FieldTypeLink,
		Link: &LinkRequest{Relationship: "oneMany", ForeignTableID: chapters.ID},
	})
	symmetric := created.CreatedFields[0]
	oldOpts, _ := field.LinkOptions()
	// Two-way OneMany hosts its key column on the foreign table.
	assert.Equal(t, chapters.DBTableName, oldOpts.FkHostTableName)
	assert.Equal(t, model.FkColumnName(symmetric.ID), oldOpts.SelfKeyName)

	_, err := fields.ConvertField(ctx, books.ID, field.ID, &FieldRequest{
		Type: model.FieldTypeLink,
		Link: &LinkRequest{Relationship: "oneMany", ForeignTableID: chapters.ID, IsOneWay: true},
	})
	assert.NoError(t, err)

	_, err = s.GetField(ctx, symmetric.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// The key column stays resident on the foreign table; the stored
	// options keep describing the two-way layout.
	got, _ := s.GetField(ctx, field.ID)
	newOpts, _ := got.LinkOptions()
	assert.True(t, newOpts.IsOneWay)
	assert.Equal(t, oldOpts.FkHostTableName, newOpts.FkHostTableName)
	assert.Equal(t, oldOpts.SelfKeyName, newOpts.SelfKeyName)
	_, err = s.ListRows(ctx, chapters.DBTableName, []string{model.RowIDColumn, newOpts.SelfKeyName})
	assert.NoError(t, err)
}

func TestConvertField_OneWayToTwoWay(t *testing.T) {
	s, fields, tables := setupServices(t)
	ctx := context.TODO()

	books, _ := tables.CreateTable(ctx, "base1", "Books")
	shelves, _ := tables.CreateTable(ctx, "base1", "Shelves")
	bookPrimary, _ := s.GetPrimaryField(ctx, books.ID)
	shelfPrimary, _ := s.GetPrimaryField(ctx, shelves.ID)

	field, _ := createLink(t, fields, books.ID, &FieldRequest{
		Name: "Shelf",
		Type: model.FieldTypeLink,
		Link: &LinkRequest{Relationship: "manyOne", ForeignTableID: shelves.ID, IsOneWay: true},
	})
	opts, _ := field.LinkOptions()

	execInsert(t, shelves.DBTableName, []string{model.RowIDColumn, shelfPrimary.DBFieldName}, "s1", "Top")
	execInsert(t, books.DBTableName,
		[]string{model.RowIDColumn, bookPrimary.DBFieldName, opts.ForeignKeyName},
		"b1", "Dune", "s1")
	execInsert(t, books.DBTableName,
		[]string{model.RowIDColumn, bookPrimary.DBFieldName, opts.ForeignKeyName},
		"b2", "Hyperion", "s1")

	result, err := fields.ConvertField(ctx, books.ID, field.ID, &FieldRequest{
		Type: model.FieldTypeLink,
		Link: &LinkRequest{Relationship: "manyOne", ForeignTableID: shelves.ID},
	})
	assert.NoError(t, err)

	assert.Len(t, result.CreatedFields, 1)
	symmetric := result.CreatedFields[0]
	assert.Equal(t, shelves.ID, symmetric.TableID)
	symOpts, _ := symmetric.LinkOptions()
	assert.Equal(t, model.OneMany, symOpts.Relationship)
	assert.Equal(t, field.ID, symOpts.SymmetricFieldID)

	// The foreign side is back-filled from the existing keys.
	ops := result.Ops[shelves.ID]["s1"]
	assert.Len(t, ops, 1)
	assert.Equal(t, symmetric.ID, ops[0].FieldID)
	assert.Equal(t, `[{"id":"b1","title":"Dune"},{"id":"b2","title":"Hyperion"}]`, ops[0].NewValue)
}

func TestConvertField_FromLink(t *testing.T) {
	s, fields, tables := setupServices(t)
	ctx := context.TODO()

	books, _ := tables.CreateTable(ctx, "base1", "Books")
	authors, _ := tables.CreateTable(ctx, "base1", "Authors")
	authorPrimary, _ := s.GetPrimaryField(ctx, authors.ID)

	link, created := createLink(t, fields, books.ID, &FieldRequest{
		Name: "Authors",
		Type: model.FieldTypeLink,
		Link: &LinkRequest{Relationship: "manyMany", ForeignTableID: authors.ID},
	})
	symmetric := created.CreatedFields[0]
	opts, _ := link.LinkOptions()

	lookup, err := fields.PrepareCreateField(ctx, books.ID, &FieldRequest{
		Name:     "Author Names",
		IsLookup: true,
		Lookup:   &LookupRequest{LinkFieldID: link.ID, LookupFieldID: authorPrimary.ID},
	})
	assert.NoError(t, err)
	_, err = fields.CreateFieldItem(ctx, books.ID, lookup)
	assert.NoError(t, err)

	result, err := fields.ConvertField(ctx, books.ID, link.ID, &FieldRequest{Type: model.FieldTypeSingleLineText})
	assert.NoError(t, err)
	assert.Equal(t, model.FieldTypeSingleLineText, result.Field.Type)
	assert.Equal(t, []FieldRef{{TableID: authors.ID, FieldID: symmetric.ID}}, result.DeletedFields)

	got, err := s.GetField(ctx, link.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.FieldTypeSingleLineText, got.Type)

	_, err = s.GetField(ctx, symmetric.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	// The lookup through the link is degraded, not deleted.
	dep, err := s.GetField(ctx, lookup.ID)
	assert.NoError(t, err)
	assert.True(t, dep.HasError)

	// Every edge of the former link chain is gone.
	refs, err := s.ListReferences(ctx)
	assert.NoError(t, err)
	assert.Empty(t, refs)

	// So is the junction table.
	stmt := fmt.Sprintf(`INSERT INTO %q (%q, %q) VALUES (?, ?)`,
		opts.FkHostTableName, opts.SelfKeyName, opts.ForeignKeyName)
	assert.Error(t, tester.TestDB().Exec(stmt, "x", "y").Error)
}

func TestConvertField_ForeignTableChange(t *testing.T) {
	s, fields, tables := setupServices(t)
	ctx := context.TODO()

	books, _ := tables.CreateTable(ctx, "base1", "Books")
	authors, _ := tables.CreateTable(ctx, "base1", "Authors")
	people, _ := tables.CreateTable(ctx, "base1", "People")
	authorPrimary, _ := s.GetPrimaryField(ctx, authors.ID)
	peoplePrimary, _ := s.GetPrimaryField(ctx, people.ID)

	field, created := createLink(t, fields, books.ID, &FieldRequest{
		Name: "Contributors",
		Type: model.FieldTypeLink,
		Link: &LinkRequest{Relationship: "manyMany", ForeignTableID: authors.ID},
	})
	oldSymmetric := created.CreatedFields[0]
	oldOpts, _ := field.LinkOptions()

	execInsert(t, authors.DBTableName, []string{model.RowIDColumn, authorPrimary.DBFieldName}, "a1", "Ann")
	execInsert(t, people.DBTableName, []string{model.RowIDColumn, peoplePrimary.DBFieldName}, "p1", "Ann")
	execInsert(t, people.DBTableName, []string{model.RowIDColumn, peoplePrimary.DBFieldName}, "p2", "Cara")
	execInsert(t, books.DBTableName, []string{model.RowIDColumn, field.DBFieldName},
		"b1", `[{"id":"a1","title":"Ann"},{"id":"aX","title":"Zed"}]`)
	execInsert(t, books.DBTableName, []string{model.RowIDColumn, field.DBFieldName},
		"b2", `[{"id":"a1","title":"Cara"}]`)

	result, err := fields.ConvertField(ctx, books.ID, field.ID, &FieldRequest{
		Type: model.FieldTypeLink,
		Link: &LinkRequest{Relationship: "manyMany", ForeignTableID: people.ID},
	})
	assert.NoError(t, err)

	got, _ := s.GetField(ctx, field.ID)
	newOpts, _ := got.LinkOptions()
	assert.Equal(t, people.ID, newOpts.ForeignTableID)
	assert.NotEqual(t, oldOpts.SymmetricFieldID, newOpts.SymmetricFieldID)

	// Old pair deleted, new pair created on the new foreign table.
	assert.Equal(t, []FieldRef{{TableID: authors.ID, FieldID: oldSymmetric.ID}}, result.DeletedFields)
	assert.Len(t, result.CreatedFields, 1)
	assert.Equal(t, people.ID, result.CreatedFields[0].TableID)
	assert.Equal(t, newOpts.SymmetricFieldID, result.CreatedFields[0].ID)

	// Old row ids mean nothing on the new table: values resolve by title.
	assert.Equal(t, `[{"id":"p1","title":"Ann"}]`, result.Ops[books.ID]["b1"][0].NewValue)
	assert.Equal(t, `[{"id":"p2","title":"Cara"}]`, result.Ops[books.ID]["b2"][0].NewValue)
	assert.Equal(t, 1, result.Dropped)

	// Old junction dropped, new one usable.
	stmt := fmt.Sprintf(`INSERT INTO %q (%q, %q) VALUES (?, ?)`,
		oldOpts.FkHostTableName, oldOpts.SelfKeyName, oldOpts.ForeignKeyName)
	assert.Error(t, tester.TestDB().Exec(stmt, "x", "y").Error)
	execInsert(t, newOpts.FkHostTableName, []string{newOpts.SelfKeyName, newOpts.ForeignKeyName}, "p1", "b1")
}

func TestConvertField_RewireComputed(t *testing.T) {
	s, fields, tables := setupServices(t)
	ctx := context.TODO()

	books, _ := tables.CreateTable(ctx, "base1", "Books")
	pages, err := fields.PrepareCreateField(ctx, books.ID, &FieldRequest{Name: "Pages", Type: model.FieldTypeNumber})
	assert.NoError(t, err)
	_, err = fields.CreateFieldItem(ctx, books.ID, pages)
	assert.NoError(t, err)
	year, err := fields.PrepareCreateField(ctx, books.ID, &FieldRequest{Name: "Year", Type: model.FieldTypeNumber})
	assert.NoError(t, err)
	_, err = fields.CreateFieldItem(ctx, books.ID, year)
	assert.NoError(t, err)

	form, err := fields.PrepareCreateField(ctx, books.ID, &FieldRequest{
		Name:       "Calc",
		Type:       model.FieldTypeFormula,
		Expression: fmt.Sprintf("{%s} * 2", pages.ID),
	})
	assert.NoError(t, err)
	_, err = fields.CreateFieldItem(ctx, books.ID, form)
	assert.NoError(t, err)

	assert.NoError(t, s.MarkFieldsError(ctx, []string{form.ID}, true))

	_, err = fields.ConvertField(ctx, books.ID, form.ID, &FieldRequest{
		Type:       model.FieldTypeFormula,
		Expression: fmt.Sprintf("{%s} + 1", year.ID),
	})
	assert.NoError(t, err)

	got, _ := s.GetField(ctx, form.ID)
	assert.False(t, got.HasError)

	refs, err := s.ListReferencesFrom(ctx, year.ID)
	assert.NoError(t, err)
	assert.Len(t, refs, 1)
	assert.Equal(t, form.ID, refs[0].ToFieldID)
	refs, err = s.ListReferencesFrom(ctx, pages.ID)
	assert.NoError(t, err)
	assert.Empty(t, refs)
}
