package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/emrgen/tabular/internal/model"
	"github.com/emrgen/tabular/internal/store"
	"github.com/sirupsen/logrus"
)

// Layout is the physical storage chosen for one link field. It is fully
// determined by (relationship, isOneWay); the key and table names follow
// the __fk_/junction_ naming contract.
type Layout struct {
	Relationship     model.Relationship
	IsOneWay         bool
	HostTableName    string
	SelfKeyName      string
	ForeignKeyName   string
	IsJunction       bool
	UniqueForeignKey bool
}

// AddedColumn returns the column the layout adds to an existing table, or
// "" when the layout lives in its own junction table.
func (l Layout) AddedColumn() string {
	if l.IsJunction {
		return ""
	}
	if l.SelfKeyName == model.RowIDColumn {
		return l.ForeignKeyName
	}
	return l.SelfKeyName
}

type Option func(*Synthesizer)

// WithSuffixFunc overrides the random key suffix source.
func WithSuffixFunc(f func() string) Option {
	return func(s *Synthesizer) {
		s.suffix = f
	}
}

// NewSynthesizer creates a layout synthesizer issuing DDL through the
// given schema store.
func NewSynthesizer(schemaStore store.SchemaStore, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		store:  schemaStore,
		suffix: model.RandomKeySuffix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Synthesizer struct {
	store  store.SchemaStore
	suffix func() string
}

// SynthesizeLayout computes the physical layout of a link field.
//
// A one-way link never touches the foreign table: cardinalities that would
// host their key column there fall back to a junction table.
func (s *Synthesizer) SynthesizeLayout(rel model.Relationship, isOneWay bool, fieldID, symmetricFieldID, ownerDBTable, foreignDBTable string) (Layout, error) {
	switch rel {
	case model.ManyMany:
		layout := Layout{
			Relationship:   rel,
			IsOneWay:       isOneWay,
			IsJunction:     true,
			ForeignKeyName: model.FkColumnName(fieldID),
		}
		if isOneWay {
			layout.HostTableName = model.JunctionTableName(fieldID, "")
			layout.SelfKeyName = model.FkColumnPrefix + s.suffix()
		} else {
			layout.HostTableName = model.JunctionTableName(fieldID, symmetricFieldID)
			layout.SelfKeyName = model.FkColumnName(symmetricFieldID)
		}
		return layout, nil

	case model.ManyOne, model.OneOne:
		return Layout{
			Relationship:     rel,
			IsOneWay:         isOneWay,
			HostTableName:    ownerDBTable,
			SelfKeyName:      model.RowIDColumn,
			ForeignKeyName:   model.FkColumnName(fieldID),
			UniqueForeignKey: rel == model.OneOne,
		}, nil

	case model.OneMany:
		if isOneWay {
			return Layout{
				Relationship:     rel,
				IsOneWay:         true,
				IsJunction:       true,
				HostTableName:    model.JunctionTableName(fieldID, ""),
				SelfKeyName:      model.FkColumnPrefix + s.suffix(),
				ForeignKeyName:   model.FkColumnName(fieldID),
				UniqueForeignKey: true,
			}, nil
		}
		return Layout{
			Relationship:   rel,
			HostTableName:  foreignDBTable,
			SelfKeyName:    model.FkColumnName(symmetricFieldID),
			ForeignKeyName: model.RowIDColumn,
		}, nil
	}

	return Layout{}, fmt.Errorf("synthesize layout: unknown relationship %q", rel)
}

// CreateForeignKey executes the DDL for a layout: either a junction table
// with two key columns, or a key column added to the host table, with a
// unique index where the cardinality demands one.
func (s *Synthesizer) CreateForeignKey(ctx context.Context, layout Layout) error {
	stmts := buildCreateStatements(layout)
	logrus.Infof("creating foreign key storage on %s", layout.HostTableName)
	return s.store.ExecStatements(ctx, stmts)
}

func buildCreateStatements(layout Layout) []string {
	var stmts []string
	if layout.IsJunction {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %q (%q TEXT NOT NULL, %q TEXT NOT NULL)`,
			layout.HostTableName, layout.SelfKeyName, layout.ForeignKeyName,
		))
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %q ON %q (%q)`,
			"idx_"+layout.HostTableName+"_self", layout.HostTableName, layout.SelfKeyName,
		))
		if layout.UniqueForeignKey {
			stmts = append(stmts, fmt.Sprintf(
				`CREATE UNIQUE INDEX IF NOT EXISTS %q ON %q (%q)`,
				"idx_"+layout.HostTableName+"_foreign", layout.HostTableName, layout.ForeignKeyName,
			))
		}
		return stmts
	}

	column := layout.AddedColumn()
	stmts = append(stmts, fmt.Sprintf(
		`ALTER TABLE %q ADD COLUMN %q TEXT`,
		layout.HostTableName, column,
	))
	if layout.UniqueForeignKey {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE UNIQUE INDEX IF NOT EXISTS %q ON %q (%q)`,
			"idx_"+layout.HostTableName+"_"+column, layout.HostTableName, column,
		))
	}
	return stmts
}

// CleanForeignKey reverses CreateForeignKey for an existing link field:
// auto-generated junction tables are dropped whole, otherwise the added
// key column is dropped from its host table.
func (s *Synthesizer) CleanForeignKey(ctx context.Context, opts *model.LinkOptions) error {
	if strings.HasPrefix(opts.FkHostTableName, model.JunctionPrefix) {
		logrus.Infof("dropping junction table %s", opts.FkHostTableName)
		return s.store.ExecStatements(ctx, []string{
			fmt.Sprintf(`DROP TABLE IF EXISTS %q`, opts.FkHostTableName),
		})
	}

	column := opts.ForeignKeyName
	if column == model.RowIDColumn {
		column = opts.SelfKeyName
	}
	logrus.Infof("dropping key column %s.%s", opts.FkHostTableName, column)
	return s.store.ExecStatements(ctx, []string{
		fmt.Sprintf(`ALTER TABLE %q DROP COLUMN %q`, opts.FkHostTableName, column),
	})
}

// LayoutFromOptions recovers the physical layout of an existing link
// field from its stored options.
func LayoutFromOptions(opts *model.LinkOptions) Layout {
	return Layout{
		Relationship:   opts.Relationship,
		IsOneWay:       opts.IsOneWay,
		HostTableName:  opts.FkHostTableName,
		SelfKeyName:    opts.SelfKeyName,
		ForeignKeyName: opts.ForeignKeyName,
		IsJunction:     strings.HasPrefix(opts.FkHostTableName, model.JunctionPrefix),
		UniqueForeignKey: opts.Relationship == model.OneOne ||
			(opts.Relationship == model.OneMany && opts.IsOneWay),
	}
}

// CreateDataTable creates a physical data table with its row id column.
func (s *Synthesizer) CreateDataTable(ctx context.Context, dbTableName string) error {
	return s.store.ExecStatements(ctx, []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (%q TEXT NOT NULL PRIMARY KEY)`, dbTableName, model.RowIDColumn),
	})
}

// AddColumn adds a plain value column to a data table.
func (s *Synthesizer) AddColumn(ctx context.Context, dbTableName, column string, typ model.DBFieldType) error {
	return s.store.ExecStatements(ctx, []string{
		fmt.Sprintf(`ALTER TABLE %q ADD COLUMN %q %s`, dbTableName, column, typ),
	})
}

// DropColumn removes a value column from a data table.
func (s *Synthesizer) DropColumn(ctx context.Context, dbTableName, column string) error {
	return s.store.ExecStatements(ctx, []string{
		fmt.Sprintf(`ALTER TABLE %q DROP COLUMN %q`, dbTableName, column),
	})
}

// LinkOptionsFromLayout binds a layout to its logical link options.
func LinkOptionsFromLayout(layout Layout, foreignTableID, lookupFieldID, symmetricFieldID string) *model.LinkOptions {
	return &model.LinkOptions{
		Relationship:     layout.Relationship,
		ForeignTableID:   foreignTableID,
		LookupFieldID:    lookupFieldID,
		FkHostTableName:  layout.HostTableName,
		SelfKeyName:      layout.SelfKeyName,
		ForeignKeyName:   layout.ForeignKeyName,
		SymmetricFieldID: symmetricFieldID,
		IsOneWay:         layout.IsOneWay,
	}
}
