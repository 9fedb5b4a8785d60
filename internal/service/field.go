package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emrgen/tabular/internal/cache"
	"github.com/emrgen/tabular/internal/graph"
	"github.com/emrgen/tabular/internal/model"
	"github.com/emrgen/tabular/internal/schema"
	"github.com/emrgen/tabular/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const fieldListTTL = 5 * time.Minute

// FieldRequest is a field creation or update request before preparation.
type FieldRequest struct {
	Name        string
	Description string
	Type        model.FieldType
	// DBFieldName optionally pins the storage column name. Duplicates
	// within the table are rejected.
	DBFieldName string
	IsLookup    bool
	Link        *LinkRequest
	Lookup      *LookupRequest
	Expression  string
}

type LinkRequest struct {
	Relationship   string
	ForeignTableID string
	// LookupFieldID names the foreign field supplying link titles;
	// defaults to the foreign table's primary field.
	LookupFieldID string
	IsOneWay      bool
}

type LookupRequest struct {
	LinkFieldID   string
	LookupFieldID string
	Filter        *model.LookupFilter
}

type Option func(*FieldService)

// WithCache enables the field-listing cache.
func WithCache(kv cache.KV) Option {
	return func(s *FieldService) {
		s.kv = kv
	}
}

// WithCrossBaseLinks allows links to target tables of other bases.
func WithCrossBaseLinks() Option {
	return func(s *FieldService) {
		s.allowCrossBase = true
	}
}

// NewFieldService creates the field service. All schema and graph work of
// one call is expected to run inside the caller's Store.Transaction.
func NewFieldService(s store.Store, opts ...Option) *FieldService {
	service := &FieldService{
		store:    s,
		graph:    graph.NewService(s),
		synth:    schema.NewSynthesizer(s),
		migrator: newCellMigrator(s),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// FieldService prepares, commits, converts and deletes fields, driving
// the layout synthesizer, the reference graph and the cell migrator.
type FieldService struct {
	store          store.Store
	graph          *graph.Service
	synth          *schema.Synthesizer
	migrator       *cellMigrator
	kv             cache.KV
	allowCrossBase bool
}

// ListFields returns the live fields of a table, through the cache when
// one is configured.
func (s *FieldService) ListFields(ctx context.Context, tableID string) ([]*model.Field, error) {
	if s.kv != nil {
		if raw, ok, err := s.kv.Get(ctx, cache.TableFieldsKey(tableID)); err == nil && ok {
			var fields []*model.Field
			if err := json.Unmarshal([]byte(raw), &fields); err == nil {
				return fields, nil
			}
		}
	}

	fields, err := s.store.ListFields(ctx, tableID)
	if err != nil {
		return nil, err
	}

	if s.kv != nil {
		if data, err := json.Marshal(fields); err == nil {
			if err := s.kv.Set(ctx, cache.TableFieldsKey(tableID), string(data), fieldListTTL); err != nil {
				logrus.Warnf("caching fields of %s: %v", tableID, err)
			}
		}
	}
	return fields, nil
}

func (s *FieldService) invalidateFields(ctx context.Context, tableIDs ...string) {
	if s.kv == nil {
		return
	}
	for _, id := range tableIDs {
		if id == "" {
			continue
		}
		if err := s.kv.Del(ctx, cache.TableFieldsKey(id)); err != nil {
			logrus.Warnf("invalidating field cache of %s: %v", id, err)
		}
	}
}

func (s *FieldService) getTable(ctx context.Context, tableID string) (*model.Table, error) {
	table, err := s.store.GetTable(ctx, tableID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	return table, err
}

// CreateFieldItem persists a prepared field: value column DDL, foreign
// key DDL for links, reference edges, and the symmetric field of a
// two-way link. A reference cycle aborts with no edges persisted, but
// after DDL has run; the wrapping transaction owns the rollback.
func (s *FieldService) CreateFieldItem(ctx context.Context, tableID string, field *model.Field) (*ConversionResult, error) {
	table, err := s.getTable(ctx, tableID)
	if err != nil {
		return nil, err
	}

	if err := s.synth.AddColumn(ctx, table.DBTableName, field.DBFieldName, field.DBFieldType); err != nil {
		return nil, err
	}

	if field.Type == model.FieldTypeLink && !field.IsLookup {
		opts, err := field.LinkOptions()
		if err != nil {
			return nil, err
		}
		if err := s.synth.CreateForeignKey(ctx, schema.LayoutFromOptions(opts)); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreateField(ctx, field); err != nil {
		return nil, err
	}

	froms, err := graph.EdgesForField(field)
	if err != nil {
		return nil, err
	}
	if err := s.graph.AddEdges(ctx, field.ID, froms); err != nil {
		return nil, err
	}

	result := &ConversionResult{Field: field}
	if field.Type == model.FieldTypeLink && !field.IsLookup {
		opts, _ := field.LinkOptions()
		if !opts.IsOneWay {
			symmetric, err := s.EnsureSymmetric(ctx, field)
			if err != nil {
				return nil, err
			}
			if symmetric != nil {
				result.CreatedFields = append(result.CreatedFields, symmetric)
				s.invalidateFields(ctx, symmetric.TableID)
			}
		}
	}

	s.invalidateFields(ctx, tableID)
	logrus.Infof("created field %s (%s) on table %s", field.ID, field.Type, tableID)
	return result, nil
}

// AnalyzeReference is a dry run: the transitive dependents whose values a
// change to the field would touch.
func (s *FieldService) AnalyzeReference(ctx context.Context, fieldID string) ([]string, error) {
	return s.graph.Downstream(ctx, fieldID)
}

// AlterDeleteField soft-deletes a field. Deleting a primary field is
// refused. A link cascade drops the foreign key storage, deletes the
// symmetric pair, and flags dependent computed fields hasError instead
// of deleting them. Returns every {table, field} pair deleted.
func (s *FieldService) AlterDeleteField(ctx context.Context, tableID, fieldID string) ([]FieldRef, error) {
	field, err := s.store.GetTableField(ctx, tableID, fieldID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, fieldID)
	}
	if err != nil {
		return nil, err
	}
	if field.IsPrimary {
		return nil, ErrDeletePrimaryField
	}

	deleted := []FieldRef{{TableID: tableID, FieldID: fieldID}}

	if field.Type == model.FieldTypeLink && !field.IsLookup {
		opts, err := field.LinkOptions()
		if err != nil {
			return nil, err
		}
		if err := s.synth.CleanForeignKey(ctx, opts); err != nil {
			return nil, err
		}
		if opts.SymmetricFieldID != "" {
			refs, err := s.deleteSymmetricField(ctx, opts.SymmetricFieldID)
			if err != nil {
				return nil, err
			}
			deleted = append(deleted, refs...)
		}
	}

	orphans, err := s.graph.RemoveEdges(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	if err := s.flagOrphans(ctx, orphans); err != nil {
		return nil, err
	}

	if err := s.store.DeleteField(ctx, fieldID); err != nil {
		return nil, err
	}

	for _, ref := range deleted {
		s.invalidateFields(ctx, ref.TableID)
	}
	logrus.Infof("deleted field %s on table %s (%d fields total, %d dependents degraded)",
		fieldID, tableID, len(deleted), len(orphans))
	return deleted, nil
}

// flagOrphans marks dependent fields hasError. They keep their identity,
// storage column and data so they can be repaired later.
func (s *FieldService) flagOrphans(ctx context.Context, orphans []string) error {
	if len(orphans) == 0 {
		return nil
	}
	fields, err := s.store.ListFieldsFromIDs(ctx, orphans)
	if err != nil {
		return err
	}
	var ids []string
	for _, f := range fields {
		ids = append(ids, f.ID)
		s.invalidateFields(ctx, f.TableID)
	}
	return s.store.MarkFieldsError(ctx, ids, true)
}
