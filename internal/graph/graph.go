package graph

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/tabular/internal/formula"
	"github.com/emrgen/tabular/internal/model"
	"github.com/emrgen/tabular/internal/store"
	"github.com/sirupsen/logrus"
)

// ErrCycle is returned when a candidate edge set would make the field
// dependency graph cyclic. Nothing is persisted in that case.
var ErrCycle = errors.New("field reference cycle detected")

func NewService(refs store.ReferenceStore) *Service {
	return &Service{refs: refs}
}

// Service maintains the directed field dependency graph.
type Service struct {
	refs store.ReferenceStore
}

// EdgesForField derives the upstream field ids a field depends on, per
// field kind. The result are the candidate edge sources for AddEdges.
func EdgesForField(field *model.Field) ([]string, error) {
	switch {
	case field.IsLookup || field.Type == model.FieldTypeRollup:
		opts, err := field.GetLookupOptions()
		if err != nil {
			return nil, err
		}
		from := []string{opts.LinkFieldID, opts.LookupFieldID}
		from = append(from, opts.Filter.FieldIDs()...)
		return dedupe(from), nil

	case field.Type == model.FieldTypeLink:
		opts, err := field.LinkOptions()
		if err != nil {
			return nil, err
		}
		return []string{opts.LookupFieldID}, nil

	case field.Type == model.FieldTypeFormula:
		opts, err := field.FormulaOptions()
		if err != nil {
			return nil, err
		}
		return formula.ExtractFieldIDs(opts.Expression), nil
	}

	return nil, nil
}

// AddEdges records "toFieldID depends on each of fromFieldIDs". The
// existing graph restricted to the transitive neighborhood of the touched
// fields is loaded, the candidates appended, and the union checked for
// cycles; on a cycle no edge is persisted.
func (s *Service) AddEdges(ctx context.Context, toFieldID string, fromFieldIDs []string) error {
	fromFieldIDs = dedupe(fromFieldIDs)
	if len(fromFieldIDs) == 0 {
		return nil
	}
	for _, from := range fromFieldIDs {
		if from == toFieldID {
			return fmt.Errorf("%w: field %s references itself", ErrCycle, toFieldID)
		}
	}

	adjacency, existing, err := s.neighborhood(ctx, append([]string{toFieldID}, fromFieldIDs...))
	if err != nil {
		return err
	}
	for _, from := range fromFieldIDs {
		adjacency[from] = append(adjacency[from], toFieldID)
	}

	if hit := reachableFrom(adjacency, toFieldID, fromFieldIDs); hit != "" {
		return fmt.Errorf("%w: adding %s -> %s closes a loop", ErrCycle, hit, toFieldID)
	}

	var refs []*model.Reference
	for _, from := range fromFieldIDs {
		if existing.Contains(from + ":" + toFieldID) {
			continue
		}
		refs = append(refs, &model.Reference{FromFieldID: from, ToFieldID: toFieldID})
	}
	return s.refs.CreateReferences(ctx, refs)
}

// RemoveEdges deletes every edge touching the field and returns the ids
// of the fields that depended on it, so callers can flag them instead of
// deleting them.
func (s *Service) RemoveEdges(ctx context.Context, fieldID string) ([]string, error) {
	downstream, err := s.refs.ListReferencesFrom(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	if err := s.refs.DeleteReferencesByField(ctx, fieldID); err != nil {
		return nil, err
	}

	var orphans []string
	for _, ref := range downstream {
		orphans = append(orphans, ref.ToFieldID)
	}
	logrus.Infof("removed reference edges of field %s, %d dependents affected", fieldID, len(orphans))
	return dedupe(orphans), nil
}

// RemoveUpstreamEdges deletes only the edges feeding the field, keeping
// its dependents wired. Used when a field's references are re-resolved.
func (s *Service) RemoveUpstreamEdges(ctx context.Context, fieldID string) error {
	return s.refs.DeleteReferencesTo(ctx, fieldID)
}

// Downstream returns the transitive dependents of a field, breadth-first.
func (s *Service) Downstream(ctx context.Context, fieldID string) ([]string, error) {
	visited := mapset.NewSet(fieldID)
	frontier := []string{fieldID}
	var result []string

	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			refs, err := s.refs.ListReferencesFrom(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, ref := range refs {
				if visited.Contains(ref.ToFieldID) {
					continue
				}
				visited.Add(ref.ToFieldID)
				result = append(result, ref.ToFieldID)
				next = append(next, ref.ToFieldID)
			}
		}
		frontier = next
	}
	return result, nil
}

// neighborhood loads the edges of the transitive neighborhood of the seed
// fields. Returns the adjacency list and the set of existing "from:to"
// pairs.
func (s *Service) neighborhood(ctx context.Context, seeds []string) (map[string][]string, mapset.Set[string], error) {
	adjacency := make(map[string][]string)
	pairs := mapset.NewSet[string]()
	visited := mapset.NewSet[string]()
	frontier := dedupe(seeds)

	for len(frontier) > 0 {
		for _, id := range frontier {
			visited.Add(id)
		}
		refs, err := s.refs.ListReferencesByFieldIDs(ctx, frontier)
		if err != nil {
			return nil, nil, err
		}

		var next []string
		for _, ref := range refs {
			key := ref.FromFieldID + ":" + ref.ToFieldID
			if pairs.Contains(key) {
				continue
			}
			pairs.Add(key)
			adjacency[ref.FromFieldID] = append(adjacency[ref.FromFieldID], ref.ToFieldID)
			for _, id := range []string{ref.FromFieldID, ref.ToFieldID} {
				if !visited.Contains(id) {
					next = append(next, id)
				}
			}
		}
		frontier = dedupe(next)
	}
	return adjacency, pairs, nil
}

// reachableFrom walks the adjacency list from start and returns the first
// of targets it can reach, or "".
func reachableFrom(adjacency map[string][]string, start string, targets []string) string {
	targetSet := mapset.NewSet(targets...)
	visited := mapset.NewSet[string]()
	stack := []string{start}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited.Contains(id) {
			continue
		}
		visited.Add(id)
		if targetSet.Contains(id) && id != start {
			return id
		}
		stack = append(stack, adjacency[id]...)
	}
	return ""
}

func dedupe(ids []string) []string {
	seen := mapset.NewSet[string]()
	var out []string
	for _, id := range ids {
		if id == "" || seen.Contains(id) {
			continue
		}
		seen.Add(id)
		out = append(out, id)
	}
	return out
}
