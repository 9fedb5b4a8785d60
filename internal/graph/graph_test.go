package graph

import (
	"context"
	"testing"

	"github.com/emrgen/tabular/internal/model"
	"github.com/emrgen/tabular/internal/store"
	"github.com/emrgen/tabular/internal/tester"
	"github.com/stretchr/testify/assert"
)

func setupGraph(t *testing.T) (*Service, store.Store) {
	t.Helper()
	tester.Setup()
	s := store.NewGormStore(tester.TestDB())
	return NewService(s), s
}

func TestService_AddEdges(t *testing.T) {
	g, s := setupGraph(t)
	ctx := context.TODO()

	err := g.AddEdges(ctx, "fldB", []string{"fldA"})
	assert.NoError(t, err)

	refs, err := s.ListReferences(ctx)
	assert.NoError(t, err)
	assert.Len(t, refs, 1)
	assert.Equal(t, "fldA", refs[0].FromFieldID)
	assert.Equal(t, "fldB", refs[0].ToFieldID)

	// Re-adding the same edge is a no-op.
	err = g.AddEdges(ctx, "fldB", []string{"fldA"})
	assert.NoError(t, err)
	refs, _ = s.ListReferences(ctx)
	assert.Len(t, refs, 1)
}

func TestService_AddEdges_SelfLoop(t *testing.T) {
	g, _ := setupGraph(t)

	err := g.AddEdges(context.TODO(), "fldA", []string{"fldA"})
	assert.ErrorIs(t, err, ErrCycle)
}

func TestService_AddEdges_DirectCycle(t *testing.T) {
	g, s := setupGraph(t)
	ctx := context.TODO()

	assert.NoError(t, g.AddEdges(ctx, "fldB", []string{"fldA"}))

	err := g.AddEdges(ctx, "fldA", []string{"fldB"})
	assert.ErrorIs(t, err, ErrCycle)

	refs, _ := s.ListReferences(ctx)
	assert.Len(t, refs, 1)
}

func TestService_AddEdges_TransitiveCycle(t *testing.T) {
	g, s := setupGraph(t)
	ctx := context.TODO()

	assert.NoError(t, g.AddEdges(ctx, "fldB", []string{"fldA"}))
	assert.NoError(t, g.AddEdges(ctx, "fldC", []string{"fldB"}))

	err := g.AddEdges(ctx, "fldA", []string{"fldC"})
	assert.ErrorIs(t, err, ErrCycle)

	// All-or-nothing: the failed call persisted nothing.
	refs, _ := s.ListReferences(ctx)
	assert.Len(t, refs, 2)
}

func TestService_AddEdges_AllOrNothing(t *testing.T) {
	g, s := setupGraph(t)
	ctx := context.TODO()

	assert.NoError(t, g.AddEdges(ctx, "fldB", []string{"fldA"}))

	// One good candidate, one cycling candidate: neither persists.
	err := g.AddEdges(ctx, "fldA", []string{"fldZ", "fldB"})
	assert.ErrorIs(t, err, ErrCycle)

	refs, _ := s.ListReferences(ctx)
	assert.Len(t, refs, 1)
}

func TestService_RemoveEdges(t *testing.T) {
	g, s := setupGraph(t)
	ctx := context.TODO()

	assert.NoError(t, g.AddEdges(ctx, "fldB", []string{"fldA"}))
	assert.NoError(t, g.AddEdges(ctx, "fldC", []string{"fldA"}))
	assert.NoError(t, g.AddEdges(ctx, "fldA", []string{"fldZ"}))

	orphans, err := g.RemoveEdges(ctx, "fldA")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"fldB", "fldC"}, orphans)

	refs, _ := s.ListReferences(ctx)
	assert.Empty(t, refs)
}

func TestService_RemoveUpstreamEdges(t *testing.T) {
	g, s := setupGraph(t)
	ctx := context.TODO()

	assert.NoError(t, g.AddEdges(ctx, "fldB", []string{"fldA"}))
	assert.NoError(t, g.AddEdges(ctx, "fldC", []string{"fldB"}))

	assert.NoError(t, g.RemoveUpstreamEdges(ctx, "fldB"))

	refs, _ := s.ListReferences(ctx)
	assert.Len(t, refs, 1)
	assert.Equal(t, "fldC", refs[0].ToFieldID)
}

func TestService_Downstream(t *testing.T) {
	g, _ := setupGraph(t)
	ctx := context.TODO()

	assert.NoError(t, g.AddEdges(ctx, "fldB", []string{"fldA"}))
	assert.NoError(t, g.AddEdges(ctx, "fldC", []string{"fldB"}))
	assert.NoError(t, g.AddEdges(ctx, "fldD", []string{"fldB"}))

	dependents, err := g.Downstream(ctx, "fldA")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"fldB", "fldC", "fldD"}, dependents)

	dependents, err = g.Downstream(ctx, "fldD")
	assert.NoError(t, err)
	assert.Empty(t, dependents)
}

func TestEdgesForField(t *testing.T) {
	link := &model.Field{ID: "fldLink", Type: model.FieldTypeLink}
	assert.NoError(t, link.SetLinkOptions(&model.LinkOptions{
		Relationship:   model.ManyOne,
		ForeignTableID: "tblB",
		LookupFieldID:  "fldTitle",
	}))
	froms, err := EdgesForField(link)
	assert.NoError(t, err)
	assert.Equal(t, []string{"fldTitle"}, froms)

	lookup := &model.Field{ID: "fldLookup", Type: model.FieldTypeSingleLineText, IsLookup: true}
	assert.NoError(t, lookup.SetLookupOptions(&model.LookupOptions{
		LinkFieldID:   "fldLink",
		LookupFieldID: "fldTitle",
		Filter: &model.LookupFilter{
			Predicates: []model.FilterPredicate{{FieldID: "fldStatus", Operator: "is"}},
		},
	}))
	froms, err = EdgesForField(lookup)
	assert.NoError(t, err)
	assert.Equal(t, []string{"fldLink", "fldTitle", "fldStatus"}, froms)

	form := &model.Field{ID: "fldFormula", Type: model.FieldTypeFormula, Options: `{"expression":"{fldX} + {fldY}"}`}
	froms, err = EdgesForField(form)
	assert.NoError(t, err)
	assert.Equal(t, []string{"fldX", "fldY"}, froms)

	simple := &model.Field{ID: "fldText", Type: model.FieldTypeSingleLineText}
	froms, err = EdgesForField(simple)
	assert.NoError(t, err)
	assert.Empty(t, froms)
}
