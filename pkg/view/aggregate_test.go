package view

import (
	"context"
	"testing"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/doc"
	"github.com/cuemby/nexus/pkg/value"
	"github.com/stretchr/testify/require"
)

type fakeEval struct{}

func (fakeEval) Eval(ctx context.Context, expr ast.Expr, scope doc.Scope) (value.Value, error) {
	switch e := expr.(type) {
	case ast.Lit:
		return e.Value, nil
	case ast.IdiomExpr:
		return value.Get(scope.Value, e.Path), nil
	}
	return value.None(), nil
}

type memStore struct {
	records       map[string]value.Value
	recalcResults map[string][]value.Value
}

func newMemStore() *memStore {
	return &memStore{records: map[string]value.Value{}, recalcResults: map[string][]value.Value{}}
}

func (s *memStore) GetAggregate(ctx context.Context, viewTable string, group value.Value) (value.Value, bool, error) {
	v, ok := s.records[viewTable+group.String()]
	return v, ok, nil
}

func (s *memStore) Recalculate(ctx context.Context, baseTable string, group []value.Value, exprs []ast.Expr) ([]value.Value, error) {
	key := baseTable
	for _, g := range group {
		key += g.String()
	}
	return s.recalcResults[key], nil
}

func salesTable() *catalog.TableDef {
	return &catalog.TableDef{
		Name: "sales_by_category",
		View: &catalog.ViewDefinition{
			Kind:      catalog.ViewAggregated,
			BaseTable: "sales",
			Analysis: &catalog.AggregationAnalysis{
				GroupExpressions:   []any{ast.IdiomExpr{Path: value.ParseIdiom("category")}},
				AggregateArguments: []any{ast.IdiomExpr{Path: value.ParseIdiom("amount")}, ast.IdiomExpr{Path: value.ParseIdiom("amount")}},
				Aggregations:       []catalog.AggregationKind{catalog.AggCount, catalog.AggSum},
			},
			Fields: []catalog.AggregateField{
				{Name: "category", Expr: ast.IdiomExpr{Path: value.ParseIdiom("group[0]")}},
				{Name: "total", Expr: ast.IdiomExpr{Path: value.ParseIdiom("stats[1]")}},
				{Name: "count", Expr: ast.IdiomExpr{Path: value.ParseIdiom("stats[0]")}},
			},
		},
	}
}

func TestAggregatedCreateAccumulates(t *testing.T) {
	tbl := salesTable()
	store := newMemStore()
	m := &Maintainer{Eval: fakeEval{}, Store: store}

	doc1 := value.Obj(map[string]value.Value{"category": value.Str("books"), "amount": value.Int(10)})
	writes, err := m.HandleWrite(context.Background(), tbl, value.Null(), doc1, ActionCreate)
	require.NoError(t, err)
	require.Len(t, writes, 1)
	require.Equal(t, int64(1), writes[0].Value.Object["count"].Int)
	require.InDelta(t, 10, writes[0].Value.Object["total"].Float, 0.001)

	store.records["sales_by_category"+writes[0].Key.String()] = writes[0].Value

	doc2 := value.Obj(map[string]value.Value{"category": value.Str("books"), "amount": value.Int(25)})
	writes2, err := m.HandleWrite(context.Background(), tbl, value.Null(), doc2, ActionCreate)
	require.NoError(t, err)
	require.Equal(t, int64(2), writes2[0].Value.Object["count"].Int)
	require.InDelta(t, 35, writes2[0].Value.Object["total"].Float, 0.001)
}

func TestAggregatedDeleteToZeroRemovesRecord(t *testing.T) {
	tbl := salesTable()
	store := newMemStore()
	m := &Maintainer{Eval: fakeEval{}, Store: store}

	doc1 := value.Obj(map[string]value.Value{"category": value.Str("books"), "amount": value.Int(10)})
	writes, err := m.HandleWrite(context.Background(), tbl, value.Null(), doc1, ActionCreate)
	require.NoError(t, err)
	store.records["sales_by_category"+writes[0].Key.String()] = writes[0].Value

	del, err := m.HandleWrite(context.Background(), tbl, doc1, value.Null(), ActionDelete)
	require.NoError(t, err)
	require.Len(t, del, 1)
	require.True(t, del[0].Delete)
}

// TestAggregatedCountValueDoesNotDeleteGroupWithRows: a view whose only
// aggregation is count(field) still keeps its record while rows remain
// in the group, even when every surviving row holds a falsy value for
// the counted field — group emptiness is row presence, not the
// aggregate's value.
func TestAggregatedCountValueDoesNotDeleteGroupWithRows(t *testing.T) {
	tbl := &catalog.TableDef{
		Name: "paid_by_category",
		View: &catalog.ViewDefinition{
			Kind:      catalog.ViewAggregated,
			BaseTable: "sales",
			Analysis: &catalog.AggregationAnalysis{
				GroupExpressions:   []any{ast.IdiomExpr{Path: value.ParseIdiom("category")}},
				AggregateArguments: []any{ast.IdiomExpr{Path: value.ParseIdiom("paid")}},
				Aggregations:       []catalog.AggregationKind{catalog.AggCountValue},
			},
			Fields: []catalog.AggregateField{
				{Name: "paid", Expr: ast.IdiomExpr{Path: value.ParseIdiom("stats[0]")}},
			},
		},
	}
	store := newMemStore()
	m := &Maintainer{Eval: fakeEval{}, Store: store}

	unpaid := value.Obj(map[string]value.Value{"category": value.Str("a"), "paid": value.Bool(false)})
	paid := value.Obj(map[string]value.Value{"category": value.Str("a"), "paid": value.Bool(true)})

	for _, d := range []value.Value{unpaid, paid} {
		writes, err := m.HandleWrite(context.Background(), tbl, value.Null(), d, ActionCreate)
		require.NoError(t, err)
		require.Len(t, writes, 1)
		store.records["paid_by_category"+writes[0].Key.String()] = writes[0].Value
	}

	// Deleting the one paid row drops count(paid) to zero, but the unpaid
	// row still exists in the group: the view record must survive.
	writes, err := m.HandleWrite(context.Background(), tbl, paid, value.Null(), ActionDelete)
	require.NoError(t, err)
	require.Len(t, writes, 1)
	require.False(t, writes[0].Delete)
	require.Equal(t, value.Int(0), writes[0].Value.Object["paid"])
	require.Equal(t, value.Int(1), writes[0].Value.Object["rows"])
	store.records["paid_by_category"+writes[0].Key.String()] = writes[0].Value

	// Deleting the last row empties the group outright.
	del, err := m.HandleWrite(context.Background(), tbl, unpaid, value.Null(), ActionDelete)
	require.NoError(t, err)
	require.Len(t, del, 1)
	require.True(t, del[0].Delete)
}

// maxSalesTable aggregates max(amount) by category, the shape where a
// delete of the row holding the extreme cannot be repaired in place and
// must fall back to recalculation.
func maxSalesTable() *catalog.TableDef {
	return &catalog.TableDef{
		Name: "max_by_category",
		View: &catalog.ViewDefinition{
			Kind:      catalog.ViewAggregated,
			BaseTable: "sales",
			Analysis: &catalog.AggregationAnalysis{
				GroupExpressions:   []any{ast.IdiomExpr{Path: value.ParseIdiom("category")}},
				AggregateArguments: []any{ast.IdiomExpr{Path: value.ParseIdiom("amount")}, ast.IdiomExpr{Path: value.ParseIdiom("amount")}},
				Aggregations:       []catalog.AggregationKind{catalog.AggCount, catalog.AggNumberMax},
			},
			Fields: []catalog.AggregateField{
				{Name: "category", Expr: ast.IdiomExpr{Path: value.ParseIdiom("group[0]")}},
				{Name: "max", Expr: ast.IdiomExpr{Path: value.ParseIdiom("stats[1]")}},
			},
		},
	}
}

func TestAggregatedDeleteExtremeTriggersRecalculation(t *testing.T) {
	tbl := maxSalesTable()
	store := newMemStore()
	m := &Maintainer{Eval: fakeEval{}, Store: store}

	rows := []int64{1, 5, 3}
	var last []ViewWrite
	for _, v := range rows {
		d := value.Obj(map[string]value.Value{"category": value.Str("a"), "amount": value.Int(v)})
		writes, err := m.HandleWrite(context.Background(), tbl, value.Null(), d, ActionCreate)
		require.NoError(t, err)
		require.Len(t, writes, 1)
		store.records["max_by_category"+writes[0].Key.String()] = writes[0].Value
		last = writes
	}
	require.Equal(t, value.Int(5), last[0].Value.Object["max"])

	// Deleting the row holding the extreme forces a rescan; the store's
	// canned recalculation result stands in for the synthetic GROUP ALL
	// query over the two surviving rows.
	store.recalcResults["salesa"] = []value.Value{value.Int(3)}
	deleted := value.Obj(map[string]value.Value{"category": value.Str("a"), "amount": value.Int(5)})
	writes, err := m.HandleWrite(context.Background(), tbl, deleted, value.Null(), ActionDelete)
	require.NoError(t, err)
	require.Len(t, writes, 1)
	require.False(t, writes[0].Delete)
	require.Equal(t, value.Int(3), writes[0].Value.Object["max"])
	require.Equal(t, int64(2), value.Get(writes[0].Value, value.ParseIdiom("stats[0].count")).Int)
}

func TestMaterializedDeletesOnFalsyCondition(t *testing.T) {
	tbl := &catalog.TableDef{
		Name: "active_people",
		View: &catalog.ViewDefinition{
			Kind:      catalog.ViewMaterialized,
			BaseTable: "person",
			Condition: ast.IdiomExpr{Path: value.ParseIdiom("active")},
			Fields: []catalog.AggregateField{
				{Name: "name", Expr: ast.IdiomExpr{Path: value.ParseIdiom("name")}},
			},
		},
	}
	m := &Maintainer{Eval: fakeEval{}}

	initial := value.Obj(map[string]value.Value{
		"id":     value.Thing("person", value.Str("ann")),
		"active": value.Bool(true),
		"name":   value.Str("Ann"),
	})
	current := value.Obj(map[string]value.Value{
		"id":     value.Thing("person", value.Str("ann")),
		"active": value.Bool(false),
		"name":   value.Str("Ann"),
	})

	writes, err := m.HandleWrite(context.Background(), tbl, initial, current, ActionUpdate)
	require.NoError(t, err)
	require.Len(t, writes, 1)
	require.True(t, writes[0].Delete)
}
