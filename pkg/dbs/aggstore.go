package dbs

import (
	"context"
	"reflect"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/doc"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/value"
)

// aggStore implements view.Store against the kvs.Transaction
// attached to the *Context the Maintainer is invoked with, the same seam
// doc.Evaluator/iterator.IndexSource use: the view package never touches
// storage directly, it asks an external collaborator for the current
// aggregate record and for a recomputed raw stat input.
type aggStore struct {
	exec *Executor
}

// recordKeyPart encodes a value used as a record/view key, reusing the
// same ordering convention pkg/iterator's unexported encodeKeyPart
// applies to ordinary record ids; composite (array) group keys fall back
// to the value codec since aggregate view keys are only ever looked up
// by exact match, never range-scanned.
func recordKeyPart(v value.Value) []byte {
	switch v.Tag {
	case value.TagInt:
		return keys.EncodeIntKey(v.Int)
	case value.TagUUID:
		return append([]byte(nil), v.UUID[:]...)
	case value.TagString:
		return keys.EncodeStringKey(v.Str)
	default:
		return value.Encode(v)
	}
}

func (s *aggStore) GetAggregate(ctx context.Context, viewTable string, group value.Value) (value.Value, bool, error) {
	dc, ok := ctx.(*Context)
	if !ok {
		return value.Value{}, false, kerr.UnreachableErr("aggStore.GetAggregate called with a non-*dbs.Context")
	}
	tx, err := dc.Tx()
	if err != nil {
		return value.Value{}, false, err
	}
	key := keys.RecordKey(dc.NS, dc.DB, viewTable, recordKeyPart(group))
	raw, err := tx.Get(ctx, key)
	if err != nil {
		if err == kvs.ErrNotFound {
			return value.Value{}, false, nil
		}
		return value.Value{}, false, err
	}
	v, err := value.Decode(raw)
	if err != nil {
		return value.Value{}, false, err
	}
	return v, true, nil
}

// findAnalysis locates the aggregated view definition over baseTable whose
// AggregateArguments structurally match exprs — Recalculate's signature
// carries the argument expressions but not which AggregationKind or view
// they belong to, so the match is recovered from
// the catalog rather than widening view.Store's contract.
func (s *aggStore) findAnalysis(dc *Context, baseTable string, exprs []ast.Expr) (*catalog.AggregationAnalysis, []int) {
	for _, t := range dc.Catalog.ForeignViews(dc.NS, dc.DB, baseTable) {
		an := t.View.Analysis
		if an == nil {
			continue
		}
		kinds := make([]int, len(exprs))
		matched := true
		for j, e := range exprs {
			found := -1
			for i, a := range an.AggregateArguments {
				if reflect.DeepEqual(a.(ast.Expr), e) {
					found = i
					break
				}
			}
			if found < 0 {
				matched = false
				break
			}
			kinds[j] = found
		}
		if matched {
			return an, kinds
		}
	}
	return nil, nil
}

// Recalculate re-derives one raw stat input per expr by scanning baseTable
// for every record whose GroupExpressions evaluate to group, shaping each
// raw the way the matching Stat kind's Recalculate expects: a bare Int for
// Count/CountValue, {sum,count} for Sum/Mean, {sum,sum_sq,count} for
// Variance/StdDev, and the bare extreme value itself for
// NumberMin/Max/TimeMin/Max.
func (s *aggStore) Recalculate(ctx context.Context, baseTable string, group []value.Value, exprs []ast.Expr) ([]value.Value, error) {
	dc, ok := ctx.(*Context)
	if !ok {
		return nil, kerr.UnreachableErr("aggStore.Recalculate called with a non-*dbs.Context")
	}
	tx, err := dc.Tx()
	if err != nil {
		return nil, err
	}
	if len(exprs) == 0 {
		return nil, nil
	}

	an, kinds := s.findAnalysis(dc, baseTable, exprs)
	if an == nil {
		return nil, kerr.New(kerr.InvalidStatement, "no aggregated view found over base table %s", baseTable)
	}

	begin := keys.RecordKeyPrefix(dc.NS, dc.DB, baseTable)
	end := keys.PrefixUpperBound(keys.TablePrefix(dc.NS, dc.DB, baseTable))
	it, err := tx.Stream(ctx, begin, end, 0, kvs.Forward)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	sums := make([]float64, len(exprs))
	sumSqs := make([]float64, len(exprs))
	counts := make([]int64, len(exprs))
	truthy := make([]int64, len(exprs))
	extremes := make([]value.Value, len(exprs))
	haveExtreme := make([]bool, len(exprs))
	var rows int64

	for {
		kv, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		d, err := value.Decode(kv.Value)
		if err != nil {
			return nil, err
		}
		scope := doc.Scope{Value: d, After: d}

		matches := true
		for i, ge := range an.GroupExpressions {
			if i >= len(group) {
				matches = false
				break
			}
			gv, err := s.exec.docEval.Eval(dc, ge.(ast.Expr), scope)
			if err != nil {
				return nil, err
			}
			if !value.Equal(gv, group[i]) {
				matches = false
				break
			}
		}
		if !matches {
			continue
		}
		rows++

		for j, e := range exprs {
			av, err := s.exec.docEval.Eval(dc, e, scope)
			if err != nil {
				return nil, err
			}
			f := asFloatValue(av)
			sums[j] += f
			sumSqs[j] += f * f
			counts[j]++
			if av.Truthy() {
				truthy[j]++
			}
			kind := an.Aggregations[kinds[j]]
			if isExtremeKind(kind) {
				better := !haveExtreme[j]
				if haveExtreme[j] {
					c := value.Compare(av, extremes[j])
					if kind == catalog.AggNumberMax || kind == catalog.AggTimeMax {
						better = c > 0
					} else {
						better = c < 0
					}
				}
				if better {
					extremes[j] = av
					haveExtreme[j] = true
				}
			}
		}
	}

	raws := make([]value.Value, len(exprs))
	for j := range exprs {
		switch an.Aggregations[kinds[j]] {
		case catalog.AggCount:
			raws[j] = value.Int(rows)
		case catalog.AggCountValue:
			raws[j] = value.Int(truthy[j])
		case catalog.AggSum, catalog.AggMean:
			raws[j] = value.Obj(map[string]value.Value{"sum": value.Float(sums[j]), "count": value.Int(counts[j])})
		case catalog.AggVariance, catalog.AggStdDev:
			raws[j] = value.Obj(map[string]value.Value{
				"sum": value.Float(sums[j]), "sum_sq": value.Float(sumSqs[j]), "count": value.Int(counts[j]),
			})
		case catalog.AggNumberMin, catalog.AggNumberMax, catalog.AggTimeMin, catalog.AggTimeMax:
			if haveExtreme[j] {
				raws[j] = extremes[j]
			} else {
				raws[j] = value.None()
			}
		default:
			raws[j] = value.None()
		}
	}
	return raws, nil
}

func isExtremeKind(k catalog.AggregationKind) bool {
	switch k {
	case catalog.AggNumberMin, catalog.AggNumberMax, catalog.AggTimeMin, catalog.AggTimeMax:
		return true
	}
	return false
}

func asFloatValue(v value.Value) float64 {
	f, _ := toFloat(v)
	return f
}
