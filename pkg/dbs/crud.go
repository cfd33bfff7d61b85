package dbs

import (
	"encoding/binary"
	"sort"

	"github.com/google/uuid"

	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/doc"
	"github.com/cuemby/nexus/pkg/events"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/kvs"
	"github.com/cuemby/nexus/pkg/iterator"
	"github.com/cuemby/nexus/pkg/metrics"
	"github.com/cuemby/nexus/pkg/value"
	"github.com/cuemby/nexus/pkg/view"
)

// execSubquery dispatches the five CRUD expression kinds, reached both
// from a top-level ExprStmt and from a nested subquery (FROM (SELECT...),
// FOR loop body, ...).
func (ex *Executor) execSubquery(ctx *Context, expr ast.Expr) (value.Value, error) {
	switch e := expr.(type) {
	case ast.Select:
		return ex.execSelect(ctx, e)
	case ast.Create:
		return ex.execCreate(ctx, e)
	case ast.Update:
		return ex.execUpdate(ctx, e)
	case ast.Delete:
		return ex.execDelete(ctx, e)
	case ast.Relate:
		return ex.execRelate(ctx, e)
	case ast.Insert:
		return ex.execInsert(ctx, e)
	}
	return value.Value{}, kerr.UnreachableErr("unhandled subquery expression %T", expr)
}

// engineFor builds an iterator.Engine bound to ctx's attached
// transaction, wiring the executor's indexSource so IterIndex iterables
// resolve.
func (ex *Executor) engineFor(ctx *Context) (*iterator.Engine, error) {
	tx, err := ctx.Tx()
	if err != nil {
		return nil, err
	}
	return &iterator.Engine{NS: ctx.NS, DB: ctx.DB, Tx: tx, Index: ex.indexSrc}, nil
}

// whatIterable turns one ast.What into an iterator.Iterable, resolving
// WhatParam against a bound $variable (a RecordID, an array of them, or
// a bare string table name) and WhatSubquery by recursively running the
// nested SELECT and feeding its rows back in as an IterValue list.
func (ex *Executor) whatIterable(ctx *Context, w ast.What) ([]iterator.Iterable, error) {
	switch w.Kind {
	case ast.WhatTable:
		return []iterator.Iterable{{Kind: iterator.IterTable, Table: w.Table}}, nil

	case ast.WhatThing:
		return []iterator.Iterable{{Kind: iterator.IterThing, Table: w.Thing.Table, Thing: w.Thing}}, nil

	case ast.WhatParam:
		v := ctx.Var(w.Param)
		return whatFromValue(v), nil

	case ast.WhatSubquery:
		v, err := ex.execSelect(ctx, *w.Sub)
		if err != nil {
			return nil, err
		}
		return whatFromValue(v), nil
	}
	return nil, kerr.UnreachableErr("unknown What kind %d", w.Kind)
}

func whatFromValue(v value.Value) []iterator.Iterable {
	switch v.Tag {
	case value.TagRecordID:
		return []iterator.Iterable{{Kind: iterator.IterThing, Table: v.RecordID.Table, Thing: v.RecordID}}
	case value.TagString:
		return []iterator.Iterable{{Kind: iterator.IterTable, Table: v.Str}}
	case value.TagArray:
		var out []iterator.Iterable
		for _, item := range v.Array {
			out = append(out, whatFromValue(item)...)
		}
		return out
	default:
		return []iterator.Iterable{{Kind: iterator.IterValue, Value: v}}
	}
}

// collectWhat runs every iterable in whats through eng.Collect with a dedup
// collector, applying filter against WHERE as each row arrives.
func (ex *Executor) collectWhat(ctx *Context, eng *iterator.Engine, whats []ast.What, where ast.Expr, rs iterator.RecordStrategy, dir iterator.ScanDirection, skip int) ([]iterator.Processed, error) {
	collector := iterator.NewConcurrentDistinctCollector()
	var rows []iterator.Processed
	for _, w := range whats {
		iterables, err := ex.whatIterable(ctx, w)
		if err != nil {
			return nil, err
		}
		for _, it := range iterables {
			err := eng.Collect(ctx, it, rs, dir, skip, collector, func(p iterator.Processed) error {
				if where != nil && !p.RidOnly {
					sc := ctx.WithScope(doc.Scope{Value: p.Val, After: p.Val})
					cond, err := compute(sc, where)
					if err != nil {
						return err
					}
					if !cond.Truthy() {
						return nil
					}
				}
				rows = append(rows, p)
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return rows, nil
}

// execSelect implements the full read pipeline: collect, filter, order,
// paginate, then project. GROUP BY is deliberately simplified (see
// groupRows) rather than evaluating arbitrary aggregate expressions over
// grouped arrays.
func (ex *Executor) execSelect(ctx *Context, s ast.Select) (value.Value, error) {
	eng, err := ex.engineFor(ctx)
	if err != nil {
		return value.Value{}, err
	}

	rs := iterator.StrategyKeysAndValues
	dir := iterator.Forward

	var skip int
	if s.Start != nil {
		sv, err := compute(ctx, s.Start)
		if err != nil {
			return value.Value{}, err
		}
		skip = int(sv.Int)
	}

	rows, err := ex.collectWhat(ctx, eng, s.What, s.Where, rs, dir, skip)
	if err != nil {
		return value.Value{}, err
	}

	docs := make([]value.Value, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.Val)
	}

	if len(s.GroupBy) > 0 {
		docs, err = ex.groupRows(ctx, docs, s.GroupBy, s.Fields)
		if err != nil {
			return value.Value{}, err
		}
	} else if len(s.Fields) > 0 {
		out := make([]value.Value, 0, len(docs))
		for _, d := range docs {
			pv, err := ex.projectFields(ctx, d, s.Fields, s.Omit)
			if err != nil {
				return value.Value{}, err
			}
			out = append(out, pv)
		}
		docs = out
	} else if len(s.Omit) > 0 {
		out := make([]value.Value, 0, len(docs))
		for _, d := range docs {
			cp := value.Clone(d)
			for _, path := range s.Omit {
				cp = value.Delete(cp, path)
			}
			out = append(out, cp)
		}
		docs = out
	}

	if len(s.OrderBy) > 0 {
		sortDocs(docs, s.OrderBy)
	}

	if s.Limit != nil {
		lv, err := compute(ctx, s.Limit)
		if err != nil {
			return value.Value{}, err
		}
		if int(lv.Int) < len(docs) {
			docs = docs[:lv.Int]
		}
	}

	if s.Only {
		if len(docs) == 0 {
			return value.None(), nil
		}
		return docs[0], nil
	}
	return value.Arr(docs...), nil
}

// projectFields evaluates each SELECT field against doc d, scoped so
// $this/bare idents resolve against d. A bare `count()` field name
// is handled the same as any other function call (evaluated once per
// row); its GROUP ALL meaning only applies inside groupRows.
func (ex *Executor) projectFields(ctx *Context, d value.Value, fields []ast.SelectField, omit []value.Idiom) (value.Value, error) {
	sc := ctx.WithScope(doc.Scope{Value: d, After: d})
	out := map[string]value.Value{}
	for _, f := range fields {
		v, err := compute(sc, f.Expr)
		if err != nil {
			return value.Value{}, err
		}
		name := f.Alias
		if name == "" {
			name = fieldLabel(f.Expr)
		}
		out[name] = v
	}
	res := value.Obj(out)
	for _, path := range omit {
		res = value.Delete(res, path)
	}
	return res, nil
}

func fieldLabel(e ast.Expr) string {
	switch v := e.(type) {
	case ast.Ident:
		return v.Name
	case ast.IdiomExpr:
		return "field"
	case ast.FuncCall:
		return v.Name
	default:
		return "field"
	}
}

// groupRows implements the bounded GROUP BY this implementation supports:
// rows are bucketed by the
// tuple of their GroupBy expression values, then fields are projected
// once per group against one representative row, with a bare `count()`
// field special-cased to the group's row count rather than requiring a
// full aggregate-expression evaluator.
func (ex *Executor) groupRows(ctx *Context, docs []value.Value, groupBy []ast.Expr, fields []ast.SelectField) ([]value.Value, error) {
	type group struct {
		key  []value.Value
		rows []value.Value
	}
	var groups []*group
	for _, d := range docs {
		sc := ctx.WithScope(doc.Scope{Value: d, After: d})
		key := make([]value.Value, len(groupBy))
		for i, ge := range groupBy {
			v, err := compute(sc, ge)
			if err != nil {
				return nil, err
			}
			key[i] = v
		}
		var g *group
		for _, existing := range groups {
			if tupleEqual(existing.key, key) {
				g = existing
				break
			}
		}
		if g == nil {
			g = &group{key: key}
			groups = append(groups, g)
		}
		g.rows = append(g.rows, d)
	}

	out := make([]value.Value, 0, len(groups))
	for _, g := range groups {
		rep := g.rows[0]
		sc := ctx.WithScope(doc.Scope{Value: rep, After: rep})
		obj := map[string]value.Value{}
		for _, f := range fields {
			if fc, ok := f.Expr.(ast.FuncCall); ok && fc.Name == "count" && len(fc.Args) == 0 {
				name := f.Alias
				if name == "" {
					name = "count"
				}
				obj[name] = value.Int(int64(len(g.rows)))
				continue
			}
			v, err := compute(sc, f.Expr)
			if err != nil {
				return nil, err
			}
			name := f.Alias
			if name == "" {
				name = fieldLabel(f.Expr)
			}
			obj[name] = v
		}
		out = append(out, value.Obj(obj))
	}
	return out, nil
}

func tupleEqual(a, b []value.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !value.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sortDocs(docs []value.Value, order []ast.OrderField) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range order {
			vi := evalOrderField(docs[i], o)
			vj := evalOrderField(docs[j], o)
			c := value.Compare(vi, vj)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func evalOrderField(d value.Value, o ast.OrderField) value.Value {
	switch e := o.Expr.(type) {
	case ast.Ident:
		return value.Get(d, value.ParseIdiom(e.Name))
	case ast.IdiomExpr:
		return value.Get(d, e.Path)
	default:
		return value.None()
	}
}

// execCreate creates one record per target: compute the input from Data, run
// it through the document pipeline with an empty initial image, reject on
// an existing key (CREATE never overwrites), persist, maintain foreign
// views, and notify LIVE subscribers.
func (ex *Executor) execCreate(ctx *Context, c ast.Create) (value.Value, error) {
	var out []value.Value
	for _, w := range c.What {
		rid, err := ex.resolveTargetID(ctx, w)
		if err != nil {
			return value.Value{}, err
		}
		tbl := ex.Catalog.EnsureTable(ctx.NS, ctx.DB, rid.Table)

		sc := doc.Scope{Before: value.Null(), After: value.Null()}
		pipe := &doc.Pipeline{Eval: ex.docEval}
		input, err := pipe.ComputeInput(ctx, c.Data, value.Null(), sc)
		if err != nil {
			return value.Value{}, err
		}
		input = value.Set(input, value.ParseIdiom("id"), value.Thing(rid.Table, rid.Key))

		res, err := pipe.Apply(ctx, tbl, value.Null(), input, true, true)
		if err != nil {
			return value.Value{}, err
		}

		if err := ex.writeNewRecord(ctx, tbl, rid, res); err != nil {
			return value.Value{}, err
		}

		v, err := ex.shapeOutput(ctx, c.Output, value.Null(), res.Value)
		if err != nil {
			return value.Value{}, err
		}
		out = append(out, v)
	}
	if c.Only {
		if len(out) == 0 {
			return value.None(), nil
		}
		return out[0], nil
	}
	return value.Arr(out...), nil
}

// resolveTargetID picks the record-id a CREATE/INSERT target resolves
// to: WhatThing names it explicitly; WhatTable generates a fresh
// uuid-keyed id;
// WhatParam resolves the bound $variable to either of those shapes.
func (ex *Executor) resolveTargetID(ctx *Context, w ast.What) (value.RecordID, error) {
	switch w.Kind {
	case ast.WhatThing:
		return *w.Thing, nil
	case ast.WhatTable:
		return value.RecordID{Table: w.Table, Key: value.ID(uuid.New())}, nil
	case ast.WhatParam:
		v := ctx.Var(w.Param)
		switch v.Tag {
		case value.TagRecordID:
			return *v.RecordID, nil
		case value.TagString:
			return value.RecordID{Table: v.Str, Key: value.ID(uuid.New())}, nil
		}
	}
	return value.RecordID{}, kerr.New(kerr.InvalidStatement, "CREATE target must be a table or record id")
}

// writeNewRecord persists a freshly created record, enforcing CREATE's
// no-overwrite invariant via the KV layer's SetNX, then runs reference
// and view maintenance for the insert.
func (ex *Executor) writeNewRecord(ctx *Context, tbl *catalog.TableDef, rid value.RecordID, res doc.Result) error {
	tx, err := ctx.Tx()
	if err != nil {
		return err
	}
	key := keys.RecordKey(ctx.NS, ctx.DB, rid.Table, recordKeyPart(rid.Key))
	raw := value.Encode(res.Value)
	if err := tx.SetNX(ctx, key, raw); err != nil {
		if err == kvs.ErrKeyExists {
			return kerr.New(kerr.InvalidStatement, "record %s already exists", rid.String())
		}
		return err
	}
	if err := ex.applyReferenceChanges(ctx, res.References); err != nil {
		return err
	}
	if err := ex.maintainHNSW(ctx, tbl, rid, value.Null(), res.Value); err != nil {
		return err
	}
	if err := ex.maintainViews(ctx, tbl.Name, value.Null(), res.Value, view.ActionCreate); err != nil {
		return err
	}
	ex.notify(events.ActionCreate, rid, res.Value)
	return nil
}

func (ex *Executor) applyReferenceChanges(ctx *Context, changes []doc.ReferenceChange) error {
	tx, err := ctx.Tx()
	if err != nil {
		return err
	}
	for _, rc := range changes {
		key := keys.ReferenceKey(ctx.NS, ctx.DB, rc.TargetTb, recordKeyPart(rc.TargetKey), rc.SourceTb, recordKeyPart(rc.SourceKey), rc.FieldPath)
		if rc.Delete {
			if err := tx.Del(ctx, key); err != nil {
				return err
			}
			continue
		}
		if err := tx.Set(ctx, key, []byte{1}); err != nil {
			return err
		}
	}
	return nil
}

// maintainHNSW keeps every HNSW index on tbl in sync with a write: an
// old vector (if current had one) is removed via the index's own
// Delete, a new vector (if current has one) is inserted, and the
// record's element-id reverse-lookup slot (repurposed from
// keys.IndexKey) is updated to match.
func (ex *Executor) maintainHNSW(ctx *Context, tbl *catalog.TableDef, rid value.RecordID, before, after value.Value) error {
	tx, err := ctx.Tx()
	if err != nil {
		return err
	}
	for _, ixDef := range tbl.Indexes() {
		if ixDef.Kind != catalog.IndexHNSW || len(ixDef.Fields) == 0 {
			continue
		}
		h := ex.indexSrc.hnsws.get(ctx.NS, ctx.DB, tbl.Name, ixDef.Name, *ixDef.HNSW)
		if err := h.Load(ctx, tx); err != nil {
			return err
		}
		lookupKey := keys.IndexKey(ctx.NS, ctx.DB, tbl.Name, ixDef.Name, nil, recordKeyPart(rid.Key))

		if prevRaw, err := tx.Get(ctx, lookupKey); err == nil {
			prevID := binary.BigEndian.Uint64(prevRaw)
			if err := h.Delete(ctx, tx, prevID); err != nil {
				return err
			}
			if err := tx.Del(ctx, lookupKey); err != nil {
				return err
			}
		} else if err != kvs.ErrNotFound {
			return err
		}

		vec := vectorFromDoc(after, ixDef.Fields[0])
		if vec == nil {
			continue
		}
		docKey := keys.RecordKey(ctx.NS, ctx.DB, tbl.Name, recordKeyPart(rid.Key))
		id, err := h.Insert(ctx, tx, vec, docKey)
		if err != nil {
			return err
		}
		var idBuf [8]byte
		binary.BigEndian.PutUint64(idBuf[:], id)
		if err := tx.Set(ctx, lookupKey, idBuf[:]); err != nil {
			return err
		}
	}
	return nil
}

func vectorFromDoc(d value.Value, path value.Idiom) []float64 {
	fv := value.Get(d, path)
	if fv.Tag != value.TagArray {
		return nil
	}
	out := make([]float64, 0, len(fv.Array))
	for _, e := range fv.Array {
		f, ok := toFloat(e)
		if !ok {
			return nil
		}
		out = append(out, f)
	}
	return out
}

// maintainViews propagates one base-table write to every foreign view
// that depends on baseTable.
func (ex *Executor) maintainViews(ctx *Context, baseTable string, initial, current value.Value, action view.Action) error {
	views := ex.Catalog.ForeignViews(ctx.NS, ctx.DB, baseTable)
	if len(views) == 0 {
		return nil
	}
	tx, err := ctx.Tx()
	if err != nil {
		return err
	}
	m := &view.Maintainer{Eval: ex.docEval, Store: ex.aggStoreFor()}
	for _, vt := range views {
		writes, err := m.HandleWrite(ctx, vt, initial, current, action)
		if err != nil {
			return err
		}
		for _, w := range writes {
			key := keys.RecordKey(ctx.NS, ctx.DB, w.Table, recordKeyPart(w.Key))
			if w.Delete {
				if err := tx.Del(ctx, key); err != nil {
					return err
				}
				continue
			}
			if err := tx.Set(ctx, key, value.Encode(w.Value)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ex *Executor) notify(action events.Action, rid value.RecordID, result value.Value) {
	if ex.Broker == nil {
		return
	}
	ex.mu.Lock()
	lives := make([]uuid.UUID, 0, len(ex.lives))
	for id, lq := range ex.lives {
		if lq.Table == rid.Table {
			lives = append(lives, id)
		}
	}
	ex.mu.Unlock()
	idVal := value.Thing(rid.Table, rid.Key)
	for _, id := range lives {
		ex.Broker.Publish(id, events.Notification{LiveID: id, Action: action, RecordID: idVal, Result: result})
		metrics.NotificationsTotal.Inc()
	}
}

// shapeOutput applies RETURN semantics: AFTER
// (default) returns current, BEFORE returns the pre-image, DIFF is
// approximated as {before, after}, NONE returns NONE,
// and FIELDS/VALUE projects the named fields.
func (ex *Executor) shapeOutput(ctx *Context, out *ast.Output, before, after value.Value) (value.Value, error) {
	if out == nil {
		return after, nil
	}
	switch out.Kind {
	case ast.OutputAfter:
		return after, nil
	case ast.OutputBefore:
		return before, nil
	case ast.OutputNone:
		return value.None(), nil
	case ast.OutputDiff:
		return value.Obj(map[string]value.Value{"before": before, "after": after}), nil
	case ast.OutputFields:
		if len(out.Fields) == 1 && out.Fields[0].Alias == "" {
			if _, isIdent := out.Fields[0].Expr.(ast.Ident); !isIdent {
				sc := ctx.WithScope(doc.Scope{Value: after, After: after})
				return compute(sc, out.Fields[0].Expr)
			}
		}
		return ex.projectFields(ctx, after, out.Fields, nil)
	}
	return after, nil
}

// execUpdate implements the UPDATE/UPSERT: each matching record's data
// source is resolved against its own current value, run through the
// pipeline with isNew=false, and rewritten in place. UPSERT additionally
// creates the record (as CREATE would) when no existing record matches a
// WhatThing target.
func (ex *Executor) execUpdate(ctx *Context, u ast.Update) (value.Value, error) {
	eng, err := ex.engineFor(ctx)
	if err != nil {
		return value.Value{}, err
	}
	tx, err := ctx.Tx()
	if err != nil {
		return value.Value{}, err
	}

	var out []value.Value
	seen := map[string]bool{}

	for _, w := range u.What {
		if u.Kind == ast.UpdateUpsert && w.Kind == ast.WhatThing {
			key := keys.RecordKey(ctx.NS, ctx.DB, w.Thing.Table, recordKeyPart(w.Thing.Key))
			if _, err := tx.Get(ctx, key); err == kvs.ErrNotFound {
				tbl := ex.Catalog.EnsureTable(ctx.NS, ctx.DB, w.Thing.Table)
				pipe := &doc.Pipeline{Eval: ex.docEval}
				sc := doc.Scope{Before: value.Null(), After: value.Null()}
				input, err := pipe.ComputeInput(ctx, u.Data, value.Null(), sc)
				if err != nil {
					return value.Value{}, err
				}
				input = value.Set(input, value.ParseIdiom("id"), value.Thing(w.Thing.Table, w.Thing.Key))
				res, err := pipe.Apply(ctx, tbl, value.Null(), input, true, true)
				if err != nil {
					return value.Value{}, err
				}
				if err := ex.writeNewRecord(ctx, tbl, *w.Thing, res); err != nil {
					return value.Value{}, err
				}
				v, err := ex.shapeOutput(ctx, u.Output, value.Null(), res.Value)
				if err != nil {
					return value.Value{}, err
				}
				out = append(out, v)
				continue
			} else if err != nil {
				return value.Value{}, err
			}
		}

		iterables, err := ex.whatIterable(ctx, w)
		if err != nil {
			return value.Value{}, err
		}
		for _, it := range iterables {
			collector := iterator.NewConcurrentDistinctCollector()
			err := eng.Collect(ctx, it, iterator.StrategyKeysAndValues, iterator.Forward, 0, collector, func(p iterator.Processed) error {
				if p.RecordID == nil {
					return nil
				}
				ridKey := p.RecordID.String()
				if seen[ridKey] {
					return nil
				}
				if u.Where != nil {
					sc := ctx.WithScope(doc.Scope{Value: p.Val, After: p.Val})
					cond, err := compute(sc, u.Where)
					if err != nil {
						return err
					}
					if !cond.Truthy() {
						return nil
					}
				}
				seen[ridKey] = true
				v, err := ex.updateOne(ctx, *p.RecordID, p.Val, u.Data, u.Output)
				if err != nil {
					return err
				}
				out = append(out, v)
				return nil
			})
			if err != nil {
				return value.Value{}, err
			}
		}
	}

	if u.Only {
		if len(out) == 0 {
			return value.None(), nil
		}
		return out[0], nil
	}
	return value.Arr(out...), nil
}

func (ex *Executor) updateOne(ctx *Context, rid value.RecordID, current value.Value, data *ast.Data, output *ast.Output) (value.Value, error) {
	tbl := ex.Catalog.EnsureTable(ctx.NS, ctx.DB, rid.Table)
	pipe := &doc.Pipeline{Eval: ex.docEval}
	sc := doc.Scope{Before: current, After: current}
	input, err := pipe.ComputeInput(ctx, data, current, sc)
	if err != nil {
		return value.Value{}, err
	}
	input = value.Set(input, value.ParseIdiom("id"), value.Thing(rid.Table, rid.Key))

	res, err := pipe.Apply(ctx, tbl, current, input, false, true)
	if err != nil {
		return value.Value{}, err
	}

	tx, err := ctx.Tx()
	if err != nil {
		return value.Value{}, err
	}
	key := keys.RecordKey(ctx.NS, ctx.DB, rid.Table, recordKeyPart(rid.Key))
	if err := tx.Set(ctx, key, value.Encode(res.Value)); err != nil {
		return value.Value{}, err
	}
	if err := ex.applyReferenceChanges(ctx, res.References); err != nil {
		return value.Value{}, err
	}
	if err := ex.maintainHNSW(ctx, tbl, rid, current, res.Value); err != nil {
		return value.Value{}, err
	}
	if err := ex.maintainViews(ctx, tbl.Name, current, res.Value, view.ActionUpdate); err != nil {
		return value.Value{}, err
	}
	ex.notify(events.ActionUpdate, rid, res.Value)

	return ex.shapeOutput(ctx, output, current, res.Value)
}

// execDelete implements the DELETE: each matching record is removed, its
// reference entries and HNSW vectors are cleaned up, and foreign views are
// notified with ActionDelete (current is Null).
func (ex *Executor) execDelete(ctx *Context, d ast.Delete) (value.Value, error) {
	eng, err := ex.engineFor(ctx)
	if err != nil {
		return value.Value{}, err
	}
	tx, err := ctx.Tx()
	if err != nil {
		return value.Value{}, err
	}

	var out []value.Value
	seen := map[string]bool{}
	for _, w := range d.What {
		iterables, err := ex.whatIterable(ctx, w)
		if err != nil {
			return value.Value{}, err
		}
		for _, it := range iterables {
			collector := iterator.NewConcurrentDistinctCollector()
			err := eng.Collect(ctx, it, iterator.StrategyKeysAndValues, iterator.Forward, 0, collector, func(p iterator.Processed) error {
				if p.RecordID == nil {
					return nil
				}
				ridKey := p.RecordID.String()
				if seen[ridKey] {
					return nil
				}
				if d.Where != nil {
					sc := ctx.WithScope(doc.Scope{Value: p.Val, After: p.Val})
					cond, err := compute(sc, d.Where)
					if err != nil {
						return err
					}
					if !cond.Truthy() {
						return nil
					}
				}
				seen[ridKey] = true

				tbl := ex.Catalog.EnsureTable(ctx.NS, ctx.DB, p.RecordID.Table)
				key := keys.RecordKey(ctx.NS, ctx.DB, p.RecordID.Table, recordKeyPart(p.RecordID.Key))
				if err := tx.Del(ctx, key); err != nil {
					return err
				}
				if err := ex.maintainHNSW(ctx, tbl, *p.RecordID, p.Val, value.Null()); err != nil {
					return err
				}
				if err := ex.maintainViews(ctx, tbl.Name, p.Val, value.Null(), view.ActionDelete); err != nil {
					return err
				}
				ex.notify(events.ActionDelete, *p.RecordID, value.Null())

				v, err := ex.shapeOutput(ctx, d.Output, p.Val, value.Null())
				if err != nil {
					return err
				}
				out = append(out, v)
				return nil
			})
			if err != nil {
				return value.Value{}, err
			}
		}
	}

	if d.Only {
		if len(out) == 0 {
			return value.None(), nil
		}
		return out[0], nil
	}
	return value.Arr(out...), nil
}

// execRelate implements the RELATE: it writes the edge record itself (under
// the Via table, so it can carry its own fields/DEFINE FIELD pipeline like
// any other table) plus the two directional graph index entries used by
// graph lookups (pkg/iterator's collectLookup).
func (ex *Executor) execRelate(ctx *Context, r ast.Relate) (value.Value, error) {
	fromV, err := compute(ctx, r.From)
	if err != nil {
		return value.Value{}, err
	}
	toV, err := compute(ctx, r.To)
	if err != nil {
		return value.Value{}, err
	}
	if fromV.Tag != value.TagRecordID || toV.Tag != value.TagRecordID {
		return value.Value{}, kerr.New(kerr.InvalidStatement, "RELATE requires record ids on both sides")
	}

	edgeID := value.ID(uuid.New())
	edgeRid := value.RecordID{Table: r.Via, Key: edgeID}

	tbl := ex.Catalog.EnsureTable(ctx.NS, ctx.DB, r.Via)
	pipe := &doc.Pipeline{Eval: ex.docEval}
	sc := doc.Scope{Before: value.Null(), After: value.Null()}
	input, err := pipe.ComputeInput(ctx, r.Data, value.Null(), sc)
	if err != nil {
		return value.Value{}, err
	}
	input = value.Set(input, value.ParseIdiom("id"), value.Thing(r.Via, edgeID))
	input = value.Set(input, value.ParseIdiom("in"), fromV)
	input = value.Set(input, value.ParseIdiom("out"), toV)

	res, err := pipe.Apply(ctx, tbl, value.Null(), input, true, true)
	if err != nil {
		return value.Value{}, err
	}

	if err := ex.writeNewRecord(ctx, tbl, edgeRid, res); err != nil {
		return value.Value{}, err
	}

	tx, err := ctx.Tx()
	if err != nil {
		return value.Value{}, err
	}
	outKey := keys.GraphKey(ctx.NS, ctx.DB, fromV.RecordID.Table, recordKeyPart(fromV.RecordID.Key), keys.DirOut, r.Via, recordKeyPart(edgeID))
	inKey := keys.GraphKey(ctx.NS, ctx.DB, toV.RecordID.Table, recordKeyPart(toV.RecordID.Key), keys.DirIn, r.Via, recordKeyPart(edgeID))
	if err := tx.Set(ctx, outKey, nil); err != nil {
		return value.Value{}, err
	}
	if err := tx.Set(ctx, inKey, nil); err != nil {
		return value.Value{}, err
	}

	v, err := ex.shapeOutput(ctx, r.Output, value.Null(), res.Value)
	if err != nil {
		return value.Value{}, err
	}
	if r.Only {
		return v, nil
	}
	return value.Arr(v), nil
}

// execInsert implements the INSERT: one CREATE-shaped write per VALUES row
// (or per CONTENT array element), with InsertIgnore turning a duplicate-key
// failure into a silent skip rather than an error, and OnDupUpdate applying
// an UPDATE SET clause to the existing record instead (SurrealQL's
// "INSERT... ON DUPLICATE KEY UPDATE").
func (ex *Executor) execInsert(ctx *Context, ins ast.Insert) (value.Value, error) {
	// INSERT $var: the target is only known at run time. A bound value
	// that is not a table name (or a record id) is a typed error, never
	// a guess.
	if ins.Into.Kind == ast.WhatParam {
		v := ctx.Var(ins.Into.Param)
		switch v.Tag {
		case value.TagString:
			ins.Into = ast.What{Kind: ast.WhatTable, Table: v.Str}
		case value.TagRecordID:
			ins.Into = ast.What{Kind: ast.WhatThing, Thing: v.RecordID}
		default:
			return value.Value{}, kerr.New(kerr.InvalidStatement,
				"INSERT target $%s is not a table: found %s", ins.Into.Param, v.Tag)
		}
	}

	rows, err := ex.insertRows(ctx, ins)
	if err != nil {
		return value.Value{}, err
	}

	tx, err := ctx.Tx()
	if err != nil {
		return value.Value{}, err
	}

	var out []value.Value
	for _, row := range rows {
		rid, err := ex.insertRowID(ctx, ins.Into, row)
		if err != nil {
			return value.Value{}, err
		}
		tbl := ex.Catalog.EnsureTable(ctx.NS, ctx.DB, rid.Table)

		key := keys.RecordKey(ctx.NS, ctx.DB, rid.Table, recordKeyPart(rid.Key))
		existingRaw, getErr := tx.Get(ctx, key)

		pipe := &doc.Pipeline{Eval: ex.docEval}
		input := value.Set(row, value.ParseIdiom("id"), value.Thing(rid.Table, rid.Key))

		if getErr == nil {
			current, derr := value.Decode(existingRaw)
			if derr != nil {
				return value.Value{}, derr
			}
			if ins.Kind == ast.InsertIgnore {
				continue
			}
			if len(ins.OnDupUpdate) > 0 {
				data := &ast.Data{Kind: ast.DataSet, Assignments: ins.OnDupUpdate}
				v, err := ex.updateOne(ctx, rid, current, data, ins.Output)
				if err != nil {
					return value.Value{}, err
				}
				out = append(out, v)
				continue
			}
			return value.Value{}, kerr.New(kerr.InvalidStatement, "record %s already exists", rid.String())
		} else if getErr != kvs.ErrNotFound {
			return value.Value{}, getErr
		}

		res, err := pipe.Apply(ctx, tbl, value.Null(), input, true, true)
		if err != nil {
			return value.Value{}, err
		}
		if err := ex.writeNewRecord(ctx, tbl, rid, res); err != nil {
			return value.Value{}, err
		}
		v, err := ex.shapeOutput(ctx, ins.Output, value.Null(), res.Value)
		if err != nil {
			return value.Value{}, err
		}
		out = append(out, v)
	}
	return value.Arr(out...), nil
}

// insertRows expands Data into one raw object per row: VALUES(...) rows
// are column/expr pairs, CONTENT takes an array (one row per element) or
// a bare object (one row).
func (ex *Executor) insertRows(ctx *Context, ins ast.Insert) ([]value.Value, error) {
	if ins.Data == nil {
		return nil, kerr.New(kerr.InvalidStatement, "INSERT requires a data source")
	}
	sc := doc.Scope{Before: value.Null(), After: value.Null()}
	switch ins.Data.Kind {
	case ast.DataValues:
		var out []value.Value
		for _, row := range ins.Data.Rows {
			obj := value.Obj(nil)
			for i, expr := range row {
				if i >= len(ins.Data.Columns) {
					break
				}
				v, err := compute(ctx.WithScope(sc), expr)
				if err != nil {
					return nil, err
				}
				obj = value.Set(obj, value.ParseIdiom(ins.Data.Columns[i]), v)
			}
			out = append(out, obj)
		}
		return out, nil

	case ast.DataContent:
		v, err := compute(ctx.WithScope(sc), ins.Data.Expr)
		if err != nil {
			return nil, err
		}
		if v.Tag == value.TagArray {
			return v.Array, nil
		}
		return []value.Value{v}, nil
	}
	return nil, kerr.New(kerr.InvalidStatement, "INSERT supports VALUES or CONTENT data sources")
}

func (ex *Executor) insertRowID(ctx *Context, into ast.What, row value.Value) (value.RecordID, error) {
	if idv := value.Get(row, value.ParseIdiom("id")); idv.Tag == value.TagRecordID {
		return *idv.RecordID, nil
	}
	if into.Kind == ast.WhatThing {
		return *into.Thing, nil
	}
	return value.RecordID{Table: into.Table, Key: value.ID(uuid.New())}, nil
}
