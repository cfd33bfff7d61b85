package dbs

import (
	"github.com/cuemby/nexus/pkg/ast"
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/kerr"
	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/value"
)

// execDefineTable registers (or redeclares) a table definition.
func (ex *Executor) execDefineTable(ctx *Context, d ast.DefineTable) (value.Value, error) {
	tbl := ex.Catalog.EnsureTable(ctx.NS, ctx.DB, d.Name)
	tbl.Schemafull = d.Schemafull
	tbl.Drop = d.Drop
	return value.None(), nil
}

// execDefineField registers a field on its table, with definition-time
// validation delegated to catalog.AddField (a COMPUTED field carrying a
// VALUE clause is rejected here, at DDL time, never silently at write
// time).
func (ex *Executor) execDefineField(ctx *Context, d ast.DefineField) (value.Value, error) {
	tbl := ex.Catalog.EnsureTable(ctx.NS, ctx.DB, d.Table)

	f := &catalog.FieldDef{
		Table:     d.Table,
		Path:      d.Path,
		Kind:      d.Kind,
		Flexible:  d.Flexible,
		Readonly:  d.Readonly,
		Computed:  d.Computed,
		Reference: d.Reference,
	}
	if d.Default != nil {
		f.Default = &catalog.DefaultClause{Always: d.Default.Always, Expr: d.Default.Expr}
	}
	if d.Value != nil {
		f.Value = d.Value
	}
	if d.Assert != nil {
		f.Assert = d.Assert
	}
	if err := tbl.AddField(f); err != nil {
		return value.Value{}, kerr.New(kerr.InvalidStatement, "%v", err)
	}
	return value.None(), nil
}

// execDefineIndex registers an index on its table: HNSW when the vector
// spec is present, UNIQUE/plain otherwise.
func (ex *Executor) execDefineIndex(ctx *Context, d ast.DefineIndex) (value.Value, error) {
	tbl := ex.Catalog.EnsureTable(ctx.NS, ctx.DB, d.Table)

	ix := &catalog.IndexDef{
		ID:     ex.Catalog.NextID(),
		Table:  d.Table,
		Name:   d.Name,
		Fields: d.Fields,
		Unique: d.Unique,
	}
	switch {
	case d.HNSW != nil:
		dist, err := distanceKind(d.HNSW.Distance)
		if err != nil {
			return value.Value{}, err
		}
		if d.HNSW.Dimension <= 0 {
			return value.Value{}, kerr.New(kerr.InvalidStatement, "index %s: HNSW dimension must be positive", d.Name)
		}
		ix.Kind = catalog.IndexHNSW
		ix.HNSW = &catalog.HNSWParams{
			Dimension:      d.HNSW.Dimension,
			Distance:       dist,
			M:              d.HNSW.M,
			M0:             d.HNSW.M0,
			EfConstruction: d.HNSW.EfConstruction,
			EfSearch:       d.HNSW.EfSearch,
			ML:             d.HNSW.ML,
			VectorType:     catalog.VecF64,
		}
	case d.Unique:
		ix.Kind = catalog.IndexUnique
	default:
		ix.Kind = catalog.IndexFullText
	}
	tbl.AddIndex(ix)
	return value.None(), nil
}

func distanceKind(name string) (catalog.DistanceKind, error) {
	switch name {
	case "", "euclidean":
		return catalog.DistEuclidean, nil
	case "manhattan":
		return catalog.DistManhattan, nil
	case "cosine":
		return catalog.DistCosine, nil
	case "dot":
		return catalog.DistDot, nil
	}
	return 0, kerr.New(kerr.InvalidStatement, "unknown distance metric %s", name)
}

// execRemove drops a table, field, or index definition. Removing
// something that was never defined is a typed error, not a silent no-op.
func (ex *Executor) execRemove(ctx *Context, r ast.Remove) (value.Value, error) {
	switch r.Kind {
	case ast.RemoveTable:
		if !ex.Catalog.RemoveTable(ctx.NS, ctx.DB, r.Table) {
			return value.Value{}, kerr.New(kerr.InvalidStatement, "unknown table %s", r.Table)
		}
	case ast.RemoveField:
		tbl, ok := ex.Catalog.Table(ctx.NS, ctx.DB, r.Table)
		if !ok {
			return value.Value{}, kerr.New(kerr.InvalidStatement, "unknown table %s", r.Table)
		}
		if !tbl.RemoveField(value.ParseIdiom(r.Name)) {
			return value.Value{}, kerr.New(kerr.InvalidStatement, "unknown field %s on table %s", r.Name, r.Table)
		}
	case ast.RemoveIndex:
		tbl, ok := ex.Catalog.Table(ctx.NS, ctx.DB, r.Table)
		if !ok {
			return value.Value{}, kerr.New(kerr.InvalidStatement, "unknown table %s", r.Table)
		}
		if !tbl.RemoveIndex(r.Name) {
			return value.Value{}, kerr.New(kerr.InvalidStatement, "unknown index %s on table %s", r.Name, r.Table)
		}
	default:
		return value.Value{}, kerr.New(kerr.InvalidStatement, "unknown REMOVE target")
	}
	return value.None(), nil
}

// execInfo describes the current scope: databases for INFO FOR NS,
// tables for INFO FOR DB, fields and indexes for INFO FOR TABLE.
func (ex *Executor) execInfo(ctx *Context, s ast.Info) (value.Value, error) {
	switch s.Level {
	case ast.InfoNS:
		dbs := ex.Catalog.Databases(ctx.NS)
		out := make([]value.Value, len(dbs))
		for i, name := range dbs {
			out[i] = value.Str(name)
		}
		return value.Obj(map[string]value.Value{"databases": value.Arr(out...)}), nil

	case ast.InfoDB:
		tables := ex.Catalog.Tables(ctx.NS, ctx.DB)
		out := make([]value.Value, len(tables))
		for i, t := range tables {
			out[i] = value.Str(t.Name)
		}
		return value.Obj(map[string]value.Value{"tables": value.Arr(out...)}), nil

	case ast.InfoTable:
		tbl, ok := ex.Catalog.Table(ctx.NS, ctx.DB, s.Table)
		if !ok {
			return value.Value{}, kerr.New(kerr.InvalidStatement, "unknown table %s", s.Table)
		}
		fields := tbl.Fields()
		fieldVals := make([]value.Value, len(fields))
		for i, f := range fields {
			fieldVals[i] = value.Str(f.Path.String())
		}
		indexes := tbl.Indexes()
		indexVals := make([]value.Value, len(indexes))
		for i, ix := range indexes {
			indexVals[i] = value.Str(ix.Name)
		}
		return value.Obj(map[string]value.Value{
			"schemafull": value.Bool(tbl.Schemafull),
			"fields":     value.Arr(fieldVals...),
			"indexes":    value.Arr(indexVals...),
		}), nil
	}
	return value.Value{}, kerr.New(kerr.InvalidStatement, "unknown INFO level")
}

// execAnalyze inspects the named index: element count and per-layer
// sizes for HNSW, a key count for everything else.
func (ex *Executor) execAnalyze(ctx *Context, s ast.Analyze) (value.Value, error) {
	tbl, ok := ex.Catalog.Table(ctx.NS, ctx.DB, s.Table)
	if !ok {
		return value.Value{}, kerr.New(kerr.InvalidStatement, "unknown table %s", s.Table)
	}
	var def *catalog.IndexDef
	for _, ix := range tbl.Indexes() {
		if ix.Name == s.Target {
			def = ix
			break
		}
	}
	if def == nil {
		return value.Value{}, kerr.New(kerr.InvalidStatement, "unknown index %s on table %s", s.Target, s.Table)
	}

	tx, err := ctx.Tx()
	if err != nil {
		return value.Value{}, err
	}

	if def.Kind == catalog.IndexHNSW {
		h := ex.indexSrc.hnsws.get(ctx.NS, ctx.DB, s.Table, def.Name, *def.HNSW)
		if err := h.Load(ctx, tx); err != nil {
			return value.Value{}, err
		}
		sizes := h.LayerSizes()
		layerVals := make([]value.Value, len(sizes))
		elements := 0
		for i, n := range sizes {
			layerVals[i] = value.Int(int64(n))
			if i == 0 {
				elements = n
			}
		}
		return value.Obj(map[string]value.Value{
			"index":    value.Str(def.Name),
			"kind":     value.Str("hnsw"),
			"elements": value.Int(int64(elements)),
			"layers":   value.Arr(layerVals...),
		}), nil
	}

	prefix := keys.IndexPrefix(ctx.NS, ctx.DB, s.Table, def.Name, nil)
	n, err := tx.Count(ctx, prefix, keys.PrefixUpperBound(prefix))
	if err != nil {
		return value.Value{}, err
	}
	kindName := "fulltext"
	if def.Kind == catalog.IndexUnique {
		kindName = "unique"
	}
	return value.Obj(map[string]value.Value{
		"index":   value.Str(def.Name),
		"kind":    value.Str(kindName),
		"entries": value.Int(int64(n)),
	}), nil
}

// execAccess manages grants under a DEFINE ACCESS method. The access
// method itself must already exist (DefineAccess on the session bridge,
// which is where the sealed signing secret lives).
func (ex *Executor) execAccess(ctx *Context, s ast.AccessStmt) (value.Value, error) {
	if _, ok := ex.Catalog.Access(ctx.NS, ctx.DB, s.Name); !ok {
		return value.Value{}, kerr.New(kerr.InvalidStatement, "unknown access method %s", s.Name)
	}

	switch s.Op {
	case "GRANT":
		if s.Subject == "" {
			return value.Value{}, kerr.New(kerr.InvalidArguments, "ACCESS GRANT requires a subject")
		}
		g := ex.Catalog.AddGrant(ctx.NS, ctx.DB, s.Name, s.Subject)
		return grantValue(g), nil

	case "SHOW":
		grants := ex.Catalog.Grants(ctx.NS, ctx.DB, s.Name)
		out := make([]value.Value, len(grants))
		for i, g := range grants {
			out[i] = grantValue(g)
		}
		return value.Arr(out...), nil

	case "REVOKE":
		if s.Subject == "" {
			return value.Value{}, kerr.New(kerr.InvalidArguments, "ACCESS REVOKE requires a subject")
		}
		if !ex.Catalog.RevokeGrant(ctx.NS, ctx.DB, s.Name, s.Subject) {
			return value.Value{}, kerr.New(kerr.InvalidArguments, "no grant for %s under access method %s", s.Subject, s.Name)
		}
		return value.None(), nil
	}
	return value.Value{}, kerr.New(kerr.InvalidStatement, "unknown ACCESS operation %s", s.Op)
}

func grantValue(g *catalog.GrantDef) value.Value {
	return value.Obj(map[string]value.Value{
		"id":      value.Int(int64(g.ID)),
		"access":  value.Str(g.Access),
		"subject": value.Str(g.Subject),
		"revoked": value.Bool(g.Revoked),
	})
}
