// Package catalog holds namespace/database/table/field/index/access
// definitions. Definitions carry stable namespace-local
// integer IDs, each as a plain metadata struct rather than an interface
// per kind.
package catalog

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/nexus/pkg/value"
)

// Permission is one access-control clause: Full, None, or an expression
// evaluated per-record. Expr is kept as `any` to
// avoid importing the ast package here (ast depends on value, and
// catalog is a low-level package the ast/doc layers build on).
type Permission struct {
	Kind PermissionKind
	Expr any
}

type PermissionKind int

const (
	PermFull PermissionKind = iota
	PermNone
	PermSpecific
)

func (p Permission) Accept(truthy bool) bool {
	switch p.Kind {
	case PermFull:
		return true
	case PermNone:
		return false
	default:
		return truthy
	}
}

// TablePermissions groups the four CRUD-style clauses a table or field
// can declare.
type TablePermissions struct {
	Select Permission
	Create Permission
	Update Permission
	Delete Permission
}

// Namespace is the top-level catalog entity.
type Namespace struct {
	ID        uint32
	Name      string
	CreatedAt time.Time
}

// Database belongs to exactly one namespace.
type Database struct {
	ID        uint32
	NS        string
	Name      string
	CreatedAt time.Time
}

// RecordKind distinguishes base tables from view tables.
type RecordKind int

const (
	RecordTable RecordKind = iota
	RecordView
)

// ViewKind distinguishes the three view flavors.
type ViewKind int

const (
	ViewNone ViewKind = iota
	ViewSelect
	ViewMaterialized
	ViewAggregated
)

// AggregationKind enumerates the supported aggregate functions.
type AggregationKind int

const (
	AggCount AggregationKind = iota
	AggCountValue
	AggSum
	AggMean
	AggNumberMin
	AggNumberMax
	AggTimeMin
	AggTimeMax
	AggVariance
	AggStdDev
)

// AggregateField is one (output name, expr) pair computed from the
// synthetic group+stats document.
type AggregateField struct {
	Name string
	Expr any // *ast.Expr
}

// AggregationAnalysis carries the pre-analyzed shape of an AGGREGATE view.
type AggregationAnalysis struct {
	GroupExpressions    []any // []*ast.Expr
	AggregateArguments  []any // []*ast.Expr
	Aggregations        []AggregationKind
	Fields              []AggregateField
}

// ViewDefinition describes how a foreign table stays in sync with base
// table writes.
type ViewDefinition struct {
	Kind      ViewKind
	BaseTable string
	Condition any // *ast.Expr, nil if none
	Fields    []AggregateField
	Analysis  *AggregationAnalysis // only set when Kind == ViewAggregated
}

// TableDef is one table definition.
type TableDef struct {
	ID          uint32
	NS, DB      string
	Name        string
	Schemafull  bool
	Drop        bool
	View        *ViewDefinition
	Permissions TablePermissions

	mu      sync.RWMutex
	fields  []*FieldDef // declaration order, preserved
	indexes []*IndexDef
}

// AddField registers a field definition, preserving declaration order.
// Definition-time validation happens here so every registration path (DDL
// statement or direct API) enforces the same rules: a COMPUTED field may
// not also carry a VALUE clause, since the computed column is derived
// elsewhere and the VALUE clause would never run.
func (t *TableDef) AddField(f *FieldDef) error {
	if f.Computed && f.Value != nil {
		return fmt.Errorf("catalog: field %s: COMPUTED and VALUE cannot be combined", f.Path.String())
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.fields {
		if existing.Path.Equal(f.Path) {
			f.ID = existing.ID
			t.fields[i] = f
			return nil
		}
	}
	t.fields = append(t.fields, f)
	return nil
}

// RemoveField drops the field declared at path, reporting whether it
// existed.
func (t *TableDef) RemoveField(path value.Idiom) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, f := range t.fields {
		if f.Path.Equal(path) {
			t.fields = append(t.fields[:i], t.fields[i+1:]...)
			return true
		}
	}
	return false
}

// Fields returns field definitions in declaration order.
func (t *TableDef) Fields() []*FieldDef {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*FieldDef, len(t.fields))
	copy(out, t.fields)
	return out
}

// AddIndex appends an index definition.
func (t *TableDef) AddIndex(ix *IndexDef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.indexes = append(t.indexes, ix)
}

// Indexes returns every index defined on the table.
func (t *TableDef) Indexes() []*IndexDef {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*IndexDef, len(t.indexes))
	copy(out, t.indexes)
	return out
}

// RemoveIndex drops the named index, reporting whether it existed.
func (t *TableDef) RemoveIndex(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, ix := range t.indexes {
		if ix.Name == name {
			t.indexes = append(t.indexes[:i], t.indexes[i+1:]...)
			return true
		}
	}
	return false
}

// DefaultClause is either Set(expr) (create-time only) or
// Always(expr).
type DefaultClause struct {
	Always bool
	Expr   any // *ast.Expr
}

// FieldDef is one DEFINE FIELD entry.
type FieldDef struct {
	ID          uint32
	Table       string
	Path        value.Idiom
	Kind        value.Kind
	Flexible    bool
	Readonly    bool
	Computed    bool
	Default     *DefaultClause
	Value       any // *ast.Expr, nil if no VALUE clause
	Assert      any // *ast.Expr, nil if no ASSERT clause
	Reference   bool
	Permissions TablePermissions
}

// IsAnyTyped reports whether the field's kind tolerates arbitrary
// descendants for the schemafull cleanup pass.
func (f *FieldDef) IsAnyTyped() bool {
	return f.Flexible || f.Kind.Tag == value.KAny || f.Kind.Tag == value.KLiteral
}

// IndexKind enumerates the supported index flavors.
type IndexKind int

const (
	IndexUnique IndexKind = iota
	IndexFullText
	IndexHNSW
)

// HNSWParams holds the construction parameters.
type HNSWParams struct {
	Dimension     int
	Distance      DistanceKind
	M             int
	M0            int
	EfConstruction int
	EfSearch      int
	ML            float64
	VectorType    VectorType
}

type DistanceKind int

const (
	DistEuclidean DistanceKind = iota
	DistManhattan
	DistCosine
	DistDot
)

type VectorType int

const (
	VecF64 VectorType = iota
	VecF32
	VecI64
	VecI32
	VecI16
)

// IndexDef is one DEFINE INDEX entry.
type IndexDef struct {
	ID     uint32
	Table  string
	Name   string
	Kind   IndexKind
	Fields []value.Idiom
	Unique bool
	HNSW   *HNSWParams
}

// AccessKind enumerates the supported access method flavors.
type AccessKind int

const (
	AccessJWT AccessKind = iota
	AccessRecord
)

// AccessDef is one DEFINE ACCESS entry. SigningSecret, when Kind is
// AccessJWT, holds the configured signing secret at rest encrypted
// (pkg/security.SecretsManager) rather than in the clear, since the
// catalog itself is just metadata storage.
type AccessDef struct {
	ID            uint32
	Name          string
	Kind          AccessKind
	SigningSecret []byte
}

// UserDef is one DEFINE USER entry.
type UserDef struct {
	ID           uint32
	Name         string
	PasswordHash string
	Roles        []string
}

// idCounter hands out monotonically increasing ids under a mutex. A
// Catalog holds a single idCounter, so ids are unique across every
// namespace rather than numbered separately per namespace.
type idCounter struct {
	mu   sync.Mutex
	next uint32
}

func (c *idCounter) Next() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return c.next
}

// Catalog is the in-memory (KV-backed, in a full implementation) store
// of every namespace/database/table/field/index/access/user definition.
// It is the metadata companion to pkg/kvs's data storage.
type Catalog struct {
	mu sync.RWMutex

	namespaces map[string]*Namespace
	databases  map[string]*Database // key: "ns/db"
	tables     map[string]*TableDef // key: "ns/db/tb"
	access     map[string]*AccessDef
	users      map[string]*UserDef
	grants     map[string]*GrantDef

	ids idCounter
}

func New() *Catalog {
	return &Catalog{
		namespaces: map[string]*Namespace{},
		databases:  map[string]*Database{},
		tables:     map[string]*TableDef{},
		access:     map[string]*AccessDef{},
		users:      map[string]*UserDef{},
		grants:     map[string]*GrantDef{},
	}
}

func dbKey(ns, db string) string     { return ns + "/" + db }
func tableKey(ns, db, tb string) string { return ns + "/" + db + "/" + tb }

// EnsureNamespace creates the namespace if absent, returning whether it
// was newly created.
func (c *Catalog) EnsureNamespace(name string) (*Namespace, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ns, ok := c.namespaces[name]; ok {
		return ns, false
	}
	ns := &Namespace{ID: c.ids.Next(), Name: name, CreatedAt: time.Now()}
	c.namespaces[name] = ns
	return ns, true
}

// EnsureDatabase creates ns/db if absent.
func (c *Catalog) EnsureDatabase(ns, db string) (*Database, bool) {
	c.EnsureNamespace(ns)
	c.mu.Lock()
	defer c.mu.Unlock()
	key := dbKey(ns, db)
	if d, ok := c.databases[key]; ok {
		return d, false
	}
	d := &Database{ID: c.ids.Next(), NS: ns, Name: db, CreatedAt: time.Now()}
	c.databases[key] = d
	return d, true
}

// Table looks up a table definition, creating none if absent.
func (c *Catalog) Table(ns, db, tb string) (*TableDef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[tableKey(ns, db, tb)]
	return t, ok
}

// EnsureTable creates the table definition if absent.
func (c *Catalog) EnsureTable(ns, db, tb string) *TableDef {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := tableKey(ns, db, tb)
	if t, ok := c.tables[key]; ok {
		return t
	}
	t := &TableDef{ID: c.ids.Next(), NS: ns, DB: db, Name: tb}
	c.tables[key] = t
	return t
}

// ForeignViews returns every table in ns/db whose View.BaseTable is tb, the
// fan-out list the View Maintainer iterates on each write.
func (c *Catalog) ForeignViews(ns, db, tb string) []*TableDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	prefix := dbKey(ns, db) + "/"
	var out []*TableDef
	for key, t := range c.tables {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix && t.View != nil && t.View.BaseTable == tb {
			out = append(out, t)
		}
	}
	return out
}

// RemoveTable drops a table definition, reporting whether it existed.
func (c *Catalog) RemoveTable(ns, db, tb string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := tableKey(ns, db, tb)
	if _, ok := c.tables[key]; !ok {
		return false
	}
	delete(c.tables, key)
	return true
}

// Databases lists every database name defined under ns.
func (c *Catalog) Databases(ns string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	prefix := ns + "/"
	var out []string
	for key, d := range c.databases {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, d.Name)
		}
	}
	return out
}

// Tables lists every table defined under ns/db, in no particular order.
func (c *Catalog) Tables(ns, db string) []*TableDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	prefix := dbKey(ns, db) + "/"
	var out []*TableDef
	for key, t := range c.tables {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, t)
		}
	}
	return out
}

// DefineUser registers or replaces the named user at ns/db scope (DEFINE
// USER, consumed by pkg/session's signup/signin). PasswordHash is
// opaque to the catalog; pkg/session is the only caller that interprets
// it (bcrypt, per DESIGN.md).
func (c *Catalog) DefineUser(ns, db string, u UserDef) *UserDef {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := tableKey(ns, db, "$user$"+u.Name)
	if existing, ok := c.users[key]; ok {
		u.ID = existing.ID
	} else {
		u.ID = c.ids.Next()
	}
	cp := u
	c.users[key] = &cp
	return &cp
}

// User looks up a DEFINE USER entry by ns/db/name.
func (c *Catalog) User(ns, db, name string) (*UserDef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[tableKey(ns, db, "$user$"+name)]
	return u, ok
}

// DefineAccess registers or replaces the named DEFINE ACCESS entry at ns/db
// scope.
func (c *Catalog) DefineAccess(ns, db string, a AccessDef) *AccessDef {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := tableKey(ns, db, "$access$"+a.Name)
	if existing, ok := c.access[key]; ok {
		a.ID = existing.ID
	} else {
		a.ID = c.ids.Next()
	}
	cp := a
	c.access[key] = &cp
	return &cp
}

// Access looks up a DEFINE ACCESS entry by ns/db/name.
func (c *Catalog) Access(ns, db, name string) (*AccessDef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.access[tableKey(ns, db, "$access$"+name)]
	return a, ok
}

// GrantDef is one issued grant under an access method (ACCESS ... GRANT):
// the subject it was issued to, when, and whether it has since been
// revoked. Revoked grants stay listed so ACCESS ... SHOW reflects the
// full issuance history.
type GrantDef struct {
	ID        uint32
	Access    string
	Subject   string
	CreatedAt time.Time
	Revoked   bool
}

func grantKey(ns, db, access, subject string) string {
	return tableKey(ns, db, "$grant$"+access+"/"+subject)
}

// AddGrant issues (or re-issues, clearing a revocation) a grant for
// subject under the named access method.
func (c *Catalog) AddGrant(ns, db, access, subject string) *GrantDef {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := grantKey(ns, db, access, subject)
	if existing, ok := c.grants[key]; ok {
		existing.Revoked = false
		existing.CreatedAt = time.Now()
		return existing
	}
	g := &GrantDef{ID: c.ids.Next(), Access: access, Subject: subject, CreatedAt: time.Now()}
	c.grants[key] = g
	return g
}

// Grants lists every grant issued under the named access method,
// revoked ones included.
func (c *Catalog) Grants(ns, db, access string) []*GrantDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	prefix := tableKey(ns, db, "$grant$"+access+"/")
	var out []*GrantDef
	for key, g := range c.grants {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, g)
		}
	}
	return out
}

// RevokeGrant marks subject's grant under the named access method as
// revoked, reporting whether such a grant existed.
func (c *Catalog) RevokeGrant(ns, db, access, subject string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.grants[grantKey(ns, db, access, subject)]
	if !ok {
		return false
	}
	g.Revoked = true
	return true
}

// NextID is used by non-table metadata (fields, indexes, access, users)
// to obtain a stable namespace-local id.
func (c *Catalog) NextID() uint32 { return c.ids.Next() }
