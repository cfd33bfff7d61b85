package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/nexus/pkg/value"
)

func TestEnsureNamespaceIsIdempotent(t *testing.T) {
	c := New()

	ns1, created1 := c.EnsureNamespace("acme")
	require.True(t, created1)
	require.Equal(t, "acme", ns1.Name)

	ns2, created2 := c.EnsureNamespace("acme")
	require.False(t, created2)
	require.Equal(t, ns1.ID, ns2.ID, "repeated EnsureNamespace must return the same entry")
}

func TestEnsureDatabaseMaterializesNamespace(t *testing.T) {
	c := New()

	db, created := c.EnsureDatabase("acme", "prod")
	require.True(t, created)
	require.Equal(t, "prod", db.Name)
	require.Equal(t, "acme", db.NS)

	_, nsCreated := c.EnsureNamespace("acme")
	require.False(t, nsCreated, "EnsureDatabase must have already created the namespace")

	_, created2 := c.EnsureDatabase("acme", "prod")
	require.False(t, created2)
}

func TestEnsureTableIsIdempotentAndScopedPerDB(t *testing.T) {
	c := New()
	c.EnsureDatabase("acme", "prod")
	c.EnsureDatabase("acme", "staging")

	t1 := c.EnsureTable("acme", "prod", "person")
	t2 := c.EnsureTable("acme", "prod", "person")
	require.Same(t, t1, t2, "EnsureTable must return the same definition for a repeated call")

	t3 := c.EnsureTable("acme", "staging", "person")
	require.NotSame(t, t1, t3, "same table name in a different database is a distinct definition")
	require.NotEqual(t, t1.ID, t3.ID)

	got, ok := c.Table("acme", "prod", "person")
	require.True(t, ok)
	require.Same(t, t1, got)

	_, ok = c.Table("acme", "prod", "missing")
	require.False(t, ok)
}

func TestTableDefFieldsPreserveDeclarationOrder(t *testing.T) {
	tbl := &TableDef{Name: "person"}

	require.NoError(t, tbl.AddField(&FieldDef{Path: value.ParseIdiom("name")}))
	require.NoError(t, tbl.AddField(&FieldDef{Path: value.ParseIdiom("email")}))
	require.NoError(t, tbl.AddField(&FieldDef{Path: value.ParseIdiom("age")}))

	fields := tbl.Fields()
	require.Len(t, fields, 3)
	require.Equal(t, "name", fields[0].Path.String())
	require.Equal(t, "email", fields[1].Path.String())
	require.Equal(t, "age", fields[2].Path.String())
}

func TestTableDefIndexes(t *testing.T) {
	tbl := &TableDef{Name: "person"}
	require.Empty(t, tbl.Indexes())

	tbl.AddIndex(&IndexDef{Name: "email_unique", Kind: IndexUnique, Unique: true})
	tbl.AddIndex(&IndexDef{Name: "bio_search", Kind: IndexFullText})

	idxs := tbl.Indexes()
	require.Len(t, idxs, 2)
	require.Equal(t, "email_unique", idxs[0].Name)
	require.Equal(t, "bio_search", idxs[1].Name)
}

func TestFieldDefIsAnyTyped(t *testing.T) {
	cases := []struct {
		name string
		f    FieldDef
		want bool
	}{
		{"flexible", FieldDef{Flexible: true, Kind: value.Kind{Tag: value.KString}}, true},
		{"any kind", FieldDef{Kind: value.Kind{Tag: value.KAny}}, true},
		{"literal kind", FieldDef{Kind: value.Kind{Tag: value.KLiteral}}, true},
		{"plain string", FieldDef{Kind: value.Kind{Tag: value.KString}}, false},
		{"plain int", FieldDef{Kind: value.Kind{Tag: value.KInt}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.f.IsAnyTyped())
		})
	}
}

func TestForeignViewsFiltersByBaseTableAndDB(t *testing.T) {
	c := New()
	c.EnsureDatabase("acme", "prod")
	c.EnsureDatabase("acme", "staging")

	person := c.EnsureTable("acme", "prod", "person")
	_ = person

	byCity := c.EnsureTable("acme", "prod", "people_by_city")
	byCity.View = &ViewDefinition{Kind: ViewAggregated, BaseTable: "person"}

	unrelated := c.EnsureTable("acme", "prod", "order_totals")
	unrelated.View = &ViewDefinition{Kind: ViewAggregated, BaseTable: "order"}

	// Same view name/base table in a different database must not leak in.
	otherDBView := c.EnsureTable("acme", "staging", "people_by_city")
	otherDBView.View = &ViewDefinition{Kind: ViewAggregated, BaseTable: "person"}

	views := c.ForeignViews("acme", "prod", "person")
	require.Len(t, views, 1)
	require.Equal(t, "people_by_city", views[0].Name)
}

func TestDefineUserPreservesIDAcrossRedefinition(t *testing.T) {
	c := New()

	u1 := c.DefineUser("acme", "prod", UserDef{Name: "root", PasswordHash: "h1", Roles: []string{"owner"}})
	require.NotZero(t, u1.ID)

	u2 := c.DefineUser("acme", "prod", UserDef{Name: "root", PasswordHash: "h2", Roles: []string{"owner", "editor"}})
	require.Equal(t, u1.ID, u2.ID, "redefining an existing user must keep its id stable")
	require.Equal(t, "h2", u2.PasswordHash)

	got, ok := c.User("acme", "prod", "root")
	require.True(t, ok)
	require.Equal(t, u2, got)

	_, ok = c.User("acme", "prod", "nobody")
	require.False(t, ok)
}

func TestDefineAccessPreservesIDAcrossRedefinition(t *testing.T) {
	c := New()

	a1 := c.DefineAccess("acme", "prod", AccessDef{Name: "token_auth", Kind: AccessJWT})
	a2 := c.DefineAccess("acme", "prod", AccessDef{Name: "token_auth", Kind: AccessJWT, SigningSecret: []byte("s3cr3t")})

	require.Equal(t, a1.ID, a2.ID)
	require.Equal(t, []byte("s3cr3t"), a2.SigningSecret)

	got, ok := c.Access("acme", "prod", "token_auth")
	require.True(t, ok)
	require.Equal(t, a2, got)
}

func TestNextIDMonotonic(t *testing.T) {
	c := New()
	a := c.NextID()
	b := c.NextID()
	require.Less(t, a, b)
}

func TestPermissionAccept(t *testing.T) {
	require.True(t, Permission{Kind: PermFull}.Accept(false))
	require.False(t, Permission{Kind: PermNone}.Accept(true))
	require.True(t, Permission{Kind: PermSpecific}.Accept(true))
	require.False(t, Permission{Kind: PermSpecific}.Accept(false))
}
