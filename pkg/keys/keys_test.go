package keys

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordKeyUnderTablePrefix(t *testing.T) {
	prefix := RecordKeyPrefix("acme", "prod", "person")
	key := RecordKey("acme", "prod", "person", EncodeStringKey("one"))
	require.True(t, bytes.HasPrefix(key, prefix), "a record key must fall under its table's scan prefix")
}

func TestRecordKeyPrefixIsolatesTables(t *testing.T) {
	personKey := RecordKey("acme", "prod", "person", EncodeStringKey("one"))
	orderPrefix := RecordKeyPrefix("acme", "prod", "order")
	require.False(t, bytes.HasPrefix(personKey, orderPrefix), "a person record must not fall under a different table's prefix")
}

func TestTablePrefixIsolatesDatabasesAndNamespaces(t *testing.T) {
	a := TablePrefix("acme", "prod", "person")
	b := TablePrefix("acme", "staging", "person")
	c := TablePrefix("other", "prod", "person")
	require.False(t, bytes.HasPrefix(a, b) || bytes.HasPrefix(b, a))
	require.False(t, bytes.HasPrefix(a, c) || bytes.HasPrefix(c, a))
}

// TestTablePrefixNoCrossTalkOnNamePrefixes guards against a naive
// concatenation scheme ("acme" + "prod" + "person") colliding with a
// differently-split name ("acmep" + "rod" + "person"); the length-prefixed
// segment encoding must keep these apart.
func TestTablePrefixNoCrossTalkOnNamePrefixes(t *testing.T) {
	a := TablePrefix("acme", "prod", "person")
	b := TablePrefix("acmep", "rod", "person")
	require.False(t, bytes.Equal(a, b))
	require.False(t, bytes.HasPrefix(a, b) || bytes.HasPrefix(b, a))
}

func TestEncodeIntKeyPreservesNumericOrdering(t *testing.T) {
	values := []int64{-1000, -1, 0, 1, 2, 1000, 1 << 40}
	encoded := make([][]byte, len(values))
	for i, v := range values {
		encoded[i] = EncodeIntKey(v)
	}
	sorted := append([][]byte{}, encoded...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	for i := range encoded {
		require.True(t, bytes.Equal(encoded[i], sorted[i]),
			"EncodeIntKey(%d) out of byte-sort order relative to numeric order", values[i])
	}
}

func TestExclusiveUpperBoundIsStrictlyGreater(t *testing.T) {
	key := []byte("abc")
	bound := ExclusiveUpperBound(key)
	require.True(t, bytes.Compare(bound, key) > 0)
	require.True(t, bytes.HasPrefix(bound, key))
}

func TestPrefixUpperBoundExcludesSiblingsNotDescendants(t *testing.T) {
	prefix := []byte("abc")
	upper := PrefixUpperBound(prefix)
	require.NotNil(t, upper)

	// Every key sharing the prefix must sort below the bound...
	require.True(t, bytes.Compare(append(append([]byte{}, prefix...), 0xFF), upper) < 0)
	require.True(t, bytes.Compare(prefix, upper) < 0)
	// ...but a sibling key that merely starts the same way numerically
	// higher must not.
	require.True(t, bytes.Compare([]byte("abd"), upper) >= 0)
}

func TestPrefixUpperBoundAllFF(t *testing.T) {
	require.Nil(t, PrefixUpperBound([]byte{0xFF, 0xFF}))
}

func TestGraphKeyDirectionsDoNotCollide(t *testing.T) {
	id := EncodeStringKey("one")
	out := GraphKey("acme", "prod", "person", id, DirOut, "likes", EncodeStringKey("two"))
	in := GraphKey("acme", "prod", "person", id, DirIn, "likes", EncodeStringKey("two"))
	require.NotEqual(t, out, in)
	require.True(t, bytes.HasPrefix(out, GraphPrefix("acme", "prod", "person", id, DirOut)))
	require.False(t, bytes.HasPrefix(in, GraphPrefix("acme", "prod", "person", id, DirOut)))
}

func TestReferenceKeyUnderReferencePrefix(t *testing.T) {
	targetKey := EncodeStringKey("one")
	prefix := ReferencePrefix("acme", "prod", "person", targetKey)
	key := ReferenceKey("acme", "prod", "person", targetKey, "post", EncodeStringKey("p1"), "author")
	require.True(t, bytes.HasPrefix(key, prefix))
}

func TestIndexKeyUnderIndexPrefix(t *testing.T) {
	prefix := IndexPrefix("acme", "prod", "person", "email_unique", nil)
	key := IndexKey("acme", "prod", "person", "email_unique", [][]byte{[]byte("a@example.com")}, EncodeStringKey("one"))
	require.True(t, bytes.HasPrefix(key, prefix))

	scoped := IndexPrefix("acme", "prod", "person", "email_unique", [][]byte{[]byte("a@example.com")})
	require.True(t, bytes.HasPrefix(key, scoped))

	other := IndexPrefix("acme", "prod", "person", "email_unique", [][]byte{[]byte("b@example.com")})
	require.False(t, bytes.HasPrefix(key, other))
}

func TestHNSWKeysDistinctPerLayerAndElement(t *testing.T) {
	a := HNSWLayerElementKey("acme", "prod", "person", "bio_vec", 0, 1)
	b := HNSWLayerElementKey("acme", "prod", "person", "bio_vec", 0, 2)
	c := HNSWLayerElementKey("acme", "prod", "person", "bio_vec", 1, 1)
	require.NotEqual(t, a, b)
	require.NotEqual(t, a, c)

	require.True(t, bytes.HasPrefix(a, HNSWLayerPrefix("acme", "prod", "person", "bio_vec", 0)))
	require.False(t, bytes.HasPrefix(c, HNSWLayerPrefix("acme", "prod", "person", "bio_vec", 0)))
}

func TestHNSWVectorAndDocKeysDistinct(t *testing.T) {
	vec := HNSWVectorKey("acme", "prod", "person", "bio_vec", 1)
	doc := HNSWDocKey("acme", "prod", "person", "bio_vec", 1)
	require.NotEqual(t, vec, doc)
}
