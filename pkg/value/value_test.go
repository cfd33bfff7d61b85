package value

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValueRoundTrip checks, at the struct level, that Clone(v) equals v
// for every Value except NaN. See codec_test.go for the wire-format
// round trip used by record storage.
func TestValueRoundTrip(t *testing.T) {
	u := uuid.New()
	tests := []struct {
		name string
		v    Value
	}{
		{"none", None()},
		{"null", Null()},
		{"bool", Bool(true)},
		{"int", Int(42)},
		{"float", Float(3.14)},
		{"string", Str("hello")},
		{"bytes", Bin([]byte{1, 2, 3})},
		{"datetime", Time(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))},
		{"duration", Dur(5 * time.Second)},
		{"uuid", ID(u)},
		{"array", Arr(Int(1), Str("x"), Bool(false))},
		{"object", Obj(map[string]Value{"a": Int(1), "b": Str("y")})},
		{"record", Thing("person", Str("tobie"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clone := Clone(tt.v)
			assert.True(t, Equal(tt.v, clone))
		})
	}
}

func TestNaNEqualsItself(t *testing.T) {
	nan := Float(math.NaN())
	assert.True(t, Equal(nan, nan), "total_cmp treats NaN as equal to itself")
}

func TestFloatTotalOrdering(t *testing.T) {
	vals := []Value{Float(math.NaN()), Float(1), Float(-1), Float(0)}
	// NaN must sort after all non-NaN floats under total_cmp.
	for _, v := range vals[1:] {
		assert.Equal(t, -1, Compare(v, vals[0]))
	}
}

func TestTruthy(t *testing.T) {
	assert.False(t, None().Truthy())
	assert.False(t, Null().Truthy())
	assert.False(t, Int(0).Truthy())
	assert.True(t, Int(1).Truthy())
	assert.False(t, Arr().Truthy())
	assert.True(t, Arr(Int(1)).Truthy())
}

func TestObjectEqualityIgnoresInsertionOrder(t *testing.T) {
	a := Obj(map[string]Value{"a": Int(1), "b": Int(2)})
	b := Obj(map[string]Value{"b": Int(2), "a": Int(1)})
	assert.True(t, Equal(a, b))
}

func TestCoerceStrict(t *testing.T) {
	_, err := Coerce(Str("42"), Kind{Tag: KInt})
	require.Error(t, err, "coercion must not parse strings into ints")

	v, err := Coerce(Int(42), Kind{Tag: KInt})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int)
}

func TestCastRelaxed(t *testing.T) {
	v, err := Cast(Str("42"), Kind{Tag: KInt})
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int)

	_, err = Cast(Str("not a number"), Kind{Tag: KInt})
	assert.Error(t, err)
}

func TestCastRecordFromString(t *testing.T) {
	v, err := Cast(Str("person:tobie"), Kind{Tag: KRecord, Tables: []string{"person"}})
	require.NoError(t, err)
	require.Equal(t, TagRecordID, v.Tag)
	assert.Equal(t, "person", v.RecordID.Table)
}

func TestEitherFirstMatchWins(t *testing.T) {
	k := Kind{Tag: KEither, Variants: []Kind{{Tag: KInt}, {Tag: KString}}}
	v, err := Coerce(Str("x"), k)
	require.NoError(t, err)
	assert.Equal(t, TagString, v.Tag)
}

func TestIdiomGetSetWildcard(t *testing.T) {
	doc := Obj(map[string]Value{
		"tags": Arr(Str("a"), Str("b")),
	})
	idiom := ParseIdiom("tags[*]")
	matches := GetAll(doc, idiom)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Value.Str)

	doc = Set(doc, ParseIdiom("address.city"), Str("NYC"))
	assert.Equal(t, "NYC", Get(doc, ParseIdiom("address.city")).Str)
}

func TestIdiomAncestor(t *testing.T) {
	parent := ParseIdiom("address")
	child := ParseIdiom("address.city")
	assert.True(t, parent.IsAncestorOf(child))
	assert.False(t, child.IsAncestorOf(parent))
}

func TestStripNoneKeepsArrayHoles(t *testing.T) {
	doc := Obj(map[string]Value{
		"a": None(),
		"b": Arr(None(), Int(1)),
	})
	out := StripNone(doc)
	_, hasA := out.Object["a"]
	assert.False(t, hasA)
	assert.Len(t, out.Object["b"].Array, 2)
}
