// Package value implements the tagged-union Value type that flows through
// every layer of the core: records, query inputs, computed expressions, and
// index keys all resolve to a Value.
package value

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tag identifies which variant of the tagged union a Value holds.
type Tag int

const (
	TagNone Tag = iota
	TagNull
	TagBool
	TagInt
	TagFloat
	TagDecimal
	TagString
	TagBytes
	TagDatetime
	TagDuration
	TagUUID
	TagRegex
	TagArray
	TagObject
	TagGeometry
	TagRecordID
	TagRange
	TagFile
	TagClosure
)

func (t Tag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagNull:
		return "null"
	case TagBool:
		return "bool"
	case TagInt:
		return "int"
	case TagFloat:
		return "float"
	case TagDecimal:
		return "decimal"
	case TagString:
		return "string"
	case TagBytes:
		return "bytes"
	case TagDatetime:
		return "datetime"
	case TagDuration:
		return "duration"
	case TagUUID:
		return "uuid"
	case TagRegex:
		return "regex"
	case TagArray:
		return "array"
	case TagObject:
		return "object"
	case TagGeometry:
		return "geometry"
	case TagRecordID:
		return "record"
	case TagRange:
		return "range"
	case TagFile:
		return "file"
	case TagClosure:
		return "closure"
	default:
		return "unknown"
	}
}

// Value is the core tagged union. Only the field matching Tag is
// meaningful; the rest are zero: a plain struct rather than an
// interface for wire-shaped data.
type Value struct {
	Tag Tag

	Bool     bool
	Int      int64
	Float    float64
	Decimal  decimal.Decimal
	Str      string
	Bytes    []byte
	Datetime time.Time
	Duration time.Duration
	UUID     uuid.UUID
	Regex    *regexp.Regexp

	Array  []Value
	Object map[string]Value

	Geometry *Geometry
	RecordID *RecordID
	Range    *Range
	File     *File
	Closure  *Closure
}

// RecordID identifies one record: a table name plus a key of one of the
// permitted kinds (int64, string, uuid, array, object, range).
type RecordID struct {
	Table string
	Key   Value
}

func (r RecordID) String() string {
	return fmt.Sprintf("%s:%s", r.Table, keyString(r.Key))
}

func keyString(k Value) string {
	switch k.Tag {
	case TagInt:
		return fmt.Sprintf("%d", k.Int)
	case TagString:
		return k.Str
	case TagUUID:
		return k.UUID.String()
	default:
		return k.String()
	}
}

// Range is a bounded pair of endpoints over record-id keys.
type Range struct {
	Begin       *Value // nil = unbounded
	End         *Value // nil = unbounded
	BeginExcl   bool
	EndExcl     bool
}

// GeometryKind enumerates the geometry sub-variants.
type GeometryKind int

const (
	GeomPoint GeometryKind = iota
	GeomLine
	GeomPolygon
	GeomMultiPoint
	GeomMultiLine
	GeomMultiPolygon
	GeomCollection
)

// Geometry holds coordinate data generically; interpretation depends on
// Kind. Point uses Coords[0]; Line/MultiPoint use Coords; Polygon uses
// Rings; MultiLine/MultiPolygon use NestedRings; Collection uses Items.
type Geometry struct {
	Kind        GeometryKind
	Coords      [][2]float64
	Rings       [][][2]float64
	NestedRings [][][][2]float64
	Items       []Geometry
}

// File references a stored blob by bucket and key. No bucket driver is
// implemented here; the type exists so Kind coercion/casting for
// `file<bucket>` is complete.
type File struct {
	Bucket string
	Key    string
}

// Closure is a callable value capturing its defining environment.
type Closure struct {
	Params []string
	Body   any // *ast.Expr; kept as any to avoid an import cycle with ast
	Env    map[string]Value
}

// Constructors -------------------------------------------------------

func None() Value                 { return Value{Tag: TagNone} }
func Null() Value                 { return Value{Tag: TagNull} }
func Bool(b bool) Value           { return Value{Tag: TagBool, Bool: b} }
func Int(i int64) Value           { return Value{Tag: TagInt, Int: i} }
func Float(f float64) Value       { return Value{Tag: TagFloat, Float: f} }
func Dec(d decimal.Decimal) Value { return Value{Tag: TagDecimal, Decimal: d} }
func Str(s string) Value          { return Value{Tag: TagString, Str: s} }
func Bin(b []byte) Value          { return Value{Tag: TagBytes, Bytes: b} }
func Time(t time.Time) Value      { return Value{Tag: TagDatetime, Datetime: t} }
func Dur(d time.Duration) Value   { return Value{Tag: TagDuration, Duration: d} }
func ID(u uuid.UUID) Value        { return Value{Tag: TagUUID, UUID: u} }
func Arr(vs ...Value) Value       { return Value{Tag: TagArray, Array: vs} }
func Obj(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{Tag: TagObject, Object: m}
}
func Thing(table string, key Value) Value {
	return Value{Tag: TagRecordID, RecordID: &RecordID{Table: table, Key: key}}
}

// IsNone reports the SurrealQL "NONE" sentinel (absent field), distinct
// from NULL (an explicit nothing value).
func (v Value) IsNone() bool { return v.Tag == TagNone }

// IsNullish reports none-or-null, the condition iterable collection uses
// to decide whether a Value iterable yields anything.
func (v Value) IsNullish() bool { return v.Tag == TagNone || v.Tag == TagNull }

// Truthy implements SurrealQL truthiness used by WHERE/ASSERT/IF.
func (v Value) Truthy() bool {
	switch v.Tag {
	case TagNone, TagNull:
		return false
	case TagBool:
		return v.Bool
	case TagInt:
		return v.Int != 0
	case TagFloat:
		return v.Float != 0 && !math.IsNaN(v.Float)
	case TagDecimal:
		return !v.Decimal.IsZero()
	case TagString:
		return v.Str != ""
	case TagArray:
		return len(v.Array) > 0
	case TagObject:
		return len(v.Object) > 0
	default:
		return true
	}
}

// IsStatic reports whether the value contains no unresolved expression
// (used by the document pipeline's VALUE-clause ordering rule).
// Every concrete Value is static by construction; expressions are a
// distinct AST type evaluated before a Value exists.
func (v Value) IsStatic() bool { return true }

// TotalCmpFloat orders floats with total_cmp semantics: NaN compares
// equal to itself and sorts after all other values.
// Exported so other packages that hold raw float64s outside a Value
// (e.g. pkg/idx/hnsw's distance/priority-queue ordering) reuse the same
// rule instead of redefining it.
func TotalCmpFloat(a, b float64) int { return totalCmpFloat(a, b) }

func totalCmpFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Equal implements structural equality, with total_cmp semantics for
// floats.
func Equal(a, b Value) bool {
	return Compare(a, b) == 0 && a.Tag == b.Tag
}

// Compare implements a total order over Values sufficient for ORDER BY,
// sorted-map iteration (object key order for equality), and
// container keys. Cross-tag comparisons order by Tag.
func Compare(a, b Value) int {
	if a.Tag != b.Tag {
		if a.Tag < b.Tag {
			return -1
		}
		return 1
	}
	switch a.Tag {
	case TagNone, TagNull:
		return 0
	case TagBool:
		return boolCmp(a.Bool, b.Bool)
	case TagInt:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		default:
			return 0
		}
	case TagFloat:
		return totalCmpFloat(a.Float, b.Float)
	case TagDecimal:
		return a.Decimal.Cmp(b.Decimal)
	case TagString:
		return bytes.Compare([]byte(a.Str), []byte(b.Str))
	case TagBytes:
		return bytes.Compare(a.Bytes, b.Bytes)
	case TagDatetime:
		switch {
		case a.Datetime.Before(b.Datetime):
			return -1
		case a.Datetime.After(b.Datetime):
			return 1
		default:
			return 0
		}
	case TagDuration:
		switch {
		case a.Duration < b.Duration:
			return -1
		case a.Duration > b.Duration:
			return 1
		default:
			return 0
		}
	case TagUUID:
		return bytes.Compare(a.UUID[:], b.UUID[:])
	case TagArray:
		return compareArrays(a.Array, b.Array)
	case TagObject:
		return compareObjects(a.Object, b.Object)
	case TagRecordID:
		if c := bytes.Compare([]byte(a.RecordID.Table), []byte(b.RecordID.Table)); c != 0 {
			return c
		}
		return Compare(a.RecordID.Key, b.RecordID.Key)
	case TagRegex:
		return bytes.Compare([]byte(a.Regex.String()), []byte(b.Regex.String()))
	case TagFile:
		if c := bytes.Compare([]byte(a.File.Bucket), []byte(b.File.Bucket)); c != 0 {
			return c
		}
		return bytes.Compare([]byte(a.File.Key), []byte(b.File.Key))
	case TagRange:
		return compareRanges(a.Range, b.Range)
	case TagGeometry:
		// Geometry has no meaningful order; the wire form is canonical, so
		// comparing it gives a stable total order with structural equality.
		return bytes.Compare(Encode(a), Encode(b))
	default:
		return 0
	}
}

func compareRanges(a, b *Range) int {
	if c := compareOptValue(a.Begin, b.Begin); c != 0 {
		return c
	}
	if c := compareOptValue(a.End, b.End); c != 0 {
		return c
	}
	if c := boolCmp(a.BeginExcl, b.BeginExcl); c != 0 {
		return c
	}
	return boolCmp(a.EndExcl, b.EndExcl)
}

func compareOptValue(a, b *Value) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return Compare(*a, *b)
	}
}

func boolCmp(a, b bool) int {
	if a == b {
		return 0
	}
	if !a && b {
		return -1
	}
	return 1
}

func compareArrays(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// sortedKeys returns an object's keys sorted; objects are iterated in
// sorted key order so equality and comparison are deterministic.
func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func compareObjects(a, b map[string]Value) int {
	ak, bk := sortedKeys(a), sortedKeys(b)
	n := len(ak)
	if len(bk) < n {
		n = len(bk)
	}
	for i := 0; i < n; i++ {
		if c := bytes.Compare([]byte(ak[i]), []byte(bk[i])); c != 0 {
			return c
		}
		if c := Compare(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	switch {
	case len(ak) < len(bk):
		return -1
	case len(ak) > len(bk):
		return 1
	default:
		return 0
	}
}

func (v Value) String() string {
	switch v.Tag {
	case TagNone:
		return "NONE"
	case TagNull:
		return "NULL"
	case TagBool:
		return fmt.Sprintf("%t", v.Bool)
	case TagInt:
		return fmt.Sprintf("%d", v.Int)
	case TagFloat:
		return fmt.Sprintf("%g", v.Float)
	case TagDecimal:
		return v.Decimal.String()
	case TagString:
		return v.Str
	case TagBytes:
		return fmt.Sprintf("%x", v.Bytes)
	case TagDatetime:
		return v.Datetime.Format(time.RFC3339Nano)
	case TagDuration:
		return v.Duration.String()
	case TagUUID:
		return v.UUID.String()
	case TagRecordID:
		return v.RecordID.String()
	case TagArray:
		parts := make([]string, len(v.Array))
		for i, e := range v.Array {
			parts[i] = e.String()
		}
		return "[" + joinStr(parts, ", ") + "]"
	case TagObject:
		keys := sortedKeys(v.Object)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %s", k, v.Object[k].String())
		}
		return "{" + joinStr(parts, ", ") + "}"
	default:
		return v.Tag.String()
	}
}

func joinStr(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// Clone deep-copies a Value so callers can mutate it (e.g. the document
// pipeline's per-field writes) without aliasing the original.
func Clone(v Value) Value {
	switch v.Tag {
	case TagArray:
		out := make([]Value, len(v.Array))
		for i, e := range v.Array {
			out[i] = Clone(e)
		}
		v.Array = out
	case TagObject:
		out := make(map[string]Value, len(v.Object))
		for k, e := range v.Object {
			out[k] = Clone(e)
		}
		v.Object = out
	case TagBytes:
		out := make([]byte, len(v.Bytes))
		copy(out, v.Bytes)
		v.Bytes = out
	}
	return v
}
