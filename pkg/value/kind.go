package value

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// KindTag enumerates the Kind sum type.
type KindTag int

const (
	KAny KindTag = iota
	KNone
	KNull
	KBool
	KBytes
	KDatetime
	KDecimal
	KDuration
	KFloat
	KInt
	KNumber
	KObject
	KString
	KUUID
	KRegex
	KTable
	KRecord
	KGeometry
	KEither
	KSet
	KArray
	KFunction
	KRange
	KLiteral
	KFile
)

// Kind is the static type used in field definitions and parameter
// declarations.
type Kind struct {
	Tag KindTag

	// KRecord / KGeometry / KFile: permitted table/geometry-type/bucket names.
	Tables []string

	// KEither: alternative kinds, in declaration order (first match wins).
	Variants []Kind

	// KSet / KArray: inner kind and optional cap.
	Inner *Kind
	Cap   int // 0 = uncapped

	// KFunction
	Args []Kind
	Ret  *Kind

	// KLiteral
	LiteralKind  LiteralKind
	LiteralBool  bool
	LiteralStr   string
	LiteralInt   int64
	LiteralFloat float64
	LiteralDec   decimal.Decimal
	LiteralDur   time.Duration
	LiteralArr   []Kind
	LiteralObj   map[string]literalField
}

type literalField struct {
	Kind      Kind
	CanBeNone bool
}

// LiteralKind distinguishes the literal sub-variants.
type LiteralKind int

const (
	LitString LiteralKind = iota
	LitInt
	LitFloat
	LitDecimal
	LitDuration
	LitBool
	LitArray
	LitObject
)

// Option builds Either(None, K)
func Option(k Kind) Kind {
	return Kind{Tag: KEither, Variants: []Kind{{Tag: KNone}, k}}
}

// PermitsNone reports whether a value coerced to k is allowed to come out
// as NONE: true for `any`, bare `option<T>` kinds (KEither with a KNone
// variant), and KNone itself.
func (k Kind) PermitsNone() bool {
	if k.Tag == KAny || k.Tag == KNone {
		return true
	}
	if k.Tag == KEither {
		for _, v := range k.Variants {
			if v.Tag == KNone {
				return true
			}
		}
	}
	return false
}

func (k Kind) String() string {
	switch k.Tag {
	case KAny:
		return "any"
	case KNone:
		return "none"
	case KNull:
		return "null"
	case KBool:
		return "bool"
	case KBytes:
		return "bytes"
	case KDatetime:
		return "datetime"
	case KDecimal:
		return "decimal"
	case KDuration:
		return "duration"
	case KFloat:
		return "float"
	case KInt:
		return "int"
	case KNumber:
		return "number"
	case KObject:
		return "object"
	case KString:
		return "string"
	case KUUID:
		return "uuid"
	case KRegex:
		return "regex"
	case KTable:
		return "table"
	case KRecord:
		return "record"
	case KGeometry:
		return "geometry"
	case KRange:
		return "range"
	case KFile:
		return "file"
	default:
		return "kind"
	}
}

// CastError reports why a coercion/cast failed.
type CastError struct {
	From Tag
	To   Kind
	Why  string
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cannot convert %s to %s: %s", e.From, e.To, e.Why)
}

// Coerce is the strict equivalent of a static type check:
// does v already satisfy k? Used for TYPE clauses and function
// parameters. It never performs lossy or parsing conversions.
func Coerce(v Value, k Kind) (Value, error) {
	switch k.Tag {
	case KAny:
		return v, nil
	case KNone:
		if v.IsNone() {
			return v, nil
		}
	case KNull:
		if v.Tag == TagNull {
			return v, nil
		}
	case KBool:
		if v.Tag == TagBool {
			return v, nil
		}
	case KInt:
		if v.Tag == TagInt {
			return v, nil
		}
	case KFloat:
		if v.Tag == TagFloat {
			return v, nil
		}
	case KDecimal:
		if v.Tag == TagDecimal {
			return v, nil
		}
	case KNumber:
		if v.Tag == TagInt || v.Tag == TagFloat || v.Tag == TagDecimal {
			return v, nil
		}
	case KString:
		if v.Tag == TagString {
			return v, nil
		}
	case KBytes:
		if v.Tag == TagBytes {
			return v, nil
		}
	case KDatetime:
		if v.Tag == TagDatetime {
			return v, nil
		}
	case KDuration:
		if v.Tag == TagDuration {
			return v, nil
		}
	case KUUID:
		if v.Tag == TagUUID {
			return v, nil
		}
	case KRegex:
		if v.Tag == TagRegex {
			return v, nil
		}
	case KObject:
		if v.Tag == TagObject {
			return v, nil
		}
	case KGeometry:
		if v.Tag == TagGeometry && geometryKindAllowed(v.Geometry.Kind, k.Tables) {
			return v, nil
		}
	case KRange:
		if v.Tag == TagRange {
			return v, nil
		}
	case KFile:
		if v.Tag == TagFile && tableAllowed(v.File.Bucket, k.Tables) {
			return v, nil
		}
	case KTable:
		if v.Tag == TagString {
			return v, nil
		}
	case KRecord:
		if v.Tag == TagRecordID && tableAllowed(v.RecordID.Table, k.Tables) {
			return v, nil
		}
	case KEither:
		for _, variant := range k.Variants {
			if out, err := Coerce(v, variant); err == nil {
				return out, nil
			}
		}
	case KSet, KArray:
		if v.Tag == TagArray {
			return coerceContainer(v, k)
		}
	case KLiteral:
		if matchesLiteral(v, k) {
			return v, nil
		}
	case KFunction:
		if v.Tag == TagClosure {
			return v, nil
		}
	}
	return Value{}, &CastError{From: v.Tag, To: k, Why: "value does not satisfy kind"}
}

func tableAllowed(name string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == name {
			return true
		}
	}
	return false
}

func geometryKindAllowed(gk GeometryKind, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	names := map[GeometryKind]string{
		GeomPoint: "point", GeomLine: "line", GeomPolygon: "polygon",
		GeomMultiPoint: "multipoint", GeomMultiLine: "multiline",
		GeomMultiPolygon: "multipolygon", GeomCollection: "collection",
	}
	return tableAllowed(names[gk], allowed)
}

func coerceContainer(v Value, k Kind) (Value, error) {
	if k.Cap > 0 && len(v.Array) > k.Cap {
		return Value{}, &CastError{From: v.Tag, To: k, Why: "exceeds cap"}
	}
	if k.Inner == nil {
		return v, nil
	}
	out := make([]Value, len(v.Array))
	for i, e := range v.Array {
		c, err := Coerce(e, *k.Inner)
		if err != nil {
			return Value{}, err
		}
		out[i] = c
	}
	result := v
	result.Array = out
	if k.Tag == KSet {
		result.Array = dedupe(out)
	}
	return result, nil
}

func dedupe(vs []Value) []Value {
	out := make([]Value, 0, len(vs))
	for _, v := range vs {
		dup := false
		for _, o := range out {
			if Equal(v, o) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

func matchesLiteral(v Value, k Kind) bool {
	switch k.LiteralKind {
	case LitString:
		return v.Tag == TagString && v.Str == k.LiteralStr
	case LitInt:
		return v.Tag == TagInt && v.Int == k.LiteralInt
	case LitFloat:
		return v.Tag == TagFloat && v.Float == k.LiteralFloat
	case LitDecimal:
		return v.Tag == TagDecimal && v.Decimal.Equal(k.LiteralDec)
	case LitDuration:
		return v.Tag == TagDuration && v.Duration == k.LiteralDur
	case LitBool:
		return v.Tag == TagBool && v.Bool == k.LiteralBool
	case LitArray:
		if v.Tag != TagArray || len(v.Array) != len(k.LiteralArr) {
			return false
		}
		for i, inner := range k.LiteralArr {
			if _, err := Coerce(v.Array[i], inner); err != nil {
				return false
			}
		}
		return true
	case LitObject:
		if v.Tag != TagObject {
			return false
		}
		for key, f := range k.LiteralObj {
			val, ok := v.Object[key]
			if !ok {
				if f.CanBeNone {
					continue
				}
				return false
			}
			if _, err := Coerce(val, f.Kind); err != nil {
				return false
			}
		}
		return true
	}
	return false
}

// Cast is the relaxed equivalent of `<T> v`: it permits
// lossless conversions beyond what Coerce accepts. It tries the strict
// path first since every Coerce success is also a valid Cast.
func Cast(v Value, k Kind) (Value, error) {
	if out, err := Coerce(v, k); err == nil {
		return out, nil
	}

	switch k.Tag {
	case KInt:
		switch v.Tag {
		case TagString:
			n, err := strconv.ParseInt(v.Str, 10, 64)
			if err != nil {
				return Value{}, &CastError{From: v.Tag, To: k, Why: "not a valid int string"}
			}
			return Int(n), nil
		case TagFloat:
			if v.Float != math.Trunc(v.Float) {
				return Value{}, &CastError{From: v.Tag, To: k, Why: "not integral"}
			}
			return Int(int64(v.Float)), nil
		case TagDecimal:
			if !v.Decimal.Equal(v.Decimal.Truncate(0)) {
				return Value{}, &CastError{From: v.Tag, To: k, Why: "not integral"}
			}
			return Int(v.Decimal.IntPart()), nil
		case TagBool:
			if v.Bool {
				return Int(1), nil
			}
			return Int(0), nil
		}
	case KFloat:
		switch v.Tag {
		case TagString:
			f, err := strconv.ParseFloat(v.Str, 64)
			if err != nil {
				return Value{}, &CastError{From: v.Tag, To: k, Why: "not a valid float string"}
			}
			return Float(f), nil
		case TagInt:
			return Float(float64(v.Int)), nil
		case TagDecimal:
			f, _ := v.Decimal.Float64()
			return Float(f), nil
		case TagBool:
			if v.Bool {
				return Float(1), nil
			}
			return Float(0), nil
		}
	case KDecimal:
		switch v.Tag {
		case TagString:
			d, err := decimal.NewFromString(v.Str)
			if err != nil {
				return Value{}, &CastError{From: v.Tag, To: k, Why: "not a valid decimal string"}
			}
			return Dec(d), nil
		case TagInt:
			return Dec(decimal.NewFromInt(v.Int)), nil
		case TagFloat:
			return Dec(decimal.NewFromFloat(v.Float)), nil
		}
	case KString:
		return Str(v.String()), nil
	case KUUID:
		if v.Tag == TagString {
			u, err := uuid.Parse(v.Str)
			if err != nil {
				return Value{}, &CastError{From: v.Tag, To: k, Why: "not a valid uuid string"}
			}
			return ID(u), nil
		}
	case KBytes:
		if v.Tag == TagArray {
			out := make([]byte, len(v.Array))
			for i, e := range v.Array {
				if e.Tag != TagInt || e.Int < 0 || e.Int > 255 {
					return Value{}, &CastError{From: v.Tag, To: k, Why: "array element not a byte"}
				}
				out[i] = byte(e.Int)
			}
			return Bin(out), nil
		}
	case KArray:
		if v.Tag == TagBytes {
			out := make([]Value, len(v.Bytes))
			for i, b := range v.Bytes {
				out[i] = Int(int64(b))
			}
			return coerceContainer(Arr(out...), k)
		}
	case KBool:
		switch v.Tag {
		case TagInt:
			return Bool(v.Int != 0), nil
		case TagString:
			switch v.Str {
			case "true":
				return Bool(true), nil
			case "false":
				return Bool(false), nil
			}
		}
	case KRecord:
		if v.Tag == TagString {
			for i := len(v.Str) - 1; i >= 0; i-- {
				if v.Str[i] == ':' {
					tb, key := v.Str[:i], v.Str[i+1:]
					if tableAllowed(tb, k.Tables) {
						return Thing(tb, Str(key)), nil
					}
				}
			}
		}
	case KEither:
		for _, variant := range k.Variants {
			if out, err := Cast(v, variant); err == nil {
				return out, nil
			}
		}
	}
	return Value{}, &CastError{From: v.Tag, To: k, Why: "no lossless conversion"}
}
