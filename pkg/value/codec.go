package value

import (
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Encode serializes a Value to its wire form: a tagged format, one
// discriminator byte per variant. This is the format records are stored
// under in pkg/kvs and exchanged wherever a Value crosses a package
// boundary.
func Encode(v Value) []byte {
	var out []byte
	out = append(out, byte(v.Tag))
	switch v.Tag {
	case TagNone, TagNull:
	case TagBool:
		if v.Bool {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	case TagInt:
		out = appendUint64(out, uint64(v.Int))
	case TagFloat:
		out = appendUint64(out, float64bits(v.Float))
	case TagDecimal:
		out = appendString(out, v.Decimal.String())
	case TagString:
		out = appendString(out, v.Str)
	case TagBytes:
		out = appendBytes(out, v.Bytes)
	case TagDatetime:
		out = appendString(out, v.Datetime.UTC().Format(time.RFC3339Nano))
	case TagDuration:
		out = appendUint64(out, uint64(v.Duration))
	case TagUUID:
		out = append(out, v.UUID[:]...)
	case TagRegex:
		out = appendString(out, v.Regex.String())
	case TagArray:
		out = appendUint64(out, uint64(len(v.Array)))
		for _, e := range v.Array {
			out = append(out, Encode(e)...)
		}
	case TagObject:
		keys := sortedKeys(v.Object)
		out = appendUint64(out, uint64(len(keys)))
		for _, k := range keys {
			out = appendString(out, k)
			out = append(out, Encode(v.Object[k])...)
		}
	case TagRecordID:
		out = appendString(out, v.RecordID.Table)
		out = append(out, Encode(v.RecordID.Key)...)
	case TagRange:
		out = appendOptValue(out, v.Range.Begin)
		out = appendOptValue(out, v.Range.End)
		out = appendBool(out, v.Range.BeginExcl)
		out = appendBool(out, v.Range.EndExcl)
	case TagFile:
		out = appendString(out, v.File.Bucket)
		out = appendString(out, v.File.Key)
	case TagGeometry:
		out = encodeGeometry(out, v.Geometry)
	case TagClosure:
		// Closures are never persisted; encode as NONE so round-tripping a
		// container that happens to hold one doesn't panic.
		out[len(out)-1] = byte(TagNone)
	}
	return out
}

func appendUint64(out []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(out, b[:]...)
}

func float64bits(f float64) uint64 {
	return math.Float64bits(f)
}

func appendString(out []byte, s string) []byte {
	out = appendUint64(out, uint64(len(s)))
	return append(out, s...)
}

func appendBytes(out []byte, b []byte) []byte {
	out = appendUint64(out, uint64(len(b)))
	return append(out, b...)
}

func appendBool(out []byte, b bool) []byte {
	if b {
		return append(out, 1)
	}
	return append(out, 0)
}

func appendOptValue(out []byte, v *Value) []byte {
	if v == nil {
		return append(out, 0)
	}
	out = append(out, 1)
	return append(out, Encode(*v)...)
}

func encodeGeometry(out []byte, g *Geometry) []byte {
	out = append(out, byte(g.Kind))
	out = appendCoords(out, g.Coords)
	out = appendUint64(out, uint64(len(g.Rings)))
	for _, ring := range g.Rings {
		out = appendCoords(out, ring)
	}
	out = appendUint64(out, uint64(len(g.NestedRings)))
	for _, rings := range g.NestedRings {
		out = appendUint64(out, uint64(len(rings)))
		for _, ring := range rings {
			out = appendCoords(out, ring)
		}
	}
	out = appendUint64(out, uint64(len(g.Items)))
	for i := range g.Items {
		out = encodeGeometry(out, &g.Items[i])
	}
	return out
}

func appendCoords(out []byte, coords [][2]float64) []byte {
	out = appendUint64(out, uint64(len(coords)))
	for _, c := range coords {
		out = appendUint64(out, float64bits(c[0]))
		out = appendUint64(out, float64bits(c[1]))
	}
	return out
}

// Decode parses the wire form produced by Encode. Round-tripping
// preserves equality for every Value except NaN, whose bit pattern is
// preserved exactly but compares per TotalCmpFloat.
func Decode(b []byte) (Value, error) {
	v, rest, err := decodeAt(b)
	if err != nil {
		return Value{}, err
	}
	if len(rest) != 0 {
		return Value{}, fmt.Errorf("value: %d trailing bytes after decode", len(rest))
	}
	return v, nil
}

func decodeAt(b []byte) (Value, []byte, error) {
	if len(b) == 0 {
		return Value{}, nil, fmt.Errorf("value: empty input")
	}
	tag := Tag(b[0])
	rest := b[1:]
	switch tag {
	case TagNone:
		return None(), rest, nil
	case TagNull:
		return Null(), rest, nil
	case TagBool:
		if len(rest) < 1 {
			return Value{}, nil, fmt.Errorf("value: truncated bool")
		}
		return Bool(rest[0] == 1), rest[1:], nil
	case TagInt:
		n, rest, err := readUint64(rest)
		return Int(int64(n)), rest, err
	case TagFloat:
		n, rest, err := readUint64(rest)
		return Float(math.Float64frombits(n)), rest, err
	case TagDecimal:
		s, rest, err := readString(rest)
		if err != nil {
			return Value{}, nil, err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Value{}, nil, err
		}
		return Dec(d), rest, nil
	case TagString:
		s, rest, err := readString(rest)
		return Str(s), rest, err
	case TagBytes:
		bs, rest, err := readBytes(rest)
		return Bin(bs), rest, err
	case TagDatetime:
		s, rest, err := readString(rest)
		if err != nil {
			return Value{}, nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Value{}, nil, err
		}
		return Time(t), rest, nil
	case TagDuration:
		n, rest, err := readUint64(rest)
		return Dur(time.Duration(n)), rest, err
	case TagUUID:
		if len(rest) < 16 {
			return Value{}, nil, fmt.Errorf("value: truncated uuid")
		}
		var u uuid.UUID
		copy(u[:], rest[:16])
		return ID(u), rest[16:], nil
	case TagRegex:
		s, rest, err := readString(rest)
		if err != nil {
			return Value{}, nil, err
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return Value{}, nil, err
		}
		return Value{Tag: TagRegex, Regex: re}, rest, nil
	case TagArray:
		n, rest, err := readUint64(rest)
		if err != nil {
			return Value{}, nil, err
		}
		items := make([]Value, 0, n)
		for i := uint64(0); i < n; i++ {
			var e Value
			e, rest, err = decodeAt(rest)
			if err != nil {
				return Value{}, nil, err
			}
			items = append(items, e)
		}
		return Arr(items...), rest, nil
	case TagObject:
		n, rest, err := readUint64(rest)
		if err != nil {
			return Value{}, nil, err
		}
		m := make(map[string]Value, n)
		for i := uint64(0); i < n; i++ {
			var k string
			k, rest, err = readString(rest)
			if err != nil {
				return Value{}, nil, err
			}
			var e Value
			e, rest, err = decodeAt(rest)
			if err != nil {
				return Value{}, nil, err
			}
			m[k] = e
		}
		return Obj(m), rest, nil
	case TagRecordID:
		tb, rest, err := readString(rest)
		if err != nil {
			return Value{}, nil, err
		}
		key, rest, err := decodeAt(rest)
		if err != nil {
			return Value{}, nil, err
		}
		return Thing(tb, key), rest, nil
	case TagRange:
		begin, rest, err := readOptValue(rest)
		if err != nil {
			return Value{}, nil, err
		}
		end, rest, err := readOptValue(rest)
		if err != nil {
			return Value{}, nil, err
		}
		if len(rest) < 2 {
			return Value{}, nil, fmt.Errorf("value: truncated range")
		}
		r := &Range{Begin: begin, End: end, BeginExcl: rest[0] == 1, EndExcl: rest[1] == 1}
		return Value{Tag: TagRange, Range: r}, rest[2:], nil
	case TagFile:
		bucket, rest, err := readString(rest)
		if err != nil {
			return Value{}, nil, err
		}
		key, rest, err := readString(rest)
		if err != nil {
			return Value{}, nil, err
		}
		return Value{Tag: TagFile, File: &File{Bucket: bucket, Key: key}}, rest, nil
	case TagGeometry:
		g, rest, err := decodeGeometry(rest)
		if err != nil {
			return Value{}, nil, err
		}
		return Value{Tag: TagGeometry, Geometry: g}, rest, nil
	default:
		return Value{}, nil, fmt.Errorf("value: unknown tag %d", tag)
	}
}

func decodeGeometry(b []byte) (*Geometry, []byte, error) {
	if len(b) < 1 {
		return nil, nil, fmt.Errorf("value: truncated geometry")
	}
	kind := GeometryKind(b[0])
	rest := b[1:]
	coords, rest, err := readCoords(rest)
	if err != nil {
		return nil, nil, err
	}
	nRings, rest, err := readUint64(rest)
	if err != nil {
		return nil, nil, err
	}
	var rings [][][2]float64
	for i := uint64(0); i < nRings; i++ {
		var ring [][2]float64
		ring, rest, err = readCoords(rest)
		if err != nil {
			return nil, nil, err
		}
		rings = append(rings, ring)
	}
	nNested, rest, err := readUint64(rest)
	if err != nil {
		return nil, nil, err
	}
	var nested [][][][2]float64
	for i := uint64(0); i < nNested; i++ {
		var nInner uint64
		nInner, rest, err = readUint64(rest)
		if err != nil {
			return nil, nil, err
		}
		var inner [][][2]float64
		for j := uint64(0); j < nInner; j++ {
			var ring [][2]float64
			ring, rest, err = readCoords(rest)
			if err != nil {
				return nil, nil, err
			}
			inner = append(inner, ring)
		}
		nested = append(nested, inner)
	}
	nItems, rest, err := readUint64(rest)
	if err != nil {
		return nil, nil, err
	}
	var items []Geometry
	for i := uint64(0); i < nItems; i++ {
		var item *Geometry
		item, rest, err = decodeGeometry(rest)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, *item)
	}
	return &Geometry{Kind: kind, Coords: coords, Rings: rings, NestedRings: nested, Items: items}, rest, nil
}

func readCoords(b []byte) ([][2]float64, []byte, error) {
	n, rest, err := readUint64(b)
	if err != nil {
		return nil, nil, err
	}
	var coords [][2]float64
	for i := uint64(0); i < n; i++ {
		var x, y uint64
		x, rest, err = readUint64(rest)
		if err != nil {
			return nil, nil, err
		}
		y, rest, err = readUint64(rest)
		if err != nil {
			return nil, nil, err
		}
		coords = append(coords, [2]float64{math.Float64frombits(x), math.Float64frombits(y)})
	}
	return coords, rest, nil
}

func readUint64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("value: truncated uint64")
	}
	return binary.BigEndian.Uint64(b[:8]), b[8:], nil
}

func readString(b []byte) (string, []byte, error) {
	n, rest, err := readUint64(b)
	if err != nil {
		return "", nil, err
	}
	if uint64(len(rest)) < n {
		return "", nil, fmt.Errorf("value: truncated string")
	}
	return string(rest[:n]), rest[n:], nil
}

func readBytes(b []byte) ([]byte, []byte, error) {
	n, rest, err := readUint64(b)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, fmt.Errorf("value: truncated bytes")
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}

func readOptValue(b []byte) (*Value, []byte, error) {
	if len(b) < 1 {
		return nil, nil, fmt.Errorf("value: truncated optional")
	}
	if b[0] == 0 {
		return nil, b[1:], nil
	}
	v, rest, err := decodeAt(b[1:])
	if err != nil {
		return nil, nil, err
	}
	return &v, rest, nil
}
