package hnsw

import (
	"encoding/binary"
	"math"

	"github.com/cuemby/nexus/pkg/catalog"
)

// State is the persisted index state: enter point, the next element id
// allocator, and a version counter per layer so concurrent readers can
// detect a writer's update without a global lock.
type State struct {
	HasEnterPoint bool
	EnterPoint    uint64
	NextElementID uint64
	Layer0Version uint64
	LayerVersions []uint64 // LayerVersions[i] is layer i+1's version
}

func encodeUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func decodeUint64(b []byte) (uint64, []byte) {
	return binary.BigEndian.Uint64(b[:8]), b[8:]
}

// Encode serializes State as a small versioned record: a format byte
// followed by fixed-width fields, matching pkg/keys' length-prefixed,
// big-endian convention rather than reaching for a general-purpose
// codec for this fixed, small shape.
func (s *State) Encode() []byte {
	out := make([]byte, 0, 32+8*len(s.LayerVersions))
	out = append(out, 1) // format version
	if s.HasEnterPoint {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = encodeUint64(out, s.EnterPoint)
	out = encodeUint64(out, s.NextElementID)
	out = encodeUint64(out, s.Layer0Version)
	out = encodeUint64(out, uint64(len(s.LayerVersions)))
	for _, v := range s.LayerVersions {
		out = encodeUint64(out, v)
	}
	return out
}

func DecodeState(b []byte) *State {
	if len(b) < 2 {
		return &State{}
	}
	_ = b[0] // format version, currently always 1
	s := &State{}
	s.HasEnterPoint = b[1] == 1
	rest := b[2:]
	s.EnterPoint, rest = decodeUint64(rest)
	s.NextElementID, rest = decodeUint64(rest)
	s.Layer0Version, rest = decodeUint64(rest)
	var n uint64
	n, rest = decodeUint64(rest)
	s.LayerVersions = make([]uint64, n)
	for i := range s.LayerVersions {
		s.LayerVersions[i], rest = decodeUint64(rest)
	}
	return s
}

// EncodeNeighbors serializes a node's neighbor set as a count-prefixed list
// of big-endian uint64s.
func EncodeNeighbors(ids []uint64) []byte {
	out := make([]byte, 0, 8+8*len(ids))
	out = encodeUint64(out, uint64(len(ids)))
	for _, id := range ids {
		out = encodeUint64(out, id)
	}
	return out
}

func DecodeNeighbors(b []byte) []uint64 {
	if len(b) < 8 {
		return nil
	}
	n, rest := decodeUint64(b)
	out := make([]uint64, 0, n)
	for i := uint64(0); i < n && len(rest) >= 8; i++ {
		var id uint64
		id, rest = decodeUint64(rest)
		out = append(out, id)
	}
	return out
}

// EncodeVector serializes a vector per the index's configured element
// type.
func EncodeVector(vt catalog.VectorType, v []float64) []byte {
	out := make([]byte, 0, len(v)*8)
	for _, f := range v {
		switch vt {
		case catalog.VecF32:
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], math.Float32bits(float32(f)))
			out = append(out, b[:]...)
		case catalog.VecI64:
			out = encodeUint64(out, uint64(int64(f)))
		case catalog.VecI32:
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], uint32(int32(f)))
			out = append(out, b[:]...)
		case catalog.VecI16:
			var b [2]byte
			binary.BigEndian.PutUint16(b[:], uint16(int16(f)))
			out = append(out, b[:]...)
		default: // VecF64
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
			out = append(out, b[:]...)
		}
	}
	return out
}

func DecodeVector(vt catalog.VectorType, dim int, b []byte) []float64 {
	out := make([]float64, 0, dim)
	switch vt {
	case catalog.VecF32:
		for i := 0; i+4 <= len(b); i += 4 {
			out = append(out, float64(math.Float32frombits(binary.BigEndian.Uint32(b[i:]))))
		}
	case catalog.VecI64:
		for i := 0; i+8 <= len(b); i += 8 {
			out = append(out, float64(int64(binary.BigEndian.Uint64(b[i:]))))
		}
	case catalog.VecI32:
		for i := 0; i+4 <= len(b); i += 4 {
			out = append(out, float64(int32(binary.BigEndian.Uint32(b[i:]))))
		}
	case catalog.VecI16:
		for i := 0; i+2 <= len(b); i += 2 {
			out = append(out, float64(int16(binary.BigEndian.Uint16(b[i:]))))
		}
	default:
		for i := 0; i+8 <= len(b); i += 8 {
			out = append(out, math.Float64frombits(binary.BigEndian.Uint64(b[i:])))
		}
	}
	return out
}
