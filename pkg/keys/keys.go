// Package keys builds the deterministic byte keys the KV layer is keyed
// by. Keys are big-endian, ordered byte strings so that a
// range scan over a prefix enumerates exactly the records/edges/index
// entries under it, matching bbolt's native ordered-bucket semantics
// (the concrete driver in pkg/kvs/boltkv relies on this).
package keys

import (
	"encoding/binary"
	"strconv"
)

// Direction names the two graph-edge directions used by lookup keys.
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

func segment(s string) []byte {
	b := make([]byte, 0, len(s)+2)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	b = append(b, lenBuf[:]...)
	b = append(b, s...)
	return b
}

func join(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// NamespacePrefix returns the prefix shared by everything under ns.
func NamespacePrefix(ns string) []byte {
	return join([]byte("/"), segment(ns))
}

// DatabasePrefix returns the prefix shared by everything under ns/db.
func DatabasePrefix(ns, db string) []byte {
	return join(NamespacePrefix(ns), []byte("/"), segment(db))
}

// TablePrefix returns the prefix shared by every record in ns/db/tb.
func TablePrefix(ns, db, tb string) []byte {
	return join(DatabasePrefix(ns, db), []byte("/"), segment(tb))
}

// RecordKey builds `/<ns>/<db>/<tb>/<key>`. keyPart is the record-id
// key's byte encoding (e.g. EncodeStringKey or EncodeIntKey).
func RecordKey(ns, db, tb string, keyPart []byte) []byte {
	return join(TablePrefix(ns, db, tb), []byte("/"), keyPart)
}

// RecordKeyPrefix returns TablePrefix with a trailing separator, the
// begin-bound for a full table scan.
func RecordKeyPrefix(ns, db, tb string) []byte {
	return join(TablePrefix(ns, db, tb), []byte("/"))
}

// GraphKey builds `/<ns>/<db>/<tb>/<id>/<dir>/<edge-tb>/<edge-id>`.
func GraphKey(ns, db, tb string, id []byte, dir Direction, edgeTb string, edgeID []byte) []byte {
	return join(
		TablePrefix(ns, db, tb), []byte("/"), id, []byte("/"),
		[]byte(dir), []byte("/"), segment(edgeTb), []byte("/"), edgeID,
	)
}

// GraphPrefix returns the begin-bound for scanning every edge from id in
// direction dir.
func GraphPrefix(ns, db, tb string, id []byte, dir Direction) []byte {
	return join(TablePrefix(ns, db, tb), []byte("/"), id, []byte("/"), []byte(dir), []byte("/"))
}

// ReferenceKey builds `/<ns>/<db>/<target-tb>/<target-key>/ref/<source-tb>/<source-key>/<field-path>`.
// sourceKey and fieldPath are both length-prefixed so a reference scan can
// recover each component unambiguously regardless of what bytes they hold.
func ReferenceKey(ns, db, targetTb string, targetKey []byte, sourceTb string, sourceKey []byte, fieldPath string) []byte {
	return join(
		TablePrefix(ns, db, targetTb), []byte("/"), targetKey, []byte("/ref/"),
		segment(sourceTb), []byte("/"), segment(string(sourceKey)), segment(fieldPath),
	)
}

// ReferencePrefix scopes a scan to every reference pointing at the given
// target record.
func ReferencePrefix(ns, db, targetTb string, targetKey []byte) []byte {
	return join(TablePrefix(ns, db, targetTb), []byte("/"), targetKey, []byte("/ref/"))
}

// HNSWStateKey builds `/<ns>/<db>/<tb>/<ix>/hs`.
func HNSWStateKey(ns, db, tb, ix string) []byte {
	return join(TablePrefix(ns, db, tb), []byte("/"), segment(ix), []byte("/hs"))
}

// HNSWLayerElementKey builds the per-element neighbor-list key for a
// given layer (layer 0 is the base layer).
func HNSWLayerElementKey(ns, db, tb, ix string, layer int, elementID uint64) []byte {
	var layerBuf [4]byte
	binary.BigEndian.PutUint32(layerBuf[:], uint32(layer))
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], elementID)
	return join(
		TablePrefix(ns, db, tb), []byte("/"), segment(ix), []byte("/layer/"),
		layerBuf[:], []byte("/"), idBuf[:],
	)
}

// HNSWLayerPrefix scopes a scan to every node stored in one layer.
func HNSWLayerPrefix(ns, db, tb, ix string, layer int) []byte {
	var layerBuf [4]byte
	binary.BigEndian.PutUint32(layerBuf[:], uint32(layer))
	return join(TablePrefix(ns, db, tb), []byte("/"), segment(ix), []byte("/layer/"), layerBuf[:], []byte("/"))
}

// HNSWVectorKey builds the key for an element's stored vector bytes.
func HNSWVectorKey(ns, db, tb, ix string, elementID uint64) []byte {
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], elementID)
	return join(TablePrefix(ns, db, tb), []byte("/"), segment(ix), []byte("/vec/"), idBuf[:])
}

// HNSWDocKey maps an element id back to the record-id that owns it.
func HNSWDocKey(ns, db, tb, ix string, elementID uint64) []byte {
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], elementID)
	return join(TablePrefix(ns, db, tb), []byte("/"), segment(ix), []byte("/doc/"), idBuf[:])
}

// EncodeIntKey encodes an int64 record-id key part so that byte
// ordering matches numeric ordering (two's complement sign flip).
func EncodeIntKey(n int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n)^(1<<63))
	return buf[:]
}

// EncodeStringKey encodes a string record-id key part.
func EncodeStringKey(s string) []byte {
	return []byte(s)
}

// ExclusiveUpperBound appends 0x00 to key, the smallest strictly-greater
// key under byte ordering, used to encode an exclusive
// right bound or an inclusive-start-after bound.
func ExclusiveUpperBound(key []byte) []byte {
	out := make([]byte, len(key)+1)
	copy(out, key)
	return out
}

// PrefixUpperBound returns the smallest key strictly greater than every
// key sharing prefix, by incrementing the last non-0xFF byte. Used to
// bound a prefix scan's end key.
func PrefixUpperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix))
	copy(out, prefix)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	// All 0xFF: no finite upper bound; caller should treat as unbounded.
	return nil
}

// IndexKey builds a composite secondary-index entry key:
// `/<ns>/<db>/<tb>/ix/<ix>/<part>/.../<tb-key>`. The executor uses it
// (with no parts) as an HNSW index's per-record element-id slot; no
// UNIQUE or other non-HNSW index entries are written under it.
func IndexKey(ns, db, tb, ix string, parts [][]byte, tbKey []byte) []byte {
	b := join(TablePrefix(ns, db, tb), []byte("/ix/"), segment(ix), []byte("/"))
	for _, p := range parts {
		b = join(b, segment(string(p)))
	}
	return join(b, tbKey)
}

// IndexPrefix scopes a scan to every entry under one index, or under a
// partial-key prefix when parts is non-empty.
func IndexPrefix(ns, db, tb, ix string, parts [][]byte) []byte {
	b := join(TablePrefix(ns, db, tb), []byte("/ix/"), segment(ix), []byte("/"))
	for _, p := range parts {
		b = join(b, segment(string(p)))
	}
	return b
}

// FormatInt is a small helper kept here (rather than importing strconv
// at every call site across the iterator package) for building
// human-readable key diagnostics.
func FormatInt(n int64) string { return strconv.FormatInt(n, 10) }
