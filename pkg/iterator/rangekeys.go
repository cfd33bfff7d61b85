package iterator

import (
	"github.com/cuemby/nexus/pkg/keys"
	"github.com/cuemby/nexus/pkg/value"
)

// encodeKeyPart encodes a record-id key component to bytes that sort in
// the same order as the logical value.
func encodeKeyPart(v value.Value) []byte {
	switch v.Tag {
	case value.TagInt:
		return keys.EncodeIntKey(v.Int)
	case value.TagUUID:
		b := v.UUID
		return append([]byte(nil), b[:]...)
	default:
		return keys.EncodeStringKey(v.String())
	}
}

// rangeBounds turns a value.Range over record-id keys into [begin, end)
// byte bounds within table, honoring inclusive/exclusive/unbounded
// endpoints. An exclusive-left bound is encoded
// by appending 0x00 to push past the begin key; an inclusive-right
// bound is encoded the same way on the end key.
func rangeBounds(ns, db, table string, r *value.Range) (begin, end []byte) {
	prefix := keys.TablePrefix(ns, db, table)
	if r == nil || r.Begin == nil {
		begin = append(prefix, '/')
	} else {
		begin = keys.RecordKey(ns, db, table, encodeKeyPart(*r.Begin))
		if r.BeginExcl {
			begin = keys.ExclusiveUpperBound(begin)
		}
	}
	if r == nil || r.End == nil {
		end = keys.PrefixUpperBound(prefix)
	} else {
		end = keys.RecordKey(ns, db, table, encodeKeyPart(*r.End))
		if !r.EndExcl {
			end = keys.ExclusiveUpperBound(end)
		}
	}
	return begin, end
}

// tableBounds is Range with fully unbounded endpoints.
func tableBounds(ns, db, table string) (begin, end []byte) {
	return rangeBounds(ns, db, table, nil)
}

// keyPartString recovers the string form of the bytes following a
// table's record prefix (the inverse of keys.EncodeStringKey). It is the
// fallback for keys-only scans and for documents whose decoded value has
// no usable `id` field; otherwise the record id comes from that field.
func keyPartString(key []byte, prefixLen int) string {
	if prefixLen >= len(key) {
		return ""
	}
	return string(key[prefixLen:])
}
