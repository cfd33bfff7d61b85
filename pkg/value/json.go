package value

import "time"

// ToNative flattens a Value to plain Go data (map[string]any, []any,
// string, float64, bool, nil) suitable for encoding/json and the
// PATCH/JSON-patch path. Record-ids, UUIDs, datetimes, and decimals all
// serialize as their canonical string form, and ints as float64;
// FromNative brings those back as TagString/TagFloat, and Coerce (being
// strict) does not convert them back to their original Tag — only Cast
// does.
func ToNative(v Value) any {
	switch v.Tag {
	case TagNone, TagNull:
		return nil
	case TagBool:
		return v.Bool
	case TagInt:
		return float64(v.Int)
	case TagFloat:
		return v.Float
	case TagDecimal:
		return v.Decimal.String()
	case TagString:
		return v.Str
	case TagBytes:
		return string(v.Bytes)
	case TagDatetime:
		return v.Datetime.UTC().Format(time.RFC3339Nano)
	case TagDuration:
		return v.Duration.String()
	case TagUUID:
		return v.UUID.String()
	case TagRecordID:
		return v.RecordID.String()
	case TagArray:
		out := make([]any, len(v.Array))
		for i, e := range v.Array {
			out[i] = ToNative(e)
		}
		return out
	case TagObject:
		out := make(map[string]any, len(v.Object))
		for k, e := range v.Object {
			out[k] = ToNative(e)
		}
		return out
	default:
		return v.String()
	}
}

// FromNative lifts plain Go data decoded from JSON (map[string]any,
// []any, string, float64, bool, nil) back into a Value. Everything
// numeric becomes TagFloat (JSON has no integer type); Coerce to an int
// kind rejects it, while Cast narrows an integral float back to TagInt.
func FromNative(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Float(t)
	case string:
		return Str(t)
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = FromNative(e)
		}
		return Arr(out...)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = FromNative(e)
		}
		return Obj(out)
	default:
		return Null()
	}
}
