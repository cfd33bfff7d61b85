package doc

import (
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/value"
)

// diffReferences implements REFERENCE maintenance: for each
// REFERENCE-declared field, diff the
// record-ids present in initial against current and emit the set/delete
// writes the caller applies under `ref::(...)`. Array references use the
// field's own `[*]` sub-path so each element is diffed independently; the
// caller's key already folds the concrete array index into FieldPath via
// the idiom string.
func diffReferences(tbl *catalog.TableDef, initial, current value.Value) []ReferenceChange {
	sourceKey := ownKey(current)
	if sourceKey.IsNone() {
		sourceKey = ownKey(initial)
	}

	var out []ReferenceChange
	for _, f := range tbl.Fields() {
		if !f.Reference {
			continue
		}
		oldIDs := referencedIDs(initial, f.Path)
		newIDs := referencedIDs(current, f.Path)

		for k, rid := range oldIDs {
			if _, ok := newIDs[k]; !ok {
				out = append(out, ReferenceChange{
					Delete: true, TargetTb: rid.Table, TargetKey: rid.Key,
					SourceTb: tbl.Name, SourceKey: sourceKey, FieldPath: f.Path.String(),
				})
			}
		}
		for k, rid := range newIDs {
			if _, ok := oldIDs[k]; !ok {
				out = append(out, ReferenceChange{
					Delete: false, TargetTb: rid.Table, TargetKey: rid.Key,
					SourceTb: tbl.Name, SourceKey: sourceKey, FieldPath: f.Path.String(),
				})
			}
		}
	}
	return out
}

func ownKey(doc value.Value) value.Value {
	id := value.Get(doc, value.ParseIdiom("id"))
	if id.Tag != value.TagRecordID {
		return value.None()
	}
	return id.RecordID.Key
}

// referencedIDs collects every RecordID present at path (expanding
// wildcards), keyed by its string form for set membership.
func referencedIDs(doc value.Value, path value.Idiom) map[string]value.RecordID {
	out := map[string]value.RecordID{}
	for _, m := range value.GetAll(doc, path) {
		collectRecordIDs(m.Value, out)
	}
	return out
}

func collectRecordIDs(v value.Value, out map[string]value.RecordID) {
	switch v.Tag {
	case value.TagRecordID:
		out[v.RecordID.String()] = *v.RecordID
	case value.TagArray:
		for _, e := range v.Array {
			collectRecordIDs(e, out)
		}
	}
}
