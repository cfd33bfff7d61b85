package doc

import (
	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/value"
)

var builtinFields = map[string]bool{"id": true, "in": true, "out": true}

// cleanup implements the schemafull cleanup pass described after step 7 of:
// strip any present field not covered by the table's schema (unless the
// table is schemaless), then recursively drop NONE values from objects.
func cleanup(tbl *catalog.TableDef, current value.Value) value.Value {
	if tbl.Schemafull {
		fields := tbl.Fields()
		for _, path := range value.AllPaths(current) {
			if fieldAllowed(path, fields) {
				continue
			}
			current = value.Delete(current, path)
		}
	}
	return value.StripNone(current)
}

func fieldAllowed(path value.Idiom, fields []*catalog.FieldDef) bool {
	if len(path) == 1 && path[0].Kind == value.PartField && builtinFields[path[0].Field] {
		return true
	}
	for _, f := range fields {
		if matchesPattern(f.Path, path) {
			return true
		}
		if isPrefixPattern(f.Path, path) && f.IsAnyTyped() {
			return true
		}
		if isPrefixPattern(path, f.Path) {
			return true // path is a necessary parent object of a defined field
		}
	}
	return false
}

// matchesPattern reports whether path (concrete, from value.AllPaths)
// matches pattern exactly, treating a PartWildcard segment in pattern as
// matching any concrete array index in path.
func matchesPattern(pattern, path value.Idiom) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i := range pattern {
		if !segmentMatches(pattern[i], path[i]) {
			return false
		}
	}
	return true
}

// isPrefixPattern reports whether pattern is a strict prefix of path
// under the same wildcard-matches-index rule.
func isPrefixPattern(pattern, path value.Idiom) bool {
	if len(pattern) >= len(path) {
		return false
	}
	for i := range pattern {
		if !segmentMatches(pattern[i], path[i]) {
			return false
		}
	}
	return true
}

func segmentMatches(pattern, seg value.Part) bool {
	switch pattern.Kind {
	case value.PartField:
		return seg.Kind == value.PartField && seg.Field == pattern.Field
	case value.PartWildcard:
		return seg.Kind == value.PartIndex
	case value.PartIndex:
		return seg.Kind == value.PartIndex && seg.Index == pattern.Index
	}
	return false
}
