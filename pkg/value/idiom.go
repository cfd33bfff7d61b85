package value

import "strings"

// Idiom is a path expression identifying a nested field within a
// document, e.g. `a.b[*].c`. Each Part is either a field name,
// a wildcard array index (`[*]`), or a numeric array index.
type Idiom []Part

// PartKind distinguishes the three path segment shapes.
type PartKind int

const (
	PartField PartKind = iota
	PartWildcard
	PartIndex
)

type Part struct {
	Kind  PartKind
	Field string
	Index int
}

// ParseIdiom builds an Idiom from a simple dotted path with optional
// `[*]`/`[n]` array segments, e.g. "tags[*]" or "address.city".
func ParseIdiom(path string) Idiom {
	var idiom Idiom
	for _, seg := range strings.Split(path, ".") {
		for {
			open := strings.IndexByte(seg, '[')
			if open < 0 {
				if seg != "" {
					idiom = append(idiom, Part{Kind: PartField, Field: seg})
				}
				break
			}
			if open > 0 {
				idiom = append(idiom, Part{Kind: PartField, Field: seg[:open]})
			}
			close := strings.IndexByte(seg, ']')
			if close < 0 {
				break
			}
			inner := seg[open+1 : close]
			if inner == "*" {
				idiom = append(idiom, Part{Kind: PartWildcard})
			} else {
				n := 0
				neg := false
				for i, r := range inner {
					if i == 0 && r == '-' {
						neg = true
						continue
					}
					if r < '0' || r > '9' {
						n = -1
						break
					}
					n = n*10 + int(r-'0')
				}
				if neg {
					n = -n
				}
				idiom = append(idiom, Part{Kind: PartIndex, Index: n})
			}
			seg = seg[close+1:]
		}
	}
	return idiom
}

func (i Idiom) String() string {
	var sb strings.Builder
	for idx, p := range i {
		switch p.Kind {
		case PartField:
			if idx > 0 {
				sb.WriteByte('.')
			}
			sb.WriteString(p.Field)
		case PartWildcard:
			sb.WriteString("[*]")
		case PartIndex:
			sb.WriteString(bracketInt(p.Index))
		}
	}
	return sb.String()
}

func bracketInt(n int) string {
	if n < 0 {
		return "[-" + itoa(-n) + "]"
	}
	return "[" + itoa(n) + "]"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

// IsAncestorOf reports whether i is a strict prefix of other, i.e. i
// names a parent object of the field other identifies. Used by the
// schemafull cleanup pass to tolerate parent objects of
// defined fields.
func (i Idiom) IsAncestorOf(other Idiom) bool {
	if len(i) >= len(other) {
		return false
	}
	for idx := range i {
		if i[idx] != other[idx] {
			return false
		}
	}
	return true
}

// Equal reports exact path equality.
func (i Idiom) Equal(other Idiom) bool {
	if len(i) != len(other) {
		return false
	}
	for idx := range i {
		if i[idx] != other[idx] {
			return false
		}
	}
	return true
}

// Get navigates doc along the idiom, returning NONE if any segment is
// absent. Wildcard segments are only meaningful through GetAll.
func Get(doc Value, idiom Idiom) Value {
	cur := doc
	for _, p := range idiom {
		switch p.Kind {
		case PartField:
			if cur.Tag != TagObject {
				return None()
			}
			v, ok := cur.Object[p.Field]
			if !ok {
				return None()
			}
			cur = v
		case PartIndex:
			if cur.Tag != TagArray {
				return None()
			}
			idx := p.Index
			if idx < 0 {
				idx += len(cur.Array)
			}
			if idx < 0 || idx >= len(cur.Array) {
				return None()
			}
			cur = cur.Array[idx]
		case PartWildcard:
			return None()
		}
	}
	return cur
}

// Set writes val at idiom within doc, creating intermediate
// objects/arrays as needed, and returns the updated doc. A doc (or
// intermediate value) that is not the object or array a segment needs is
// replaced by a fresh empty one; an empty idiom returns val itself.
func Set(doc Value, idiom Idiom, val Value) Value {
	if len(idiom) == 0 {
		return val
	}
	return setRec(doc, idiom, val)
}

func setRec(cur Value, idiom Idiom, val Value) Value {
	p := idiom[0]
	rest := idiom[1:]
	switch p.Kind {
	case PartField:
		if cur.Tag != TagObject {
			cur = Obj(nil)
		}
		child := cur.Object[p.Field]
		if len(rest) == 0 {
			cur.Object[p.Field] = val
		} else {
			cur.Object[p.Field] = setRec(child, rest, val)
		}
		return cur
	case PartIndex, PartWildcard:
		if cur.Tag != TagArray {
			cur = Arr()
		}
		if p.Kind == PartWildcard {
			for i := range cur.Array {
				if len(rest) == 0 {
					cur.Array[i] = val
				} else {
					cur.Array[i] = setRec(cur.Array[i], rest, val)
				}
			}
			return cur
		}
		idx := p.Index
		if idx < 0 {
			idx += len(cur.Array)
		}
		for idx >= len(cur.Array) {
			cur.Array = append(cur.Array, None())
		}
		if idx < 0 {
			return cur
		}
		if len(rest) == 0 {
			cur.Array[idx] = val
		} else {
			cur.Array[idx] = setRec(cur.Array[idx], rest, val)
		}
		return cur
	}
	return cur
}

// Delete removes the field named at the end of idiom.
func Delete(doc Value, idiom Idiom) Value {
	if len(idiom) == 0 {
		return doc
	}
	parentPath, last := idiom[:len(idiom)-1], idiom[len(idiom)-1]
	if last.Kind != PartField {
		return doc
	}
	if len(parentPath) == 0 {
		if doc.Tag == TagObject {
			delete(doc.Object, last.Field)
		}
		return doc
	}
	parent := Get(doc, parentPath)
	if parent.Tag == TagObject {
		delete(parent.Object, last.Field)
	}
	return Set(doc, parentPath, parent)
}

// GetAll expands wildcard segments, returning every concrete Idiom that
// matches a present position in doc, alongside its resolved value.
func GetAll(doc Value, idiom Idiom) []struct {
	Path  Idiom
	Value Value
} {
	var out []struct {
		Path  Idiom
		Value Value
	}
	var walk func(cur Value, path Idiom, remain Idiom)
	walk = func(cur Value, path Idiom, remain Idiom) {
		if len(remain) == 0 {
			out = append(out, struct {
				Path  Idiom
				Value Value
			}{Path: append(Idiom{}, path...), Value: cur})
			return
		}
		p := remain[0]
		rest := remain[1:]
		switch p.Kind {
		case PartField:
			if cur.Tag != TagObject {
				return
			}
			v, ok := cur.Object[p.Field]
			if !ok {
				return
			}
			walk(v, append(path, p), rest)
		case PartIndex:
			if cur.Tag != TagArray {
				return
			}
			idx := p.Index
			if idx < 0 {
				idx += len(cur.Array)
			}
			if idx < 0 || idx >= len(cur.Array) {
				return
			}
			walk(cur.Array[idx], append(path, p), rest)
		case PartWildcard:
			if cur.Tag != TagArray {
				return
			}
			for i, e := range cur.Array {
				walk(e, append(path, Part{Kind: PartIndex, Index: i}), rest)
			}
		}
	}
	walk(doc, Idiom{}, idiom)
	return out
}

// AllPaths enumerates every concrete (non-wildcard) idiom present in doc,
// depth-first, used by the schemafull cleanup pass.
func AllPaths(doc Value) []Idiom {
	var out []Idiom
	var walk func(cur Value, path Idiom)
	walk = func(cur Value, path Idiom) {
		if len(path) > 0 {
			out = append(out, append(Idiom{}, path...))
		}
		switch cur.Tag {
		case TagObject:
			for _, k := range sortedKeys(cur.Object) {
				walk(cur.Object[k], append(path, Part{Kind: PartField, Field: k}))
			}
		case TagArray:
			for i, e := range cur.Array {
				walk(e, append(path, Part{Kind: PartIndex, Index: i}))
			}
		}
	}
	walk(doc, Idiom{})
	return out
}

// StripNone recursively removes NONE-valued keys from objects (not from
// arrays), the final step of the schemafull cleanup pass.
func StripNone(v Value) Value {
	switch v.Tag {
	case TagObject:
		for k, e := range v.Object {
			if e.IsNone() {
				delete(v.Object, k)
				continue
			}
			v.Object[k] = StripNone(e)
		}
	case TagArray:
		for i, e := range v.Array {
			v.Array[i] = StripNone(e)
		}
	}
	return v
}
