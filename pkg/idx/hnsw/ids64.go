package hnsw

import "github.com/RoaringBitmap/roaring/v2/roaring64"

// Ids64 is a size-specialized set of u64 doc ids: small
// neighbor/doc-id sets (the common case — HNSW's M is typically 8-32)
// stay as an inline array with no heap allocation or bitmap overhead;
// sets past the inline capacity fall back to a roaring64.Bitmap, the
// pack's large-set structure.
const inlineCap = 8

type Ids64 struct {
	n       int
	inline  [inlineCap]uint64
	bitmap  *roaring64.Bitmap
}

func NewIds64() *Ids64 { return &Ids64{} }

func Ids64Of(ids ...uint64) *Ids64 {
	s := NewIds64()
	for _, id := range ids {
		s.Insert(id)
	}
	return s
}

func (s *Ids64) Len() int {
	if s.bitmap != nil {
		return int(s.bitmap.GetCardinality())
	}
	return s.n
}

func (s *Ids64) Contains(id uint64) bool {
	if s.bitmap != nil {
		return s.bitmap.Contains(id)
	}
	for i := 0; i < s.n; i++ {
		if s.inline[i] == id {
			return true
		}
	}
	return false
}

// Insert mutates in place whenever possible, only promoting to the bitmap
// variant when the inline capacity is exceeded.
func (s *Ids64) Insert(id uint64) {
	if s.Contains(id) {
		return
	}
	if s.bitmap != nil {
		s.bitmap.Add(id)
		return
	}
	if s.n < inlineCap {
		s.inline[s.n] = id
		s.n++
		return
	}
	s.promote()
	s.bitmap.Add(id)
}

func (s *Ids64) promote() {
	b := roaring64.New()
	for i := 0; i < s.n; i++ {
		b.Add(s.inline[i])
	}
	s.bitmap = b
	s.n = 0
}

// Remove shrinks back down to the smallest variant that fits.
func (s *Ids64) Remove(id uint64) {
	if s.bitmap != nil {
		s.bitmap.Remove(id)
		if s.bitmap.GetCardinality() <= inlineCap {
			s.demote()
		}
		return
	}
	for i := 0; i < s.n; i++ {
		if s.inline[i] == id {
			s.inline[i] = s.inline[s.n-1]
			s.n--
			return
		}
	}
}

func (s *Ids64) demote() {
	ids := s.bitmap.ToArray()
	s.bitmap = nil
	s.n = 0
	for _, id := range ids {
		s.inline[s.n] = id
		s.n++
	}
}

func (s *Ids64) ToSlice() []uint64 {
	if s.bitmap != nil {
		return s.bitmap.ToArray()
	}
	out := make([]uint64, s.n)
	copy(out, s.inline[:s.n])
	return out
}
