package view

import (
	"math"

	"github.com/cuemby/nexus/pkg/catalog"
	"github.com/cuemby/nexus/pkg/value"
)

// Stat is one running aggregation, one per
// AggregationAnalysis.Aggregations entry: a small set of concrete types
// behind one interface, switched on by kind rather than reflection.
type Stat interface {
	// Apply folds one document's before/after argument value into the
	// running state for action, reporting whether the caller must
	// recalculate this stat from scratch (only NumberMin/Max/TimeMin/Max
	// report true, and only when the extreme they held is no longer
	// known to be correct).
	Apply(oldArg, newArg value.Value, action Action) (needsRecalc bool)

	// Recalculate replaces the running state from a freshly recomputed
	// raw value (the result of the synthetic GROUP ALL query).
	Recalculate(raw value.Value)

	// Output is the stat's current externally-visible value.
	Output() value.Value

	// Encode/Decode (de)serialize the running state to/from the view
	// record's metadata object so it survives across transactions.
	Encode() value.Value
	Decode(value.Value)
}

// NewStat constructs the zero-valued running state for kind.
func NewStat(kind catalog.AggregationKind) Stat {
	switch kind {
	case catalog.AggCount:
		return &countStat{}
	case catalog.AggCountValue:
		return &countValueStat{}
	case catalog.AggSum:
		return &sumStat{}
	case catalog.AggMean:
		return &sumStat{mean: true}
	case catalog.AggNumberMin:
		return &extremeStat{max: false}
	case catalog.AggNumberMax:
		return &extremeStat{max: true}
	case catalog.AggTimeMin:
		return &extremeStat{max: false, isTime: true}
	case catalog.AggTimeMax:
		return &extremeStat{max: true, isTime: true}
	case catalog.AggVariance:
		return &varianceStat{}
	case catalog.AggStdDev:
		return &varianceStat{stddev: true}
	}
	return &countStat{}
}

type countStat struct{ n int64 }

func (s *countStat) Apply(oldArg, newArg value.Value, action Action) bool {
	switch action {
	case ActionCreate:
		s.n++
	case ActionDelete:
		s.n--
	}
	return false
}
func (s *countStat) Recalculate(raw value.Value) { s.n = raw.Int }
func (s *countStat) Output() value.Value         { return value.Int(s.n) }
func (s *countStat) Encode() value.Value         { return value.Obj(map[string]value.Value{"count": value.Int(s.n)}) }
func (s *countStat) Decode(v value.Value)        { s.n = value.Get(v, value.ParseIdiom("count")).Int }

type countValueStat struct{ n int64 }

func (s *countValueStat) Apply(oldArg, newArg value.Value, action Action) bool {
	switch action {
	case ActionCreate:
		if newArg.Truthy() {
			s.n++
		}
	case ActionDelete:
		if oldArg.Truthy() {
			s.n--
		}
	case ActionUpdate:
		if oldArg.Truthy() {
			s.n--
		}
		if newArg.Truthy() {
			s.n++
		}
	}
	return false
}
func (s *countValueStat) Recalculate(raw value.Value) { s.n = raw.Int }
func (s *countValueStat) Output() value.Value         { return value.Int(s.n) }
func (s *countValueStat) Encode() value.Value {
	return value.Obj(map[string]value.Value{"count": value.Int(s.n)})
}
func (s *countValueStat) Decode(v value.Value) { s.n = value.Get(v, value.ParseIdiom("count")).Int }

type sumStat struct {
	mean  bool
	sum   float64
	count int64
}

func asFloat(v value.Value) float64 {
	switch v.Tag {
	case value.TagInt:
		return float64(v.Int)
	case value.TagFloat:
		return v.Float
	}
	return 0
}

func (s *sumStat) Apply(oldArg, newArg value.Value, action Action) bool {
	switch action {
	case ActionCreate:
		s.sum += asFloat(newArg)
		s.count++
	case ActionDelete:
		s.sum -= asFloat(oldArg)
		s.count--
	case ActionUpdate:
		s.sum += asFloat(newArg) - asFloat(oldArg)
	}
	return false
}
func (s *sumStat) Recalculate(raw value.Value) {
	s.sum = asFloat(value.Get(raw, value.ParseIdiom("sum")))
	s.count = value.Get(raw, value.ParseIdiom("count")).Int
}
func (s *sumStat) Output() value.Value {
	if s.mean {
		if s.count == 0 {
			return value.Int(0)
		}
		return value.Float(s.sum / float64(s.count))
	}
	return value.Float(s.sum)
}
func (s *sumStat) Encode() value.Value {
	return value.Obj(map[string]value.Value{"sum": value.Float(s.sum), "count": value.Int(s.count)})
}
func (s *sumStat) Decode(v value.Value) {
	s.sum = asFloat(value.Get(v, value.ParseIdiom("sum")))
	s.count = value.Get(v, value.ParseIdiom("count")).Int
}

// extremeStat tracks NumberMin/Max/TimeMin/Max. Holding the current
// extreme exactly is cheap to maintain incrementally on Create/Update,
// but an in-place Delete/Update-away-from-extreme can't recover the new
// extreme without rescanning, so Apply reports needsRecalc in that case.
type extremeStat struct {
	max     bool
	isTime  bool
	valid   bool
	extreme value.Value
}

func (s *extremeStat) better(a, b value.Value) bool {
	c := value.Compare(a, b)
	if s.max {
		return c > 0
	}
	return c < 0
}

func (s *extremeStat) Apply(oldArg, newArg value.Value, action Action) bool {
	switch action {
	case ActionCreate:
		if !s.valid || s.better(newArg, s.extreme) {
			s.extreme, s.valid = newArg, true
		}
	case ActionDelete:
		if s.valid && value.Equal(oldArg, s.extreme) {
			return true
		}
	case ActionUpdate:
		if !s.valid || s.better(newArg, s.extreme) {
			s.extreme, s.valid = newArg, true
		} else if value.Equal(oldArg, s.extreme) {
			return true
		}
	}
	return false
}
func (s *extremeStat) Recalculate(raw value.Value) {
	s.extreme = raw
	s.valid = !raw.IsNone()
}
func (s *extremeStat) Output() value.Value {
	if !s.valid {
		return value.None()
	}
	return s.extreme
}
func (s *extremeStat) Encode() value.Value {
	return value.Obj(map[string]value.Value{"extreme": s.extreme, "valid": value.Bool(s.valid)})
}
func (s *extremeStat) Decode(v value.Value) {
	s.extreme = value.Get(v, value.ParseIdiom("extreme"))
	s.valid = value.Get(v, value.ParseIdiom("valid")).Truthy()
}

// varianceStat maintains sum and sum-of-squares, giving a closed-form
// population variance/stddev that never needs recalculation on delete.
type varianceStat struct {
	stddev bool
	sum    float64
	sumSq  float64
	count  int64
}

func (s *varianceStat) Apply(oldArg, newArg value.Value, action Action) bool {
	switch action {
	case ActionCreate:
		n := asFloat(newArg)
		s.sum += n
		s.sumSq += n * n
		s.count++
	case ActionDelete:
		o := asFloat(oldArg)
		s.sum -= o
		s.sumSq -= o * o
		s.count--
	case ActionUpdate:
		o, n := asFloat(oldArg), asFloat(newArg)
		s.sum += n - o
		s.sumSq += n*n - o*o
	}
	return false
}
func (s *varianceStat) Recalculate(raw value.Value) {
	s.sum = asFloat(value.Get(raw, value.ParseIdiom("sum")))
	s.sumSq = asFloat(value.Get(raw, value.ParseIdiom("sum_sq")))
	s.count = value.Get(raw, value.ParseIdiom("count")).Int
}
func (s *varianceStat) variance() float64 {
	if s.count == 0 {
		return 0
	}
	mean := s.sum / float64(s.count)
	return s.sumSq/float64(s.count) - mean*mean
}
func (s *varianceStat) Output() value.Value {
	v := s.variance()
	if s.stddev {
		v = math.Sqrt(math.Max(v, 0))
	}
	return value.Float(v)
}
func (s *varianceStat) Encode() value.Value {
	return value.Obj(map[string]value.Value{
		"sum": value.Float(s.sum), "sum_sq": value.Float(s.sumSq), "count": value.Int(s.count),
	})
}
func (s *varianceStat) Decode(v value.Value) {
	s.sum = asFloat(value.Get(v, value.ParseIdiom("sum")))
	s.sumSq = asFloat(value.Get(v, value.ParseIdiom("sum_sq")))
	s.count = value.Get(v, value.ParseIdiom("count")).Int
}
