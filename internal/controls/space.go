package controls

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
)

// ErrDuplicateName is returned when two ranges of a Space share a name.
var ErrDuplicateName = errors.New("duplicate control name")

// Space is an ordered collection of uniquely named ranges. Declaration order
// is the dimension order of the capture grid and of the library tree.
type Space struct {
	ranges []Range
	index  map[string]int
}

// NewSpace builds a Space from ranges, in the given order.
func NewSpace(ranges ...Range) (Space, error) {
	s := Space{
		ranges: make([]Range, 0, len(ranges)),
		index:  make(map[string]int, len(ranges)),
	}
	for _, r := range ranges {
		if r.Step <= 0 {
			return Space{}, fmt.Errorf("range %s: step must be positive, got %d", r.Name, r.Step)
		}
		if _, ok := s.index[r.Name]; ok {
			return Space{}, fmt.Errorf("%w: %s", ErrDuplicateName, r.Name)
		}
		s.index[r.Name] = len(s.ranges)
		s.ranges = append(s.ranges, r)
	}
	return s, nil
}

// Ranges returns a copy of the ranges in dimension order.
func (s Space) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Dims returns the number of dimensions.
func (s Space) Dims() int { return len(s.ranges) }

// Names returns the control names in dimension order.
func (s Space) Names() []string {
	names := make([]string, len(s.ranges))
	for i, r := range s.ranges {
		names[i] = r.Name
	}
	return names
}

// Index returns the dimension of the named control, or -1.
func (s Space) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Lookup returns the named range.
func (s Space) Lookup(name string) (Range, bool) {
	i, ok := s.index[name]
	if !ok {
		return Range{}, false
	}
	return s.ranges[i], true
}

// Count returns the number of grid points, the product of the range
// cardinalities. It saturates at math.MaxInt.
func (s Space) Count() int {
	if len(s.ranges) == 0 {
		return 0
	}
	total := 1
	for _, r := range s.ranges {
		n := r.Len()
		if n == 0 {
			return 0
		}
		if total > math.MaxInt/n {
			return math.MaxInt
		}
		total *= n
	}
	return total
}

// Point is one grid point, aligned with Space.Names.
type Point []int

// Map returns the point keyed by control name.
func (p Point) Map(s Space) map[string]int {
	m := make(map[string]int, len(p))
	for i, r := range s.ranges {
		if i < len(p) {
			m[r.Name] = p[i]
		}
	}
	return m
}

// Points returns a lazy sequence of every grid point in cartesian product
// order, the last range varying fastest. Each call restarts the enumeration.
// The yielded Point is freshly allocated and may be retained by the caller.
// A space with an empty range, or with no ranges, yields nothing.
func (s Space) Points() iter.Seq[Point] {
	return func(yield func(Point) bool) {
		if s.Count() == 0 {
			return
		}
		dims := len(s.ranges)
		idx := make([]int, dims)
		lens := make([]int, dims)
		for i, r := range s.ranges {
			lens[i] = r.Len()
		}
		for {
			p := make(Point, dims)
			for i, r := range s.ranges {
				p[i] = r.At(idx[i])
			}
			if !yield(p) {
				return
			}
			// Odometer increment from the last dimension.
			d := dims - 1
			for ; d >= 0; d-- {
				idx[d]++
				if idx[d] < lens[d] {
					break
				}
				idx[d] = 0
			}
			if d < 0 {
				return
			}
		}
	}
}

func (s Space) String() string {
	parts := make([]string, len(s.ranges))
	for i, r := range s.ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, " × ")
}

// MarshalJSON encodes the space as an ordered list of ranges.
func (s Space) MarshalJSON() ([]byte, error) {
	if s.ranges == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ranges)
}

// UnmarshalJSON decodes an ordered list of ranges and re-checks uniqueness.
func (s *Space) UnmarshalJSON(data []byte) error {
	var ranges []Range
	if err := json.Unmarshal(data, &ranges); err != nil {
		return err
	}
	parsed, err := NewSpace(ranges...)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
