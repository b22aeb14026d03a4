// Package controls describes the swept dimensions of a capture library: the
// per-control ranges, the ordered parameter space they form, and the lazy
// enumeration of every grid point in that space.
package controls

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Range describes one controllable dimension: inclusive bounds, step, and
// the tolerance and timeout used when settling the device on a value.
// A Range is not modified after construction.
type Range struct {
	Name      string
	Min       int
	Max       int
	Step      int
	Threshold int
	Timeout   time.Duration
}

// DefaultTimeout is the settle timeout used when none is given.
const DefaultTimeout = 100 * time.Millisecond

// NewRange validates and returns a Range. Step must be positive and the
// threshold and timeout non-negative. min > max is accepted and yields an
// empty range.
func NewRange(name string, min, max, step, threshold int, timeout time.Duration) (Range, error) {
	if strings.TrimSpace(name) == "" {
		return Range{}, fmt.Errorf("range name must not be empty")
	}
	if step <= 0 {
		return Range{}, fmt.Errorf("range %s: step must be positive, got %d", name, step)
	}
	if threshold < 0 {
		return Range{}, fmt.Errorf("range %s: threshold must be non-negative, got %d", name, threshold)
	}
	if timeout < 0 {
		return Range{}, fmt.Errorf("range %s: timeout must be non-negative, got %s", name, timeout)
	}
	return Range{
		Name:      name,
		Min:       min,
		Max:       max,
		Step:      step,
		Threshold: threshold,
		Timeout:   timeout,
	}, nil
}

// Len returns the number of values in the range.
func (r Range) Len() int {
	if r.Step <= 0 || r.Min > r.Max {
		return 0
	}
	return (r.Max-r.Min)/r.Step + 1
}

// Values returns min, min+step, ... up to and including the last value <= max.
// Returns an empty slice if min > max.
func (r Range) Values() []int {
	n := r.Len()
	if n == 0 {
		return nil
	}
	result := make([]int, 0, n)
	for i := 0; i < n; i++ {
		result = append(result, r.Min+i*r.Step)
	}
	return result
}

// At returns the i-th value of the range without materialising it.
func (r Range) At(i int) int {
	return r.Min + i*r.Step
}

func (r Range) String() string {
	return fmt.Sprintf("%s[%d:%d:%d ±%d %s]", r.Name, r.Min, r.Max, r.Step, r.Threshold, r.Timeout)
}

// rangeJSON is the persisted form of a Range. Timeout is kept in seconds so
// the header stays readable outside Go.
type rangeJSON struct {
	Name      string  `json:"name"`
	Min       int     `json:"min"`
	Max       int     `json:"max"`
	Step      int     `json:"step"`
	Threshold int     `json:"threshold"`
	Timeout   float64 `json:"timeout"`
}

// MarshalJSON implements json.Marshaler.
func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal(rangeJSON{
		Name:      r.Name,
		Min:       r.Min,
		Max:       r.Max,
		Step:      r.Step,
		Threshold: r.Threshold,
		Timeout:   r.Timeout.Seconds(),
	})
}

// UnmarshalJSON implements json.Unmarshaler and re-validates the range.
func (r *Range) UnmarshalJSON(data []byte) error {
	var raw rangeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	timeout := time.Duration(raw.Timeout * float64(time.Second))
	parsed, err := NewRange(raw.Name, raw.Min, raw.Max, raw.Step, raw.Threshold, timeout)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRangeSpec parses a "min:max:step" string into a Range named name,
// using threshold 0 and DefaultTimeout.
func ParseRangeSpec(name, s string) (Range, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Range{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}

	min, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Range{}, fmt.Errorf("invalid min value %q: %w", parts[0], err)
	}

	max, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Range{}, fmt.Errorf("invalid max value %q: %w", parts[1], err)
	}

	step, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return Range{}, fmt.Errorf("invalid step value %q: %w", parts[2], err)
	}

	return NewRange(name, min, max, step, 0, DefaultTimeout)
}
