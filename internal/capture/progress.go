package capture

import "time"

// Progress receives one call per captured frame: the exposure time the
// frame accounted for, the number of frames captured so far and the total
// expected. It is informational only.
type Progress interface {
	Advance(elapsed time.Duration, current, total int)
}

// NopProgress discards progress.
type NopProgress struct{}

// Advance implements Progress.
func (NopProgress) Advance(time.Duration, int, int) {}

// Multi fans progress out to several sinks.
type Multi []Progress

// Advance implements Progress.
func (m Multi) Advance(elapsed time.Duration, current, total int) {
	for _, p := range m {
		if p != nil {
			p.Advance(elapsed, current, total)
		}
	}
}
