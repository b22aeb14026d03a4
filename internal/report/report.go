// Package report summarises a library: per-entry dark level statistics and
// plots of the mean level against one swept control.
package report

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/darkframes/internal/controls"
	"github.com/banshee-data/darkframes/internal/library"
)

// Stat holds the statistics of one stored frame.
type Stat struct {
	Achieved map[string]int
	Mean     float64
	StdDev   float64
	Min      float64
	Max      float64
}

// Collect computes the statistics of every entry of lib, in capture order.
func Collect(lib *library.Library) ([]Stat, error) {
	var stats []Stat
	err := lib.Walk(func(e library.Entry) error {
		s := Stat{Achieved: e.Achieved}
		if len(e.Frame.Pix) > 0 {
			s.Mean, s.StdDev = stat.MeanStdDev(e.Frame.Pix, nil)
			s.Min = floats.Min(e.Frame.Pix)
			s.Max = floats.Max(e.Frame.Pix)
		}
		stats = append(stats, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read library: %w", err)
	}
	return stats, nil
}

// Point is one (control value, mean level) sample of a Series.
type Point struct {
	X    int
	Mean float64
}

// Series is the mean level against one control with every other control
// held at the values named by Label.
type Series struct {
	Label  string
	Points []Point
}

// SeriesAlong groups stats by the values of every control except dim and
// returns one series per group, ordered by label, each sorted by x.
func SeriesAlong(stats []Stat, space controls.Space, dim string) ([]Series, error) {
	if space.Index(dim) < 0 {
		return nil, fmt.Errorf("unknown control %q (supported: %s)", dim, strings.Join(space.Names(), ", "))
	}
	groups := make(map[string][]Point)
	for _, s := range stats {
		var parts []string
		for _, name := range space.Names() {
			if name != dim {
				parts = append(parts, fmt.Sprintf("%s=%d", name, s.Achieved[name]))
			}
		}
		label := strings.Join(parts, " ")
		if label == "" {
			label = dim
		}
		groups[label] = append(groups[label], Point{X: s.Achieved[dim], Mean: s.Mean})
	}

	series := make([]Series, 0, len(groups))
	for _, label := range slices.Sorted(maps.Keys(groups)) {
		pts := groups[label]
		slices.SortStableFunc(pts, func(a, b Point) int { return a.X - b.X })
		series = append(series, Series{Label: label, Points: pts})
	}
	return series, nil
}

// Xs returns the sorted distinct x values over all series.
func Xs(series []Series) []int {
	var xs []int
	for _, s := range series {
		for _, p := range s.Points {
			xs = append(xs, p.X)
		}
	}
	slices.Sort(xs)
	return slices.Compact(xs)
}
