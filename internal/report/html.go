package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteHTML renders the series as an interactive line chart.
func WriteHTML(w io.Writer, title, dim string, series []Series) error {
	xs := Xs(series)
	labels := make([]string, len(xs))
	index := make(map[int]int, len(xs))
	for i, x := range xs {
		labels[i] = strconv.Itoa(x)
		index[x] = i
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("mean dark level vs %s, %d series", dim, len(series))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Type: "scroll", Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: dim, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Mean level", Scale: opts.Bool(true)}),
	)
	line.SetXAxis(labels)
	for _, s := range series {
		data := make([]opts.LineData, len(xs))
		for i := range data {
			data[i] = opts.LineData{Value: nil}
		}
		for _, pt := range s.Points {
			data[index[pt.X]] = opts.LineData{Value: pt.Mean}
		}
		line.AddSeries(s.Label, data)
	}
	return line.Render(w)
}
