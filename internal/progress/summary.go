package progress

import (
	"fmt"
	"sort"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/ercrd/internal/optimizer"
)

func statusStyle(s optimizer.Status) string {
	switch s {
	case optimizer.StatusConverged:
		return good.Render(s.String())
	case optimizer.StatusMaxIterations, optimizer.StatusCancelled:
		return warning.Render(s.String())
	}
	return bad.Render(s.String())
}

// Summary formats a finished solve with its diagnostics.
func Summary(problem string, res *optimizer.Result, metrics map[string]float64) string {
	var s strings.Builder
	row := func(name, v string) {
		s.WriteString(label.Render(name) + v + "\n")
	}

	s.WriteString(title.Render("ercrd · "+problem) + "\n\n")
	row("status", statusStyle(res.Status())+" ("+string(res.Reason())+")")
	row("iterations", value.Render(fmt.Sprintf("%d", res.Iterations())))
	row("cost", value.Render(fmt.Sprintf("%.6g", res.Cost())))

	t := res.Terms()
	row("  efficiency", fmt.Sprintf("%.4g", t.Efficiency))
	row("  adaptability", fmt.Sprintf("%.4g", t.Adaptability))
	row("  collective", fmt.Sprintf("%.4g", t.Collective))
	row("  control", fmt.Sprintf("%.4g", t.Control))
	if res.Penalty() > 0 {
		row("  penalty", fmt.Sprintf("%.4g", res.Penalty()))
	}
	row("steps", fmt.Sprintf("%d", res.Trajectory().Len()))
	if v := res.FirstViolation(); v >= 0 {
		row("violation", bad.Render(fmt.Sprintf("%.3g from step %d", res.MaxViolation(), v)))
	}
	row("elapsed", res.Elapsed().String())

	if len(metrics) > 0 {
		names := make([]string, 0, len(metrics))
		for name := range metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		s.WriteString("\n")
		for _, name := range names {
			row(name, fmt.Sprintf("%.4g", metrics[name]))
		}
	}

	if h := res.History(); len(h) > 1 {
		chart := asciigraph.Plot(h, asciigraph.Height(5), asciigraph.Width(50), asciigraph.Caption("cost per iteration"))
		s.WriteString("\n" + graphStyle.Render(chart) + "\n")
	}
	for _, w := range res.Warnings() {
		s.WriteString(warning.Render("! ") + w + "\n")
	}
	return panel.Render(s.String())
}
