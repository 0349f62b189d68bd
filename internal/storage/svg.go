package storage

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/san-kum/ercrd/internal/optimizer"
)

// Series names a trajectory column: "t", "x<i>" or "u<i>".
type Series string

func (s Series) values(traj optimizer.Trajectory) ([]float64, error) {
	if s == "t" {
		return traj.Times, nil
	}
	if len(s) < 2 || (s[0] != 'x' && s[0] != 'u') {
		return nil, fmt.Errorf("unknown series %q", string(s))
	}
	idx, err := strconv.Atoi(string(s[1:]))
	if err != nil || idx < 0 {
		return nil, fmt.Errorf("unknown series %q", string(s))
	}

	column := func(row []float64) (float64, error) {
		if idx >= len(row) {
			return 0, fmt.Errorf("series %q out of range", string(s))
		}
		return row[idx], nil
	}
	var out []float64
	if s[0] == 'x' {
		for _, x := range traj.States {
			v, err := column(x)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	for _, u := range traj.Controls {
		v, err := column(u)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// WriteSVG draws y against x as a single path. Plotting a state against
// another state gives a phase portrait.
func WriteSVG(w io.Writer, traj optimizer.Trajectory, x, y Series, width, height int, stroke string) error {
	xs, err := x.values(traj)
	if err != nil {
		return err
	}
	ys, err := y.values(traj)
	if err != nil {
		return err
	}
	n := min(len(xs), len(ys))
	if n < 2 {
		return fmt.Errorf("need at least two points to draw, got %d", n)
	}

	minX, maxX := bounds(xs[:n])
	minY, maxY := bounds(ys[:n])
	rangeX := maxX - minX
	rangeY := maxY - minY

	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
<path fill="none" stroke="%s" stroke-width="1.5" d="`,
		width, height, width, height, stroke)

	move := true
	for i := 0; i < n; i++ {
		if !finite(xs[i]) || !finite(ys[i]) {
			move = true
			continue
		}
		px := (xs[i] - minX) / rangeX * float64(width)
		py := float64(height) - (ys[i]-minY)/rangeY*float64(height)
		if move {
			fmt.Fprintf(&sb, "M%.1f,%.1f", px, py)
			move = false
		} else {
			fmt.Fprintf(&sb, " L%.1f,%.1f", px, py)
		}
	}

	fmt.Fprintf(&sb, `"/>
<text x="8" y="16" fill="#888888" font-family="monospace" font-size="12">%s vs %s</text>
</svg>
`, y, x)
	_, err = io.WriteString(w, sb.String())
	return err
}

// bounds returns the finite extent of v padded by 10%.
func bounds(v []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, f := range v {
		if !finite(f) {
			continue
		}
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	if lo > hi {
		return 0, 1
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	return lo - span*0.1, hi + span*0.1
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
