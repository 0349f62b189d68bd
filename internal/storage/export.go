package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/san-kum/ercrd/internal/dynamo"
	"github.com/san-kum/ercrd/internal/optimizer"
)

// Float encodes NaN and ±Inf as JSON null and decodes null as NaN.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

func floatMap(m map[string]float64) map[string]Float {
	if m == nil {
		return nil
	}
	out := make(map[string]Float, len(m))
	for k, v := range m {
		out[k] = Float(v)
	}
	return out
}

func floatSlice(v []float64) []Float {
	out := make([]Float, len(v))
	for i, x := range v {
		out[i] = Float(x)
	}
	return out
}

// ExportData is the JSON export of a run.
type ExportData struct {
	ID             string           `json:"id"`
	Problem        string           `json:"problem"`
	Timestamp      time.Time        `json:"timestamp"`
	Status         optimizer.Status `json:"status"`
	Reason         optimizer.Reason `json:"reason"`
	Cost           Float            `json:"cost"`
	Penalty        Float            `json:"penalty"`
	Iterations     int              `json:"iterations"`
	GradientNorm   Float            `json:"gradient_norm"`
	FirstViolation int              `json:"first_violation"`
	History        []Float          `json:"history"`
	Warnings       []string         `json:"warnings,omitempty"`
	Config         optimizer.Config `json:"config"`
	Steps          int              `json:"steps"`
	Times          []float64        `json:"times"`
	States         [][]float64      `json:"states"`
	Controls       [][]float64      `json:"controls"`
	Metrics        map[string]Float `json:"metrics,omitempty"`
}

func NewExportData(rec *Record) ExportData {
	sum := rec.Summary
	data := ExportData{
		ID:             rec.ID,
		Problem:        rec.Problem,
		Timestamp:      rec.Timestamp,
		Status:         sum.Status,
		Reason:         sum.Reason,
		Cost:           Float(sum.Cost),
		Penalty:        Float(sum.Penalty),
		Iterations:     sum.Iterations,
		GradientNorm:   Float(sum.GradientNorm),
		FirstViolation: sum.FirstViolation,
		History:        floatSlice(sum.History),
		Warnings:       sum.Warnings,
		Config:         sum.Config,
		Steps:          rec.Trajectory.Len(),
		Times:          rec.Trajectory.Times,
		States:         make([][]float64, len(rec.Trajectory.States)),
		Controls:       make([][]float64, len(rec.Trajectory.Controls)),
		Metrics:        floatMap(rec.Metrics),
	}
	for i, s := range rec.Trajectory.States {
		data.States[i] = s
	}
	for i, c := range rec.Trajectory.Controls {
		data.Controls[i] = c
	}
	return data
}

// ExportJSON writes the record as indented JSON.
func ExportJSON(w io.Writer, rec *Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewExportData(rec))
}

// WriteCSV writes one row per time point: t, x_0 … x_{n-1}, u_0 … u_{m-1}.
// The terminal row has empty control cells.
func WriteCSV(w io.Writer, traj optimizer.Trajectory) error {
	cw := csv.NewWriter(w)
	if len(traj.States) == 0 {
		cw.Flush()
		return cw.Error()
	}

	n := len(traj.States[0])
	m := 0
	if len(traj.Controls) > 0 {
		m = len(traj.Controls[0])
	}
	header := []string{"time"}
	for i := 0; i < n; i++ {
		header = append(header, fmt.Sprintf("x%d", i))
	}
	for i := 0; i < m; i++ {
		header = append(header, fmt.Sprintf("u%d", i))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for k, x := range traj.States {
		row := []string{strconv.FormatFloat(traj.Times[k], 'g', -1, 64)}
		for _, v := range x {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		for i := 0; i < m; i++ {
			if k < len(traj.Controls) {
				row = append(row, strconv.FormatFloat(traj.Controls[k][i], 'g', -1, 64))
			} else {
				row = append(row, "")
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses the format written by WriteCSV.
func ReadCSV(r io.Reader) (optimizer.Trajectory, error) {
	var traj optimizer.Trajectory
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return traj, err
	}
	if len(records) < 2 {
		return traj, nil
	}

	n := 0
	for _, h := range records[0][1:] {
		if len(h) > 0 && h[0] == 'x' {
			n++
		}
	}
	for k, rec := range records[1:] {
		vals := make([]float64, len(rec))
		present := make([]bool, len(rec))
		for i, f := range rec {
			if f == "" {
				continue
			}
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return traj, fmt.Errorf("row %d column %d: %w", k+1, i, err)
			}
			vals[i], present[i] = v, true
		}
		traj.Times = append(traj.Times, vals[0])
		traj.States = append(traj.States, dynamo.State(vals[1 : 1+n : 1+n]))
		if len(vals) > 1+n && present[1+n] {
			traj.Controls = append(traj.Controls, dynamo.Control(vals[1+n:]))
		}
	}
	return traj, nil
}
