// Package storage persists solver runs on disk. Each run gets a directory
// named by its UUID holding metadata.json, trajectory.csv and result.msgpack.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/san-kum/ercrd/internal/config"
	"github.com/san-kum/ercrd/internal/logging"
	"github.com/san-kum/ercrd/internal/optimizer"
)

const (
	metadataFile   = "metadata.json"
	trajectoryFile = "trajectory.csv"
	resultFile     = "result.msgpack"
)

var ErrAmbiguousRun = errors.New("run prefix matches more than one run")

type Store struct {
	baseDir string
	log     zerolog.Logger
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, log: logging.New("storage")}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// RunMetadata is the human readable summary in metadata.json.
type RunMetadata struct {
	ID             string           `json:"id"`
	Problem        string           `json:"problem"`
	Timestamp      time.Time        `json:"timestamp"`
	Status         optimizer.Status `json:"status"`
	Reason         optimizer.Reason `json:"reason"`
	Cost           Float            `json:"cost"`
	Iterations     int              `json:"iterations"`
	GradientNorm   Float            `json:"gradient_norm"`
	FirstViolation int              `json:"first_violation"`
	MaxViolation   Float            `json:"max_violation"`
	Elapsed        time.Duration    `json:"elapsed"`
	Warnings       []string         `json:"warnings,omitempty"`
	Metrics        map[string]Float `json:"metrics,omitempty"`
	Config         *config.Config   `json:"config"`
}

// Record is the full run in result.msgpack.
type Record struct {
	ID         string               `msgpack:"id"`
	Problem    string               `msgpack:"problem"`
	Timestamp  time.Time            `msgpack:"timestamp"`
	Summary    optimizer.Summary    `msgpack:"summary"`
	Trajectory optimizer.Trajectory `msgpack:"trajectory"`
	Metrics    map[string]float64   `msgpack:"metrics"`
}

// Save writes a finished run and returns its ID.
func (s *Store) Save(cfg *config.Config, res *optimizer.Result, metrics map[string]float64) (string, error) {
	id := uuid.NewString()
	runDir := filepath.Join(s.baseDir, id)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	sum := res.Summary()
	meta := RunMetadata{
		ID:             id,
		Problem:        cfg.Problem,
		Timestamp:      now,
		Status:         sum.Status,
		Reason:         sum.Reason,
		Cost:           Float(sum.Cost),
		Iterations:     sum.Iterations,
		GradientNorm:   Float(sum.GradientNorm),
		FirstViolation: sum.FirstViolation,
		MaxViolation:   Float(sum.MaxViolation),
		Elapsed:        sum.Elapsed,
		Warnings:       sum.Warnings,
		Metrics:        floatMap(metrics),
		Config:         cfg,
	}
	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}

	traj := res.Trajectory()
	if err := writeFile(filepath.Join(runDir, trajectoryFile), func(f *os.File) error {
		return WriteCSV(f, traj)
	}); err != nil {
		return "", err
	}

	rec := Record{
		ID:         id,
		Problem:    cfg.Problem,
		Timestamp:  now,
		Summary:    sum,
		Trajectory: traj,
		Metrics:    metrics,
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, resultFile), data, 0644); err != nil {
		return "", err
	}

	s.log.Debug().Str("run", id).Str("dir", runDir).Msg("run saved")
	return id, nil
}

// List returns every readable run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.readMetadata(entry.Name())
		if err != nil {
			s.log.Debug().Err(err).Str("dir", entry.Name()).Msg("skipping unreadable run")
			continue
		}
		runs = append(runs, *meta)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

// Resolve expands a unique ID prefix to the full run ID.
func (s *Store) Resolve(prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("empty run id: %w", os.ErrNotExist)
	}
	if _, err := os.Stat(filepath.Join(s.baseDir, prefix, metadataFile)); err == nil {
		return prefix, nil
	}
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("run %s: %w", prefix, err)
	}
	var match string
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("run %s: %w", prefix, ErrAmbiguousRun)
		}
		match = entry.Name()
	}
	if match == "" {
		return "", fmt.Errorf("run %s: %w", prefix, os.ErrNotExist)
	}
	return match, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	id, err := s.Resolve(runID)
	if err != nil {
		return nil, err
	}
	return s.readMetadata(id)
}

func (s *Store) readMetadata(id string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, id, metadataFile))
	if err != nil {
		return nil, err
	}
	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", id, err)
	}
	return &meta, nil
}

// LoadRecord reads result.msgpack.
func (s *Store) LoadRecord(runID string) (*Record, error) {
	id, err := s.Resolve(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, id, resultFile))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", id, err)
	}
	return &rec, nil
}

// LoadTrajectory reads trajectory.csv.
func (s *Store) LoadTrajectory(runID string) (optimizer.Trajectory, error) {
	id, err := s.Resolve(runID)
	if err != nil {
		return optimizer.Trajectory{}, err
	}
	f, err := os.Open(filepath.Join(s.baseDir, id, trajectoryFile))
	if err != nil {
		return optimizer.Trajectory{}, err
	}
	defer f.Close()
	return ReadCSV(f)
}

func writeJSON(path string, v any) error {
	return writeFile(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
