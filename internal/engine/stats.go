package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/coffersTech/iotrace/internal/model"
)

// Stats counts what passed through a Registry. All methods are safe for
// concurrent use.
type Stats struct {
	records        atomic.Int64
	buffers        atomic.Int64
	flushes        atomic.Int64
	flushedRecords atomic.Int64
	flushErrors    atomic.Int64
	droppedRecords atomic.Int64

	// Fixed key set, so the map itself is never written after NewStats
	categories map[model.Category]*atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	SessionID      string           `json:"session_id,omitempty"`
	ProcessID      string           `json:"pid,omitempty"`
	Records        int64            `json:"records"`
	Buffers        int64            `json:"buffers"`
	Flushes        int64            `json:"flushes"`
	FlushedRecords int64            `json:"flushed_records"`
	FlushErrors    int64            `json:"flush_errors"`
	DroppedRecords int64            `json:"dropped_records"`
	Categories     map[string]int64 `json:"categories"`
}

// NewStats returns zeroed counters.
func NewStats() *Stats {
	s := &Stats{categories: make(map[model.Category]*atomic.Int64)}
	for _, c := range model.Categories() {
		s.categories[c] = new(atomic.Int64)
	}
	return s
}

func (s *Stats) appended(rec model.Record) {
	s.records.Add(1)
	s.categories[model.CategoryOf(rec.Name())].Add(1)
}

func (s *Stats) bufferCreated() { s.buffers.Add(1) }

func (s *Stats) flushed(n int) {
	s.flushes.Add(1)
	s.flushedRecords.Add(int64(n))
}

func (s *Stats) flushFailed(n int) {
	s.flushErrors.Add(1)
	s.droppedRecords.Add(int64(n))
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Records:        s.records.Load(),
		Buffers:        s.buffers.Load(),
		Flushes:        s.flushes.Load(),
		FlushedRecords: s.flushedRecords.Load(),
		FlushErrors:    s.flushErrors.Load(),
		DroppedRecords: s.droppedRecords.Load(),
		Categories:     make(map[string]int64),
	}
	for c, n := range s.categories {
		if v := n.Load(); v > 0 {
			snap.Categories[string(c)] = v
		}
	}
	return snap
}

// StatsFileName is the name of the statistics file a process leaves next to
// its artifacts.
func StatsFileName(processID string) string {
	return ".iotrace-" + processID + ".stats"
}

// SaveSnapshot writes a snapshot to dir atomically.
func SaveSnapshot(dir string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dir, StatsFileName(snap.ProcessID))
	tmpPath := path + ".tmp"

	// Write to temp file first
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpPath, path)
}

// LoadSnapshot reads a snapshot written by SaveSnapshot.
func LoadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, err
	}
	if snap.Categories == nil {
		snap.Categories = make(map[string]int64)
	}
	return snap, nil
}
