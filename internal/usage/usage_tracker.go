// Package usage accounts for generator token usage across runs.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"autolearn/internal/logging"
)

const dataVersion = "1.0"

// Tracker records token usage and persists it as JSON.
type Tracker struct {
	mu    sync.Mutex
	data  Data
	path  string
	dirty bool
}

// NewTracker creates a tracker persisted at path, loading previous totals.
// A corrupt file is logged and replaced on the next Save.
func NewTracker(path string) *Tracker {
	t := &Tracker{path: path, data: emptyData()}
	if err := t.Load(); err != nil {
		logging.Get(logging.CategoryGenerator).Warn("Ignoring unreadable usage file %s: %v", path, err)
		t.data = emptyData()
	}
	return t
}

func emptyData() Data {
	return Data{
		Version: dataVersion,
		Aggregate: AggregatedStats{
			ByProvider:  make(map[string]TokenCounts),
			ByModel:     make(map[string]TokenCounts),
			ByOperation: make(map[string]TokenCounts),
		},
	}
}

// Path returns the file location.
func (t *Tracker) Path() string { return t.path }

// Load reads the usage data from disk. A missing file is not an error.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	loaded := emptyData()
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	// Ensure maps are initialized if file was empty/partial
	if loaded.Aggregate.ByProvider == nil {
		loaded.Aggregate.ByProvider = make(map[string]TokenCounts)
	}
	if loaded.Aggregate.ByModel == nil {
		loaded.Aggregate.ByModel = make(map[string]TokenCounts)
	}
	if loaded.Aggregate.ByOperation == nil {
		loaded.Aggregate.ByOperation = make(map[string]TokenCounts)
	}
	t.data = loaded
	return nil
}

// Save writes the usage data to disk if anything changed since the last
// Save. The file is replaced atomically.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return nil
	}

	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create usage directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".usage-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write usage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write usage: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("failed to replace usage file: %w", err)
	}
	t.dirty = false
	return nil
}

// Track records one generator call.
func (t *Tracker) Track(provider, model, operation string, input, output int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.Aggregate.Total.Add(input, output)
	addToMap(t.data.Aggregate.ByProvider, provider, input, output)
	addToMap(t.data.Aggregate.ByModel, model, input, output)
	addToMap(t.data.Aggregate.ByOperation, operation, input, output)
	t.dirty = true
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByProvider = copyTokenCountsMap(stats.ByProvider)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByOperation = copyTokenCountsMap(stats.ByOperation)
	return stats
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int) {
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}
