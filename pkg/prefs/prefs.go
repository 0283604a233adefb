// Package prefs persists the handful of scalar values that live outside
// the offline store, currently the last successful sync time.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const fileName = "state.json"

type state struct {
	LastSyncDate *time.Time `json:"last_sync_date,omitempty"`
}

// Prefs is a small JSON key-value file with atomic writes.
type Prefs struct {
	path string

	mu    sync.Mutex
	state state
}

// Open loads (or initializes) the state file under dir.
func Open(dir string) (*Prefs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	p := &Prefs{path: filepath.Join(dir, fileName)}

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if err := json.Unmarshal(data, &p.state); err != nil {
		// A corrupt state file only costs us the last-sync stamp; start fresh.
		p.state = state{}
	}
	return p, nil
}

// LastSyncDate returns the persisted stamp and whether one exists.
func (p *Prefs) LastSyncDate() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.LastSyncDate == nil {
		return time.Time{}, false
	}
	return *p.state.LastSyncDate, true
}

// SetLastSyncDate persists the stamp via temp-file rename so a crash
// mid-write cannot truncate the previous state.
func (p *Prefs) SetLastSyncDate(t time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	t = t.UTC()
	p.state.LastSyncDate = &t

	data, err := json.Marshal(p.state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return os.Rename(tmp, p.path)
}

// Clear removes all persisted scalar state, used on logout.
func (p *Prefs) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state{}
	err := os.Remove(p.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
