package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"jewelry-scraper/pkg/orchestrate"
)

const stateFileName = "watch_state.json"

// SiteState records the last crawl cycle's outcome for one site.
type SiteState struct {
	LastRunID      string    `json:"last_run_id,omitempty"`
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunSuccess bool      `json:"last_run_success"`
	ItemsAccepted  int64     `json:"items_accepted"`
	ItemsRejected  int64     `json:"items_rejected"`
	PagesFetched   int64     `json:"pages_fetched"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// WatchState is the persistent state of the watch scheduler.
type WatchState struct {
	Sites     map[string]SiteState `json:"sites"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// StateManager persists and loads watch state. The state lives next to the
// crawl databases in the state directory, so one place holds everything a
// long-lived deployment accumulates.
type StateManager struct {
	stateDir  string
	statePath string
	state     WatchState
	mu        sync.RWMutex
}

// NewStateManager creates a state manager rooted at stateDir.
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state: WatchState{
			Sites: make(map[string]SiteState),
		},
	}
}

// Load reads the state file. A missing file means a fresh start, not an
// error.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = WatchState{
				Sites: make(map[string]SiteState),
			}
			return nil
		}
		return fmt.Errorf("reading watch state: %w", err)
	}

	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("parsing watch state: %w", err)
	}
	if m.state.Sites == nil {
		m.state.Sites = make(map[string]SiteState)
	}
	return nil
}

// Save writes the state file.
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()

	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling watch state: %w", err)
	}
	if err := os.WriteFile(m.statePath, data, 0644); err != nil {
		return fmt.Errorf("writing watch state: %w", err)
	}
	return nil
}

// GetSiteState returns the recorded state for one site.
func (m *StateManager) GetSiteState(siteKey string) (SiteState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[siteKey]
	return state, ok
}

// UpdateSiteState records the outcome of one site's crawl cycle.
func (m *StateManager) UpdateSiteState(runID string, result orchestrate.SiteResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	errorMsg := ""
	if result.Error != nil {
		errorMsg = result.Error.Error()
	}
	m.state.Sites[result.SiteKey] = SiteState{
		LastRunID:      runID,
		LastRunTime:    time.Now(),
		LastRunSuccess: result.Success,
		ItemsAccepted:  result.ItemsAccepted,
		ItemsRejected:  result.ItemsRejected,
		PagesFetched:   result.PagesFetched,
		ErrorMessage:   errorMsg,
	}
}

// ShouldRun reports whether a site's last run is old enough to crawl again.
// A site with no recorded run is always due.
func (m *StateManager) ShouldRun(siteKey string, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return true
	}
	return time.Since(state.LastRunTime) >= interval
}

// GetNextRunTime returns when the site is next due.
func (m *StateManager) GetNextRunTime(siteKey string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return time.Now()
	}
	return state.LastRunTime.Add(interval)
}

// GetAllSiteStates returns a copy of every recorded site state.
func (m *StateManager) GetAllSiteStates() map[string]SiteState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]SiteState, len(m.state.Sites))
	for k, v := range m.state.Sites {
		result[k] = v
	}
	return result
}
