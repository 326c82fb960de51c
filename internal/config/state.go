package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const stateFile = "state.json"

// SessionState records the last chat session used against a server.
type SessionState struct {
	SessionID int64     `json:"session_id"`
	RequestID string    `json:"request_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State holds runtime state persisted across CLI invocations.
type State struct {
	// LastSession is keyed by base URL.
	LastSession map[string]*SessionState `json:"last_session"`
}

// LoadState reads state from the XDG config directory, returning empty state if not found.
func LoadState() *State {
	return LoadStateFile(StatePath())
}

// LoadStateFile reads state from path. Missing or corrupt files yield empty state.
func LoadStateFile(path string) *State {
	s := &State{LastSession: make(map[string]*SessionState)}

	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}

	_ = json.Unmarshal(data, s)
	if s.LastSession == nil {
		s.LastSession = make(map[string]*SessionState)
	}

	return s
}

// SaveState writes state to the XDG config directory.
func SaveState(s *State) error {
	return SaveStateFile(StatePath(), s)
}

// SaveStateFile writes state to path.
func SaveStateFile(path string, s *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// SetSession stores the session used for baseURL.
func (s *State) SetSession(baseURL string, ss *SessionState) {
	if s.LastSession == nil {
		s.LastSession = make(map[string]*SessionState)
	}
	s.LastSession[baseURL] = ss
}

// GetSession returns the last session for baseURL, or nil.
func (s *State) GetSession(baseURL string) *SessionState {
	if s.LastSession == nil {
		return nil
	}
	return s.LastSession[baseURL]
}

// StatePath returns the path to the state file.
func StatePath() string {
	return filepath.Join(configBaseDir(), appName, stateFile)
}
