package agentd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cstlee/RooBench/internal/snapshot"
)

// ErrNotLaunched is returned when no agent state exists for a host.
var ErrNotLaunched = errors.New("benchmark process not launched")

// State is what the agent remembers about the process it launched. It lives
// next to the run's logs so any later agent invocation can address the process.
type State struct {
	Host      string        `json:"host"`
	PID       int           `json:"pid"`
	Role      snapshot.Role `json:"role"`
	StartedAt time.Time     `json:"started_at"`
	Snapshots int           `json:"snapshots"`
	Stopped   bool          `json:"stopped"`
}

// StateFile returns <dir>/<host>.agent_state.json.
func StateFile(dir, host string) string {
	return filepath.Join(dir, host+".agent_state.json")
}

// LoadState reads the state of host from dir, or ErrNotLaunched.
func LoadState(dir, host string) (*State, error) {
	data, err := os.ReadFile(StateFile(dir, host))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotLaunched
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read agent state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode agent state '%s': %w", StateFile(dir, host), err)
	}
	if st.PID <= 0 {
		return nil, fmt.Errorf("agent state '%s' has no pid", StateFile(dir, host))
	}
	return &st, nil
}

// SaveState writes st atomically.
func SaveState(dir string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	path := StateFile(dir, st.Host)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write agent state: %w", err)
	}
	return os.Rename(tmp, path)
}

// RemoveState deletes the state of host; a missing file is not an error.
func RemoveState(dir, host string) error {
	err := os.Remove(StateFile(dir, host))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
