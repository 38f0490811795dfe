// internal/state/credentials.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/threadline/internal/types"
)

// Credentials is the JSON-file-backed persisted session. The file holds at
// most one session; it is replaced wholesale on refresh and removed on
// sign-out.
type Credentials struct {
	path string
	mu   sync.Mutex
}

// NewCredentials creates a Credentials store at dataDir/credentials.json.
func NewCredentials(dataDir string) *Credentials {
	return &Credentials{path: filepath.Join(dataDir, "credentials.json")}
}

// Load reads the persisted session. A missing file is not an error: it
// returns (nil, nil), the signed-out case.
func (c *Credentials) Load() (*types.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return &session, nil
}

// Save persists the session, replacing any previous one. The file is
// written atomically with 0600 permissions.
func (c *Credentials) Save(session *types.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp credentials: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp credentials: %w", err)
	}
	return nil
}

// Clear removes the persisted session. Clearing an already-empty store is
// not an error.
func (c *Credentials) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}
