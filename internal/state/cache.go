// internal/state/cache.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/threadline/internal/types"
)

// MessageCache is a JSON-file-backed copy of the last successfully fetched
// message list per thread, stored at threads/<threadID>/messages.json. It
// backs the last-known-good failure policy: when a fetch fails before any
// in-memory state exists, the cached list is served instead of nothing.
type MessageCache struct {
	root  string
	mu    sync.Mutex
	locks map[types.ThreadID]*sync.Mutex
}

// NewMessageCache creates a file-backed MessageCache rooted at the given
// directory.
func NewMessageCache(root string) *MessageCache {
	return &MessageCache{
		root:  root,
		locks: make(map[types.ThreadID]*sync.Mutex),
	}
}

// getLock returns the per-thread mutex, creating one if it doesn't exist.
func (m *MessageCache) getLock(threadID types.ThreadID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lock, ok := m.locks[threadID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.locks[threadID] = lock
	return lock
}

func (m *MessageCache) messagesPath(threadID types.ThreadID) string {
	return filepath.Join(m.root, "threads", string(threadID), "messages.json")
}

// Put replaces the cached list for the thread.
func (m *MessageCache) Put(threadID types.ThreadID, messages []types.Message) error {
	lock := m.getLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal message cache: %w", err)
	}

	path := m.messagesPath(threadID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create thread dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp message cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp message cache: %w", err)
	}
	return nil
}

// Get returns the cached list for the thread, or (nil, nil) if the thread
// has never been cached.
func (m *MessageCache) Get(threadID types.ThreadID) ([]types.Message, error) {
	lock := m.getLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(m.messagesPath(threadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read message cache: %w", err)
	}

	var messages []types.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("unmarshal message cache: %w", err)
	}
	return messages, nil
}
