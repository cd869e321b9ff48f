// Package scratch stores snapshots of in-progress generation runs.
package scratch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/troy12x/si-copilot/internal/models"
)

// ErrNotFound is returned by Load when no snapshot exists for the key
var ErrNotFound = errors.New("scratch: snapshot not found")

// Snapshot is the partial state saved after each completed split
type Snapshot struct {
	Dataset         models.Dataset         `json:"dataset"`
	Config          models.DatasetConfig   `json:"config"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	TokenUsage      models.TokenUsage      `json:"tokenUsage"`
	CostCalculation models.CostCalculation `json:"costCalculation"`
	SavedAt         time.Time              `json:"savedAt"`
}

// Store is a key-value store for snapshots
type Store interface {
	Save(ctx context.Context, key string, snap Snapshot) error
	Load(ctx context.Context, key string) (Snapshot, error)
	Delete(ctx context.Context, key string) error
}

// Key scopes a snapshot to the session when there is one, otherwise to the user
func Key(sessionID, userID string) string {
	if sessionID != "" {
		return "temp_dataset_" + sessionID
	}
	return "temp_dataset_" + userID
}

// Memory is an in-process Store. Snapshots are stored encoded so callers
// cannot mutate saved state.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

func (m *Memory) Save(ctx context.Context, key string, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = raw
	return nil
}

func (m *Memory) Load(ctx context.Context, key string) (Snapshot, error) {
	m.mu.RLock()
	raw, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
