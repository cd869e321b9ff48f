package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/models"
)

// Memory is an in-process DatasetRepository, SessionRepository and UserRepository.
// Values are copied in and out so callers never share state with it.
type Memory struct {
	mu       sync.RWMutex
	datasets map[string]*models.StoredDataset
	sessions map[string]*models.UserSession
	users    map[uuid.UUID]*models.User
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		datasets: make(map[string]*models.StoredDataset),
		sessions: make(map[string]*models.UserSession),
		users:    make(map[uuid.UUID]*models.User),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func copyDataset(ds *models.StoredDataset) *models.StoredDataset {
	out := *ds
	out.Config = ds.Config.Clone()
	if raw, err := json.Marshal(ds.Data); err == nil {
		var data models.Dataset
		if json.Unmarshal(raw, &data) == nil {
			out.Data = data
		}
	}
	return &out
}

func (m *Memory) Create(ctx context.Context, ds *models.StoredDataset) error {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	if err := measure(ds); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	ds.CreatedAt, ds.UpdatedAt = now, now
	m.datasets[ds.ID] = copyDataset(ds)
	return nil
}

func (m *Memory) Get(ctx context.Context, id, userID string) (*models.StoredDataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.datasets[id]
	if !ok || ds.UserID != userID {
		return nil, apperr.NotFound("dataset")
	}
	return copyDataset(ds), nil
}

func (m *Memory) Update(ctx context.Context, id, userID string, upd DatasetUpdate) (*models.StoredDataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.datasets[id]
	if !ok || cur.UserID != userID {
		return nil, apperr.NotFound("dataset")
	}
	ds := copyDataset(cur)
	if err := apply(ds, upd); err != nil {
		return nil, err
	}
	ds.UpdatedAt = m.now()
	m.datasets[id] = copyDataset(ds)
	return ds, nil
}

func (m *Memory) Delete(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.datasets[id]
	if !ok || ds.UserID != userID {
		return apperr.NotFound("dataset")
	}
	delete(m.datasets, id)
	return nil
}

func (m *Memory) ListByUser(ctx context.Context, userID string) ([]models.StoredDataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.StoredDataset{}
	for _, ds := range m.datasets {
		if ds.UserID == userID {
			out = append(out, *copyDataset(ds))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UserStats(ctx context.Context, userID string) (models.UserStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats models.UserStats
	for _, ds := range m.datasets {
		if ds.UserID == userID {
			stats.TotalDatasets++
			stats.TotalRows += ds.RowCount
		}
	}
	return stats, nil
}

func (m *Memory) CreateSession(ctx context.Context, userID string, metadata map[string]any) (*models.UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	s := &models.UserSession{
		ID:           uuid.New().String(),
		UserID:       userID,
		SessionKey:   uuid.New().String(),
		CreatedAt:    now,
		LastAccessed: now,
		Metadata:     metadata,
	}
	m.sessions[s.SessionKey] = s
	out := *s
	return &out, nil
}

func (m *Memory) ValidateSession(ctx context.Context, userID, sessionKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey]
	if !ok || s.UserID != userID {
		return false, nil
	}
	s.LastAccessed = m.now()
	return true, nil
}

func (m *Memory) GetSession(ctx context.Context, sessionKey string) (*models.UserSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionKey]
	if !ok {
		return nil, apperr.NotFound("session")
	}
	out := *s
	return &out, nil
}

func (m *Memory) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = normalizeEmail(u.Email)
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := m.now()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *Memory) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = normalizeEmail(email)
	for _, u := range m.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, apperr.NotFound("user")
}

func (m *Memory) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	out := *u
	return &out, nil
}
