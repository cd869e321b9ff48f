// Package runs tracks background generation runs and streams their progress.
package runs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/eventbus"
	"github.com/troy12x/si-copilot/internal/generation"
	"github.com/troy12x/si-copilot/internal/metrics"
	"github.com/troy12x/si-copilot/internal/models"
	"github.com/troy12x/si-copilot/internal/orchestrator"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a run
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Finished reports whether the run has stopped
func (s Status) Finished() bool {
	return s != StatusRunning
}

// Runner executes one orchestrated run
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// UsageRecorder logs the token usage of a completed run
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec models.UsageRecord) error
}

// Snapshot is a copy of a run's state
type Snapshot struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"userId"`
	SessionID       string                 `json:"sessionId,omitempty"`
	Status          Status                 `json:"status"`
	Progress        models.Progress        `json:"progress"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	Config          models.DatasetConfig   `json:"config"`
	TokenUsage      models.TokenUsage      `json:"tokenUsage"`
	CostCalculation models.CostCalculation `json:"costCalculation"`
	Dataset         models.Dataset         `json:"dataset,omitempty"`
	FailedBatches   int                    `json:"failedBatches"`
	Error           string                 `json:"error,omitempty"`
	StartedAt       time.Time              `json:"startedAt"`
	FinishedAt      *time.Time             `json:"finishedAt,omitempty"`
}

type run struct {
	mu     sync.Mutex
	snap   Snapshot
	cancel context.CancelFunc
	hub    *Hub
	done   chan struct{}
}

func (r *run) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Manager owns every run started through it
type Manager struct {
	mu        sync.RWMutex
	runs      map[string]*run
	runner    Runner
	publisher eventbus.Publisher
	usage     UsageRecorder
	retention time.Duration
	logger    *zap.Logger
	base      context.Context
	stop      context.CancelFunc
}

// Option configures a Manager
type Option func(*Manager)

// WithPublisher publishes lifecycle events on the event bus
func WithPublisher(p eventbus.Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithUsageRecorder logs usage for completed runs
func WithUsageRecorder(u UsageRecorder) Option {
	return func(m *Manager) {
		m.usage = u
	}
}

// WithRetention sets how long finished runs stay queryable
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		m.retention = d
	}
}

func NewManager(runner Runner, logger *zap.Logger, opts ...Option) *Manager {
	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		runs:      make(map[string]*run),
		runner:    runner,
		retention: time.Hour,
		logger:    logger,
		base:      base,
		stop:      stop,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartRequest describes a run to start
type StartRequest struct {
	UserID      string
	SessionID   string
	Name        string
	Description string
	Config      models.DatasetConfig
}

// Start validates the config and runs it in the background
func (m *Manager) Start(req StartRequest) (Snapshot, error) {
	if err := generation.Validate(req.Config); err != nil {
		return Snapshot{}, err
	}
	if req.Config.NumSamples <= 0 {
		return Snapshot{}, apperr.Validation("numSamples must be positive")
	}

	ctx, cancel := context.WithCancel(m.base)
	r := &run{
		snap: Snapshot{
			ID:          uuid.New().String(),
			UserID:      req.UserID,
			SessionID:   req.SessionID,
			Status:      StatusRunning,
			Name:        req.Name,
			Description: req.Description,
			Config:      req.Config,
			StartedAt:   time.Now().UTC(),
		},
		cancel: cancel,
		hub:    newHub(),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.pruneLocked()
	m.runs[r.snap.ID] = r
	m.mu.Unlock()

	snap := r.snapshot()
	m.publish(eventbus.SubjectRunStarted, snap.ID, Event{Type: EventSnapshot, RunID: snap.ID, Status: snap.Status})
	go m.execute(ctx, r, req)
	return snap, nil
}

func (m *Manager) execute(ctx context.Context, r *run, req StartRequest) {
	defer close(r.done)
	defer r.cancel()
	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	id := r.snapshot().ID
	res, err := m.runner.Run(ctx, orchestrator.Request{
		Config:      req.Config,
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		Name:        req.Name,
		Description: req.Description,
		OnProgress: func(p models.Progress) {
			r.mu.Lock()
			r.snap.Progress = p
			r.mu.Unlock()
			ev := Event{Type: EventProgress, RunID: id, Status: StatusRunning, Progress: p}
			r.hub.Publish(ev)
			m.publish(eventbus.SubjectRunProgress, id, ev)
		},
		OnUpdate: func(split string, records []models.Record) {
			r.mu.Lock()
			r.snap.Dataset = withSplit(r.snap.Dataset, split, records)
			r.mu.Unlock()
			r.hub.Publish(Event{Type: EventDataset, RunID: id, Status: StatusRunning, Split: split, Records: records})
		},
	})

	now := time.Now().UTC()
	r.mu.Lock()
	r.snap.FinishedAt = &now
	if res != nil {
		r.snap.Dataset = res.Dataset
		r.snap.Name = res.Name
		r.snap.Description = res.Description
		r.snap.TokenUsage = res.TokenUsage
		r.snap.CostCalculation = res.CostCalculation
		r.snap.FailedBatches = res.FailedBatches
	}
	evType := EventCompleted
	switch {
	case errors.Is(err, context.Canceled):
		r.snap.Status = StatusCancelled
		evType = EventCancelled
	case err != nil:
		r.snap.Status = StatusFailed
		r.snap.Error = err.Error()
		evType = EventFailed
	default:
		r.snap.Status = StatusCompleted
	}
	r.mu.Unlock()

	snap := r.snapshot()
	m.logger.Info("run finished",
		zap.String("run_id", id),
		zap.String("status", string(snap.Status)),
		zap.Int("rows", snap.Dataset.Rows()),
		zap.Int("failed_batches", snap.FailedBatches),
	)

	if snap.Status == StatusCompleted && m.usage != nil {
		rec := models.UsageRecord{
			UserID:     snap.UserID,
			RunID:      id,
			Provider:   snap.Config.WithDefaults().Provider,
			Model:      snap.Config.Model,
			TokenUsage: snap.TokenUsage,
			Cost:       snap.CostCalculation,
			Rows:       snap.Dataset.Rows(),
		}
		if err := m.usage.RecordUsage(context.Background(), rec); err != nil {
			m.logger.Warn("failed to record usage", zap.String("run_id", id), zap.Error(err))
		}
	}

	final := Event{Type: evType, RunID: id, Status: snap.Status, Progress: snap.Progress, Run: &snap, Error: snap.Error}
	r.hub.Publish(final)
	r.hub.Close()
	m.publish(eventbus.SubjectRunCompleted, id, Event{Type: evType, RunID: id, Status: snap.Status, Error: snap.Error})
}

// withSplit returns a copy of ds with split replaced. Snapshots handed out
// earlier keep pointing at the old map.
func withSplit(ds models.Dataset, split string, records []models.Record) models.Dataset {
	out := make(models.Dataset, len(ds)+1)
	for name, recs := range ds {
		out[name] = recs
	}
	out[split] = records
	return out
}

func (m *Manager) publish(subject, runID string, ev Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(eventbus.RunSubject(subject, runID), ev); err != nil {
		m.logger.Debug("failed to publish run event", zap.String("subject", subject), zap.Error(err))
	}
}

func (m *Manager) lookup(id, userID string) (*run, error) {
	m.mu.RLock()
	r, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok || r.snapshot().UserID != userID {
		return nil, apperr.NotFound("run")
	}
	return r, nil
}

// Get returns the current state of a run owned by userID
func (m *Manager) Get(id, userID string) (Snapshot, error) {
	r, err := m.lookup(id, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return r.snapshot(), nil
}

// Cancel stops a running run. Cancelling a finished run is a no-op.
func (m *Manager) Cancel(id, userID string) (Snapshot, error) {
	r, err := m.lookup(id, userID)
	if err != nil {
		return Snapshot{}, err
	}
	r.cancel()
	return r.snapshot(), nil
}

// Wait blocks until the run finishes or ctx is done
func (m *Manager) Wait(ctx context.Context, id, userID string) (Snapshot, error) {
	r, err := m.lookup(id, userID)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return r.snapshot(), ctx.Err()
	}
}

// Subscribe streams events of a run. The channel closes when the run finishes.
func (m *Manager) Subscribe(id, userID string) (Snapshot, <-chan Event, func(), error) {
	r, err := m.lookup(id, userID)
	if err != nil {
		return Snapshot{}, nil, nil, err
	}
	events, cancel := r.hub.Subscribe()
	return r.snapshot(), events, cancel, nil
}

// Shutdown cancels every running run and waits for them to stop
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()
	m.mu.RLock()
	pending := make([]*run, 0, len(m.runs))
	for _, r := range m.runs {
		pending = append(pending, r)
	}
	m.mu.RUnlock()
	for _, r := range pending {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// pruneLocked drops finished runs older than the retention window
func (m *Manager) pruneLocked() {
	cutoff := time.Now().Add(-m.retention)
	for id, r := range m.runs {
		snap := r.snapshot()
		if snap.Status.Finished() && snap.FinishedAt != nil && snap.FinishedAt.Before(cutoff) {
			delete(m.runs, id)
		}
	}
}
