// Package orchestrator turns one "generate N samples across these splits"
// request into a sequence of batch calls, retrying failed batches and
// merging what arrives into a dataset keyed by split name.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/generation"
	"github.com/troy12x/si-copilot/internal/metrics"
	"github.com/troy12x/si-copilot/internal/models"
	"github.com/troy12x/si-copilot/internal/scratch"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Generator produces the records of one batch
type Generator interface {
	Generate(ctx context.Context, cfg models.DatasetConfig) (models.GenerationResult, error)
}

// Options tune batching and retries
type Options struct {
	SmallThreshold   int
	BatchSize        int
	MaxRetries       int
	InitialBackoff   time.Duration
	BatchDelay       time.Duration
	SplitConcurrency int
}

// DefaultOptions match the interactive behavior: one call up to 10 rows,
// batches of 5 beyond that, 3 retries starting at 1s, 100ms between batches.
func DefaultOptions() Options {
	return Options{
		SmallThreshold:   10,
		BatchSize:        5,
		MaxRetries:       3,
		InitialBackoff:   time.Second,
		BatchDelay:       100 * time.Millisecond,
		SplitConcurrency: 1,
	}
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Orchestrator runs generation requests batch by batch
type Orchestrator struct {
	gen     Generator
	scratch scratch.Store
	opts    Options
	sleep   SleepFunc
	logger  *zap.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithOptions replaces the batching options
func WithOptions(opts Options) Option {
	return func(o *Orchestrator) {
		o.opts = opts
	}
}

// WithScratch saves a snapshot after every completed split
func WithScratch(s scratch.Store) Option {
	return func(o *Orchestrator) {
		o.scratch = s
	}
}

// WithSleep replaces the wait used for backoff and batch delays
func WithSleep(fn SleepFunc) Option {
	return func(o *Orchestrator) {
		o.sleep = fn
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

func New(gen Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:    gen,
		opts:   DefaultOptions(),
		sleep:  sleepContext,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.opts.SplitConcurrency < 1 {
		o.opts.SplitConcurrency = 1
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Request is one generation run
type Request struct {
	Config      models.DatasetConfig
	UserID      string
	SessionID   string
	Name        string
	Description string
	OnProgress  func(models.Progress)
	// OnUpdate receives a split's slots whenever they change, placeholders
	// included. The slice is not modified after the call.
	OnUpdate func(split string, records []models.Record)
}

// Result is a finalized run
type Result struct {
	Dataset         models.Dataset         `json:"dataset"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	TokenUsage      models.TokenUsage      `json:"tokenUsage"`
	CostCalculation models.CostCalculation `json:"costCalculation"`
	Batches         int                    `json:"batches"`
	FailedBatches   int                    `json:"failedBatches"`
}

// run is the mutable state of one Run call
type run struct {
	mu      sync.Mutex
	req     Request
	cfg     models.DatasetConfig
	dataset models.Dataset
	usage   models.TokenUsage
	cost    models.CostCalculation
	batches int
	failed  int
}

func (r *run) report(p models.Progress) {
	if r.req.OnProgress != nil {
		r.req.OnProgress(p)
	}
}

// Run generates every split of req.Config. Only an invalid config aborts
// before any call; failed batches are filled with defaults and the run
// continues. A cancelled ctx stops the run between batches and returns
// ctx.Err() along with whatever was merged so far.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := generation.Validate(req.Config); err != nil {
		return nil, err
	}
	if req.Config.NumSamples <= 0 {
		return nil, apperr.Validation("numSamples must be positive")
	}

	cfg := req.Config.Clone()
	if len(cfg.Splits) == 0 {
		cfg.Splits = []models.Split{{Name: models.DefaultSplitName, Percentage: 100}}
	}
	r := &run{req: req, cfg: cfg, dataset: make(models.Dataset, len(cfg.Splits))}

	o.logger.Info("generation run started",
		zap.String("user_id", req.UserID),
		zap.String("model", cfg.Model),
		zap.Int("num_samples", cfg.NumSamples),
		zap.Int("splits", len(cfg.Splits)),
	)

	var err error
	if o.opts.SplitConcurrency > 1 && len(cfg.Splits) > 1 {
		err = o.runParallel(ctx, r)
	} else {
		for _, split := range cfg.Splits {
			if err = o.runSplit(ctx, r, split); err != nil {
				break
			}
		}
	}

	res := r.result()
	if err != nil {
		o.logger.Warn("generation run stopped", zap.Error(err), zap.Int("rows", res.Dataset.Rows()))
		return res, err
	}
	o.logger.Info("generation run completed",
		zap.Int("rows", res.Dataset.Rows()),
		zap.Int("batches", res.Batches),
		zap.Int("failed_batches", res.FailedBatches),
		zap.Int("total_tokens", res.TokenUsage.TotalTokens),
	)
	return res, nil
}

func (o *Orchestrator) runParallel(ctx context.Context, r *run) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.SplitConcurrency)
	for _, split := range r.cfg.Splits {
		g.Go(func() error {
			return o.runSplit(gctx, r, split)
		})
	}
	return g.Wait()
}

// runSplit fills one split. The split's slots are owned by this call and
// published into the shared dataset under the run lock.
func (o *Orchestrator) runSplit(ctx context.Context, r *run, split models.Split) error {
	total := SplitCount(split.Percentage, r.cfg.NumSamples)
	slots := Placeholders(r.cfg, split.Name, total)
	r.publish(split.Name, slots)
	r.report(models.Progress{Current: 0, Total: total, Split: split.Name})

	batches := PlanBatches(total, o.opts.SmallThreshold, o.opts.BatchSize)
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}

		batchCfg := r.cfg.Clone()
		batchCfg.NumSamples = b.Size
		batchCfg.Splits = []models.Split{{Name: split.Name, Percentage: 100}}

		res, err := o.generateWithRetry(ctx, batchCfg)
		switch {
		case err != nil && ctx.Err() != nil:
			r.publish(split.Name, slots)
			return ctx.Err()
		case err != nil:
			o.logger.Error("batch abandoned",
				zap.String("split", split.Name),
				zap.Int("start", b.Start),
				zap.Int("size", b.Size),
				zap.Error(err),
			)
			metrics.BatchesTotal.WithLabelValues("abandoned").Inc()
			abandon(slots, b)
			r.add(models.TokenUsage{}, models.CostCalculation{}, false)
		default:
			metrics.BatchesTotal.WithLabelValues("ok").Inc()
			merge(slots, split.Name, b, res.Records(split.Name))
			r.add(res.TokenUsage, res.CostCalculation, true)
		}

		r.publish(split.Name, slots)
		r.report(models.Progress{Current: b.Start + b.Size, Total: total, Split: split.Name})

		if i < len(batches)-1 && o.opts.BatchDelay > 0 {
			if err := o.sleep(ctx, o.opts.BatchDelay); err != nil {
				return err
			}
		}
	}

	o.saveSnapshot(ctx, r)
	return nil
}

// generateWithRetry makes up to MaxRetries+1 attempts, waiting
// InitialBackoff * 2^(n-1) before retry n. Validation and unsupported
// provider errors are not retried.
func (o *Orchestrator) generateWithRetry(ctx context.Context, cfg models.DatasetConfig) (models.GenerationResult, error) {
	var lastErr error
	for attempt := 0; attempt <= o.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := o.opts.InitialBackoff * time.Duration(1<<(attempt-1))
			o.logger.Info("retrying batch",
				zap.Int("retry", attempt),
				zap.Int("max_retries", o.opts.MaxRetries),
				zap.Duration("backoff", wait),
			)
			if err := o.sleep(ctx, wait); err != nil {
				return models.GenerationResult{}, err
			}
		}

		res, err := o.gen.Generate(ctx, cfg)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return models.GenerationResult{}, err
		}

		kind := apperr.KindOf(err)
		o.logger.Warn("batch attempt failed",
			zap.Int("attempt", attempt+1),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		if !retryable(err) {
			break
		}
		if attempt < o.opts.MaxRetries {
			metrics.BatchRetriesTotal.WithLabelValues(string(kind)).Inc()
		}
	}
	return models.GenerationResult{}, lastErr
}

func retryable(err error) bool {
	switch {
	case apperr.HasKind(err, apperr.KindValidation), apperr.HasKind(err, apperr.KindUnsupportedProvider):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (o *Orchestrator) saveSnapshot(ctx context.Context, r *run) {
	if o.scratch == nil || (r.req.UserID == "" && r.req.SessionID == "") {
		return
	}
	res := r.result()
	snap := scratch.Snapshot{
		Dataset:         res.Dataset,
		Config:          r.cfg,
		Name:            res.Name,
		Description:     res.Description,
		TokenUsage:      res.TokenUsage,
		CostCalculation: res.CostCalculation,
	}
	key := scratch.Key(r.req.SessionID, r.req.UserID)
	if err := o.scratch.Save(ctx, key, snap); err != nil {
		o.logger.Warn("failed to save scratch snapshot", zap.String("key", key), zap.Error(err))
	}
}

func (r *run) publish(split string, slots []models.Record) {
	records := append([]models.Record(nil), slots...)
	r.mu.Lock()
	r.dataset[split] = records
	r.mu.Unlock()
	if r.req.OnUpdate != nil {
		r.req.OnUpdate(split, records)
	}
}

func (r *run) add(usage models.TokenUsage, cost models.CostCalculation, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches++
	if !ok {
		r.failed++
		return
	}
	r.usage = r.usage.Add(usage)
	r.cost = r.cost.Add(cost)
}

// result copies the current state out as a finalized Result
func (r *run) result() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := r.req.Name
	if name == "" {
		name = r.cfg.DefaultName()
	}
	desc := r.req.Description
	if desc == "" {
		desc = r.cfg.UseCase
	}
	return &Result{
		Dataset:         Finalize(r.dataset),
		Name:            name,
		Description:     desc,
		TokenUsage:      r.usage,
		CostCalculation: r.cost,
		Batches:         r.batches,
		FailedBatches:   r.failed,
	}
}
