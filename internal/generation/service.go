// Package generation turns one batch-sized dataset config into records.
package generation

import (
	"context"
	"time"

	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/economics"
	"github.com/troy12x/si-copilot/internal/metrics"
	"github.com/troy12x/si-copilot/internal/models"
	"github.com/troy12x/si-copilot/internal/provider"
	"github.com/troy12x/si-copilot/internal/repair"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Providers resolves a provider identifier
type Providers interface {
	Get(name string) (provider.Provider, error)
}

// Service builds prompts, calls the provider and repairs the response
type Service struct {
	providers Providers
	parser    *repair.Parser
	logger    *zap.Logger
}

// NewService creates a generation service. A nil parser uses repair.NewParser().
func NewService(providers Providers, parser *repair.Parser, logger *zap.Logger) *Service {
	if parser == nil {
		parser = repair.NewParser()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{providers: providers, parser: parser, logger: logger}
}

// Generate runs one upstream call for cfg and returns the partitioned records.
// Provider and transport failures are returned as errors; unparseable text
// never is.
func (s *Service) Generate(ctx context.Context, cfg models.DatasetConfig) (models.GenerationResult, error) {
	cfg = cfg.WithDefaults()

	ctx, span := otel.Tracer("generation").Start(ctx, "generation.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", cfg.Provider),
		attribute.String("model", cfg.Model),
		attribute.Int("num_samples", cfg.NumSamples),
	)

	p, err := s.providers.Get(cfg.Provider)
	if err != nil {
		return models.GenerationResult{}, err
	}

	start := time.Now()
	completion, err := p.Complete(ctx, provider.Request{
		Model: cfg.Model,
		Messages: []provider.Message{
			{Role: "system", Content: SystemMessage},
			{Role: "user", Content: BuildPrompt(cfg)},
		},
		Temperature: Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	metrics.UpstreamDuration.WithLabelValues(cfg.Provider).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamCallsTotal.WithLabelValues(cfg.Provider, string(apperr.KindOf(err))).Inc()
		s.logger.Warn("upstream call failed",
			zap.String("provider", cfg.Provider),
			zap.String("model", cfg.Model),
			zap.Error(err),
		)
		return models.GenerationResult{}, err
	}
	metrics.UpstreamCallsTotal.WithLabelValues(cfg.Provider, "ok").Inc()
	metrics.TokensTotal.WithLabelValues(cfg.Provider, "prompt").Add(float64(completion.Usage.PromptTokens))
	metrics.TokensTotal.WithLabelValues(cfg.Provider, "completion").Add(float64(completion.Usage.CompletionTokens))

	result := models.GenerationResult{
		TokenUsage:      completion.Usage,
		CostCalculation: economics.Cost(cfg.Provider, cfg.Model, completion.Usage),
	}

	parsed, err := s.parser.Parse(completion.Text, cfg.NumSamples)
	if err != nil {
		s.logger.Warn("response could not be parsed", zap.String("model", cfg.Model), zap.Error(err))
		result.Error = []models.ErrorRecord{{Message: "Failed to parse dataset", RawResponse: completion.Text}}
		return result, nil
	}
	metrics.RepairPathTotal.WithLabelValues(string(parsed.Path)).Inc()
	if parsed.Path != repair.PathDirect {
		s.logger.Info("response repaired",
			zap.String("path", string(parsed.Path)),
			zap.Int("records", len(parsed.Records)),
			zap.Int("padded", parsed.Padded),
		)
	}

	result.Splits = Partition(parsed.Records, cfg.Splits)
	if cfg.UseCustomFormat && cfg.CustomFormat != "" {
		for name, records := range result.Splits {
			result.Splits[name] = ApplyCustomFormat(records, cfg.CustomFormat, cfg.CustomFormatColumnName, cfg.Columns)
		}
	}
	return result, nil
}
