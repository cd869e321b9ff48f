package economics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/troy12x/si-copilot/internal/database"
	"github.com/troy12x/si-copilot/internal/models"
	"go.uber.org/zap"
)

// Service handles usage tracking and cost estimation
type Service struct {
	db     *database.Postgres
	logger *zap.Logger
}

func NewService(db *database.Postgres, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

// Estimate is the projected cost of a run before it starts
type Estimate struct {
	Model            string                 `json:"model"`
	Provider         string                 `json:"provider"`
	NumSamples       int                    `json:"numSamples"`
	PromptTokens     int                    `json:"promptTokens"`
	CompletionTokens int                    `json:"completionTokens"`
	Cost             models.CostCalculation `json:"cost"`
}

// Rough per-sample token figures used for estimates
const (
	promptTokensPerCall    = 400
	completionTokensPerRow = 150
	samplesPerCall         = 5
)

// EstimateCost projects token usage for numSamples rows
func (s *Service) EstimateCost(provider, model string, numSamples int) Estimate {
	calls := (numSamples + samplesPerCall - 1) / samplesPerCall
	if calls < 1 {
		calls = 1
	}
	usage := models.TokenUsage{
		PromptTokens:     calls * promptTokensPerCall,
		CompletionTokens: numSamples * completionTokensPerRow,
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return Estimate{
		Model:            model,
		Provider:         provider,
		NumSamples:       numSamples,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Cost:             Cost(provider, model, usage),
	}
}

// RecordUsage logs the usage of a finished run
func (s *Service) RecordUsage(ctx context.Context, rec models.UsageRecord) error {
	if s.db == nil {
		return nil
	}
	details, err := json.Marshal(rec.TokenUsage)
	if err != nil {
		return fmt.Errorf("failed to encode usage details: %w", err)
	}

	query := `
		INSERT INTO usage_logs (user_id, run_id, provider, model, prompt_tokens, completion_tokens, total_tokens, cost, row_count, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.Pool().Exec(ctx, query,
		rec.UserID, rec.RunID, rec.Provider, rec.Model,
		rec.TokenUsage.PromptTokens, rec.TokenUsage.CompletionTokens, rec.TokenUsage.TotalTokens,
		rec.Cost.TotalCost, rec.Rows, details,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}

	s.logger.Info("usage recorded",
		zap.String("user_id", rec.UserID),
		zap.String("run_id", rec.RunID),
		zap.Int("total_tokens", rec.TokenUsage.TotalTokens),
		zap.Float64("cost", rec.Cost.TotalCost),
	)
	return nil
}

// UserUsage sums a user's logged tokens and cost
func (s *Service) UserUsage(ctx context.Context, userID string) (models.TokenUsage, float64, error) {
	var usage models.TokenUsage
	var cost float64
	if s.db == nil {
		return usage, cost, nil
	}
	query := `
		SELECT COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost), 0)
		FROM usage_logs WHERE user_id = $1
	`
	err := s.db.Pool().QueryRow(ctx, query, userID).Scan(&usage.PromptTokens, &usage.CompletionTokens, &usage.TotalTokens, &cost)
	if err != nil {
		return usage, cost, fmt.Errorf("failed to read usage: %w", err)
	}
	return usage, cost, nil
}
