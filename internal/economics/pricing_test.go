package economics

import (
	"math"
	"testing"

	"github.com/troy12x/si-copilot/internal/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCostUsesCatalogPricing(t *testing.T) {
	usage := models.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 500_000, TotalTokens: 1_500_000}

	cost := Cost("veniceAI", "llama-3.2-3b", usage)

	if !almostEqual(cost.PromptCost, 0.20) {
		t.Errorf("Expected prompt cost 0.20, got %v", cost.PromptCost)
	}
	if !almostEqual(cost.CompletionCost, 0.15) {
		t.Errorf("Expected completion cost 0.15, got %v", cost.CompletionCost)
	}
	if !almostEqual(cost.TotalCost, 0.35) {
		t.Errorf("Expected total cost 0.35, got %v", cost.TotalCost)
	}
}

func TestCostFallsBackToDefaultPricing(t *testing.T) {
	usage := models.TokenUsage{PromptTokens: 2_000_000, CompletionTokens: 1_000_000}

	// known model id under the wrong provider is not a catalog hit
	cost := Cost("togetherAI", "llama-3.2-3b", usage)

	if !almostEqual(cost.PromptCost, 0.48) {
		t.Errorf("Expected prompt cost 0.48, got %v", cost.PromptCost)
	}
	if !almostEqual(cost.CompletionCost, 0.40) {
		t.Errorf("Expected completion cost 0.40, got %v", cost.CompletionCost)
	}
}

func TestModelsFor(t *testing.T) {
	if got := len(ModelsFor("togetherAI")); got != 4 {
		t.Errorf("Expected 4 togetherAI models, got %d", got)
	}
	if got := len(ModelsFor("veniceAI")); got != 1 {
		t.Errorf("Expected 1 veniceAI model, got %d", got)
	}
	if got := len(ModelsFor("")); got != len(Catalog) {
		t.Errorf("Expected full catalog, got %d", got)
	}
}

func TestEstimateCost(t *testing.T) {
	svc := NewService(nil, nil)

	est := svc.EstimateCost("togetherAI", "mistralai/Mistral-7B-Instruct-v0.2", 12)

	if est.PromptTokens != 3*promptTokensPerCall {
		t.Errorf("Expected %d prompt tokens, got %d", 3*promptTokensPerCall, est.PromptTokens)
	}
	if est.CompletionTokens != 12*completionTokensPerRow {
		t.Errorf("Expected %d completion tokens, got %d", 12*completionTokensPerRow, est.CompletionTokens)
	}
	if est.Cost.TotalCost <= 0 {
		t.Errorf("Expected positive cost, got %v", est.Cost.TotalCost)
	}
}
