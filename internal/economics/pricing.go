package economics

import "github.com/troy12x/si-copilot/internal/models"

// Pricing is the dollar price per million tokens
type Pricing struct {
	InputPrice  float64 `json:"inputPrice"`
	OutputPrice float64 `json:"outputPrice"`
}

// Model is one entry of the model catalog
type Model struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Pricing     Pricing `json:"pricing"`
	Provider    string  `json:"provider"`
}

// DefaultPricing applies to models missing from the catalog
var DefaultPricing = Pricing{InputPrice: 0.24, OutputPrice: 0.40}

// Catalog lists the models offered per provider
var Catalog = []Model{
	{
		ID:          "Qwen/Qwen3-235B-A22B-fp8-tput",
		Name:        "Qwen3 235B",
		Description: "Qwen's largest and most capable model",
		Pricing:     Pricing{InputPrice: 0.24, OutputPrice: 0.40},
		Provider:    "togetherAI",
	},
	{
		ID:          "meta-llama/Llama-4-Scout-17B-16E-Instruct",
		Name:        "Llama 4 Scout Instruct",
		Description: "Meta's flagship open model",
		Pricing:     Pricing{InputPrice: 0.24, OutputPrice: 0.40},
		Provider:    "togetherAI",
	},
	{
		ID:          "mistralai/Mistral-7B-Instruct-v0.2",
		Name:        "Mistral 7B",
		Description: "Efficient and powerful instruction model",
		Pricing:     Pricing{InputPrice: 0.24, OutputPrice: 0.40},
		Provider:    "togetherAI",
	},
	{
		ID:          "togethercomputer/StripedHyena-Nous-7B",
		Name:        "StripedHyena 7B",
		Description: "Efficient model with strong reasoning",
		Pricing:     Pricing{InputPrice: 0.24, OutputPrice: 0.40},
		Provider:    "togetherAI",
	},
	{
		ID:          "llama-3.2-3b",
		Name:        "Llama 3.2 3B",
		Description: "Efficient and compact Llama model from Venice AI",
		Pricing:     Pricing{InputPrice: 0.20, OutputPrice: 0.30},
		Provider:    "veniceAI",
	},
}

// LookupModel finds a catalog entry by model id and provider
func LookupModel(provider, id string) (Model, bool) {
	for _, m := range Catalog {
		if m.ID == id && m.Provider == provider {
			return m, true
		}
	}
	return Model{}, false
}

// ModelsFor returns the catalog entries of one provider, or all when provider is empty
func ModelsFor(provider string) []Model {
	var out []Model
	for _, m := range Catalog {
		if provider == "" || m.Provider == provider {
			out = append(out, m)
		}
	}
	return out
}

// PricingFor returns the catalog price or DefaultPricing
func PricingFor(provider, model string) Pricing {
	if m, ok := LookupModel(provider, model); ok {
		return m.Pricing
	}
	return DefaultPricing
}

// Cost prices token usage for a model: tokens / 1M * unit price, input and output separately
func Cost(provider, model string, usage models.TokenUsage) models.CostCalculation {
	p := PricingFor(provider, model)
	prompt := float64(usage.PromptTokens) / 1_000_000 * p.InputPrice
	completion := float64(usage.CompletionTokens) / 1_000_000 * p.OutputPrice
	return models.CostCalculation{
		PromptCost:     prompt,
		CompletionCost: completion,
		TotalCost:      prompt + completion,
	}
}
