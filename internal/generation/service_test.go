package generation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/models"
	"github.com/troy12x/si-copilot/internal/provider"
	"github.com/troy12x/si-copilot/internal/repair"
)

type stubProvider struct {
	name string
	text string
	err  error
	last provider.Request
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Complete(ctx context.Context, req provider.Request) (provider.Completion, error) {
	p.last = req
	if p.err != nil {
		return provider.Completion{}, p.err
	}
	return provider.Completion{
		Text:  p.text,
		Usage: models.TokenUsage{PromptTokens: 1000, CompletionTokens: 2000, TotalTokens: 3000},
	}, nil
}

func baseConfig() models.DatasetConfig {
	return models.DatasetConfig{
		UseCase:    "customer support qa",
		Columns:    []models.ColumnDefinition{{Name: "input", Type: "string", Description: "question"}, {Name: "output", Type: "string", Description: "answer"}},
		Variables:  []models.TemplateVariable{{Name: "product", Description: "product name"}},
		Template:   `{"input": "...", "output": "..."}`,
		NumSamples: 4,
		Model:      "llama-3.2-3b",
		Provider:   provider.VeniceAI,
		Splits:     []models.Split{{Name: "train", Percentage: 50}, {Name: "test", Percentage: 50}},
	}
}

func TestGeneratePartitionsRecords(t *testing.T) {
	stub := &stubProvider{
		name: provider.VeniceAI,
		text: `[{"input":"a","output":"1"},{"input":"b","output":"2"},{"input":"c","output":"3"},{"input":"d","output":"4"}]`,
	}
	svc := NewService(provider.NewRegistry(stub), nil, nil)

	res, err := svc.Generate(context.Background(), baseConfig())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(res.Splits["train"]) != 2 || len(res.Splits["test"]) != 2 {
		t.Fatalf("Unexpected split sizes: %v", res.Splits)
	}
	if res.Splits["test"][0]["input"] != "c" {
		t.Errorf("Expected test to start at record c, got %v", res.Splits["test"][0])
	}
	if res.TokenUsage.TotalTokens != 3000 {
		t.Errorf("Expected 3000 tokens, got %d", res.TokenUsage.TotalTokens)
	}
	// llama-3.2-3b: 1000 * 0.20/1M + 2000 * 0.30/1M
	if got, want := res.CostCalculation.TotalCost, 0.0008; got < want-1e-12 || got > want+1e-12 {
		t.Errorf("Expected cost %v, got %v", want, got)
	}

	if stub.last.MaxTokens != models.DefaultMaxTokens {
		t.Errorf("Expected default max tokens, got %d", stub.last.MaxTokens)
	}
	if stub.last.Messages[0].Content != SystemMessage {
		t.Errorf("Unexpected system message %q", stub.last.Messages[0].Content)
	}
	if !strings.Contains(stub.last.Messages[1].Content, "- input (string): question") {
		t.Errorf("Prompt is missing column line:\n%s", stub.last.Messages[1].Content)
	}
}

func TestGenerateAppliesCustomFormat(t *testing.T) {
	stub := &stubProvider{name: provider.VeniceAI, text: `[{"id":7,"input":"hi","output":"hello"}]`}
	svc := NewService(provider.NewRegistry(stub), nil, nil)

	cfg := baseConfig()
	cfg.NumSamples = 1
	cfg.Splits = []models.Split{{Name: "train", Percentage: 100}}
	cfg.UseCustomFormat = true
	cfg.CustomFormat = `{"messages":[{"role":"user","content":"{{input}}"},{"role":"assistant","content":"{{output}}"}]}`

	res, err := svc.Generate(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	rec := res.Splits["train"][0]
	if rec["id"] != float64(7) {
		t.Errorf("Expected id 7, got %v", rec["id"])
	}
	msgs, ok := rec["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("Expected two messages, got %v", rec["messages"])
	}
}

func TestGenerateUnparseableResponse(t *testing.T) {
	stub := &stubProvider{name: provider.VeniceAI, text: "   "}
	svc := NewService(provider.NewRegistry(stub), nil, nil)

	res, err := svc.Generate(context.Background(), baseConfig())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !res.Failed() {
		t.Fatal("Expected error records")
	}
	if res.Error[0].Message != "Failed to parse dataset" {
		t.Errorf("Unexpected message %q", res.Error[0].Message)
	}
}

func TestGenerateTextResponseIsPadded(t *testing.T) {
	stub := &stubProvider{name: provider.VeniceAI, text: "Sorry, I can only describe the data."}
	svc := NewService(provider.NewRegistry(stub), repair.NewParser(), nil)

	res, err := svc.Generate(context.Background(), baseConfig())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got := len(res.Splits["train"]) + len(res.Splits["test"]); got != 4 {
		t.Errorf("Expected 4 records, got %d", got)
	}
}

func TestGenerateUnsupportedProvider(t *testing.T) {
	svc := NewService(provider.NewRegistry(), nil, nil)

	cfg := baseConfig()
	cfg.Provider = "openAI"
	_, err := svc.Generate(context.Background(), cfg)
	if !apperr.HasKind(err, apperr.KindUnsupportedProvider) {
		t.Fatalf("Expected unsupported provider error, got %v", err)
	}
}

func TestGeneratePropagatesUpstreamErrors(t *testing.T) {
	stub := &stubProvider{name: provider.VeniceAI, err: apperr.RateLimited(errors.New("429"))}
	svc := NewService(provider.NewRegistry(stub), nil, nil)

	_, err := svc.Generate(context.Background(), baseConfig())
	if !apperr.HasKind(err, apperr.KindUpstreamRateLimited) {
		t.Fatalf("Expected rate limited error, got %v", err)
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(baseConfig())

	for _, want := range []string{
		"Generate 4 high-quality, DIVERSE and UNIQUE samples",
		"USE CASE:\ncustomer support qa",
		"- {{product}}: product name",
		"OUTPUT FORMAT:\n{\"input\": \"...\", \"output\": \"...\"}",
		"1. Generate 4 COMPLETELY DIFFERENT samples in JSON format.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
