package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/troy12x/si-copilot/internal/economics"
	"github.com/troy12x/si-copilot/internal/generation"
	"github.com/troy12x/si-copilot/internal/handlers"
	"github.com/troy12x/si-copilot/internal/models"
	"github.com/troy12x/si-copilot/internal/orchestrator"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Fatalf("expected %q in output:\n%s", substr, s)
	}
}

// echoGenerator returns numSamples records partitioned across the splits
type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, cfg models.DatasetConfig) (models.GenerationResult, error) {
	records := make([]models.Record, cfg.NumSamples)
	for i := range records {
		records[i] = models.Record{"input": "q", "output": "a"}
	}
	return models.GenerationResult{
		Splits:     generation.Partition(records, cfg.Splits),
		TokenUsage: models.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func newGenerateServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := gin.New()
	r.POST(orchestrator.GeneratePath, handlers.NewGenerationHandler(echoGenerator{}, zap.NewNop()).Generate)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func writeDatasetConfig(t *testing.T, cfg models.DatasetConfig) string {
	t.Helper()
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "dataset.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func datasetConfig(n int) models.DatasetConfig {
	return models.DatasetConfig{
		UseCase:    "customer support replies",
		Template:   "Reply to {{question}}",
		Columns:    []models.ColumnDefinition{{Name: "input", Type: models.ColumnString}, {Name: "output", Type: models.ColumnString}},
		NumSamples: n,
		Model:      "llama-3.2-3b",
		Provider:   "veniceAI",
		Splits:     []models.Split{{Name: "train", Percentage: 80}, {Name: "test", Percentage: 20}},
	}
}

func TestModelsCommandRendersCatalog(t *testing.T) {
	out, _, err := runCLI(t, "models")
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	requireContains(t, out, "Provider")
	requireContains(t, out, economics.Catalog[0].ID)
}

func TestModelsCommandJSONFiltersProvider(t *testing.T) {
	out, _, err := runCLI(t, "models", "--provider", "veniceAI", "--json")
	if err != nil {
		t.Fatalf("models --json: %v", err)
	}
	var list []economics.Model
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(list) == 0 {
		t.Fatal("expected at least one veniceAI model")
	}
	for _, m := range list {
		if m.Provider != "veniceAI" {
			t.Errorf("unexpected provider %q for %s", m.Provider, m.ID)
		}
	}
}

func TestGenerateThroughServer(t *testing.T) {
	t.Setenv("BATCH_DELAY", "0s")
	srv := newGenerateServer(t)
	cfgPath := writeDatasetConfig(t, datasetConfig(12))
	outPath := filepath.Join(t.TempDir(), "out.json")

	stdout, stderr, err := runCLI(t, "generate", "--config", cfgPath, "--server", srv.URL, "--out", outPath, "--name", "support")
	if err != nil {
		t.Fatalf("generate: %v\n%s", err, stderr)
	}
	if stdout != "" {
		t.Errorf("expected nothing on stdout with --out, got %q", stdout)
	}
	requireContains(t, stderr, "train: 9/9")
	requireContains(t, stderr, "test: 2/2")
	requireContains(t, stderr, "cost (USD)")

	raw, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var res orchestrator.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if res.Name != "support" {
		t.Errorf("Name = %q, want support", res.Name)
	}
	if len(res.Dataset["train"]) != 9 || len(res.Dataset["test"]) != 2 {
		t.Errorf("unexpected split sizes: train %d, test %d", len(res.Dataset["train"]), len(res.Dataset["test"]))
	}
	if res.FailedBatches != 0 {
		t.Errorf("FailedBatches = %d, want 0", res.FailedBatches)
	}
}

func TestGenerateRejectsInvalidConfig(t *testing.T) {
	cfg := datasetConfig(5)
	cfg.Template = ""
	cfgPath := writeDatasetConfig(t, cfg)

	_, _, err := runCLI(t, "generate", "--config", cfgPath, "--server", "http://127.0.0.1:1")
	if err == nil {
		t.Fatal("expected an error for a config without template")
	}
	requireContains(t, err.Error(), "Missing required fields")
}

func TestGenerateRequiresConfigFlag(t *testing.T) {
	if _, _, err := runCLI(t, "generate"); err == nil {
		t.Fatal("expected an error without --config")
	}
}

func TestSplitOrder(t *testing.T) {
	cfg := datasetConfig(1)
	ds := models.Dataset{"test": nil, "extra": nil, "train": nil}
	got := strings.Join(splitOrder(cfg, ds), ",")
	if got != "train,test,extra" {
		t.Errorf("splitOrder = %s, want train,test,extra", got)
	}
}

func TestDoctorChecks(t *testing.T) {
	tests := []struct {
		name   string
		target string
		ping   func() error
		want   checkResult
	}{
		{
			name:   "not configured",
			target: "",
			want:   checkResult{Name: "redis", Status: "not configured"},
		},
		{
			name:   "healthy hides password",
			target: "postgres://app:secret@db:5432/app",
			ping:   func() error { return nil },
			want:   checkResult{Name: "redis", Target: "postgres://app:xxxxx@db:5432/app", Status: "healthy"},
		},
		{
			name:   "unhealthy",
			target: "nats://localhost:4222",
			ping:   func() error { return context.DeadlineExceeded },
			want:   checkResult{Name: "redis", Target: "nats://localhost:4222", Status: "unhealthy: context deadline exceeded"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := check("redis", tt.target, tt.ping); got != tt.want {
				t.Errorf("check() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
