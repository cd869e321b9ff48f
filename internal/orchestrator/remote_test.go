package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/models"
)

func TestRemoteGeneratorDecodesDataset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != GeneratePath {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Unexpected auth header %q", got)
		}
		var cfg models.DatasetConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if cfg.NumSamples != 5 {
			t.Errorf("Expected numSamples 5, got %d", cfg.NumSamples)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"dataset":{"train":[{"input":"a"}],"tokenUsage":{"promptTokens":1,"completionTokens":2,"totalTokens":3},"costCalculation":{"promptCost":0,"completionCost":0,"totalCost":0}}}`)
	}))
	defer srv.Close()

	cfg := testConfig(5)
	res, err := NewRemoteGenerator(srv.URL, "tok", 0).Generate(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(res.Records("train")) != 1 || res.TokenUsage.TotalTokens != 3 {
		t.Errorf("Unexpected result: %+v", res)
	}
}

func TestRemoteGeneratorClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   apperr.Kind
	}{
		{"too many requests", http.StatusTooManyRequests, `{"error":"slow down"}`, apperr.KindUpstreamRateLimited},
		{"rate message", http.StatusInternalServerError, `{"error":"Rate limit reached"}`, apperr.KindUpstreamRateLimited},
		{"rate limited code", http.StatusBadGateway, `{"error":"upstream rate limited","code":"UPSTREAM_RATE_LIMITED"}`, apperr.KindUpstreamRateLimited},
		{"server error", http.StatusInternalServerError, `{"error":"upstream exploded"}`, apperr.KindUpstreamCall},
		{"generate message", http.StatusInternalServerError, `{"error":"Failed to generate items"}`, apperr.KindUpstreamCall},
		{"bad request", http.StatusBadRequest, `{"error":"Missing required fields"}`, apperr.KindValidation},
		{"unsupported provider", http.StatusBadRequest, `{"error":"unsupported API provider: x","code":"UNSUPPORTED_PROVIDER"}`, apperr.KindUnsupportedProvider},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`, apperr.KindUpstreamCall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewRemoteGenerator(srv.URL, "", 0).Generate(context.Background(), testConfig(1))
			if !apperr.HasKind(err, tt.kind) {
				t.Errorf("Expected kind %s, got %v", tt.kind, err)
			}
		})
	}
}
