package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/models"
)

// GeneratePath is the single-batch endpoint served by the API
const GeneratePath = "/api/v1/generate"

// RemoteGenerator calls a server's generate endpoint for each batch
type RemoteGenerator struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewRemoteGenerator(baseURL, token string, timeout time.Duration) *RemoteGenerator {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &RemoteGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type generateResponse struct {
	Dataset *models.GenerationResult `json:"dataset"`
	Error   string                   `json:"error"`
	Code    string                   `json:"code"`
}

// Generate posts cfg and decodes {dataset} or {error}. 429 responses and
// errors mentioning rate limits are classified as rate limited.
func (g *RemoteGenerator) Generate(ctx context.Context, cfg models.DatasetConfig) (models.GenerationResult, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return models.GenerationResult{}, fmt.Errorf("encode config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+GeneratePath, bytes.NewReader(body))
	if err != nil {
		return models.GenerationResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return models.GenerationResult{}, apperr.UpstreamCall(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.GenerationResult{}, apperr.UpstreamCall(err)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return models.GenerationResult{}, apperr.RateLimited(errors.New(resp.Status))
		}
		return models.GenerationResult{}, apperr.UpstreamCall(fmt.Errorf("%s: undecodable response: %w", resp.Status, err))
	}

	if resp.StatusCode >= 300 || out.Dataset == nil {
		msg := out.Error
		if msg == "" {
			msg = "Failed to generate items"
		}
		return models.GenerationResult{}, classifyResponse(resp.StatusCode, out.Code, msg)
	}
	return *out.Dataset, nil
}

func classifyResponse(status int, code, msg string) error {
	cause := fmt.Errorf("%d: %s", status, msg)
	switch {
	case status == http.StatusTooManyRequests, code == string(apperr.KindUpstreamRateLimited), apperr.MentionsRateLimit(msg):
		return apperr.RateLimited(cause)
	case code == string(apperr.KindUnsupportedProvider):
		return apperr.Wrap(cause, apperr.KindUnsupportedProvider, msg)
	case status == http.StatusBadRequest:
		return apperr.Wrap(cause, apperr.KindValidation, msg)
	}
	return apperr.UpstreamCall(cause)
}
