package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	TogetherAIBaseURL = "https://api.together.xyz/v1"
	VeniceAIBaseURL   = "https://api.venice.ai/api/v1"
)

// tokenLimitField selects which request field carries the output token limit
type tokenLimitField int

const (
	maxTokensField tokenLimitField = iota
	maxCompletionTokensField
)

// Breaker gates calls to a failing upstream
type Breaker interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
}

// ChatProvider is an OpenAI-compatible chat-completions endpoint
type ChatProvider struct {
	name       string
	client     *openai.Client
	limitField tokenLimitField
	breaker    Breaker
}

// Config holds connection settings for one provider
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Breaker Breaker
}

// NewTogetherAI sends max_tokens with bearer auth
func NewTogetherAI(cfg Config) *ChatProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = TogetherAIBaseURL
	}
	return newChatProvider(TogetherAI, cfg, maxTokensField, http.DefaultTransport)
}

// NewVeniceAI sends max_completion_tokens and accepts gzip or brotli responses
func NewVeniceAI(cfg Config) *ChatProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = VeniceAIBaseURL
	}
	return newChatProvider(VeniceAI, cfg, maxCompletionTokensField, &compressionTransport{base: http.DefaultTransport})
}

func newChatProvider(name string, cfg Config, field tokenLimitField, transport http.RoundTripper) *ChatProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	return &ChatProvider{
		name:       name,
		client:     openai.NewClientWithConfig(oc),
		limitField: field,
		breaker:    cfg.Breaker,
	}
}

func (p *ChatProvider) Name() string { return p.name }

// Complete sends one chat-completion request
func (p *ChatProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	ctx, span := otel.Tracer("provider").Start(ctx, "provider.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", p.name),
		attribute.String("model", req.Model),
	)

	if p.breaker != nil && !p.breaker.Allow() {
		err := apperr.UpstreamCall(errors.New("circuit open for " + p.name))
		span.SetStatus(codes.Error, err.Error())
		return Completion{}, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		p.recordFailure()
		classified := classify(err)
		span.RecordError(classified)
		span.SetStatus(codes.Error, classified.Error())
		return Completion{}, classified
	}
	if len(resp.Choices) == 0 {
		p.recordFailure()
		return Completion{}, apperr.UpstreamCall(errors.New("response has no choices"))
	}
	if p.breaker != nil {
		p.breaker.RecordSuccess()
	}

	usage := models.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	span.SetAttributes(attribute.Int("tokens.total", usage.TotalTokens))
	return Completion{Text: resp.Choices[0].Message.Content, Usage: usage}, nil
}

func (p *ChatProvider) buildRequest(req Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	switch p.limitField {
	case maxCompletionTokensField:
		out.MaxCompletionTokens = req.MaxTokens
	default:
		out.MaxTokens = req.MaxTokens
	}
	return out
}

func (p *ChatProvider) recordFailure() {
	if p.breaker != nil {
		p.breaker.RecordFailure()
	}
}

// classify maps client errors onto the upstream error kinds
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return apperr.RateLimited(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return apperr.RateLimited(err)
	}
	if apperr.MentionsRateLimit(err.Error()) {
		return apperr.RateLimited(err)
	}
	return apperr.UpstreamCall(err)
}
