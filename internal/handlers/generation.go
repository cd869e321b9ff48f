package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/generation"
	"github.com/troy12x/si-copilot/internal/models"
	"go.uber.org/zap"
)

// Generator produces the records of one batch
type Generator interface {
	Generate(ctx context.Context, cfg models.DatasetConfig) (models.GenerationResult, error)
}

// GenerationHandler serves the single-batch generate endpoint
type GenerationHandler struct {
	gen    Generator
	logger *zap.Logger
}

// NewGenerationHandler creates a new generation handler
func NewGenerationHandler(gen Generator, logger *zap.Logger) *GenerationHandler {
	return &GenerationHandler{gen: gen, logger: logger}
}

// generateError is the error body of the generate endpoint. Batch callers
// read error as a plain string and code to decide on retries.
type generateError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Generate runs one upstream call for the posted config.
// Responds 200 {dataset}, or {error, code} with the error kind's status.
func (h *GenerationHandler) Generate(c *gin.Context) {
	var cfg models.DatasetConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, generateError{Error: "Invalid request body: " + err.Error(), Code: string(apperr.KindValidation)})
		return
	}

	cfg, err := generation.Prepare(cfg)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if cfg.NumSamples <= 0 {
		h.respondError(c, apperr.Validation("numSamples must be positive"))
		return
	}

	res, err := h.gen.Generate(c.Request.Context(), cfg)
	if err != nil {
		h.logger.Error("generation failed",
			zap.String("provider", cfg.Provider),
			zap.String("model", cfg.Model),
			zap.Error(err),
		)
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dataset": res})
}

func (h *GenerationHandler) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	msg := err.Error()
	if kind == apperr.KindInternal {
		msg = "Failed to generate dataset"
	}
	_ = c.Error(err)
	c.JSON(apperr.Status(err), generateError{Error: msg, Code: string(kind)})
}
