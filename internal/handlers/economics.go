package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/troy12x/si-copilot/internal/economics"
	"github.com/troy12x/si-copilot/internal/middleware"
	"github.com/troy12x/si-copilot/internal/models"
	"go.uber.org/zap"
)

// Economics estimates run costs and reports logged usage
type Economics interface {
	EstimateCost(provider, model string, numSamples int) economics.Estimate
	UserUsage(ctx context.Context, userID string) (models.TokenUsage, float64, error)
}

// EconomicsHandler serves the model catalog, estimates and usage
type EconomicsHandler struct {
	econ   Economics
	logger *zap.Logger
}

func NewEconomicsHandler(econ Economics, logger *zap.Logger) *EconomicsHandler {
	return &EconomicsHandler{econ: econ, logger: logger}
}

// Models lists the catalog, optionally filtered by ?provider=
func (h *EconomicsHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": economics.ModelsFor(c.Query("provider"))})
}

type EstimateCostRequest struct {
	Provider   string `json:"provider"`
	Model      string `json:"model" binding:"required"`
	NumSamples int    `json:"numSamples" binding:"required,min=1"`
}

func (h *EconomicsHandler) EstimateCost(c *gin.Context) {
	var req EstimateCostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.BadRequest(c, err.Error())
		return
	}
	if req.Provider == "" {
		req.Provider = models.DefaultProvider
	}
	c.JSON(http.StatusOK, h.econ.EstimateCost(req.Provider, req.Model, req.NumSamples))
}

// Usage sums the caller's logged tokens and cost
func (h *EconomicsHandler) Usage(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	usage, cost, err := h.econ.UserUsage(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to read usage", zap.String("user_id", userID), zap.Error(err))
		middleware.RespondError(c, http.StatusInternalServerError, middleware.ErrCodeDatabaseError, "failed to read usage")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokenUsage": usage, "totalCost": cost})
}
