package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/troy12x/si-copilot/internal/middleware"
	"github.com/troy12x/si-copilot/internal/models"
	"github.com/troy12x/si-copilot/internal/store"
	"go.uber.org/zap"
)

// DatasetsHandler serves the saved datasets of the authenticated user
type DatasetsHandler struct {
	repo   store.DatasetRepository
	logger *zap.Logger
}

// NewDatasetsHandler creates a new datasets handler
func NewDatasetsHandler(repo store.DatasetRepository, logger *zap.Logger) *DatasetsHandler {
	return &DatasetsHandler{repo: repo, logger: logger}
}

// DatasetSummary is a list entry without the data payload
type DatasetSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Splits      []string `json:"splits"`
	RowCount    int      `json:"row_count"`
	SizeBytes   int      `json:"size_bytes"`
	CreatedAt   string   `json:"created_at"`
}

// List returns the user's datasets, newest first
func (h *DatasetsHandler) List(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	list, err := h.repo.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list datasets", zap.String("user_id", userID), zap.Error(err))
		middleware.RespondError(c, http.StatusInternalServerError, middleware.ErrCodeDatabaseError, "failed to list datasets")
		return
	}

	out := make([]DatasetSummary, 0, len(list))
	for _, ds := range list {
		out = append(out, DatasetSummary{
			ID:          ds.ID,
			Name:        ds.Name,
			Description: ds.Description,
			Splits:      splitNames(ds),
			RowCount:    ds.RowCount,
			SizeBytes:   ds.SizeBytes,
			CreatedAt:   ds.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"datasets": out})
}

// splitNames lists splits in configured order, then any others by name
func splitNames(ds models.StoredDataset) []string {
	names := make([]string, 0, len(ds.Data))
	seen := make(map[string]bool, len(ds.Data))
	for _, s := range ds.Config.Splits {
		if _, ok := ds.Data[s.Name]; ok && !seen[s.Name] {
			names = append(names, s.Name)
			seen[s.Name] = true
		}
	}
	rest := make([]string, 0)
	for name := range ds.Data {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// Get returns one dataset with its data
func (h *DatasetsHandler) Get(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	ds, err := h.repo.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		middleware.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, ds)
}

// Update changes name, description, config or data of a dataset
func (h *DatasetsHandler) Update(c *gin.Context) {
	var upd store.DatasetUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		middleware.BadRequest(c, err.Error())
		return
	}
	userID, _ := middleware.GetUserID(c)
	ds, err := h.repo.Update(c.Request.Context(), c.Param("id"), userID, upd)
	if err != nil {
		middleware.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, ds)
}

// Delete removes a dataset
func (h *DatasetsHandler) Delete(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	if err := h.repo.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		middleware.RespondAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Export downloads the records of one split, or the whole dataset when no
// split is given
func (h *DatasetsHandler) Export(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	ds, err := h.repo.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		middleware.RespondAppError(c, err)
		return
	}

	base := strings.Trim(unsafeFilename.ReplaceAllString(strings.ToLower(ds.Name), "_"), "_")
	if base == "" {
		base = "dataset"
	}

	var payload any = ds.Data
	if split := c.Query("split"); split != "" {
		records, ok := ds.Data[split]
		if !ok {
			middleware.NotFound(c, fmt.Sprintf("split %q not found", split))
			return
		}
		if records == nil {
			records = []models.Record{}
		}
		payload = records
		base += "_" + unsafeFilename.ReplaceAllString(split, "_")
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.json"`, base))
	c.IndentedJSON(http.StatusOK, payload)
}

// Stats returns the dataset count and total rows of the user
func (h *DatasetsHandler) Stats(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	stats, err := h.repo.UserStats(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to read user stats", zap.String("user_id", userID), zap.Error(err))
		middleware.RespondError(c, http.StatusInternalServerError, middleware.ErrCodeDatabaseError, "failed to read stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}
