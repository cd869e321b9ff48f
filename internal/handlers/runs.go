package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/eventbus"
	"github.com/troy12x/si-copilot/internal/middleware"
	"github.com/troy12x/si-copilot/internal/models"
	"github.com/troy12x/si-copilot/internal/runs"
	"github.com/troy12x/si-copilot/internal/scratch"
	"github.com/troy12x/si-copilot/internal/store"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// EventHistory reads stored run events
type EventHistory interface {
	Read(subject string) ([]eventbus.Event, error)
}

// RunsHandler starts, inspects, streams and saves orchestrated runs
type RunsHandler struct {
	runs     *runs.Manager
	datasets store.DatasetRepository
	scratch  scratch.Store
	history  EventHistory
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewRunsHandler creates a runs handler. scratch and history may be nil.
func NewRunsHandler(m *runs.Manager, datasets store.DatasetRepository, sc scratch.Store, history EventHistory, logger *zap.Logger) *RunsHandler {
	return &RunsHandler{
		runs:     m,
		datasets: datasets,
		scratch:  sc,
		history:  history,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// StartRunRequest is the request body for starting a run
type StartRunRequest struct {
	Config      models.DatasetConfig `json:"config"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
}

// Start launches a run in the background and returns its initial state
func (h *RunsHandler) Start(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.BadRequest(c, err.Error())
		return
	}
	userID, ok := middleware.GetUserID(c)
	if !ok {
		middleware.Unauthorized(c, "unauthorized")
		return
	}

	snap, err := h.runs.Start(runs.StartRequest{
		UserID:      userID,
		SessionID:   middleware.GetSessionID(c),
		Name:        req.Name,
		Description: req.Description,
		Config:      req.Config,
	})
	if err != nil {
		middleware.RespondAppError(c, err)
		return
	}

	h.logger.Info("run started",
		zap.String("run_id", snap.ID),
		zap.String("user_id", userID),
		zap.Int("num_samples", req.Config.NumSamples),
	)
	c.JSON(http.StatusAccepted, snap)
}

// Get returns the state of a run
func (h *RunsHandler) Get(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	snap, err := h.runs.Get(c.Param("id"), userID)
	if err != nil {
		middleware.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Cancel stops a run. Rows generated so far stay available.
func (h *RunsHandler) Cancel(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	snap, err := h.runs.Cancel(c.Param("id"), userID)
	if err != nil {
		middleware.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Stream upgrades to a websocket that receives the current state followed
// by progress and completion events
func (h *RunsHandler) Stream(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	snap, events, cancel, err := h.runs.Subscribe(c.Param("id"), userID)
	if err != nil {
		middleware.RespondAppError(c, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Reads only serve control frames; a read error means the client left
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	first := runs.Event{Type: runs.EventSnapshot, RunID: snap.ID, Status: snap.Status, Progress: snap.Progress, Run: &snap}
	if err := h.write(conn, first); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				h.closeStream(conn, snap.ID, userID)
				return
			}
			if err := h.write(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (h *RunsHandler) write(conn *websocket.Conn, ev runs.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		h.logger.Debug("websocket write failed", zap.String("run_id", ev.RunID), zap.Error(err))
		return err
	}
	return nil
}

// closeStream ends the stream once the event channel is closed. The hub also
// closes channels of subscribers that fell behind, so a run that is still
// going gets a fresh snapshot and a try-again close instead of "run finished".
func (h *RunsHandler) closeStream(conn *websocket.Conn, runID, userID string) {
	finished := true
	if current, err := h.runs.Get(runID, userID); err == nil && !current.Status.Finished() {
		finished = false
		ev := runs.Event{Type: runs.EventSnapshot, RunID: current.ID, Status: current.Status, Progress: current.Progress, Run: &current}
		if err := h.write(conn, ev); err != nil {
			return
		}
	}
	code, reason := streamCloseFrame(finished)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

func streamCloseFrame(finished bool) (int, string) {
	if finished {
		return websocket.CloseNormalClosure, "run finished"
	}
	return websocket.CloseTryAgainLater, "stream fell behind, reconnect"
}

// SaveRunRequest optionally renames the dataset on save
type SaveRunRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Save persists a finished run's dataset and clears the scratch snapshot
func (h *RunsHandler) Save(c *gin.Context) {
	var req SaveRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.BadRequest(c, err.Error())
			return
		}
	}
	userID, _ := middleware.GetUserID(c)
	snap, err := h.runs.Get(c.Param("id"), userID)
	if err != nil {
		middleware.RespondAppError(c, err)
		return
	}
	if snap.Status == runs.StatusRunning {
		middleware.RespondAppError(c, apperr.Validation("run is still in progress"))
		return
	}
	if snap.Dataset.Rows() == 0 {
		middleware.RespondAppError(c, apperr.Validation("run produced no records"))
		return
	}

	name, desc := snap.Name, snap.Description
	if req.Name != "" {
		name = req.Name
	}
	if req.Description != "" {
		desc = req.Description
	}

	ds, err := store.NewStoredDataset(userID, name, desc, snap.Config, snap.Dataset)
	if err != nil {
		middleware.RespondAppError(c, err)
		return
	}
	if err := h.datasets.Create(c.Request.Context(), ds); err != nil {
		h.logger.Error("failed to save dataset", zap.String("run_id", snap.ID), zap.Error(err))
		middleware.RespondError(c, http.StatusInternalServerError, middleware.ErrCodeDatabaseError, "failed to save dataset")
		return
	}

	if h.scratch != nil {
		key := scratch.Key(snap.SessionID, userID)
		if err := h.scratch.Delete(c.Request.Context(), key); err != nil {
			h.logger.Warn("failed to clear scratch snapshot", zap.String("key", key), zap.Error(err))
		}
	}

	h.logger.Info("dataset saved",
		zap.String("dataset_id", ds.ID),
		zap.String("run_id", snap.ID),
		zap.Int("rows", ds.RowCount),
		zap.Int("size_bytes", ds.SizeBytes),
	)
	c.JSON(http.StatusCreated, ds)
}

// Events returns the stored lifecycle events of a run
func (h *RunsHandler) Events(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	id := c.Param("id")
	if _, err := h.runs.Get(id, userID); err != nil {
		middleware.RespondAppError(c, err)
		return
	}
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"events": []eventbus.Event{}})
		return
	}
	events, err := h.history.Read(eventbus.RunHistorySubject(id))
	if err != nil {
		h.logger.Warn("failed to read run events", zap.String("run_id", id), zap.Error(err))
		middleware.InternalError(c, "failed to read run events")
		return
	}
	if events == nil {
		events = []eventbus.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Scratch returns the in-progress snapshot of the caller's session
func (h *RunsHandler) Scratch(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	if h.scratch == nil {
		middleware.NotFound(c, "no snapshot")
		return
	}
	snap, err := h.scratch.Load(c.Request.Context(), scratch.Key(middleware.GetSessionID(c), userID))
	if errors.Is(err, scratch.ErrNotFound) {
		middleware.NotFound(c, "no snapshot")
		return
	}
	if err != nil {
		middleware.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ClearScratch discards the caller's in-progress snapshot
func (h *RunsHandler) ClearScratch(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	if h.scratch != nil {
		if err := h.scratch.Delete(c.Request.Context(), scratch.Key(middleware.GetSessionID(c), userID)); err != nil {
			middleware.RespondAppError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}
