// Package store persists finalized datasets, user sessions and lookups
// scoped to the owning user.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/troy12x/si-copilot/internal/models"
)

// DBTX is the subset of pgxpool.Pool the repositories use
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DatasetUpdate holds the fields to change. Nil fields are left alone.
type DatasetUpdate struct {
	Name        *string               `json:"name,omitempty"`
	Description *string               `json:"description,omitempty"`
	Config      *models.DatasetConfig `json:"config,omitempty"`
	Data        models.Dataset        `json:"data,omitempty"`
}

// DatasetRepository stores datasets keyed by id and owning user
type DatasetRepository interface {
	Create(ctx context.Context, ds *models.StoredDataset) error
	Get(ctx context.Context, id, userID string) (*models.StoredDataset, error)
	Update(ctx context.Context, id, userID string, upd DatasetUpdate) (*models.StoredDataset, error)
	Delete(ctx context.Context, id, userID string) error
	ListByUser(ctx context.Context, userID string) ([]models.StoredDataset, error)
	UserStats(ctx context.Context, userID string) (models.UserStats, error)
}

// SessionRepository tracks generation sessions per user
type SessionRepository interface {
	CreateSession(ctx context.Context, userID string, metadata map[string]any) (*models.UserSession, error)
	ValidateSession(ctx context.Context, userID, sessionKey string) (bool, error)
	GetSession(ctx context.Context, sessionKey string) (*models.UserSession, error)
}

// NewStoredDataset builds a dataset record with its row count and size
// (the byte length of the JSON-encoded data) filled in.
func NewStoredDataset(userID, name, description string, cfg models.DatasetConfig, data models.Dataset) (*models.StoredDataset, error) {
	ds := &models.StoredDataset{
		UserID:      userID,
		Name:        name,
		Description: description,
		Config:      cfg,
		Data:        data,
	}
	if err := measure(ds); err != nil {
		return nil, err
	}
	return ds, nil
}

func measure(ds *models.StoredDataset) error {
	if ds.Data == nil {
		ds.Data = models.Dataset{}
	}
	raw, err := json.Marshal(ds.Data)
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	ds.RowCount = ds.Data.Rows()
	ds.SizeBytes = len(raw)
	return nil
}

// apply merges upd into ds and re-measures when the data changed
func apply(ds *models.StoredDataset, upd DatasetUpdate) error {
	if upd.Name != nil {
		ds.Name = *upd.Name
	}
	if upd.Description != nil {
		ds.Description = *upd.Description
	}
	if upd.Config != nil {
		ds.Config = *upd.Config
	}
	if upd.Data != nil {
		ds.Data = upd.Data
		return measure(ds)
	}
	return nil
}
