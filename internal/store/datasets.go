package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/models"
)

// Datasets is the Postgres DatasetRepository
type Datasets struct {
	db DBTX
}

func NewDatasets(db DBTX) *Datasets {
	return &Datasets{db: db}
}

const datasetColumns = `id, user_id, name, description, config, data, row_count, size_bytes, created_at, updated_at`

func (r *Datasets) Create(ctx context.Context, ds *models.StoredDataset) error {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	cfg, data, err := encode(ds)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO datasets (id, user_id, name, description, config, data, row_count, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query, ds.ID, ds.UserID, ds.Name, ds.Description, cfg, data, ds.RowCount, ds.SizeBytes).
		Scan(&ds.CreatedAt, &ds.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	return nil
}

func (r *Datasets) Get(ctx context.Context, id, userID string) (*models.StoredDataset, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.NotFound("dataset")
	}
	query := `SELECT ` + datasetColumns + ` FROM datasets WHERE id = $1 AND user_id = $2`
	ds, err := scanDataset(r.db.QueryRow(ctx, query, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("dataset")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return ds, nil
}

func (r *Datasets) Update(ctx context.Context, id, userID string, upd DatasetUpdate) (*models.StoredDataset, error) {
	ds, err := r.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if err := apply(ds, upd); err != nil {
		return nil, err
	}
	cfg, data, err := encode(ds)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE datasets
		SET name = $3, description = $4, config = $5, data = $6, row_count = $7, size_bytes = $8, updated_at = $9
		WHERE id = $1 AND user_id = $2
		RETURNING updated_at
	`
	err = r.db.QueryRow(ctx, query, ds.ID, userID, ds.Name, ds.Description, cfg, data, ds.RowCount, ds.SizeBytes, time.Now().UTC()).
		Scan(&ds.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("dataset")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update dataset: %w", err)
	}
	return ds, nil
}

func (r *Datasets) Delete(ctx context.Context, id, userID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.NotFound("dataset")
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM datasets WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("dataset")
	}
	return nil
}

// ListByUser returns the user's datasets, newest first
func (r *Datasets) ListByUser(ctx context.Context, userID string) ([]models.StoredDataset, error) {
	query := `SELECT ` + datasetColumns + ` FROM datasets WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	out := []models.StoredDataset{}
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		out = append(out, *ds)
	}
	return out, rows.Err()
}

func (r *Datasets) UserStats(ctx context.Context, userID string) (models.UserStats, error) {
	var stats models.UserStats
	query := `SELECT COUNT(*), COALESCE(SUM(row_count), 0) FROM datasets WHERE user_id = $1`
	if err := r.db.QueryRow(ctx, query, userID).Scan(&stats.TotalDatasets, &stats.TotalRows); err != nil {
		return stats, fmt.Errorf("failed to read user stats: %w", err)
	}
	return stats, nil
}

func encode(ds *models.StoredDataset) (cfg, data []byte, err error) {
	if cfg, err = json.Marshal(ds.Config); err != nil {
		return nil, nil, fmt.Errorf("encode config: %w", err)
	}
	if data, err = json.Marshal(ds.Data); err != nil {
		return nil, nil, fmt.Errorf("encode data: %w", err)
	}
	return cfg, data, nil
}

func scanDataset(row pgx.Row) (*models.StoredDataset, error) {
	var (
		ds        models.StoredDataset
		id        uuid.UUID
		cfg, data []byte
	)
	err := row.Scan(&id, &ds.UserID, &ds.Name, &ds.Description, &cfg, &data, &ds.RowCount, &ds.SizeBytes, &ds.CreatedAt, &ds.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ds.ID = id.String()
	if err := json.Unmarshal(cfg, &ds.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := json.Unmarshal(data, &ds.Data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return &ds, nil
}
