package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/troy12x/si-copilot/internal/apperr"
	"github.com/troy12x/si-copilot/internal/models"
)

// Sessions is the Postgres SessionRepository
type Sessions struct {
	db DBTX
}

func NewSessions(db DBTX) *Sessions {
	return &Sessions{db: db}
}

// CreateSession issues a new random session key for userID
func (r *Sessions) CreateSession(ctx context.Context, userID string, metadata map[string]any) (*models.UserSession, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode session metadata: %w", err)
	}

	s := &models.UserSession{
		ID:         uuid.New().String(),
		UserID:     userID,
		SessionKey: uuid.New().String(),
		Metadata:   metadata,
	}
	query := `
		INSERT INTO user_sessions (id, user_id, session_key, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, last_accessed
	`
	if err := r.db.QueryRow(ctx, query, s.ID, s.UserID, s.SessionKey, meta).Scan(&s.CreatedAt, &s.LastAccessed); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

// ValidateSession reports whether sessionKey belongs to userID and touches its last access time
func (r *Sessions) ValidateSession(ctx context.Context, userID, sessionKey string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE user_sessions SET last_accessed = NOW() WHERE user_id = $1 AND session_key = $2`,
		userID, sessionKey,
	)
	if err != nil {
		return false, fmt.Errorf("failed to validate session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Sessions) GetSession(ctx context.Context, sessionKey string) (*models.UserSession, error) {
	var (
		s    models.UserSession
		id   uuid.UUID
		meta []byte
	)
	query := `SELECT id, user_id, session_key, metadata, created_at, last_accessed FROM user_sessions WHERE session_key = $1`
	err := r.db.QueryRow(ctx, query, sessionKey).Scan(&id, &s.UserID, &s.SessionKey, &meta, &s.CreatedAt, &s.LastAccessed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("session")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	s.ID = id.String()
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &s.Metadata); err != nil {
			return nil, fmt.Errorf("decode session metadata: %w", err)
		}
	}
	return &s, nil
}
