package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/yangwenmai/softpost/internal/model"
)

// SaveSession records a generation batch.
func (s *Store) SaveSession(ctx context.Context, gs *model.GenerationSession) error {
	if gs.ID == "" {
		gs.ID = uuid.NewString()
	}
	if gs.CreatedAt.IsZero() {
		gs.CreatedAt = s.stamp()
	}
	lists := []any{gs.Segments, gs.Platforms, gs.ArtifactIDs, gs.Errors}
	encoded := make([]string, len(lists))
	for i, v := range lists {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		encoded[i] = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_sessions (id, seed_idea, monthly_theme, segments, platforms, artifact_ids, errors, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		gs.ID, gs.SeedIdea, gs.MonthlyTheme, encoded[0], encoded[1], encoded[2], encoded[3], formatTime(gs.CreatedAt),
	)
	return err
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]model.GenerationSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seed_idea, monthly_theme, segments, platforms, artifact_ids, errors, created_at
		FROM generation_sessions ORDER BY created_at DESC, id`+pageClause(limit, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.GenerationSession
	for rows.Next() {
		var gs model.GenerationSession
		var segments, platforms, artifactIDs, errs, createdAt string
		if err := rows.Scan(&gs.ID, &gs.SeedIdea, &gs.MonthlyTheme, &segments, &platforms, &artifactIDs, &errs, &createdAt); err != nil {
			return nil, err
		}
		fields := []struct {
			raw string
			dst any
		}{
			{segments, &gs.Segments},
			{platforms, &gs.Platforms},
			{artifactIDs, &gs.ArtifactIDs},
			{errs, &gs.Errors},
		}
		for _, f := range fields {
			if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
				return nil, fmt.Errorf("decode session %s: %w", gs.ID, err)
			}
		}
		if gs.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, gs)
	}
	return sessions, rows.Err()
}
