package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yangwenmai/softpost/internal/model"
)

const artifactColumns = `id, payload, created_at, updated_at`

// SaveArtifact inserts a new artifact, assigning an ID when it has none.
func (s *Store) SaveArtifact(ctx context.Context, a *model.ContentArtifact) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := s.stamp()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, platform, segment, hook, seed_idea, monthly_theme, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Platform), string(a.Segment), a.Hook, a.SeedIdea, a.MonthlyTheme, string(payload),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	return err
}

// UpdateArtifact replaces the stored content of an existing artifact.
func (s *Store) UpdateArtifact(ctx context.Context, a *model.ContentArtifact) error {
	a.UpdatedAt = s.stamp()
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE artifacts SET platform = ?, segment = ?, hook = ?, seed_idea = ?, monthly_theme = ?, payload = ?, updated_at = ?
		WHERE id = ?`,
		string(a.Platform), string(a.Segment), a.Hook, a.SeedIdea, a.MonthlyTheme, string(payload), formatTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "artifact", a.ID)
}

// GetArtifact returns one artifact.
func (s *Store) GetArtifact(ctx context.Context, id string) (*model.ContentArtifact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if err != nil {
		return nil, notFound(err, "artifact", id)
	}
	return a, nil
}

func artifactWhere(f model.ArtifactFilter) (string, []any) {
	var conditions []string
	var args []any
	if len(f.Platform) > 0 {
		conditions = append(conditions, "platform IN ("+inClause(len(f.Platform))+")")
		for _, p := range f.Platform {
			args = append(args, string(p))
		}
	}
	if len(f.Segment) > 0 {
		conditions = append(conditions, "segment IN ("+inClause(len(f.Segment))+")")
		for _, sg := range f.Segment {
			args = append(args, string(sg))
		}
	}
	if f.Query != "" {
		like := "%" + f.Query + "%"
		conditions = append(conditions, "(hook LIKE ? OR seed_idea LIKE ? OR monthly_theme LIKE ?)")
		args = append(args, like, like, like)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// ListArtifacts returns artifacts matching f, newest first.
func (s *Store) ListArtifacts(ctx context.Context, f model.ArtifactFilter) ([]model.ContentArtifact, error) {
	where, args := artifactWhere(f)
	query := `SELECT ` + artifactColumns + ` FROM artifacts` + where + ` ORDER BY created_at DESC, id` + pageClause(f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []model.ContentArtifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, rows.Err()
}

// CountArtifacts returns the number of artifacts matching f, ignoring paging.
func (s *Store) CountArtifacts(ctx context.Context, f model.ArtifactFilter) (int, error) {
	where, args := artifactWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`+where, args...).Scan(&n)
	return n, err
}

// DeleteArtifact removes an artifact together with its failed and cancelled
// schedules. It is refused while any other schedule references it.
func (s *Store) DeleteArtifact(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var blocking int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM scheduled_posts WHERE artifact_id = ? AND status IN (?, ?, ?, ?)`,
			id, string(model.StatusPending), string(model.StatusQueued), string(model.StatusPosting), string(model.StatusPublished),
		).Scan(&blocking)
		if err != nil {
			return fmt.Errorf("count schedules: %w", err)
		}
		if blocking > 0 {
			return model.Invalid("id", fmt.Sprintf("artifact has %d scheduled or published posts", blocking))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_posts WHERE artifact_id = ?`, id); err != nil {
			return fmt.Errorf("delete schedules: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete artifact: %w", err)
		}
		return requireAffected(res, "artifact", id)
	})
}

func scanArtifact(row scanner) (*model.ContentArtifact, error) {
	var id, payload, createdAt, updatedAt string
	if err := row.Scan(&id, &payload, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var a model.ContentArtifact
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", id, err)
	}
	a.ID = id
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
