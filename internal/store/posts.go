package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yangwenmai/softpost/internal/model"
)

const postColumns = `id, artifact_id, social_account_id, scheduled_for, timezone, status, published_at, external_post_id, last_error, retry_count, max_retries, notes, created_at, updated_at`

// activeSlotTaken is the error for a second active schedule of one pair.
func activeSlotTaken(p *model.ScheduledPost) error {
	return model.FieldError{Field: "artifactId", Message: fmt.Sprintf("artifact %s is already scheduled for account %s", p.ArtifactID, p.SocialAccountID)}
}

// CreateScheduledPost inserts a post. The partial unique index rejects a
// second active post for the same artifact and account.
func (s *Store) CreateScheduledPost(ctx context.Context, p *model.ScheduledPost) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.stamp()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ArtifactID, p.SocialAccountID, formatTime(p.ScheduledFor), p.Timezone, string(p.Status),
		formatNullTime(p.PublishedAt), p.ExternalPostID, p.LastError, p.RetryCount, p.MaxRetries, p.Notes,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return activeSlotTaken(p)
	}
	return err
}

// GetScheduledPost returns one post.
func (s *Store) GetScheduledPost(ctx context.Context, id string) (*model.ScheduledPost, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM scheduled_posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if err != nil {
		return nil, notFound(err, "scheduled post", id)
	}
	return p, nil
}

func postWhere(f model.ScheduledPostFilter) (string, []any) {
	var conditions []string
	var args []any
	if len(f.Status) > 0 {
		conditions = append(conditions, "status IN ("+inClause(len(f.Status))+")")
		args = append(args, statusArgs(f.Status)...)
	}
	if f.AccountID != "" {
		conditions = append(conditions, "social_account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.ArtifactID != "" {
		conditions = append(conditions, "artifact_id = ?")
		args = append(args, f.ArtifactID)
	}
	if f.From != nil {
		conditions = append(conditions, "scheduled_for >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		conditions = append(conditions, "scheduled_for < ?")
		args = append(args, formatTime(*f.To))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// ListScheduledPosts returns posts matching f in ascending scheduled time.
func (s *Store) ListScheduledPosts(ctx context.Context, f model.ScheduledPostFilter) ([]model.ScheduledPost, error) {
	where, args := postWhere(f)
	query := `SELECT ` + postColumns + ` FROM scheduled_posts` + where + ` ORDER BY scheduled_for ASC, id` + pageClause(f.Limit, f.Offset)
	return s.queryPosts(ctx, query, args...)
}

// CountScheduledPosts returns the number of posts matching f, ignoring paging.
func (s *Store) CountScheduledPosts(ctx context.Context, f model.ScheduledPostFilter) (int, error) {
	where, args := postWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_posts`+where, args...).Scan(&n)
	return n, err
}

// ListDuePosts returns up to limit pending posts scheduled at or before now,
// oldest first.
func (s *Store) ListDuePosts(ctx context.Context, now time.Time, limit int) ([]model.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE status = ? AND scheduled_for <= ? ORDER BY scheduled_for ASC, id` + pageClause(limit, 0)
	return s.queryPosts(ctx, query, string(model.StatusPending), formatTime(now))
}

func (s *Store) queryPosts(ctx context.Context, query string, args ...any) ([]model.ScheduledPost, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []model.ScheduledPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// ClaimPost atomically moves a post whose status is one of from to posting.
// Returns nil if the post is gone or another caller claimed it first.
func (s *Store) ClaimPost(ctx context.Context, id string, from []model.PostStatus) (*model.ScheduledPost, error) {
	if len(from) == 0 {
		return nil, nil
	}
	args := append([]any{string(model.StatusPosting), formatTime(s.stamp()), id}, statusArgs(from)...)
	row := s.db.QueryRowContext(ctx, `
		UPDATE scheduled_posts SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (`+inClause(len(from))+`)
		RETURNING `+postColumns, args...)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// MarkPublished records a successful publish.
func (s *Store) MarkPublished(ctx context.Context, id, externalID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_posts SET status = ?, external_post_id = ?, published_at = ?, last_error = '', updated_at = ?
		WHERE id = ?`,
		string(model.StatusPublished), externalID, formatTime(at), formatTime(s.stamp()), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "scheduled post", id)
}

// RequeuePost returns a post to pending for another attempt at at.
func (s *Store) RequeuePost(ctx context.Context, id string, retryCount int, at time.Time, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_posts SET status = ?, retry_count = ?, scheduled_for = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(model.StatusPending), retryCount, formatTime(at), lastError, formatTime(s.stamp()), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "scheduled post", id)
}

// MarkFailed records a terminal failure.
func (s *Store) MarkFailed(ctx context.Context, id string, retryCount int, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_posts SET status = ?, retry_count = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(model.StatusFailed), retryCount, lastError, formatTime(s.stamp()), id,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "scheduled post", id)
}

// UpdateScheduledPost writes the mutable fields of p. A post that is
// already published is left untouched and reported as a field error.
func (s *Store) UpdateScheduledPost(ctx context.Context, p *model.ScheduledPost) error {
	p.UpdatedAt = s.stamp()
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_posts SET scheduled_for = ?, timezone = ?, status = ?, published_at = ?, external_post_id = ?,
			last_error = ?, retry_count = ?, max_retries = ?, notes = ?, updated_at = ?
		WHERE id = ? AND status <> ?`,
		formatTime(p.ScheduledFor), p.Timezone, string(p.Status), formatNullTime(p.PublishedAt), p.ExternalPostID,
		p.LastError, p.RetryCount, p.MaxRetries, p.Notes, formatTime(p.UpdatedAt), p.ID, string(model.StatusPublished),
	)
	if isUniqueViolation(err) {
		return activeSlotTaken(p)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.unchangedPost(ctx, p.ID)
	}
	return nil
}

// UpdatePostNotes sets the notes of a post and leaves every other column
// alone. Published posts are immutable.
func (s *Store) UpdatePostNotes(ctx context.Context, id, notes string) (*model.ScheduledPost, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE scheduled_posts SET notes = ?, updated_at = ?
		WHERE id = ? AND status <> ?
		RETURNING `+postColumns,
		notes, formatTime(s.stamp()), id, string(model.StatusPublished),
	)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.unchangedPost(ctx, id)
	}
	return p, err
}

// unchangedPost explains why a guarded update matched no row.
func (s *Store) unchangedPost(ctx context.Context, id string) error {
	p, err := s.GetScheduledPost(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == model.StatusPublished {
		return model.Invalid("status", "published posts cannot be modified")
	}
	return fmt.Errorf("scheduled post %s: %w", id, model.ErrNotFound)
}

// DeleteScheduledPost removes a post.
func (s *Store) DeleteScheduledPost(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_posts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "scheduled post", id)
}

// FindActiveSchedule returns the active post for the pair, or nil if none.
func (s *Store) FindActiveSchedule(ctx context.Context, artifactID, accountID string) (*model.ScheduledPost, error) {
	args := append([]any{artifactID, accountID}, statusArgs(model.ActiveStatuses)...)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM scheduled_posts
		 WHERE artifact_id = ? AND social_account_id = ? AND status IN (`+inClause(len(model.ActiveStatuses))+`)
		 LIMIT 1`, args...)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// CountByStatus returns the number of posts per status. Every status is
// present in the result.
func (s *Store) CountByStatus(ctx context.Context) (model.StatusCounts, error) {
	counts := make(model.StatusCounts, len(model.PostStatuses))
	for _, st := range model.PostStatuses {
		counts[st] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM scheduled_posts GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var st model.PostStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// ResetStalePosting returns posts left in posting by a crashed process to
// pending (for server restart).
func (s *Store) ResetStalePosting(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE scheduled_posts SET status = ?, updated_at = ? WHERE status = ?`,
		string(model.StatusPending), formatTime(s.stamp()), string(model.StatusPosting))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanPost(row scanner) (*model.ScheduledPost, error) {
	var p model.ScheduledPost
	var scheduledFor, createdAt, updatedAt string
	var publishedAt sql.NullString
	err := row.Scan(&p.ID, &p.ArtifactID, &p.SocialAccountID, &scheduledFor, &p.Timezone, &p.Status, &publishedAt,
		&p.ExternalPostID, &p.LastError, &p.RetryCount, &p.MaxRetries, &p.Notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if p.ScheduledFor, err = parseTime(scheduledFor); err != nil {
		return nil, err
	}
	if p.PublishedAt, err = parseNullTime(publishedAt); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// AppendHistory records one successful publish.
func (s *Store) AppendHistory(ctx context.Context, h *model.PostHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.PostedAt.IsZero() {
		h.PostedAt = s.stamp()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_history (id, scheduled_post_id, artifact_id, social_account_id, platform, external_post_id, external_url, raw_response, posted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.ScheduledPostID, h.ArtifactID, h.SocialAccountID, string(h.Platform), h.ExternalPostID, h.ExternalURL, h.RawResponse,
		formatTime(h.PostedAt),
	)
	return err
}

// ListHistory returns the publish records of a scheduled post, oldest first.
func (s *Store) ListHistory(ctx context.Context, postID string) ([]model.PostHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scheduled_post_id, artifact_id, social_account_id, platform, external_post_id, external_url, raw_response, posted_at
		FROM post_history WHERE scheduled_post_id = ? ORDER BY posted_at ASC`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []model.PostHistory
	for rows.Next() {
		var h model.PostHistory
		var postedAt string
		if err := rows.Scan(&h.ID, &h.ScheduledPostID, &h.ArtifactID, &h.SocialAccountID, &h.Platform, &h.ExternalPostID,
			&h.ExternalURL, &h.RawResponse, &postedAt); err != nil {
			return nil, err
		}
		if h.PostedAt, err = parseTime(postedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}
