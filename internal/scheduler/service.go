package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yangwenmai/softpost/internal/model"
)

// MaxRetriesLimit bounds the per-post retry budget.
const MaxRetriesLimit = 10

// ScheduleInput is a request to publish an artifact to an account.
type ScheduleInput struct {
	ArtifactID   string    `json:"artifactId"`
	AccountID    string    `json:"socialAccountId"`
	ScheduledFor time.Time `json:"scheduledFor"`
	Timezone     string    `json:"timezone,omitempty"`
	// MaxRetries of 0 selects model.DefaultMaxRetries.
	MaxRetries int    `json:"maxRetries,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// DeleteResult tells whether Delete removed the post or cancelled it.
type DeleteResult string

// Delete results.
const (
	Deleted   DeleteResult = "deleted"
	Cancelled DeleteResult = "cancelled"
)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// Service applies the scheduling rules on top of the store.
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule creates a pending post after checking that the artifact and an
// active, platform-compatible account exist, that the time is in the future
// and that the pair has no other active schedule.
func (s *Service) Schedule(ctx context.Context, in ScheduleInput) (*model.ScheduledPost, error) {
	var errs model.ValidationErrors
	if in.ArtifactID == "" {
		errs = append(errs, model.FieldError{Field: "artifactId", Message: "artifact id is required"})
	}
	if in.AccountID == "" {
		errs = append(errs, model.FieldError{Field: "socialAccountId", Message: "social account id is required"})
	}
	if in.ScheduledFor.IsZero() {
		errs = append(errs, model.FieldError{Field: "scheduledFor", Message: "scheduled time is required"})
	} else if !in.ScheduledFor.After(s.now()) {
		errs = append(errs, model.FieldError{Field: "scheduledFor", Message: "scheduled time must be in the future"})
	}
	if in.MaxRetries < 0 || in.MaxRetries > MaxRetriesLimit {
		errs = append(errs, model.FieldError{Field: "maxRetries", Message: fmt.Sprintf("must be between 0 and %d", MaxRetriesLimit)})
	}
	if in.Timezone != "" {
		if _, err := time.LoadLocation(in.Timezone); err != nil {
			errs = append(errs, model.FieldError{Field: "timezone", Message: "unknown timezone " + in.Timezone})
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	artifact, err := s.store.GetArtifact(ctx, in.ArtifactID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, model.Invalid("artifactId", "artifact "+in.ArtifactID+" not found")
	} else if err != nil {
		return nil, err
	}
	account, err := s.store.GetAccount(ctx, in.AccountID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, model.Invalid("socialAccountId", "social account "+in.AccountID+" not found")
	} else if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, model.Invalid("socialAccountId", "social account "+account.ID+" is inactive")
	}
	if !account.Accepts(artifact.Platform) {
		return nil, model.Invalid("socialAccountId", fmt.Sprintf("platform mismatch: %s artifact cannot be published to a %s account", artifact.Platform, account.Platform))
	}
	if err := s.ensureFree(ctx, in.ArtifactID, in.AccountID, ""); err != nil {
		return nil, err
	}

	post := model.NewScheduledPost(uuid.NewString(), in.ArtifactID, in.AccountID, in.ScheduledFor, in.Timezone, in.MaxRetries)
	post.Notes = in.Notes
	if err := s.store.CreateScheduledPost(ctx, &post); err != nil {
		return nil, err
	}
	s.logger.Info("post scheduled", "post_id", post.ID, "artifact_id", post.ArtifactID, "account_id", post.SocialAccountID, "scheduled_for", post.ScheduledFor)
	return &post, nil
}

// ensureFree rejects a second active schedule for the same pair. self is
// ignored so a post can be reactivated in place.
func (s *Service) ensureFree(ctx context.Context, artifactID, accountID, self string) error {
	return ensureFree(ctx, s.store, artifactID, accountID, self)
}

func ensureFree(ctx context.Context, store Store, artifactID, accountID, self string) error {
	existing, err := store.FindActiveSchedule(ctx, artifactID, accountID)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != self {
		return model.Invalid("artifactId", fmt.Sprintf("artifact is already scheduled for this account (post %s, %s)", existing.ID, existing.Status))
	}
	return nil
}

// Cancel moves a non-published post to cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*model.ScheduledPost, error) {
	post, err := s.store.GetScheduledPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := post.CanCancel(); err != nil {
		return nil, model.Invalid("status", err.Error())
	}
	post.Status = model.StatusCancelled
	if err := s.store.UpdateScheduledPost(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// Retry resets a failed or cancelled post to pending, due immediately, with
// a fresh retry budget.
func (s *Service) Retry(ctx context.Context, id string) (*model.ScheduledPost, error) {
	post, err := s.store.GetScheduledPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status != model.StatusFailed && post.Status != model.StatusCancelled {
		return nil, model.Invalid("status", fmt.Sprintf("only failed or cancelled posts can be retried, post is %s", post.Status))
	}
	if err := s.ensureFree(ctx, post.ArtifactID, post.SocialAccountID, post.ID); err != nil {
		return nil, err
	}
	post.Status = model.StatusPending
	post.RetryCount = 0
	post.LastError = ""
	post.ScheduledFor = s.now().UTC()
	if err := s.store.UpdateScheduledPost(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// Reschedule moves a post to a new future instant and makes it pending.
// An empty timezone keeps the current one.
func (s *Service) Reschedule(ctx context.Context, id string, at time.Time, timezone string) (*model.ScheduledPost, error) {
	post, err := s.store.GetScheduledPost(ctx, id)
	if err != nil {
		return nil, err
	}
	switch post.Status {
	case model.StatusPublished:
		return nil, model.Invalid("status", "published posts cannot be rescheduled")
	case model.StatusPosting:
		return nil, model.Invalid("status", "post is being published")
	}
	if !at.After(s.now()) {
		return nil, model.Invalid("scheduledFor", "scheduled time must be in the future")
	}
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, model.Invalid("timezone", "unknown timezone "+timezone)
		}
		post.Timezone = timezone
	}
	if !post.Status.IsActive() {
		if err := s.ensureFree(ctx, post.ArtifactID, post.SocialAccountID, post.ID); err != nil {
			return nil, err
		}
	}
	post.Status = model.StatusPending
	post.ScheduledFor = at.UTC()
	if err := s.store.UpdateScheduledPost(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// UpdateNotes replaces the free-form notes of a post that is not yet
// published. Only the notes column is written, so a dispatch finishing
// concurrently keeps its outcome.
func (s *Service) UpdateNotes(ctx context.Context, id, notes string) (*model.ScheduledPost, error) {
	post, err := s.store.GetScheduledPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status == model.StatusPublished {
		return nil, model.Invalid("status", "published posts cannot be modified")
	}
	return s.store.UpdatePostNotes(ctx, id, notes)
}

// Delete removes pending and failed posts and cancels any other
// non-published post. Published posts are kept for the record.
func (s *Service) Delete(ctx context.Context, id string) (DeleteResult, error) {
	post, err := s.store.GetScheduledPost(ctx, id)
	if err != nil {
		return "", err
	}
	switch post.Status {
	case model.StatusPublished:
		return "", model.Invalid("status", "published posts cannot be deleted")
	case model.StatusPending, model.StatusFailed:
		if err := s.store.DeleteScheduledPost(ctx, id); err != nil {
			return "", err
		}
		return Deleted, nil
	default:
		if post.Status != model.StatusCancelled {
			post.Status = model.StatusCancelled
			if err := s.store.UpdateScheduledPost(ctx, post); err != nil {
				return "", err
			}
		}
		return Cancelled, nil
	}
}
