// Package scheduler publishes due scheduled posts and enforces the
// scheduling rules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yangwenmai/softpost/internal/model"
	"github.com/yangwenmai/softpost/internal/notify"
	"github.com/yangwenmai/softpost/internal/publish"
)

// Dispatch outcomes.
const (
	OutcomePublished = "published"
	OutcomeRequeued  = "requeued"
	OutcomeFailed    = "failed"
)

// Store is the persistence the scheduler and Service need.
type Store interface {
	ListDuePosts(ctx context.Context, now time.Time, limit int) ([]model.ScheduledPost, error)
	// ClaimPost moves the post to posting if its status is one of from. It
	// returns nil when another caller won the claim.
	ClaimPost(ctx context.Context, id string, from []model.PostStatus) (*model.ScheduledPost, error)
	GetScheduledPost(ctx context.Context, id string) (*model.ScheduledPost, error)
	GetArtifact(ctx context.Context, id string) (*model.ContentArtifact, error)
	GetAccount(ctx context.Context, id string) (*model.SocialAccount, error)
	MarkPublished(ctx context.Context, id, externalID string, at time.Time) error
	RequeuePost(ctx context.Context, id string, retryCount int, at time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, retryCount int, lastError string) error
	AppendHistory(ctx context.Context, h *model.PostHistory) error

	CreateScheduledPost(ctx context.Context, p *model.ScheduledPost) error
	FindActiveSchedule(ctx context.Context, artifactID, accountID string) (*model.ScheduledPost, error)
	// UpdateScheduledPost rejects posts that are already published.
	UpdateScheduledPost(ctx context.Context, p *model.ScheduledPost) error
	UpdatePostNotes(ctx context.Context, id, notes string) (*model.ScheduledPost, error)
	DeleteScheduledPost(ctx context.Context, id string) error
}

// Recorder receives dispatch telemetry.
type Recorder interface {
	Dispatch(platform model.Platform, outcome string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Dispatch(model.Platform, string, time.Duration) {}

// Config controls polling and retry behaviour.
type Config struct {
	Interval           time.Duration
	MaxConcurrentPosts int
	RetryDelay         time.Duration
	// PublishTimeout bounds one publish call. Stopping the scheduler does
	// not cut a publish short; it waits up to this long for the outcome.
	PublishTimeout time.Duration
}

// DefaultConfig polls every minute, dispatches up to three posts per cycle
// and retries failures five minutes later.
func DefaultConfig() Config {
	return Config{
		Interval:           60 * time.Second,
		MaxConcurrentPosts: 3,
		RetryDelay:         5 * time.Minute,
		PublishTimeout:     2 * time.Minute,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithNotifier sets the notifier called after terminal outcomes.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler polls the store for due posts and publishes them.
type Scheduler struct {
	store      Store
	publishers *publish.Registry
	cfg        Config
	logger     *slog.Logger
	notifier   notify.Notifier
	recorder   Recorder
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler. Zero config fields take their defaults.
func New(store Store, publishers *publish.Registry, cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxConcurrentPosts <= 0 {
		cfg.MaxConcurrentPosts = def.MaxConcurrentPosts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	s := &Scheduler{
		store:      store,
		publishers: publishers,
		cfg:        cfg,
		logger:     slog.Default(),
		notifier:   notify.Nop{},
		recorder:   nopRecorder{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs one cycle immediately and then one per interval until Stop is
// called or ctx is cancelled. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.logger.Info("scheduler started", "interval", s.cfg.Interval.String(), "max_concurrent", s.cfg.MaxConcurrentPosts)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			s.RunCycle(ctx)
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopped")
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight cycle. It is safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the polling loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// CycleReport summarizes one RunCycle.
type CycleReport struct {
	Due       int `json:"due"`
	Published int `json:"published"`
	Requeued  int `json:"requeued"`
	Failed    int `json:"failed"`
	// Skipped counts due posts another dispatcher claimed first.
	Skipped int `json:"skipped"`
}

// RunCycle dispatches up to MaxConcurrentPosts due posts, oldest first, and
// waits for all of them. Per-post failures are recorded on the posts, never
// returned.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	var report CycleReport
	due, err := s.store.ListDuePosts(ctx, s.now().UTC(), s.cfg.MaxConcurrentPosts)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("list due posts", "error", err)
		}
		return report
	}
	report.Due = len(due)
	if len(due) == 0 {
		return report
	}

	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(s.cfg.MaxConcurrentPosts)
	for _, post := range due {
		eg.Go(func() error {
			outcome := s.claimAndDispatch(ctx, post.ID, []model.PostStatus{model.StatusPending})
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomePublished:
				report.Published++
			case OutcomeRequeued:
				report.Requeued++
			case OutcomeFailed:
				report.Failed++
			default:
				report.Skipped++
			}
			return nil
		})
	}
	_ = eg.Wait()

	s.logger.Info("scheduler cycle complete", "due", report.Due, "published", report.Published,
		"requeued", report.Requeued, "failed", report.Failed, "skipped", report.Skipped)
	return report
}

// executable are the statuses a manual dispatch may claim from.
var executable = []model.PostStatus{model.StatusPending, model.StatusQueued, model.StatusFailed, model.StatusCancelled}

// ExecutePostNow dispatches one post synchronously, regardless of its
// schedule, and returns the updated post. Published posts and posts already
// being published are rejected.
func (s *Scheduler) ExecutePostNow(ctx context.Context, id string) (*model.ScheduledPost, error) {
	post, err := s.store.GetScheduledPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := post.CanExecute(); err != nil {
		return nil, model.Invalid("status", err.Error())
	}
	if !post.Status.IsActive() {
		// Claiming moves the post into an active status, which a sibling
		// schedule for the same pair may already hold.
		if err := ensureFree(ctx, s.store, post.ArtifactID, post.SocialAccountID, post.ID); err != nil {
			return nil, err
		}
	}
	if s.claimAndDispatch(ctx, id, executable) == "" {
		return nil, model.Invalid("status", fmt.Sprintf("post %s changed state before it could be executed", id))
	}
	return s.store.GetScheduledPost(context.WithoutCancel(ctx), id)
}

// claimAndDispatch returns the dispatch outcome, or "" if the claim was lost.
func (s *Scheduler) claimAndDispatch(ctx context.Context, id string, from []model.PostStatus) string {
	post, err := s.store.ClaimPost(ctx, id, from)
	if err != nil {
		s.logger.Error("claim post", "post_id", id, "error", err)
		return ""
	}
	if post == nil {
		s.logger.Debug("post claimed elsewhere", "post_id", id)
		return ""
	}
	return s.dispatch(ctx, post)
}

// dispatch publishes a claimed post and records the outcome.
func (s *Scheduler) dispatch(ctx context.Context, post *model.ScheduledPost) string {
	start := s.now()
	log := s.logger.With("post_id", post.ID, "artifact_id", post.ArtifactID, "account_id", post.SocialAccountID)

	artifact, account, res := s.attempt(ctx, post)

	// Outcome writes must land even if the publish outlived a shutdown.
	wctx := context.WithoutCancel(ctx)
	now := s.now().UTC()
	var platform model.Platform
	if artifact != nil {
		platform = artifact.Platform
	}

	var outcome string
	if res.Success {
		outcome = OutcomePublished
		if err := s.store.MarkPublished(wctx, post.ID, res.ExternalID, now); err != nil {
			log.Error("mark published", "error", err)
		}
		h := &model.PostHistory{
			ID:              uuid.NewString(),
			ScheduledPostID: post.ID,
			ArtifactID:      post.ArtifactID,
			SocialAccountID: post.SocialAccountID,
			Platform:        platform,
			ExternalPostID:  res.ExternalID,
			ExternalURL:     res.ExternalURL,
			RawResponse:     res.RawResponse,
			PostedAt:        now,
		}
		if err := s.store.AppendHistory(wctx, h); err != nil {
			log.Error("append history", "error", err)
		}
		post.Status = model.StatusPublished
		post.PublishedAt = &now
		post.ExternalPostID = res.ExternalID
		post.LastError = ""
		log.Info("post published", "external_id", res.ExternalID)
	} else {
		retries := post.RetryCount + 1
		post.RetryCount = retries
		post.LastError = res.Error
		if retries < post.MaxRetries {
			outcome = OutcomeRequeued
			next := now.Add(s.cfg.RetryDelay)
			if err := s.store.RequeuePost(wctx, post.ID, retries, next, res.Error); err != nil {
				log.Error("requeue post", "error", err)
			}
			post.Status = model.StatusPending
			post.ScheduledFor = next
			log.Warn("publish failed, requeued", "retry_count", retries, "max_retries", post.MaxRetries, "next_attempt", next, "error", res.Error)
		} else {
			outcome = OutcomeFailed
			if err := s.store.MarkFailed(wctx, post.ID, retries, res.Error); err != nil {
				log.Error("mark failed", "error", err)
			}
			post.Status = model.StatusFailed
			log.Error("publish failed permanently", "retry_count", retries, "error", res.Error)
		}
	}

	s.recorder.Dispatch(platform, outcome, s.now().Sub(start))
	switch outcome {
	case OutcomePublished:
		s.notifier.Notify(wctx, notify.Event{Kind: notify.KindPublished, Post: post, Artifact: artifact, Account: account, Result: res})
	case OutcomeFailed:
		s.notifier.Notify(wctx, notify.Event{Kind: notify.KindFailed, Post: post, Artifact: artifact, Account: account, Result: res})
	}
	return outcome
}

// attempt resolves the post's artifact, account and publisher and calls
// Publish. Resolution errors and panics become failed results. The post is
// already claimed, so the attempt runs to completion under PublishTimeout
// even when ctx is cancelled; an interrupted call would be recorded as a
// failed try.
func (s *Scheduler) attempt(ctx context.Context, post *model.ScheduledPost) (artifact *model.ContentArtifact, account *model.SocialAccount, res publish.PostResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PublishTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatch panic recovered", "post_id", post.ID, "panic", r)
			res = publish.PostResult{Error: fmt.Sprintf("dispatch panic: %v", r)}
		}
	}()

	artifact, account, pub, err := s.resolve(ctx, post.ArtifactID, post.SocialAccountID)
	if err != nil {
		return artifact, account, publish.PostResult{Error: err.Error()}
	}
	return artifact, account, pub.Publish(ctx, artifact, account)
}

func (s *Scheduler) resolve(ctx context.Context, artifactID, accountID string) (*model.ContentArtifact, *model.SocialAccount, publish.Publisher, error) {
	artifact, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load artifact %s: %w", artifactID, err)
	}
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return artifact, nil, nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	if !account.Accepts(artifact.Platform) {
		return artifact, account, nil, fmt.Errorf("platform mismatch: %s artifact cannot be published to a %s account", artifact.Platform, account.Platform)
	}
	pub, ok := s.publishers.Lookup(account.Platform)
	if !ok {
		return artifact, account, nil, fmt.Errorf("no publisher registered for %s", account.Platform)
	}
	return artifact, account, pub, nil
}

// PublishDirect publishes an artifact to an account immediately, without a
// scheduled post. Successful publishes are recorded in the history.
func (s *Scheduler) PublishDirect(ctx context.Context, artifactID, accountID string) (publish.PostResult, error) {
	artifact, account, pub, err := s.resolve(ctx, artifactID, accountID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return publish.PostResult{}, err
		}
		return publish.PostResult{}, model.Invalid("artifactId", err.Error())
	}
	res := pub.Publish(ctx, artifact, account)
	if !res.Success {
		s.logger.Warn("direct publish failed", "artifact_id", artifactID, "account_id", accountID, "error", res.Error)
		return res, nil
	}
	h := &model.PostHistory{
		ID:              uuid.NewString(),
		ArtifactID:      artifactID,
		SocialAccountID: accountID,
		Platform:        artifact.Platform,
		ExternalPostID:  res.ExternalID,
		ExternalURL:     res.ExternalURL,
		RawResponse:     res.RawResponse,
		PostedAt:        s.now().UTC(),
	}
	if err := s.store.AppendHistory(context.WithoutCancel(ctx), h); err != nil {
		return res, fmt.Errorf("record history: %w", err)
	}
	return res, nil
}
