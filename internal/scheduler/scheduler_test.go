package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/softpost/internal/model"
	"github.com/yangwenmai/softpost/internal/notify"
	"github.com/yangwenmai/softpost/internal/publish"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type collectNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *collectNotifier) Notify(_ context.Context, e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

type fixture struct {
	store    *memStore
	linkedIn *fakePublisher
	substack *fakePublisher
	clock    *clock
	rec      *fakeRecorder
	notes    *collectNotifier
	sched    *Scheduler
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		store:    newMemStore(),
		linkedIn: &fakePublisher{family: model.FamilyLinkedIn},
		substack: &fakePublisher{family: model.FamilySubstack},
		clock:    &clock{now: t0},
		rec:      &fakeRecorder{},
		notes:    &collectNotifier{},
	}
	f.store.addAccount("li", model.FamilyLinkedIn)
	f.store.addAccount("ss", model.FamilySubstack)
	f.sched = New(f.store, publish.NewRegistry(f.linkedIn, f.substack), cfg,
		WithClock(f.clock.Now), WithRecorder(f.rec), WithNotifier(f.notes))
	return f
}

func failWith(msg string) func(string) publish.PostResult {
	return func(string) publish.PostResult { return publish.PostResult{Error: msg} }
}

func TestRunCycle_Publishes(t *testing.T) {
	f := newFixture(DefaultConfig())
	f.store.addArtifact("a1", model.PlatformLinkedInPersonal)
	f.store.addPost("p1", "a1", "li", model.StatusPending, t0.Add(-time.Minute))

	report := f.sched.RunCycle(context.Background())
	assert.Equal(t, CycleReport{Due: 1, Published: 1}, report)

	p := f.store.post("p1")
	assert.Equal(t, model.StatusPublished, p.Status)
	assert.Equal(t, "ext-a1", p.ExternalPostID)
	require.NotNil(t, p.PublishedAt)
	assert.Equal(t, t0, *p.PublishedAt)
	assert.Empty(t, p.LastError)
	assert.Equal(t, 0, p.RetryCount)

	require.Len(t, f.store.history, 1)
	h := f.store.history[0]
	assert.Equal(t, "p1", h.ScheduledPostID)
	assert.Equal(t, model.PlatformLinkedInPersonal, h.Platform)
	assert.Equal(t, "https://example.com/a1", h.ExternalURL)

	assert.Equal(t, []recordedDispatch{{model.PlatformLinkedInPersonal, OutcomePublished}}, f.rec.seen)
	require.Len(t, f.notes.events, 1)
	assert.Equal(t, notify.KindPublished, f.notes.events[0].Kind)
}

func TestRunCycle_RetryThenFail(t *testing.T) {
	f := newFixture(DefaultConfig())
	f.linkedIn.result = failWith("HTTP 503")
	f.store.addArtifact("a1", model.PlatformLinkedInBusiness)
	f.store.addPost("p1", "a1", "li", model.StatusPending, t0)

	ctx := context.Background()
	now := t0
	for i := 1; i <= 2; i++ {
		report := f.sched.RunCycle(ctx)
		assert.Equal(t, 1, report.Requeued, "cycle %d", i)

		p := f.store.post("p1")
		assert.Equal(t, model.StatusPending, p.Status)
		assert.Equal(t, i, p.RetryCount)
		assert.Equal(t, "HTTP 503", p.LastError)
		assert.Equal(t, now.Add(5*time.Minute), p.ScheduledFor)

		// Not due until the retry delay has passed.
		assert.Equal(t, 0, f.sched.RunCycle(ctx).Due)

		now = now.Add(5 * time.Minute)
		f.clock.Set(now)
	}

	report := f.sched.RunCycle(ctx)
	assert.Equal(t, 1, report.Failed)
	p := f.store.post("p1")
	assert.Equal(t, model.StatusFailed, p.Status)
	assert.Equal(t, 3, p.RetryCount)
	assert.Equal(t, 3, f.linkedIn.callCount())
	assert.Empty(t, f.store.history)

	require.Len(t, f.notes.events, 1, "only the terminal failure notifies")
	assert.Equal(t, notify.KindFailed, f.notes.events[0].Kind)
}

func TestRunCycle_SuccessAfterRetryKeepsCount(t *testing.T) {
	f := newFixture(DefaultConfig())
	f.linkedIn.result = failWith("HTTP 503")
	f.store.addArtifact("a1", model.PlatformLinkedInPersonal)
	f.store.addPost("p1", "a1", "li", model.StatusPending, t0)

	ctx := context.Background()
	assert.Equal(t, 1, f.sched.RunCycle(ctx).Requeued)
	assert.Equal(t, 1, f.store.post("p1").RetryCount)

	f.linkedIn.result = nil
	f.clock.Set(t0.Add(5 * time.Minute))
	report := f.sched.RunCycle(ctx)
	assert.Equal(t, CycleReport{Due: 1, Published: 1}, report)

	p := f.store.post("p1")
	assert.Equal(t, model.StatusPublished, p.Status)
	assert.Equal(t, 1, p.RetryCount)
	assert.Equal(t, "ext-a1", p.ExternalPostID)
	assert.Empty(t, p.LastError)
	require.NotNil(t, p.PublishedAt)
	assert.Equal(t, t0.Add(5*time.Minute), *p.PublishedAt)
}

func TestRunCycle_CapsAndOrders(t *testing.T) {
	f := newFixture(Config{MaxConcurrentPosts: 3})
	f.linkedIn.delay = 20 * time.Millisecond
	for i := 5; i >= 1; i-- {
		id := fmt.Sprintf("a%d", i)
		f.store.addArtifact(id, model.PlatformLinkedInPersonal)
		f.store.addPost(fmt.Sprintf("p%d", i), id, "li", model.StatusPending, t0.Add(-time.Duration(10-i)*time.Minute))
	}

	report := f.sched.RunCycle(context.Background())
	assert.Equal(t, 3, report.Due)
	assert.Equal(t, 3, report.Published)
	assert.ElementsMatch(t, []string{"a1", "a2", "a3"}, f.linkedIn.calls, "oldest posts first")
	assert.LessOrEqual(t, f.linkedIn.peak, 3)
	assert.Equal(t, model.StatusPending, f.store.post("p4").Status)
	assert.Equal(t, model.StatusPending, f.store.post("p5").Status)
}

func TestRunCycle_SkipsNotDue(t *testing.T) {
	f := newFixture(DefaultConfig())
	f.store.addArtifact("a1", model.PlatformLinkedInPersonal)
	f.store.addPost("future", "a1", "li", model.StatusPending, t0.Add(time.Hour))
	f.store.addPost("cancelled", "a1", "li", model.StatusCancelled, t0.Add(-time.Hour))
	f.store.addPost("failed", "a1", "li", model.StatusFailed, t0.Add(-time.Hour))

	assert.Equal(t, CycleReport{}, f.sched.RunCycle(context.Background()))
	assert.Equal(t, 0, f.linkedIn.callCount())
}

func TestRunCycle_PanicIsAFailure(t *testing.T) {
	f := newFixture(DefaultConfig())
	f.linkedIn.result = func(string) publish.PostResult { panic("nil map") }
	f.store.addArtifact("a1", model.PlatformLinkedInPersonal)
	f.store.addPost("p1", "a1", "li", model.StatusPending, t0)

	report := f.sched.RunCycle(context.Background())
	assert.Equal(t, 1, report.Requeued)
	p := f.store.post("p1")
	assert.Equal(t, 1, p.RetryCount)
	assert.Contains(t, p.LastError, "panic")
}

func TestRunCycle_ResolutionFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		wantErr string
	}{
		{
			name: "platform mismatch",
			setup: func(f *fixture) {
				f.store.addArtifact("a1", model.PlatformSubstack)
				f.store.addPost("p1", "a1", "li", model.StatusPending, t0)
			},
			wantErr: "platform mismatch",
		},
		{
			name: "missing artifact",
			setup: func(f *fixture) {
				f.store.addPost("p1", "gone", "li", model.StatusPending, t0)
			},
			wantErr: "load artifact gone",
		},
		{
			name: "missing account",
			setup: func(f *fixture) {
				f.store.addArtifact("a1", model.PlatformLinkedInPersonal)
				f.store.addPost("p1", "a1", "nobody", model.StatusPending, t0)
			},
			wantErr: "load account nobody",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(DefaultConfig())
			tt.setup(f)
			f.sched.RunCycle(context.Background())

			p := f.store.post("p1")
			assert.Equal(t, model.StatusPending, p.Status)
			assert.Equal(t, 1, p.RetryCount)
			assert.Contains(t, p.LastError, tt.wantErr)
			assert.Equal(t, 0, f.linkedIn.callCount()+f.substack.callCount())
		})
	}
}

func TestRunCycle_NoPublisherForFamily(t *testing.T) {
	store := newMemStore()
	store.addAccount("ss", model.FamilySubstack)
	store.addArtifact("a1", model.PlatformSubstack)
	store.addPost("p1", "a1", "ss", model.StatusPending, t0)

	s := New(store, publish.NewRegistry(), DefaultConfig(), WithClock(func() time.Time { return t0 }))
	s.RunCycle(context.Background())
	assert.Contains(t, store.post("p1").LastError, "no publisher registered for substack")
}

// lostClaims never lets the scheduler win a claim.
type lostClaims struct{ *memStore }

func (lostClaims) ClaimPost(context.Context, string, []model.PostStatus) (*model.ScheduledPost, error) {
	return nil, nil
}

func TestRunCycle_LostClaimIsSkipped(t *testing.T) {
	store := newMemStore()
	store.addAccount("li", model.FamilyLinkedIn)
	store.addArtifact("a1", model.PlatformLinkedInPersonal)
	store.addPost("p1", "a1", "li", model.StatusPending, t0)
	pub := &fakePublisher{family: model.FamilyLinkedIn}

	s := New(lostClaims{store}, publish.NewRegistry(pub), DefaultConfig(), WithClock(func() time.Time { return t0 }))
	report := s.RunCycle(context.Background())
	assert.Equal(t, CycleReport{Due: 1, Skipped: 1}, report)
	assert.Equal(t, 0, pub.callCount())
	assert.Equal(t, model.StatusPending, store.post("p1").Status)
}

func TestExecutePostNow(t *testing.T) {
	f := newFixture(DefaultConfig())
	f.store.addArtifact("a1", model.PlatformLinkedInPersonal)
	f.store.addArtifact("a2", model.PlatformLinkedInPersonal)
	f.store.addArtifact("a3", model.PlatformLinkedInPersonal)
	f.store.addPost("later", "a1", "li", model.StatusPending, t0.Add(24*time.Hour))
	f.store.addPost("published", "a1", "li", model.StatusPublished, t0.Add(-time.Hour))
	f.store.addPost("posting", "a2", "li", model.StatusPosting, t0)
	failed := f.store.addPost("failed", "a3", "li", model.StatusFailed, t0.Add(-time.Hour))
	failed.RetryCount = 3

	ctx := context.Background()

	got, err := f.sched.ExecutePostNow(ctx, "later")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPublished, got.Status)

	_, err = f.sched.ExecutePostNow(ctx, "published")
	_, isValidation := model.AsValidation(err)
	assert.True(t, isValidation, "published posts are rejected: %v", err)

	_, err = f.sched.ExecutePostNow(ctx, "posting")
	assert.Error(t, err)

	f.linkedIn.result = failWith("still down")
	got, err = f.sched.ExecutePostNow(ctx, "failed")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, 4, got.RetryCount)

	_, err = f.sched.ExecutePostNow(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestExecutePostNow_ActiveSibling(t *testing.T) {
	f := newFixture(DefaultConfig())
	f.store.addArtifact("a1", model.PlatformLinkedInPersonal)
	f.store.addPost("old", "a1", "li", model.StatusCancelled, t0.Add(-time.Hour))
	f.store.addPost("new", "a1", "li", model.StatusPending, t0.Add(time.Hour))

	_, err := f.sched.ExecutePostNow(context.Background(), "old")
	ve, ok := model.AsValidation(err)
	require.True(t, ok, "expected validation error, got %v", err)
	assert.Equal(t, "artifactId", ve[0].Field)
	assert.Contains(t, ve[0].Message, "already scheduled")
	assert.Contains(t, ve[0].Message, "new")

	assert.Equal(t, model.StatusCancelled, f.store.post("old").Status)
	assert.Equal(t, 0, f.linkedIn.callCount())
}

func TestPublishDirect(t *testing.T) {
	f := newFixture(DefaultConfig())
	f.store.addArtifact("a1", model.PlatformSubstack)
	ctx := context.Background()

	res, err := f.sched.PublishDirect(ctx, "a1", "ss")
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, f.store.history, 1)
	assert.Empty(t, f.store.history[0].ScheduledPostID)
	assert.Equal(t, "ss", f.store.history[0].SocialAccountID)

	_, err = f.sched.PublishDirect(ctx, "a1", "li")
	_, isValidation := model.AsValidation(err)
	assert.True(t, isValidation)

	_, err = f.sched.PublishDirect(ctx, "nope", "li")
	assert.ErrorIs(t, err, model.ErrNotFound)

	f.substack.result = failWith("cookie expired")
	res, err = f.sched.PublishDirect(ctx, "a1", "ss")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, f.store.history, 1)
}

func TestStartStop(t *testing.T) {
	f := newFixture(Config{Interval: time.Hour})
	f.store.addArtifact("a1", model.PlatformLinkedInPersonal)
	f.store.addPost("p1", "a1", "li", model.StatusPending, t0)

	f.sched.Start(context.Background())
	f.sched.Start(context.Background())
	assert.True(t, f.sched.Running())

	require.Eventually(t, func() bool {
		return f.store.post("p1").Status == model.StatusPublished
	}, time.Second, 5*time.Millisecond, "first cycle runs immediately")

	f.sched.Stop()
	f.sched.Stop()
	assert.False(t, f.sched.Running())
	assert.Equal(t, 1, f.linkedIn.callCount())
}

func TestRunCycle_ShutdownDuringPublish(t *testing.T) {
	f := newFixture(DefaultConfig())
	f.store.addArtifact("a1", model.PlatformLinkedInPersonal)
	f.store.addPost("p1", "a1", "li", model.StatusPending, t0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.linkedIn.onPublish = cancel

	report := f.sched.RunCycle(ctx)
	assert.Equal(t, 1, report.Published)
	assert.NoError(t, f.linkedIn.ctxErr, "publish must not see the shutdown")

	p := f.store.post("p1")
	assert.Equal(t, model.StatusPublished, p.Status)
	assert.Equal(t, 0, p.RetryCount)
}

func TestStart_ParentCancel(t *testing.T) {
	f := newFixture(Config{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	f.sched.Start(ctx)
	cancel()
	// Stop must still return once the loop has exited on its own.
	done := make(chan struct{})
	go func() {
		f.sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
