package scheduler

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/yangwenmai/softpost/internal/model"
	"github.com/yangwenmai/softpost/internal/publish"
)

// memStore is an in-memory Store.
type memStore struct {
	mu        sync.Mutex
	posts     map[string]*model.ScheduledPost
	artifacts map[string]*model.ContentArtifact
	accounts  map[string]*model.SocialAccount
	history   []model.PostHistory
	claims    int
}

func newMemStore() *memStore {
	return &memStore{
		posts:     map[string]*model.ScheduledPost{},
		artifacts: map[string]*model.ContentArtifact{},
		accounts:  map[string]*model.SocialAccount{},
	}
}

func (m *memStore) addArtifact(id string, p model.Platform) {
	m.artifacts[id] = &model.ContentArtifact{ID: id, Platform: p, Hook: "hook " + id}
}

func (m *memStore) addAccount(id string, f model.Family) {
	a := model.NewSocialAccount(id, f, model.AccountPersonal, "ext-"+id, "Account "+id, "token")
	m.accounts[id] = &a
}

func (m *memStore) addPost(id, artifactID, accountID string, status model.PostStatus, at time.Time) *model.ScheduledPost {
	p := model.NewScheduledPost(id, artifactID, accountID, at, "", 0)
	p.Status = status
	m.posts[id] = &p
	return &p
}

func (m *memStore) post(id string) model.ScheduledPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.posts[id]
}

func (m *memStore) ListDuePosts(_ context.Context, now time.Time, limit int) ([]model.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ScheduledPost
	for _, p := range m.posts {
		if p.Status == model.StatusPending && !p.ScheduledFor.After(now) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ClaimPost(_ context.Context, id string, from []model.PostStatus) (*model.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || !slices.Contains(from, p.Status) {
		return nil, nil
	}
	m.claims++
	p.Status = model.StatusPosting
	cp := *p
	return &cp, nil
}

func (m *memStore) GetScheduledPost(_ context.Context, id string) (*model.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetArtifact(_ context.Context, id string) (*model.ContentArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) GetAccount(_ context.Context, id string) (*model.SocialAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) MarkPublished(_ context.Context, id, externalID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.posts[id]
	p.Status = model.StatusPublished
	p.ExternalPostID = externalID
	p.PublishedAt = &at
	p.LastError = ""
	return nil
}

func (m *memStore) RequeuePost(_ context.Context, id string, retryCount int, at time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.posts[id]
	p.Status = model.StatusPending
	p.RetryCount = retryCount
	p.ScheduledFor = at
	p.LastError = lastError
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id string, retryCount int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.posts[id]
	p.Status = model.StatusFailed
	p.RetryCount = retryCount
	p.LastError = lastError
	return nil
}

func (m *memStore) AppendHistory(_ context.Context, h *model.PostHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, *h)
	return nil
}

func (m *memStore) CreateScheduledPost(_ context.Context, p *model.ScheduledPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.posts[p.ID] = &cp
	return nil
}

func (m *memStore) FindActiveSchedule(_ context.Context, artifactID, accountID string) (*model.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.posts {
		if p.ArtifactID == artifactID && p.SocialAccountID == accountID && p.Status.IsActive() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdateScheduledPost(_ context.Context, p *model.ScheduledPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.posts[p.ID]
	if !ok {
		return model.ErrNotFound
	}
	if cur.Status == model.StatusPublished {
		return model.Invalid("status", "published posts cannot be modified")
	}
	cp := *p
	m.posts[p.ID] = &cp
	return nil
}

func (m *memStore) UpdatePostNotes(_ context.Context, id, notes string) (*model.ScheduledPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.posts[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	if cur.Status == model.StatusPublished {
		return nil, model.Invalid("status", "published posts cannot be modified")
	}
	cur.Notes = notes
	cp := *cur
	return &cp, nil
}

func (m *memStore) DeleteScheduledPost(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.posts, id)
	return nil
}

// fakePublisher returns scripted results and tracks concurrency.
type fakePublisher struct {
	family model.Family
	mu     sync.Mutex
	calls  []string
	result func(artifactID string) publish.PostResult
	delay  time.Duration
	// onPublish runs at the start of every call.
	onPublish func()
	// ctxErr is the error of the context seen by the last call.
	ctxErr error

	inFlight, peak int
}

func (f *fakePublisher) Family() model.Family { return f.family }

func (f *fakePublisher) Publish(ctx context.Context, a *model.ContentArtifact, _ *model.SocialAccount) publish.PostResult {
	if f.onPublish != nil {
		f.onPublish()
	}
	f.mu.Lock()
	f.ctxErr = ctx.Err()
	f.calls = append(f.calls, a.ID)
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if f.result == nil {
		return publish.PostResult{Success: true, ExternalID: "ext-" + a.ID, ExternalURL: "https://example.com/" + a.ID}
	}
	return f.result(a.ID)
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordedDispatch struct {
	platform model.Platform
	outcome  string
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []recordedDispatch
}

func (r *fakeRecorder) Dispatch(p model.Platform, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, recordedDispatch{p, outcome})
}
