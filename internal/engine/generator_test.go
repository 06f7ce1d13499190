package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/softpost/internal/brand"
	"github.com/yangwenmai/softpost/internal/model"
)

// mockReply is one scripted provider response.
type mockReply struct {
	text string
	err  error
}

// mockModel returns scripted replies in order and records every call. After
// the script runs out it repeats the last reply.
type mockModel struct {
	mu      sync.Mutex
	replies []mockReply
	prompts []string
	opts    []CompletionOptions
}

func (m *mockModel) Complete(_ context.Context, prompt string, opts CompletionOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	m.opts = append(m.opts, opts)
	i := len(m.prompts) - 1
	if i >= len(m.replies) {
		i = len(m.replies) - 1
	}
	r := m.replies[i]
	return r.text, r.err
}

func (m *mockModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func artifactJSON(t *testing.T, a model.ContentArtifact) string {
	t.Helper()
	b, err := json.Marshal(a)
	require.NoError(t, err)
	return string(b)
}

func validReply(t *testing.T, p model.Platform) mockReply {
	return mockReply{text: artifactJSON(t, StubArtifact(p, model.SegmentBusyProfessional))}
}

func invalidReply(t *testing.T, p model.Platform) mockReply {
	a := StubArtifact(p, model.SegmentBusyProfessional)
	a.Hashtags = []string{"#Random"}
	return mockReply{text: artifactJSON(t, a)}
}

func intPtr(n int) *int { return &n }

func fixedClock() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

func newTestGenerator(m ModelClient) *Generator {
	return NewGenerator(m, brand.Default(), WithClock(fixedClock))
}

func TestGenerateArtifact_FirstAttemptValid(t *testing.T) {
	m := &mockModel{replies: []mockReply{validReply(t, model.PlatformLinkedInPersonal)}}
	g := newTestGenerator(m)

	out, err := g.GenerateArtifact(context.Background(), "travel skincare", model.SegmentBusyProfessional, model.PlatformLinkedInPersonal, GenerateOptions{MonthlyTheme: "March reset"})
	require.NoError(t, err)

	assert.Equal(t, 1, out.Attempts)
	assert.True(t, out.Validation.IsValid, "%v", out.Validation.Errors)
	assert.Equal(t, 1, m.calls())
	assert.Equal(t, "travel skincare", out.Artifact.SeedIdea)
	assert.Equal(t, "March reset", out.Artifact.MonthlyTheme)
	assert.Equal(t, fixedClock(), out.Artifact.CreatedAt)
	assert.Empty(t, out.Artifact.ID, "ids are assigned on persistence")
	assert.True(t, out.Artifact.Valid())
}

func TestGenerateArtifact_RetryConvergence(t *testing.T) {
	m := &mockModel{replies: []mockReply{
		invalidReply(t, model.PlatformLinkedInPersonal),
		validReply(t, model.PlatformLinkedInPersonal),
	}}
	g := newTestGenerator(m)

	out, err := g.GenerateArtifact(context.Background(), "seed", model.SegmentBusyProfessional, model.PlatformLinkedInPersonal,
		GenerateOptions{MaxRewriteAttempts: intPtr(2)})
	require.NoError(t, err)

	assert.Equal(t, 2, out.Attempts)
	assert.True(t, out.Validation.IsValid)
	assert.Equal(t, 2, m.calls())
	assert.NotEmpty(t, out.Feedback, "feedback from attempt 1 is kept")

	cfg := DefaultGeneratorConfig()
	assert.Equal(t, cfg.CreativeTemperature, m.opts[0].Temperature)
	assert.Equal(t, cfg.RefineTemperature, m.opts[1].Temperature)
	assert.Equal(t, cfg.MaxTokens, m.opts[0].MaxTokens)

	assert.NotContains(t, m.prompts[0], "PREVIOUS ATTEMPT FAILED VALIDATION")
	assert.Contains(t, m.prompts[1], "PREVIOUS ATTEMPT FAILED VALIDATION")
	for _, e := range out.Feedback {
		assert.Contains(t, m.prompts[1], e, "retry prompt must quote every prior error verbatim")
	}
}

func TestGenerateArtifact_ExhaustionReturnsBestEffort(t *testing.T) {
	m := &mockModel{replies: []mockReply{invalidReply(t, model.PlatformSubstack)}}
	g := newTestGenerator(m)

	out, err := g.GenerateArtifact(context.Background(), "seed", model.SegmentNewToSkincare, model.PlatformSubstack,
		GenerateOptions{MaxRewriteAttempts: intPtr(2)})
	require.NoError(t, err, "an artifact was produced, so exhaustion is not an error")

	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, m.calls())
	assert.False(t, out.Validation.IsValid)
	assert.NotEmpty(t, out.Artifact.QA.Errors)
	assert.False(t, out.Artifact.Valid())
}

func TestGenerateArtifact_TotalProviderFailure(t *testing.T) {
	m := &mockModel{replies: []mockReply{{err: errors.New("connection refused")}}}
	g := newTestGenerator(m)

	_, err := g.GenerateArtifact(context.Background(), "seed", model.SegmentNewToSkincare, model.PlatformLinkedInBusiness,
		GenerateOptions{MaxRewriteAttempts: intPtr(2)})
	require.Error(t, err)

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.Len(t, ex.Feedback, 3)
	assert.Equal(t, 3, m.calls())
	assert.Contains(t, err.Error(), "provider error: connection refused")
}

func TestGenerateArtifact_ParseErrorsFoldIntoBudget(t *testing.T) {
	m := &mockModel{replies: []mockReply{
		{text: "Sure! Here is your post."},
		{text: "```json\n" + validReply(t, model.PlatformLinkedInPersonal).text + "\n```"},
	}}
	g := newTestGenerator(m)

	out, err := g.GenerateArtifact(context.Background(), "seed", model.SegmentBusyProfessional, model.PlatformLinkedInPersonal, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempts)
	require.Len(t, out.Feedback, 1)
	assert.True(t, strings.HasPrefix(out.Feedback[0], "parse error: "))
	assert.Contains(t, m.prompts[1], out.Feedback[0])
}

func TestGenerateArtifact_LastAttemptFailureDiscardsEarlierArtifact(t *testing.T) {
	m := &mockModel{replies: []mockReply{
		invalidReply(t, model.PlatformLinkedInPersonal),
		{err: errors.New("HTTP 503")},
	}}
	g := newTestGenerator(m)

	_, err := g.GenerateArtifact(context.Background(), "seed", model.SegmentBusyProfessional, model.PlatformLinkedInPersonal,
		GenerateOptions{MaxRewriteAttempts: intPtr(1)})
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 2, ex.Attempts)
	assert.Greater(t, len(ex.Feedback), 1, "validation errors and the provider error are both reported")
}

func TestGenerateArtifact_ZeroBudgetSingleAttempt(t *testing.T) {
	m := &mockModel{replies: []mockReply{invalidReply(t, model.PlatformLinkedInPersonal)}}
	g := newTestGenerator(m)

	out, err := g.GenerateArtifact(context.Background(), "seed", model.SegmentBusyProfessional, model.PlatformLinkedInPersonal,
		GenerateOptions{MaxRewriteAttempts: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, m.calls())
}

func TestGenerateArtifact_ContextCancelled(t *testing.T) {
	m := &mockModel{replies: []mockReply{validReply(t, model.PlatformLinkedInPersonal)}}
	g := newTestGenerator(m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.GenerateArtifact(ctx, "seed", model.SegmentBusyProfessional, model.PlatformLinkedInPersonal, GenerateOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.calls())
}

func TestGenerateArtifact_NormalizesPalette(t *testing.T) {
	a := StubArtifact(model.PlatformLinkedInPersonal, model.SegmentBusyProfessional)
	a.Visual.Palette = []string{"#000000", "#ffffff", "#ff0000"}
	m := &mockModel{replies: []mockReply{{text: artifactJSON(t, a)}}}
	g := newTestGenerator(m)

	out, err := g.GenerateArtifact(context.Background(), "seed", model.SegmentBusyProfessional, model.PlatformLinkedInPersonal, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, brand.Default().Palette, out.Artifact.Visual.Palette)
	assert.True(t, out.Validation.IsValid)
}

// platformModel fails every call for one platform and serves valid
// artifacts for the others.
type platformModel struct {
	fail model.Platform
	stub StubModelClient
}

func (m *platformModel) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	if strings.Contains(prompt, "Platform: "+string(m.fail)+"\n") {
		return "", errors.New("quota exceeded")
	}
	return m.stub.Complete(ctx, prompt, opts)
}

func TestGenerate_BatchPartialSuccess(t *testing.T) {
	g := newTestGenerator(&platformModel{fail: model.PlatformSubstack})

	res, err := g.Generate(context.Background(), model.GenerationRequest{
		SeedIdea:  "winter barrier care",
		Segments:  []model.Segment{model.SegmentNewToSkincare, model.SegmentConsciousConsumer},
		Platforms: []model.Platform{model.PlatformLinkedInPersonal, model.PlatformSubstack},
	})
	require.NoError(t, err)

	require.Len(t, res.Results, 2)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, model.SegmentNewToSkincare, res.Results[0].Segment)
	assert.Equal(t, model.SegmentConsciousConsumer, res.Results[1].Segment)
	for _, r := range res.Results {
		assert.Equal(t, model.PlatformLinkedInPersonal, r.Platform)
		assert.True(t, r.Outcome.Validation.IsValid)
		assert.Equal(t, r.Segment, r.Outcome.Artifact.Segment)
	}
	for _, e := range res.Errors {
		assert.Equal(t, model.PlatformSubstack, e.Platform)
		assert.Contains(t, e.Error, "quota exceeded")
	}
	assert.Len(t, res.Artifacts(), 2)
}

func TestGenerate_RejectsInvalidRequest(t *testing.T) {
	m := &mockModel{replies: []mockReply{validReply(t, model.PlatformSubstack)}}
	g := newTestGenerator(m)

	_, err := g.Generate(context.Background(), model.GenerationRequest{SeedIdea: "x"})
	_, ok := model.AsValidation(err)
	assert.True(t, ok)
	assert.Equal(t, 0, m.calls())
}

type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, string) (*ExtractedContent, error) {
	return nil, errors.New("HTTP 403")
}

func TestGenerate_SourceURL(t *testing.T) {
	t.Run("excerpt reaches every prompt", func(t *testing.T) {
		m := &mockModel{replies: []mockReply{validReply(t, model.PlatformLinkedInPersonal)}}
		g := NewGenerator(m, brand.Default(), WithExtractor(&StubExtractor{}))
		res, err := g.Generate(context.Background(), model.GenerationRequest{
			SeedIdea:  "seed",
			Segments:  []model.Segment{model.SegmentNewToSkincare},
			Platforms: []model.Platform{model.PlatformLinkedInPersonal},
			SourceURL: "https://example.com/post",
		})
		require.NoError(t, err)
		assert.Empty(t, res.Warnings)
		assert.Contains(t, m.prompts[0], "https://example.com/post")
	})

	t.Run("extraction failure is a warning", func(t *testing.T) {
		m := &mockModel{replies: []mockReply{validReply(t, model.PlatformLinkedInPersonal)}}
		g := NewGenerator(m, brand.Default(), WithExtractor(failingExtractor{}))
		res, err := g.Generate(context.Background(), model.GenerationRequest{
			SeedIdea:  "seed",
			Segments:  []model.Segment{model.SegmentNewToSkincare},
			Platforms: []model.Platform{model.PlatformLinkedInPersonal},
			SourceURL: "https://example.com/post",
		})
		require.NoError(t, err)
		require.Len(t, res.Warnings, 1)
		assert.Len(t, res.Results, 1)
	})
}

func TestRewriteArtifact(t *testing.T) {
	m := &mockModel{replies: []mockReply{validReply(t, model.PlatformLinkedInPersonal)}}
	g := newTestGenerator(m)

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := StubArtifact(model.PlatformLinkedInPersonal, model.SegmentBusyProfessional)
	orig.ID = "art-1"
	orig.SeedIdea = "seed"
	orig.CreatedAt = created
	orig.Hashtags = nil
	g.Revalidate(&orig)
	require.False(t, orig.Valid())

	out, err := g.RewriteArtifact(context.Background(), &orig, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, m.calls())
	assert.Equal(t, "art-1", out.Artifact.ID)
	assert.Equal(t, created, out.Artifact.CreatedAt)
	assert.Equal(t, fixedClock(), out.Artifact.UpdatedAt)
	assert.True(t, out.Validation.IsValid)
	assert.Equal(t, DefaultGeneratorConfig().RefineTemperature, m.opts[0].Temperature)
	assert.Contains(t, m.prompts[0], orig.QA.Errors[0])
}

func TestRewriteArtifact_NoErrors(t *testing.T) {
	g := newTestGenerator(&mockModel{replies: []mockReply{{text: "{}"}}})
	a := StubArtifact(model.PlatformLinkedInPersonal, model.SegmentBusyProfessional)
	g.Revalidate(&a)
	_, err := g.RewriteArtifact(context.Background(), &a, nil)
	assert.Error(t, err)
}

type countingRecorder struct {
	mu       sync.Mutex
	attempts map[string]int
	results  map[string]int
}

func (r *countingRecorder) GenerationAttempt(_ model.Platform, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[outcome]++
}

func (r *countingRecorder) GenerationResult(_ model.Platform, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result]++
}

func (r *countingRecorder) ValidationFailure(string) {}

func TestGenerateArtifact_RecordsTelemetry(t *testing.T) {
	rec := &countingRecorder{attempts: map[string]int{}, results: map[string]int{}}
	m := &mockModel{replies: []mockReply{
		{err: errors.New("timeout")},
		{text: "not json"},
		validReply(t, model.PlatformLinkedInPersonal),
	}}
	g := NewGenerator(m, brand.Default(), WithRecorder(rec))

	_, err := g.GenerateArtifact(context.Background(), "seed", model.SegmentBusyProfessional, model.PlatformLinkedInPersonal, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{AttemptProviderError: 1, AttemptParseError: 1, AttemptValid: 1}, rec.attempts)
	assert.Equal(t, map[string]int{ResultAccepted: 1}, rec.results)
}
