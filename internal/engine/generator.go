package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yangwenmai/softpost/internal/brand"
	"github.com/yangwenmai/softpost/internal/model"
	"github.com/yangwenmai/softpost/internal/validate"
)

// Attempt outcomes reported to the Recorder.
const (
	AttemptValid         = "valid"
	AttemptInvalid       = "invalid"
	AttemptProviderError = "provider_error"
	AttemptParseError    = "parse_error"
)

// Generation results reported to the Recorder.
const (
	ResultAccepted   = "accepted"
	ResultBestEffort = "best_effort"
	ResultExhausted  = "exhausted"
)

// Recorder receives generation telemetry.
type Recorder interface {
	GenerationAttempt(platform model.Platform, outcome string)
	GenerationResult(platform model.Platform, result string)
	ValidationFailure(check string)
}

type nopRecorder struct{}

func (nopRecorder) GenerationAttempt(model.Platform, string) {}
func (nopRecorder) GenerationResult(model.Platform, string)  {}
func (nopRecorder) ValidationFailure(string)                 {}

// GeneratorConfig holds the retry budget and sampling parameters.
type GeneratorConfig struct {
	MaxRewriteAttempts  int
	CreativeTemperature float64
	RefineTemperature   float64
	MaxTokens           int
	Model               string
	BatchConcurrency    int
}

// DefaultGeneratorConfig returns the default budget: three tries per pair.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxRewriteAttempts:  2,
		CreativeTemperature: 0.8,
		RefineTemperature:   0.4,
		MaxTokens:           4096,
		BatchConcurrency:    2,
	}
}

// Generator runs the compose, complete, parse, normalize and validate loop.
// It holds no per-call state and is safe for concurrent use.
type Generator struct {
	model     ModelClient
	rules     *brand.Rules
	cfg       GeneratorConfig
	extractor ContentExtractor
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithGeneratorConfig replaces the default configuration.
func WithGeneratorConfig(cfg GeneratorConfig) GeneratorOption {
	return func(g *Generator) { g.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) GeneratorOption {
	return func(g *Generator) { g.recorder = r }
}

// WithExtractor enables fetching of request source URLs.
func WithExtractor(e ContentExtractor) GeneratorOption {
	return func(g *Generator) { g.extractor = e }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a Generator.
func NewGenerator(mc ModelClient, rules *brand.Rules, opts ...GeneratorOption) *Generator {
	g := &Generator{
		model:    mc,
		rules:    rules,
		cfg:      DefaultGeneratorConfig(),
		recorder: nopRecorder{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cfg.BatchConcurrency <= 0 {
		g.cfg.BatchConcurrency = 1
	}
	return g
}

// Rules returns the brand rules the generator validates against.
func (g *Generator) Rules() *brand.Rules { return g.rules }

// GenerateOptions tune a single GenerateArtifact call.
type GenerateOptions struct {
	MonthlyTheme string
	// MaxRewriteAttempts overrides the configured budget when set.
	MaxRewriteAttempts *int
	IncludeProducts    bool
	SourceExcerpt      string
}

// Outcome is the result of one artifact generation.
type Outcome struct {
	Artifact   *model.ContentArtifact `json:"artifact"`
	Attempts   int                    `json:"attempts"`
	Validation validate.Result        `json:"validation"`
	// Feedback holds every failure message seen before the returned attempt.
	Feedback []string `json:"feedback,omitempty"`
}

// GenerateArtifact produces one artifact for a (segment, platform) pair. It
// returns as soon as an attempt validates. When the budget runs out it
// returns the last attempt's artifact with its failing validation, or an
// *ExhaustedError if the last attempt produced no artifact.
func (g *Generator) GenerateArtifact(ctx context.Context, seedIdea string, segment model.Segment, platform model.Platform, opts GenerateOptions) (*Outcome, error) {
	budget := g.cfg.MaxRewriteAttempts
	if opts.MaxRewriteAttempts != nil {
		budget = *opts.MaxRewriteAttempts
	}
	if budget < 0 {
		budget = 0
	}
	maxAttempts := budget + 1

	log := g.logger.With("platform", platform, "segment", segment)

	var (
		feedback []string
		previous []string
		last     *Outcome
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		temperature := g.cfg.CreativeTemperature
		if attempt > 1 {
			temperature = g.cfg.RefineTemperature
		}
		prompt := ComposePrompt(g.rules, PromptInput{
			SeedIdea:        seedIdea,
			MonthlyTheme:    opts.MonthlyTheme,
			Segment:         segment,
			Platform:        platform,
			IncludeProducts: opts.IncludeProducts,
			SourceExcerpt:   opts.SourceExcerpt,
			PreviousErrors:  previous,
		})

		out, err := g.model.Complete(ctx, prompt, CompletionOptions{
			Temperature: temperature,
			MaxTokens:   g.cfg.MaxTokens,
			Model:       g.cfg.Model,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			msg := "provider error: " + err.Error()
			log.Warn("generation attempt failed", "attempt", attempt, "error", err)
			g.recorder.GenerationAttempt(platform, AttemptProviderError)
			feedback = append(feedback, msg)
			previous = []string{msg}
			last = nil
			continue
		}

		raw, err := ParseArtifact(out)
		if err != nil {
			msg := "parse error: " + err.Error()
			log.Warn("generation attempt unparseable", "attempt", attempt, "error", err)
			g.recorder.GenerationAttempt(platform, AttemptParseError)
			feedback = append(feedback, msg)
			previous = []string{msg}
			last = nil
			continue
		}

		artifact := Normalize(raw, platform, segment, g.rules)
		now := g.now().UTC()
		artifact.SeedIdea = seedIdea
		artifact.MonthlyTheme = opts.MonthlyTheme
		artifact.CreatedAt = now
		artifact.UpdatedAt = now

		res := validate.Validate(&artifact, g.rules)
		validate.Apply(&artifact, res)
		outcome := &Outcome{
			Artifact:   &artifact,
			Attempts:   attempt,
			Validation: res,
			Feedback:   append([]string(nil), feedback...),
		}

		if res.IsValid {
			log.Info("artifact accepted", "attempt", attempt)
			g.recorder.GenerationAttempt(platform, AttemptValid)
			g.recorder.GenerationResult(platform, ResultAccepted)
			return outcome, nil
		}

		log.Info("artifact failed validation", "attempt", attempt, "errors", len(res.Errors))
		g.recorder.GenerationAttempt(platform, AttemptInvalid)
		for _, name := range res.Failed() {
			g.recorder.ValidationFailure(name)
		}
		feedback = append(feedback, res.Errors...)
		previous = res.Errors
		last = outcome
	}

	if last != nil {
		log.Warn("returning best-effort artifact", "attempts", maxAttempts)
		g.recorder.GenerationResult(platform, ResultBestEffort)
		return last, nil
	}

	g.recorder.GenerationResult(platform, ResultExhausted)
	return nil, &ExhaustedError{Attempts: maxAttempts, Feedback: feedback}
}

// PairResult is the outcome for one (segment, platform) pair of a batch.
type PairResult struct {
	Segment  model.Segment  `json:"segment"`
	Platform model.Platform `json:"platform"`
	Outcome  *Outcome       `json:"outcome"`
}

// PairError records a pair that produced no artifact.
type PairError struct {
	Segment  model.Segment  `json:"segment"`
	Platform model.Platform `json:"platform"`
	Error    string         `json:"error"`
}

// BatchResult aggregates a batch generation. Results and Errors keep the
// request's segment-major pair order.
type BatchResult struct {
	Results  []PairResult `json:"results"`
	Errors   []PairError  `json:"errors"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Artifacts returns the artifacts produced, in pair order.
func (r *BatchResult) Artifacts() []*model.ContentArtifact {
	out := make([]*model.ContentArtifact, 0, len(r.Results))
	for _, pr := range r.Results {
		out = append(out, pr.Outcome.Artifact)
	}
	return out
}

// Generate runs GenerateArtifact for every (segment, platform) pair of req.
// Pairs are independent: one pair's failure is recorded in Errors and never
// stops its siblings. The returned error is reserved for an invalid request
// or a cancelled context.
func (g *Generator) Generate(ctx context.Context, req model.GenerationRequest) (*BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	result := &BatchResult{Errors: []PairError{}}
	opts := GenerateOptions{
		MonthlyTheme:       req.MonthlyTheme,
		MaxRewriteAttempts: req.MaxRewriteAttempts,
		IncludeProducts:    req.IncludeProducts,
	}
	if req.SourceURL != "" {
		if g.extractor == nil {
			result.Warnings = append(result.Warnings, "source URL ignored: no extractor configured")
		} else if content, err := g.extractor.Extract(ctx, req.SourceURL); err != nil {
			g.logger.Warn("source extraction failed", "url", req.SourceURL, "error", err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("source extraction failed: %v", err))
		} else {
			opts.SourceExcerpt = content.NormalizedText
		}
	}

	type pair struct {
		segment  model.Segment
		platform model.Platform
	}
	var pairs []pair
	for _, s := range req.Segments {
		for _, p := range req.Platforms {
			pairs = append(pairs, pair{s, p})
		}
	}

	outcomes := make([]*Outcome, len(pairs))
	errs := make([]error, len(pairs))

	var eg errgroup.Group
	eg.SetLimit(g.cfg.BatchConcurrency)
	for i, p := range pairs {
		eg.Go(func() error {
			outcomes[i], errs[i] = g.GenerateArtifact(ctx, req.SeedIdea, p.segment, p.platform, opts)
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, p := range pairs {
		if errs[i] != nil {
			result.Errors = append(result.Errors, PairError{Segment: p.segment, Platform: p.platform, Error: errs[i].Error()})
			continue
		}
		result.Results = append(result.Results, PairResult{Segment: p.segment, Platform: p.platform, Outcome: outcomes[i]})
	}
	g.logger.Info("batch generated", "pairs", len(pairs), "artifacts", len(result.Results), "errors", len(result.Errors))
	return result, nil
}

// RewriteArtifact makes exactly one provider call to fix errs in a. When errs
// is empty the artifact's cached QA errors are used. Identity, platform,
// segment, provenance and creation time are preserved.
func (g *Generator) RewriteArtifact(ctx context.Context, a *model.ContentArtifact, errs []string) (*Outcome, error) {
	if len(errs) == 0 {
		errs = a.QA.Errors
	}
	if len(errs) == 0 {
		return nil, errors.New("rewrite requires at least one error to fix")
	}

	prompt := ComposeRewritePrompt(g.rules, a, errs)
	out, err := g.model.Complete(ctx, prompt, CompletionOptions{
		Temperature: g.cfg.RefineTemperature,
		MaxTokens:   g.cfg.MaxTokens,
		Model:       g.cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("rewrite: provider error: %w", err)
	}
	raw, err := ParseArtifact(out)
	if err != nil {
		return nil, fmt.Errorf("rewrite: parse error: %w", err)
	}

	rewritten := Normalize(raw, a.Platform, a.Segment, g.rules)
	rewritten.ID = a.ID
	rewritten.SeedIdea = a.SeedIdea
	rewritten.MonthlyTheme = a.MonthlyTheme
	rewritten.CreatedAt = a.CreatedAt
	rewritten.UpdatedAt = g.now().UTC()

	res := validate.Validate(&rewritten, g.rules)
	validate.Apply(&rewritten, res)
	return &Outcome{Artifact: &rewritten, Attempts: 1, Validation: res, Feedback: errs}, nil
}

// Revalidate re-runs validation on a and refreshes its QA summary.
func (g *Generator) Revalidate(a *model.ContentArtifact) validate.Result {
	res := validate.Validate(a, g.rules)
	validate.Apply(a, res)
	return res
}
