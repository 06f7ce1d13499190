// Package validate implements the deterministic content checks applied to
// every generated artifact. Checks are independent and never short-circuit so
// a failed attempt reports every problem at once.
package validate

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/yangwenmai/softpost/internal/brand"
	"github.com/yangwenmai/softpost/internal/model"
)

// Check names, in the order Validate runs them.
const (
	CheckWordCount        = "word_count"
	CheckMobileFormatting = "mobile_formatting"
	CheckSoftFramework    = "soft_framework"
	CheckTripleS          = "triple_s"
	CheckCTATone          = "cta_tone"
	CheckHashtags         = "hashtags"
	CheckSEOTags          = "seo_tags"
	CheckBrandVoice       = "brand_voice"
	CheckVisual           = "visual"
)

// Thresholds shared by the checks and the prompt composer.
const (
	MinHashtags          = 3
	MaxHashtags          = 5
	MinPrimaryHashtags   = 2
	MinSEOTags           = 3
	MinParagraphs        = 3
	MaxParagraphWords    = 50
	MinSoftSlotChars     = 10
	MinHookChars         = 5
	MinStoryChars        = 20
	MinCTAChars          = 5
	MinVisualPromptChars = 20
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name   string   `json:"name"`
	Passed bool     `json:"passed"`
	Errors []string `json:"errors,omitempty"`
}

func result(name string, errs []string) CheckResult {
	return CheckResult{Name: name, Passed: len(errs) == 0, Errors: errs}
}

// Result aggregates every check for one artifact.
type Result struct {
	IsValid bool          `json:"isValid"`
	Errors  []string      `json:"errors"`
	QA      model.QA      `json:"qa"`
	Checks  []CheckResult `json:"checks"`
}

// Failed returns the names of the checks that did not pass.
func (r Result) Failed() []string {
	var names []string
	for _, c := range r.Checks {
		if !c.Passed {
			names = append(names, c.Name)
		}
	}
	return names
}

// Validate runs every check against a and derives the QA summary.
func Validate(a *model.ContentArtifact, rules *brand.Rules) Result {
	pr, _ := rules.Platform(a.Platform)

	checks := []CheckResult{
		WordCount(a, pr),
		MobileFormatting(a),
		SoftFramework(a),
		TripleS(a, pr),
		CTATone(a, rules),
		Hashtags(a, rules),
		SEOTags(a, pr),
		BrandVoice(a, rules),
		Visual(a, rules),
	}

	byName := make(map[string]bool, len(checks))
	errs := []string{}
	for _, c := range checks {
		byName[c.Name] = c.Passed
		errs = append(errs, c.Errors...)
	}

	return Result{
		IsValid: len(errs) == 0,
		Errors:  errs,
		Checks:  checks,
		QA: model.QA{
			Authenticity:        byName[CheckBrandVoice],
			BrandVoice:          byName[CheckBrandVoice] && byName[CheckCTATone],
			CulturalSensitivity: true,
			BusinessRelevance:   byName[CheckSoftFramework] && byName[CheckTripleS],
			Errors:              errs,
		},
	}
}

// Apply caches the QA summary of r on a.
func Apply(a *model.ContentArtifact, r Result) {
	qa := r.QA
	qa.Errors = append([]string{}, r.Errors...)
	a.QA = qa
}

// CountWords counts whitespace-separated tokens.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// WordCount checks the body length against the platform bounds (inclusive).
func WordCount(a *model.ContentArtifact, pr brand.PlatformRules) CheckResult {
	n := CountWords(a.Body)
	var errs []string
	switch {
	case n < pr.MinWords:
		errs = append(errs, fmt.Sprintf("Word count %d is below the minimum of %d for %s", n, pr.MinWords, a.Platform))
	case pr.MaxWords > 0 && n > pr.MaxWords:
		errs = append(errs, fmt.Sprintf("Word count %d exceeds the maximum of %d for %s", n, pr.MaxWords, a.Platform))
	}
	return result(CheckWordCount, errs)
}

var blankLine = regexp.MustCompile(`\n\s*\n`)

// Paragraphs splits text on blank lines, dropping empty paragraphs.
func Paragraphs(text string) []string {
	var out []string
	for _, p := range blankLine.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MobileFormatting checks paragraph structure for LinkedIn posts. Other
// platforms always pass.
func MobileFormatting(a *model.ContentArtifact) CheckResult {
	if !a.Platform.IsLinkedIn() {
		return result(CheckMobileFormatting, nil)
	}
	paras := Paragraphs(a.Body)
	var errs []string
	if len(paras) < MinParagraphs {
		errs = append(errs, fmt.Sprintf("Mobile formatting requires at least %d paragraphs separated by blank lines, found %d", MinParagraphs, len(paras)))
	}
	for i, p := range paras {
		if n := CountWords(p); n > MaxParagraphWords {
			errs = append(errs, fmt.Sprintf("Paragraph %d has %d words; keep paragraphs under %d words for mobile readers", i+1, n, MaxParagraphWords))
			break
		}
	}
	return result(CheckMobileFormatting, errs)
}

func tooShort(s string, min int) bool {
	return len([]rune(strings.TrimSpace(s))) < min
}

// SoftFramework checks that every S.O.F.T. slot carries content.
func SoftFramework(a *model.ContentArtifact) CheckResult {
	slots := []struct {
		name  string
		value string
	}{
		{"story", a.Soft.Story},
		{"opportunity", a.Soft.Opportunity},
		{"framework", a.Soft.Framework},
		{"transformation", a.Soft.Transformation},
	}
	var errs []string
	for _, s := range slots {
		if tooShort(s.value, MinSoftSlotChars) {
			errs = append(errs, fmt.Sprintf("S.O.F.T. %s is missing or shorter than %d characters", s.name, MinSoftSlotChars))
		}
	}
	return result(CheckSoftFramework, errs)
}

// TripleS checks the hook/story/takeaways framework when the platform
// requires it.
func TripleS(a *model.ContentArtifact, pr brand.PlatformRules) CheckResult {
	if !pr.RequireTripleS {
		return result(CheckTripleS, nil)
	}
	t := a.TripleS
	var errs []string
	if tooShort(t.Hook, MinHookChars) {
		errs = append(errs, fmt.Sprintf("Triple-S hook is missing or shorter than %d characters", MinHookChars))
	}
	if tooShort(t.Story, MinStoryChars) {
		errs = append(errs, fmt.Sprintf("Triple-S story is missing or shorter than %d characters", MinStoryChars))
	}
	hasTakeaway := false
	for _, k := range t.Takeaways {
		if strings.TrimSpace(k) != "" {
			hasTakeaway = true
			break
		}
	}
	if !hasTakeaway {
		errs = append(errs, "Triple-S requires at least one takeaway")
	}
	if tooShort(t.CTA, MinCTAChars) {
		errs = append(errs, fmt.Sprintf("Triple-S call to action is missing or shorter than %d characters", MinCTAChars))
	}
	return result(CheckTripleS, errs)
}

// CTATone rejects debate-bait calls to action.
func CTATone(a *model.ContentArtifact, rules *brand.Rules) CheckResult {
	cta := strings.ToLower(a.TripleS.CTA)
	var errs []string
	for _, phrase := range rules.CTADebatePhrases {
		if phrase != "" && strings.Contains(cta, strings.ToLower(phrase)) {
			errs = append(errs, fmt.Sprintf("Call to action invites debate (%q); invite reflection or sharing instead", phrase))
		}
	}
	return result(CheckCTATone, errs)
}

// Hashtags checks count, primary-set membership and the leading '#'.
func Hashtags(a *model.ContentArtifact, rules *brand.Rules) CheckResult {
	tags := a.Hashtags
	var errs []string
	if len(tags) < MinHashtags || len(tags) > MaxHashtags {
		errs = append(errs, fmt.Sprintf("Use between %d and %d hashtags, found %d", MinHashtags, MaxHashtags, len(tags)))
	}
	primary := 0
	var malformed []string
	for _, tag := range tags {
		if rules.IsPrimaryHashtag(tag) {
			primary++
		}
		if !strings.HasPrefix(tag, "#") {
			malformed = append(malformed, tag)
		}
	}
	if primary < MinPrimaryHashtags {
		errs = append(errs, fmt.Sprintf("At least %d hashtags must come from the primary set (%s), found %d",
			MinPrimaryHashtags, strings.Join(rules.PrimaryHashtags, ", "), primary))
	}
	if len(malformed) > 0 {
		errs = append(errs, fmt.Sprintf("Every hashtag must start with #: %s", strings.Join(malformed, ", ")))
	}
	return result(CheckHashtags, errs)
}

// SEOTags checks the tag list when the platform requires SEO.
func SEOTags(a *model.ContentArtifact, pr brand.PlatformRules) CheckResult {
	if !pr.RequireSEO {
		return result(CheckSEOTags, nil)
	}
	var errs []string
	switch n := len(a.SEOTags); {
	case n == 0:
		errs = append(errs, fmt.Sprintf("SEO tags are required for %s", a.Platform))
	case n < MinSEOTags:
		errs = append(errs, fmt.Sprintf("Provide at least %d SEO tags, found %d", MinSEOTags, n))
	}
	return result(CheckSEOTags, errs)
}

// BrandVoice scans hook and body for robotic or influencer phrasing. Only the
// first match in each category is reported.
func BrandVoice(a *model.ContentArtifact, rules *brand.Rules) CheckResult {
	text := a.Hook + "\n\n" + a.Body
	var errs []string
	for _, category := range brand.VoiceCategories {
		for _, re := range rules.CompiledVoicePatterns(category) {
			if loc := re.FindStringIndex(text); loc != nil {
				errs = append(errs, fmt.Sprintf("Brand voice: %s phrasing detected (%q)", category, text[loc[0]:loc[1]]))
				break
			}
		}
	}
	return result(CheckBrandVoice, errs)
}

// Visual checks the image prompt, quote cards and the exact brand palette.
func Visual(a *model.ContentArtifact, rules *brand.Rules) CheckResult {
	v := a.Visual
	var errs []string
	if tooShort(v.Prompt, MinVisualPromptChars) {
		errs = append(errs, fmt.Sprintf("Visual prompt is missing or shorter than %d characters", MinVisualPromptChars))
	}
	hasCard := false
	for _, c := range v.QuoteCards {
		if strings.TrimSpace(c) != "" {
			hasCard = true
			break
		}
	}
	if !hasCard {
		errs = append(errs, "Provide at least one quote card")
	}
	if !slices.Equal(v.Palette, rules.Palette) {
		errs = append(errs, fmt.Sprintf("Visual palette must be exactly [%s]", strings.Join(rules.Palette, ", ")))
	}
	return result(CheckVisual, errs)
}
