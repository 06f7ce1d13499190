package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/softpost/internal/brand"
	"github.com/yangwenmai/softpost/internal/model"
)

func TestComposePrompt_Sections(t *testing.T) {
	rules := brand.Default()
	p := ComposePrompt(rules, PromptInput{
		SeedIdea:     "hydration in harmattan season",
		MonthlyTheme: "Dry season",
		Segment:      model.SegmentConsciousConsumer,
		Platform:     model.PlatformSubstack,
	})

	order := []string{
		"## BRAND VOICE", "## S.O.F.T. FRAMEWORK", "## AUDIENCE", "## PLATFORM RULES",
		"## HASHTAGS", "## VISUAL", "## OUTPUT FORMAT", "## TASK",
	}
	last := -1
	for _, h := range order {
		i := strings.Index(p, h)
		require.GreaterOrEqual(t, i, 0, "missing section %s", h)
		assert.Greater(t, i, last, "section %s out of order", h)
		last = i
	}

	assert.Contains(t, p, "Segment: conscious_consumer\n")
	assert.Contains(t, p, "Platform: substack\n")
	assert.Contains(t, p, "hydration in harmattan season")
	assert.Contains(t, p, "Dry season")
	for _, c := range rules.Palette {
		assert.Contains(t, p, c)
	}
	assert.NotContains(t, p, "## PRODUCTS")
	assert.NotContains(t, p, "PREVIOUS ATTEMPT FAILED VALIDATION")
}

func TestComposePrompt_Optional(t *testing.T) {
	p := ComposePrompt(brand.Default(), PromptInput{
		SeedIdea:        "seed",
		Segment:         model.SegmentNewToSkincare,
		Platform:        model.PlatformLinkedInBusiness,
		IncludeProducts: true,
		SourceExcerpt:   strings.Repeat("é", maxExcerptRunes+100),
		PreviousErrors:  []string{"Word count 90 is below the minimum of 150 for linkedin_business"},
	})

	assert.Contains(t, p, "## PRODUCTS")
	assert.Contains(t, p, "- Word count 90 is below the minimum of 150 for linkedin_business\n")
	assert.NotContains(t, p, strings.Repeat("é", maxExcerptRunes+1), "excerpt is truncated")
	assert.Contains(t, p, strings.Repeat("é", maxExcerptRunes-1))
}

func TestComposeRewritePrompt(t *testing.T) {
	a := StubArtifact(model.PlatformLinkedInPersonal, model.SegmentBusyProfessional)
	a.QA.Errors = []string{"stale cached error"}
	p := ComposeRewritePrompt(brand.Default(), &a, []string{"Hook is too short"})

	assert.Contains(t, p, "## FIX THESE ERRORS")
	assert.Contains(t, p, "Hook is too short")
	assert.Contains(t, p, "## CURRENT ARTIFACT")
	assert.Contains(t, p, a.TripleS.CTA)
	assert.NotContains(t, p, "stale cached error", "QA is cleared from the embedded artifact")
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"upper tag", "```JSON\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding space", "  \n```json\n{\"a\":1}\n```\n ", `{"a":1}`},
		{"single line", "```json{\"a\":1}```", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFence(tt.in))
		})
	}
}

func TestParseArtifact_Errors(t *testing.T) {
	_, err := ParseArtifact("```json\n```")
	assert.EqualError(t, err, "empty model output")

	_, err = ParseArtifact("here you go: {")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid artifact JSON")
}

func TestNormalize_Defaults(t *testing.T) {
	raw, err := ParseArtifact(`{"body":"  text  ","hashtags":[" #SoftMelanin ",""],"tripleS":{"hook":"Look closer"},"visual":{"palette":["#000000"]}}`)
	require.NoError(t, err)

	rules := brand.Default()
	a := Normalize(raw, model.PlatformLinkedInPersonal, model.SegmentNewToSkincare, rules)

	assert.Equal(t, model.PlatformLinkedInPersonal, a.Platform)
	assert.Equal(t, model.SegmentNewToSkincare, a.Segment)
	assert.Equal(t, "text", a.Body)
	assert.Equal(t, "Look closer", a.Hook, "hook falls back to the framework hook")
	assert.Equal(t, []string{"#SoftMelanin"}, a.Hashtags)
	assert.Equal(t, rules.Palette, a.Visual.Palette)
	assert.NotNil(t, a.SEOTags)
	assert.NotNil(t, a.Visual.QuoteCards)
	assert.NotNil(t, a.Growth.PostingTimes)
	assert.NotNil(t, a.QA.Errors)

	a.Visual.Palette[0] = "#ffffff"
	assert.NotEqual(t, "#ffffff", rules.Palette[0], "palette is copied")
}
