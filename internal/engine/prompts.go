package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yangwenmai/softpost/internal/brand"
	"github.com/yangwenmai/softpost/internal/model"
	"github.com/yangwenmai/softpost/internal/validate"
)

// maxExcerptRunes bounds the source article excerpt embedded in a prompt.
const maxExcerptRunes = 4000

// PromptInput is everything the composer needs for one generation attempt.
type PromptInput struct {
	SeedIdea        string
	MonthlyTheme    string
	Segment         model.Segment
	Platform        model.Platform
	IncludeProducts bool
	SourceExcerpt   string
	// PreviousErrors are the failures of the prior attempt, quoted verbatim.
	PreviousErrors []string
}

// ComposePrompt renders the generation instruction for one attempt.
func ComposePrompt(rules *brand.Rules, in PromptInput) string {
	var b strings.Builder

	section(&b, "BRAND VOICE", rules.Prompts.BrandVoice)
	section(&b, "S.O.F.T. FRAMEWORK", rules.Prompts.SoftFramework)
	section(&b, "AUDIENCE", fmt.Sprintf("Segment: %s\n%s", in.Segment, rules.Persona(in.Segment)))
	section(&b, "PLATFORM RULES", platformBlock(rules, in.Platform))
	section(&b, "HASHTAGS", fmt.Sprintf("%s\nPrimary hashtags: %s\nCount: %d to %d.",
		rules.Prompts.HashtagGuidance, strings.Join(rules.PrimaryHashtags, ", "), validate.MinHashtags, validate.MaxHashtags))
	section(&b, "VISUAL", fmt.Sprintf("%s\nPalette: [%s]",
		rules.Prompts.VisualGuidance, quoteList(rules.Palette)))
	if in.IncludeProducts {
		section(&b, "PRODUCTS", rules.Prompts.ProductGuidance)
	}
	section(&b, "OUTPUT FORMAT", outputContract(rules, in.Platform))
	section(&b, "TASK", taskBlock(in))

	if len(in.PreviousErrors) > 0 {
		var fb strings.Builder
		fb.WriteString("The previous attempt failed validation with these errors:\n")
		for _, e := range in.PreviousErrors {
			fmt.Fprintf(&fb, "- %s\n", e)
		}
		fb.WriteString("Fix every error above with targeted edits. Preserve the core message, story and structure of the piece.")
		section(&b, "PREVIOUS ATTEMPT FAILED VALIDATION", fb.String())
	}

	return strings.TrimSpace(b.String())
}

// ComposeRewritePrompt renders a one-shot correction prompt for an existing
// artifact.
func ComposeRewritePrompt(rules *brand.Rules, a *model.ContentArtifact, errs []string) string {
	var b strings.Builder

	section(&b, "BRAND VOICE", rules.Prompts.BrandVoice)
	section(&b, "PLATFORM RULES", platformBlock(rules, a.Platform))
	section(&b, "AUDIENCE", fmt.Sprintf("Segment: %s\n%s", a.Segment, rules.Persona(a.Segment)))

	var fb strings.Builder
	fb.WriteString("Rewrite the artifact below so it passes validation. Fix these errors:\n")
	for _, e := range errs {
		fmt.Fprintf(&fb, "- %s\n", e)
	}
	fb.WriteString("Make targeted fixes only. Keep the seed idea, story and voice intact.")
	section(&b, "FIX THESE ERRORS", fb.String())

	current := *a
	current.QA = model.QA{}
	section(&b, "CURRENT ARTIFACT", mustJSON(current))
	section(&b, "OUTPUT FORMAT", outputContract(rules, a.Platform))

	return strings.TrimSpace(b.String())
}

func section(b *strings.Builder, title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	fmt.Fprintf(b, "## %s\n%s\n\n", title, body)
}

func platformBlock(rules *brand.Rules, p model.Platform) string {
	pr, _ := rules.Platform(p)
	var b strings.Builder
	fmt.Fprintf(&b, "Platform: %s\n", p)
	if pr.Label != "" {
		fmt.Fprintf(&b, "Destination: %s\n", pr.Label)
	}
	fmt.Fprintf(&b, "Body length: %d to %d words.\n", pr.MinWords, pr.MaxWords)
	if pr.MobileFormatting {
		fmt.Fprintf(&b, "Mobile formatting: at least %d paragraphs separated by blank lines, each under %d words.\n",
			validate.MinParagraphs, validate.MaxParagraphWords)
	}
	if pr.RequireTripleS {
		b.WriteString("Triple-S is required: hook, story, at least one takeaway and a call to action that invites reflection, never debate.\n")
	}
	if pr.RequireSEO {
		fmt.Fprintf(&b, "SEO: provide at least %d seoTags.\n", validate.MinSEOTags)
	}
	if pr.CharLimit > 0 {
		fmt.Fprintf(&b, "Hook, body and hashtags together must stay under %d characters.\n", pr.CharLimit)
	}
	if pr.Structure != "" {
		fmt.Fprintf(&b, "Structure:\n%s\n", strings.TrimSpace(pr.Structure))
	}
	if len(pr.Themes) > 0 {
		b.WriteString("Theme suggestions:\n")
		for _, t := range pr.Themes {
			fmt.Fprintf(&b, "- %s\n", t)
		}
	}
	return b.String()
}

func outputContract(rules *brand.Rules, p model.Platform) string {
	seo := ""
	if pr, _ := rules.Platform(p); pr.RequireSEO {
		seo = `
  "seoTags": ["keyword one", "keyword two", "keyword three"],`
	}
	return fmt.Sprintf(`Output ONLY valid JSON with this exact structure (no markdown, no explanation):
{
  "hook": "one attention line",
  "body": "the full post text",
  "tripleS": {"hook": "...", "fiveC": "...", "story": "...", "takeaways": ["..."], "cta": "..."},
  "soft": {"story": "...", "opportunity": "...", "framework": "...", "transformation": "..."},
  "hashtags": ["#Tag"],%s
  "visual": {"prompt": "...", "palette": [%s], "quoteCards": ["..."]},
  "growth": {"postingTimes": ["..."], "repurposing": ["..."], "abHooks": ["..."]}
}`, seo, quoteList(rules.Palette))
}

func taskBlock(in PromptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write one %s piece for the %s segment.\n", in.Platform, in.Segment)
	fmt.Fprintf(&b, "Seed idea: %s\n", in.SeedIdea)
	if in.MonthlyTheme != "" {
		fmt.Fprintf(&b, "Monthly theme: %s\n", in.MonthlyTheme)
	}
	if in.SourceExcerpt != "" {
		fmt.Fprintf(&b, "Source article excerpt (use as background, do not copy):\n%s\n", truncateRunes(in.SourceExcerpt, maxExcerptRunes))
	}
	return b.String()
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = `"` + s + `"`
	}
	return strings.Join(quoted, ", ")
}

// truncateRunes truncates s to maxRunes runes (Unicode-safe).
func truncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "\n... [truncated]"
}

// mustJSON marshals v to a JSON string. It panics on error because callers
// only pass known struct types that are guaranteed to be serializable.
func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("engine: json.Marshal failed on known type: %v", err))
	}
	return string(b)
}
