package engine

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/yangwenmai/softpost/internal/brand"
	"github.com/yangwenmai/softpost/internal/model"
)

// StubExtractor returns mock extraction results (for development/testing).
type StubExtractor struct{}

func (e *StubExtractor) Extract(_ context.Context, url string) (*ExtractedContent, error) {
	text := "This is a stub extracted article about " + url + ". It covers barrier repair, gentle exfoliation and daily sun protection for deeper skin tones."
	return &ExtractedContent{
		Title:          "Stub article",
		NormalizedText: text,
		Meta: ContentMeta{
			Author:    "Stub Author",
			WordCount: len(strings.Fields(text)),
		},
	}, nil
}

var (
	stubPlatformLine = regexp.MustCompile(`(?m)^Platform: (\S+)`)
	stubSegmentLine  = regexp.MustCompile(`(?m)^Segment: (\S+)`)
)

// stubSentence is exactly 20 words; stub bodies are built from it so their
// word counts are predictable.
const stubSentence = "Melanin-rich skin thrives on gentle consistency, so start with a calm cleanser, seal in moisture, and protect every single morning."

// StubModelClient returns a canned artifact that passes validation for the
// platform and segment named in the prompt (for development/testing).
type StubModelClient struct {
	mu    sync.Mutex
	calls int
}

// Calls returns the number of completions served.
func (m *StubModelClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *StubModelClient) Complete(_ context.Context, prompt string, _ CompletionOptions) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	platform := model.PlatformLinkedInPersonal
	if match := stubPlatformLine.FindStringSubmatch(prompt); match != nil {
		platform = model.Platform(match[1])
	}
	segment := model.SegmentNewToSkincare
	if match := stubSegmentLine.FindStringSubmatch(prompt); match != nil {
		segment = model.Segment(match[1])
	}

	b, _ := json.Marshal(StubArtifact(platform, segment))
	return "```json\n" + string(b) + "\n```", nil
}

// StubArtifact builds a content artifact that passes every check for the
// platform under the default brand rules.
func StubArtifact(platform model.Platform, segment model.Segment) model.ContentArtifact {
	paragraph := stubSentence + " " + stubSentence
	paras := 5
	if platform == model.PlatformSubstack {
		paras = 20
	}
	parts := make([]string, paras)
	for i := range parts {
		parts[i] = paragraph
	}

	a := model.ContentArtifact{
		Platform: platform,
		Segment:  segment,
		Hook:     "Your skin keeps a diary of every late night.",
		Body:     strings.Join(parts, "\n\n"),
		TripleS: model.TripleS{
			Hook:      "Your skin keeps score",
			FiveC:     "clarity",
			Story:     "A year of weekly flights taught me what my barrier really needs.",
			Takeaways: []string{"Moisturise before you board.", "Reapply sunscreen at noon."},
			CTA:       "Share the one ritual you never skip.",
		},
		Soft: model.Soft{
			Story:          "A year of red-eye flights left my skin dull and tight.",
			Opportunity:    "Travel days are where routines quietly fall apart.",
			Framework:      "Cleanse, seal, protect: three steps in five minutes.",
			Transformation: "Landing with skin that still feels like your own.",
		},
		Hashtags: []string{"#SoftMelanin", "#MelaninSkincare", "#SkinRoutine"},
		Visual: model.Visual{
			Prompt:     "Warm-lit flat lay of a travel pouch with balm and serum on linen",
			Palette:    brand.Default().PaletteCopy(),
			QuoteCards: []string{"Your skin travels with you."},
		},
		Growth: model.Growth{
			PostingTimes: []string{"Tue 08:00", "Thu 12:30"},
			Repurposing:  []string{"Carousel of the three steps"},
		},
	}
	if platform == model.PlatformSubstack {
		a.SEOTags = []string{"melanin skincare", "travel skincare routine", "skin barrier repair"}
	}
	return a
}
