package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yangwenmai/softpost/internal/brand"
	"github.com/yangwenmai/softpost/internal/model"
)

// RawArtifact is the provider's JSON output before normalization. Every
// field is optional; nothing in it is trusted.
type RawArtifact struct {
	Hook     *string     `json:"hook"`
	Body     *string     `json:"body"`
	TripleS  *rawTripleS `json:"tripleS"`
	Soft     *rawSoft    `json:"soft"`
	Hashtags []string    `json:"hashtags"`
	SEOTags  []string    `json:"seoTags"`
	Visual   *rawVisual  `json:"visual"`
	Growth   *rawGrowth  `json:"growth"`
}

type rawTripleS struct {
	Hook      *string  `json:"hook"`
	FiveC     *string  `json:"fiveC"`
	Story     *string  `json:"story"`
	Takeaways []string `json:"takeaways"`
	CTA       *string  `json:"cta"`
}

type rawSoft struct {
	Story          *string `json:"story"`
	Opportunity    *string `json:"opportunity"`
	Framework      *string `json:"framework"`
	Transformation *string `json:"transformation"`
}

type rawVisual struct {
	Prompt     *string  `json:"prompt"`
	Palette    []string `json:"palette"`
	QuoteCards []string `json:"quoteCards"`
}

type rawGrowth struct {
	PostingTimes []string `json:"postingTimes"`
	Repurposing  []string `json:"repurposing"`
	ABHooks      []string `json:"abHooks"`
}

// StripCodeFence removes a surrounding markdown code fence, optionally
// tagged json, from model output.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		tag := strings.TrimSpace(s[:nl])
		if tag == "" || strings.EqualFold(tag, "json") {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseArtifact decodes provider output into a RawArtifact.
func ParseArtifact(out string) (*RawArtifact, error) {
	text := StripCodeFence(out)
	if text == "" {
		return nil, errors.New("empty model output")
	}
	var raw RawArtifact
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("invalid artifact JSON: %w", err)
	}
	return &raw, nil
}

// Normalize fills every required field of raw with a safe default and forces
// the brand palette. Platform and segment come from the request, never from
// the model.
func Normalize(raw *RawArtifact, platform model.Platform, segment model.Segment, rules *brand.Rules) model.ContentArtifact {
	a := model.ContentArtifact{
		Platform: platform,
		Segment:  segment,
		Hook:     str(raw.Hook),
		Body:     strings.TrimSpace(str(raw.Body)),
		Hashtags: cleanList(raw.Hashtags),
		SEOTags:  cleanList(raw.SEOTags),
		QA:       model.QA{Errors: []string{}},
	}

	a.TripleS = model.TripleS{Takeaways: []string{}}
	if t := raw.TripleS; t != nil {
		a.TripleS = model.TripleS{
			Hook:      str(t.Hook),
			FiveC:     str(t.FiveC),
			Story:     str(t.Story),
			Takeaways: cleanList(t.Takeaways),
			CTA:       str(t.CTA),
		}
	}
	if a.Hook == "" {
		a.Hook = a.TripleS.Hook
	}

	if s := raw.Soft; s != nil {
		a.Soft = model.Soft{
			Story:          str(s.Story),
			Opportunity:    str(s.Opportunity),
			Framework:      str(s.Framework),
			Transformation: str(s.Transformation),
		}
	}

	a.Visual = model.Visual{QuoteCards: []string{}}
	if v := raw.Visual; v != nil {
		a.Visual.Prompt = str(v.Prompt)
		a.Visual.QuoteCards = cleanList(v.QuoteCards)
	}
	a.Visual.Palette = rules.PaletteCopy()

	a.Growth = model.Growth{PostingTimes: []string{}, Repurposing: []string{}}
	if g := raw.Growth; g != nil {
		a.Growth = model.Growth{
			PostingTimes: cleanList(g.PostingTimes),
			Repurposing:  cleanList(g.Repurposing),
			ABHooks:      cleanList(g.ABHooks),
		}
	}

	return a
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// cleanList trims entries and drops blanks. It never returns nil.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
