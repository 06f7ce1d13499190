// Package brand holds the brand and platform rule tables shared by the prompt
// composer and the validators. Rules are configuration data: the defaults are
// embedded in the binary and may be replaced by a YAML file at startup.
package brand

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yangwenmai/softpost/internal/model"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Voice pattern categories.
const (
	CategoryRobotic    = "robotic"
	CategoryInfluencer = "influencer"
)

// VoiceCategories lists pattern categories in check order.
var VoiceCategories = []string{CategoryRobotic, CategoryInfluencer}

// PlatformRules are the length and structure rules for one platform.
type PlatformRules struct {
	Label            string   `yaml:"label"`
	MinWords         int      `yaml:"minWords"`
	MaxWords         int      `yaml:"maxWords"`
	MobileFormatting bool     `yaml:"mobileFormatting"`
	RequireTripleS   bool     `yaml:"requireTripleS"`
	RequireSEO       bool     `yaml:"requireSEO"`
	CharLimit        int      `yaml:"charLimit"`
	Structure        string   `yaml:"structure"`
	Themes           []string `yaml:"themes"`
}

// VoicePattern is one row of the brand-voice pattern table.
type VoicePattern struct {
	Category string `yaml:"category"`
	Pattern  string `yaml:"pattern"`
}

// PromptBlocks is the static prompt text.
type PromptBlocks struct {
	BrandVoice      string `yaml:"brandVoice"`
	SoftFramework   string `yaml:"softFramework"`
	HashtagGuidance string `yaml:"hashtagGuidance"`
	VisualGuidance  string `yaml:"visualGuidance"`
	ProductGuidance string `yaml:"productGuidance"`
}

// Rules is the full rule set.
type Rules struct {
	Platforms        map[model.Platform]PlatformRules `yaml:"platforms"`
	PrimaryHashtags  []string                         `yaml:"primaryHashtags"`
	Palette          []string                         `yaml:"palette"`
	CTADebatePhrases []string                         `yaml:"ctaDebatePhrases"`
	VoicePatterns    []VoicePattern                   `yaml:"voicePatterns"`
	Segments         map[model.Segment]string         `yaml:"segments"`
	Prompts          PromptBlocks                     `yaml:"prompts"`

	compiled map[string][]*regexp.Regexp
	primary  map[string]bool
}

var (
	defaultOnce  sync.Once
	defaultRules *Rules
)

// Default returns the embedded rule set. It panics if the embedded file is
// malformed, which is a build defect.
func Default() *Rules {
	defaultOnce.Do(func() {
		r, err := Parse(defaultRulesYAML)
		if err != nil {
			panic(fmt.Sprintf("brand: embedded rules: %v", err))
		}
		defaultRules = r
	})
	return defaultRules
}

// Load reads a rule set from a YAML file. An empty path returns the defaults.
func Load(path string) (*Rules, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read brand rules: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("brand rules %s: %w", path, err)
	}
	return r, nil
}

// Parse decodes and validates a YAML rule set.
func Parse(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks the rule set and compiles its voice patterns. It must be
// called before the rules are used by a validator or the prompt composer.
func (r *Rules) Validate() error {
	if len(r.Palette) != 3 {
		return fmt.Errorf("palette must have exactly 3 colours, got %d", len(r.Palette))
	}
	for p, pr := range r.Platforms {
		if !p.Valid() {
			return fmt.Errorf("unknown platform %q", p)
		}
		if pr.MinWords < 0 || pr.MaxWords < pr.MinWords {
			return fmt.Errorf("platform %s: invalid word bounds [%d,%d]", p, pr.MinWords, pr.MaxWords)
		}
	}
	r.compiled = make(map[string][]*regexp.Regexp)
	for _, vp := range r.VoicePatterns {
		re, err := regexp.Compile("(?i)" + vp.Pattern)
		if err != nil {
			return fmt.Errorf("voice pattern %q: %w", vp.Pattern, err)
		}
		r.compiled[vp.Category] = append(r.compiled[vp.Category], re)
	}
	r.primary = make(map[string]bool, len(r.PrimaryHashtags))
	for _, tag := range r.PrimaryHashtags {
		r.primary[tag] = true
	}
	return nil
}

// Platform returns the rules for p.
func (r *Rules) Platform(p model.Platform) (PlatformRules, bool) {
	pr, ok := r.Platforms[p]
	return pr, ok
}

// CompiledVoicePatterns returns the compiled voice patterns for a category,
// in file order. Matching is case-insensitive.
func (r *Rules) CompiledVoicePatterns(category string) []*regexp.Regexp {
	return r.compiled[category]
}

// IsPrimaryHashtag reports whether tag is in the primary set (exact match).
func (r *Rules) IsPrimaryHashtag(tag string) bool {
	return r.primary[tag]
}

// PaletteCopy returns a fresh copy of the brand palette.
func (r *Rules) PaletteCopy() []string {
	out := make([]string, len(r.Palette))
	copy(out, r.Palette)
	return out
}

// Persona returns the persona text for a segment.
func (r *Rules) Persona(s model.Segment) string {
	return r.Segments[s]
}
