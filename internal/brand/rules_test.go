package brand

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/softpost/internal/model"
)

func TestDefault(t *testing.T) {
	r := Default()

	for _, p := range model.Platforms {
		_, ok := r.Platform(p)
		assert.True(t, ok, "missing rules for %s", p)
	}
	for _, s := range model.Segments {
		assert.NotEmpty(t, r.Persona(s), "missing persona for %s", s)
	}

	li, _ := r.Platform(model.PlatformLinkedInPersonal)
	assert.Equal(t, 150, li.MinWords)
	assert.Equal(t, 300, li.MaxWords)
	assert.True(t, li.MobileFormatting)

	ss, _ := r.Platform(model.PlatformSubstack)
	assert.True(t, ss.RequireSEO)

	assert.Equal(t, []string{"#6e3f2b", "#a6683f", "#d2955e"}, r.Palette)
	assert.True(t, r.IsPrimaryHashtag("#SoftMelanin"))
	assert.False(t, r.IsPrimaryHashtag("#softmelanin"))
	assert.NotEmpty(t, r.CompiledVoicePatterns(CategoryRobotic))
	assert.NotEmpty(t, r.CompiledVoicePatterns(CategoryInfluencer))
}

func TestPatternsAreCaseInsensitive(t *testing.T) {
	r := Default()
	matched := false
	for _, re := range r.CompiledVoicePatterns(CategoryRobotic) {
		if re.MatchString("FURTHERMORE, our serum works") {
			matched = true
		}
	}
	assert.True(t, matched)
}

func TestPaletteCopy(t *testing.T) {
	r := Default()
	p := r.PaletteCopy()
	p[0] = "#000000"
	assert.Equal(t, "#6e3f2b", r.Palette[0], "PaletteCopy must not alias the rules")
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"short palette", "palette: ['#1', '#2']\n"},
		{"unknown platform", "palette: ['#1','#2','#3']\nplatforms:\n  myspace:\n    minWords: 1\n    maxWords: 2\n"},
		{"inverted bounds", "palette: ['#1','#2','#3']\nplatforms:\n  substack:\n    minWords: 10\n    maxWords: 2\n"},
		{"bad regex", "palette: ['#1','#2','#3']\nvoicePatterns:\n  - category: robotic\n    pattern: '(unclosed'\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	r, err := Load("")
	require.NoError(t, err)
	assert.Same(t, Default(), r)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	custom := "palette: ['#111111','#222222','#333333']\nprimaryHashtags: ['#One', '#Two']\n"
	require.NoError(t, os.WriteFile(path, []byte(custom), 0o644))

	r, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "#111111", r.Palette[0])
	assert.True(t, r.IsPrimaryHashtag("#Two"))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
