package model

import (
	"strconv"
	"time"
)

// Platform is a content destination with its own length and structure rules.
type Platform string

// Supported platforms.
const (
	PlatformLinkedInPersonal Platform = "linkedin_personal"
	PlatformLinkedInBusiness Platform = "linkedin_business"
	PlatformSubstack         Platform = "substack"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{PlatformLinkedInPersonal, PlatformLinkedInBusiness, PlatformSubstack}

// Family is the kind of external account a platform publishes to.
type Family string

// Platform families.
const (
	FamilyLinkedIn Family = "linkedin"
	FamilySubstack Family = "substack"
)

// Family maps a platform onto the account family it publishes through.
// Both LinkedIn variants publish through a LinkedIn account.
func (p Platform) Family() Family {
	switch p {
	case PlatformLinkedInPersonal, PlatformLinkedInBusiness:
		return FamilyLinkedIn
	case PlatformSubstack:
		return FamilySubstack
	default:
		return ""
	}
}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool { return p.Family() != "" }

// IsLinkedIn reports whether p belongs to the LinkedIn family.
func (p Platform) IsLinkedIn() bool { return p.Family() == FamilyLinkedIn }

// Valid reports whether f is a known family.
func (f Family) Valid() bool { return f == FamilyLinkedIn || f == FamilySubstack }

// Segment selects the audience persona used in the prompt.
type Segment string

// Audience segments.
const (
	SegmentNewToSkincare     Segment = "new_to_skincare"
	SegmentBusyProfessional  Segment = "busy_professional"
	SegmentConsciousConsumer Segment = "conscious_consumer"
)

// Segments lists every audience segment.
var Segments = []Segment{SegmentNewToSkincare, SegmentBusyProfessional, SegmentConsciousConsumer}

// Valid reports whether s is a known segment.
func (s Segment) Valid() bool {
	for _, known := range Segments {
		if s == known {
			return true
		}
	}
	return false
}

// TripleS is the hook / story / takeaways framework of a post.
type TripleS struct {
	Hook      string   `json:"hook"`
	FiveC     string   `json:"fiveC"`
	Story     string   `json:"story"`
	Takeaways []string `json:"takeaways"`
	CTA       string   `json:"cta"`
}

// Soft holds the four S.O.F.T. framework slots.
type Soft struct {
	Story          string `json:"story"`
	Opportunity    string `json:"opportunity"`
	Framework      string `json:"framework"`
	Transformation string `json:"transformation"`
}

// Visual describes the image that accompanies a post.
type Visual struct {
	Prompt     string   `json:"prompt"`
	Palette    []string `json:"palette"`
	QuoteCards []string `json:"quoteCards"`
}

// Growth carries posting recommendations. It is descriptive only.
type Growth struct {
	PostingTimes []string `json:"postingTimes"`
	Repurposing  []string `json:"repurposing"`
	ABHooks      []string `json:"abHooks,omitempty"`
}

// QA is the cached outcome of the last validation pass.
type QA struct {
	Authenticity        bool     `json:"authenticity"`
	BrandVoice          bool     `json:"brandVoice"`
	CulturalSensitivity bool     `json:"culturalSensitivity"`
	BusinessRelevance   bool     `json:"businessRelevance"`
	Errors              []string `json:"errors"`
}

// ContentArtifact is one generated content item for a platform/segment pair.
type ContentArtifact struct {
	ID           string    `json:"id,omitempty"`
	Platform     Platform  `json:"platform"`
	Segment      Segment   `json:"segment"`
	Hook         string    `json:"hook"`
	Body         string    `json:"body"`
	TripleS      TripleS   `json:"tripleS"`
	Soft         Soft      `json:"soft"`
	Hashtags     []string  `json:"hashtags"`
	SEOTags      []string  `json:"seoTags,omitempty"`
	Visual       Visual    `json:"visual"`
	Growth       Growth    `json:"growth"`
	QA           QA        `json:"qa"`
	SeedIdea     string    `json:"seedIdea"`
	MonthlyTheme string    `json:"monthlyTheme,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Valid reports whether the cached QA summary carries no errors.
func (a *ContentArtifact) Valid() bool { return len(a.QA.Errors) == 0 }

// ArtifactFilter holds query parameters for listing artifacts.
type ArtifactFilter struct {
	Platform []Platform
	Segment  []Segment
	Query    string
	Limit    int
	Offset   int
}

// GenerationRequest expands to one generation per (segment, platform) pair.
type GenerationRequest struct {
	SeedIdea           string     `json:"seedIdea"`
	MonthlyTheme       string     `json:"monthlyTheme,omitempty"`
	Segments           []Segment  `json:"segments"`
	Platforms          []Platform `json:"platforms"`
	IncludeProducts    bool       `json:"includeProducts,omitempty"`
	SourceURL          string     `json:"sourceUrl,omitempty"`
	MaxRewriteAttempts *int       `json:"maxRewriteAttempts,omitempty"`
}

// Validate checks the request shape before any provider call.
func (r GenerationRequest) Validate() error {
	var errs ValidationErrors
	if r.SeedIdea == "" {
		errs = append(errs, FieldError{Field: "seedIdea", Message: "seed idea is required"})
	}
	if len(r.Segments) == 0 {
		errs = append(errs, FieldError{Field: "segments", Message: "at least one segment is required"})
	}
	for i, s := range r.Segments {
		if !s.Valid() {
			errs = append(errs, FieldError{Field: fieldIndex("segments", i), Message: "unknown segment " + string(s)})
		}
	}
	if len(r.Platforms) == 0 {
		errs = append(errs, FieldError{Field: "platforms", Message: "at least one platform is required"})
	}
	for i, p := range r.Platforms {
		if !p.Valid() {
			errs = append(errs, FieldError{Field: fieldIndex("platforms", i), Message: "unknown platform " + string(p)})
		}
	}
	if r.MaxRewriteAttempts != nil && (*r.MaxRewriteAttempts < 0 || *r.MaxRewriteAttempts > 5) {
		errs = append(errs, FieldError{Field: "maxRewriteAttempts", Message: "must be between 0 and 5"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// GenerationSession is the audit record of one batch generation request.
type GenerationSession struct {
	ID           string     `json:"id"`
	SeedIdea     string     `json:"seedIdea"`
	MonthlyTheme string     `json:"monthlyTheme,omitempty"`
	Segments     []Segment  `json:"segments"`
	Platforms    []Platform `json:"platforms"`
	ArtifactIDs  []string   `json:"artifactIds"`
	Errors       []string   `json:"errors"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func fieldIndex(field string, i int) string {
	return field + "[" + strconv.Itoa(i) + "]"
}
