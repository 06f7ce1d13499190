package model

import (
	"fmt"
	"time"
)

// PostStatus is the publish state of a ScheduledPost. The literal values are
// persisted and consumed by the UI.
type PostStatus string

// Scheduled post statuses.
const (
	StatusPending   PostStatus = "pending"
	StatusQueued    PostStatus = "queued"
	StatusPosting   PostStatus = "posting"
	StatusPublished PostStatus = "published"
	StatusFailed    PostStatus = "failed"
	StatusCancelled PostStatus = "cancelled"
)

// PostStatuses lists every status value.
var PostStatuses = []PostStatus{StatusPending, StatusQueued, StatusPosting, StatusPublished, StatusFailed, StatusCancelled}

// ActiveStatuses are the statuses that hold the one-per-pair scheduling slot.
var ActiveStatuses = []PostStatus{StatusPending, StatusQueued, StatusPosting}

// DefaultMaxRetries is applied when a post is scheduled without a retry budget.
const DefaultMaxRetries = 3

// Valid reports whether s is a known status.
func (s PostStatus) Valid() bool {
	for _, known := range PostStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsActive reports whether s occupies the (artifact, account) scheduling slot.
func (s PostStatus) IsActive() bool {
	return s == StatusPending || s == StatusQueued || s == StatusPosting
}

// ScheduledPost binds one artifact to one account at one instant.
type ScheduledPost struct {
	ID              string     `json:"id"`
	ArtifactID      string     `json:"artifactId"`
	SocialAccountID string     `json:"socialAccountId"`
	ScheduledFor    time.Time  `json:"scheduledFor"`
	Timezone        string     `json:"timezone,omitempty"`
	Status          PostStatus `json:"status"`
	PublishedAt     *time.Time `json:"publishedAt,omitempty"`
	ExternalPostID  string     `json:"externalPostId,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
	RetryCount      int        `json:"retryCount"`
	MaxRetries      int        `json:"maxRetries"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// NewScheduledPost creates a pending post.
func NewScheduledPost(id, artifactID, accountID string, at time.Time, timezone string, maxRetries int) ScheduledPost {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	now := time.Now().UTC()
	return ScheduledPost{
		ID:              id,
		ArtifactID:      artifactID,
		SocialAccountID: accountID,
		ScheduledFor:    at.UTC(),
		Timezone:        timezone,
		Status:          StatusPending,
		MaxRetries:      maxRetries,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// CanCancel reports whether a user cancel applies to the post.
func (p *ScheduledPost) CanCancel() error {
	switch p.Status {
	case StatusPublished:
		return fmt.Errorf("published posts cannot be cancelled")
	case StatusCancelled:
		return fmt.Errorf("post is already cancelled")
	}
	return nil
}

// CanExecute reports whether a manual dispatch may run for the post.
func (p *ScheduledPost) CanExecute() error {
	switch p.Status {
	case StatusPublished:
		return fmt.Errorf("post %s is already published", p.ID)
	case StatusPosting:
		return fmt.Errorf("post %s is already being published", p.ID)
	}
	return nil
}

// ScheduledPostFilter holds query parameters for listing scheduled posts.
type ScheduledPostFilter struct {
	Status     []PostStatus
	AccountID  string
	ArtifactID string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// PostHistory is the immutable record of one successful publish.
type PostHistory struct {
	ID              string    `json:"id"`
	ScheduledPostID string    `json:"scheduledPostId,omitempty"`
	ArtifactID      string    `json:"artifactId"`
	SocialAccountID string    `json:"socialAccountId"`
	Platform        Platform  `json:"platform"`
	ExternalPostID  string    `json:"externalPostId"`
	ExternalURL     string    `json:"externalUrl,omitempty"`
	RawResponse     string    `json:"rawResponse,omitempty"`
	PostedAt        time.Time `json:"postedAt"`
}

// StatusCounts holds the number of scheduled posts per status.
type StatusCounts map[PostStatus]int
