package store

import (
	"context"
	"time"

	"github.com/yangwenmai/softpost/internal/model"
)

// ArtifactRepository provides access to generated content.
type ArtifactRepository interface {
	SaveArtifact(ctx context.Context, a *model.ContentArtifact) error
	UpdateArtifact(ctx context.Context, a *model.ContentArtifact) error
	GetArtifact(ctx context.Context, id string) (*model.ContentArtifact, error)
	ListArtifacts(ctx context.Context, f model.ArtifactFilter) ([]model.ContentArtifact, error)
	CountArtifacts(ctx context.Context, f model.ArtifactFilter) (int, error)
	DeleteArtifact(ctx context.Context, id string) error
}

// AccountRepository provides access to connected publishing accounts.
type AccountRepository interface {
	CreateAccount(ctx context.Context, a *model.SocialAccount) error
	GetAccount(ctx context.Context, id string) (*model.SocialAccount, error)
	ListAccounts(ctx context.Context) ([]model.SocialAccount, error)
	DeleteAccount(ctx context.Context, id string) error
}

// PostReader provides read access to scheduled posts and their history.
type PostReader interface {
	GetScheduledPost(ctx context.Context, id string) (*model.ScheduledPost, error)
	ListScheduledPosts(ctx context.Context, f model.ScheduledPostFilter) ([]model.ScheduledPost, error)
	CountScheduledPosts(ctx context.Context, f model.ScheduledPostFilter) (int, error)
	CountByStatus(ctx context.Context) (model.StatusCounts, error)
	ListHistory(ctx context.Context, postID string) ([]model.PostHistory, error)
}

// PostClaimer provides atomic claim operations for the dispatcher.
type PostClaimer interface {
	ListDuePosts(ctx context.Context, now time.Time, limit int) ([]model.ScheduledPost, error)
	ClaimPost(ctx context.Context, id string, from []model.PostStatus) (*model.ScheduledPost, error)
	ResetStalePosting(ctx context.Context) (int64, error)
}

// PostRepository combines all scheduled-post operations.
type PostRepository interface {
	PostReader
	PostClaimer
}

// SessionStore records generation batches.
type SessionStore interface {
	SaveSession(ctx context.Context, s *model.GenerationSession) error
	ListSessions(ctx context.Context, limit int) ([]model.GenerationSession, error)
}
