package domain

import "context"

// Posts is the persistence service as seen by one authenticated owner.
// Every method is scoped to that owner.
type Posts interface {
	// CreatePost commits the post text. A post that matches an existing record
	// comes back with Duplicate set instead of an error.
	CreatePost(ctx context.Context, p ExtractedPost) (CreateResult, error)

	// ListPosts returns posts newest first.
	ListPosts(ctx context.Context, f SearchFilter) (PostPage, error)

	// SearchPosts filters posts by free text and metadata.
	SearchPosts(ctx context.Context, f SearchFilter) (PostPage, error)

	// UpdateTags replaces the tag list of a post.
	UpdateTags(ctx context.Context, id string, tags []string) (SavedPost, error)

	// DeletePost removes a post. Missing posts yield ErrNotFound.
	DeletePost(ctx context.Context, id string) error

	// CheckAndIncrementQuota atomically consumes one enrichment unit when
	// today's limit allows it.
	CheckAndIncrementQuota(ctx context.Context) (Quota, error)

	// PatchMedia attaches retrieved images to a post.
	PatchMedia(ctx context.Context, id string, images []MediaImage) error

	// UpdateEngagementByURL refreshes counters of the post saved under permalink.
	UpdateEngagementByURL(ctx context.Context, permalink string, e Engagement) error

	// ApplyAnalysis merges enrichment metadata into a post.
	ApplyAnalysis(ctx context.Context, id string, a Analysis) (SavedPost, error)

	// Settings returns the owner's preferences and today's usage.
	Settings(ctx context.Context) (Settings, error)
}
