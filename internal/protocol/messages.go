// Package protocol defines the messages exchanged between execution contexts.
// Messages are plain values; receivers never share them back.
package protocol

import (
	"strings"

	"github.com/pbaille/postkeep/internal/domain"
)

// Well-known endpoints.
const (
	Background = "background"
	Popup      = "popup"
	pagePrefix = "page:"
)

// PageEndpoint is the address of the agent living in one page.
func PageEndpoint(id string) string { return pagePrefix + id }

// IsPage reports whether name addresses a page agent.
func IsPage(name string) bool { return strings.HasPrefix(name, pagePrefix) }

// Mode selects the signal a page uses to pick a post.
type Mode string

const (
	// ModeAuto uses a recent interaction, then the pointer, then visibility.
	ModeAuto Mode = ""
	// ModeVisible ignores interactions and picks the most visible post.
	ModeVisible Mode = "visible"
)

// ExtractPost asks a page for the post the user means.
type ExtractPost struct {
	Mode Mode
}

// PostExtracted answers ExtractPost.
type PostExtracted struct {
	Post domain.ExtractedPost
}

// SavePost asks the background context to persist a post. Origin is the page
// endpoint that extracted it, if any.
type SavePost struct {
	Post   domain.ExtractedPost
	Origin string
}

// SaveResult answers SavePost.
type SaveResult struct {
	Success      bool
	Duplicate    bool
	PostID       string
	AccountLabel string
	Message      string
	Error        string
}

// GetStatus asks whether a credential is configured.
type GetStatus struct{}

// Status answers GetStatus.
type Status struct {
	Authenticated bool
	AccountLabel  string
}

// UpdateEngagement pushes fresh counters for a saved post.
type UpdateEngagement struct {
	Permalink  string
	Engagement domain.Engagement
}

// Ack answers messages that carry no data back.
type Ack struct {
	OK    bool
	Error string
}

// FetchImages asks a page to retrieve images through its own session.
type FetchImages struct {
	Refs []domain.MediaRef
}

// ImagesFetched answers FetchImages. Images that could not be retrieved have
// an empty DataURI.
type ImagesFetched struct {
	Images []domain.MediaImage
}

// FetchPostImages asks the background context to run the media pipeline for
// an already saved post.
type FetchPostImages struct {
	PostID string
	Refs   []domain.MediaRef
	Origin string
}

// ShowNotification asks a page to display a save outcome.
type ShowNotification struct {
	Success bool
	Message string
}
