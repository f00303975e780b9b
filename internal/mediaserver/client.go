// Package mediaserver talks to the home media server: metadata, markers,
// stream URL construction, timeline reporting and transcode session
// control. The playback core consumes the Client interface; the HTTP
// implementation speaks a Plex-style wire protocol.
package mediaserver

import (
	"context"
	"errors"

	"github.com/flixor/flixor/internal/models"
)

var (
	// ErrMetadataUnavailable marks a transient metadata failure. Callers
	// treat it as fatal for the current attempt but retryable at the
	// session level.
	ErrMetadataUnavailable = errors.New("metadata unavailable")

	// ErrNoPlayableSource marks an item with no usable media. Never
	// retried.
	ErrNoPlayableSource = errors.New("no playable source")
)

// TranscodeParams carries the quality constraints encoded into the
// adaptive-stream URL.
type TranscodeParams struct {
	Quality   models.QualityProfile
	SessionID string
	// Protocol is the adaptive delivery protocol, "hls" or "dash".
	Protocol string
}

// Client is the narrow interface the playback core uses. Implementations
// must be safe for concurrent use.
type Client interface {
	// Metadata fetches the item's source descriptor. bypassCache forces a
	// fresh fetch past any server- or client-side caching; part keys can
	// be reassigned after a library rescan.
	Metadata(ctx context.Context, itemID string, bypassCache bool) (*models.SourceDescriptor, error)

	// Item fetches the playable identity, including the server-side
	// resume offset and sequence linkage.
	Item(ctx context.Context, itemID string) (*models.PlayableItem, error)

	// Markers fetches the item's skip markers. Markers are fetched once
	// per session and are immutable for its duration.
	Markers(ctx context.Context, itemID string) ([]models.Marker, error)

	// Siblings lists the items sharing a parent, ordered by index. Used
	// for next-up resolution.
	Siblings(ctx context.Context, parentID string) ([]models.PlayableItem, error)

	// DirectPlayURL builds the URL that serves the source file
	// unmodified.
	DirectPlayURL(partKey string) string

	// TranscodeURL builds the adaptive-stream URL for a server-side
	// transcode of the item under the given constraints.
	TranscodeURL(itemID string, params TranscodeParams) string

	// ReportTimeline posts a consumption snapshot.
	ReportTimeline(ctx context.Context, itemID string, snap models.ProgressSnapshot) error

	// StopTranscode asks the server to tear down a transcode session.
	StopTranscode(ctx context.Context, sessionID string) error
}
