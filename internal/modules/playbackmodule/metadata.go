package playbackmodule

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/flixor/flixor/internal/mediaserver"
	"github.com/flixor/flixor/internal/models"
	"github.com/flixor/flixor/internal/store"
)

// Resolver fetches source descriptors and resume offsets. It holds no
// cache of its own; descriptors are fetched fresh for every attempt and
// the bypass flag is forwarded so retries get a new part key and token
// after a server-side rescan.
type Resolver struct {
	server mediaserver.Client
	local  *store.Store // optional
	logger hclog.Logger
}

// NewResolver creates a resolver. local may be nil when no play-state
// store is configured.
func NewResolver(server mediaserver.Client, local *store.Store, logger hclog.Logger) *Resolver {
	return &Resolver{server: server, local: local, logger: logger}
}

// Fetch returns a fresh source descriptor.
func (r *Resolver) Fetch(ctx context.Context, itemID string, bypassCache bool) (*models.SourceDescriptor, error) {
	desc, err := r.server.Metadata(ctx, itemID, bypassCache)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("source descriptor fetched",
		"item", itemID,
		"container", desc.Container,
		"video", desc.VideoCodec,
		"audio", desc.AudioCodec,
		"resolution", desc.Height,
		"bypass_cache", bypassCache)
	return desc, nil
}

// ResumeCandidate picks the offset playback should resume from: the local
// store first (it may hold a newer offset written during an offline
// session), then the server-side offset when it clears the minimum. The
// near-end policy is applied by the caller once duration is known.
func (r *Resolver) ResumeCandidate(item *models.PlayableItem, minimum time.Duration) (int64, bool) {
	minMs := minimum.Milliseconds()

	if r.local != nil {
		offset, ok, err := r.local.ResumeOffset(item.ID)
		if err != nil {
			r.logger.Warn("local resume lookup failed", "item", item.ID, "error", err)
		} else if ok && offset > minMs {
			r.logger.Debug("resuming from local offset", "item", item.ID, "offset_ms", offset)
			return offset, true
		}
	}

	if item.ResumeOffsetMs > minMs {
		r.logger.Debug("resuming from server offset", "item", item.ID, "offset_ms", item.ResumeOffsetMs)
		return item.ResumeOffsetMs, true
	}
	return 0, false
}
