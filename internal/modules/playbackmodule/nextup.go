package playbackmodule

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/flixor/flixor/internal/models"
)

// SequenceProvider is the slice of the media server client next-up needs.
type SequenceProvider interface {
	Siblings(ctx context.Context, parentID string) ([]models.PlayableItem, error)
}

// NextUp resolves the following item in a sequence and derives a countdown
// from the playback clock near the end of the current one. The countdown
// is driven by position updates, not its own timer.
type NextUp struct {
	provider SequenceProvider
	item     models.PlayableItem

	next      *models.PlayableItem
	triggerMs int64
	canceled  bool
	logger    hclog.Logger
}

// NewNextUp creates the controller for the item being played.
func NewNextUp(provider SequenceProvider, item models.PlayableItem, logger hclog.Logger) *NextUp {
	return &NextUp{
		provider:  provider,
		item:      item,
		triggerMs: -1,
		logger:    logger,
	}
}

// ResolveNext looks up the item following this one in its parent
// sequence. Movies and clips have no sequence and resolve to nothing.
func (n *NextUp) ResolveNext(ctx context.Context) (*models.PlayableItem, error) {
	if n.item.Kind != models.MediaKindEpisode || n.item.ParentID == "" {
		return nil, nil
	}
	siblings, err := n.provider.Siblings(ctx, n.item.ParentID)
	if err != nil {
		return nil, err
	}
	for i := range siblings {
		if siblings[i].ID == n.item.ID && i+1 < len(siblings) {
			n.next = &siblings[i+1]
			n.logger.Debug("next item resolved", "next", n.next.ID, "title", n.next.Title)
			return n.next, nil
		}
	}
	return nil, nil
}

// Next returns the resolved following item, if any.
func (n *NextUp) Next() *models.PlayableItem { return n.next }

// SetTrigger fixes the countdown trigger point: the start of the credits
// marker when one exists, else leadMs before the end.
func (n *NextUp) SetTrigger(creditsStartMs int64, hasCredits bool, durationMs, leadMs int64) {
	if durationMs <= 0 {
		return
	}
	if hasCredits {
		n.triggerMs = creditsStartMs
		return
	}
	n.triggerMs = durationMs - leadMs
	if n.triggerMs < 0 {
		n.triggerMs = 0
	}
}

// Countdown returns the remaining whole seconds once the position has
// crossed the trigger point. Zero means the caller should advance.
func (n *NextUp) Countdown(positionMs, durationMs int64) (int, bool) {
	if n.canceled || n.next == nil || n.triggerMs < 0 || durationMs <= 0 {
		return 0, false
	}
	if positionMs < n.triggerMs {
		return 0, false
	}
	remainMs := durationMs - positionMs
	if remainMs < 0 {
		remainMs = 0
	}
	// Ceiling in whole seconds.
	secs := int((remainMs + 999) / 1000)
	return secs, true
}

// Cancel stops the countdown for the rest of the session.
func (n *NextUp) Cancel() {
	n.canceled = true
}
