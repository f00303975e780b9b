// Package scrobbler talks to the third-party watch-history service. All
// calls are best-effort from the caller's point of view: the playback core
// logs failures and keeps playing.
package scrobbler

import (
	"context"

	"github.com/flixor/flixor/internal/models"
)

// IDs identifies the item being scrobbled to the external service.
type IDs struct {
	Kind     models.MediaKind
	External models.ExternalIDs
	Title    string
	Season   int
	Number   int
}

// Service is the watch-history interface. Implementations must be safe
// for concurrent use.
type Service interface {
	// Start marks the item as being watched.
	Start(ctx context.Context, ids IDs, progressPct float64) error

	// Pause records a pause at the given progress.
	Pause(ctx context.Context, ids IDs, progressPct float64) error

	// Resume records that watching continued. Services without a native
	// resume call map this to Start.
	Resume(ctx context.Context, ids IDs, progressPct float64) error

	// Stop finalizes the watch. The service decides whether the progress
	// counts as completed.
	Stop(ctx context.Context, ids IDs, progressPct float64) error
}

// Nop is a Service that does nothing, used when scrobbling is disabled.
type Nop struct{}

func (Nop) Start(context.Context, IDs, float64) error  { return nil }
func (Nop) Pause(context.Context, IDs, float64) error  { return nil }
func (Nop) Resume(context.Context, IDs, float64) error { return nil }
func (Nop) Stop(context.Context, IDs, float64) error   { return nil }
