package playbackmodule

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/flixor/flixor/internal/scrobbler"
)

// ScrobbleSync maps local playback state onto the watch-history service.
// One instance lives per session. Start is idempotent: repeated
// playback-started signals (quality changes, recovery reloads) never
// double-start a scrobble. All calls are best-effort.
type ScrobbleSync struct {
	svc     scrobbler.Service
	ids     scrobbler.IDs
	started bool
	lastPct float64
	logger  hclog.Logger
}

// NewScrobbleSync creates the per-session sync.
func NewScrobbleSync(svc scrobbler.Service, ids scrobbler.IDs, logger hclog.Logger) *ScrobbleSync {
	return &ScrobbleSync{svc: svc, ids: ids, logger: logger}
}

// Started reports whether a scrobble is open.
func (s *ScrobbleSync) Started() bool { return s.started }

// Start opens the scrobble. A second call without an intervening Stop is
// a no-op.
func (s *ScrobbleSync) Start(ctx context.Context, progressPct float64) {
	if s.started {
		return
	}
	s.started = true
	s.lastPct = progressPct
	if err := s.svc.Start(ctx, s.ids, progressPct); err != nil {
		s.logger.Warn("scrobble start failed", "error", err)
	}
}

// Pause records a pause.
func (s *ScrobbleSync) Pause(ctx context.Context, progressPct float64) {
	if !s.started {
		return
	}
	s.lastPct = progressPct
	if err := s.svc.Pause(ctx, s.ids, progressPct); err != nil {
		s.logger.Warn("scrobble pause failed", "error", err)
	}
}

// Resume records that watching continued.
func (s *ScrobbleSync) Resume(ctx context.Context, progressPct float64) {
	if !s.started {
		return
	}
	s.lastPct = progressPct
	if err := s.svc.Resume(ctx, s.ids, progressPct); err != nil {
		s.logger.Warn("scrobble resume failed", "error", err)
	}
}

// Stop closes the scrobble. Always attempted at teardown so the external
// history is not left paused indefinitely; a session that never started
// one is a no-op.
func (s *ScrobbleSync) Stop(ctx context.Context, progressPct float64) {
	if !s.started {
		return
	}
	s.started = false
	if progressPct == 0 {
		progressPct = s.lastPct
	}
	if err := s.svc.Stop(ctx, s.ids, progressPct); err != nil {
		s.logger.Warn("scrobble stop failed", "error", err)
	}
}
