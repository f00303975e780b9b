package playbackmodule

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/flixor/flixor/internal/config"
	"github.com/flixor/flixor/internal/mediaserver"
	"github.com/flixor/flixor/internal/models"
	"github.com/flixor/flixor/internal/store"
)

// ResumeTarget applies the resume policy: a candidate at or past the
// duration, within the near-end window of it, or past the near-end
// fraction counts as fully watched and restarts from zero.
func ResumeTarget(candidateMs, durationMs, nearEndWindowMs int64, nearEndFraction float64) int64 {
	if durationMs <= 0 || candidateMs <= 0 {
		return 0
	}
	if candidateMs >= durationMs {
		return 0
	}
	if durationMs-candidateMs < nearEndWindowMs {
		return 0
	}
	if float64(candidateMs)/float64(durationMs) > nearEndFraction {
		return 0
	}
	return candidateMs
}

// ProgressReporter sends threshold-gated position snapshots to the media
// server and writes them through to the local play-state store. Sends are
// asynchronous; failures are logged and never interrupt playback.
type ProgressReporter struct {
	server mediaserver.Client
	local  *store.Store // optional
	itemID string

	thresholdMs     int64
	nearEndWindowMs int64
	nearEndFraction float64

	hasReported    bool
	lastReportedMs int64

	logger hclog.Logger
}

// NewProgressReporter creates a reporter for one item.
func NewProgressReporter(server mediaserver.Client, local *store.Store, itemID string, cfg config.PlaybackConfig, logger hclog.Logger) *ProgressReporter {
	return &ProgressReporter{
		server:          server,
		local:           local,
		itemID:          itemID,
		thresholdMs:     cfg.ProgressDeltaThreshold.Milliseconds(),
		nearEndWindowMs: cfg.NearEndWindow.Milliseconds(),
		nearEndFraction: cfg.NearEndFraction,
		logger:          logger,
	}
}

// Maybe reports the snapshot if it moved far enough from the last report.
// Returns whether a report was sent.
func (p *ProgressReporter) Maybe(ctx context.Context, snap models.ProgressSnapshot) bool {
	if p.hasReported {
		delta := snap.PositionMs - p.lastReportedMs
		if delta < 0 {
			delta = -delta
		}
		if delta <= p.thresholdMs {
			return false
		}
	}
	p.hasReported = true
	p.lastReportedMs = snap.PositionMs
	p.send(ctx, snap)
	return true
}

// Final reports unconditionally with state stopped. Called once at
// teardown, synchronously, on a context independent of the session's.
func (p *ProgressReporter) Final(ctx context.Context, snap models.ProgressSnapshot) {
	snap.State = models.PlayStateStopped
	p.persist(snap)
	if err := p.server.ReportTimeline(ctx, p.itemID, snap); err != nil {
		p.logger.Warn("final progress report failed", "error", err)
	}
}

func (p *ProgressReporter) send(ctx context.Context, snap models.ProgressSnapshot) {
	p.persist(snap)
	go func() {
		if err := p.server.ReportTimeline(ctx, p.itemID, snap); err != nil {
			p.logger.Warn("progress report failed", "position_ms", snap.PositionMs, "error", err)
		}
	}()
}

// persist mirrors the snapshot into the local store so resume works even
// when the server is unreachable.
func (p *ProgressReporter) persist(snap models.ProgressSnapshot) {
	if p.local == nil {
		return
	}
	watched := snap.DurationMs > 0 &&
		(snap.DurationMs-snap.PositionMs < p.nearEndWindowMs ||
			float64(snap.PositionMs)/float64(snap.DurationMs) > p.nearEndFraction)
	if err := p.local.SaveProgress(p.itemID, snap.PositionMs, watched); err != nil {
		p.logger.Warn("local progress write failed", "error", err)
	}
}
