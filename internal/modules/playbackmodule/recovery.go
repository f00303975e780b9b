package playbackmodule

import (
	"github.com/hashicorp/go-hclog"

	"github.com/flixor/flixor/internal/models"
)

// RecoveryState is the session delivery state.
type RecoveryState int

const (
	StateIdle RecoveryState = iota
	StateLoading
	StatePlaying
	StateFailed
)

func (s RecoveryState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RecoveryAction is what the session should do about a premature end.
type RecoveryAction int

const (
	// ActionRetryDirect: refetch metadata past the cache, rebuild a
	// fresh direct-play descriptor and reload.
	ActionRetryDirect RecoveryAction = iota
	// ActionFallbackTranscode: escalate to a transcode at the last
	// requested quality. Happens at most once.
	ActionFallbackTranscode
	// ActionFail: surface a fatal, user-visible error.
	ActionFail
)

// Recovery is the bounded retry/fallback state machine. It only decides;
// the session executes. Not safe for concurrent use: it belongs to the
// session event loop.
type Recovery struct {
	maxDirectRetries int
	attempts         int
	state            RecoveryState
	logger           hclog.Logger
}

// NewRecovery creates the state machine.
func NewRecovery(maxDirectRetries int, logger hclog.Logger) *Recovery {
	return &Recovery{
		maxDirectRetries: maxDirectRetries,
		state:            StateIdle,
		logger:           logger,
	}
}

// State returns the current state.
func (r *Recovery) State() RecoveryState { return r.state }

// Attempts returns the direct-retry counter. It never exceeds the
// configured maximum.
func (r *Recovery) Attempts() int { return r.attempts }

// NoteLoading records that a load was issued.
func (r *Recovery) NoteLoading() {
	r.state = StateLoading
}

// NoteLoaded records a successful load: the retry counter resets and the
// session is playing.
func (r *Recovery) NoteLoaded() {
	if r.attempts > 0 {
		r.logger.Info("stream recovered", "after_attempts", r.attempts)
	}
	r.attempts = 0
	r.state = StatePlaying
}

// OnPrematureEnd decides the next move after a load failure on the active
// descriptor.
func (r *Recovery) OnPrematureEnd(active *models.StreamDescriptor) RecoveryAction {
	if active == nil || active.Mode == models.StreamModeTranscode {
		// Already transcoding; there is nothing left to escalate to.
		r.state = StateFailed
		return ActionFail
	}

	if r.attempts < r.maxDirectRetries {
		r.attempts++
		r.state = StateLoading
		r.logger.Warn("direct play ended prematurely, retrying",
			"attempt", r.attempts, "max", r.maxDirectRetries)
		return ActionRetryDirect
	}

	// Retry budget exhausted: one escalation to transcode, counter
	// reset so the new delivery mode starts clean.
	r.attempts = 0
	r.state = StateLoading
	r.logger.Warn("direct play retries exhausted, falling back to transcode")
	return ActionFallbackTranscode
}
