package playbackmodule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/flixor/flixor/internal/config"
	"github.com/flixor/flixor/internal/events"
	"github.com/flixor/flixor/internal/mediaserver"
	"github.com/flixor/flixor/internal/models"
	"github.com/flixor/flixor/internal/store"
)

// End reasons recorded in the session history.
const (
	EndReasonCompleted = "completed"
	EndReasonAdvanced  = "advanced"
	EndReasonStopped   = "stopped"
	EndReasonFailed    = "failed"
)

type commandKind int

const (
	cmdPlay commandKind = iota
	cmdPause
	cmdSeek
	cmdVolume
	cmdSpeed
	cmdTrack
	cmdSkip
	cmdQuality
	cmdCancelNextUp
	cmdStop
	cmdSeekRestore
)

type command struct {
	kind      commandKind
	ms        int64
	f         float64
	quality   models.QualityProfile
	trackKind TrackKind
	trackID   int
	reply     chan error
}

// Session runs playback of one item. All session-local state lives on the
// single event-loop goroutine; external commands are serialized onto it.
type Session struct {
	id   string
	item models.PlayableItem
	cfg  config.PlaybackConfig

	server   mediaserver.Client
	backend  Backend
	planner  *Planner
	resolver *Resolver
	reporter *ProgressReporter
	scrobble *ScrobbleSync
	markers  *MarkerEngine
	nextup   *NextUp
	local    *store.Store // optional
	bus      events.Bus   // optional

	recovery *Recovery
	logger   hclog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	commands chan command
	done     chan struct{}

	// Event-loop state. Only the run goroutine touches these.
	active          *models.StreamDescriptor
	quality         models.QualityProfile
	lastLoadAt      time.Time
	positionMs      int64
	durationMs      int64
	state           models.PlayState
	resumeApplied   bool
	reportOnNextPos bool
	inMarker        bool
	lastCountdown   int
	changeInFlight  bool
	changeResumeMs  int64
	closed          bool

	// Set before done closes.
	err      error
	nextItem *models.PlayableItem
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Done closes when the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the fatal error, if the session failed. Valid after Done.
func (s *Session) Err() error { return s.err }

// NextItem returns the item to auto-advance to, when the session ended by
// crossing the next-up countdown. Valid after Done.
func (s *Session) NextItem() *models.PlayableItem { return s.nextItem }

// Start issues the initial load and launches the event loop.
func (s *Session) Start(ctx context.Context) error {
	if _, err := s.nextup.ResolveNext(ctx); err != nil {
		s.logger.Warn("next-up resolution failed", "error", err)
	}

	if err := s.load(ctx, s.quality, false); err != nil {
		return err
	}

	if s.local != nil {
		if err := s.local.RecordSessionStart(s.id, s.item.ID, string(s.active.Mode)); err != nil {
			s.logger.Warn("session record failed", "error", err)
		}
	}

	go s.run()
	return nil
}

// load fetches a fresh descriptor and hands the stream to the backend.
// The old descriptor, if any, is superseded atomically and its transcode
// session torn down exactly once.
func (s *Session) load(ctx context.Context, quality models.QualityProfile, bypassCache bool) error {
	src, err := s.resolver.Fetch(ctx, s.item.ID, bypassCache)
	if err != nil {
		return err
	}

	desc, err := s.planner.Select(s.item.ID, src, quality, s.backend.Capabilities())
	if err != nil {
		return err
	}

	s.swapDescriptor(desc)
	s.recovery.NoteLoading()
	s.lastLoadAt = time.Now()

	if err := s.backend.Load(ctx, desc.URL); err != nil {
		return fmt.Errorf("%w: %v", ErrStreamLoadFailed, err)
	}

	s.logger.Info("stream loading",
		"mode", desc.Mode, "quality", quality.ID, "adaptive", desc.Adaptive)
	return nil
}

func (s *Session) swapDescriptor(desc *models.StreamDescriptor) {
	old := s.active
	s.active = desc
	if old != nil && old.Mode == models.StreamModeTranscode {
		sessionID := old.SessionID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.server.StopTranscode(ctx, sessionID); err != nil {
				s.logger.Warn("transcode cleanup failed", "session", sessionID, "error", err)
			}
		}()
	}
}

func (s *Session) run() {
	ticker := time.NewTicker(s.cfg.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.teardown(EndReasonStopped)
			return

		case ev, ok := <-s.backend.Events():
			if !ok {
				if !s.closed {
					s.logger.Warn("backend event stream closed")
					s.fail(&FatalError{Err: ErrStreamLoadFailed})
				}
				return
			}
			if s.handleEvent(ev) {
				return
			}

		case <-ticker.C:
			if s.state == models.PlayStatePlaying {
				s.reporter.Maybe(s.ctx, s.snapshot(s.state))
			}

		case cmd := <-s.commands:
			if s.handleCommand(cmd) {
				return
			}
		}
	}
}

// handleEvent processes one backend event. Returns true when the session
// is over and the loop should exit.
func (s *Session) handleEvent(ev Event) bool {
	switch ev.Kind {
	case EventPosition:
		s.positionMs = ev.PositionMs
		if s.reportOnNextPos {
			s.reportOnNextPos = false
			s.reporter.Maybe(s.ctx, s.snapshot(s.state))
		}
		s.checkMarkers()
		return s.checkNextUp()

	case EventDuration:
		s.durationMs = ev.DurationMs
		s.applyResumeOnce()
		s.armNextUp()

	case EventStateChanged:
		s.handleStateChange(ev.State)

	case EventTracksAvailable:
		s.logger.Debug("tracks available", "count", len(ev.Tracks))

	case EventFileLoaded:
		s.handleFileLoaded()

	case EventEnded:
		return s.handleEnded()
	}
	return false
}

func (s *Session) handleFileLoaded() {
	recovered := s.recovery.Attempts() > 0
	s.recovery.NoteLoaded()
	s.state = models.PlayStatePlaying

	snap := s.snapshot(s.state)
	s.scrobble.Start(s.ctx, snap.Percent())

	if recovered {
		s.publish(events.EventPlaybackRecovered, nil)
	} else {
		s.publish(events.EventPlaybackStarted, map[string]any{
			"mode":    string(s.active.Mode),
			"quality": s.active.Quality.ID,
		})
	}

	if s.changeInFlight {
		resumeMs := s.changeResumeMs
		if resumeMs > s.cfg.SeekBackThreshold.Milliseconds() {
			// Transcode output needs extra settle time before it
			// accepts a seek near the old position. The change stays
			// in flight until the restore seek lands so a competing
			// change cannot interleave with it.
			settle := s.cfg.DirectSettle
			if s.active.Mode == models.StreamModeTranscode {
				settle = s.cfg.TranscodeSettle
			}
			time.AfterFunc(settle, func() {
				s.enqueue(command{kind: cmdSeekRestore, ms: resumeMs})
			})
		} else {
			s.changeInFlight = false
		}
	}
}

func (s *Session) handleStateChange(state models.PlayState) {
	if state == s.state || state == "" {
		return
	}
	prev := s.state
	s.state = state
	snap := s.snapshot(state)

	switch state {
	case models.PlayStatePaused:
		s.scrobble.Pause(s.ctx, snap.Percent())
		s.publish(events.EventPlaybackPaused, nil)
	case models.PlayStatePlaying:
		if prev == models.PlayStatePaused {
			s.scrobble.Resume(s.ctx, snap.Percent())
			s.publish(events.EventPlaybackResumed, nil)
		}
	}
	s.reporter.Maybe(s.ctx, snap)
}

// handleEnded decides between a natural end and a load failure. Returns
// true when the session is over.
func (s *Session) handleEnded() bool {
	if time.Since(s.lastLoadAt) > s.cfg.PrematureEndWindow {
		// Natural end of playback.
		s.positionMs = s.durationMs
		s.teardown(EndReasonCompleted)
		return true
	}

	switch s.recovery.OnPrematureEnd(s.active) {
	case ActionRetryDirect:
		if err := s.load(s.ctx, s.quality, true); err != nil {
			s.logger.Warn("direct play retry failed", "error", err)
			s.fail(&FatalError{Err: err})
			return true
		}
		return false

	case ActionFallbackTranscode:
		fallback := s.quality
		if !fallback.RequiresTranscode {
			fallback = TopRung(nil)
			if src, err := s.resolver.Fetch(s.ctx, s.item.ID, true); err == nil {
				fallback = TopRung(src)
			}
		}
		s.publish(events.EventPlaybackFallback, map[string]any{"quality": fallback.ID})
		// Force transcode regardless of eligibility by requesting a
		// transcoding rung.
		if err := s.load(s.ctx, fallback, true); err != nil {
			s.logger.Warn("transcode fallback failed", "error", err)
			s.fail(&FatalError{Err: err})
			return true
		}
		s.quality = fallback
		return false

	default:
		s.fail(&FatalError{Unsupported: true, Err: ErrStreamLoadFailed})
		return true
	}
}

// applyResumeOnce seeks to the resume offset the first time duration is
// known. Near-end candidates restart from zero.
func (s *Session) applyResumeOnce() {
	if s.resumeApplied || s.durationMs <= 0 {
		return
	}
	s.resumeApplied = true

	candidate, ok := s.resolver.ResumeCandidate(&s.item, s.cfg.ResumeMinimum)
	if !ok {
		return
	}
	target := ResumeTarget(candidate, s.durationMs,
		s.cfg.NearEndWindow.Milliseconds(), s.cfg.NearEndFraction)
	if target <= 0 {
		s.logger.Info("resume offset near end, restarting from zero",
			"candidate_ms", candidate, "duration_ms", s.durationMs)
		return
	}
	if err := s.backend.Seek(target); err != nil {
		s.logger.Warn("resume seek failed", "error", err)
		return
	}
	s.positionMs = target
	s.reportOnNextPos = true
	s.logger.Info("resumed", "position_ms", target)
}

func (s *Session) armNextUp() {
	creditsStart, hasCredits := s.markers.CreditsStart()
	s.nextup.SetTrigger(creditsStart, hasCredits, s.durationMs, s.cfg.CountdownLead.Milliseconds())
}

func (s *Session) checkMarkers() {
	marker, active := s.markers.Active(s.positionMs)
	if active && !s.inMarker {
		s.publish(events.EventMarkerEntered, map[string]any{
			"type":     string(marker.Type),
			"start_ms": marker.StartMs,
			"end_ms":   marker.EndMs,
		})
	}
	s.inMarker = active
}

// checkNextUp drives the countdown from the clock. Returns true when the
// session ended by auto-advance.
func (s *Session) checkNextUp() bool {
	secs, active := s.nextup.Countdown(s.positionMs, s.durationMs)
	if !active {
		return false
	}
	if secs != s.lastCountdown {
		s.lastCountdown = secs
		data := map[string]any{"seconds": secs}
		if next := s.nextup.Next(); next != nil {
			data["next_id"] = next.ID
			data["next_title"] = next.Title
		}
		s.publish(events.EventNextUpTick, data)
	}
	if secs == 0 {
		s.nextItem = s.nextup.Next()
		s.teardown(EndReasonAdvanced)
		return true
	}
	return false
}

// handleCommand executes one external command. Returns true when the loop
// should exit.
func (s *Session) handleCommand(cmd command) bool {
	var err error
	over := false

	switch cmd.kind {
	case cmdPlay:
		err = s.backend.Play()
	case cmdPause:
		err = s.backend.Pause()
	case cmdSeek:
		if err = s.backend.Seek(cmd.ms); err == nil {
			s.positionMs = cmd.ms
			s.reportOnNextPos = true
		}
	case cmdSeekRestore:
		s.changeInFlight = false
		if err = s.backend.Seek(cmd.ms); err == nil {
			s.positionMs = cmd.ms
			s.reportOnNextPos = true
		}
	case cmdVolume:
		err = s.backend.SetVolume(cmd.f)
	case cmdSpeed:
		err = s.backend.SetSpeed(cmd.f)
	case cmdTrack:
		err = s.backend.SelectTrack(cmd.trackKind, cmd.trackID)
	case cmdSkip:
		if marker, ok := s.markers.Active(s.positionMs); ok {
			target := s.markers.SkipTarget(marker)
			if err = s.backend.Seek(target); err == nil {
				s.positionMs = target
				s.reportOnNextPos = true
			}
		}
	case cmdQuality:
		err = s.changeQuality(cmd.quality)
	case cmdCancelNextUp:
		s.nextup.Cancel()
	case cmdStop:
		s.teardown(EndReasonStopped)
		over = true
	}

	if cmd.reply != nil {
		cmd.reply <- err
	}
	return over
}

// changeQuality restarts delivery at a new quality, capturing the current
// position for restore. Changes are serialized: a second request before
// the previous change's restore seek has landed is rejected.
func (s *Session) changeQuality(q models.QualityProfile) error {
	if s.changeInFlight {
		return ErrQualityChangeInFlight
	}
	if s.recovery.State() != StatePlaying {
		return fmt.Errorf("cannot change quality in state %s", s.recovery.State())
	}
	if q.ID == s.quality.ID {
		return nil
	}

	s.changeInFlight = true
	s.changeResumeMs = s.positionMs
	s.quality = q

	if err := s.load(s.ctx, q, false); err != nil {
		s.changeInFlight = false
		return err
	}
	return nil
}

func (s *Session) fail(err error) {
	s.err = err
	s.logger.Error("playback failed", "error", err)
	s.publish(events.EventPlaybackError, map[string]any{"error": err.Error()})
	s.teardown(EndReasonFailed)
}

// teardown flushes the final report, closes the scrobble, stops the
// server-side transcode and releases the backend, in that order. Every
// step is attempted even if an earlier one fails.
func (s *Session) teardown(reason string) {
	if s.closed {
		return
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap := s.snapshot(models.PlayStateStopped)
	s.reporter.Final(ctx, snap)
	s.scrobble.Stop(ctx, snap.Percent())

	if s.active != nil && s.active.Mode == models.StreamModeTranscode {
		if err := s.server.StopTranscode(ctx, s.active.SessionID); err != nil {
			s.logger.Warn("transcode cleanup failed", "session", s.active.SessionID, "error", err)
		}
	}
	s.active = nil

	if s.local != nil {
		if err := s.local.RecordSessionEnd(s.id, reason, snap.PositionMs); err != nil {
			s.logger.Warn("session record close failed", "error", err)
		}
	}

	if err := s.backend.Close(); err != nil {
		s.logger.Debug("backend close", "error", err)
	}

	s.publish(events.EventPlaybackFinished, map[string]any{"reason": reason})
	s.logger.Info("session ended", "reason", reason, "position_ms", snap.PositionMs)

	s.cancel()
	close(s.done)
}

func (s *Session) snapshot(state models.PlayState) models.ProgressSnapshot {
	return models.ProgressSnapshot{
		PositionMs: s.positionMs,
		DurationMs: s.durationMs,
		State:      state,
	}
}

func (s *Session) publish(t events.EventType, data map[string]any) {
	if s.bus == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["session_id"] = s.id
	data["item_id"] = s.item.ID
	s.bus.Publish(events.New(t, "playback", data))
}

// enqueue pushes a command without blocking the caller.
func (s *Session) enqueue(cmd command) {
	select {
	case s.commands <- cmd:
	case <-s.done:
	}
}

func (s *Session) exec(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case s.commands <- cmd:
	case <-s.done:
		return ErrSessionClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

// Play resumes a paused stream.
func (s *Session) Play() error { return s.exec(command{kind: cmdPlay}) }

// Pause pauses playback.
func (s *Session) Pause() error { return s.exec(command{kind: cmdPause}) }

// Seek jumps to an absolute position.
func (s *Session) Seek(positionMs int64) error {
	return s.exec(command{kind: cmdSeek, ms: positionMs})
}

// SetVolume takes 0..1.
func (s *Session) SetVolume(v float64) error { return s.exec(command{kind: cmdVolume, f: v}) }

// SetSpeed sets the playback rate factor.
func (s *Session) SetSpeed(f float64) error { return s.exec(command{kind: cmdSpeed, f: f}) }

// SelectTrack switches the active audio or subtitle track.
func (s *Session) SelectTrack(kind TrackKind, id int) error {
	return s.exec(command{kind: cmdTrack, trackKind: kind, trackID: id})
}

// Skip seeks past the currently active marker, if any.
func (s *Session) Skip() error { return s.exec(command{kind: cmdSkip}) }

// SetQuality switches to the ladder profile with the given id.
func (s *Session) SetQuality(id string) error {
	q, ok := ProfileByID(id)
	if !ok {
		return fmt.Errorf("unknown quality profile %q", id)
	}
	return s.exec(command{kind: cmdQuality, quality: q})
}

// CancelNextUp stops the auto-advance countdown.
func (s *Session) CancelNextUp() error { return s.exec(command{kind: cmdCancelNextUp}) }

// Stop tears the session down.
func (s *Session) Stop() error {
	err := s.exec(command{kind: cmdStop})
	if err == ErrSessionClosed {
		return nil
	}
	return err
}

func newSessionID() string { return uuid.NewString() }
