// Package cast drives a living-room renderer through its HTTP control
// endpoint. Renderers of this class decode a narrow set of containers and
// codecs, so the capability matrix is constrained and most sources end up
// transcoded.
package cast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/flixor/flixor/internal/models"
	playback "github.com/flixor/flixor/internal/modules/playbackmodule"
)

const defaultPollInterval = time.Second

// Backend is the renderer implementation of the playback backend. The
// renderer has no push channel, so a poll loop synthesizes the normalized
// event stream.
type Backend struct {
	base   string
	http   *http.Client
	logger hclog.Logger

	pollInterval time.Duration

	events    chan playback.Event
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	polling   bool
	loaded    bool
	lastState models.PlayState
	lastDurMs int64
}

// New creates a renderer backend against the control URL.
func New(controlURL string, logger hclog.Logger) *Backend {
	return &Backend{
		base:         strings.TrimRight(controlURL, "/"),
		http:         &http.Client{Timeout: 5 * time.Second},
		logger:       logger,
		pollInterval: defaultPollInterval,
		events:       make(chan playback.Event, 128),
		done:         make(chan struct{}),
	}
}

func (b *Backend) post(path string, body any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	resp, err := b.http.Post(b.base+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("renderer %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("renderer %s: status %d", path, resp.StatusCode)
	}
	return nil
}

type rendererStatus struct {
	State      string `json:"state"`
	PositionMs int64  `json:"position_ms"`
	DurationMs int64  `json:"duration_ms"`
}

func (b *Backend) status() (*rendererStatus, error) {
	resp, err := b.http.Get(b.base + "/api/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("renderer status: %d", resp.StatusCode)
	}
	var st rendererStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Load implements playback.Backend.
func (b *Backend) Load(ctx context.Context, url string) error {
	if err := b.post("/api/load", map[string]string{"url": url}); err != nil {
		return err
	}

	b.mu.Lock()
	b.loaded = false
	b.lastState = ""
	if !b.polling {
		b.polling = true
		go b.pollLoop()
	}
	b.mu.Unlock()
	return nil
}

func (b *Backend) pollLoop() {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			close(b.events)
			return
		case <-ticker.C:
			b.pollOnce()
		}
	}
}

func (b *Backend) pollOnce() {
	st, err := b.status()
	if err != nil {
		b.logger.Debug("renderer poll failed", "error", err)
		return
	}

	b.mu.Lock()
	firstStatus := !b.loaded
	if firstStatus && st.State != "stopped" {
		b.loaded = true
	}
	durationChanged := st.DurationMs > 0 && st.DurationMs != b.lastDurMs
	if durationChanged {
		b.lastDurMs = st.DurationMs
	}
	state := mapState(st.State)
	stateChanged := state != b.lastState
	if stateChanged {
		b.lastState = state
	}
	loaded := b.loaded
	b.mu.Unlock()

	if firstStatus && loaded {
		b.emit(playback.Event{Kind: playback.EventFileLoaded})
	}
	if durationChanged {
		b.emit(playback.Event{Kind: playback.EventDuration, DurationMs: st.DurationMs})
	}
	if loaded && st.State != "stopped" {
		b.emit(playback.Event{Kind: playback.EventPosition, PositionMs: st.PositionMs})
	}
	if stateChanged && state != models.PlayStateStopped {
		b.emit(playback.Event{Kind: playback.EventStateChanged, State: state})
	}
	if loaded && st.State == "stopped" {
		b.mu.Lock()
		b.loaded = false
		b.mu.Unlock()
		b.emit(playback.Event{Kind: playback.EventEnded})
	}
}

func mapState(s string) models.PlayState {
	switch s {
	case "playing":
		return models.PlayStatePlaying
	case "paused":
		return models.PlayStatePaused
	default:
		return models.PlayStateStopped
	}
}

func (b *Backend) emit(ev playback.Event) {
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

// Play implements playback.Backend.
func (b *Backend) Play() error { return b.post("/api/play", nil) }

// Pause implements playback.Backend.
func (b *Backend) Pause() error { return b.post("/api/pause", nil) }

// Seek implements playback.Backend.
func (b *Backend) Seek(positionMs int64) error {
	return b.post("/api/seek", map[string]int64{"position_ms": positionMs})
}

// SetVolume implements playback.Backend.
func (b *Backend) SetVolume(v float64) error {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return b.post("/api/volume", map[string]float64{"level": v})
}

// SetSpeed implements playback.Backend. Renderers play realtime only.
func (b *Backend) SetSpeed(factor float64) error {
	if factor == 1.0 {
		return nil
	}
	return fmt.Errorf("renderer does not support rate %0.2f", factor)
}

// SelectTrack implements playback.Backend.
func (b *Backend) SelectTrack(kind playback.TrackKind, id int) error {
	return b.post("/api/track", map[string]any{"kind": string(kind), "id": id})
}

// Events implements playback.Backend.
func (b *Backend) Events() <-chan playback.Event { return b.events }

// Capabilities implements playback.Backend. The matrix mirrors what these
// devices decode natively; anything else must transcode.
func (b *Backend) Capabilities() playback.BackendCapabilities {
	return playback.BackendCapabilities{
		Containers:  []string{"mp4", "webm"},
		VideoCodecs: []string{"h264", "vp8", "vp9"},
		AudioCodecs: []string{"aac", "mp3", "opus", "vorbis"},
	}
}

// Close implements playback.Backend.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		b.mu.Lock()
		polling := b.polling
		b.mu.Unlock()
		if !polling {
			close(b.events)
		}
		// Best effort: leave the renderer idle.
		_ = b.post("/api/stop", nil)
	})
	return nil
}
