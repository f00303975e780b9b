// Package playbackmodule implements the playback session core: delivery
// decision, backend normalization, failure recovery, progress reporting,
// scrobbling, skip markers and next-up.
package playbackmodule

import (
	"context"
	"strings"

	"github.com/flixor/flixor/internal/models"
)

// TrackKind selects which track family SelectTrack addresses.
type TrackKind string

const (
	TrackAudio    TrackKind = "audio"
	TrackSubtitle TrackKind = "subtitle"
)

// Track describes one selectable stream inside the loaded file.
type Track struct {
	Kind     TrackKind
	ID       int
	Language string
	Title    string
	Selected bool
}

// EventKind tags a normalized backend event.
type EventKind int

const (
	// EventPosition carries the playback clock in PositionMs.
	EventPosition EventKind = iota
	// EventDuration carries the total duration in DurationMs. Emitted
	// once the engine knows it, which for adaptive streams can lag load.
	EventDuration
	// EventStateChanged carries the new PlayState.
	EventStateChanged
	// EventTracksAvailable carries the track list.
	EventTracksAvailable
	// EventFileLoaded signals a successful load.
	EventFileLoaded
	// EventEnded signals engine-side termination. Whether it was a
	// natural end or a load failure is the session's call, based on how
	// soon after load it arrived.
	EventEnded
)

// Event is the normalized event model every backend emits. One consumer
// reads the stream; ordering is preserved as received from the engine.
type Event struct {
	Kind       EventKind
	PositionMs int64
	DurationMs int64
	State      models.PlayState
	Tracks     []Track
}

// BackendCapabilities is the capability matrix direct-play eligibility is
// evaluated against. All short-circuits the lists.
type BackendCapabilities struct {
	All         bool
	Containers  []string
	VideoCodecs []string
	AudioCodecs []string
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// SupportsContainer reports whether the backend plays the container.
func (c BackendCapabilities) SupportsContainer(container string) bool {
	return c.All || containsFold(c.Containers, container)
}

// SupportsVideoCodec reports whether the backend decodes the codec.
func (c BackendCapabilities) SupportsVideoCodec(codec string) bool {
	return c.All || containsFold(c.VideoCodecs, codec)
}

// SupportsAudioCodec reports whether the backend decodes the codec.
func (c BackendCapabilities) SupportsAudioCodec(codec string) bool {
	return c.All || containsFold(c.AudioCodecs, codec)
}

// Backend is the polymorphism boundary over playback engines. Any engine
// that can surface these primitives can be substituted; engine quirks stay
// behind the implementation.
type Backend interface {
	// Load starts playback of the URL. A previously loaded stream is
	// replaced.
	Load(ctx context.Context, url string) error

	Play() error
	Pause() error

	// Seek jumps to an absolute position.
	Seek(positionMs int64) error

	// SetVolume takes 0..1.
	SetVolume(v float64) error

	// SetSpeed takes a playback rate factor, 1.0 being realtime.
	SetSpeed(factor float64) error

	// SelectTrack switches the active audio or subtitle track.
	SelectTrack(kind TrackKind, id int) error

	// Events returns the single-consumer event stream. The channel is
	// closed when the engine goes away.
	Events() <-chan Event

	// Capabilities returns the engine's codec/container matrix.
	Capabilities() BackendCapabilities

	// Close shuts the engine down and closes the event stream.
	Close() error
}
