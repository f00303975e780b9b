// Package mpv drives a local mpv instance over its JSON IPC socket. mpv
// decodes effectively everything, so this backend reports the
// maximally-capable matrix and direct play is always eligible.
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/flixor/flixor/internal/models"
	playback "github.com/flixor/flixor/internal/modules/playbackmodule"
)

const (
	dialRetryInterval = 200 * time.Millisecond
	dialTimeout       = 10 * time.Second
)

// Property observation ids, echoed back in property-change events.
const (
	obsTimePos = iota + 1
	obsDuration
	obsPause
	obsTrackList
)

// Backend is the mpv implementation of the playback backend.
type Backend struct {
	conn   net.Conn
	logger hclog.Logger

	writeMu sync.Mutex
	reqID   int

	events    chan playback.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Connect dials the mpv IPC socket, retrying while mpv starts up, and
// begins observing playback properties.
func Connect(ctx context.Context, socketPath string, logger hclog.Logger) (*Backend, error) {
	deadline := time.Now().Add(dialTimeout)
	var conn net.Conn
	var err error
	for {
		conn, err = net.Dial("unix", socketPath)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("dial mpv socket %s: %w", socketPath, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialRetryInterval):
		}
	}

	b := &Backend{
		conn:   conn,
		logger: logger,
		events: make(chan playback.Event, 128),
		done:   make(chan struct{}),
	}
	go b.readLoop()

	observations := []struct {
		id   int
		name string
	}{
		{obsTimePos, "time-pos"},
		{obsDuration, "duration"},
		{obsPause, "pause"},
		{obsTrackList, "track-list"},
	}
	for _, obs := range observations {
		if err := b.command("observe_property", obs.id, obs.name); err != nil {
			b.Close()
			return nil, fmt.Errorf("observe %s: %w", obs.name, err)
		}
	}
	return b, nil
}

func (b *Backend) command(args ...any) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.reqID++
	payload, err := json.Marshal(map[string]any{
		"command":    args,
		"request_id": b.reqID,
	})
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if _, err := b.conn.Write(payload); err != nil {
		return fmt.Errorf("mpv command write: %w", err)
	}
	return nil
}

type ipcMessage struct {
	Event  string          `json:"event"`
	ID     int             `json:"id"`
	Name   string          `json:"name"`
	Reason string          `json:"reason"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

func (b *Backend) readLoop() {
	defer close(b.events)

	scanner := bufio.NewScanner(b.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var msg ipcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			b.logger.Debug("unparseable ipc line", "error", err)
			continue
		}
		if msg.Event == "" {
			if msg.Error != "" && msg.Error != "success" {
				b.logger.Warn("mpv command rejected", "error", msg.Error)
			}
			continue
		}
		if ev, ok := b.translate(msg); ok {
			b.emit(ev)
		}
	}
	if err := scanner.Err(); err != nil {
		b.logger.Debug("ipc read ended", "error", err)
	}
}

func (b *Backend) translate(msg ipcMessage) (playback.Event, bool) {
	switch msg.Event {
	case "property-change":
		return b.translateProperty(msg)
	case "file-loaded":
		return playback.Event{Kind: playback.EventFileLoaded}, true
	case "end-file":
		// loadfile with the replace flag ends the previous file with
		// reason "stop" or "redirect". Those are churn from our own
		// reload, not a termination of playback.
		switch msg.Reason {
		case "stop", "redirect":
			return playback.Event{}, false
		}
		return playback.Event{Kind: playback.EventEnded}, true
	}
	return playback.Event{}, false
}

func (b *Backend) translateProperty(msg ipcMessage) (playback.Event, bool) {
	switch msg.Name {
	case "time-pos":
		var secs float64
		if json.Unmarshal(msg.Data, &secs) != nil {
			return playback.Event{}, false
		}
		return playback.Event{Kind: playback.EventPosition, PositionMs: int64(secs * 1000)}, true

	case "duration":
		var secs float64
		if json.Unmarshal(msg.Data, &secs) != nil || secs <= 0 {
			return playback.Event{}, false
		}
		return playback.Event{Kind: playback.EventDuration, DurationMs: int64(secs * 1000)}, true

	case "pause":
		var paused bool
		if json.Unmarshal(msg.Data, &paused) != nil {
			return playback.Event{}, false
		}
		state := models.PlayStatePlaying
		if paused {
			state = models.PlayStatePaused
		}
		return playback.Event{Kind: playback.EventStateChanged, State: state}, true

	case "track-list":
		var wire []struct {
			ID       int    `json:"id"`
			Type     string `json:"type"`
			Lang     string `json:"lang"`
			Title    string `json:"title"`
			Selected bool   `json:"selected"`
		}
		if json.Unmarshal(msg.Data, &wire) != nil {
			return playback.Event{}, false
		}
		tracks := make([]playback.Track, 0, len(wire))
		for _, t := range wire {
			var kind playback.TrackKind
			switch t.Type {
			case "audio":
				kind = playback.TrackAudio
			case "sub":
				kind = playback.TrackSubtitle
			default:
				continue
			}
			tracks = append(tracks, playback.Track{
				Kind:     kind,
				ID:       t.ID,
				Language: t.Lang,
				Title:    t.Title,
				Selected: t.Selected,
			})
		}
		return playback.Event{Kind: playback.EventTracksAvailable, Tracks: tracks}, true
	}
	return playback.Event{}, false
}

func (b *Backend) emit(ev playback.Event) {
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

// Load implements playback.Backend.
func (b *Backend) Load(ctx context.Context, url string) error {
	return b.command("loadfile", url, "replace")
}

// Play implements playback.Backend.
func (b *Backend) Play() error { return b.command("set_property", "pause", false) }

// Pause implements playback.Backend.
func (b *Backend) Pause() error { return b.command("set_property", "pause", true) }

// Seek implements playback.Backend.
func (b *Backend) Seek(positionMs int64) error {
	return b.command("seek", float64(positionMs)/1000, "absolute")
}

// SetVolume implements playback.Backend. mpv volume is 0..100.
func (b *Backend) SetVolume(v float64) error {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return b.command("set_property", "volume", v*100)
}

// SetSpeed implements playback.Backend.
func (b *Backend) SetSpeed(factor float64) error {
	return b.command("set_property", "speed", factor)
}

// SelectTrack implements playback.Backend.
func (b *Backend) SelectTrack(kind playback.TrackKind, id int) error {
	prop := "aid"
	if kind == playback.TrackSubtitle {
		prop = "sid"
	}
	return b.command("set_property", prop, id)
}

// Events implements playback.Backend.
func (b *Backend) Events() <-chan playback.Event { return b.events }

// Capabilities implements playback.Backend.
func (b *Backend) Capabilities() playback.BackendCapabilities {
	return playback.BackendCapabilities{All: true}
}

// Close implements playback.Backend.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.conn.Close()
	})
	return err
}
