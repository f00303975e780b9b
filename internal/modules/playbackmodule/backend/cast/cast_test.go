package cast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flixor/flixor/internal/models"
	playback "github.com/flixor/flixor/internal/modules/playbackmodule"
)

// fakeRenderer is an in-memory renderer control endpoint.
type fakeRenderer struct {
	mu     sync.Mutex
	status rendererStatus
	posts  []string
}

func (f *fakeRenderer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			f.mu.Lock()
			f.posts = append(f.posts, r.URL.Path)
			f.mu.Unlock()
			return
		}
		f.mu.Lock()
		st := f.status
		f.mu.Unlock()
		json.NewEncoder(w).Encode(st)
	}
}

func (f *fakeRenderer) setStatus(state string, posMs, durMs int64) {
	f.mu.Lock()
	f.status = rendererStatus{State: state, PositionMs: posMs, DurationMs: durMs}
	f.mu.Unlock()
}

func (f *fakeRenderer) postLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posts...)
}

func newTestBackend(t *testing.T) (*Backend, *fakeRenderer) {
	t.Helper()
	renderer := &fakeRenderer{status: rendererStatus{State: "stopped"}}
	srv := httptest.NewServer(renderer.handler())
	t.Cleanup(srv.Close)

	b := New(srv.URL, hclog.NewNullLogger())
	b.pollInterval = 10 * time.Millisecond
	t.Cleanup(func() { b.Close() })
	return b, renderer
}

func collectEvents(b *Backend) (func() []playback.Event, func()) {
	var mu sync.Mutex
	var got []playback.Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range b.Events() {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		}
	}()
	snapshot := func() []playback.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]playback.Event(nil), got...)
	}
	wait := func() { <-done }
	return snapshot, wait
}

func hasKind(events []playback.Event, kind playback.EventKind) bool {
	for _, ev := range events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func TestLoadSynthesizesLifecycle(t *testing.T) {
	b, renderer := newTestBackend(t)
	snapshot, _ := collectEvents(b)

	require.NoError(t, b.Load(context.Background(), "http://server/stream.m3u8"))
	assert.Contains(t, renderer.postLog(), "/api/load")

	renderer.setStatus("playing", 1_000, 2_400_000)
	require.Eventually(t, func() bool {
		evs := snapshot()
		return hasKind(evs, playback.EventFileLoaded) &&
			hasKind(evs, playback.EventDuration) &&
			hasKind(evs, playback.EventPosition)
	}, 2*time.Second, 5*time.Millisecond)

	evs := snapshot()
	for _, ev := range evs {
		if ev.Kind == playback.EventDuration {
			assert.Equal(t, int64(2_400_000), ev.DurationMs)
		}
		if ev.Kind == playback.EventStateChanged {
			assert.Equal(t, models.PlayStatePlaying, ev.State)
		}
	}

	// The renderer going idle after playing is an end.
	renderer.setStatus("stopped", 0, 2_400_000)
	require.Eventually(t, func() bool {
		return hasKind(snapshot(), playback.EventEnded)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPauseStateTransition(t *testing.T) {
	b, renderer := newTestBackend(t)
	snapshot, _ := collectEvents(b)

	require.NoError(t, b.Load(context.Background(), "http://server/stream.m3u8"))
	renderer.setStatus("playing", 1_000, 2_400_000)
	require.Eventually(t, func() bool {
		return hasKind(snapshot(), playback.EventFileLoaded)
	}, 2*time.Second, 5*time.Millisecond)

	renderer.setStatus("paused", 5_000, 2_400_000)
	require.Eventually(t, func() bool {
		for _, ev := range snapshot() {
			if ev.Kind == playback.EventStateChanged && ev.State == models.PlayStatePaused {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	// Pausing is not an end.
	assert.False(t, hasKind(snapshot(), playback.EventEnded))
}

func TestControlVerbs(t *testing.T) {
	b, renderer := newTestBackend(t)

	require.NoError(t, b.Load(context.Background(), "u"))
	require.NoError(t, b.Play())
	require.NoError(t, b.Pause())
	require.NoError(t, b.Seek(90_000))
	require.NoError(t, b.SetVolume(0.4))
	require.NoError(t, b.SelectTrack(playback.TrackAudio, 1))

	posts := renderer.postLog()
	assert.Equal(t, []string{
		"/api/load", "/api/play", "/api/pause", "/api/seek", "/api/volume", "/api/track",
	}, posts)
}

func TestSetSpeedOnlyRealtime(t *testing.T) {
	b, _ := newTestBackend(t)
	assert.NoError(t, b.SetSpeed(1.0))
	assert.Error(t, b.SetSpeed(1.5))
}

func TestConstrainedCapabilities(t *testing.T) {
	b, _ := newTestBackend(t)
	caps := b.Capabilities()

	assert.False(t, caps.All)
	assert.True(t, caps.SupportsContainer("mp4"))
	assert.False(t, caps.SupportsContainer("mkv"))
	assert.True(t, caps.SupportsVideoCodec("h264"))
	assert.False(t, caps.SupportsVideoCodec("hevc"))
	assert.True(t, caps.SupportsAudioCodec("aac"))
	assert.False(t, caps.SupportsAudioCodec("dts"))
}

func TestCloseStopsRendererAndStream(t *testing.T) {
	b, renderer := newTestBackend(t)
	_, wait := collectEvents(b)

	require.NoError(t, b.Load(context.Background(), "u"))
	require.NoError(t, b.Close())
	wait()

	assert.Contains(t, renderer.postLog(), "/api/stop")
	assert.NoError(t, b.Close())
}

func TestCloseWithoutLoad(t *testing.T) {
	b, _ := newTestBackend(t)
	_, wait := collectEvents(b)
	require.NoError(t, b.Close())
	wait()
}
