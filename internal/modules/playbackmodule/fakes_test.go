package playbackmodule

import (
	"context"
	"fmt"
	"sync"

	"github.com/flixor/flixor/internal/mediaserver"
	"github.com/flixor/flixor/internal/models"
	"github.com/flixor/flixor/internal/scrobbler"
)

// fakeServer is an in-memory mediaserver.Client. Calls that matter for
// ordering assertions are appended to calls.
type fakeServer struct {
	mu sync.Mutex

	source   *models.SourceDescriptor
	item     *models.PlayableItem
	markers  []models.Marker
	siblings []models.PlayableItem

	metadataErr error

	calls          []string
	timelines      []models.ProgressSnapshot
	stoppedIDs     []string
	metadataCount  int
	bypassRequests int
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		source: &models.SourceDescriptor{
			Container:  "mkv",
			VideoCodec: "h264",
			AudioCodec: "aac",
			Width:      1920,
			Height:     1080,
			PartKey:    "/library/parts/1/file.mkv",
			DurationMs: 2_400_000,
		},
		item: &models.PlayableItem{
			ID:    "101",
			Kind:  models.MediaKindMovie,
			Title: "Test Movie",
		},
	}
}

func (f *fakeServer) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeServer) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeServer) Metadata(ctx context.Context, itemID string, bypassCache bool) (*models.SourceDescriptor, error) {
	f.mu.Lock()
	f.metadataCount++
	if bypassCache {
		f.bypassRequests++
	}
	src, err := f.source, f.metadataErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	cp := *src
	return &cp, nil
}

func (f *fakeServer) Item(ctx context.Context, itemID string) (*models.PlayableItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.item
	return &cp, nil
}

func (f *fakeServer) Markers(ctx context.Context, itemID string) ([]models.Marker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Marker(nil), f.markers...), nil
}

func (f *fakeServer) Siblings(ctx context.Context, parentID string) ([]models.PlayableItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PlayableItem(nil), f.siblings...), nil
}

func (f *fakeServer) DirectPlayURL(partKey string) string {
	return "http://server" + partKey
}

func (f *fakeServer) TranscodeURL(itemID string, params mediaserver.TranscodeParams) string {
	return fmt.Sprintf("http://server/transcode/%s?session=%s&quality=%s",
		itemID, params.SessionID, params.Quality.ID)
}

func (f *fakeServer) ReportTimeline(ctx context.Context, itemID string, snap models.ProgressSnapshot) error {
	f.mu.Lock()
	f.timelines = append(f.timelines, snap)
	f.calls = append(f.calls, "timeline:"+string(snap.State))
	f.mu.Unlock()
	return nil
}

func (f *fakeServer) StopTranscode(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	f.stoppedIDs = append(f.stoppedIDs, sessionID)
	f.calls = append(f.calls, "stop_transcode")
	f.mu.Unlock()
	return nil
}

func (f *fakeServer) timelineLog() []models.ProgressSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ProgressSnapshot(nil), f.timelines...)
}

// fakeBackend is a scriptable playback engine: tests feed events into the
// stream and inspect the calls the session made.
type fakeBackend struct {
	mu sync.Mutex

	caps    BackendCapabilities
	loadErr error

	loads  []string
	seeks  []int64
	closed bool

	events chan Event
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		caps:   BackendCapabilities{All: true},
		events: make(chan Event, 64),
	}
}

func (f *fakeBackend) emit(ev Event) { f.events <- ev }

func (f *fakeBackend) loadURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loads...)
}

func (f *fakeBackend) seekLog() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.seeks...)
}

func (f *fakeBackend) Load(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loads = append(f.loads, url)
	return nil
}

func (f *fakeBackend) Play() error  { return nil }
func (f *fakeBackend) Pause() error { return nil }

func (f *fakeBackend) Seek(positionMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, positionMs)
	return nil
}

func (f *fakeBackend) SetVolume(v float64) error                { return nil }
func (f *fakeBackend) SetSpeed(factor float64) error            { return nil }
func (f *fakeBackend) SelectTrack(kind TrackKind, id int) error { return nil }
func (f *fakeBackend) Events() <-chan Event                     { return f.events }
func (f *fakeBackend) Capabilities() BackendCapabilities        { return f.caps }

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// fakeScrobbler records the verbs called against the watch-history
// service.
type fakeScrobbler struct {
	mu    sync.Mutex
	calls []string
	pcts  []float64

	onCall func(verb string)
}

func (f *fakeScrobbler) note(verb string, pct float64) error {
	f.mu.Lock()
	f.calls = append(f.calls, verb)
	f.pcts = append(f.pcts, pct)
	cb := f.onCall
	f.mu.Unlock()
	if cb != nil {
		cb(verb)
	}
	return nil
}

func (f *fakeScrobbler) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeScrobbler) Start(ctx context.Context, ids scrobbler.IDs, pct float64) error {
	return f.note("start", pct)
}
func (f *fakeScrobbler) Pause(ctx context.Context, ids scrobbler.IDs, pct float64) error {
	return f.note("pause", pct)
}
func (f *fakeScrobbler) Resume(ctx context.Context, ids scrobbler.IDs, pct float64) error {
	return f.note("resume", pct)
}
func (f *fakeScrobbler) Stop(ctx context.Context, ids scrobbler.IDs, pct float64) error {
	return f.note("stop", pct)
}
