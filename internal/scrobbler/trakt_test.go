package scrobbler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flixor/flixor/internal/models"
)

type recordedCall struct {
	path    string
	headers http.Header
	body    map[string]any
}

type scrobbleRecorder struct {
	mu     sync.Mutex
	calls  []recordedCall
	status int
}

func (rec *scrobbleRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		json.Unmarshal(data, &body)

		rec.mu.Lock()
		rec.calls = append(rec.calls, recordedCall{
			path:    r.URL.Path,
			headers: r.Header.Clone(),
			body:    body,
		})
		status := rec.status
		rec.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
		}
	}
}

func (rec *scrobbleRecorder) last(t *testing.T) recordedCall {
	t.Helper()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.calls)
	return rec.calls[len(rec.calls)-1]
}

func newTestTrakt(t *testing.T, rec *scrobbleRecorder) *TraktClient {
	t.Helper()
	srv := httptest.NewServer(rec.handler())
	t.Cleanup(srv.Close)
	return NewTraktClient(srv.URL, "access-token", "api-key", 5*time.Second, 600, hclog.NewNullLogger())
}

func movieIDs() IDs {
	return IDs{
		Kind:     models.MediaKindMovie,
		Title:    "The Matrix",
		External: models.ExternalIDs{IMDB: "tt0133093", TMDB: 603},
	}
}

func episodeIDs() IDs {
	return IDs{
		Kind:     models.MediaKindEpisode,
		Title:    "Pilot",
		Season:   1,
		Number:   2,
		External: models.ExternalIDs{TVDB: 81189},
	}
}

func TestTraktStartMovie(t *testing.T) {
	rec := &scrobbleRecorder{}
	c := newTestTrakt(t, rec)

	require.NoError(t, c.Start(context.Background(), movieIDs(), 5.5))

	call := rec.last(t)
	assert.Equal(t, "/scrobble/start", call.path)
	assert.Equal(t, "Bearer access-token", call.headers.Get("Authorization"))
	assert.Equal(t, "2", call.headers.Get("trakt-api-version"))
	assert.Equal(t, "api-key", call.headers.Get("trakt-api-key"))

	assert.Equal(t, 5.5, call.body["progress"])
	movie, ok := call.body["movie"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "The Matrix", movie["title"])
	ids := movie["ids"].(map[string]any)
	assert.Equal(t, "tt0133093", ids["imdb"])
	assert.Equal(t, float64(603), ids["tmdb"])
	assert.NotContains(t, call.body, "episode")
}

func TestTraktEpisodeCarriesSeasonAndNumber(t *testing.T) {
	rec := &scrobbleRecorder{}
	c := newTestTrakt(t, rec)

	require.NoError(t, c.Pause(context.Background(), episodeIDs(), 42.0))

	call := rec.last(t)
	assert.Equal(t, "/scrobble/pause", call.path)
	episode := call.body["episode"].(map[string]any)
	assert.Equal(t, float64(1), episode["season"])
	assert.Equal(t, float64(2), episode["number"])
	assert.NotContains(t, call.body, "movie")
}

func TestTraktResumeMapsToStart(t *testing.T) {
	rec := &scrobbleRecorder{}
	c := newTestTrakt(t, rec)

	require.NoError(t, c.Resume(context.Background(), movieIDs(), 42.0))
	assert.Equal(t, "/scrobble/start", rec.last(t).path)
}

func TestTraktStop(t *testing.T) {
	rec := &scrobbleRecorder{}
	c := newTestTrakt(t, rec)

	require.NoError(t, c.Stop(context.Background(), movieIDs(), 97.0))
	call := rec.last(t)
	assert.Equal(t, "/scrobble/stop", call.path)
	assert.Equal(t, 97.0, call.body["progress"])
}

func TestTraktServiceErrorSurfaces(t *testing.T) {
	rec := &scrobbleRecorder{status: http.StatusTooManyRequests}
	c := newTestTrakt(t, rec)

	err := c.Start(context.Background(), movieIDs(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestTraktRateLimiterHonorsContext(t *testing.T) {
	rec := &scrobbleRecorder{}
	srv := httptest.NewServer(rec.handler())
	t.Cleanup(srv.Close)
	// One call per minute with a burst of five: the sixth call would
	// block for most of a minute, so the context must cut it short.
	c := NewTraktClient(srv.URL, "tok", "key", time.Second, 1, hclog.NewNullLogger())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Start(ctx, movieIDs(), 0))
	}

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := c.Start(shortCtx, movieIDs(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestNopServiceIsSilent(t *testing.T) {
	var s Service = Nop{}
	ctx := context.Background()
	assert.NoError(t, s.Start(ctx, IDs{}, 0))
	assert.NoError(t, s.Pause(ctx, IDs{}, 0))
	assert.NoError(t, s.Resume(ctx, IDs{}, 0))
	assert.NoError(t, s.Stop(ctx, IDs{}, 0))
}
