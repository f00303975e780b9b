package playbackmodule

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flixor/flixor/internal/models"
)

func episodeServer() *fakeServer {
	server := newFakeServer()
	server.siblings = []models.PlayableItem{
		{ID: "e1", Kind: models.MediaKindEpisode, ParentID: "s1", Index: 1, Title: "One"},
		{ID: "e2", Kind: models.MediaKindEpisode, ParentID: "s1", Index: 2, Title: "Two"},
		{ID: "e3", Kind: models.MediaKindEpisode, ParentID: "s1", Index: 3, Title: "Three"},
	}
	return server
}

func TestResolveNextMidSeason(t *testing.T) {
	server := episodeServer()
	n := NewNextUp(server, server.siblings[1], hclog.NewNullLogger())

	next, err := n.ResolveNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "e3", next.ID)
}

func TestResolveNextLastEpisode(t *testing.T) {
	server := episodeServer()
	n := NewNextUp(server, server.siblings[2], hclog.NewNullLogger())

	next, err := n.ResolveNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestResolveNextMovieHasNoSequence(t *testing.T) {
	server := newFakeServer()
	movie := models.PlayableItem{ID: "m1", Kind: models.MediaKindMovie}
	n := NewNextUp(server, movie, hclog.NewNullLogger())

	next, err := n.ResolveNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestCountdownFromCreditsMarker(t *testing.T) {
	server := episodeServer()
	n := NewNextUp(server, server.siblings[0], hclog.NewNullLogger())
	_, err := n.ResolveNext(context.Background())
	require.NoError(t, err)

	const durationMs = int64(2_600_000)
	n.SetTrigger(2_560_000, true, durationMs, 30_000)

	// Before the credits start: nothing.
	_, active := n.Countdown(2_559_999, durationMs)
	assert.False(t, active)

	// 40s of credits remain when they begin.
	secs, active := n.Countdown(2_560_000, durationMs)
	require.True(t, active)
	assert.Equal(t, 40, secs)

	// Partial seconds round up; 39.5s remaining shows 40.
	secs, _ = n.Countdown(2_560_500, durationMs)
	assert.Equal(t, 40, secs)

	secs, _ = n.Countdown(2_561_000, durationMs)
	assert.Equal(t, 39, secs)

	secs, _ = n.Countdown(durationMs, durationMs)
	assert.Equal(t, 0, secs)
}

func TestCountdownFallsBackToLeadBeforeEnd(t *testing.T) {
	server := episodeServer()
	n := NewNextUp(server, server.siblings[0], hclog.NewNullLogger())
	_, err := n.ResolveNext(context.Background())
	require.NoError(t, err)

	const durationMs = int64(2_600_000)
	n.SetTrigger(0, false, durationMs, 30_000)

	_, active := n.Countdown(2_569_000, durationMs)
	assert.False(t, active)

	secs, active := n.Countdown(2_570_000, durationMs)
	require.True(t, active)
	assert.Equal(t, 30, secs)
}

func TestCountdownNeedsAResolvedNext(t *testing.T) {
	server := episodeServer()
	n := NewNextUp(server, server.siblings[2], hclog.NewNullLogger())
	_, err := n.ResolveNext(context.Background())
	require.NoError(t, err)

	n.SetTrigger(0, false, 2_600_000, 30_000)
	_, active := n.Countdown(2_599_000, 2_600_000)
	assert.False(t, active)
}

func TestCountdownCancelSticks(t *testing.T) {
	server := episodeServer()
	n := NewNextUp(server, server.siblings[0], hclog.NewNullLogger())
	_, err := n.ResolveNext(context.Background())
	require.NoError(t, err)

	n.SetTrigger(0, false, 2_600_000, 30_000)
	n.Cancel()

	_, active := n.Countdown(2_590_000, 2_600_000)
	assert.False(t, active)
	_, active = n.Countdown(2_600_000, 2_600_000)
	assert.False(t, active)
}
