package playbackmodule

import (
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flixor/flixor/internal/mediaserver"
	"github.com/flixor/flixor/internal/models"
)

func testSource() *models.SourceDescriptor {
	return &models.SourceDescriptor{
		Container:  "mkv",
		VideoCodec: "hevc",
		AudioCodec: "dts",
		Height:     1080,
		PartKey:    "/library/parts/9/file.mkv",
	}
}

func newTestPlanner() *Planner {
	return NewPlanner(newFakeServer(), hclog.NewNullLogger())
}

func TestSelectDirectPlayWhenCapable(t *testing.T) {
	p := newTestPlanner()

	desc, err := p.Select("9", testSource(), models.QualityOriginal, BackendCapabilities{All: true})
	require.NoError(t, err)

	assert.Equal(t, models.StreamModeDirectPlay, desc.Mode)
	assert.False(t, desc.Adaptive)
	assert.Empty(t, desc.SessionID)
	assert.Contains(t, desc.URL, "/library/parts/9/file.mkv")
}

func TestSelectForcesTranscodeWhenIncapable(t *testing.T) {
	p := newTestPlanner()
	caps := BackendCapabilities{
		Containers:  []string{"mp4", "webm"},
		VideoCodecs: []string{"h264", "vp9"},
		AudioCodecs: []string{"aac", "opus"},
	}

	desc, err := p.Select("9", testSource(), models.QualityOriginal, caps)
	require.NoError(t, err)

	assert.Equal(t, models.StreamModeTranscode, desc.Mode)
	assert.True(t, desc.Adaptive)
	assert.NotEmpty(t, desc.SessionID)
	// Escalation picks the best rung that fits the source.
	assert.Equal(t, "1080p", desc.Quality.ID)
}

func TestSelectRequestedRungAlwaysTranscodes(t *testing.T) {
	p := newTestPlanner()
	rung, _ := ProfileByID("480p")

	// Even a fully capable backend transcodes when a rung is requested.
	desc, err := p.Select("9", testSource(), rung, BackendCapabilities{All: true})
	require.NoError(t, err)

	assert.Equal(t, models.StreamModeTranscode, desc.Mode)
	assert.Equal(t, "480p", desc.Quality.ID)
	assert.True(t, strings.Contains(desc.URL, desc.SessionID))
}

func TestSelectCapabilityMatrixPerAxis(t *testing.T) {
	p := newTestPlanner()
	src := testSource()

	cases := []struct {
		name string
		caps BackendCapabilities
	}{
		{"container", BackendCapabilities{Containers: []string{"mp4"}, VideoCodecs: []string{"hevc"}, AudioCodecs: []string{"dts"}}},
		{"video", BackendCapabilities{Containers: []string{"mkv"}, VideoCodecs: []string{"h264"}, AudioCodecs: []string{"dts"}}},
		{"audio", BackendCapabilities{Containers: []string{"mkv"}, VideoCodecs: []string{"hevc"}, AudioCodecs: []string{"aac"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			desc, err := p.Select("9", src, models.QualityOriginal, tc.caps)
			require.NoError(t, err)
			assert.Equal(t, models.StreamModeTranscode, desc.Mode)
		})
	}

	// All three axes supported: direct play, case-insensitively.
	caps := BackendCapabilities{
		Containers:  []string{"MKV"},
		VideoCodecs: []string{"HEVC"},
		AudioCodecs: []string{"DTS"},
	}
	desc, err := p.Select("9", src, models.QualityOriginal, caps)
	require.NoError(t, err)
	assert.Equal(t, models.StreamModeDirectPlay, desc.Mode)
}

func TestSelectNoPartKey(t *testing.T) {
	p := newTestPlanner()
	src := testSource()
	src.PartKey = ""

	_, err := p.Select("9", src, models.QualityOriginal, BackendCapabilities{All: true})
	assert.ErrorIs(t, err, mediaserver.ErrNoPlayableSource)

	_, err = p.Select("9", nil, models.QualityOriginal, BackendCapabilities{All: true})
	assert.ErrorIs(t, err, mediaserver.ErrNoPlayableSource)
}
