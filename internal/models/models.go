// Package models holds the shared playback data model.
package models

// MediaKind identifies what sort of item is being played.
type MediaKind string

const (
	MediaKindMovie   MediaKind = "movie"
	MediaKindEpisode MediaKind = "episode"
	MediaKindClip    MediaKind = "clip"
)

// ExternalIDs carries third-party identifiers used by the watch-history
// service to match the item.
type ExternalIDs struct {
	IMDB string `json:"imdb,omitempty"`
	TMDB int    `json:"tmdb,omitempty"`
	TVDB int    `json:"tvdb,omitempty"`
}

// PlayableItem is the immutable identity of something that can be played.
// Sequence fields (ParentID, Season, Index) are only set for episodes and
// drive next-up resolution.
type PlayableItem struct {
	ID       string      `json:"id"`
	Kind     MediaKind   `json:"kind"`
	Title    string      `json:"title"`
	ParentID string      `json:"parent_id,omitempty"`
	Season   int         `json:"season,omitempty"`
	Index    int         `json:"index,omitempty"`
	External ExternalIDs `json:"external,omitempty"`

	// ResumeOffsetMs is the server-reported prior position, zero if the
	// item has never been started.
	ResumeOffsetMs int64 `json:"resume_offset_ms,omitempty"`
}

// SourceDescriptor describes the media file behind an item as the server
// reports it. It is fetched fresh before every stream attempt; part keys
// and tokens can be reassigned when the server rescans its library.
type SourceDescriptor struct {
	Container    string `json:"container"`
	VideoCodec   string `json:"video_codec"`
	VideoProfile string `json:"video_profile,omitempty"`
	AudioCodec   string `json:"audio_codec"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	PartKey      string `json:"part_key"`
	DurationMs   int64  `json:"duration_ms"`
}

// QualityProfile is one rung of the quality ladder. A zero ceiling means
// unconstrained. The no-transcode sentinel is QualityOriginal.
type QualityProfile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	BitrateKbps int    `json:"bitrate_kbps,omitempty"`
	MaxHeight   int    `json:"max_height,omitempty"`

	// RequiresTranscode forces server-side re-encoding even when the
	// backend could play the source unmodified.
	RequiresTranscode bool `json:"requires_transcode"`
}

// QualityOriginal is the no-transcode sentinel: play the source file as-is
// when the backend is capable of it.
var QualityOriginal = QualityProfile{
	ID:   "original",
	Name: "Original",
}

// StreamMode says how the video is delivered.
type StreamMode string

const (
	StreamModeDirectPlay StreamMode = "direct_play"
	StreamModeTranscode  StreamMode = "transcode"
)

// StreamDescriptor is a resolved, loadable stream. Exactly one descriptor
// is active per session at any time; replacing it must tear the old one
// down exactly once.
type StreamDescriptor struct {
	URL      string         `json:"url"`
	Mode     StreamMode     `json:"mode"`
	Adaptive bool           `json:"adaptive"`
	Quality  QualityProfile `json:"quality"`

	// SessionID identifies the server-side transcode session. Empty for
	// direct play.
	SessionID string `json:"session_id,omitempty"`
}

// MarkerType tags a skip-relevant time range.
type MarkerType string

const (
	MarkerIntro   MarkerType = "intro"
	MarkerCredits MarkerType = "credits"
)

// Marker is a typed time range within an item. Boundaries are closed:
// a position equal to StartMs or EndMs is inside the marker.
type Marker struct {
	Type    MarkerType `json:"type"`
	StartMs int64      `json:"start_ms"`
	EndMs   int64      `json:"end_ms"`
}

// Contains reports whether the position falls inside the marker.
func (m Marker) Contains(positionMs int64) bool {
	return positionMs >= m.StartMs && positionMs <= m.EndMs
}

// PlayState is the coarse playback state reported to trackers.
type PlayState string

const (
	PlayStatePlaying PlayState = "playing"
	PlayStatePaused  PlayState = "paused"
	PlayStateStopped PlayState = "stopped"
)

// ProgressSnapshot is a single consumption report.
type ProgressSnapshot struct {
	PositionMs int64     `json:"position_ms"`
	DurationMs int64     `json:"duration_ms"`
	State      PlayState `json:"state"`
}

// Percent returns consumption progress in the 0..100 range the
// watch-history service expects.
func (s ProgressSnapshot) Percent() float64 {
	if s.DurationMs <= 0 {
		return 0
	}
	pct := float64(s.PositionMs) / float64(s.DurationMs) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
