package playbackmodule

import "github.com/flixor/flixor/internal/models"

// skipPaddingMs is added past the marker end when skipping so the seek
// lands outside the interval.
const skipPaddingMs = 1000

// MarkerEngine evaluates skip-marker membership against the playback
// clock. Markers are immutable for the session; overlap is a data-quality
// condition the engine resolves by taking the first match.
type MarkerEngine struct {
	markers []models.Marker
}

// NewMarkerEngine keeps only intro/credits markers, in fetch order.
func NewMarkerEngine(markers []models.Marker) *MarkerEngine {
	kept := make([]models.Marker, 0, len(markers))
	for _, m := range markers {
		if m.Type == models.MarkerIntro || m.Type == models.MarkerCredits {
			kept = append(kept, m)
		}
	}
	return &MarkerEngine{markers: kept}
}

// Active returns the first marker containing the position. Boundaries are
// closed on both ends.
func (e *MarkerEngine) Active(positionMs int64) (models.Marker, bool) {
	for _, m := range e.markers {
		if m.Contains(positionMs) {
			return m, true
		}
	}
	return models.Marker{}, false
}

// SkipTarget is the position a skip of the marker seeks to.
func (e *MarkerEngine) SkipTarget(m models.Marker) int64 {
	return m.EndMs + skipPaddingMs
}

// CreditsStart returns the start of the credits marker, if one exists.
// The next-up countdown triggers there.
func (e *MarkerEngine) CreditsStart() (int64, bool) {
	for _, m := range e.markers {
		if m.Type == models.MarkerCredits {
			return m.StartMs, true
		}
	}
	return 0, false
}
