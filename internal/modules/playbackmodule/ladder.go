package playbackmodule

import "github.com/flixor/flixor/internal/models"

// qualityRungs is the static quality ladder, lowest first. Bitrates follow
// the usual per-resolution targets for H.264 delivery.
var qualityRungs = []models.QualityProfile{
	{ID: "240p", Name: "240p (0.4 Mbps)", BitrateKbps: 400, MaxHeight: 240, RequiresTranscode: true},
	{ID: "360p", Name: "360p (0.8 Mbps)", BitrateKbps: 800, MaxHeight: 360, RequiresTranscode: true},
	{ID: "480p", Name: "480p (1.5 Mbps)", BitrateKbps: 1500, MaxHeight: 480, RequiresTranscode: true},
	{ID: "720p", Name: "720p (3 Mbps)", BitrateKbps: 3000, MaxHeight: 720, RequiresTranscode: true},
	{ID: "1080p", Name: "1080p (6 Mbps)", BitrateKbps: 6000, MaxHeight: 1080, RequiresTranscode: true},
	{ID: "1440p", Name: "1440p (12 Mbps)", BitrateKbps: 12000, MaxHeight: 1440, RequiresTranscode: true},
	{ID: "2160p", Name: "4K (25 Mbps)", BitrateKbps: 25000, MaxHeight: 2160, RequiresTranscode: true},
}

// Ladder returns the quality profiles usable for the source: the
// no-transcode sentinel first, then every rung whose resolution ceiling
// fits the source. The minimum rung is always present so a constrained
// network has somewhere to land.
func Ladder(src *models.SourceDescriptor) []models.QualityProfile {
	out := []models.QualityProfile{models.QualityOriginal}
	for _, rung := range qualityRungs {
		if src != nil && src.Height > 0 && rung.MaxHeight > src.Height {
			break
		}
		out = append(out, rung)
	}
	if len(out) == 1 {
		out = append(out, qualityRungs[0])
	}
	return out
}

// ProfileByID finds a ladder profile, including the sentinel.
func ProfileByID(id string) (models.QualityProfile, bool) {
	if id == models.QualityOriginal.ID {
		return models.QualityOriginal, true
	}
	for _, rung := range qualityRungs {
		if rung.ID == id {
			return rung, true
		}
	}
	return models.QualityProfile{}, false
}

// TopRung returns the highest transcode rung that fits the source. Used
// when escalating an original-quality session to transcode.
func TopRung(src *models.SourceDescriptor) models.QualityProfile {
	ladder := Ladder(src)
	return ladder[len(ladder)-1]
}
