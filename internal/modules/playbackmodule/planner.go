package playbackmodule

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/flixor/flixor/internal/mediaserver"
	"github.com/flixor/flixor/internal/models"
)

// StreamURLBuilder is the slice of the media server client the planner
// needs to mint URLs.
type StreamURLBuilder interface {
	DirectPlayURL(partKey string) string
	TranscodeURL(itemID string, params mediaserver.TranscodeParams) string
}

// Planner decides how a source is delivered and builds the stream
// descriptor for it.
type Planner struct {
	urls   StreamURLBuilder
	logger hclog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(urls StreamURLBuilder, logger hclog.Logger) *Planner {
	return &Planner{urls: urls, logger: logger}
}

// Select builds the stream descriptor for the requested quality. The
// no-transcode sentinel gets direct play when the backend's capability
// matrix allows the source combination; everything else transcodes with
// server-side direct-play/direct-stream disabled.
func (p *Planner) Select(itemID string, src *models.SourceDescriptor, quality models.QualityProfile, caps BackendCapabilities) (*models.StreamDescriptor, error) {
	if src == nil || src.PartKey == "" {
		return nil, fmt.Errorf("%w: item %s", mediaserver.ErrNoPlayableSource, itemID)
	}

	if !quality.RequiresTranscode {
		reason, ok := p.directPlayEligible(src, caps)
		if ok {
			return &models.StreamDescriptor{
				URL:     p.urls.DirectPlayURL(src.PartKey),
				Mode:    models.StreamModeDirectPlay,
				Quality: quality,
			}, nil
		}
		p.logger.Info("direct play rejected, forcing transcode", "reason", reason,
			"container", src.Container, "video", src.VideoCodec, "audio", src.AudioCodec)
		quality = TopRung(src)
	}

	sessionID := uuid.NewString()
	desc := &models.StreamDescriptor{
		URL: p.urls.TranscodeURL(itemID, mediaserver.TranscodeParams{
			Quality:   quality,
			SessionID: sessionID,
			Protocol:  "hls",
		}),
		Mode:      models.StreamModeTranscode,
		Adaptive:  true,
		Quality:   quality,
		SessionID: sessionID,
	}
	return desc, nil
}

// directPlayEligible evaluates the capability matrix. The returned reason
// is only meaningful when eligibility fails.
func (p *Planner) directPlayEligible(src *models.SourceDescriptor, caps BackendCapabilities) (string, bool) {
	if caps.All {
		return "", true
	}
	if !caps.SupportsContainer(src.Container) {
		return fmt.Sprintf("container %s unsupported", src.Container), false
	}
	if !caps.SupportsVideoCodec(src.VideoCodec) {
		return fmt.Sprintf("video codec %s unsupported", src.VideoCodec), false
	}
	if !caps.SupportsAudioCodec(src.AudioCodec) {
		return fmt.Sprintf("audio codec %s unsupported", src.AudioCodec), false
	}
	return "", true
}
