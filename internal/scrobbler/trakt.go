package scrobbler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"

	"github.com/flixor/flixor/internal/models"
)

// TraktClient implements Service against a Trakt-style scrobble API.
// Requests are rate limited; the service throttles aggressively and a
// playback session can produce bursts around seeks and quality changes.
type TraktClient struct {
	baseURL  string
	token    string
	clientID string
	http     *http.Client
	limiter  *rate.Limiter
	logger   hclog.Logger
}

// NewTraktClient creates a scrobble client. ratePerMin bounds outbound
// calls; zero means 30/min.
func NewTraktClient(baseURL, token, clientID string, timeout time.Duration, ratePerMin int, logger hclog.Logger) *TraktClient {
	if ratePerMin <= 0 {
		ratePerMin = 30
	}
	return &TraktClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		clientID: clientID,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(float64(ratePerMin)/60.0), 5),
		logger:   logger,
	}
}

type scrobbleBody struct {
	Movie    *scrobbleMedia `json:"movie,omitempty"`
	Episode  *scrobbleMedia `json:"episode,omitempty"`
	Progress float64        `json:"progress"`
}

type scrobbleMedia struct {
	Title  string      `json:"title,omitempty"`
	Season int         `json:"season,omitempty"`
	Number int         `json:"number,omitempty"`
	IDs    scrobbleIDs `json:"ids"`
}

type scrobbleIDs struct {
	IMDB string `json:"imdb,omitempty"`
	TMDB int    `json:"tmdb,omitempty"`
	TVDB int    `json:"tvdb,omitempty"`
}

func buildBody(ids IDs, progressPct float64) scrobbleBody {
	media := &scrobbleMedia{
		Title: ids.Title,
		IDs: scrobbleIDs{
			IMDB: ids.External.IMDB,
			TMDB: ids.External.TMDB,
			TVDB: ids.External.TVDB,
		},
	}
	body := scrobbleBody{Progress: progressPct}
	if ids.Kind == models.MediaKindEpisode {
		media.Season = ids.Season
		media.Number = ids.Number
		body.Episode = media
	} else {
		body.Movie = media
	}
	return body
}

func (c *TraktClient) post(ctx context.Context, action string, ids IDs, progressPct float64) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("scrobble rate limit: %w", err)
	}

	payload, err := json.Marshal(buildBody(ids, progressPct))
	if err != nil {
		return fmt.Errorf("encode scrobble body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scrobble/"+action, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build scrobble request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("trakt-api-version", "2")
	req.Header.Set("trakt-api-key", c.clientID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("scrobble %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("scrobble %s: service returned %d", action, resp.StatusCode)
	}
	c.logger.Debug("scrobble sent", "action", action, "progress_pct", progressPct)
	return nil
}

// Start implements Service.
func (c *TraktClient) Start(ctx context.Context, ids IDs, progressPct float64) error {
	return c.post(ctx, "start", ids, progressPct)
}

// Pause implements Service.
func (c *TraktClient) Pause(ctx context.Context, ids IDs, progressPct float64) error {
	return c.post(ctx, "pause", ids, progressPct)
}

// Resume implements Service. The wire protocol has no resume verb; a
// second start continues the same watch.
func (c *TraktClient) Resume(ctx context.Context, ids IDs, progressPct float64) error {
	return c.post(ctx, "start", ids, progressPct)
}

// Stop implements Service.
func (c *TraktClient) Stop(ctx context.Context, ids IDs, progressPct float64) error {
	return c.post(ctx, "stop", ids, progressPct)
}
