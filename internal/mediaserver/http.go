package mediaserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/flixor/flixor/internal/models"
)

// HTTPClient implements Client against a Plex-style media server.
type HTTPClient struct {
	baseURL  string
	token    string
	clientID string
	http     *http.Client
	logger   hclog.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient substitutes the underlying transport, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *HTTPClient) { c.http = h }
}

// WithClientID pins the client identifier instead of generating one.
func WithClientID(id string) Option {
	return func(c *HTTPClient) { c.clientID = id }
}

// NewHTTPClient creates a media server client.
func NewHTTPClient(baseURL, token string, timeout time.Duration, logger hclog.Logger, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		clientID: uuid.NewString(),
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID returns the identifier sent with every request.
func (c *HTTPClient) ClientID() string { return c.clientID }

// BaseURL returns the server base URL.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// Token returns the access token.
func (c *HTTPClient) Token() string { return c.token }

// Wire types. The server wraps everything in a MediaContainer.

type mediaContainer struct {
	MediaContainer struct {
		Metadata []itemMetadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

type itemMetadata struct {
	RatingKey       string       `json:"ratingKey"`
	Key             string       `json:"key"`
	ParentRatingKey string       `json:"parentRatingKey"`
	Type            string       `json:"type"`
	Title           string       `json:"title"`
	Index           int          `json:"index"`
	ParentIndex     int          `json:"parentIndex"`
	Duration        int64        `json:"duration"`
	ViewOffset      int64        `json:"viewOffset"`
	GUID            string       `json:"guid"`
	Media           []mediaPart  `json:"Media"`
	Marker          []wireMarker `json:"Marker"`
}

type mediaPart struct {
	Container    string `json:"container"`
	VideoCodec   string `json:"videoCodec"`
	VideoProfile string `json:"videoProfile"`
	AudioCodec   string `json:"audioCodec"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Duration     int64  `json:"duration"`
	Part         []struct {
		Key      string `json:"key"`
		Duration int64  `json:"duration"`
	} `json:"Part"`
}

type wireMarker struct {
	Type            string `json:"type"`
	StartTimeOffset int64  `json:"startTimeOffset"`
	EndTimeOffset   int64  `json:"endTimeOffset"`
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, bypassCache bool, out any) error {
	if query == nil {
		query = url.Values{}
	}
	u := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("X-Plex-Client-Identifier", c.clientID)
	if bypassCache {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: item not found", ErrNoPlayableSource)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: server returned %d", ErrMetadataUnavailable, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrMetadataUnavailable, err)
	}
	return nil
}

func (c *HTTPClient) fetchMetadata(ctx context.Context, itemID string, bypassCache bool) (*itemMetadata, error) {
	q := url.Values{}
	q.Set("includeMarkers", "1")
	if bypassCache {
		q.Set("refresh", "1")
	}

	var container mediaContainer
	if err := c.get(ctx, "/library/metadata/"+itemID, q, bypassCache, &container); err != nil {
		return nil, err
	}
	if len(container.MediaContainer.Metadata) == 0 {
		return nil, fmt.Errorf("%w: empty metadata for item %s", ErrNoPlayableSource, itemID)
	}
	return &container.MediaContainer.Metadata[0], nil
}

// Metadata implements Client.
func (c *HTTPClient) Metadata(ctx context.Context, itemID string, bypassCache bool) (*models.SourceDescriptor, error) {
	md, err := c.fetchMetadata(ctx, itemID, bypassCache)
	if err != nil {
		return nil, err
	}
	if len(md.Media) == 0 || len(md.Media[0].Part) == 0 {
		return nil, fmt.Errorf("%w: item %s has no media parts", ErrNoPlayableSource, itemID)
	}

	m := md.Media[0]
	desc := &models.SourceDescriptor{
		Container:    m.Container,
		VideoCodec:   m.VideoCodec,
		VideoProfile: m.VideoProfile,
		AudioCodec:   m.AudioCodec,
		Width:        m.Width,
		Height:       m.Height,
		PartKey:      m.Part[0].Key,
		DurationMs:   m.Duration,
	}
	if desc.DurationMs == 0 {
		desc.DurationMs = md.Duration
	}
	return desc, nil
}

// Item implements Client.
func (c *HTTPClient) Item(ctx context.Context, itemID string) (*models.PlayableItem, error) {
	md, err := c.fetchMetadata(ctx, itemID, false)
	if err != nil {
		return nil, err
	}
	return itemFromMetadata(md), nil
}

func itemFromMetadata(md *itemMetadata) *models.PlayableItem {
	item := &models.PlayableItem{
		ID:             md.RatingKey,
		Title:          md.Title,
		ParentID:       md.ParentRatingKey,
		Season:         md.ParentIndex,
		Index:          md.Index,
		ResumeOffsetMs: md.ViewOffset,
	}
	switch md.Type {
	case "movie":
		item.Kind = models.MediaKindMovie
	case "episode":
		item.Kind = models.MediaKindEpisode
	default:
		item.Kind = models.MediaKindClip
	}
	parseGUID(md.GUID, &item.External)
	return item
}

// parseGUID extracts third-party ids from agent GUIDs such as
// "imdb://tt0133093" or "tmdb://603".
func parseGUID(guid string, ids *models.ExternalIDs) {
	scheme, rest, ok := strings.Cut(guid, "://")
	if !ok {
		return
	}
	rest, _, _ = strings.Cut(rest, "?")
	switch scheme {
	case "imdb":
		ids.IMDB = rest
	case "tmdb":
		if n, err := strconv.Atoi(rest); err == nil {
			ids.TMDB = n
		}
	case "tvdb":
		if n, err := strconv.Atoi(rest); err == nil {
			ids.TVDB = n
		}
	}
}

// Markers implements Client.
func (c *HTTPClient) Markers(ctx context.Context, itemID string) ([]models.Marker, error) {
	md, err := c.fetchMetadata(ctx, itemID, false)
	if err != nil {
		return nil, err
	}
	markers := make([]models.Marker, 0, len(md.Marker))
	for _, m := range md.Marker {
		var t models.MarkerType
		switch m.Type {
		case "intro":
			t = models.MarkerIntro
		case "credits":
			t = models.MarkerCredits
		default:
			continue
		}
		markers = append(markers, models.Marker{
			Type:    t,
			StartMs: m.StartTimeOffset,
			EndMs:   m.EndTimeOffset,
		})
	}
	return markers, nil
}

// Siblings implements Client.
func (c *HTTPClient) Siblings(ctx context.Context, parentID string) ([]models.PlayableItem, error) {
	var container mediaContainer
	if err := c.get(ctx, "/library/metadata/"+parentID+"/children", nil, false, &container); err != nil {
		return nil, err
	}
	items := make([]models.PlayableItem, 0, len(container.MediaContainer.Metadata))
	for i := range container.MediaContainer.Metadata {
		items = append(items, *itemFromMetadata(&container.MediaContainer.Metadata[i]))
	}
	return items, nil
}

// DirectPlayURL implements Client.
func (c *HTTPClient) DirectPlayURL(partKey string) string {
	q := url.Values{}
	q.Set("X-Plex-Token", c.token)
	return c.baseURL + partKey + "?" + q.Encode()
}

// TranscodeURL implements Client. The URL always disables server-side
// direct-play and direct-stream so the server is forced to re-encode at
// the requested ceilings.
func (c *HTTPClient) TranscodeURL(itemID string, params TranscodeParams) string {
	protocol := params.Protocol
	if protocol == "" {
		protocol = "hls"
	}
	ext := ".m3u8"
	if protocol == "dash" {
		ext = ".mpd"
	}

	q := url.Values{}
	q.Set("path", "/library/metadata/"+itemID)
	q.Set("session", params.SessionID)
	q.Set("protocol", protocol)
	q.Set("directPlay", "0")
	q.Set("directStream", "0")
	if params.Quality.BitrateKbps > 0 {
		q.Set("maxVideoBitrate", strconv.Itoa(params.Quality.BitrateKbps))
	}
	if params.Quality.MaxHeight > 0 {
		q.Set("videoResolution", strconv.Itoa(params.Quality.MaxHeight))
	}
	q.Set("X-Plex-Token", c.token)
	q.Set("X-Plex-Client-Identifier", c.clientID)

	return c.baseURL + "/video/:/transcode/universal/start" + ext + "?" + q.Encode()
}

// ReportTimeline implements Client.
func (c *HTTPClient) ReportTimeline(ctx context.Context, itemID string, snap models.ProgressSnapshot) error {
	q := url.Values{}
	q.Set("ratingKey", itemID)
	q.Set("key", "/library/metadata/"+itemID)
	q.Set("state", string(snap.State))
	q.Set("time", strconv.FormatInt(snap.PositionMs, 10))
	q.Set("duration", strconv.FormatInt(snap.DurationMs, 10))

	if err := c.get(ctx, "/:/timeline", q, false, nil); err != nil {
		return fmt.Errorf("report timeline: %w", err)
	}
	return nil
}

// StopTranscode implements Client.
func (c *HTTPClient) StopTranscode(ctx context.Context, sessionID string) error {
	q := url.Values{}
	q.Set("session", sessionID)

	if err := c.get(ctx, "/video/:/transcode/universal/stop", q, false, nil); err != nil {
		return fmt.Errorf("stop transcode session %s: %w", sessionID, err)
	}
	return nil
}
