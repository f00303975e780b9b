package mediaserver

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/flixor/flixor/internal/events"
)

// Notification payloads pushed by the server over its websocket endpoint.

type notificationWrapper struct {
	NotificationContainer notificationContainer `json:"NotificationContainer"`
}

type notificationContainer struct {
	Type                         string                  `json:"type"`
	PlaySessionStateNotification []playStateNotification `json:"PlaySessionStateNotification,omitempty"`
}

type playStateNotification struct {
	SessionKey       string `json:"sessionKey"`
	ClientIdentifier string `json:"clientIdentifier"`
	State            string `json:"state"`
	RatingKey        string `json:"ratingKey"`
	ViewOffset       int64  `json:"viewOffset"`
	TranscodeSession string `json:"transcodeSession,omitempty"`
}

// NotificationListener subscribes to the server's push channel and
// republishes play-state notifications on the event bus. Playback never
// depends on push; backend polling stays authoritative.
type NotificationListener struct {
	baseURL string
	token   string
	bus     events.Bus
	logger  hclog.Logger
	dial    func(ctx context.Context, url string) (*websocket.Conn, error)
}

// NewNotificationListener creates a listener for the given server.
func NewNotificationListener(baseURL, token string, bus events.Bus, logger hclog.Logger) *NotificationListener {
	return &NotificationListener{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		bus:     bus,
		logger:  logger,
		dial: func(ctx context.Context, wsURL string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
			return conn, err
		},
	}
}

func (l *NotificationListener) wsURL() string {
	wsBase := l.baseURL
	wsBase = strings.Replace(wsBase, "https://", "wss://", 1)
	wsBase = strings.Replace(wsBase, "http://", "ws://", 1)

	q := url.Values{}
	q.Set("X-Plex-Token", l.token)
	return wsBase + "/:/websockets/notifications?" + q.Encode()
}

// Run connects and reads until the context is cancelled, reconnecting with
// backoff on failure.
func (l *NotificationListener) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := l.dial(ctx, l.wsURL())
		if err != nil {
			l.logger.Warn("notification connect failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		l.logger.Debug("notification channel connected")

		l.readLoop(ctx, conn)
		conn.Close()
	}
}

func (l *NotificationListener) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Unblock ReadMessage when the context goes away.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Warn("notification channel closed", "error", err)
			}
			return
		}

		var wrapper notificationWrapper
		if err := json.Unmarshal(data, &wrapper); err != nil {
			l.logger.Debug("unparseable notification", "error", err)
			continue
		}
		if wrapper.NotificationContainer.Type != "playing" {
			continue
		}

		for _, n := range wrapper.NotificationContainer.PlaySessionStateNotification {
			l.bus.Publish(events.New(events.EventServerNotification, "mediaserver", map[string]any{
				"session_key":       n.SessionKey,
				"client_identifier": n.ClientIdentifier,
				"state":             n.State,
				"rating_key":        n.RatingKey,
				"view_offset_ms":    n.ViewOffset,
				"transcode_session": n.TranscodeSession,
			}))
		}
	}
}
