package playbackmodule

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/flixor/flixor/internal/config"
	"github.com/flixor/flixor/internal/events"
	"github.com/flixor/flixor/internal/mediaserver"
	"github.com/flixor/flixor/internal/models"
	"github.com/flixor/flixor/internal/scrobbler"
	"github.com/flixor/flixor/internal/store"
)

// Manager wires collaborators and builds playback sessions. Collaborators
// are injected, never reached through process globals, so tests can
// substitute fakes.
type Manager struct {
	cfg      *config.Config
	server   mediaserver.Client
	scrobble scrobbler.Service
	local    *store.Store // optional
	bus      events.Bus   // optional
	logger   hclog.Logger
}

// NewManager creates the session factory. scrobble may be nil to disable
// scrobbling; local and bus may be nil.
func NewManager(cfg *config.Config, server mediaserver.Client, scrobble scrobbler.Service, local *store.Store, bus events.Bus, logger hclog.Logger) *Manager {
	if scrobble == nil {
		scrobble = scrobbler.Nop{}
	}
	return &Manager{
		cfg:      cfg,
		server:   server,
		scrobble: scrobble,
		local:    local,
		bus:      bus,
		logger:   logger,
	}
}

// QualityOptions returns the ladder usable for the item's source.
func (m *Manager) QualityOptions(ctx context.Context, itemID string) ([]models.QualityProfile, error) {
	src, err := m.server.Metadata(ctx, itemID, false)
	if err != nil {
		return nil, err
	}
	return Ladder(src), nil
}

// NewSession prepares a session for the item on the given backend and
// starts it. qualityID selects a ladder profile; empty means original.
func (m *Manager) NewSession(ctx context.Context, itemID, qualityID string, backend Backend) (*Session, error) {
	if qualityID == "" {
		qualityID = models.QualityOriginal.ID
	}
	quality, ok := ProfileByID(qualityID)
	if !ok {
		return nil, fmt.Errorf("unknown quality profile %q", qualityID)
	}

	item, err := m.server.Item(ctx, itemID)
	if err != nil {
		return nil, err
	}

	markers, err := m.server.Markers(ctx, itemID)
	if err != nil {
		// Markers are an enhancement; playback proceeds without them.
		m.logger.Warn("marker fetch failed", "item", itemID, "error", err)
		markers = nil
	}

	sessionID := newSessionID()
	log := m.logger.Named("session").With("session_id", sessionID, "item", itemID)

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       sessionID,
		item:     *item,
		quality:  quality,
		cfg:      m.cfg.Playback,
		server:   m.server,
		backend:  backend,
		planner:  NewPlanner(urlBuilder(m.server), log.Named("planner")),
		resolver: NewResolver(m.server, m.local, log.Named("resolver")),
		reporter: NewProgressReporter(m.server, m.local, itemID, m.cfg.Playback, log.Named("progress")),
		scrobble: NewScrobbleSync(m.scrobble, scrobbleIDsFor(item), log.Named("scrobble")),
		markers:  NewMarkerEngine(markers),
		nextup:   NewNextUp(m.server, *item, log.Named("nextup")),
		local:    m.local,
		bus:      m.bus,
		recovery: NewRecovery(m.cfg.Playback.MaxDirectRetries, log.Named("recovery")),
		logger:   log,
		ctx:      sctx,
		cancel:   cancel,
		commands: make(chan command, 16),
		done:     make(chan struct{}),
		state:    models.PlayStateStopped,
	}

	if err := s.Start(ctx); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func urlBuilder(c mediaserver.Client) StreamURLBuilder { return c }

func scrobbleIDsFor(item *models.PlayableItem) scrobbler.IDs {
	return scrobbler.IDs{
		Kind:     item.Kind,
		External: item.External,
		Title:    item.Title,
		Season:   item.Season,
		Number:   item.Index,
	}
}
