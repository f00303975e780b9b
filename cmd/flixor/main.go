// Command flixor is a headless playback client for a home media server:
// it picks a delivery mode for an item, drives a playback engine, reports
// progress and scrobbles, and offers marker skips and next-up advance.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/flixor/flixor/internal/config"
	"github.com/flixor/flixor/internal/events"
	"github.com/flixor/flixor/internal/logger"
	"github.com/flixor/flixor/internal/mediaserver"
	playback "github.com/flixor/flixor/internal/modules/playbackmodule"
	"github.com/flixor/flixor/internal/modules/playbackmodule/backend/cast"
	"github.com/flixor/flixor/internal/modules/playbackmodule/backend/mpv"
	"github.com/flixor/flixor/internal/scrobbler"
	"github.com/flixor/flixor/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file")
		itemID     = flag.String("item", "", "item to play (required)")
		qualityID  = flag.String("quality", "", "quality profile id, empty for original")
		backendID  = flag.String("backend", "", "playback backend: mpv or cast")
	)
	flag.Parse()

	if *itemID == "" {
		fmt.Fprintln(os.Stderr, "usage: flixor -item <id> [-quality <profile>] [-backend mpv|cast]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *backendID != "" {
		cfg.Playback.Backend = *backendID
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	config.Set(cfg)
	logger.SetLevel(cfg.LogLevel)
	log := logger.Root()

	if err := run(cfg, *itemID, *qualityID, log); err != nil {
		log.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, itemID, qualityID string, log hclog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(log.Named("events"))
	defer bus.Close()

	server := mediaserver.NewHTTPClient(cfg.Server.BaseURL, cfg.Server.Token, cfg.Server.Timeout, log.Named("mediaserver"))

	var scrobble scrobbler.Service = scrobbler.Nop{}
	if cfg.Scrobble.Enabled && cfg.Scrobble.BaseURL != "" {
		scrobble = scrobbler.NewTraktClient(
			cfg.Scrobble.BaseURL, cfg.Scrobble.Token, cfg.Scrobble.ClientID,
			time.Duration(cfg.Scrobble.TimeoutSecs)*time.Second,
			cfg.Scrobble.RatePerMin, log.Named("scrobbler"))
	}

	local, err := store.Open(cfg.Store.Path, log.Named("store"))
	if err != nil {
		return err
	}
	defer local.Close()

	listener := mediaserver.NewNotificationListener(cfg.Server.BaseURL, cfg.Server.Token, bus, log.Named("notifications"))
	go listener.Run(ctx)

	bus.Subscribe(func(ev events.Event) {
		switch ev.Type {
		case events.EventMarkerEntered:
			fmt.Printf("\n[%v marker, press k to skip]\n", ev.Data["type"])
		case events.EventNextUpTick:
			if title, ok := ev.Data["next_title"]; ok {
				fmt.Printf("\r[next: %v in %vs, n to cancel]", title, ev.Data["seconds"])
			}
		case events.EventPlaybackFallback:
			fmt.Printf("\n[falling back to transcode at %v]\n", ev.Data["quality"])
		}
	}, events.EventMarkerEntered, events.EventNextUpTick, events.EventPlaybackFallback)

	manager := playback.NewManager(cfg, server, scrobble, local, bus, log.Named("playback"))

	// One stdin reader for the whole process; sessions come and go under
	// it when auto-advance rolls to the next episode.
	lines := make(chan string)
	go readLines(lines)

	for {
		backend, err := buildBackend(ctx, cfg, log)
		if err != nil {
			return err
		}

		session, err := manager.NewSession(ctx, itemID, qualityID, backend)
		if err != nil {
			backend.Close()
			return err
		}

		if err := drive(ctx, session, lines); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		next := session.NextItem()
		if next == nil {
			return nil
		}
		fmt.Printf("\nadvancing to %s\n", next.Title)
		itemID = next.ID
	}
}

// drive runs one session to completion, feeding it console commands.
func drive(ctx context.Context, session *playback.Session, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			_ = session.Stop()
			<-session.Done()
			return nil
		case <-session.Done():
			return session.Err()
		case line, ok := <-lines:
			if !ok {
				_ = session.Stop()
				<-session.Done()
				return session.Err()
			}
			if err := dispatch(session, line); err != nil {
				if errors.Is(err, playback.ErrSessionClosed) {
					<-session.Done()
					return session.Err()
				}
				fmt.Fprintln(os.Stderr, "command failed:", err)
			}
		}
	}
}

func buildBackend(ctx context.Context, cfg *config.Config, log hclog.Logger) (playback.Backend, error) {
	switch cfg.Playback.Backend {
	case "cast":
		return cast.New(cfg.Playback.CastURL, log.Named("cast")), nil
	default:
		return mpv.Connect(ctx, cfg.Playback.MPVSocket, log.Named("mpv"))
	}
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func dispatch(session *playback.Session, line string) error {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "p":
		return session.Play()
	case "P":
		return session.Pause()
	case "s":
		if len(fields) > 1 {
			if secs, err := strconv.Atoi(fields[1]); err == nil {
				return session.Seek(int64(secs) * 1000)
			}
		}
		return nil
	case "q":
		if len(fields) > 1 {
			return session.SetQuality(fields[1])
		}
		return nil
	case "k":
		return session.Skip()
	case "n":
		return session.CancelNextUp()
	case "stop":
		return session.Stop()
	default:
		return nil
	}
}
