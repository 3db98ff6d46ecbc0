package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/samaelod/duoclock/config"
	"github.com/samaelod/duoclock/engine"
	"github.com/samaelod/duoclock/feed"
	"github.com/samaelod/duoclock/tui"
	"github.com/samaelod/duoclock/types"
)

var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "", "config file (JSON or YAML)")
		connect     = flag.String("connect", "", "mirror the clock behind this serial bridge address")
		device      = flag.String("device", "", "mirror the clock on this serial device")
		emulate     = flag.String("emulate", "", "replay a Lua script or packet capture as a clock")
		listen      = flag.String("listen", "", "emulator listen address when the script names none")
		headless    = flag.Bool("headless", false, "run without the terminal UI")
		showVersion = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("duoclock", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "duoclock:", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.ListenAddress = *listen
	}

	opts := engine.OptionsFromConfig(cfg, sessionLogPath(cfg.LogsDir))
	if *headless {
		opts.Output = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	eng := engine.NewEngine(opts)
	log.Logger = eng.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	closeFeed := startFeed(ctx, cfg, eng)

	if *headless {
		err = runHeadless(ctx, eng, cfg, *connect, *device, *emulate)
	} else {
		err = tui.Run(tui.Options{
			Version: version,
			Config:  cfg,
			Engine:  eng,
			Connect: *connect,
			Device:  *device,
			Script:  *emulate,
		})
	}

	stop()
	closeFeed()
	eng.Close()

	if err != nil {
		fmt.Fprintln(os.Stderr, "duoclock:", err)
		os.Exit(1)
	}
}

// sessionLogPath names a fresh log file per run. An empty dir disables
// the file.
func sessionLogPath(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "duoclock-"+time.Now().Format("20060102-150405")+".log")
}

// startFeed publishes the engine's mirrored clock to the configured
// spectator outlets and returns their cleanup.
func startFeed(ctx context.Context, cfg *config.Config, eng *engine.Engine) func() {
	var (
		pubs    []feed.Publisher
		closers []func()
	)

	if cfg.Feed.ListenAddress != "" {
		hub := feed.NewHub(feed.DefaultHubConfig())
		mux := http.NewServeMux()
		mux.Handle(cfg.Feed.Path, hub)
		srv := &http.Server{
			Addr:              cfg.Feed.ListenAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Info().Str("address", srv.Addr).Str("path", cfg.Feed.Path).Msg("spectator feed listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("spectator feed stopped")
			}
		}()

		pubs = append(pubs, hub)
		closers = append(closers, func() {
			hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Feed.NATSURL != "" {
		natsCfg := feed.DefaultNATSConfig()
		natsCfg.URL = cfg.Feed.NATSURL
		natsCfg.Subject = cfg.Feed.Subject
		if p, err := feed.NewNATSPublisher(natsCfg); err != nil {
			log.Warn().Err(err).Msg("NATS feed disabled")
		} else {
			pubs = append(pubs, p)
			closers = append(closers, func() { p.Close() })
		}
	}

	if len(pubs) == 0 {
		return func() {}
	}

	feedCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		feed.Run(feedCtx, eng, time.Duration(cfg.Feed.IntervalMs)*time.Millisecond, pubs...)
	}()

	return func() {
		cancel()
		<-done
		for _, c := range closers {
			c()
		}
	}
}

// runHeadless serves and/or mirrors without a terminal UI until the mirror
// ends or a signal arrives.
func runHeadless(ctx context.Context, eng *engine.Engine, cfg *config.Config, connect, device, script string) error {
	if script == "" && connect == "" && device == "" {
		return errors.New("headless mode needs -emulate, -connect or -device")
	}

	if script != "" {
		s, err := engine.LoadScript(script)
		if err != nil {
			return err
		}
		addr := s.Globals.Address
		if addr == "" {
			addr = cfg.ListenAddress
		}
		if _, err := eng.Serve(addr, *s); err != nil {
			return err
		}
	}

	switch {
	case device != "":
		if err := eng.OpenDevice(device); err != nil {
			return err
		}
	case connect != "":
		if err := eng.Dial(connect); err != nil {
			return err
		}
	default:
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	reported := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		snap := eng.Snapshot()
		if snap.HasLoser && !reported {
			reported = true
			log.Info().
				Stringer("loser", snap.Loser).
				Dur("remaining_a", snap.RemainingA).
				Dur("remaining_b", snap.RemainingB).
				Msg("game over")
		}

		switch eng.Status() {
		case types.StatusCompleted:
			return nil
		case types.StatusError:
			return eng.Err()
		}
	}
}
