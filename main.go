package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vimeo/dials"
	"github.com/vimeo/dials/sources/env"
	"github.com/vimeo/dials/sources/flag"

	"github.com/soundux/soundux-routing/audio"
	"github.com/soundux/soundux-routing/events"
	"github.com/soundux/soundux-routing/instance"
	"github.com/soundux/soundux-routing/logging"
)

type Config struct {
	LogLevel    string        `dialsdesc:"Log level (trace, debug, info, warn, error)"`
	MetricsAddr string        `dialsdesc:"Serve prometheus metrics on this address (empty disables)"`
	LockTimeout time.Duration `dialsdesc:"How long to wait for another instance to exit"`
	Audio       *audio.Config
}

func defaultConfig() *Config {
	return &Config{
		LogLevel:    "info",
		MetricsAddr: "",
		LockTimeout: 2 * time.Second,
		Audio:       audio.DefaultConfig(),
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	mainCtx, mainCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer mainCancel()

	config := defaultConfig()
	flagSrc, err := flag.NewCmdLineSet(flag.DefaultFlagNameConfig(), config)
	if err != nil {
		panic(err)
	}
	d, err := dials.Config(mainCtx, config, &env.Source{}, flagSrc)
	if err != nil {
		panic(err)
	}
	config = d.View()

	logging.Configure(os.Stderr, config.LogLevel)
	logger := logging.GetSubsystemLogger("main")

	lockPath, err := instance.DefaultPath(config.Audio.ApplicationName)
	if err != nil {
		logger.Error().Err(err).Msg("cannot locate runtime directory")
		return 1
	}
	lockCtx, lockCancel := context.WithTimeout(mainCtx, config.LockTimeout)
	lock, err := instance.Acquire(lockCtx, lockPath)
	lockCancel()
	if err != nil {
		logger.Error().Err(err).Msg("routing is already running")
		return 1
	}
	defer lock.Release()
	logger.Debug().Str("path", lock.Path()).Msg("instance lock held")

	if config.MetricsAddr != "" {
		go serveMetrics(mainCtx, config.MetricsAddr)
	}

	eventBus := events.NewBus()
	go logEvents(eventBus.Subscribe(100))

	conn, err := audio.Connect(mainCtx, config.Audio, eventBus)
	if err != nil {
		logger.Error().Err(err).Msg("sound routing unavailable")
		return 1
	}
	defer conn.Close()

	ctrl := audio.NewController(conn, eventBus)
	if err := ctrl.SetupContext(mainCtx); err != nil {
		logger.Error().Err(err).Msg("failed to set up virtual devices")
		return 1
	}

	console := NewConsole(ctrl, os.Stdin, os.Stdout)
	console.Run(mainCtx)

	// Teardown must run even though mainCtx may already be cancelled.
	ctrl.DestroyContext(context.Background())
	return 0
}

func serveMetrics(ctx context.Context, addr string) {
	logger := logging.GetSubsystemLogger("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn().Err(err).Msg("metrics server stopped")
	}
}

func logEvents(ch chan events.Event) {
	logger := logging.GetSubsystemLogger("events")
	for event := range ch {
		switch e := event.(type) {
		case events.LeftoverRemoved:
			logger.Debug().Uint32("module", e.ModuleIndex).Msg("left over module removed")
		case events.DevicesCreated:
			logger.Debug().Interface("modules", e.Modules).Msg("devices created")
		case events.DevicesRemoved:
			logger.Debug().Int("failures", e.Failures).Msg("devices removed")
		case events.PassthroughChanged:
			logger.Info().Bool("active", e.Active).Str("app", e.Target.Name).Msg("passthrough changed")
		case events.SoundInputChanged:
			logger.Info().Bool("active", e.Active).Str("app", e.Target.Name).Msg("sound input changed")
		case events.ConnectionLost:
			logger.Error().Err(e.Err).Msg("sound server went away; routing disabled")
		}
	}
}
