package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"llmtrayd/internal/config"
	"llmtrayd/internal/container"
	"llmtrayd/internal/dispatch"
	"llmtrayd/internal/httpapi"
	"llmtrayd/internal/probe"
	"llmtrayd/internal/registry"
	"llmtrayd/internal/supervisor"
)

func main() {
	// Flags with environment variable defaults
	defaultAddr := ":8080"
	if v := os.Getenv("LLMTRAYD_ADDR"); v != "" {
		defaultAddr = v
	}
	addr := flag.String("addr", defaultAddr, "HTTP listen address, e.g. :8080")
	configPath := flag.String("config", os.Getenv("LLMTRAYD_CONFIG"), "Path to config file (.yaml/.json/.toml)")
	statePath := flag.String("state", "", "Path to the persisted connection state file")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	var cfg config.Config
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger := zerolog.New(os.Stderr)
			logger.Fatal().Err(err).Str("path", *configPath).Msg("config load failed")
		}
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	cfg = cfg.FromEnv().WithDefaults()
	if flagPassed("addr") || cfg.Addr == "" {
		cfg.Addr = *addr
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var out io.Writer = os.Stderr
	if isatty.IsTerminal(os.Stderr.Fd()) {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	log := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	httpapi.SetLogger(log.With().Str("component", "http").Logger())

	store, err := registry.NewFileStore(cfg.StatePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StatePath).Msg("state store init failed")
	}
	reg := registry.Load(store, log.With().Str("component", "registry").Logger())

	containers := container.NewDocker(
		cfg.DockerBin,
		cfg.ComposeFile,
		time.Duration(cfg.ProbeTimeoutSeconds)*time.Second,
		log.With().Str("component", "container").Logger(),
	)
	prober := probe.New(
		containers,
		time.Duration(cfg.ProbeTimeoutSeconds)*time.Second,
		time.Duration(cfg.StartupGraceSeconds)*time.Second,
		log.With().Str("component", "probe").Logger(),
	)
	sup := supervisor.New(
		reg,
		prober,
		time.Duration(cfg.PollIntervalSeconds)*time.Second,
		nil,
		log.With().Str("component", "supervisor").Logger(),
	)
	disp := dispatch.New(
		reg,
		time.Duration(cfg.ChatTimeoutSeconds)*time.Second,
		log.With().Str("component", "dispatch").Logger(),
	)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)
	go sup.Run(baseCtx)

	mux := httpapi.NewMux(&httpapi.Server{
		Registry:    reg,
		Containers:  containers,
		Status:      sup,
		Chat:        disp,
		Probes:      prober,
		CORSEnabled: cfg.CORSEnabled,
		CORSOrigins: cfg.CORSOrigins,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("state", cfg.StatePath).Msg("llmtrayd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
}

func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}
