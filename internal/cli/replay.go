package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aretw0/tendril"
	httpAdapter "github.com/aretw0/tendril/internal/adapters/http"
	"github.com/aretw0/tendril/internal/render"
	"github.com/aretw0/tendril/internal/replay"
	"github.com/aretw0/tendril/pkg/telemetry"
	"github.com/aretw0/tendril/pkg/tracestore"
	filestore "github.com/aretw0/tendril/pkg/tracestore/file"
	"github.com/aretw0/tendril/pkg/tracestore/memory"
	"github.com/aretw0/tendril/pkg/tracestore/middleware"
	redisstore "github.com/aretw0/tendril/pkg/tracestore/redis"
)

// ReplayOptions contains all the configuration for the replay command.
type ReplayOptions struct {
	ScriptPath      string
	ServiceName     string
	Endpoint        string
	Insecure        bool
	TracesExporter  string
	MetricsExporter string
	Sampler         string
	SamplerArg      string
	MetricsAddr     string
	RedisAddr       string
	StoreDir        string
	LogLevel        string
	Mermaid         bool
	Hold            bool
}

// Execute replays a scripted run against a fully wired observer, prints the
// resulting span tree and, when requested, keeps serving metrics afterwards.
func Execute(opts ReplayOptions) error {
	logger, err := createLogger(opts.LogLevel)
	if err != nil {
		return err
	}

	script, err := replay.Load(opts.ScriptPath)
	if err != nil {
		return err
	}

	// Mermaid output is made to be piped, so keep decoration off it.
	if !opts.Mermaid {
		render.PrintBanner(os.Stdout)
	}

	store, closeStore := setupTraceStore(opts, logger)
	defer closeStore()

	// The collector keeps spans in-process so the tree can be printed even
	// when they also go to a collector over OTLP.
	collector := render.NewCollector()
	obs := tendril.New(
		tendril.WithLogger(logger),
		tendril.WithTraceStore(store),
		tendril.WithSpanProcessor(collector),
	)

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	err = obs.Configure(sigCtx, telemetry.Options{
		ServiceName:     opts.ServiceName,
		Endpoint:        opts.Endpoint,
		Insecure:        opts.Insecure,
		TracesExporter:  opts.TracesExporter,
		MetricsExporter: opts.MetricsExporter,
		Sampler:         opts.Sampler,
		SamplerArg:      opts.SamplerArg,
	})
	if err != nil {
		return fmt.Errorf("failed to configure telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown reported errors", "error", err)
		}
	}()

	srv, serverErrors := startMetricsServer(opts.MetricsAddr, obs, logger)
	if srv != nil {
		defer stopMetricsServer(srv, logger)
	}

	player := replay.NewPlayer(obs.Events(), replay.WithLogger(logger))
	switch err := player.Play(sigCtx, script); {
	case errors.Is(err, replay.ErrAborted):
		printSystemMessage("Run %s aborted by script.", script.Run.ID)
	case errors.Is(err, context.Canceled):
		printSystemMessage("Run %s interrupted. Signal: %v", script.Run.ID, sigCtx.Signal())
	case err != nil:
		return err
	}

	fmt.Println()
	if opts.Mermaid {
		fmt.Print(render.Mermaid(collector.Spans()))
	} else if err := render.NewTree(os.Stdout).Render(collector.Spans()); err != nil {
		return err
	}
	fmt.Println()

	if ref, err := store.Load(context.Background(), script.Run.ID); err == nil {
		printSystemMessage("Run %s recorded as trace %s.", script.Run.ID, ref.TraceID)
	}

	if opts.Hold && srv != nil {
		printSystemMessage("Serving metrics on %s until interrupted.", opts.MetricsAddr)
		select {
		case err := <-serverErrors:
			return fmt.Errorf("metrics server failed: %w", err)
		case <-sigCtx.Done():
			printSystemMessage("Shutting down. Signal: %v", sigCtx.Signal())
		}
	}
	return nil
}

func setupTraceStore(opts ReplayOptions, logger *slog.Logger) (tracestore.Store, func()) {
	logged := middleware.NewLoggingMiddleware(logger)
	switch {
	case opts.RedisAddr != "":
		store := redisstore.New(opts.RedisAddr, "", 0)
		// The cache keeps repeat lookups off the network.
		return middleware.Wrap(store, logged, middleware.NewCacheMiddleware()), func() { _ = store.Close() }
	case opts.StoreDir != "":
		return middleware.Wrap(filestore.New(opts.StoreDir), logged), func() {}
	default:
		return middleware.Wrap(memory.NewStore(), logged), func() {}
	}
}

func startMetricsServer(addr string, obs *tendril.Observer, logger *slog.Logger) (*http.Server, <-chan error) {
	if addr == "" {
		return nil, nil
	}
	registry := obs.Registry()
	if registry == nil {
		logger.Warn("metrics address set but the prometheus exporter is not active, not serving", "addr", addr)
		return nil, nil
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: httpAdapter.NewHandler(strings.TrimSpace(tendril.Version), registry),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	return srv, serverErrors
}

func stopMetricsServer(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown did not complete, closing", "error", err)
		_ = srv.Close()
	}
}
