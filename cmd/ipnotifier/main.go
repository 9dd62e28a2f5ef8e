package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cl3t4p/ip-notifier/internal/admin"
	"github.com/cl3t4p/ip-notifier/internal/blacklist"
	"github.com/cl3t4p/ip-notifier/internal/config"
	"github.com/cl3t4p/ip-notifier/internal/notifier"
	"github.com/cl3t4p/ip-notifier/internal/resolver"
	"github.com/cl3t4p/ip-notifier/internal/store"
	"github.com/cl3t4p/ip-notifier/internal/store/file"
	"github.com/cl3t4p/ip-notifier/internal/store/postgres"
	redisstore "github.com/cl3t4p/ip-notifier/internal/store/redis"
	"github.com/cl3t4p/ip-notifier/internal/tracing"
	"github.com/cl3t4p/ip-notifier/internal/watcher"
	"golang.org/x/sync/errgroup"
)

const serviceName = "ip-notifier"

func main() {
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = config.DefaultPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		if msg, ok := startupMessage(err, configPath); ok {
			fmt.Println(msg)
			os.Exit(0)
		}
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stdout, cfg.Log.SlogLevel())
	slog.SetDefault(logger)

	logger.Info("starting ip-notifier",
		"config", configPath,
		"lookup_url", cfg.Lookup.URL,
		"wait_seconds", cfg.Lookup.WaitSeconds,
		"blacklist_words", len(cfg.Lookup.BlacklistWords),
		"state_backend", cfg.State.Backend,
		"health_port", cfg.Server.HealthPort,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry tracing
	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: serviceName,
		Endpoint:    tracingEndpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	addrStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open state store", "backend", cfg.State.Backend, "error", err)
		os.Exit(1)
	}
	defer addrStore.Close()

	template := notifier.NewTemplateFile(cfg.Webhook.TemplateFile)
	if _, err := template.Load(); err != nil {
		logger.Error("failed to prepare notification template", "path", template.Path(), "error", err)
		os.Exit(1)
	}

	w := watcher.New(
		watcher.Config{
			LookupURL:    cfg.Lookup.URL,
			Interval:     cfg.Interval(),
			Bootstrap:    cfg.BootstrapBackoff(),
			StoreBackend: cfg.State.Backend,
		},
		resolver.New(cfg.RequestTimeout(),
			resolver.WithLogger(logger),
			resolver.WithStrictStatus(cfg.Lookup.StrictStatus),
		),
		notifier.NewWebhookNotifier(cfg.Webhook.URL, template, cfg.RequestTimeout()),
		addrStore,
		blacklist.NewFilter(cfg.Lookup.BlacklistWords, logger),
		logger,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Run(gCtx)
	})

	if cfg.Server.HealthPort > 0 {
		statusServer := admin.NewServer(w, logger)
		g.Go(func() error {
			return statusServer.ListenAndServe(gCtx, cfg.Server.HealthPort)
		})
	}

	// Signal handler
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ip-notifier exited with error", "error", err)
		// Deferred cleanup does not run past os.Exit.
		addrStore.Close()
		os.Exit(1)
	}

	logger.Info("ip-notifier shut down gracefully", "last_known_address", w.LastKnown())
}

func newLogger(out io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

// startupMessage maps the config errors that end a run cleanly to the text
// shown to the operator.
func startupMessage(err error, configPath string) (string, bool) {
	switch {
	case errors.Is(err, config.ErrConfigCreated):
		return fmt.Sprintf("Created %s. Set the webhook URL and start again.", configPath), true
	case errors.Is(err, config.ErrWebhookMissing):
		return fmt.Sprintf("The webhook URL is empty. Set \"webhook\" in %s or WEBHOOK_URL.", configPath), true
	}
	return "", false
}

func openStore(ctx context.Context, cfg *config.Config) (store.AddressStore, error) {
	switch cfg.State.Backend {
	case store.BackendFile:
		return file.New(cfg.State.File), nil
	case store.BackendRedis:
		s, err := redisstore.New(cfg.State.RedisURL, cfg.State.RedisKey)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return s, nil
	case store.BackendPostgres:
		db, err := postgres.New(postgres.Config{URL: cfg.State.DBURL})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return postgres.NewAddressRepo(db), nil
	}
	return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
}
