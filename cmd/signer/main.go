package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Kinto/kinto-signer/pkg/auditlog"
	"github.com/Kinto/kinto-signer/pkg/bootstrap"
	"github.com/Kinto/kinto-signer/pkg/cache"
	"github.com/Kinto/kinto-signer/pkg/capabilities"
	"github.com/Kinto/kinto-signer/pkg/config"
	"github.com/Kinto/kinto-signer/pkg/events"
	"github.com/Kinto/kinto-signer/pkg/hostadapter"
	"github.com/Kinto/kinto-signer/pkg/observability"
	"github.com/Kinto/kinto-signer/pkg/recordschema"
	"github.com/Kinto/kinto-signer/pkg/registry"
	"github.com/Kinto/kinto-signer/pkg/resourcemap"
	"github.com/Kinto/kinto-signer/pkg/store"
	"github.com/Kinto/kinto-signer/pkg/updater"
)

const httpShutdownTimeout = 10 * time.Second

// Dispatcher, grounded on cmd/helm/main.go's Run(args, stdout, stderr) int shape.
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) >= 2 {
		switch args[1] {
		case "help", "--help", "-h":
			printUsage(stdout)
			return 0
		case "health":
			return runHealthCmd(stdout, stderr)
		}
	}
	return runServer(stdout, stderr)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "kinto-signer")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  signer           Run the signing engine's demo HTTP host (default)")
	fmt.Fprintln(w, "  signer health    Check a running instance's /__heartbeat__ endpoint")
	fmt.Fprintln(w, "  signer help      Show this help")
}

func runHealthCmd(out, errOut io.Writer) int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8888"
	}
	resp, err := http.Get("http://localhost:" + port + "/__heartbeat__")
	if err != nil {
		fmt.Fprintf(errOut, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(out, "OK")
	return 0
}

//nolint:gocyclo
func runServer(stdout, stderr io.Writer) int {
	ctx := context.Background()
	cfg := config.Load()

	logLevel := slog.LevelInfo
	_ = logLevel.UnmarshalText([]byte(cfg.LogLevel))
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if cfg.SettingsFile == "" {
		fmt.Fprintln(stderr, "SIGNER_SETTINGS_FILE is required")
		return 2
	}
	settings, err := config.LoadSettingsFile(cfg.SettingsFile)
	if err != nil {
		logger.Error("failed to load settings", "error", err)
		return 1
	}

	resourcesRaw := settings["signer.resources"]
	if resourcesRaw == "" {
		fmt.Fprintln(stderr, "settings file is missing signer.resources")
		return 2
	}
	resources, err := resourcemap.Parse(resourcesRaw)
	if err != nil {
		logger.Error("failed to parse signer.resources", "error", err)
		return 1
	}
	for _, r := range resources.All() {
		if err := resourcemap.ResolveSettings(r, settings); err != nil {
			logger.Error("failed to resolve resource settings", "resource", r.Source.URI(), "error", err)
			return 1
		}
	}

	keyLocations, remoteCredentials := config.ResolveSignerConfig(resources, settings)
	signers, err := registry.Build(resources, keyLocations, remoteCredentials)
	if err != nil {
		logger.Error("failed to build signer registry", "error", err)
		return 1
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	backend, err := store.NewPostgresStore(ctx, db)
	if err != nil {
		logger.Error("failed to migrate storage", "error", err)
		return 1
	}

	orchestrator := events.New(resources, signers, backend, backend)
	orchestrator.CacheInvalidator = buildCacheInvalidator(ctx, cfg, settings, logger)

	provisioner := bootstrap.New(backend, backend)
	for _, r := range resources.All() {
		if err := provisioner.BootstrapSource(ctx, r, "system", true); err != nil {
			logger.Error("failed to bootstrap resource", "resource", r.Source.URI(), "error", err)
			return 1
		}
	}

	descriptor, err := capabilities.Build(resources, "content-signing", cfg.CapabilityURL, cfg.CapabilityVersion,
		false, false, "editors", "reviewers")
	if err != nil {
		logger.Error("failed to build capability descriptor", "error", err)
		return 1
	}

	validator, err := recordschema.New()
	if err != nil {
		logger.Error("failed to compile record schemas", "error", err)
		return 1
	}

	sink := eventSink{logger: logger}

	srv := &hostadapter.Server{
		Orchestrator: orchestrator,
		Storage:      backend,
		Signers:      signers,
		Sink:         sink,
		Descriptor:   descriptor,
		Validator:    validator,
		Audit:        auditlog.New(logger),
	}
	extractor := hostadapter.NewPrincipalExtractor([]byte(cfg.JWTSecret))

	obs, err := observability.New(ctx, observability.DefaultConfig())
	if err != nil {
		logger.Error("failed to init observability", "error", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(ctx) }()

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Handler(extractor),
	}

	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, httpShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return 1
	}
	return 0
}

// eventSink publishes review events as structured logs; a real host would
// forward these onto its own event bus (Kinto's case: Pyramid's notify()).
type eventSink struct {
	logger *slog.Logger
}

func (s eventSink) Publish(ctx context.Context, e events.ReviewEvent) error {
	s.logger.InfoContext(ctx, "review event",
		"bucket", e.Payload.BucketID, "collection", e.Payload.CollectionID)
	return nil
}

// buildCacheInvalidator wires the configured cache backend, if any. Cache
// invalidation is best-effort (§7): a misconfigured or unreachable backend
// must never fail the signing transaction, so errors are swallowed inside
// the invalidator itself. This returns nil when no backend is configured
// and when the CloudFront client fails to initialize.
func buildCacheInvalidator(ctx context.Context, cfg *config.Config, settings resourcemap.Settings, logger *slog.Logger) updater.CacheInvalidator {
	switch cfg.CacheBackend {
	case "cloudfront":
		distributionID := settings["signer.cache.cloudfront_distribution_id"]
		inv, err := cache.NewCloudFrontInvalidator(ctx, distributionID, nil)
		if err != nil {
			logger.Error("failed to init cloudfront invalidator", "error", err)
			return nil
		}
		inv.Logger = logger
		return inv
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return cache.NewRedisInvalidator(client, "signer-cache-invalidation", nil)
	default:
		return nil
	}
}
