// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"image-studio/internal/clock"
	"image-studio/internal/config"
	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/adapter"
	"image-studio/internal/domain/ports/repository"
	"image-studio/internal/infra/adapters/imagegen"
	pg "image-studio/internal/infra/db/postgres"
	"image-studio/internal/infra/db/sqlite"
	"image-studio/internal/infra/logging"
	"image-studio/internal/infra/metrics"
	"image-studio/internal/infra/relay"
	"image-studio/internal/infra/security"
	"image-studio/internal/infra/settings"
	"image-studio/internal/infra/web"
	"image-studio/internal/usecase"
)

// set via -ldflags
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML or TOML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (fake providers, console logs, unredacted keys)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Image store ----
	images, closeStore, err := openImageStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("image store")
	}
	defer closeStore()

	// ---- Settings ----
	var encSvc *security.EncryptionService
	if cfg.Security.EncryptionKey != "" {
		encSvc, err = security.NewEncryptionService(cfg.Security.EncryptionKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("encryption")
		}
	} else {
		logger.Warn().Msg("security.encryption_key not set; api keys are stored in plain text")
	}
	settingsRepo := settings.NewFileStore(cfg.Settings.Path, encSvc, logger)

	// ---- Provider adapters ----
	replicateAdapter := imagegen.NewReplicateAdapter(
		cfg.Providers.Replicate.RelayBase,
		cfg.Providers.HTTPTimeout,
		cfg.Providers.Replicate.PollInterval,
		logger,
	)
	provider := buildProvider(cfg, replicateAdapter, logger)

	// ---- Use cases ----
	settingsUC, err := usecase.NewSettingsUseCase(settingsRepo, replicateAdapter, cfg.Env, logger, cfg.Runtime.Dev)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Settings.Path).Msg("settings")
	}
	clk := clock.NewClock()
	gallery := usecase.NewGalleryState(usecase.NewHandleRegistry(usecase.DefaultBlobPrefix))
	genUC := usecase.NewGenerationUseCase(settingsUC, images, provider, gallery, clk, cfg.Retry, logger)
	if err := genUC.LoadGallery(ctx); err != nil {
		// the web layer retries on first gallery request
		logger.Error().Err(err).Msg("initial gallery load failed")
	}

	// ---- HTTP ----
	relayHandler, err := relay.New("/proxy/replicate", cfg.Providers.Replicate.Upstream, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("replicate relay")
	}
	srv := web.NewServer(ctx, genUC, settingsUC, relayHandler, cfg.Server.APIKey, clk, logger)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Str("public_url", cfg.Server.PublicURL).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}

func openImageStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (repository.ImageRepository, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := pg.NewPgxPool(ctx, cfg.Store.PostgresURL, cfg.Store.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		repo := pg.NewPostgresImageRepo(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		go pg.ReportPoolStats(ctx, pool, 15*time.Second)
		logger.Info().Str("driver", "postgres").Msg("image store ready")
		return repo, pool.Close, nil
	default:
		repo, err := sqlite.NewSQLiteImageRepo(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("driver", "sqlite").Str("path", cfg.Store.SQLitePath).Msg("image store ready")
		return repo, func() { _ = repo.Close() }, nil
	}
}

// buildProvider wires one adapter per provider behind a concurrency limit.
// Dev mode swaps every provider for the local gradient renderer.
func buildProvider(cfg *config.Config, replicate *imagegen.ReplicateAdapter, logger *zerolog.Logger) adapter.ImageProvider {
	byProvider := map[model.Provider]adapter.ImageProvider{
		model.ProviderGoogle:    imagegen.NewGeminiAdapter(cfg.Providers.Google.BaseURL, logger),
		model.ProviderReplicate: replicate,
		model.ProviderOpenAI:    imagegen.NewOpenAIAdapter(cfg.Providers.OpenAI.BaseURL, cfg.Providers.HTTPTimeout, logger),
	}
	if cfg.Runtime.Dev {
		noop := imagegen.NewNoopImageAdapter(logger)
		for p := range byProvider {
			byProvider[p] = noop
		}
	}
	for p, a := range byProvider {
		byProvider[p] = imagegen.NewLimitedProvider(a, cfg.Providers.ConcurrentLimit)
	}
	return imagegen.NewMultiImageAdapter(byProvider)
}
