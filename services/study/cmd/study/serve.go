package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"studydeck/internal/metrics"
	"studydeck/internal/ratelimit"
	"studydeck/internal/util"
	"studydeck/pkg/storage"
	"studydeck/pkg/store"
	"studydeck/services/study/internal/app"
	"studydeck/services/study/internal/config"
	"studydeck/services/study/internal/server"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.FileConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := util.InitLogger(cfg.LogLevel)

	var redisClient *redis.Client
	if cfg.SessionStore == config.StoreRedis {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	sessions, err := newSessionStore(cfg, redisClient)
	if err != nil {
		return fmt.Errorf("failed to init session store: %w", err)
	}

	generator, err := app.NewGenerator(app.GeneratorConfig{
		Provider:           cfg.AIProvider,
		Model:              cfg.GenerationModel,
		WorkersAIAccountID: cfg.WorkersAIAccountID,
		WorkersAIAPIToken:  cfg.WorkersAIAPIToken,
		WorkersAIBaseURL:   cfg.WorkersAIBaseURL,
		OpenAIBaseURL:      cfg.OpenAIBaseURL,
		OpenAIAPIKey:       cfg.OpenAIAPIKey,
		GeminiAPIKey:       cfg.GeminiAPIKey,
		OllamaBaseURL:      cfg.OllamaBaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to init generator: %w", err)
	}

	var archive storage.ObjectStore
	if cfg.MinioEnabled() {
		minioStore, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return fmt.Errorf("failed to init object storage: %w", err)
		}
		archive = minioStore
	}

	m := metrics.New()
	appCore, err := app.New(app.Config{
		Sessions:             sessions,
		Generator:            generator,
		Archive:              archive,
		Extractor:            app.NewPDFExtractor(cfg.PDFToTextCommand),
		Metrics:              m,
		MaxUploadBytes:       int64(cfg.MaxUploadMB) << 20,
		MaxPromptRunes:       cfg.MaxPromptRunes,
		ResetContentOnUpload: cfg.ResetsContentOnUpload(),
	})
	if err != nil {
		return fmt.Errorf("failed to init app: %w", err)
	}
	defer appCore.Close()

	limiter, err := newLimiter(cfg, redisClient)
	if err != nil {
		return fmt.Errorf("failed to init rate limiter: %w", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("failed to parse trusted proxies: %w", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		Metrics:        m,
		Limiter:        limiter,
		TrustedProxies: trusted,
		AllowedOrigins: cfg.AllowedOrigins,
		CookieSecure:   cfg.CookieSecure,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "store", cfg.SessionStore, "provider", cfg.AIProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newSessionStore(cfg config.FileConfig, redisClient *redis.Client) (*store.SessionStore, error) {
	opts := store.Options{TTL: time.Duration(cfg.SessionTTLHours) * time.Hour}
	switch cfg.SessionStore {
	case config.StoreRedis:
		return store.NewRedisSessionStoreWithClient(redisClient, cfg.RedisPrefix, opts), nil
	case config.StorePostgres:
		return store.NewGormSessionStore(cfg.DatabaseURL, opts)
	default:
		return store.NewMemorySessionStore(opts), nil
	}
}

// newLimiter shares counters through Redis when sessions live there.
func newLimiter(cfg config.FileConfig, redisClient *redis.Client) (*ratelimit.FixedWindowLimiter, error) {
	if cfg.RateLimitPerMinute <= 0 {
		return nil, nil
	}
	if redisClient != nil {
		return ratelimit.NewRedisFixedWindowLimiter(redisClient, "studydeck:ratelimit", cfg.RateLimitPerMinute, time.Minute)
	}
	return ratelimit.NewMemoryFixedWindowLimiter(cfg.RateLimitPerMinute, time.Minute)
}
