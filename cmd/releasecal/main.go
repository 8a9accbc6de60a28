package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/voyagen/releasecal/internal/auth"
	"github.com/voyagen/releasecal/internal/cache"
	"github.com/voyagen/releasecal/internal/config"
	"github.com/voyagen/releasecal/internal/logger"
	"github.com/voyagen/releasecal/internal/metrics"
	"github.com/voyagen/releasecal/internal/server"
	"github.com/voyagen/releasecal/internal/service"
	"github.com/voyagen/releasecal/internal/store"
	"github.com/voyagen/releasecal/internal/tmdb"
)

func main() {
	configPath := flag.String("config", "", "Optional config file path (YAML); else use env DATABASE_URL")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("releasecal stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Persistent store.
	var appStore store.Store
	if cfg.UseMemoryStore() {
		log.Warn().Msg("using in-memory store, data is lost on exit")
		appStore = store.NewMemory()
	} else {
		version, err := store.RunMigrations(cfg.DatabaseURL, "file://"+migrationsDir())
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info().Uint("version", version).Msg("schema migrated")

		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		defer pg.Close()
		appStore = pg
	}

	// Redis enables caching, the cross-process sync lock and the refresh queue.
	var (
		locker service.Locker
		queue  *cache.Queue
	)
	if cfg.RedisURL != "" {
		rds, err := cache.New(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rds.Close()
		if err := rds.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		appStore = store.NewCachedStore(appStore, rds, log)
		locker = cache.NewChannelLocker(rds, cfg.SyncTimeout+30*time.Second)
		queue = cache.NewQueue(rds, cache.DefaultQueue)
		log.Info().Msg("redis connected (caching, sync lock and refresh queue enabled)")
	} else {
		log.Info().Msg("redis disabled (REDIS_URL not set)")
	}

	if cfg.TMDBToken == "" {
		log.Warn().Msg("TMDB_API_READ_ACCESS_TOKEN not set, provider requests will be rejected")
	}
	client := tmdb.NewClient(tmdb.Config{
		BaseURL:           cfg.TMDBBaseURL,
		Token:             cfg.TMDBToken,
		Timeout:           cfg.TMDBTimeout,
		RequestsPerSecond: cfg.TMDBRateLimit,
	}, log, m)

	syncer := service.NewSynchronizer(appStore, client, log, service.SyncOptions{
		Timeout: cfg.SyncTimeout,
		Locker:  locker,
		Metrics: m,
	})
	groups := service.NewGroupManager(appStore, syncer, cfg.StaleAfter, log)

	deps := server.Deps{
		Store:    appStore,
		Channels: syncer,
		Groups:   groups,
		Search:   client,
		Gatherer: reg,
		Log:      log,
	}
	if cfg.AuthJWTSecret != "" {
		verifier, err := auth.NewVerifier([]byte(cfg.AuthJWTSecret))
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		deps.Auth = verifier
	} else {
		log.Warn().Msg("AUTH_JWT_SECRET not set, all /api/me routes will answer 401")
	}

	if queue != nil {
		deps.Queue = queue
		worker := service.NewRefreshWorker(queue, appStore, syncer, log, m)
		go worker.Run(ctx)
	}

	return server.New(cfg, deps).ListenAndServe(ctx)
}

// migrationsDir finds the migrations directory next to the working directory or
// the executable.
func migrationsDir() string {
	abs, err := filepath.Abs("migrations")
	if err != nil {
		abs = "migrations"
	}
	if _, err := os.Stat(abs); err != nil {
		if exe, e := os.Executable(); e == nil {
			abs = filepath.Join(filepath.Dir(exe), "migrations")
		}
	}
	return filepath.ToSlash(abs)
}
