// Package server builds the application graph from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/topicstreams/internal/api"
	"github.com/JakeFAU/topicstreams/internal/archive"
	"github.com/JakeFAU/topicstreams/internal/clock/system"
	"github.com/JakeFAU/topicstreams/internal/config"
	"github.com/JakeFAU/topicstreams/internal/dedup"
	"github.com/JakeFAU/topicstreams/internal/fanout"
	collyfetcher "github.com/JakeFAU/topicstreams/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/topicstreams/internal/fetcher/headless"
	"github.com/JakeFAU/topicstreams/internal/fetcher/rss"
	"github.com/JakeFAU/topicstreams/internal/fetcher/static"
	"github.com/JakeFAU/topicstreams/internal/logging"
	"github.com/JakeFAU/topicstreams/internal/metrics"
	"github.com/JakeFAU/topicstreams/internal/news"
	"github.com/JakeFAU/topicstreams/internal/notifier"
	"github.com/JakeFAU/topicstreams/internal/policy/ratelimit"
	"github.com/JakeFAU/topicstreams/internal/registry"
	"github.com/JakeFAU/topicstreams/internal/relay"
	"github.com/JakeFAU/topicstreams/internal/relay/sinks"
	"github.com/JakeFAU/topicstreams/internal/scheduler"
	"github.com/JakeFAU/topicstreams/internal/service"
	gcsstorage "github.com/JakeFAU/topicstreams/internal/storage/gcs"
	localstorage "github.com/JakeFAU/topicstreams/internal/storage/local"
	memorystorage "github.com/JakeFAU/topicstreams/internal/storage/memory"
	pgstore "github.com/JakeFAU/topicstreams/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/topicstreams/internal/storage/sqlite"
)

const shutdownBudget = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	store     news.Store
	pgPool    *pgxpool.Pool
	ownsPool  bool
	redis     *redis.Client
	pubsub    *pubsub.Client
	gcs       *storage.Client
	fetcher   news.Fetcher
	closeFn   func()
	liveHub   *fanout.Hub
	relayHub  *relay.Hub
	scheduler *scheduler.Scheduler
	service   *service.Service
	apiServer *api.Server

	closeOnce sync.Once
}

// Build creates the application's dependencies. A nil logger is built from
// cfg.Logging and installed as the zap global.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger, err = logging.New(logging.Config{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
		})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	metrics.Init()
	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("fetcher", cfg.Fetcher.Backend),
		zap.String("dedup", cfg.Dedup.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.Bool("relay", cfg.Relay.Enabled),
	)

	if err = app.setupStore(ctx); err != nil {
		return nil, err
	}
	if err = app.setupRedis(ctx); err != nil {
		return nil, err
	}
	if err = app.setupFetcher(); err != nil {
		return nil, err
	}
	if err = app.setupRelay(ctx); err != nil {
		return nil, err
	}
	seen, err := app.setupDedup()
	if err != nil {
		return nil, err
	}
	archiver, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}

	app.liveHub = fanout.NewHub(fanout.Config{
		BufferSize:  cfg.Live.BufferSize,
		SendTimeout: cfg.Live.SendTimeout(),
		Logger:      logger.Named("fanout"),
	})
	topics := registry.New(app.store, app.clock, logger.Named("registry"))

	var emitter relay.Emitter
	if app.relayHub != nil {
		emitter = app.relayHub
	}
	deps := scheduler.Deps{
		Topics:   topics,
		Fetcher:  app.fetcher,
		Store:    app.store,
		Notifier: notifier.New(app.liveHub, emitter, app.clock, logger.Named("notifier")),
		Clock:    app.clock,
		Logger:   logger.Named("scheduler"),
	}
	if pacer := ratelimit.New(cfg.MinVisitGap()); pacer != nil {
		deps.Pacer = pacer
	}
	if seen != nil {
		deps.Seen = seen
	}
	if archiver != nil {
		deps.Archiver = archiver
	}
	app.scheduler, err = scheduler.New(scheduler.Config{
		Interval:     cfg.Interval(),
		MaxPages:     cfg.Scraper.MaxPages,
		FetchTimeout: cfg.FetchTimeout(),
		ShuffleSeed:  cfg.Scraper.ShuffleSeed,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	app.service = service.New(topics, app.store, app.liveHub, logger.Named("service"))
	opts := api.Options{
		Scheduler:      app.scheduler,
		RequestTimeout: cfg.RequestTimeout(),
		PingInterval:   cfg.Live.PingInterval(),
		Logger:         logger,
	}
	if pinger, ok := app.store.(news.Pinger); ok {
		opts.Ready = pinger
	}
	app.apiServer = api.NewServer(app.service, opts)
	return app, nil
}

// Handler exposes the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Service exposes the core operations.
func (a *App) Service() *service.Service {
	return a.service
}

// Scheduler exposes the scrape loop.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendMemory:
		a.logger.Info("using in-memory item store")
		a.store = memorystorage.NewStore(a.clock)
	case config.BackendPostgres:
		pool, err := a.postgresPool(ctx)
		if err != nil {
			return err
		}
		store, err := pgstore.NewStore(pool)
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using postgres item store")
	default:
		store, err := sqlitestore.New(ctx, a.cfg.Storage.SQLitePath, a.clock)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using sqlite item store", zap.String("path", a.cfg.Storage.SQLitePath))
	}
	return nil
}

// postgresPool opens the shared pool once, migrating first when configured.
// A pool handed to the postgres store is closed by the store.
func (a *App) postgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pgPool != nil {
		return a.pgPool, nil
	}
	if a.cfg.Database.Migrate {
		version, err := pgstore.Migrate(a.cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.logger.Info("postgres schema migrated", zap.Uint("version", version))
	}
	pool, err := pgstore.NewPool(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres pool init failed: %w", err)
	}
	a.pgPool = pool
	a.ownsPool = a.cfg.Storage.Backend != config.BackendPostgres
	return pool, nil
}

func (a *App) setupRedis(ctx context.Context) error {
	if a.cfg.Dedup.Backend != config.BackendRedis && !a.cfg.RelayUses(config.BackendRedis) {
		return nil
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	a.logger.Info("redis client initialized", zap.String("addr", a.cfg.Redis.Addr))
	return nil
}

func (a *App) setupFetcher() error {
	fc := a.cfg.Fetcher
	log := a.logger.Named("fetcher")
	switch fc.Backend {
	case config.BackendStatic:
		a.fetcher = static.New(static.Config{})
	case config.BackendRSS:
		f, err := rss.New(rss.Config{
			FeedURL:   fc.RSSURL,
			UserAgent: fc.UserAgent,
			Timeout:   a.cfg.FetchTimeout(),
		}, log)
		if err != nil {
			return fmt.Errorf("rss fetcher init failed: %w", err)
		}
		a.fetcher = f
	case config.BackendChromedp:
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			UserAgent:         fc.UserAgent,
			SearchURL:         fc.SearchURL,
			NavigationTimeout: time.Duration(fc.NavTimeoutSeconds) * time.Second,
			Selectors:         fc.Selectors,
		}, log)
		if err != nil {
			return fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.fetcher = f
		a.closeFn = f.Close
	default:
		f, err := collyfetcher.New(collyfetcher.Config{
			UserAgent:     fc.UserAgent,
			SearchURL:     fc.SearchURL,
			RespectRobots: fc.RespectRobots,
			Timeout:       a.cfg.FetchTimeout(),
			Selectors:     fc.Selectors,
		}, log)
		if err != nil {
			return fmt.Errorf("colly fetcher init failed: %w", err)
		}
		a.fetcher = f
	}
	a.logger.Info("fetcher initialized", zap.String("backend", fc.Backend))
	return nil
}

func (a *App) setupRelay(ctx context.Context) error {
	if !a.cfg.Relay.Enabled {
		a.logger.Info("relay disabled")
		return nil
	}
	var sinkList []relay.Sink
	for _, backend := range a.cfg.Relay.Backends {
		sink, err := a.relaySink(ctx, backend)
		if err != nil {
			for _, s := range sinkList {
				_ = s.Close(ctx)
			}
			return err
		}
		sinkList = append(sinkList, sink)
		a.logger.Debug("added relay sink", zap.String("backend", backend))
	}
	rc := a.cfg.Relay
	a.relayHub = relay.NewHub(relay.Config{
		BufferSize:     rc.BufferSize,
		MaxBatchEvents: rc.MaxEvents,
		MaxBatchWait:   rc.MaxWait(),
		SinkTimeout:    rc.SinkTimeout(),
		Logger:         a.logger.Named("relay"),
	}, sinkList...)
	a.logger.Info("relay hub initialized",
		zap.Strings("backends", rc.Backends),
		zap.Int("buffer_size", rc.BufferSize),
		zap.Int("max_batch_events", rc.MaxEvents),
		zap.Duration("max_batch_wait", rc.MaxWait()),
	)
	return nil
}

func (a *App) relaySink(ctx context.Context, backend string) (relay.Sink, error) {
	switch backend {
	case config.BackendPostgres:
		pool, err := a.postgresPool(ctx)
		if err != nil {
			return nil, err
		}
		sink, err := sinks.NewNotifySink(pool, a.cfg.Relay.PostgresChannel)
		if err != nil {
			return nil, fmt.Errorf("postgres relay init failed: %w", err)
		}
		return sink, nil
	case config.BackendRedis:
		sink, err := sinks.NewRedisSink(a.redis, a.cfg.Redis.Channel)
		if err != nil {
			return nil, fmt.Errorf("redis relay init failed: %w", err)
		}
		return sink, nil
	case config.BackendPubSub:
		if a.pubsub == nil {
			client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
			if err != nil {
				return nil, fmt.Errorf("pubsub client init failed: %w", err)
			}
			a.pubsub = client
		}
		sink, err := sinks.NewPubSubSink(a.pubsub.Publisher(a.cfg.PubSub.TopicName))
		if err != nil {
			return nil, fmt.Errorf("pubsub relay init failed: %w", err)
		}
		a.logger.Info("Pub/Sub relay initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
		return sink, nil
	default:
		return sinks.NewLogSink(a.logger.Named("relay_log")), nil
	}
}

func (a *App) setupDedup() (scheduler.SeenCache, error) {
	switch a.cfg.Dedup.Backend {
	case config.BackendMemory:
		return dedup.NewMemoryCache(a.cfg.Dedup.MaxEntries), nil
	case config.BackendRedis:
		backend, location, err := a.storeIdentity()
		if err != nil {
			return nil, fmt.Errorf("redis seen-cache init failed: %w", err)
		}
		prefix := dedup.ScopedPrefix(a.cfg.Redis.KeyPrefix, backend, location)
		cache, err := dedup.NewRedisCache(a.redis, prefix, a.cfg.Dedup.TTL())
		if err != nil {
			return nil, fmt.Errorf("redis seen-cache init failed: %w", err)
		}
		a.logger.Info("using redis seen-cache", zap.String("prefix", prefix))
		return cache, nil
	default:
		return nil, nil
	}
}

// storeIdentity names the durable store a shared seen-cache fronts. The
// in-memory store has no identity worth sharing.
func (a *App) storeIdentity() (string, string, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		return config.BackendPostgres, a.cfg.Database.DSN, nil
	case config.BackendMemory:
		return "", "", fmt.Errorf("storage backend %q cannot back a shared seen-cache", config.BackendMemory)
	default:
		path, err := filepath.Abs(a.cfg.Storage.SQLitePath)
		if err != nil {
			return "", "", fmt.Errorf("resolve sqlite path: %w", err)
		}
		return config.BackendSQLite, path, nil
	}
}

func (a *App) setupArchive(ctx context.Context) (*archive.Archiver, error) {
	ac := a.cfg.Archive
	var blobs archive.BlobStore
	switch ac.Backend {
	case config.BackendMemory:
		blobs = memorystorage.NewBlobStore()
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: ac.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		blobs = store
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcs = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: ac.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		blobs = store
	default:
		return nil, nil
	}
	a.logger.Info("archive initialized", zap.String("backend", ac.Backend), zap.String("prefix", ac.Prefix))
	arch, err := archive.New(blobs, ac.Prefix)
	if err != nil {
		return nil, fmt.Errorf("archive init failed: %w", err)
	}
	return arch, nil
}

// Run listens on the configured port and blocks until SIGINT, SIGTERM or
// ctx cancellation, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		_ = a.Close(context.Background())
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the scheduler and the HTTP server on ln until ctx is done.
// It always closes the App before returning.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() {
		a.logger.Info("scheduler started")
		a.scheduler.Run(ctx)
		a.logger.Info("scheduler stopped")
	})

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			cancel()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownBudget)
	defer done()

	// Live streams are hijacked connections, so Shutdown does not wait for
	// them; closing the fan-out ends them with a close frame.
	a.liveHub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close releases every resource. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		if a.liveHub != nil {
			a.liveHub.Close()
		}
		err = a.closeInfrastructure(ctx)
		if syncErr := a.logger.Sync(); syncErr != nil {
			a.logger.Debug("logger sync failed", zap.Error(syncErr))
		}
		a.logger.Info("shutdown complete")
	})
	return err
}

// closeInfrastructure drains the relay before the clients its sinks use.
func (a *App) closeInfrastructure(ctx context.Context) error {
	var errs []error
	if a.relayHub != nil {
		if err := a.relayHub.Close(ctx); err != nil {
			a.logger.Warn("relay hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.closeFn != nil {
		a.closeFn()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("item store close failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.pgPool != nil && a.ownsPool {
		a.pgPool.Close()
	}
	return errors.Join(errs...)
}
