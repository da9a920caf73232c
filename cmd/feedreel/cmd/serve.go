package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/feedreel/internal/cache"
	"github.com/jmylchreest/feedreel/internal/config"
	"github.com/jmylchreest/feedreel/internal/database"
	"github.com/jmylchreest/feedreel/internal/feed"
	"github.com/jmylchreest/feedreel/internal/fetch"
	internalhttp "github.com/jmylchreest/feedreel/internal/http"
	"github.com/jmylchreest/feedreel/internal/http/handlers"
	"github.com/jmylchreest/feedreel/internal/media"
	"github.com/jmylchreest/feedreel/internal/playback"
	"github.com/jmylchreest/feedreel/internal/player"
	"github.com/jmylchreest/feedreel/internal/position"
	"github.com/jmylchreest/feedreel/internal/progress"
	"github.com/jmylchreest/feedreel/internal/repository"
	"github.com/jmylchreest/feedreel/internal/scheduler"
	"github.com/jmylchreest/feedreel/internal/version"
	"github.com/jmylchreest/feedreel/pkg/httpclient"
)

const pruneRunTimeout = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the feedreel player and API",
	Long: `Start the feed player and its HTTP API.

The server provides:
- /api/v1/player for paging, drag gestures and session state
- /api/v1/progress for per-item fetch progress, with an SSE stream at /api/v1/progress/events
- /api/v1/positions for saved playback positions
- /health, /livez, /readyz and /metrics
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "feedreel.db", "Database DSN (sqlite file path by default)")
	serveCmd.Flags().String("media-dir", "", "Serve media from this directory instead of the HTTP source")
	serveCmd.Flags().Int("lookahead", 8, "Items to prefetch ahead of the current page")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("prefetch.lookahead", serveCmd.Flags().Lookup("lookahead"))
}

// application holds every long-lived component started by serve.
type application struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *database.DB
	client    *httpclient.Client
	resources *cache.ResourceCache
	fetcher   *fetch.Coordinator
	progress  *progress.Ledger
	positions *position.Ledger
	player    *player.Controller
	scheduler *scheduler.Scheduler
	server    *internalhttp.Server
}

func runServe(cmd *cobra.Command, _ []string) error {
	if dir, _ := cmd.Flags().GetString("media-dir"); dir != "" {
		viper.Set("source.kind", "directory")
		viper.Set("source.directory", dir)
	}

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer app.close()

	return app.run(ctx)
}

// newApplication opens the database and wires the player, its collaborators
// and the HTTP API. Nothing is started.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{cfg: cfg, logger: logger}

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	app.db = db
	if err := db.Migrate(ctx); err != nil {
		app.close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	positionRepo := repository.NewPositionRepository(db.DB)
	app.positions = position.NewLedger(cfg.Playback.PositionCapacity,
		position.WithStore(positionRepo),
		position.WithPolicy(position.Policy{
			MinOffset:    cfg.Playback.ResumeMinOffset,
			EndThreshold: cfg.Playback.ResumeEndThreshold,
		}),
		position.WithLogger(logger),
	)

	app.client = httpclient.New(httpclient.Config{
		Timeout:             cfg.Source.Timeout,
		RetryAttempts:       cfg.Source.RetryAttempts,
		RetryDelay:          cfg.Source.RetryDelay,
		RetryMaxDelay:       httpclient.DefaultRetryMaxDelay,
		BackoffMultiplier:   httpclient.DefaultBackoffMultiplier,
		CircuitThreshold:    cfg.Source.CircuitThreshold,
		CircuitTimeout:      cfg.Source.CircuitTimeout,
		UserAgent:           version.UserAgent(),
		BearerToken:         cfg.Source.AuthToken,
		Logger:              logger,
		EnableDecompression: true,
		MaxResponseSize:     cfg.Source.MaxResourceBytes,
	})

	source, err := newMediaSource(cfg.Source, app.client, logger)
	if err != nil {
		app.close()
		return nil, err
	}

	app.resources = cache.NewResourceCache(cfg.Cache.ResourceCapacity, logger)
	previews, err := cache.NewPreviewCache(cfg.Cache.PreviewCapacity)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("creating preview cache: %w", err)
	}
	app.progress = progress.NewLedger(cfg.Prefetch.ProgressCapacity, logger)

	app.fetcher = fetch.NewCoordinator(source, app.resources, previews, app.progress, fetch.Config{
		MaxConcurrent: cfg.Prefetch.MaxConcurrent,
		Backoff:       cfg.Prefetch.TransientBackoff,
		PreviewSize:   image.Pt(cfg.Cache.PreviewEdge, cfg.Cache.PreviewEdge),
		Logger:        logger,
	})

	composer, err := feed.New(cfg.Feed, app.client)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("creating feed composer: %w", err)
	}

	app.player = player.New(player.Config{
		RenderedSlots:     cfg.Playback.RenderedSlots,
		PageSize:          cfg.Feed.PageSize,
		Lookahead:         cfg.Prefetch.Lookahead,
		Lookbehind:        cfg.Prefetch.Lookbehind,
		Overscroll:        cfg.Paging.Overscroll,
		LoadMoreThreshold: cfg.Paging.LoadMoreThreshold,
		AwaitTimeout:      cfg.Playback.AwaitTimeout,
		DirectTimeout:     cfg.Playback.DirectFetchTimeout,
		Logger:            logger,
	}, player.Deps{
		Composer:  composer,
		Fetcher:   app.fetcher,
		Progress:  app.progress,
		Positions: app.positions,
		Registry:  playback.NewExclusivityRegistry(logger),
		NewEngine: playback.NewClockEngineFactory(),
	})

	if cfg.Playback.PruneScheduleEnable {
		app.scheduler = scheduler.NewScheduler(positionRepo, scheduler.Config{
			Schedule:   cfg.Playback.PruneSchedule,
			Retention:  cfg.Playback.PositionRetention,
			RunTimeout: pruneRunTimeout,
		}).WithLogger(logger)
	}

	app.server = internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		EnableMetrics:   cfg.Server.EnableMetrics,
	}, logger, version.Version)
	app.registerHandlers()

	return app, nil
}

func newMediaSource(cfg config.SourceConfig, client *httpclient.Client, logger *slog.Logger) (media.Source, error) {
	switch cfg.Kind {
	case "directory":
		src, err := media.NewDirectorySource(cfg.Directory, cfg.MaxResourceBytes)
		if err != nil {
			return nil, fmt.Errorf("creating directory source: %w", err)
		}
		return src.WithDefaultDuration(cfg.DefaultDuration), nil
	case "http":
		src, err := media.NewHTTPSource(cfg.BaseURL, client)
		if err != nil {
			return nil, fmt.Errorf("creating http source: %w", err)
		}
		return src.WithLogger(logger), nil
	default:
		return nil, fmt.Errorf("unsupported source kind: %s", cfg.Kind)
	}
}

func (a *application) registerHandlers() {
	api := a.server.API()

	health := handlers.NewHealthHandler(version.Version).WithDB(a.db.DB)
	if a.cfg.Source.Kind == "http" {
		health.WithCircuit(a.client)
	}
	if a.scheduler != nil {
		health.WithScheduler(a.scheduler)
	}
	health.Register(api)

	handlers.NewPlayerHandler(a.player).Register(api)

	progressHandler := handlers.NewProgressHandler(a.progress)
	progressHandler.Register(api)
	progressHandler.RegisterSSE(a.server.Router())

	handlers.NewPositionHandler(a.positions).Register(api)
}

// run starts the player, the prune scheduler and the HTTP server, and blocks
// until ctx is cancelled or one of them fails.
func (a *application) run(ctx context.Context) error {
	a.player.Start()

	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("starting prune scheduler: %w", err)
		}
	}

	a.logger.Info("starting feedreel",
		slog.String("address", a.cfg.Server.Address()),
		slog.String("source", a.cfg.Source.Kind),
		slog.String("feed", a.cfg.Feed.Kind),
		slog.String("version", version.Version),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// close stops components in reverse dependency order. Safe on a partially
// built application.
func (a *application) close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.player != nil {
		a.player.Stop()
	}
	if a.fetcher != nil {
		a.fetcher.Close()
	}
	if a.resources != nil {
		a.resources.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
}
