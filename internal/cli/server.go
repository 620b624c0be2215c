package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"musiguess/internal/app"
	"musiguess/internal/config"
	"musiguess/internal/infra/itunes"
	"musiguess/internal/infra/memory"
	natsevents "musiguess/internal/infra/nats"
	"musiguess/internal/infra/postgres"
	redisstore "musiguess/internal/infra/redis"
	"musiguess/internal/monitoring"
	transport "musiguess/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	configureLogging(cfg)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, migrateUp); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	metrics := monitoring.New()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	roomTTL := config.TTLDuration(cfg.Redis.TTL, 2*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	catalog := itunes.NewClient(itunes.Config{
		BaseURL:           cfg.Catalog.BaseURL,
		Timeout:           config.TTLDuration(cfg.Catalog.Timeout, 10*time.Second),
		RequestsPerMinute: cfg.Catalog.RequestsPerMinute,
		AffiliateToken:    cfg.Catalog.AffiliateToken,
	}, metrics)

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, time.Hour)
	var tracks app.TrackRepository
	if redisClient != nil {
		tracks = redisstore.NewTrackRepository(redisClient, catalog, catalogTTL)
	} else {
		tracks = memory.NewTrackRepository(catalog, catalogTTL)
	}

	var rooms app.DocumentStore
	if redisClient != nil {
		rooms = redisstore.NewDocumentStore(redisClient, roomTTL)
	} else {
		rooms = memory.NewDocumentStore()
	}

	var (
		results      app.ResultRecorder
		resultReader transport.ResultReader
	)
	if pool != nil {
		store := postgres.NewResultStore(pool)
		results = store
		resultReader = store
	}

	var events app.EventPublisher
	if cfg.NATS.URL != "" {
		natsCfg := natsevents.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.SubjectPrefix = cfg.NATS.Subject
		publisher, err := natsevents.NewPublisher(natsCfg)
		if err != nil {
			return err
		}
		defer publisher.Close()
		events = publisher
	}

	service := app.NewGameService(rooms, tracks,
		app.WithArtistSearcher(catalog),
		app.WithEventPublisher(events),
		app.WithMetrics(metrics),
	)
	wsHandler := transport.NewWSHandler(service, app.CoordinatorDeps{
		Rooms:   rooms,
		Results: results,
		Events:  events,
		Metrics: metrics,
		Config: app.CoordinatorConfig{
			RoundSeconds:       cfg.Game.RoundSeconds,
			SuddenDeathSeconds: cfg.Game.SuddenDeathSeconds,
		},
	})

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(transport.NewAPI(service, resultReader), wsHandler, metrics),
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", finalPort).
			Bool("redis", redisClient != nil).
			Bool("postgres", pool != nil).
			Bool("nats", events != nil).
			Msg("starting musiguess server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
