package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/PoliTwit1984/kentrivia/internal/app"
	"github.com/PoliTwit1984/kentrivia/internal/config"
	"github.com/PoliTwit1984/kentrivia/internal/domain"
	"github.com/PoliTwit1984/kentrivia/internal/infra/memory"
	"github.com/PoliTwit1984/kentrivia/internal/infra/postgres"
	infraredis "github.com/PoliTwit1984/kentrivia/internal/infra/redis"
	"github.com/PoliTwit1984/kentrivia/internal/logging"
	transport "github.com/PoliTwit1984/kentrivia/internal/transport/http"
)

const shutdownTimeout = 5 * time.Second

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if portFlag != "" {
		cfg.Server.Port = portFlag
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, logger); err != nil {
			return err
		}
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	store := selectStore(pool, redisClient, config.TTLDuration(cfg.Redis.TTL, 24*time.Hour), logger)
	questions := selectQuestionSource(pool, redisClient, config.TTLDuration(cfg.Questions.TTL, 10*time.Minute))

	coord := app.NewCoordinator(store, app.Options{
		LiveDelay: config.TTLDuration(cfg.Session.LiveDelay, app.DefaultLiveDelay),
		Logger:    logger,
	})
	defer coord.Close()

	monitor := coord.NewMonitor(
		config.TTLDuration(cfg.Heartbeat.Interval, app.DefaultHeartbeatInterval),
		cfg.Heartbeat.TimeoutFactor,
	)
	api := transport.NewAPI(coord, questions, cfg.Questions.DefaultAmount, logger)
	ws := transport.NewWSHandler(coord, cfg.Session.SendBuffer, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           transport.NewRouter(api, ws),
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting trivia service", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// selectStore prefers Postgres, then Redis, then process memory.
func selectStore(pool *pgxpool.Pool, client *redis.Client, ttl time.Duration, logger *slog.Logger) app.Store {
	switch {
	case pool != nil:
		logger.Info("using postgres session store")
		return postgres.NewStore(pool)
	case client != nil:
		logger.Info("using redis session store", "ttl", ttl)
		return infraredis.NewStore(client, ttl)
	default:
		logger.Warn("no durable store configured, sessions live in memory only")
		return memory.NewStore()
	}
}

func selectQuestionSource(pool *pgxpool.Pool, client *redis.Client, ttl time.Duration) app.QuestionSource {
	var source app.QuestionSource = memory.NewStaticQuestionBank(sampleQuestions())
	if pool != nil {
		source = postgres.NewQuestionBank(pool)
	}
	if client != nil {
		return infraredis.NewQuestionCache(client, source, ttl)
	}
	return memory.NewCachedQuestionSource(source, ttl)
}

// sampleQuestions seeds the in-memory bank when no database is configured.
func sampleQuestions() map[string][]domain.Question {
	return map[string][]domain.Question{
		"general": {
			{ID: "gen-1", Content: "What is the capital of France?", CorrectAnswer: "Paris", IncorrectAnswers: []string{"Rome", "Madrid", "Berlin"}},
			{ID: "gen-2", Content: "How many continents are there?", CorrectAnswer: "7", IncorrectAnswers: []string{"5", "6", "8"}},
			{ID: "gen-3", Content: "Which planet is known as the Red Planet?", CorrectAnswer: "Mars", IncorrectAnswers: []string{"Venus", "Jupiter", "Mercury"}},
		},
		"science": {
			{ID: "sci-1", Content: "What is the chemical symbol for gold?", CorrectAnswer: "Au", IncorrectAnswers: []string{"Ag", "Gd", "Go"}, TimeLimit: 15},
			{ID: "sci-2", Content: "What gas do plants absorb?", CorrectAnswer: "Carbon dioxide", IncorrectAnswers: []string{"Oxygen", "Nitrogen", "Helium"}},
		},
	}
}
