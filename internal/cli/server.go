package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quizroom-service/internal/app"
	"quizroom-service/internal/auth"
	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	pgloader "quizroom-service/internal/infra/postgres"
	redisstore "quizroom-service/internal/infra/redis"
	transport "quizroom-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Auth.Secret == "" {
		return errors.New("auth secret not configured")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, logger); err != nil {
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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { err = multierr.Append(err, redisClient.Close()) }()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.BankLoader = memory.NewStaticBankLoader(sampleBanks())
	if pool != nil {
		loader = pgloader.NewBankLoader(pool)
	}

	bankTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var banks app.BankRepository
	if redisClient != nil {
		banks = redisstore.NewBankRepository(redisClient, loader, bankTTL)
	} else {
		banks = memory.NewBankRepository(loader, bankTTL)
	}

	var rooms app.RoomRepository
	if redisClient != nil {
		rooms = redisstore.NewRoomStore(redisClient, redisTTL)
	} else {
		rooms = memory.NewRoomStore()
	}

	service := app.NewRoomService(rooms, banks, logger, app.Options{
		GracePeriod:    config.TTLDuration(cfg.Room.GracePeriod, time.Minute),
		MaxPlayers:     cfg.Room.MaxPlayers,
		AnswerDeadline: config.TTLDuration(cfg.Room.AnswerDeadline, 0),
	})
	wsHandler := transport.NewWSHandler(service, auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer), logger, transport.Options{
		CookieName:     cfg.Auth.CookieName,
		OutboxSize:     config.IntOr(cfg.Room.OutboxSize, 64),
		AllowedOrigins: cfg.Auth.AllowedOrigins,
	})

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(wsHandler),
		ReadTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting quiz room service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// sampleBanks seeds a demo room when no Postgres is configured.
func sampleBanks() map[string]domain.QuizBank {
	return map[string]domain.QuizBank{
		"demo": {
			ID:          "demo",
			Name:        "Warm-up",
			MaxQuestion: 3,
			Quizzes: []domain.BankEntry{
				{ID: "q1", Prompt: json.RawMessage(`{"text":"What is 2 + 2?","choices":["3","4","5"]}`), Answer: json.RawMessage(`"4"`)},
				{ID: "q2", Prompt: json.RawMessage(`{"text":"Capital of France?"}`), Answer: json.RawMessage(`"Paris"`)},
				{ID: "q3", Prompt: json.RawMessage(`{"text":"How many sides has a hexagon?"}`), Answer: json.RawMessage(`6`)},
			},
		},
	}
}
