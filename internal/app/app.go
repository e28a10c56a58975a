package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/eventpass/internal/auth"
	"github.com/kirinyoku/eventpass/internal/config"
	"github.com/kirinyoku/eventpass/internal/payments"
	"github.com/kirinyoku/eventpass/internal/postgres"
	"github.com/kirinyoku/eventpass/internal/redis"
	postgresrepo "github.com/kirinyoku/eventpass/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/eventpass/internal/repository/redis"
	"github.com/kirinyoku/eventpass/internal/service"
	"github.com/kirinyoku/eventpass/internal/service/attendance"
	"github.com/kirinyoku/eventpass/internal/service/purchase"
	httpgin "github.com/kirinyoku/eventpass/internal/transport/http/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	paymentIntentLimit  = 10
	paymentIntentWindow = time.Minute
	idempotencyLockTTL  = 60 * time.Second
	idempotencyTTL      = 24 * time.Hour
	shutdownTimeout     = 10 * time.Second
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	rdb        *goredis.Client
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx := context.Background()

	pgxPool, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.Postgres.DSN(),
		MaxConns: cfg.Postgres.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redis.New(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		pgxPool.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.NewCache(rdb)
	pubsub := redisrepo.NewTicketsPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, paymentIntentLimit, paymentIntentWindow)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, idempotencyLockTTL, idempotencyTTL)

	// Services
	services := service.NewServices(store, cache, pubsub, logger, service.Config{
		Purchase: purchase.Config{StoreTimeout: cfg.Purchase.StoreTimeout},
		Attendance: attendance.Config{
			StoreTimeout: cfg.Purchase.StoreTimeout,
			Location:     cfg.Purchase.DisplayTimezone,
		},
	})

	gateway := payments.NewGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.Currency, cache)

	router := httpgin.NewRouter(httpgin.Deps{
		Purchases:   services.Purchases,
		Attendance:  services.Attendance,
		Events:      services.Events,
		Payments:    gateway,
		Idempotency: idempotencyStore,
		Limiter:     limiter,
		Verifier:    auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Audience),
	}, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		pool:   pgxPool,
		rdb:    rdb,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	// HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

func (a *App) close() {
	if err := a.rdb.Close(); err != nil {
		a.logger.Warn("failed to close redis", slog.String("error", err.Error()))
	}
	a.pool.Close()
}
