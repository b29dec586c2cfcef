// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ggbundi/Nomatoken/config"
	"github.com/ggbundi/Nomatoken/internal/events"
	"github.com/ggbundi/Nomatoken/internal/handler"
	"github.com/ggbundi/Nomatoken/internal/notifier"
	"github.com/ggbundi/Nomatoken/internal/provider/mpesa"
	"github.com/ggbundi/Nomatoken/internal/provider/pricefeed"
	"github.com/ggbundi/Nomatoken/internal/ratelimit"
	"github.com/ggbundi/Nomatoken/internal/repository"
	"github.com/ggbundi/Nomatoken/internal/router"
	"github.com/ggbundi/Nomatoken/internal/tracing"
	"github.com/ggbundi/Nomatoken/internal/usecase"
	"github.com/ggbundi/Nomatoken/internal/validation"
	"github.com/ggbundi/Nomatoken/pkg/security"
)

const limiterSweepInterval = time.Minute

func main() {
	_ = godotenv.Load()

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting payment service")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger.Info("configuration loaded",
		zap.String("environment", cfg.Server.Env),
		zap.String("mpesa_environment", cfg.Mpesa.Environment),
		zap.String("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, logger)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	var (
		payments  repository.PaymentStatusRepository
		purchases repository.PurchaseRepository
		dbPool    *pgxpool.Pool
	)
	if cfg.Database.Enabled() {
		dbPool, err = connectDatabase(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer dbPool.Close()

		if err := repository.Migrate(ctx, dbPool); err != nil {
			logger.Fatal("failed to apply migrations", zap.Error(err))
		}
		logger.Info("connected to database", zap.String("database", cfg.Database.DBName))

		payments = repository.NewPaymentStatusRepository(dbPool)
		purchases = repository.NewPurchaseRepository(dbPool)
	} else {
		logger.Warn("no database configured, payment state is kept in memory")
		payments = repository.NewMemoryPaymentStatusRepo()
		purchases = repository.NewMemoryPurchaseRepo()
	}

	var (
		redisClient *redis.Client
		sweepers    []*ratelimit.MemoryLimiter
	)
	newLimiter := func(p ratelimit.Policy) ratelimit.Limiter {
		if redisClient != nil {
			return ratelimit.NewRedisLimiter(redisClient, p)
		}
		l := ratelimit.NewMemoryLimiter(p)
		sweepers = append(sweepers, l)
		return l
	}
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		logger.Info("rate limits backed by redis", zap.String("addr", cfg.Redis.Addr))
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled() {
		publisher = events.NewKafkaPublisher(cfg.Kafka, logger)
		logger.Info("publishing payment events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
	}
	defer publisher.Close()

	// Initialize providers
	gateway := mpesa.NewClient(cfg.Mpesa, logger)
	hub := notifier.NewHub()

	// Initialize usecases
	paymentUC := usecase.NewPaymentUsecase(cfg.Mpesa, gateway, payments, publisher, hub, logger)
	if err := paymentUC.CheckConfig(); err != nil {
		logger.Warn("M-Pesa is not fully configured, payment initiation will be refused", zap.Error(err))
	}
	if cfg.Mpesa.CallbackSecret == "" {
		logger.Warn("MPESA_CALLBACK_SECRET not set, callbacks are accepted without verification")
	}
	callbackUC := usecase.NewCallbackUsecase(cfg.Mpesa.CallbackSecret, payments, publisher, hub, logger)
	purchaseUC := usecase.NewPurchaseUsecase(payments, purchases, publisher, cfg.Token.Price, logger)
	expiry := usecase.NewExpiryWorker(cfg.Session, cfg.Mpesa, gateway, payments, publisher, hub, logger)
	prices := usecase.NewPriceService(cfg.Pricing.CacheTTL, logger,
		pricefeed.NewCoinGecko(cfg.Pricing.CoinGeckoURL),
		pricefeed.NewBinance(cfg.Pricing.BinanceURL),
		pricefeed.NewStatic(),
	)

	// Initialize handlers
	bounds := validation.Bounds{Min: cfg.Token.MinPurchase, Max: cfg.Token.MaxPurchase}
	gate := func(p ratelimit.Policy, fallback string) handler.RateGate {
		return handler.NewRateGate(p, newLimiter(p), fallback)
	}
	statusGate := gate(ratelimit.StatusPolicy, "unknown")
	handlers := router.Handlers{
		Payment:  handler.NewPaymentHandler(paymentUC, bounds, gate(ratelimit.InitiatePolicy, "unknown"), statusGate, logger),
		Callback: handler.NewCallbackHandler(callbackUC, gate(ratelimit.CallbackPolicy, "safaricom"), logger),
		Purchase: handler.NewPurchaseHandler(purchaseUC, bounds, gate(ratelimit.PurchasePolicy, "unknown"), logger),
		Price:    handler.NewPriceHandler(prices, cfg.Token.Price),
		Stream:   handler.NewStreamHandler(paymentUC, hub, statusGate, cfg.Server.AllowedOrigins, logger),
	}

	var tokens *security.ServiceTokens
	if cfg.Auth.ServiceTokenSecret != "" {
		tokens = security.NewServiceTokens(cfg.Auth.ServiceTokenSecret, cfg.Auth.Issuer)
	} else {
		logger.Warn("SERVICE_TOKEN_SECRET not set, administrative status updates are disabled")
	}

	r := router.SetupRoutes(handlers, router.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ServiceTokens:  tokens,
		Ready: func(req *http.Request) error {
			if dbPool != nil {
				if err := dbPool.Ping(req.Context()); err != nil {
					return fmt.Errorf("database: %w", err)
				}
			}
			if redisClient != nil {
				if err := redisClient.Ping(req.Context()).Err(); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
			}
			return nil
		},
	}, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return expiry.Run(gctx)
	})
	for _, l := range sweepers {
		g.Go(func() error {
			return l.Run(gctx, limiterSweepInterval)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", zap.Error(err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("payment service exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
