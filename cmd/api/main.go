package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	goredis "github.com/redis/go-redis/v9"

	rediscache "github.com/srgjo27/escrow_ledger/internal/adapter/cache/redis"
	"github.com/srgjo27/escrow_ledger/internal/adapter/gateway/omisegw"
	"github.com/srgjo27/escrow_ledger/internal/adapter/handler"
	"github.com/srgjo27/escrow_ledger/internal/adapter/messaging/rabbitmq"
	"github.com/srgjo27/escrow_ledger/internal/adapter/repository/postgres"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
	"github.com/srgjo27/escrow_ledger/internal/core/services"
	"github.com/srgjo27/escrow_ledger/internal/platform/clock"
	"github.com/srgjo27/escrow_ledger/internal/platform/config"
	"github.com/srgjo27/escrow_ledger/internal/platform/database"
	"github.com/srgjo27/escrow_ledger/internal/platform/logger"
	"github.com/srgjo27/escrow_ledger/internal/platform/signature"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := cfg.ValidateServer(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresDB(ctx, database.Config{
		URL:      cfg.DB.URL,
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		DBName:   cfg.DB.Name,
		SSLMode:  cfg.DB.SSLMode,
	}, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := database.Migrate(ctx, db, log); err != nil {
		return err
	}

	store := postgres.NewStore(db)

	var cache ports.IdempotencyCache
	if cfg.Redis.Addr != "" {
		log.Info("connecting to redis", "addr", cfg.Redis.Addr)
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		cache = rediscache.NewIdempotencyCache(rdb)
		log.Info("redis connected")
	} else {
		log.Warn("REDIS_ADDR not set, webhook dedup relies on the database only")
	}

	var pub ports.EventPublisher
	if cfg.Rabbit.URL != "" {
		rp, err := rabbitmq.NewPublisher(cfg.Rabbit.URL, cfg.Rabbit.Exchange)
		if err != nil {
			return err
		}
		defer rp.Close()
		pub = rp
	} else {
		log.Warn("RABBIT_URL not set, domain events are logged only")
		pub = rabbitmq.NewLogPublisher(log)
	}

	var provider ports.PayoutProvider
	if cfg.Omise.SecretKey != "" {
		tc, err := omisegw.NewTransferClient(cfg.Omise.PublicKey, cfg.Omise.SecretKey)
		if err != nil {
			return err
		}
		provider = tc
	} else {
		log.Warn("OMISE_SECRET_KEY not set, payouts stay PENDING until a provider is configured")
	}

	var nr *newrelic.Application
	if cfg.NewRelicLicenseKey != "" {
		nr, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelicAppName),
			newrelic.ConfigLicense(cfg.NewRelicLicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
		)
		if err != nil {
			return err
		}
		defer nr.Shutdown(10 * time.Second)
	}

	clk := clock.Real()

	payouts := services.NewPayoutService(store, provider, pub, clk, log, services.PayoutOptions{
		RetryInterval: cfg.PayoutRetryInterval,
		BatchSize:     cfg.SweepBatchSize,
	})
	bookings := services.NewBookingService(store, payouts, pub, clk, log, services.BookingOptions{
		PlatformFeeBps:   cfg.PlatformFeeBps,
		AutoConfirmAfter: cfg.AutoConfirmAfter,
	})
	webhooks := services.NewWebhookService(store, cache, pub, clk, log, cfg.IdempotencyTTL)
	sweep := services.NewSweepService(store, payouts, pub, clk, log, nr, services.SweepOptions{
		Interval:  cfg.SweepInterval,
		BatchSize: cfg.SweepBatchSize,
	})
	recon := services.NewReconciliationService(postgres.NewLedgerRepository(db), log)

	router := handler.NewRouter(
		handler.RouterConfig{JWTSecret: cfg.JWTSecret, NewRelic: nr, Log: log},
		handler.NewBookingHandler(bookings, log),
		handler.NewAdminHandler(payouts, recon, log),
		handler.NewWebhookHandler(
			webhooks,
			signature.NewVerifier(cfg.Webhooks.GatewaySecret),
			signature.NewVerifier(cfg.Webhooks.PayoutSecret),
			log,
		),
	)

	go sweep.Run(ctx)
	go payouts.Run(ctx)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info("server exiting")
	return nil
}
