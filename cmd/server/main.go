package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/messaging"
	"github.com/rl1809/storefront/internal/adapter/metrics"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/logging"
	"github.com/rl1809/storefront/internal/port"
)

// store is what the server needs from a storage adapter.
type store interface {
	port.UnitOfWork
	port.OrderQueryRepository
	port.OutboxRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, "storefront")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	db, st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	m := metrics.New()
	opts := []service.Option{
		service.WithObserver(m),
		service.WithTimeout(cfg.PlacementTimeout),
	}

	// Idempotency keys
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		opts = append(opts, service.WithIdempotency(storage.NewRedisAdapter(rdb, cfg.IdempotencyTTL, cfg.PendingIdempotencyTTL())))
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Info("redis not configured, idempotency keys disabled")
	}

	orderService := service.NewOrderService(st, st, logger.Named("placement"), opts...)
	queryService := service.NewOrderQueryService(st, logger.Named("query"))

	// Outbox relay
	var wg sync.WaitGroup
	publisher, err := messaging.NewKafkaPublisher(messaging.ParseBrokers(cfg.KafkaBrokers), cfg.KafkaTopic)
	switch {
	case errors.Is(err, messaging.ErrDisabled):
		logger.Info("kafka not configured, outbox relay disabled")
	case err != nil:
		return fmt.Errorf("create kafka publisher: %w", err)
	default:
		defer publisher.Close()
		relay := service.NewEventRelay(st, publisher, m, logger.Named("relay"), cfg.RelayWorkers, cfg.RelayBatchSize)
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(ctx, cfg.RelayInterval)
		}()
		logger.Info("started outbox relay",
			zap.Int("workers", cfg.RelayWorkers),
			zap.String("topic", cfg.KafkaTopic),
		)
	}

	// gRPC server
	grpcServer := grpc.NewServer(grpc.MaxRecvMsgSize(handler.MaxRequestBytes))
	handler.RegisterCheckoutServer(grpcServer, handler.NewGRPCHandler(orderService, queryService, logger.Named("grpc")))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP server
	httpHandler := handler.NewHTTPHandler(orderService, queryService, logger.Named("http"))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewRouter(httpHandler, m, m.Handler(), logger.Named("http")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	cancel()
	wg.Wait()
	logger.Info("relay stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sql.DB, store, error) {
	if cfg.DBDriver == "memory" {
		mem := storage.NewMemoryAdapter()
		catalog, shoppers := storage.Rush(storage.RushPlan{
			BaseID:   1,
			Shoppers: 3,
			Quantity: 1,
			Price:    decimal.NewFromInt(25),
			Stock:    100,
			Balance:  decimal.NewFromInt(500),
		})
		if err := mem.Load(ctx, catalog); err != nil {
			return nil, nil, fmt.Errorf("seed memory store: %w", err)
		}
		for _, s := range shoppers {
			logger.Info("seeded demo shopper",
				zap.Int64("customer_id", s.CustomerID),
				zap.Int64("address_id", s.AddressID),
				zap.Int64("cart_item_id", s.CartItemID),
			)
		}
		return nil, mem, nil
	}

	dialect, err := storage.DialectFor(cfg.DBDriver)
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open(dialect.DriverName(), cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", dialect.Name(), err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping %s: %w", dialect.Name(), err)
	}
	logger.Info("connected to database", zap.String("dialect", dialect.Name()))

	adapter := storage.NewSQLAdapter(db, dialect)
	if cfg.DBMigrate {
		if err := adapter.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema applied")
	}
	return db, adapter, nil
}
