package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/rl1809/pharma-dispatch/internal/adapter/handler"
	"github.com/rl1809/pharma-dispatch/internal/adapter/storage"
	"github.com/rl1809/pharma-dispatch/internal/config"
	"github.com/rl1809/pharma-dispatch/internal/core/domain"
	"github.com/rl1809/pharma-dispatch/internal/core/rules"
	"github.com/rl1809/pharma-dispatch/internal/core/service"
	"github.com/rl1809/pharma-dispatch/internal/port"
	"github.com/rl1809/pharma-dispatch/internal/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, cfg.ServiceName)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}

	// Initialize database
	db, store := openStore(ctx, cfg)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate %s: %v", cfg.DBDriver, err)
	}
	log.Printf("connected to %s", cfg.DBDriver)

	logger := log.New(os.Stderr, "inventory: ", log.LstdFlags)
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMaxRetries(cfg.MaxTxRetries),
	}

	// Initialize Redis
	var (
		rdb       *redis.Client
		publisher port.EventPublisher
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: cfg.RedisPoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		log.Println("connected to redis")

		redisAdapter := storage.NewRedisAdapter(rdb)
		opts = append(opts, service.WithCache(redisAdapter))
		publisher = redisAdapter
	} else {
		log.Println("redis disabled: no request idempotency, notifications are only logged")
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("failed to load timezone: %v", err)
	}

	// Initialize service
	inventory := service.NewInventoryService(store, rules.Default().WithLocation(loc), cfg.QueueSize, opts...)

	// Start worker pool
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(id, inventory.GetEventQueue(), publisher)
		}(i)
	}
	log.Printf("started %d workers", cfg.WorkerCount)

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	handler.RegisterDispatchServiceServer(grpcServer, handler.NewGRPCHandler(inventory))

	// Start gRPC server
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}

	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(inventory, []byte(cfg.JWTSecret))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	// Stop HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Println("HTTP server stopped")

	// Stop gRPC server
	grpcServer.GracefulStop()
	log.Println("gRPC server stopped")

	// Close notification queue and wait for workers
	inventory.Close()
	wg.Wait()
	log.Println("workers stopped")

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown error: %v", err)
	}

	// Close connections
	if rdb != nil {
		rdb.Close()
	}
	db.Close()
	log.Println("connections closed")
}

func openStore(ctx context.Context, cfg config.Config) (*sql.DB, *storage.SQLStore) {
	if cfg.DBDriver == config.DriverSQLite {
		db, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open sqlite: %v", err)
		}
		return db, storage.NewSQLiteStore(db)
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	return db, storage.NewMySQLStore(db)
}

// workerLoop publishes committed notifications. A failed publish is logged
// and dropped; the stock change it describes is already durable.
func workerLoop(id int, queue <-chan domain.Notification, publisher port.EventPublisher) {
	for n := range queue {
		if publisher == nil {
			log.Printf("worker %d: %s %s", id, n.Type, n.ID)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if err := publisher.Publish(ctx, n); err != nil {
			log.Printf("worker %d: failed to publish %s %s: %v", id, n.Type, n.ID, err)
		}

		cancel()
	}
}
