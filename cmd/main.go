/**
 * @description
 * This is the main entry point for the dispatch-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, external API clients, message brokers, repositories,
 * the core application service, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/payprocessor: Client for the card processor gateway.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/groomnet/dispatch-service/internal/api"
	"github.com/groomnet/dispatch-service/internal/app"
	"github.com/groomnet/dispatch-service/internal/config"
	"github.com/groomnet/dispatch-service/internal/domain"
	"github.com/groomnet/dispatch-service/internal/store"
	"github.com/groomnet/dispatch-service/pkg/payprocessor"
	gnrabbit "github.com/groomnet/dispatch-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting dispatch-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish dispatch events.
	var producer gnrabbit.Publisher
	rabbitProducer, err := gnrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &gnrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the card processor client. Missing processor config should
	// not prevent the service from booting; card capture will degrade.
	var processor app.CardProcessor
	if strings.TrimSpace(cfg.ProcessorAPIBaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"card processor not configured; card operations disabled\" env=PROCESSOR_API_BASE_URL")
	} else {
		processor = payprocessor.NewClient(cfg.ProcessorAPIBaseURL, cfg.ProcessorAPIKey)
	}

	// Redis holds agent presence; without it no agent can appear online.
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"redis url must be configured\" env=REDIS_URL")
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"redis url parse failed\" err=%v", err)
	}
	redisClient := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"redis ping failed\" err=%v", pingErr)
	}
	defer redisClient.Close()
	log.Println("level=info component=bootstrap msg=\"redis connected\"")

	presence := app.NewRedisPresenceStore(
		redisClient,
		cfg.RedisPresencePrefix,
		time.Duration(cfg.PresenceTTLSeconds)*time.Second,
	)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	dispatchService := app.NewService(repository, processor, producer, presence, app.Options{
		DispatchWindow:     time.Duration(cfg.DispatchWindowSeconds) * time.Second,
		ScheduleBuffer:     time.Duration(cfg.ScheduleBufferMinutes) * time.Minute,
		FinePercent:        cfg.CancellationFinePct,
		PlatformFeePercent: cfg.PlatformFeePercent,
	})
	defer dispatchService.Watchdog().Stop()

	// The cron sweeper backstops bookings whose in-process timer was lost to
	// a restart.
	sweeper := app.NewSweeper(
		dispatchService,
		slog.New(slog.NewTextHandler(os.Stdout, nil)),
		time.Duration(cfg.DispatchWindowSeconds)*time.Second,
	)
	sweeper.Start(cfg.SweepSchedule)
	defer sweeper.Stop()

	// Wire up the inbound event consumer.
	dispatchConsumer := app.NewDispatchConsumer(dispatchService)
	rabbitConsumer, err := gnrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	consumeCtx, stopConsuming := context.WithCancel(context.Background())
	defer stopConsuming()
	if err := rabbitConsumer.ConsumeWithBindings(consumeCtx, domain.EventsExchange, cfg.DispatchEventQueue, dispatchConsumer.Bindings()); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"dispatch consumer start failed\" err=%v", err)
	}

	// Initialize the API handlers and router.
	dispatchHandlers := api.NewDispatchHandlers(dispatchService)
	router := chi.NewRouter()
	router.Mount("/dispatch", api.DispatchRoutes(dispatchHandlers, cfg.JWTSecret))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
