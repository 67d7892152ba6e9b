/**
 * @description
 * This is the main entry point for the analytics-service. It wires configuration, the
 * PostgreSQL store, Redis rate limiting, the RabbitMQ producer and reset-event consumer,
 * the assessment scheduler and the HTTP API, then serves until a termination signal.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Upload rate limiting.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/analytics-service/internal/analysis"
	"github.com/transfa/analytics-service/internal/api"
	"github.com/transfa/analytics-service/internal/app"
	"github.com/transfa/analytics-service/internal/config"
	"github.com/transfa/analytics-service/internal/ingest"
	"github.com/transfa/analytics-service/internal/store"
	"github.com/transfa/analytics-service/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found, using environment variables\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.AnalystJWTSecret) == "" {
		log.Println("level=warn component=bootstrap msg=\"analyst jwt secret missing; analyst endpoints will reject every request\" env=ANALYST_JWT_SECRET")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	log.Printf("level=info component=bootstrap msg=\"starting analytics-service\" port=%s", cfg.ServerPort)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
	err = store.Migrate(migrateCtx, dbpool)
	cancelMigrate()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{}
	if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.EventsExchange); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; fraud alerts disabled\" err=%v", err)
	} else {
		defer producer.Close()
		publisher = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	var limiter app.RateLimiter
	if redisClient := connectRedis(cfg.RedisURL); redisClient != nil {
		defer redisClient.Close()
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix, app.UploadRateLimitScope, cfg.UploadRateLimitPerMinute, time.Minute)
	}

	service := app.NewService(store.NewPostgresRepository(dbpool), publisher, limiter, app.Settings{
		Analysis: analysis.Options{
			LookbackWindow:           cfg.LookbackWindow(),
			ObservationWindow:        cfg.ObservationWindow(),
			MinPostEventTransactions: cfg.MinPostEventTransactions,
			MuleMinSources:           cfg.MuleMinSources,
		},
		Parse: ingest.ParseOptions{
			Delimiter:   cfg.Delimiter(),
			Location:    cfg.Location,
			ExtraLayout: cfg.ExtraTimeLayout,
		},
		AssessmentBatchSize: cfg.AssessmentBatchSize,
	}, logger)

	scheduler := app.NewScheduler(service, logger, cfg.AssessmentJobSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"assessment scheduler start failed\" err=%v", err)
	}

	if rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; reset events will not be recorded\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		eventConsumer := app.NewEventConsumer(service, logger)
		if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.ResetEventQueue, eventConsumer.Bindings()); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"reset event consumer start failed\" err=%v", err)
		}
	}

	handler := api.NewHandler(service, cfg.MaxUploadBytes)
	router := api.NewRouter(handler, cfg.AnalystJWTSecret, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		log.Println("level=warn component=scheduler msg=\"assessment run still in progress at shutdown\"")
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// connectRedis returns nil when Redis is not configured or unreachable, which disables
// upload rate limiting.
func connectRedis(redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; upload rate limiting disabled\" env=REDIS_URL")
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; upload rate limiting disabled\" err=%v", err)
		return nil
	}

	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; upload rate limiting disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}
