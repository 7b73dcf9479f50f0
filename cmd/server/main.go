package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"fixdesk/backend/internal/config"
	"fixdesk/backend/internal/events"
	"fixdesk/backend/internal/httpapi"
	"fixdesk/backend/internal/refresh"
	"fixdesk/backend/internal/service"
	"fixdesk/backend/internal/store"
	"fixdesk/backend/internal/store/memory"
	pgstore "fixdesk/backend/internal/store/postgres"
	"fixdesk/backend/internal/telemetry"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownTracing := telemetry.Setup(cfg.ServiceName)

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.MigrateOnStart {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			log.Println("schema: migrated")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	notifier := refresh.Notifier(refresh.NoopNotifier{})
	if cfg.RedisAddr != "" {
		redisNotifier := refresh.NewRedisNotifier(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RefreshChannel)
		if err := redisNotifier.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), refresh hints disabled", err)
			_ = redisNotifier.Close()
		} else {
			notifier = redisNotifier
			closers = append(closers, redisNotifier.Close)
			log.Println("refresh: redis")
		}
	} else {
		log.Println("refresh: noop")
	}

	publisher := events.Publisher(events.NoopPublisher{})
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsExchange)
		if err != nil {
			log.Printf("amqp unavailable (%v), domain events disabled", err)
		} else {
			publisher = amqpPublisher
			closers = append(closers, amqpPublisher.Close)
			log.Println("events: amqp")
		}
	} else {
		log.Println("events: noop")
	}

	svc := service.New(repo, service.Options{
		StockPolicy: cfg.StockPolicy,
		Notifier:    notifier,
		Publisher:   publisher,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           otelhttp.NewHandler(httpapi.LoggingMiddleware(api.Handler()), cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("fixdesk backend listening on %s (stock policy %s)", cfg.Address(), cfg.StockPolicy)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown error: %v", err)
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AccessTokenTTLMinutes > 24*60 {
		return fmt.Errorf("ACCESS_TOKEN_TTL_MINUTES must not exceed one day")
	}
	return nil
}
