package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/braincanary/braincanary/internal/auth"
	"github.com/braincanary/braincanary/internal/config"
	"github.com/braincanary/braincanary/internal/deployment"
	"github.com/braincanary/braincanary/internal/events"
	"github.com/braincanary/braincanary/internal/httpserver"
	"github.com/braincanary/braincanary/internal/store"
)

func main() {
	cfg, err := config.LoadService()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var st store.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.Ping(); err != nil {
			log.Fatalf("ping db: %v", err)
		}
		st = store.NewPGStore(db)
	} else {
		log.Printf("no database configured; state will not survive restarts")
		st = store.NewMemoryStore()
	}

	bus := events.NewBus()
	defer bus.Close()

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(events.KafkaPublisherConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka publisher: %v", err)
		}
		publisher.Attach(bus)
		defer publisher.Close()
		log.Printf("publishing events to kafka topic %s", cfg.KafkaTopic)
	}

	if cfg.ArchiveBucket != "" {
		archiver, err := events.NewS3Archiver(context.Background(), cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			log.Fatalf("s3 archiver: %v", err)
		}
		archiver.Attach(bus)
		log.Printf("archiving rollout outcomes to s3://%s/%s", cfg.ArchiveBucket, cfg.ArchivePrefix)
	}

	runtime, err := deployment.NewRuntime(context.Background(), st, bus, deployment.Options{})
	if err != nil {
		log.Fatalf("runtime: %v", err)
	}
	defer runtime.Shutdown()

	server := httpserver.New(runtime, st, auth.Config{
		APIToken:  cfg.APIToken,
		JWTSecret: cfg.JWTSecret,
	})

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("braincanary service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	waitForShutdown(httpServer)
}

func waitForShutdown(srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
