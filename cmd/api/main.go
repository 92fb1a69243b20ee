package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"pinboard/api/internal/app"
	"pinboard/api/internal/backup"
	"pinboard/api/internal/config"
	"pinboard/api/internal/identity"
	"pinboard/api/internal/search"
	"pinboard/api/internal/session"
	"pinboard/api/internal/store"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logrus.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	identityService := identity.NewService(dataStore)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var uploader *backup.Uploader
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		uploader, err = backup.NewUploader(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
		if err != nil {
			logrus.Fatalf("object store connection failed: %v", err)
		}
		logrus.Infof("snapshot uploads enabled, bucket %s", cfg.S3Bucket)
	}

	// Sessions live in Redis when configured; the Postgres sessions table is
	// the fallback backend.
	var sessions app.SessionBackend = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logrus.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
		logrus.Info("using Redis for session storage")
	} else {
		logrus.Info("using PostgreSQL for session storage")
	}

	service := app.New(cfg, dataStore, sessions, identityService, searchService, uploader)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logrus.Infof("Pinboard API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("shutdown error: %v", err)
	}
}
