package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"monument/api/internal/app"
	"monument/api/internal/authlink"
	"monument/api/internal/config"
	"monument/api/internal/drafts"
	"monument/api/internal/email"
	"monument/api/internal/search"
	"monument/api/internal/seed"
	"monument/api/internal/session"
	"monument/api/internal/store"
	"monument/api/internal/watch"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	seedSource := seed.NewSource(seed.ObjectConfig{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
		Bucket:    cfg.SeedBucket,
		Object:    cfg.SeedObject,
	}, cfg.SeedFile)

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	links := authlink.NewService(dataStore, mailer, cfg.AppBaseURL, cfg.LinkTTL)

	hub := watch.NewHub()

	// Redis backs client drafts, the recent-shares ledger, and refresh
	// tokens; without it drafts are process-local and refresh tokens go
	// to Postgres.
	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		draftStore, err := drafts.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer draftStore.Close()

		refreshStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer refreshStore.Close()

		log.Printf("Using Redis for drafts and refresh token storage")
		service = app.NewWithSessionStore(cfg, dataStore, refreshStore, draftStore, seedSource, links, searchService, hub)
	} else {
		log.Printf("Using in-memory drafts and PostgreSQL refresh token storage")
		service = app.New(cfg, dataStore, drafts.NewMemoryStore(), seedSource, links, searchService, hub)
	}

	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}
	searchService.ReindexAllFromPG(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Monument API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
