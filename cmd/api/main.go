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

	"stockroom/api/internal/app"
	"stockroom/api/internal/blob"
	"stockroom/api/internal/cache"
	"stockroom/api/internal/config"
	"stockroom/api/internal/search"
	"stockroom/api/internal/store"
	"stockroom/api/internal/tree"
	"stockroom/api/internal/util"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewStoreFallback(dataStore))

	var treeCache *cache.TreeCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		treeCache, err = cache.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer treeCache.Close()
		log.Printf("Using Redis tree view cache")
	}

	var blobs blob.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err = blob.NewMinio(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey,
			cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		log.Printf("Using MinIO attachment storage at %s", cfg.MinioEndpoint)
	} else {
		log.Printf("WARNING: MINIO_ENDPOINT not set, attachment content is held in memory")
		blobs = blob.NewMemory()
	}

	engine := tree.NewEngine(dataStore, util.NewID)
	query := tree.NewQuery(dataStore)
	service := app.New(dataStore, engine, query, app.ServiceOptions{
		Search:            searchService,
		Cache:             treeCache,
		Blobs:             blobs,
		MaxAttachmentSize: cfg.MaxAttachmentSize,
	})
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

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
		log.Printf("Stockroom API listening on %s", cfg.Addr)
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
