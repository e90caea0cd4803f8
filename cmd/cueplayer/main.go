package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sendrec/cueplayer/internal/cuepoint"
	"github.com/sendrec/cueplayer/internal/database"
	"github.com/sendrec/cueplayer/internal/geoip"
	"github.com/sendrec/cueplayer/internal/languages"
	"github.com/sendrec/cueplayer/internal/player"
	"github.com/sendrec/cueplayer/internal/server"
	"github.com/sendrec/cueplayer/internal/storage"
	"github.com/sendrec/cueplayer/internal/transcript"
)

func main() {
	// A .env file is optional; the process environment always wins.
	if err := godotenv.Load(); err == nil {
		log.Println("loaded environment from .env")
	}

	port := getEnv("PORT", "8080")

	sessionSecret := os.Getenv("SESSION_SECRET")
	if sessionSecret == "" {
		log.Fatal("SESSION_SECRET is required")
	}

	catalog, err := languages.NewCatalog(languages.ParseCodes(os.Getenv("TRANSCRIPT_LANGUAGES")))
	if err != nil {
		log.Fatalf("invalid TRANSCRIPT_LANGUAGES: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	managerCfg := player.ManagerConfig{
		Catalog:     catalog,
		IdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", player.DefaultIdleTimeout),
		LoadTimeout: getEnvDuration("TRANSCRIPT_LOAD_TIMEOUT", transcript.DefaultLoadTimeout),
	}
	serverCfg := server.Config{
		SessionSecret: sessionSecret,
		SessionTTL:    getEnvDuration("SESSION_TTL", 0),
		UploadToken:   os.Getenv("UPLOAD_TOKEN"),
		BaseURL:       getEnv("BASE_URL", "http://localhost:8080"),
	}

	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		db, err := database.Connect(ctx, databaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		if err := db.Migrate(databaseURL); err != nil {
			log.Fatalf("database migration failed: %v", err)
		}
		log.Println("database migrations applied")

		managerCfg.Store = cuepoint.NewStore(db.Pool)
		serverCfg.Pinger = db
	} else {
		log.Println("no DATABASE_URL set, cuepoints are kept per session only")
	}

	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		store, err := storage.New(ctx, storage.Config{
			Endpoint:       endpoint,
			PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
			Bucket:         getEnv("S3_BUCKET", "cueplayer"),
			AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("S3_SECRET_KEY"),
			Region:         getEnv("S3_REGION", "eu-central-1"),
		})
		if err != nil {
			log.Fatalf("storage initialization failed: %v", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			log.Fatalf("storage bucket check failed: %v", err)
		}
		log.Println("storage bucket ready")

		source := transcript.NewStorageSource(store, getEnv("TRANSCRIPT_PREFIX", "media/"))
		managerCfg.Source = source
		serverCfg.Transcripts = source
		serverCfg.MediaEndpoint = getEnv("S3_PUBLIC_ENDPOINT", endpoint)
	} else {
		mediaDir := getEnv("MEDIA_DIR", "media")
		managerCfg.Source = transcript.NewDirSource(os.DirFS(mediaDir), mediaDir)
		log.Printf("serving transcripts from %s", mediaDir)
	}

	geo, err := geoip.New(os.Getenv("GEOIP_DB_PATH"))
	if err != nil {
		log.Fatalf("geoip initialization failed: %v", err)
	}
	defer func() { _ = geo.Close() }()
	serverCfg.Geo = geo

	manager := player.NewManager(managerCfg)
	serverCfg.Manager = manager
	srv := server.New(serverCfg)

	if serverCfg.UploadToken != "" && serverCfg.Transcripts != nil {
		log.Println("transcript uploads enabled")
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	defer backgroundCancel()
	manager.StartReaper(backgroundCtx, time.Minute)
	srv.StartCleanup(backgroundCtx)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("cueplayer listening on :%s", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-shutdownCh
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown failed: %v", err)
	}
	backgroundCancel()
	manager.Shutdown()
	log.Println("shutdown complete")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "30m") or a bare number of
// seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds := getEnvInt64(key, 0); seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
