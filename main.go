package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"go_market_ranking/config"
	"go_market_ranking/routes"
	"go_market_ranking/scheduler"
	"go_market_ranking/services/cache"
	"go_market_ranking/services/catalog"
	"go_market_ranking/services/fetcher"
	"go_market_ranking/services/notify"
	"go_market_ranking/services/pipeline"
	"go_market_ranking/services/ranking"
	"go_market_ranking/services/scoring"
)

func main() {
	log.Println("==============================================")
	log.Println("  Market Ranking API - Starting...")
	log.Println("==============================================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	fetchCache, err := cache.New(cfg.CacheDir, cfg.CacheMemoryItemCap)
	if err != nil {
		log.Fatalf("Failed to open cache: %v", err)
	}

	repo, err := ranking.NewRepository(cfg.DBPath, cfg.RankMetricAllowlist)
	if err != nil {
		log.Fatalf("Failed to open score repository: %v", err)
	}
	defer repo.Close()

	cat, err := catalog.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open instrument catalog: %v", err)
	}
	defer cat.Close()

	if err := cat.SeedDefaults(); err != nil {
		log.Printf("Warning: Could not seed instrument catalog: %v", err)
	}

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.WebhookURL)
	}

	orchestrator := fetcher.NewOrchestrator(fetcher.NewVNDirectProvider(), fetchCache)
	syncPipeline := pipeline.New(
		cat,
		orchestrator,
		scoring.NewRelativeStrengthScorer(),
		repo,
		notifier,
		fetcher.Options{
			MaxConcurrency:    cfg.MaxConcurrency,
			InterRequestDelay: cfg.InterRequestDelay,
			CacheTTL:          cfg.CacheTTL,
		},
	)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	routes.SetupRoutes(router, cfg, repo, cat, syncPipeline, fetchCache)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	jobScheduler := scheduler.NewScheduler(syncPipeline, fetchCache, cfg.SyncAt)
	jobScheduler.Start()

	gracefulShutdown(server, jobScheduler)
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown handles graceful shutdown of the server
func gracefulShutdown(server *http.Server, jobScheduler *scheduler.Scheduler) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	// Stop scheduler first so no new sync starts mid-shutdown
	jobScheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server shutdown completed")
}
