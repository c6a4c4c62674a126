// api/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"coursepulse/analytics/database"
	"coursepulse/analytics/handlers"
	"coursepulse/analytics/middleware"
	"coursepulse/analytics/store"
	"coursepulse/analytics/utils"
)

func main() {
	// Load .env file at the very start
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Initialize the embedded event database ---
	dbClient, err := database.NewSQLiteDB()
	if err != nil {
		log.Fatalf("Failed to initialize event database: %v", err)
	}
	defer dbClient.Close()

	// --- Initialize Stores ---
	eventStore := store.NewEventStore(dbClient)
	statsEngine := store.NewStatsEngine(eventStore)

	// --- Initialize Handlers ---
	authHandlers := handlers.NewAuthHandlers()
	collectHandlers := handlers.NewCollectHandlers(eventStore, utils.HeaderCountryResolver{})
	statsHandlers := handlers.NewStatsHandlers(statsEngine)

	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	api := r.Group("/api")
	{
		// Public beacon endpoint; clients retry on any non-2xx.
		api.POST("/collect", collectHandlers.Collect)

		api.POST("/login", authHandlers.Login)
		api.POST("/logout", authHandlers.Logout)

		// Dashboard routes (require a valid JWT token)
		protected := api.Group("/")
		protected.Use(middleware.AuthRequired())
		{
			statsGroup := protected.Group("/stats")
			{
				statsGroup.GET("/totals", statsHandlers.GetTotals)
				statsGroup.GET("/timeseries", statsHandlers.GetTimeseries)
				statsGroup.GET("/top-pages", statsHandlers.GetTopPages)
				statsGroup.GET("/referrers", statsHandlers.GetReferrers)
				statsGroup.GET("/os-browsers", statsHandlers.GetOSBrowsers)
				statsGroup.GET("/countries", statsHandlers.GetCountries)
				statsGroup.GET("/heatmap", statsHandlers.GetHeatmap)
			}
		}
	}

	// --- Retention pruning ---
	stopPrune := make(chan struct{})
	if days := retentionDays(); days > 0 {
		go runRetentionLoop(eventStore, days, stopPrune)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("Analytics API server starting on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Analytics API server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	close(stopPrune)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}

func retentionDays() int {
	raw := os.Getenv("RETENTION_DAYS")
	if raw == "" {
		return 0
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		log.Printf("Invalid RETENTION_DAYS %q, retention pruning disabled", raw)
		return 0
	}
	return days
}

// runRetentionLoop prunes expired events once at startup and then daily.
func runRetentionLoop(eventStore *store.EventStore, days int, stop <-chan struct{}) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if _, err := eventStore.PruneOlderThan(ctx, days); err != nil {
			log.Printf("Retention pruning failed: %v", err)
		}
		cancel()

		select {
		case <-ticker.C:
		case <-stop:
			return
		}
	}
}
