// Package server is the reference hazard backend: report intake with
// proximity merging, viewport queries with S2 clustering, corridor
// summaries and a websocket live feed, backed by MySQL.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dodanati/api"
	"dodanati/common"
	"dodanati/config"
	"dodanati/metrics"

	"github.com/apex/log"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the gin engine with the full middleware chain and
// endpoint set.
func NewRouter(h *Handlers, cfg *config.Server) *gin.Engine {
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Add gzip compression middleware
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.Use(requestLogger())
	router.Use(corsMiddleware())
	router.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))

	router.POST(api.SubmitEndpoint, h.Submit)
	router.POST(api.BulkSyncEndpoint, h.BulkSync)
	router.GET(api.NearbyEndpoint, h.Nearby)
	// Some map webviews issue the summary request as a GET with a body.
	router.GET(api.RouteSummaryEndpoint, h.RouteSummary)
	router.POST(api.RouteSummaryEndpoint, h.RouteSummary)
	router.POST(api.FeedbackEndpoint, h.Feedback)
	router.GET(api.LiveEndpoint, h.Live)
	router.GET(api.HealthEndpoint, h.Health)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// Run wires the database, live feed hub, sweeper and HTTP server
// together and blocks until the process receives SIGINT or SIGTERM.
func Run(cfg *config.Server) error {
	db, err := common.DBConnect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := InitSchema(db); err != nil {
		return err
	}

	metrics.RegisterServer()

	hub := NewHub()
	go hub.Run()

	sweeper := NewSweeper(db, hub, cfg)
	sweeper.Start()

	router := NewRouter(NewHandlers(db, hub, cfg), cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Infof("Starting hazard server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sweeper.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server exited")
	return nil
}
