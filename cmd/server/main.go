// Package main serves Turtle backtests over gRPC and REST
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	pb "turtle-backtest/proto"
	"turtle-backtest/services/cache"
	"turtle-backtest/services/config"
	"turtle-backtest/services/dataset"
	"turtle-backtest/services/engine"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting backtesting service",
		zap.String("version", engine.EngineVersion),
		zap.String("environment", cfg.Environment),
		zap.String("data_source", cfg.Data.Source),
	)

	base, err := cfg.BacktestConfig()
	if err != nil {
		logger.Fatal("Invalid run configuration", zap.Error(err))
	}

	ctx := context.Background()
	loader, store, err := dataset.Open(ctx, cfg, base.Instruments, logger)
	if err != nil {
		logger.Fatal("Failed to open data source", zap.Error(err))
	}
	if store != nil {
		defer store.Close()
	}

	rc, err := cache.New(ctx, cfg.Redis, logger)
	if err != nil {
		// results are still served from memory
		logger.Warn("Redis unavailable, result cache disabled", zap.Error(err))
		rc = nil
	}
	defer rc.Close()

	service := NewBacktestService(base, loader, store, rc, engine.NewPerformanceMonitor(cfg.Engine.SLO), logger)

	// Setup gRPC server
	grpcServer := grpc.NewServer()
	pb.RegisterBacktestServiceServer(grpcServer, service)

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	httpRouter := gin.New()
	httpRouter.Use(gin.Recovery())
	service.setupHTTPRoutes(httpRouter)

	// Start servers
	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
		}

		logger.Info("Starting gRPC server", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("Failed to serve gRPC", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	logger.Info("Servers stopped")
}
