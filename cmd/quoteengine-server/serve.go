package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	grpcx "github.com/bcrosbie/quoteengine/internal/transport/grpc"
	httpx "github.com/bcrosbie/quoteengine/internal/transport/http"
	mcptools "github.com/bcrosbie/quoteengine/internal/transport/mcp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const shutdownGrace = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC and HTTP servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	eng, err := loadEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()
	cfg := eng.cfg

	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcx.RecoveryUnaryInterceptor(),
			grpcx.AuthUnaryInterceptor(cfg.AuthToken),
			grpcx.LoggingUnaryInterceptor(),
			grpcx.ErrorUnaryInterceptor(),
			grpcx.IdempotencyUnaryInterceptor(grpcx.NewMemoryIdempotencyStore(24*time.Hour)),
		),
	)
	grpcx.RegisterQuoteServer(server, grpcx.NewQuoteHandler(eng.quotes))

	healthService := health.NewServer()
	healthService.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthService)
	if cfg.EnableReflection {
		reflection.Register(server)
	}

	httpOptions := httpx.Options{Token: cfg.AuthToken, Logger: eng.log}
	if cfg.MCPEnabled {
		httpOptions.MCP = mcptools.NewServer(eng.quotes, version).Handler()
	}
	httpServer := httpx.NewServer(cfg.HTTPAddr, httpx.NewHandler(eng.quotes, httpOptions))

	serveErrors := make(chan error, 2)
	go func() {
		eng.log.Info("gRPC server listening", "addr", cfg.GRPCAddr, "store_driver", cfg.StoreDriver, "source", eng.dataSource)
		if cfg.AuthToken == "" {
			eng.log.Warn("AUTH_TOKEN is not configured; write methods are unauthenticated")
		}
		if err := server.Serve(listener); err != nil {
			serveErrors <- err
		}
	}()
	go func() {
		if strings.TrimSpace(cfg.HTTPAddr) == "" {
			return
		}
		eng.log.Info("HTTP server listening", "addr", cfg.HTTPAddr, "mcp", cfg.MCPEnabled)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrors <- err
		}
	}()

	sweepDone := make(chan struct{})
	sweepCtx, stopSweep := context.WithCancel(ctx)
	go func() {
		defer close(sweepDone)
		runSweeper(sweepCtx, eng, cfg.SweepInterval)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		eng.log.Info("shutdown signal received; draining servers")
	case serveErr = <-serveErrors:
		eng.log.Error("server failed", "error", serveErr)
	}
	stopSweep()
	<-sweepDone
	healthService.Shutdown()
	waitForShutdown(eng, server, httpServer)
	return serveErr
}

func runSweeper(ctx context.Context, eng *engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.quotes.SweepExpired(ctx)
		}
	}
}

func waitForShutdown(eng *engine, server *grpc.Server, httpServer *http.Server) {
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		eng.log.Info("gRPC server stopped gracefully")
	case <-time.After(shutdownGrace):
		eng.log.Warn("graceful timeout reached; forcing stop")
		server.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		eng.log.Warn("http shutdown warning", "error", err)
	}
}
