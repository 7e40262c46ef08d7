package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/inventory-requests/internal/adapter/handler"
	"github.com/rl1809/inventory-requests/internal/auth"
	"github.com/rl1809/inventory-requests/internal/core/domain"
	"github.com/rl1809/inventory-requests/internal/core/service"
	"github.com/rl1809/inventory-requests/internal/metrics"
	"github.com/rl1809/inventory-requests/internal/port"
	"github.com/rl1809/inventory-requests/internal/scheduler"
)

const tokenTTL = 12 * time.Hour

var (
	httpAddrFlag string
	grpcAddrFlag string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if httpAddrFlag != "" {
			cfg.HTTPAddr = httpAddrFlag
		}
		if grpcAddrFlag != "" {
			cfg.GRPCAddr = grpcAddrFlag
		}
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&httpAddrFlag, "http-addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	serveCmd.Flags().StringVar(&grpcAddrFlag, "grpc-addr", "", "gRPC listen address (overrides GRPC_ADDR)")
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("store ready", zap.String("driver", cfg.StoreDriver))

	guard, publisher, closeGuard, err := openGuard(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeGuard()

	secret := cfg.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logger.Warn("JWT_SECRET not set; using an ephemeral secret, tokens will not survive a restart")
	}
	tokens := auth.NewTokens(secret, tokenTTL)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	requestService := service.NewRequestService(store, store, store, guard, m, logger, service.RequestServiceConfig{
		EventQueueSize: cfg.EventQueueSize,
		LeaseTTL:       cfg.ProcessLeaseTTL,
	})
	itemService := service.NewItemService(store, store, logger)

	// Start worker pool
	var wg sync.WaitGroup
	for i := 0; i < cfg.EventWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(id, requestService.Events(), publisher, logger)
		}(i)
	}
	logger.Info("started event workers", zap.Int("count", cfg.EventWorkers))

	report := scheduler.NewStaleReport(requestService, m, logger, cfg.StaleRequestAfter)
	cronRunner, err := scheduler.Start(cfg.StaleRequestSchedule, report)
	if err != nil {
		return err
	}

	// gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.AuthInterceptor(tokens)))
	handler.RegisterInventoryRequestServer(grpcServer, handler.NewGRPCHandler(requestService, logger))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP server
	httpHandler := handler.NewHTTPHandler(requestService, itemService, tokens, m, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Routes(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	healthServer.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	<-cronRunner.Stop().Done()

	// Close the event queue and wait for workers to drain it
	requestService.Close()
	wg.Wait()
	logger.Info("workers stopped")
	return nil
}

func workerLoop(id int, events <-chan domain.RequestEvent, publisher port.EventPublisher, logger *zap.Logger) {
	for ev := range events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if err := publisher.Publish(ctx, ev); err != nil {
			logger.Error("publish event failed",
				zap.Int("worker", id),
				zap.String("event", string(ev.Type)),
				zap.String("request_id", ev.Request.ID),
				zap.Error(err))
		}

		cancel()
	}
}
