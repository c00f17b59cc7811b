// roamd is the control-plane daemon: it provisions remote browser instances
// against the provider gateway and drives automation commands over per-owner
// executor channels.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/roambrowse/roam/internal/api"
	"github.com/roambrowse/roam/internal/browser"
	"github.com/roambrowse/roam/internal/channel"
	"github.com/roambrowse/roam/internal/cloud"
	"github.com/roambrowse/roam/internal/config"
	"github.com/roambrowse/roam/internal/events"
	"github.com/roambrowse/roam/internal/fleet"
	"github.com/roambrowse/roam/internal/metrics"
	"github.com/roambrowse/roam/internal/storage"
	"github.com/roambrowse/roam/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := telemetry.SetupTracing("roamd", cfg.Env != "production")
	if err != nil {
		logger.Fatal("tracing setup failed", zap.Error(err))
	}

	results, err := storage.NewBadgerStore(cfg.ResultStorePath)
	if err != nil {
		logger.Fatal("open result store", zap.Error(err))
	}

	var pub *events.Publisher
	if cfg.NATSURL != "" {
		pub, err = events.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal("connect nats", zap.Error(err))
		}
	}

	gw := cloud.NewSimGateway(cfg.SimBootDelayDuration(), cfg.SimTerminateDelayDuration())
	manager := fleet.New(gw, pub, logger)
	sessions := browser.NewSessions(manager, pub, logger)
	registry := channel.NewRegistry(sessions, logger)
	dispatcher := browser.NewDispatcher(manager, registry, sessions, results, pub,
		cfg.CommandTimeoutDuration(), logger)
	registry.SetReplyHandler(dispatcher.Resolve)

	attach := loopbackAttach()
	if pub != nil {
		attach = natsAttach(pub, logger)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewHandler(manager, sessions, dispatcher, registry, attach, logger),
	}
	go func() {
		logger.Info("control API listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http listen", zap.Error(err))
		}
	}()

	metricsServer := &http.Server{Addr: cfg.MetricsAddr}
	go func() {
		mux := http.NewServeMux()
		metrics.Register(mux)
		metricsServer.Handler = mux
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics listen", zap.Error(err))
		}
	}()

	var grpcServer *grpc.Server
	if cfg.HealthGRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.HealthGRPCAddr)
		if err != nil {
			logger.Fatal("health listen", zap.Error(err))
		}
		grpcServer = grpc.NewServer()
		hs := health.NewServer()
		hs.SetServingStatus("roamd", healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcServer, hs)
		go func() {
			logger.Info("grpc health listening", zap.String("addr", cfg.HealthGRPCAddr))
			if err := grpcServer.Serve(lis); err != nil {
				logger.Fatal("grpc serve", zap.Error(err))
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown initiated")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	_ = metricsServer.Shutdown(ctx)
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	manager.Shutdown()
	pub.Close()
	if err := results.Close(); err != nil {
		logger.Warn("result store close", zap.Error(err))
	}
	_ = shutdownTracing(ctx)
	logger.Info("shutdown complete")
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// loopbackAttach serves broker-less deployments: each attached owner gets a
// stub executor that acknowledges every command, so the full dispatch path
// can be exercised without a remote instance.
func loopbackAttach() api.AttachChannel {
	return func(owner string) (channel.Channel, error) {
		return channel.LoopbackExecutor(), nil
	}
}

// natsAttach links each owner to its NATS command/reply subjects; the
// executor on the remote instance subscribes to the matching subjects.
func natsAttach(pub *events.Publisher, logger *zap.Logger) api.AttachChannel {
	return func(owner string) (channel.Channel, error) {
		return channel.NewNATSChannel(pub.Conn(), owner, logger)
	}
}
