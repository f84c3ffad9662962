// Command ledgerd serves an in-process document registry over gRPC, standing
// in for a chain relay on networks that have none.
package main

import (
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"verifica.org/internal/config"
	"verifica.org/internal/ledger"
	"verifica.org/internal/ledger/remote"
	"verifica.org/internal/obs"
)

var version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()
	obs.InitBuildInfo("ledgerd", version)

	lis, err := net.Listen("tcp", cfg.RegistrydAddr)
	if err != nil {
		logger.Fatal("listen", zap.String("addr", cfg.RegistrydAddr), zap.Error(err))
	}

	gs := grpc.NewServer()
	remote.NewServer(ledger.NewMemory(cfg.RegistrydChainID), obs.Component("ledgerd")).Register(gs)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		hs.Shutdown()
		gs.GracefulStop()
	}()

	logger.Info("ledgerd listening",
		zap.String("addr", lis.Addr().String()),
		zap.Int64("chain_id", cfg.RegistrydChainID),
	)
	if err := gs.Serve(lis); err != nil {
		logger.Fatal("serve", zap.Error(err))
	}
}
