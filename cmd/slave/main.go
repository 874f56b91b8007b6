package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"compute-grid/internal/config"
	"compute-grid/internal/executor"
	"compute-grid/internal/logger"
	"compute-grid/internal/provision"
	"compute-grid/internal/server"
	"compute-grid/pkg/model"
)

func main() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	zap.ReplaceGlobals(logger.New(logger.DefaultConfig()))

	// ====== Config ======
	zap.L().Info("[SERVICE] INITIALIZING CONFIG")
	cfg := config.LoadSlaveConfig()
	log := logger.New(cfg.LoggerConfig())
	defer log.Sync()
	zap.ReplaceGlobals(log)
	cfg.PrintConfig(log)
	// ====================

	// ===== Wire =====
	log.Info("[SERVICE] INITIALIZING TRANSPORT")
	tm, err := cfg.Manager()
	if err != nil {
		log.Fatal("[SERVICE][ERROR] transport", zap.Error(err))
	}
	pipe, err := cfg.Pipeline()
	if err != nil {
		log.Fatal("[SERVICE][ERROR] pipeline", zap.Error(err))
	}
	// ================

	// ===== Executor =====
	log.Info("[SERVICE] INITIALIZING EXECUTOR")
	registry := provision.NewRegistry(provision.NewStarlarkCompiler(log), log)
	pool := executor.NewPool(cfg.TaskPoolSize)
	strategy, err := executor.New(cfg.ExecutorType(), pool, cfg.StreamQueueSize, log)
	if err != nil {
		log.Fatal("[SERVICE][ERROR] executor", zap.Error(err))
	}
	// ====================

	// ====== Server ======
	log.Info("[SERVICE] START SERVER")
	srv := server.New(server.Options{
		UUID:        cfg.UUID,
		Manager:     tm,
		Pipeline:    pipe,
		Registry:    registry,
		Strategy:    strategy,
		Pool:        pool,
		IdleTimeout: cfg.SessionIdleTimeout,
		Log:         log,
	})
	if err := srv.Start(cfg.Port); err != nil {
		log.Fatal("[SERVER][ERROR] start", zap.Error(err))
	}

	api := server.NewStatusAPI(srv, log)
	if err := api.Start(cfg.StatusPort); err != nil {
		log.Fatal("[SERVER][ERROR] status API", zap.Error(err))
	}
	// ====================

	self := model.NewEndpointInfo(cfg.AdvertiseHost, srv.Port(), tm.Type())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ===== Discovery =====
	if cfg.DiscoveryPort > 0 {
		log.Info("[SERVICE] START DISCOVERY")
		d, err := server.ListenDiscovery(cfg.DiscoveryPort, pipe.Codec, self, log)
		if err != nil {
			log.Error("[DISCOVERY][ERROR]", zap.Error(err))
		} else {
			go d.Serve(ctx)
		}
	}
	// =====================

	// ===== Register Node =====
	if cfg.MasterURL != "" {
		log.Info("[SERVICE] REGISTERING NODE")
		node := model.Node{UUID: cfg.UUID, Endpoint: self, StatusAddr: statusAddr(cfg.AdvertiseHost, api.Addr())}
		if err := server.RegisterNode(cfg.MasterURL, cfg.MasterRegPath, node, 5*time.Second); err != nil {
			log.Error("[SERVICE][ERROR] register node", zap.Error(err))
		}
	}
	// =========================

	<-stop
	cancel()

	ctxClose, cancelClose := context.WithTimeout(context.Background(), time.Second*5)
	defer cancelClose()
	if err := api.Stop(); err != nil {
		log.Error("[SERVER][ERROR] error while stopping status API", zap.Error(err))
	}
	if err := srv.Stop(ctxClose); err != nil {
		log.Fatal("[SERVER][ERROR] error while stopping", zap.Error(err))
	}
}

func statusAddr(host, listenAddr string) string {
	_, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return listenAddr
	}
	return net.JoinHostPort(host, port)
}
