package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"compute-grid/internal/config"
	"compute-grid/internal/logger"
	"compute-grid/internal/master"
	"compute-grid/internal/provision"
	"compute-grid/pkg/model"
)

func main() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	zap.ReplaceGlobals(logger.New(logger.DefaultConfig()))

	// ====== Config ======
	zap.L().Info("[SERVICE] INITIALIZING CONFIG")
	cfg := config.LoadMasterConfig()
	log := logger.New(cfg.LoggerConfig())
	defer log.Sync()
	zap.ReplaceGlobals(log)
	cfg.PrintConfig(log)
	// ====================

	code, err := os.ReadFile(cfg.ModelScriptPath)
	if err != nil {
		log.Fatal("[SERVICE][ERROR] model script", zap.Error(err))
	}
	if !strings.Contains(string(code), fmt.Sprintf("def %s(", provision.SimulateFunc)) {
		log.Fatal("[SERVICE][ERROR] model script does not contain function", zap.String("func", provision.SimulateFunc))
	}

	tm, err := cfg.Manager()
	if err != nil {
		log.Fatal("[SERVICE][ERROR] transport", zap.Error(err))
	}
	pipe, err := cfg.Pipeline()
	if err != nil {
		log.Fatal("[SERVICE][ERROR] pipeline", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		log.Info("[SERVICE] SHUTDOWN")
		cancel()
	}()

	// ===== Registry =====
	log.Info("[SERVICE] INITIALIZING REGISTRY")
	reg := master.NewRegistry(log)
	for _, s := range cfg.Slaves {
		info, err := model.ParseEndpoint(s, tm.Type())
		if err != nil {
			log.Fatal("[SERVICE][ERROR] SLAVES", zap.String("slave", s), zap.Error(err))
		}
		reg.Register(model.Node{Endpoint: info}, master.SOURCE_STATIC)
	}
	// ====================

	// ===== Manager =====
	log.Info("[SERVICE] INITIALIZING MANAGER")
	agg := master.NewAggregator(log)
	mgr := master.NewManager(master.ManagerOptions{
		Transport:      tm,
		Pipeline:       pipe,
		Registry:       reg,
		Handler:        agg,
		ConnectTimeout: cfg.ConnectTimeout,
		PingTimeout:    cfg.ConnectTimeout,
		MinTimeout:     cfg.MinBatchTimeout,
		FirstTimeout:   cfg.FirstBatchTimeout,
		Log:            log,
	})
	go reg.HealthWorker(ctx, cfg.CheckHealthInterval, mgr.Ping)
	// ===================

	// ====== Server ======
	log.Info("[SERVICE] START SERVER")
	api := master.NewAPI(reg, mgr, agg, log)
	if err := api.Start(cfg.StatusPort); err != nil {
		log.Fatal("[SERVER][ERROR] start", zap.Error(err))
	}
	// ====================

	// ===== Discovery =====
	if cfg.SlaveDiscoveryPort > 0 {
		log.Info("[SERVICE] START DISCOVERY")
		b, err := master.NewBroadcaster(cfg.DiscoveryPort, cfg.SlaveDiscoveryPort, cfg.DiscoveryTargets, pipe.Codec, reg, log)
		if err != nil {
			log.Error("[DISCOVERY][ERROR]", zap.Error(err))
		} else {
			go b.Serve(ctx, cfg.DiscoveryInterval)
		}
	}
	// =====================

	log.Info("[SERVICE] WAITING FOR SLAVES")
	if err := reg.Wait(ctx, 1); err == nil {
		job := master.Job{
			ModelName: cfg.ModelName,
			Code:      code,
			Replicas:  cfg.Replicas,
			Deadline:  cfg.Deadline,
			Seed:      cfg.Seed,
			Params:    cfg.Params,
		}
		if err := mgr.Run(ctx, job); err != nil {
			log.Error("[MANAGER][ERROR] job failed", zap.Error(err))
		} else {
			s := agg.Summary()
			log.Info("[MANAGER] job summary",
				zap.Int("successful", s.Successful),
				zap.Int("failed", s.Failed),
				zap.Float64s("mean", s.Mean),
			)
		}
	}

	<-ctx.Done()
	if err := api.Stop(); err != nil {
		log.Fatal("[SERVER][ERROR] error while stopping", zap.Error(err))
	}
}
