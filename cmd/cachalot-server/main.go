package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cachalotdb/store/internal/config"
	"github.com/cachalotdb/store/internal/dispatcher"
	"github.com/cachalotdb/store/internal/server"
)

func main() {
	log := buildLogger()
	defer log.Sync()
	log = log.Named("main")

	cfg, err := config.Load(flag.NewFlagSet("cachalot-server", flag.ExitOnError), os.Args[1:], os.Getenv("CACHALOT_CONFIG"))
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
		log.Fatal("create data path failed", zap.Error(err), zap.String("path", cfg.DataPath))
	}

	srv := server.New(log, cfg.DataPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		log.Fatal("server start failed", zap.Error(err))
	}

	disp := dispatcher.New(log, srv, cfg.WorkerPoolSize)
	// No wire transport wired up yet to route decoded requests to disp; it
	// still takes live SIGHUP-driven worker-pool-size reloads below.

	log.Info("cachalot server ready",
		zap.Int("tcp_port", cfg.TcpPort),
		zap.String("data_path", cfg.DataPath),
		zap.Int("worker_pool_size", cfg.WorkerPoolSize),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			reloadWorkerPoolSize(log, disp, os.Getenv("CACHALOT_CONFIG"))
			continue
		}
		break
	}

	log.Info("shutting down")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		log.Error("server stop failed", zap.Error(err))
	}
}

// reloadWorkerPoolSize re-reads configPath and applies its worker-pool-size
// to disp without restarting the process, on SIGHUP.
func reloadWorkerPoolSize(log *zap.Logger, disp *dispatcher.Dispatcher, configPath string) {
	cfg, err := config.Load(flag.NewFlagSet("cachalot-server-reload", flag.ContinueOnError), nil, configPath)
	if err != nil {
		log.Error("config reload failed", zap.Error(err))
		return
	}
	if cfg.WorkerPoolSize == disp.WorkerPoolSize() {
		return
	}
	log.Info("worker pool size changed",
		zap.Int("old", disp.WorkerPoolSize()),
		zap.Int("new", cfg.WorkerPoolSize),
	)
	disp.SetWorkerPoolSize(cfg.WorkerPoolSize)
}

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	if config.IsDev() {
		logConfig.Level.SetLevel(zap.DebugLevel)
	} else {
		logConfig.Level.SetLevel(zap.InfoLevel)
	}
	return zap.Must(logConfig.Build())
}
