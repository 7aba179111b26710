package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"icast/internal/config"
	"icast/internal/daemon"
	"icast/internal/dispatch"
	"icast/internal/logging"
	"icast/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return
	}

	pool := dispatch.NewPool(cfg, st, logger)
	if err := registerStages(pool, cfg, st, logger); err != nil {
		logger.Error("register stages", logging.Error(err))
		return
	}
	dispatcher, err := dispatch.New(cfg, st, logger, pool)
	if err != nil {
		logger.Error("create dispatcher", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, st, logger, pool, dispatcher)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close() //nolint:errcheck

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("icastd shutting down")
}
