package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"orderdesk/internal/classifier"
	"orderdesk/internal/config"
	"orderdesk/internal/listener"
	"orderdesk/internal/logging"
	"orderdesk/internal/pipeline"
	"orderdesk/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	must(err)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.ClassifierAPIKey == "" && cfg.ClassifierAPIKeySecret != "" {
		accessor, closeFn, err := config.NewGCPSecretAccessor(ctx)
		must(err)
		must(cfg.ResolveSecrets(ctx, accessor, os.Getenv("GCP_PROJECT")))
		_ = closeFn()
	}

	db, err := storage.Open(cfg.DataSource())
	must(err)
	defer db.Close()

	svc, err := pipeline.NewService(db, cfg, classifier.FromConfig(cfg, logger), logger)
	must(err)
	l, err := listener.NewService(ctx, db, svc, cfg, logger)
	must(err)

	logger.Info("chat listener started")
	must(l.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
