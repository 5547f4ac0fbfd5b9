// Package daemonrun wires configuration, storage, services, and the worker
// pool into a running daemon process. It exists so both the standalone
// daemon binary and the CLI's foreground mode share one bootstrap path.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"reelpipe/internal/api"
	"reelpipe/internal/config"
	"reelpipe/internal/daemon"
	"reelpipe/internal/logging"
	"reelpipe/internal/metrics"
	"reelpipe/internal/orchestrator"
	"reelpipe/internal/runner"
	"reelpipe/internal/services/fal"
	"reelpipe/internal/services/late"
	"reelpipe/internal/services/render"
	"reelpipe/internal/services/tikscrape"
	"reelpipe/internal/steps"
	"reelpipe/internal/storage"
	"reelpipe/internal/store"
	"reelpipe/internal/urlcache"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the daemon runtime loop and blocks until the context is
// cancelled or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "reelpipe.log")},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "reelpipe.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer st.Close()

	objectStore := storage.NewClient(cfg.Storage)
	signCache := urlcache.New(objectStore, time.Duration(cfg.Storage.SignCacheTTL)*time.Second, cfg.Storage.SignCacheMax, logger)
	falClient := fal.NewClient(cfg.Fal)
	tiktok := tikscrape.NewClient(cfg.TikTok)
	lateClient := late.NewClient(cfg.Late)
	renderer := render.NewRunner(cfg.Render, logger)

	m := metrics.New()
	registry := steps.NewRegistry(steps.Deps{
		Generator: instrumentedGenerator{inner: falClient, m: m},
		Resolver:  instrumentedResolver{inner: tiktok, m: m},
		Storage:   objectStore,
		Fetcher:   storage.NewFetcher(objectStore, nil),
		Renderer:  renderer,
		Signer:    signCache,
		WorkDir:   cfg.Paths.WorkDir,
		Logger:    logger,
	})

	jobRunner := runner.New(st, registry, time.Duration(cfg.Workflow.StepTimeout)*time.Second, m, logger)
	manager := runner.NewManager(cfg, st, jobRunner, logger)
	orch := orchestrator.New(st, manager, instrumentedPoster{inner: lateClient, m: m}, signCache, cfg.Late.AutoPost, cfg.Late.DefaultAccountID, logger)
	manager.OnTerminal(orch.OnJobTerminal)

	queries := api.NewService(st, api.NewConverter(signCache, logger))

	d, err := daemon.New(cfg, st, logger, manager, orch, queries, m)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return err
	}

	<-signalCtx.Done()
	logger.Info("daemon shutting down")
	d.Stop()
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
