package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yourusername/pdf-squeeze/internal/config"
	"github.com/yourusername/pdf-squeeze/internal/converter"
	"github.com/yourusername/pdf-squeeze/internal/jobs"
	"github.com/yourusername/pdf-squeeze/internal/logging"
	"github.com/yourusername/pdf-squeeze/internal/pdf"
	"github.com/yourusername/pdf-squeeze/internal/storage"
)

// jobComponents は API サーバーが保持するジョブ関連の依存関係です。
type jobComponents struct {
	manager     *jobs.Manager
	files       *storage.Local
	ghostscript *converter.Ghostscript
	inspector   *pdf.Inspector
	sweeper     *jobs.Sweeper
	redis       *redis.Client
}

func setupJobs(cfg *config.Config) (*jobComponents, error) {
	files, err := storage.NewLocal(cfg.UploadDir, cfg.CompressedDir, cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}

	gs := converter.NewGhostscript(converter.Options{
		Path:    cfg.GhostscriptPath,
		Timeout: cfg.ConvertTimeout(),
	})
	inspector := pdf.NewInspector()

	comps := &jobComponents{
		files:       files,
		ghostscript: gs,
		inspector:   inspector,
	}

	store, err := setupStore(cfg, comps)
	if err != nil {
		return nil, err
	}
	dispatcher, err := setupDispatcher(cfg)
	if err != nil {
		comps.close()
		return nil, err
	}

	runner, err := jobs.NewRunner(store, gs, files,
		jobs.WithInspector(inspector),
		jobs.WithRunnerLogger(logging.WithComponent("runner")),
	)
	if err != nil {
		comps.close()
		return nil, err
	}

	manager, err := jobs.NewManager(jobs.ManagerConfig{
		Store:      store,
		Dispatcher: dispatcher,
		Runner:     runner,
		Files:      files,
		Logger:     logging.WithComponent("jobs"),
	})
	if err != nil {
		comps.close()
		return nil, err
	}
	if err := manager.Start(); err != nil {
		comps.close()
		return nil, fmt.Errorf("failed to start job workers: %w", err)
	}
	comps.manager = manager

	sweeper, err := jobs.StartSweeper(manager, cfg.SweepIntervalMinutes, cfg.JobTTL(), logging.WithComponent("sweeper"))
	if err != nil {
		_ = manager.Shutdown(context.Background())
		comps.close()
		return nil, fmt.Errorf("failed to schedule job sweep: %w", err)
	}
	comps.sweeper = sweeper

	return comps, nil
}

func setupStore(cfg *config.Config, comps *jobComponents) (jobs.Store, error) {
	if cfg.JobStore != config.StoreRedis {
		return jobs.NewMemoryStore(), nil
	}
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	comps.redis = redis.NewClient(opt)
	return jobs.NewRedisStore(comps.redis, cfg.JobRecordTTL()), nil
}

func setupDispatcher(cfg *config.Config) (jobs.Dispatcher, error) {
	logger := logging.WithComponent("dispatcher")
	if cfg.QueueBackend == config.QueueAsynq {
		return jobs.NewAsynqDispatcher(cfg.QueueRedisURL, cfg.WorkerConcurrency, logger)
	}
	return jobs.NewPool(cfg.WorkerConcurrency, cfg.QueueSize, logger), nil
}

// shutdown はスケジューラ、ワーカー、Redis 接続の順に停止します。
func (c *jobComponents) shutdown(ctx context.Context, logger zerolog.Logger) error {
	c.sweeper.Stop()
	var errs []error
	if c.manager != nil {
		if err := c.manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("job workers: %w", err))
		}
	}
	if err := c.close(); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	if err != nil {
		logger.Warn().Err(err).Msg("job components stopped with errors")
	}
	return err
}

func (c *jobComponents) close() error {
	if c.redis == nil {
		return nil
	}
	if err := c.redis.Close(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}
