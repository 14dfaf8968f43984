package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/formyhq/editflow/internal/api/handlers/edit"
	"github.com/formyhq/editflow/internal/api/router"
	"github.com/formyhq/editflow/internal/api/server"
	"github.com/formyhq/editflow/internal/billing"
	"github.com/formyhq/editflow/internal/config"
	"github.com/formyhq/editflow/internal/engine/comfy"
	"github.com/formyhq/editflow/internal/engine/remoteapi"
	"github.com/formyhq/editflow/internal/model"
	"github.com/formyhq/editflow/internal/pipeline"
	"github.com/formyhq/editflow/internal/queue"
	storagepkg "github.com/formyhq/editflow/internal/storage"
	"github.com/formyhq/editflow/internal/storage/local"
	"github.com/formyhq/editflow/internal/storage/miniostore"
	"github.com/formyhq/editflow/internal/task"
	"github.com/formyhq/editflow/internal/worker"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config/config.yml")

	// Connect to Redis: queue, task records and credit balances all live here.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	// Retry strategy for Kafka and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Initialize file storage.
	var store storagepkg.Storage
	var resultDir string
	switch cfg.Storage.Backend {
	case "minio":
		m := cfg.Storage.Minio
		s, err := miniostore.NewStorage(ctx, m.Endpoint, m.AccessKey, m.SecretKey, m.BucketName, m.ScratchDir, m.UseSSL)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
		}
		store = s
	default:
		s, err := local.NewStorage(cfg.Storage.UploadDir, cfg.Storage.ResultDir)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to initialize storage")
		}
		store = s
		resultDir = s.ResultDir()
	}

	// Lifecycle event publisher is optional.
	var events *task.EventPublisher
	var publisher task.Publisher
	if cfg.Kafka.Enabled {
		events = task.NewEventPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, strategy)
		publisher = events
	}

	q := queue.New(rdb, cfg.Retention.TaskTTL)
	tasks := task.NewService(rdb, cfg.Retention.TaskTTL, publisher)
	bills := billing.NewService(rdb, cfg.Billing)

	// Processing engines and the per-mode pipelines.
	comfyEngine := comfy.New(cfg.Engines.Comfy.URL, cfg.Engines.Comfy.WorkflowPath, cfg.Engines.Comfy.Timeout, cfg.Engines.Comfy.PollInterval)
	headSwapEngine := remoteapi.New(cfg.Engines.HeadSwap)

	d := pipeline.NewDispatcher(map[model.EditMode]func() pipeline.Pipeline{
		model.ModeHeadSwap: func() pipeline.Pipeline {
			return pipeline.NewHeadSwap(store, headSwapEngine)
		},
		model.ModeBackgroundChange: func() pipeline.Pipeline {
			return pipeline.NewBackgroundChange(store, comfyEngine)
		},
		model.ModePoseChange: func() pipeline.Pipeline {
			return pipeline.NewPoseChange(store)
		},
	})

	// Start the task consumer in a separate goroutine.
	w := worker.New(q, tasks, d, bills, cfg.Worker.PopTimeout, cfg.Worker.ErrorBackoff)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()

	// Start HTTP server in a separate goroutine.
	h := edit.NewHandler(store, tasks, q, bills, map[string]func(context.Context) error{
		"comfy":     comfyEngine.HealthCheck,
		"head_swap": headSwapEngine.HealthCheck,
	})
	r := router.Setup(h, resultDir)
	s := server.New(cfg.Server.HTTPPort, r)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Wait for the worker goroutine to finish its current task.
	wg.Wait()

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	if events != nil {
		if err := events.Client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
		}
	}
	if err := rdb.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close redis client")
	}
}
