package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"automation_server/adapter/in/worker"
	"automation_server/config"
	"automation_server/pkg/logger"
	"automation_server/pkg/resilience"

	"github.com/rs/zerolog"
)

// Worker runs the stream consumer pool that evaluates rules for incoming
// mail events.
type Worker struct {
	pool   *worker.Pool
	deps   *Dependencies
	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "automation-worker",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	poolConfig := worker.DefaultPoolConfig()
	if cfg.ConsumerConcurrent > 0 {
		poolConfig.Consumers = cfg.ConsumerConcurrent
	}

	retry := resilience.DefaultRetryPolicy()
	if cfg.ProviderMaxRetries > 0 {
		retry.MaxAttempts = cfg.ProviderMaxRetries
	}
	if cfg.ProviderRetryDelay > 0 {
		retry.InitialDelay = cfg.ProviderRetryDelay
	}
	if cfg.ProviderRetryMaxDelay > 0 {
		retry.MaxDelay = cfg.ProviderRetryMaxDelay
	}

	processor := worker.NewMailProcessorWithRetry(deps.Runner, poolConfig.JobTimeout, retry)
	newConsumer := func(id string) *worker.Consumer {
		return worker.NewConsumer(deps.Stream, processor, fmt.Sprintf("%s-%s", cfg.ConsumerID, id))
	}
	pool := worker.NewPool(newConsumer, poolConfig, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
	}
	return w, cleanup, nil
}

// Start launches the pool and blocks until Stop.
func (w *Worker) Start() {
	w.pool.Start(w.ctx)
	<-w.ctx.Done()
}

// Stop cancels consumption and waits for in-flight messages.
func (w *Worker) Stop() {
	w.cancel()
	w.pool.Stop()
}

// WaitReady pings the backing stores, giving them a moment to come up.
func (w *Worker) WaitReady(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return w.deps.HealthCheck(ctx)
}
