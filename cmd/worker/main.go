package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nkuznetsov/docpipe/internal/bootstrap"
	"github.com/nkuznetsov/docpipe/internal/config"
	"github.com/nkuznetsov/docpipe/internal/core/ports"
	"github.com/nkuznetsov/docpipe/internal/observability/logging"
	"github.com/nkuznetsov/docpipe/internal/observability/metrics"
	"github.com/nkuznetsov/docpipe/internal/worker"
)

// instrumentedProcessor wraps the job processor with per-job metrics.
type instrumentedProcessor struct {
	inner   ports.JobProcessor
	metrics *metrics.WorkerMetrics
}

func (p *instrumentedProcessor) ProcessJob(ctx context.Context, jobID string) error {
	start := time.Now()
	p.metrics.StartJob()
	err := p.inner.ProcessJob(ctx, jobID)
	p.metrics.FinishJob("worker", time.Since(start), err)
	return err
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewJSONLogger("worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app.ProcessUC.SetQueueLagObserver(func(lag time.Duration) {
		workerMetrics.ObserveQueueLag("worker", lag)
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", workerMetrics.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	processor := &instrumentedProcessor{inner: app.ProcessUC, metrics: workerMetrics}
	pool := worker.New(app.Queue, processor, cfg.WorkerCount)

	slog.Info("worker starting", "subject", cfg.NATSJobsSubject, "pool_size", cfg.WorkerCount)
	if err := pool.Run(ctx); err != nil {
		slog.Error("worker run error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}
