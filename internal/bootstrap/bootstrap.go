package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/nkuznetsov/docpipe/internal/config"
	"github.com/nkuznetsov/docpipe/internal/core/ports"
	"github.com/nkuznetsov/docpipe/internal/core/usecase"
	"github.com/nkuznetsov/docpipe/internal/infrastructure/extractor"
	"github.com/nkuznetsov/docpipe/internal/infrastructure/extractor/csvdata"
	"github.com/nkuznetsov/docpipe/internal/infrastructure/extractor/ocr"
	"github.com/nkuznetsov/docpipe/internal/infrastructure/extractor/pdf"
	"github.com/nkuznetsov/docpipe/internal/infrastructure/extractor/spreadsheet"
	natsnotifier "github.com/nkuznetsov/docpipe/internal/infrastructure/notifier/nats"
	natsqueue "github.com/nkuznetsov/docpipe/internal/infrastructure/queue/nats"
	"github.com/nkuznetsov/docpipe/internal/infrastructure/repository/postgres"
	"github.com/nkuznetsov/docpipe/internal/infrastructure/resilience"
	"github.com/nkuznetsov/docpipe/internal/infrastructure/storage/localfs"
)

// App holds the wired object graph shared by the api and worker binaries.
type App struct {
	Config config.Config

	Queue     ports.JobQueue
	Repo      ports.JobRepository
	Stream    ports.StatusStream
	SubmitUC  ports.JobSubmitter
	QueryUC   ports.JobReader
	ContentUC ports.JobContentReader
	ProcessUC *usecase.ProcessJobUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewJobRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSJobsSubject, natsqueue.Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init job queue: %w", err)
	}

	// Status events share the queue's connection; the notifier does not own it.
	notifier := natsnotifier.New(queue.Conn(), cfg.NATSStatusSubject)

	registry := extractor.NewRegistry()
	registry.Register("application/pdf", pdf.New())
	ocrExtractor := ocr.New(ocr.Config{Tesseract: cfg.TesseractBin, Languages: cfg.OCRLanguages})
	registry.Register("image/jpeg", ocrExtractor)
	registry.Register("image/png", ocrExtractor)
	registry.Register("text/csv", csvdata.New())
	registry.Register("application/vnd.ms-excel", spreadsheet.New())

	submitUC := usecase.NewSubmitJobUseCase(repo, storage, queue, notifier, usecase.SubmitConfig{
		AllowedMimeTypes: cfg.AllowedMimeTypes,
		MaxUploadBytes:   cfg.MaxUploadBytes,
	})
	queryUC := usecase.NewQueryJobsUseCase(repo, storage)
	processUC := usecase.NewProcessJobUseCase(
		repo,
		storage,
		registry,
		notifier,
		time.Duration(cfg.ExtractTimeoutSeconds)*time.Second,
	)

	return &App{
		Config: cfg,

		Queue:     queue,
		Repo:      repo,
		Stream:    notifier,
		SubmitUC:  submitUC,
		QueryUC:   queryUC,
		ContentUC: queryUC,
		ProcessUC: processUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
