package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/suPer8Hu/ai-saas/internal/config"
	"github.com/suPer8Hu/ai-saas/internal/db"
	"github.com/suPer8Hu/ai-saas/internal/documents"
	"github.com/suPer8Hu/ai-saas/internal/logger"
	"github.com/suPer8Hu/ai-saas/internal/store/rabbitmq"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.WithError(err).Fatal("db open")
	}
	if err := db.Migrate(gdb, &documents.Document{}); err != nil {
		log.WithError(err).Fatal("db migrate")
	}

	// the worker only processes; uploads go through the API
	svc := documents.NewService(documents.NewRepo(gdb), nil, cfg.UploadDir, cfg.MaxUploadBytes, log)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency, log)
	if err != nil {
		log.WithError(err).Fatal("rabbit consumer")
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("queue", cfg.RabbitQueue).
		WithField("concurrency", cfg.WorkerConcurrency).
		Info("worker started")

	err = consumer.Run(ctx, processDocument(svc))
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("worker stopped")
	}
	log.Info("worker shutting down")
}

// processDocument marks unsupported files permanent so they skip retries.
func processDocument(svc *documents.Service) rabbitmq.Handler {
	return func(ctx context.Context, id string) error {
		err := svc.Process(ctx, id)
		if errors.Is(err, documents.ErrUnsupported) {
			return fmt.Errorf("%w: %v", rabbitmq.ErrPermanent, err)
		}
		return err
	}
}
