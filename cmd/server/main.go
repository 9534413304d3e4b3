package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/suPer8Hu/ai-saas/internal/ai"
	"github.com/suPer8Hu/ai-saas/internal/chat"
	"github.com/suPer8Hu/ai-saas/internal/config"
	"github.com/suPer8Hu/ai-saas/internal/db"
	"github.com/suPer8Hu/ai-saas/internal/documents"
	"github.com/suPer8Hu/ai-saas/internal/email"
	"github.com/suPer8Hu/ai-saas/internal/httpapi"
	"github.com/suPer8Hu/ai-saas/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-saas/internal/logger"
	"github.com/suPer8Hu/ai-saas/internal/models"
	"github.com/suPer8Hu/ai-saas/internal/settings"
	"github.com/suPer8Hu/ai-saas/internal/store/rabbitmq"
	"github.com/suPer8Hu/ai-saas/internal/store/redisstore"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.WithError(err).Fatal("db open")
	}
	if err := db.Migrate(gdb,
		&models.User{}, &models.BotSettings{}, &models.UserPrompt{},
		&chat.Session{}, &chat.Message{}, &documents.Document{},
	); err != nil {
		log.WithError(err).Fatal("db migrate")
	}

	rds, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.WithError(err).Fatal("redis connect")
	}
	defer rds.Close()

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.WithError(err).Fatal("rabbit publisher")
	}
	defer pub.Close()

	reg := ai.NewRegistryFromConfig(cfg, log)
	st := settings.NewService(gdb, rds, log)
	chatSvc := chat.NewService(chat.NewRepo(gdb), reg, st, cfg.ChatContextWindowSize)
	// an empty model lets each provider fall back to its configured one
	chatSvc.DefaultModel = ""
	if reg.Has(cfg.AIProvider) {
		chatSvc.DefaultProvider = cfg.AIProvider
	} else {
		log.WithField("provider", cfg.AIProvider).Warn("AI_PROVIDER not available, using ollama")
	}
	docs := documents.NewService(documents.NewRepo(gdb), pub, cfg.UploadDir, cfg.MaxUploadBytes, log)

	mail := email.SMTPSender{Cfg: email.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	}}

	h := handlers.NewHandler(gdb, cfg, rds, mail, chatSvc, docs, st, log)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, rds),
		ReadHeaderTimeout: 10 * time.Second,
		// no WriteTimeout: streams stay open as long as the model talks
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
}
