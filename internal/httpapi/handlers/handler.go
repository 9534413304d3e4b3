package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-saas/internal/chat"
	"github.com/suPer8Hu/ai-saas/internal/common"
	"github.com/suPer8Hu/ai-saas/internal/config"
	"github.com/suPer8Hu/ai-saas/internal/documents"
	"github.com/suPer8Hu/ai-saas/internal/email"
	"github.com/suPer8Hu/ai-saas/internal/httpapi/middleware"
	"github.com/suPer8Hu/ai-saas/internal/settings"
)

// TokenStore holds verification codes and signed-out tokens.
// redisstore.Store implements it.
type TokenStore interface {
	SetCaptcha(ctx context.Context, email, code string) error
	GetCaptcha(ctx context.Context, email string) (string, error)
	DeleteCaptcha(ctx context.Context, email string) error
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
}

type Handler struct {
	DB       *gorm.DB
	Cfg      config.Config
	Tokens   TokenStore
	Mail     email.Sender
	ChatSvc  *chat.Service
	Docs     *documents.Service
	Settings *settings.Service
	Log      logrus.FieldLogger

	// Heartbeat is the idle interval between ": ping" comments on streams.
	Heartbeat time.Duration
}

func NewHandler(db *gorm.DB, cfg config.Config, tokens TokenStore, mail email.Sender,
	chatSvc *chat.Service, docs *documents.Service, st *settings.Service, log logrus.FieldLogger) *Handler {
	return &Handler{
		DB:        db,
		Cfg:       cfg,
		Tokens:    tokens,
		Mail:      mail,
		ChatSvc:   chatSvc,
		Docs:      docs,
		Settings:  st,
		Log:       log,
		Heartbeat: 15 * time.Second,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	s, ok := middleware.SessionFrom(c)
	if !ok {
		return 0, false
	}
	return s.UserID, true
}

// mustUser writes 401 when the guard did not run.
func mustUser(c *gin.Context) (uint64, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}

// failLookup maps gorm.ErrRecordNotFound to 404 and everything else to 500.
func (h *Handler) failLookup(c *gin.Context, err error, notFoundCode int, what string) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		common.Fail(c, http.StatusNotFound, notFoundCode, what+" not found")
		return
	}
	h.logger(c).WithError(err).Error(what)
	common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
}

func (h *Handler) logger(c *gin.Context) logrus.FieldLogger {
	l := h.Log.WithField("request_id", c.GetString(middleware.RequestIDKey))
	if uid, ok := userIDFromContext(c); ok {
		l = l.WithField("user_id", uid)
	}
	return l
}
