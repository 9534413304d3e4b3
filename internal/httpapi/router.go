package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/ai-saas/internal/auth"
	"github.com/suPer8Hu/ai-saas/internal/common"
	"github.com/suPer8Hu/ai-saas/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-saas/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, revoker auth.Revoker) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(h.Log))
	r.Use(middleware.Recovery(h.Log))
	r.Use(middleware.CORS(h.Cfg.CORSOrigins))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	// captcha
	r.POST("/captcha", h.SendCaptcha)

	// sign-up / sign-in
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	guard := auth.Guard{
		Secret:     h.Cfg.JWTSecret,
		SignInPath: h.Cfg.SignInPath,
		Revoker:    revoker,
	}
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(guard, h.Log))

	authGroup.POST("/logout", h.Logout)
	authGroup.GET("/me", h.Me)
	authGroup.PUT("/me/password", h.ChangePassword)
	authGroup.DELETE("/me", h.DeleteAccount)

	// Chat (JWT required)
	authGroup.POST("/chat/completions", h.ChatCompletions)
	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.GET("/chat/sessions/:session_id", h.GetChatSession)
	authGroup.PATCH("/chat/sessions/:session_id", h.RenameChatSession)
	authGroup.DELETE("/chat/sessions/:session_id", h.DeleteChatSession)
	authGroup.GET("/chat/sessions/:session_id/messages", h.ListChatMessages)
	authGroup.POST("/chat/messages", h.SendChatMessage)
	authGroup.PATCH("/chat/messages/:id", h.UpdateChatMessage)
	authGroup.DELETE("/chat/messages/:id", h.DeleteChatMessage)
	authGroup.POST("/chat/messages/stream", h.SendChatMessageStream)

	// Documents
	authGroup.POST("/documents", h.UploadDocument)
	authGroup.GET("/documents", h.ListDocuments)
	authGroup.GET("/documents/:id/status", h.DocumentStatus)
	authGroup.DELETE("/documents/:id", h.DeleteDocument)

	// Bot settings and saved prompts
	authGroup.GET("/bot/settings", h.GetBotSettings)
	authGroup.PUT("/bot/settings", h.SaveBotSettings)
	authGroup.GET("/prompts", h.ListPrompts)
	authGroup.POST("/prompts", h.CreatePrompt)
	authGroup.PUT("/prompts/:id", h.UpdatePrompt)
	authGroup.DELETE("/prompts/:id", h.DeletePrompt)

	admin := authGroup.Group("/admin", middleware.RequireAdmin())
	admin.GET("/users", h.AdminListUsers)
	admin.GET("/stats", h.AdminStats)

	return r
}
