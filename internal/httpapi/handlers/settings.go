package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/ai-saas/internal/common"
	"github.com/suPer8Hu/ai-saas/internal/models"
	"github.com/suPer8Hu/ai-saas/internal/settings"
)

type botSettingsReq struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

type promptReq struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *Handler) GetBotSettings(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	bs, err := h.Settings.BotSettings(c.Request.Context(), uid)
	if err != nil {
		h.failLookup(c, err, 40407, "settings")
		return
	}
	common.OK(c, gin.H{"settings": bs, "providers": h.ChatSvc.Providers()})
}

func (h *Handler) SaveBotSettings(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	var req botSettingsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Provider != "" && !h.ChatSvc.HasProvider(req.Provider) {
		common.Fail(c, http.StatusBadRequest, 10007, "unknown provider")
		return
	}
	bs, err := h.Settings.SaveBotSettings(c.Request.Context(), models.BotSettings{
		UserID:       uid,
		Provider:     req.Provider,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		h.logger(c).WithError(err).Error("save bot settings")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"settings": bs})
}

func (h *Handler) ListPrompts(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	prompts, err := h.Settings.ListPrompts(c.Request.Context(), uid)
	if err != nil {
		h.failLookup(c, err, 40408, "prompt")
		return
	}
	common.OK(c, gin.H{"prompts": prompts})
}

func (h *Handler) CreatePrompt(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	var req promptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	p, err := h.Settings.CreatePrompt(c.Request.Context(), uid, req.Title, req.Content)
	if err != nil {
		h.failPrompt(c, err)
		return
	}
	common.OK(c, gin.H{"prompt": p})
}

func (h *Handler) UpdatePrompt(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid prompt id")
		return
	}
	var req promptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	p, err := h.Settings.UpdatePrompt(c.Request.Context(), uid, id, req.Title, req.Content)
	if err != nil {
		h.failPrompt(c, err)
		return
	}
	common.OK(c, gin.H{"prompt": p})
}

func (h *Handler) DeletePrompt(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid prompt id")
		return
	}
	if err := h.Settings.DeletePrompt(c.Request.Context(), uid, id); err != nil {
		h.failLookup(c, err, 40408, "prompt")
		return
	}
	common.OK(c, gin.H{"id": id, "deleted": true})
}

func (h *Handler) failPrompt(c *gin.Context, err error) {
	if errors.Is(err, settings.ErrInvalidPrompt) {
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
		return
	}
	h.failLookup(c, err, 40408, "prompt")
}
