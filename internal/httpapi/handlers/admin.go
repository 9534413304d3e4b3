package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/ai-saas/internal/common"
	"github.com/suPer8Hu/ai-saas/internal/models"
)

func (h *Handler) AdminListUsers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}

	var users []models.User
	if err := h.DB.WithContext(c.Request.Context()).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&users).Error; err != nil {
		h.failLookup(c, err, 40401, "user")
		return
	}
	var total int64
	if err := h.DB.WithContext(c.Request.Context()).Model(&models.User{}).Count(&total).Error; err != nil {
		h.failLookup(c, err, 40401, "user")
		return
	}
	common.OK(c, gin.H{"users": users, "total": total})
}

func (h *Handler) AdminStats(c *gin.Context) {
	ctx := c.Request.Context()
	var users int64
	if err := h.DB.WithContext(ctx).Model(&models.User{}).Count(&users).Error; err != nil {
		h.failLookup(c, err, 40401, "user")
		return
	}
	chats, err := h.ChatSvc.Stats(ctx)
	if err != nil {
		h.failLookup(c, err, 40004, "session")
		return
	}
	docs, err := h.Docs.CountByStatus(ctx)
	if err != nil {
		h.failLookup(c, err, 40406, "document")
		return
	}
	common.OK(c, gin.H{
		"users":     users,
		"sessions":  chats.Sessions,
		"messages":  chats.Messages,
		"documents": docs,
	})
}
