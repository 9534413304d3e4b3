package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-saas/internal/chat"
	"github.com/suPer8Hu/ai-saas/internal/common"
	"github.com/suPer8Hu/ai-saas/internal/stream"
)

const messageIDTrailer = "X-Message-Id"

type completionReq struct {
	OldMessages []string `json:"oldMessages"`
	Message     string   `json:"message"`
}

type createSessionReq struct {
	Title    string `json:"title"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type renameSessionReq struct {
	Title string `json:"title" binding:"required"`
}

type sendMessageReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

type updateMessageReq struct {
	Content string `json:"content" binding:"required"`
}

// ChatCompletions streams the assistant reply for a client-held conversation.
func (h *Handler) ChatCompletions(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	var req completionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "message required")
		return
	}

	chunks, errs, err := h.ChatSvc.Complete(c.Request.Context(), uid, req.OldMessages, req.Message)
	if err != nil {
		h.failProvider(c, err)
		return
	}
	h.streamFrames(c, chunks, errs)
}

func (h *Handler) failProvider(c *gin.Context, err error) {
	if errors.Is(err, chat.ErrStreamingUnsupported) {
		common.Fail(c, http.StatusBadRequest, 40010, err.Error())
		return
	}
	h.logger(c).WithError(err).Error("ai provider")
	common.Fail(c, http.StatusBadGateway, 50201, "ai provider unavailable")
}

// streamFrames relays fragments as content frames, pinging while idle, and
// always ends with the sentinel. A provider error is sent as an error event first.
func (h *Handler) streamFrames(c *gin.Context, chunks <-chan string, errs <-chan error) error {
	stream.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	w := stream.NewFrameWriter(c.Writer)

	ctx := c.Request.Context()
	hb := h.Heartbeat
	if hb <= 0 {
		hb = 15 * time.Second
	}
	ticker := time.NewTicker(hb)
	defer ticker.Stop()

	for chunks != nil {
		select {
		case ch, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := w.WriteContent(ch); err != nil {
				return err
			}
		case <-ticker.C:
			if err := w.Ping(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var streamErr error
	select {
	case streamErr = <-errs:
	case <-ctx.Done():
		return ctx.Err()
	}
	if streamErr != nil {
		msg := "ai provider error"
		if errors.Is(streamErr, gorm.ErrRecordNotFound) {
			msg = "session not found"
		}
		h.logger(c).WithError(streamErr).Warn("stream aborted")
		_ = w.WriteError(msg)
	}
	_ = w.WriteDone()
	return streamErr
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}

	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), uid, req.Title, req.Provider, req.Model)
	if err != nil {
		if errors.Is(err, chat.ErrUnknownProvider) {
			common.Fail(c, http.StatusBadRequest, 10007, "unknown provider")
			return
		}
		h.logger(c).WithError(err).Error("create session")
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}

	common.OK(c, gin.H{"session_id": sess.SessionID, "session": sess})
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	sessions, err := h.ChatSvc.ListSessions(c.Request.Context(), uid, limit, offset)
	if err != nil {
		h.failLookup(c, err, 40004, "session")
		return
	}
	common.OK(c, gin.H{"sessions": sessions})
}

func (h *Handler) GetChatSession(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	sess, err := h.ChatSvc.GetSession(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		h.failLookup(c, err, 40004, "session")
		return
	}
	common.OK(c, gin.H{"session": sess})
}

func (h *Handler) RenameChatSession(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	var req renameSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sid := c.Param("session_id")
	if err := h.ChatSvc.RenameSession(c.Request.Context(), uid, sid, req.Title); err != nil {
		h.failLookup(c, err, 40004, "session")
		return
	}
	common.OK(c, gin.H{"session_id": sid, "title": strings.TrimSpace(req.Title)})
}

func (h *Handler) DeleteChatSession(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	sid := c.Param("session_id")
	if err := h.ChatSvc.DeleteSession(c.Request.Context(), uid, sid); err != nil {
		h.failLookup(c, err, 40004, "session")
		return
	}
	common.OK(c, gin.H{"session_id": sid, "deleted": true})
}

// SendChatMessage stores a user message. The Idempotency-Key header makes retries safe.
// With ?reply=true the assistant answers synchronously.
func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	ctx := c.Request.Context()

	if c.Query("reply") == "true" {
		reply, msgID, err := h.ChatSvc.SendMessage(ctx, uid, req.SessionID, req.Message)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				common.Fail(c, http.StatusNotFound, 40004, "session not found")
				return
			}
			h.logger(c).WithError(err).Error("send message")
			common.Fail(c, http.StatusBadGateway, 50201, "failed to send message")
			return
		}
		common.OK(c, gin.H{
			"session_id": req.SessionID,
			"reply":      reply,
			"message_id": msgID,
		})
		return
	}

	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(key) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var keyPtr *string
	if key != "" {
		keyPtr = &key
	}

	m, created, err := h.ChatSvc.InsertUserMessageOrGetExisting(ctx, uid, req.SessionID, req.Message, keyPtr)
	if err != nil {
		h.failLookup(c, err, 40004, "session")
		return
	}
	common.OK(c, gin.H{"message": m, "created": created})
}

func parseMessageID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid message id")
		return 0, false
	}
	return id, true
}

func (h *Handler) UpdateChatMessage(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id, ok := parseMessageID(c)
	if !ok {
		return
	}
	var req updateMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	m, err := h.ChatSvc.UpdateMessage(c.Request.Context(), uid, id, req.Content)
	if err != nil {
		h.failLookup(c, err, 40005, "message")
		return
	}
	common.OK(c, gin.H{"message": m})
}

func (h *Handler) DeleteChatMessage(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id, ok := parseMessageID(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.DeleteMessage(c.Request.Context(), uid, id); err != nil {
		h.failLookup(c, err, 40005, "message")
		return
	}
	common.OK(c, gin.H{"id": id, "deleted": true})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}

	sessionID := c.Param("session_id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	beforeIDStr := c.Query("before_id")
	var beforeID uint64
	if beforeIDStr != "" {
		if n, err := strconv.ParseUint(beforeIDStr, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, sessionID, limit, beforeID)
	if err != nil {
		h.failLookup(c, err, 40004, "session")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

// SendChatMessageStream streams the reply for a stored chat. The stored
// assistant message id is sent in the X-Message-Id trailer.
func (h *Handler) SendChatMessageStream(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ctx := c.Request.Context()
	if err := h.ChatSvc.ValidateSessionOwner(ctx, uid, req.SessionID); err != nil {
		h.failLookup(c, err, 40004, "session")
		return
	}

	c.Writer.Header().Set("Trailer", messageIDTrailer)
	chunks, _, msgIDCh, errs := h.ChatSvc.SendMessageStream(ctx, uid, req.SessionID, req.Message)
	if err := h.streamFrames(c, chunks, errs); err != nil {
		return
	}
	if id, ok := <-msgIDCh; ok {
		c.Writer.Header().Set(messageIDTrailer, strconv.FormatUint(id, 10))
	}
}
