package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/ai-saas/internal/common"
	"github.com/suPer8Hu/ai-saas/internal/documents"
)

// UploadDocument accepts a multipart "file" and queues it for ingestion.
func (h *Handler) UploadDocument(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10008, "file required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10008, "file unreadable")
		return
	}
	defer f.Close()

	d, err := h.Docs.Upload(c.Request.Context(), uid, fh.Filename, f)
	switch {
	case errors.Is(err, documents.ErrTooLarge):
		common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "file too large")
		return
	case err != nil && d != nil:
		// stored but not queued
		h.logger(c).WithError(err).WithField("document_id", d.ID).Error("enqueue document")
		common.Fail(c, http.StatusServiceUnavailable, 50301, "ingestion queue unavailable")
		return
	case err != nil:
		h.logger(c).WithError(err).Error("upload document")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"document": d})
}

func (h *Handler) ListDocuments(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	docs, err := h.Docs.List(c.Request.Context(), uid)
	if err != nil {
		h.failLookup(c, err, 40406, "document")
		return
	}
	common.OK(c, gin.H{"documents": docs})
}

// DocumentStatus is polled by clients while ingestion runs.
func (h *Handler) DocumentStatus(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	d, err := h.Docs.Get(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		h.failLookup(c, err, 40406, "document")
		return
	}
	common.OK(c, gin.H{
		"id":         d.ID,
		"status":     d.Status,
		"chars":      d.Chars,
		"chunks":     d.Chunks,
		"error":      d.Error,
		"updated_at": d.UpdatedAt,
	})
}

func (h *Handler) DeleteDocument(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.Docs.Delete(c.Request.Context(), uid, id); err != nil {
		h.failLookup(c, err, 40406, "document")
		return
	}
	common.OK(c, gin.H{"id": id, "deleted": true})
}
