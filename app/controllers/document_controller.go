package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aihub/retrieval-go/app/bootstrap"
	"github.com/aihub/retrieval-go/internal/models"
	"github.com/aihub/retrieval-go/internal/services"
)

// DocumentController 文档摄取与删除
type DocumentController struct {
	BaseController
}

type ingestRequest struct {
	Title       string            `json:"title"`
	OwnerID     uint              `json:"owner_id"`
	Visibility  models.Visibility `json:"visibility"`
	Category    string            `json:"category"`
	Author      string            `json:"author"`
	ContentType string            `json:"content_type"`
	Content     string            `json:"content"`
	Strategy    string            `json:"strategy"` // semantic | sliding-window，默认semantic
}

// Ingest 摄取一篇文档：分块、向量化、入库并同步索引
func (c *DocumentController) Ingest() {
	var req ingestRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	doc := &models.Document{
		Title:       req.Title,
		OwnerID:     req.OwnerID,
		Visibility:  req.Visibility,
		Category:    req.Category,
		Author:      req.Author,
		ContentType: req.ContentType,
	}
	if doc.Visibility == "" {
		doc.Visibility = models.VisibilityPrivate
	}

	app := bootstrap.GetApp()
	chunks, err := app.IngestService.IngestDocument(
		c.Ctx.Request.Context(), doc, req.Content, services.ChunkStrategy(req.Strategy))
	if err != nil {
		c.HandleError(err)
		return
	}

	chunkIDs := make([]uint, len(chunks))
	for i, chunk := range chunks {
		chunkIDs[i] = chunk.ChunkID
	}
	c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"document_id": doc.DocumentID,
			"chunk_ids":   chunkIDs,
		},
	})
}

// Delete 删除文档及其分块，并联动清理关键词与向量索引
func (c *DocumentController) Delete() {
	documentID, err := strconv.ParseUint(c.Ctx.Input.Param(":id"), 10, 64)
	if err != nil {
		c.JSONError(http.StatusBadRequest, "invalid document id")
		return
	}

	ctx := c.Ctx.Request.Context()
	app := bootstrap.GetApp()

	chunkIDs, err := app.Store.ChunkIDsByDocument(ctx, uint(documentID))
	if err != nil {
		c.HandleError(err)
		return
	}
	if err := app.IngestService.DeleteDocument(ctx, uint(documentID), chunkIDs); err != nil {
		c.HandleError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"document_id":    documentID,
		"removed_chunks": len(chunkIDs),
	})
}
