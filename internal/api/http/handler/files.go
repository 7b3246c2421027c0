package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/EternisAI/silo-portal/internal/api/http/dto"
	"github.com/EternisAI/silo-portal/internal/operations"
	"github.com/EternisAI/silo-portal/internal/protocol"
	"github.com/gin-gonic/gin"
)

const DefaultMaxUploadBytes = 100 << 20

type FilesHandler struct {
	dispatcher     *Dispatcher
	correlator     *operations.Correlator
	maxUploadBytes int64
}

func NewFilesHandler(dispatcher *Dispatcher, correlator *operations.Correlator, maxUploadBytes int64) *FilesHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &FilesHandler{
		dispatcher:     dispatcher,
		correlator:     correlator,
		maxUploadBytes: maxUploadBytes,
	}
}

// ListFiles asks the agent for a directory listing and waits for it
// GET /api/files/list/:agentId?path=
func (h *FilesHandler) ListFiles(c *gin.Context) {
	path := c.DefaultQuery("path", "/")
	h.dispatcher.dispatchAndAwait(c, protocol.KindList, path, &protocol.FileListRequest{Path: path})
}

// UploadFile forwards a multipart file to the agent
// POST /api/files/upload/:agentId
func (h *FilesHandler) UploadFile(c *gin.Context) {
	// Multipart framing adds a little on top of the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)

	targetPath := c.PostForm("path")
	file, header, err := c.Request.FormFile("file")
	if err != nil || targetPath == "" {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "File and target path are required"})
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		slog.Error("Failed to read uploaded file", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}

	id, ok := h.dispatcher.dispatch(c, protocol.KindUpload, targetPath, &protocol.FileUpload{
		Path:     targetPath,
		FileName: header.Filename,
		Content:  content,
	})
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "File upload initiated",
		"operationId": id,
		"fileName":    header.Filename,
		"targetPath":  targetPath,
	})
}

// DELETE /api/files/delete/:agentId
func (h *FilesHandler) DeleteFile(c *gin.Context) {
	var req dto.DeleteFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File path is required"})
		return
	}

	id, ok := h.dispatcher.dispatch(c, protocol.KindDelete, req.Path, &protocol.FileDelete{Path: req.Path})
	if !ok {
		return
	}
	h.dispatcher.accepted(c, id, "File deletion initiated", req.Path)
}

// ListOperations returns the operation history, newest first
// GET /api/files/operations?agentId=&limit=
func (h *FilesHandler) ListOperations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(operations.DefaultListLimit)))

	ops, err := h.correlator.List(c.Request.Context(), operations.Filter{
		AgentID: c.Query("agentId"),
		Limit:   limit,
	})
	if err != nil {
		slog.Error("Failed to list operations", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	responses := make([]dto.OperationResponse, len(ops))
	for i := range ops {
		responses[i] = toOperationResponse(&ops[i])
	}
	c.JSON(http.StatusOK, dto.ListOperationsResponse{Operations: responses, Count: len(responses)})
}
