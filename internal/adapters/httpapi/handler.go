package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
)

// AnalysisService is the part of core.AnalysisService the API serves
type AnalysisService interface {
	Create(ctx context.Context, ownerID string, in core.NewAnalysis) (*core.AnalysisRecord, error)
	Get(ctx context.Context, ownerID, id string) (*core.AnalysisRecord, error)
	Delete(ctx context.Context, ownerID, id string) error
	Stream(ctx context.Context, ownerID, id string, sink core.NarrativeSink) (core.StreamOutcome, error)
}

// AnalysisHandler serves the analysis endpoints
type AnalysisHandler struct {
	service AnalysisService
	logger  *zap.Logger
}

// NewAnalysisHandler creates a new handler
func NewAnalysisHandler(service AnalysisService, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{service: service, logger: logger}
}

// AttachmentRequest is a file sent inline in a JSON request
type AttachmentRequest struct {
	Filename      string `json:"filename" binding:"required"`
	MimeType      string `json:"mime_type"`
	ContentBase64 string `json:"content_base64" binding:"required"`
}

// CreateAnalysisRequest is the JSON body of POST /analyses
type CreateAnalysisRequest struct {
	Title       string              `json:"title"`
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	Attachments []AttachmentRequest `json:"attachments"`
}

// Create accepts JSON or multipart/form-data
func (h *AnalysisHandler) Create(c *gin.Context) {
	var (
		in  core.NewAnalysis
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		in, err = readMultipart(c)
	} else {
		in, err = readJSON(c)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.service.Create(c.Request.Context(), ownerID(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func readJSON(c *gin.Context) (core.NewAnalysis, error) {
	var req CreateAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return core.NewAnalysis{}, fmt.Errorf("invalid request body: %w", err)
	}
	in := core.NewAnalysis{Title: req.Title, Subject: req.Subject, Body: req.Body}
	for _, a := range req.Attachments {
		content, err := base64.StdEncoding.DecodeString(a.ContentBase64)
		if err != nil {
			return core.NewAnalysis{}, fmt.Errorf("attachment %s: invalid base64", a.Filename)
		}
		in.Attachments = append(in.Attachments, core.NewAttachment{
			Filename: a.Filename,
			MimeType: a.MimeType,
			Content:  content,
		})
	}
	return in, nil
}

func readMultipart(c *gin.Context) (core.NewAnalysis, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return core.NewAnalysis{}, fmt.Errorf("invalid multipart form: %w", err)
	}
	in := core.NewAnalysis{
		Title:   c.PostForm("title"),
		Subject: c.PostForm("subject"),
		Body:    c.PostForm("body"),
	}

	files := form.File["files"]
	if len(files) > core.MaxAttachments {
		return core.NewAnalysis{}, fmt.Errorf("at most %d attachments", core.MaxAttachments)
	}
	for _, fh := range files {
		if fh.Size > core.MaxAttachmentBytes {
			return core.NewAnalysis{}, fmt.Errorf("%s exceeds %d bytes", fh.Filename, core.MaxAttachmentBytes)
		}
		f, err := fh.Open()
		if err != nil {
			return core.NewAnalysis{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return core.NewAnalysis{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}
		in.Attachments = append(in.Attachments, core.NewAttachment{
			Filename: fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Content:  content,
		})
	}
	return in, nil
}

// Get returns the analysis record
func (h *AnalysisHandler) Get(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Delete removes the analysis record
func (h *AnalysisHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), ownerID(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Stream writes the narrative as chunked plain text
func (h *AnalysisHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	owner, id := ownerID(c), c.Param("id")

	if _, err := h.service.Get(ctx, owner, id); err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-store")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	outcome, err := h.service.Stream(ctx, owner, id, &responseSink{w: c.Writer})
	switch {
	case err == nil:
		h.logger.Debug("Narrative stream finished", zap.String("analysis_id", id), zap.String("outcome", string(outcome)))
	case errors.Is(err, core.ErrAnalysisFailed):
		h.logger.Info("Narrative stream ended with a failed analysis", zap.String("analysis_id", id), zap.Error(err))
	default:
		h.logger.Warn("Narrative stream interrupted", zap.String("analysis_id", id),
			zap.String("outcome", string(outcome)), zap.Error(err))
	}
}

func (h *AnalysisHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "analysis not found"})
	case errors.Is(err, core.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// responseSink forwards narrative chunks to the client as they arrive
type responseSink struct {
	w gin.ResponseWriter
}

func (s *responseSink) WriteChunk(chunk string) error {
	if _, err := io.WriteString(s.w, chunk); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}
