package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/timecapsule/internal/logger"
	"github.com/timmy/timecapsule/internal/service"
)

const (
	scopeGenerations = "api/generations"

	// multipartOverhead covers boundaries and part headers on top of the file.
	multipartOverhead = 1 << 20
)

// GenerationHandler handles portrait generation endpoints.
type GenerationHandler struct {
	generationService *service.GenerationService
	maxUploadBytes    int64
}

// NewGenerationHandler creates a new generation handler.
// Parameters:
//   - generationService: submission, status and listing use cases.
//   - maxUploadBytes: request body cap for uploads; 0 disables it.
//
// Returns:
//   - *GenerationHandler: initialized handler.
func NewGenerationHandler(generationService *service.GenerationService, maxUploadBytes int64) *GenerationHandler {
	return &GenerationHandler{
		generationService: generationService,
		maxUploadBytes:    maxUploadBytes,
	}
}

// Create handles POST /generations.
// Expects a multipart form with the image in the "portrait" field.
// Responds 201 {data:{runId}} once the run is queued.
func (h *GenerationHandler) Create(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}

	var input *service.SubmitInput
	fileHeader, err := c.FormFile("portrait")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			writeError(c, scopeGenerations, service.ValidationError(scopeGenerations, service.MsgPortraitTooLarge))
			return
		}
		if !errors.Is(err, http.ErrMissingFile) {
			logger.FromContext(c.Request.Context()).WithError(err).Warn("Could not parse portrait upload")
		}
	} else {
		data, err := readFormFile(fileHeader)
		if err != nil {
			writeError(c, scopeGenerations, err)
			return
		}
		input = &service.SubmitInput{
			Filename:    fileHeader.Filename,
			ContentType: fileHeader.Header.Get("Content-Type"),
			Data:        data,
		}
	}

	runID, err := h.generationService.Submit(c.Request.Context(), input)
	if err != nil {
		writeError(c, scopeGenerations, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data": gin.H{"runId": runID},
	})
}

// Get handles GET /generations/:id.
func (h *GenerationHandler) Get(c *gin.Context) {
	view, err := h.generationService.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "api/generation", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

// List handles GET /generations?limit=N.
func (h *GenerationHandler) List(c *gin.Context) {
	limit := service.ClampListLimit(c.Query("limit"))

	summaries, count, err := h.generationService.ListRuns(c.Request.Context(), limit)
	if err != nil {
		writeError(c, scopeGenerations, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  summaries,
		"count": count,
	})
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}
