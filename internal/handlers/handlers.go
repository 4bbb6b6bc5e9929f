package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/caption-api/internal/apperr"
	"github.com/Brownie44l1/caption-api/internal/caption"
	"github.com/Brownie44l1/caption-api/internal/model"
)

// multipart framing on top of the file itself
const formOverhead = 1 << 20

// Captioner is the part of caption.Captioner the handlers use.
type Captioner interface {
	Caption(image []byte) (string, error)
	CaptionFeatures(vec []float32) (string, error)
	Info() caption.Info
	Stats() []model.Stats
}

type CaptionResponse struct {
	Caption string `json:"caption"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type FeaturesRequest struct {
	Features []float32 `json:"features"`
}

type Handler struct {
	captioner      Captioner
	maxUploadBytes int64
}

func NewHandler(captioner Captioner, maxUploadBytes int64) *Handler {
	return &Handler{
		captioner:      captioner,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) Health(c *gin.Context) {
	info := h.captioner.Info()
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"runtime":      info.Runtime,
		"max_length":   info.MaxLength,
		"vocab_size":   info.VocabSize,
		"feature_size": info.FeatureSize,
	})
}

func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.captioner.Stats()})
}

// Predict captions an image uploaded as multipart field "file" or "image".
func (h *Handler) Predict(c *gin.Context) {
	log := Logger(c)

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+formOverhead)
	}

	file, header, err := formFile(c, "file", "image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, apperr.Input("File too large. Maximum size is %d bytes", h.maxUploadBytes))
			return
		}
		h.fail(c, apperr.Input("No file provided. Use 'file' as the form field name"))
		return
	}
	defer file.Close()

	log.Infow("Received file", "filename", header.Filename, "size", header.Size)

	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		h.fail(c, apperr.Input("File too large. Maximum size is %d bytes", h.maxUploadBytes))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(c, apperr.Input("Failed to read uploaded file"))
		return
	}

	text, err := h.captioner.Caption(data)
	if err != nil {
		h.fail(c, err)
		return
	}

	log.Infow("Generated caption", "caption", text)
	c.JSON(http.StatusOK, CaptionResponse{Caption: text})
}

// PredictFromFeatures captions a precomputed feature vector sent as JSON.
func (h *Handler) PredictFromFeatures(c *gin.Context) {
	var req FeaturesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Input("Invalid JSON"))
		return
	}

	text, err := h.captioner.CaptionFeatures(req.Features)
	if err != nil {
		h.fail(c, err)
		return
	}

	Logger(c).Infow("Generated caption", "caption", text, "source", "features")
	c.JSON(http.StatusOK, CaptionResponse{Caption: text})
}

func formFile(c *gin.Context, fields ...string) (multipart.File, *multipart.FileHeader, error) {
	var lastErr error
	for _, field := range fields {
		file, header, err := c.Request.FormFile(field)
		if err == nil {
			return file, header, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, err
		}
		lastErr = err
	}
	return nil, nil, lastErr
}

// fail writes the public message for err. Internal detail only goes to the log.
func (h *Handler) fail(c *gin.Context, err error) {
	status := apperr.StatusCode(err)
	if status >= http.StatusInternalServerError {
		Logger(c).Errorw("Request failed", "error", err)
	} else {
		Logger(c).Warnw("Rejected request", "error", err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: apperr.PublicMessage(err)})
}
