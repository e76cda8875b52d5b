package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/fmueller/whisperd/internal/transcription"
	"github.com/fmueller/whisperd/internal/upload"
	"github.com/fmueller/whisperd/internal/version"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const uploadField = "file"

const (
	modelNotLoadedDetail = "Whisper model not loaded"
	tooLargeDetail       = "Uploaded file is too large"
)

type detailResponse struct {
	Detail string `json:"detail"`
}

type rootResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

type healthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	ModelLoaded bool   `json:"model_loaded"`
	Version     string `json:"version"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, rootResponse{
		Message: version.ServiceTitle + " is running",
		Status:  "healthy",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	loaded := s.service.Ready()
	status := "healthy"
	if !loaded {
		status = "unhealthy"
	}
	c.JSON(http.StatusOK, healthResponse{
		Status:      status,
		Service:     version.ServiceName,
		ModelLoaded: loaded,
		Version:     version.Version,
	})
}

func (s *Server) handleTranscribe(c *gin.Context) {
	if s.opts.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
	}

	part, err := uploadPart(c.Request)
	if err != nil {
		status, detail := formError(err)
		abortWithDetail(c, status, detail)
		return
	}
	defer part.Close()

	// The part streams straight from the request body; the service validates
	// the upload before reading it, so rejected payloads never reach disk.
	result, err := s.service.Transcribe(c.Request.Context(), transcription.Upload{
		Filename:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Body:        part,
	})
	if err != nil {
		status, detail := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("transcription request failed", zap.Int("status", status), zap.Error(err))
		}
		abortWithDetail(c, status, detail)
		return
	}

	c.JSON(http.StatusOK, result)
}

// uploadPart advances the multipart stream to the file part named "file".
// Parts before it are discarded unread.
func uploadPart(r *http.Request) (*multipart.Part, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, http.ErrMissingFile
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == uploadField && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

// statusFor maps service errors to responses. Not-ready, staging and
// inference failures are all server errors.
func statusFor(err error) (int, string) {
	var (
		validationErr *upload.ValidationError
		maxBytesErr   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, tooLargeDetail
	case errors.Is(err, transcription.ErrModelNotReady):
		return http.StatusInternalServerError, modelNotLoadedDetail
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func formError(err error) (int, string) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, tooLargeDetail
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
		return http.StatusUnprocessableEntity, "Field 'file' is required"
	default:
		return http.StatusUnprocessableEntity, "Invalid multipart form: " + err.Error()
	}
}

func abortWithDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, detailResponse{Detail: detail})
}
