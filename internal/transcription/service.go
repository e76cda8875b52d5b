// Package transcription runs one upload through validation, staging and
// inference and builds the result returned to clients.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fmueller/whisperd/internal/model"
	"github.com/fmueller/whisperd/internal/staging"
	"github.com/fmueller/whisperd/internal/upload"
	"github.com/fmueller/whisperd/internal/whisper"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// UnknownLanguage is reported when the engine does not detect a language.
const UnknownLanguage = "unknown"

// ErrModelNotReady is returned for every upload received before the model
// finished loading.
var ErrModelNotReady = errors.New("model not loaded")

// State is a terminal or intermediate step of a transcription request.
type State string

const (
	StateReceived              State = "received"
	StateModelReadinessChecked State = "model_readiness_checked"
	StateValidated             State = "validated"
	StateStaged                State = "staged"
	StateTranscribed           State = "transcribed"
	StateSuccess               State = "success"
	StateRejectedModelNotReady State = "rejected_model_not_ready"
	StateRejectedBadInput      State = "rejected_bad_input"
	StateFailed                State = "failed"
)

// Error is a failure while reading, staging or transcribing an accepted
// upload.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("Error during transcription: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

type Result struct {
	Transcription string `json:"transcription"`
	Language      string `json:"language"`
	Success       bool   `json:"success"`
	Filename      string `json:"filename"`
}

// ModelSource is satisfied by *model.Manager.
type ModelSource interface {
	Ready() bool
	Model() (model.Model, error)
}

type Options struct {
	Models  ModelSource
	Staging *staging.Area
	Logger  *zap.Logger

	// MaxConcurrent bounds simultaneous inference calls. Zero means unbounded.
	MaxConcurrent int
	// InferenceTimeout caps one inference call. Zero means no limit.
	InferenceTimeout time.Duration
}

type Service struct {
	models  ModelSource
	staging *staging.Area
	logger  *zap.Logger
	sem     *semaphore.Weighted
	timeout time.Duration
}

func NewService(opts Options) (*Service, error) {
	if opts.Models == nil {
		return nil, errors.New("model source is required")
	}
	if opts.Staging == nil {
		return nil, errors.New("staging area is required")
	}
	if opts.MaxConcurrent < 0 {
		return nil, fmt.Errorf("max concurrent must not be negative, got %d", opts.MaxConcurrent)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		models:  opts.Models,
		staging: opts.Staging,
		logger:  logger,
		timeout: opts.InferenceTimeout,
	}
	if opts.MaxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return s, nil
}

func (s *Service) Ready() bool {
	return s.models.Ready()
}

// Transcribe handles one upload. Client cancellation does not interrupt an
// inference call that has already started.
func (s *Service) Transcribe(ctx context.Context, in Upload) (*Result, error) {
	logger := s.logger.With(zap.String("request_id", uuid.NewString()), zap.String("filename", in.Filename))

	if !s.models.Ready() {
		logger.Warn("rejected upload", zap.String("state", string(StateRejectedModelNotReady)))
		return nil, ErrModelNotReady
	}
	instance, err := s.models.Model()
	if err != nil {
		return nil, ErrModelNotReady
	}

	if err := upload.Validate(in.ContentType, in.Filename); err != nil {
		logger.Info("rejected upload",
			zap.String("state", string(StateRejectedBadInput)),
			zap.String("content_type", in.ContentType))
		return nil, err
	}

	if in.Body == nil {
		return nil, &Error{State: StateFailed, Err: errors.New("upload has no body")}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, &Error{State: StateFailed, Err: fmt.Errorf("read upload: %w", err)}
	}

	logger.Info("transcribing upload", zap.Int("bytes", len(data)))

	staged, err := s.staging.Stage(data, upload.SuggestedExtension(in.Filename))
	if err != nil {
		logger.Error("failed to stage upload", zap.Error(err))
		return nil, &Error{State: StateFailed, Err: err}
	}
	defer s.staging.Release(staged)

	started := time.Now()
	out, err := s.infer(ctx, instance, staged.Path)
	if err != nil {
		logger.Error("transcription failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		return nil, &Error{State: StateFailed, Err: err}
	}

	language := strings.TrimSpace(out.Language)
	if language == "" {
		language = UnknownLanguage
	}

	result := &Result{
		Transcription: strings.TrimSpace(out.Text),
		Language:      language,
		Success:       true,
		Filename:      in.Filename,
	}
	logger.Info("transcription completed",
		zap.String("language", result.Language),
		zap.Duration("elapsed", time.Since(started)))
	return result, nil
}

func (s *Service) infer(ctx context.Context, instance model.Model, path string) (whisper.Transcription, error) {
	ctx = context.WithoutCancel(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return whisper.Transcription{}, fmt.Errorf("wait for inference slot: %w", err)
		}
		defer s.sem.Release(1)
	}

	return instance.Transcribe(ctx, path)
}
