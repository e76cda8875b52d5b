package model

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fmueller/whisperd/internal/download"
	"github.com/fmueller/whisperd/internal/whisper"
	"go.uber.org/zap"
)

// EngineModel binds an engine to one model file and a language setting.
type EngineModel struct {
	Engine    whisper.Engine
	ModelPath string
	Language  string
}

func (m *EngineModel) Transcribe(ctx context.Context, audioPath string) (whisper.Transcription, error) {
	return m.Engine.Transcribe(ctx, whisper.TranscriptionRequest{
		AudioPath: audioPath,
		ModelPath: m.ModelPath,
		Language:  m.Language,
	})
}

// WhisperCLILoader resolves a ggml model on disk, downloading named models
// when allowed, and binds it to a whisper-cli engine.
type WhisperCLILoader struct {
	ModelDir     string
	AutoDownload bool
	Language     string
	Engine       *whisper.BundledEngine
	Progress     *os.File
	Logger       *zap.Logger
	HTTPFetch    func(ctx context.Context, opts download.Options) error
}

func (l *WhisperCLILoader) Load(ctx context.Context, name string) (Model, error) {
	if l.Engine == nil {
		return nil, errors.New("whisper engine is not configured")
	}
	if err := l.Engine.Verify(); err != nil {
		return nil, err
	}

	resolved, err := EnsureModel(ctx, EnsureOptions{
		Name:         name,
		ModelDir:     l.ModelDir,
		AutoDownload: l.AutoDownload,
		Progress:     l.Progress,
		Logger:       l.Logger,
		Fetch:        l.HTTPFetch,
	})
	if err != nil {
		return nil, err
	}

	return &EngineModel{Engine: l.Engine, ModelPath: resolved.Path, Language: l.Language}, nil
}

type EnsureOptions struct {
	Name         string
	ModelDir     string
	AutoDownload bool
	Progress     *os.File
	Logger       *zap.Logger
	Fetch        func(ctx context.Context, opts download.Options) error
}

// EnsureModel resolves a model reference and downloads it when it is a
// missing named model.
func EnsureModel(ctx context.Context, opts EnsureOptions) (whisper.ResolvedModel, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fetch := opts.Fetch
	if fetch == nil {
		fetch = download.DownloadFile
	}

	resolved, err := whisper.ResolveModel(opts.Name, opts.ModelDir)
	if err != nil {
		return whisper.ResolvedModel{}, err
	}

	if !resolved.NeedsDownload {
		return resolved, nil
	}

	if !opts.AutoDownload {
		return whisper.ResolvedModel{}, fmt.Errorf("model %q is missing at %s; run `whisperd setup --model %s` or enable auto download", resolved.Name, resolved.Path, resolved.Name)
	}

	logger.Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
	if err := fetch(ctx, download.Options{
		URL:            resolved.URL,
		Destination:    resolved.Path,
		ExpectedSHA256: resolved.SHA256,
		ChecksumURL:    resolved.SHA256URL,
		Progress:       opts.Progress,
		Logger:         logger,
	}); err != nil {
		return whisper.ResolvedModel{}, fmt.Errorf("download model %q: %w", resolved.Name, err)
	}

	resolved.NeedsDownload = false
	return resolved, nil
}

// OpenAILoader binds the hosted engine. The model name is the remote model id
// and is fixed when the engine is built.
type OpenAILoader struct {
	Engine   *whisper.OpenAIEngine
	Language string
}

func (l *OpenAILoader) Load(_ context.Context, name string) (Model, error) {
	if l.Engine == nil {
		return nil, errors.New("openai engine is not configured")
	}
	if name != "" && name != l.Engine.ModelID() {
		return nil, fmt.Errorf("openai engine is configured for %q, not %q", l.Engine.ModelID(), name)
	}
	return &EngineModel{Engine: l.Engine, Language: l.Language}, nil
}
