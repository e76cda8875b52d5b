// Package model owns the process-wide speech model: it is loaded once during
// startup and shared read-only by every request afterwards.
package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fmueller/whisperd/internal/whisper"
	"go.uber.org/zap"
)

var (
	ErrNotReady      = errors.New("model not loaded")
	ErrAlreadyLoaded = errors.New("model already loaded")
)

// Model is a loaded speech model. Implementations must be safe for
// concurrent use.
type Model interface {
	Transcribe(ctx context.Context, audioPath string) (whisper.Transcription, error)
}

type Loader interface {
	Load(ctx context.Context, name string) (Model, error)
}

type LoaderFunc func(ctx context.Context, name string) (Model, error)

func (f LoaderFunc) Load(ctx context.Context, name string) (Model, error) {
	return f(ctx, name)
}

// LoadError is fatal at startup.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %q: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type loaded struct {
	name  string
	model Model
}

// Manager holds the single model instance. Ready and Model never block on an
// in-flight Load.
type Manager struct {
	loader Loader
	logger *zap.Logger

	loadMu  sync.Mutex
	current atomic.Pointer[loaded]
}

func NewManager(loader Loader, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{loader: loader, logger: logger}
}

// Load runs the loader. It may succeed at most once; a failed load leaves the
// manager not ready and is reported as *LoadError.
func (m *Manager) Load(ctx context.Context, name string) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if m.current.Load() != nil {
		return ErrAlreadyLoaded
	}

	m.logger.Info("loading model", zap.String("model", name))
	started := time.Now()

	instance, err := m.loader.Load(ctx, name)
	if err == nil && instance == nil {
		err = errors.New("loader returned no model")
	}
	if err != nil {
		m.logger.Error("failed to load model", zap.String("model", name), zap.Error(err))
		return &LoadError{Name: name, Err: err}
	}

	m.current.Store(&loaded{name: name, model: instance})
	m.logger.Info("model loaded", zap.String("model", name), zap.Duration("elapsed", time.Since(started)))
	return nil
}

func (m *Manager) Ready() bool {
	return m.current.Load() != nil
}

// Model returns the loaded instance or ErrNotReady.
func (m *Manager) Model() (Model, error) {
	current := m.current.Load()
	if current == nil {
		return nil, ErrNotReady
	}
	return current.model, nil
}

func (m *Manager) Name() string {
	if current := m.current.Load(); current != nil {
		return current.name
	}
	return ""
}
