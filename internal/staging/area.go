// Package staging writes upload payloads to uniquely named temporary files
// and removes them once inference is done.
package staging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	filePrefix       = "upload-"
	defaultExtension = ".tmp"
	maxExtensionLen  = 15
)

// File is one staged payload. Release it exactly once per Stage call.
type File struct {
	Path string
	Size int64

	once sync.Once
}

// Stats counts staging activity since the area was created.
type Stats struct {
	Staged   int64
	Released int64
	Failed   int64
}

// Active is the number of staged files not yet released.
func (s Stats) Active() int64 {
	return s.Staged - s.Released
}

type Area struct {
	dir    string
	logger *zap.Logger

	staged   atomic.Int64
	released atomic.Int64
	failed   atomic.Int64
}

// NewArea prepares dir for staging. The directory is created if needed.
func NewArea(dir string, logger *zap.Logger) (*Area, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("staging directory must not be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	return &Area{dir: dir, logger: logger}, nil
}

func (a *Area) Dir() string {
	return a.dir
}

// Stage writes data to a new file whose name ends with ext. Nothing is left
// on disk when it fails.
func (a *Area) Stage(data []byte, ext string) (*File, error) {
	return a.StageReader(bytes.NewReader(data), ext)
}

// StageReader is Stage for streamed payloads.
func (a *Area) StageReader(r io.Reader, ext string) (staged *File, err error) {
	path := filepath.Join(a.dir, filePrefix+uuid.NewString()+normalizeExtension(ext))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		a.failed.Add(1)
		return nil, fmt.Errorf("create staged file: %w", err)
	}
	defer func() {
		if err != nil {
			a.failed.Add(1)
			_ = os.Remove(path)
		}
	}()

	size, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		return nil, fmt.Errorf("write staged file: %w", copyErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close staged file: %w", closeErr)
	}

	a.staged.Add(1)
	a.logger.Debug("staged upload", zap.String("path", path), zap.Int64("bytes", size))
	return &File{Path: path, Size: size}, nil
}

// Release removes the staged file. Calling it again is a no-op. Removal
// failures are logged, never returned.
func (a *Area) Release(f *File) {
	if f == nil {
		return
	}
	f.once.Do(func() {
		a.released.Add(1)
		if err := os.Remove(f.Path); err != nil {
			a.logger.Warn("failed to remove staged file", zap.String("path", f.Path), zap.Error(err))
			return
		}
		a.logger.Debug("released staged upload", zap.String("path", f.Path))
	})
}

func (a *Area) Stats() Stats {
	return Stats{
		Staged:   a.staged.Load(),
		Released: a.released.Load(),
		Failed:   a.failed.Load(),
	}
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	body := ext[1:]
	if body == "" || len(body) > maxExtensionLen {
		return defaultExtension
	}
	for _, r := range body {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultExtension
		}
	}
	return ext
}
