package staging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newArea(t *testing.T) *Area {
	t.Helper()

	area, err := NewArea(filepath.Join(t.TempDir(), "staging"), nil)
	require.NoError(t, err)
	return area
}

func TestNewAreaCreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "a", "b")
	area, err := NewArea(dir, nil)
	require.NoError(t, err)
	require.Equal(t, dir, area.Dir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	_, err = NewArea(" ", nil)
	require.Error(t, err)
}

func TestStageWritesPayload(t *testing.T) {
	t.Parallel()

	area := newArea(t)
	f, err := area.Stage([]byte("RIFF....WAVE"), ".WAV")
	require.NoError(t, err)

	require.Equal(t, area.Dir(), filepath.Dir(f.Path))
	require.True(t, strings.HasPrefix(filepath.Base(f.Path), "upload-"))
	require.True(t, strings.HasSuffix(f.Path, ".wav"))
	require.EqualValues(t, 12, f.Size)

	data, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	require.Equal(t, "RIFF....WAVE", string(data))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(f.Path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestStageUsesUniqueNames(t *testing.T) {
	t.Parallel()

	area := newArea(t)
	var (
		mu    sync.Mutex
		paths = map[string]struct{}{}
		wg    sync.WaitGroup
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := area.Stage([]byte("x"), ".mp3")
			require.NoError(t, err)
			mu.Lock()
			paths[f.Path] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, paths, 50)
	require.EqualValues(t, 50, area.Stats().Active())
}

func TestReleaseRemovesFileOnce(t *testing.T) {
	t.Parallel()

	area := newArea(t)
	f, err := area.Stage([]byte("x"), ".ogg")
	require.NoError(t, err)

	area.Release(f)
	area.Release(f)
	area.Release(nil)

	_, err = os.Stat(f.Path)
	require.ErrorIs(t, err, os.ErrNotExist)

	stats := area.Stats()
	require.EqualValues(t, 1, stats.Staged)
	require.EqualValues(t, 1, stats.Released)
	require.Zero(t, stats.Active())
}

func TestReleaseLogsRemovalFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	area, err := NewArea(t.TempDir(), zap.New(core))
	require.NoError(t, err)

	// A non-empty directory cannot be removed with os.Remove.
	dir := filepath.Join(area.Dir(), "upload-blocked.wav")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "child"), 0o700))

	area.Release(&File{Path: dir})

	entries := logs.FilterMessage("failed to remove staged file").All()
	require.Len(t, entries, 1)
	require.Equal(t, dir, entries[0].ContextMap()["path"])
}

func TestReleaseWarnsWhenFileAlreadyGone(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	area, err := NewArea(t.TempDir(), zap.New(core))
	require.NoError(t, err)

	f, err := area.Stage([]byte("x"), ".wav")
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.Path))

	require.NotPanics(t, func() { area.Release(f) })
	require.Equal(t, 1, logs.FilterMessage("failed to remove staged file").Len())
	require.EqualValues(t, 1, area.Stats().Released)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestStageReaderCleansUpOnFailure(t *testing.T) {
	t.Parallel()

	area := newArea(t)
	_, err := area.StageReader(failingReader{}, ".wav")
	require.ErrorContains(t, err, "connection reset")

	entries, err := os.ReadDir(area.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
	require.EqualValues(t, 1, area.Stats().Failed)
}

func TestStageReaderStreamsLargePayload(t *testing.T) {
	t.Parallel()

	area := newArea(t)
	payload := bytes.Repeat([]byte{0xAB}, 1<<20)
	f, err := area.StageReader(bytes.NewReader(payload), ".flac")
	require.NoError(t, err)
	defer area.Release(f)

	require.EqualValues(t, len(payload), f.Size)
}

func TestNormalizeExtension(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		".wav":                  ".wav",
		"MP3":                   ".mp3",
		"":                      ".tmp",
		".":                     ".tmp",
		"../../etc":             ".tmp",
		".wav/../x":             ".tmp",
		".averyveryverylongext": ".tmp",
		".m4a":                  ".m4a",
	}
	for in, want := range tests {
		require.Equal(t, want, normalizeExtension(in), in)
	}
}
