package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fmueller/whisperd/internal/config"
	"github.com/fmueller/whisperd/internal/model"
	"github.com/fmueller/whisperd/internal/whisper"
	"github.com/stretchr/testify/require"
)

func writeAudio(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "greeting.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF....WAVE"), 0o644))
	return path
}

func decodeFailure(t *testing.T, stderr string) cliFailure {
	t.Helper()

	var failure cliFailure
	require.NoError(t, json.Unmarshal([]byte(stderr), &failure))
	require.False(t, failure.Success)
	return failure
}

func TestTranscribeCommandPrintsJSON(t *testing.T) {
	t.Parallel()

	audio := writeAudio(t)
	app := newTestApp(nil)

	var gotPath string
	app.loaderFn = staticLoader(fakeModel{transcribeFn: func(_ context.Context, audioPath string) (whisper.Transcription, error) {
		gotPath = audioPath
		return whisper.Transcription{Text: " Hello there. ", Language: "en"}, nil
	}})

	stdout, stderr, err := runApp(t, app, []string{"transcribe", "--no-progress", audio})
	require.NoError(t, err)
	require.Empty(t, stderr)
	require.Equal(t, audio, gotPath)
	require.JSONEq(t, `{"transcription":"Hello there.","language":"en","success":true}`, stdout)
}

func TestTranscribeCommandDefaultsLanguage(t *testing.T) {
	t.Parallel()

	app := newTestApp(nil)
	app.loaderFn = staticLoader(echoModel("hi", ""))

	stdout, _, err := runApp(t, app, []string{"transcribe", "--no-progress", writeAudio(t)})
	require.NoError(t, err)
	require.JSONEq(t, `{"transcription":"hi","language":"unknown","success":true}`, stdout)
}

func TestTranscribeCommandUsage(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{{"transcribe"}, {"transcribe", "a.wav", "b.wav"}} {
		stdout, stderr, err := runCommand(t, args)
		require.ErrorIs(t, err, ErrReported)
		require.Empty(t, stdout)
		require.Equal(t, "Usage: whisperd transcribe <audio_file_path>", decodeFailure(t, stderr).Error)
	}
}

func TestTranscribeCommandMissingFile(t *testing.T) {
	t.Parallel()

	stdout, stderr, err := runCommand(t, []string{"transcribe", "/no/such/file.wav"})
	require.ErrorIs(t, err, ErrReported)
	require.Empty(t, stdout)
	require.Equal(t, "Audio file '/no/such/file.wav' not found", decodeFailure(t, stderr).Error)
}

func TestTranscribeCommandInferenceFailure(t *testing.T) {
	t.Parallel()

	app := newTestApp(nil)
	app.loaderFn = staticLoader(fakeModel{transcribeFn: func(context.Context, string) (whisper.Transcription, error) {
		return whisper.Transcription{}, errors.New("unsupported audio format")
	}})

	stdout, stderr, err := runApp(t, app, []string{"transcribe", "--no-progress", writeAudio(t)})
	require.ErrorIs(t, err, ErrReported)
	require.Empty(t, stdout)
	require.Equal(t, "Error during transcription: unsupported audio format", decodeFailure(t, stderr).Error)
}

func TestTranscribeCommandLoadFailure(t *testing.T) {
	t.Parallel()

	app := newTestApp(nil)
	app.loaderFn = func(*config.Config) (model.Loader, error) {
		return nil, errors.New("whisper engine not found")
	}

	_, stderr, err := runApp(t, app, []string{"transcribe", "--no-progress", writeAudio(t)})
	require.ErrorIs(t, err, ErrReported)
	require.Equal(t, `Error during transcription: load model "base": whisper engine not found`, decodeFailure(t, stderr).Error)
}

func TestTranscribeCommandReportsConfigErrorsAsJSON(t *testing.T) {
	t.Parallel()

	app := newTestApp(map[string]string{"WHISPERD_PORT": "eighty"})
	_, stderr, err := runApp(t, app, []string{"transcribe", writeAudio(t)})
	require.ErrorIs(t, err, ErrReported)
	require.Contains(t, decodeFailure(t, stderr).Error, "WHISPERD_PORT")
}
