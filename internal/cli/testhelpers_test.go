package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/fmueller/whisperd/internal/config"
	"github.com/fmueller/whisperd/internal/model"
	"github.com/fmueller/whisperd/internal/whisper"
)

type fakeModel struct {
	transcribeFn func(ctx context.Context, audioPath string) (whisper.Transcription, error)
}

func (m fakeModel) Transcribe(ctx context.Context, audioPath string) (whisper.Transcription, error) {
	return m.transcribeFn(ctx, audioPath)
}

func echoModel(text, language string) fakeModel {
	return fakeModel{transcribeFn: func(context.Context, string) (whisper.Transcription, error) {
		return whisper.Transcription{Text: text, Language: language}, nil
	}}
}

func staticLoader(m model.Model) func(*config.Config) (model.Loader, error) {
	return func(*config.Config) (model.Loader, error) {
		return model.LoaderFunc(func(context.Context, string) (model.Model, error) {
			return m, nil
		}), nil
	}
}

// newTestApp isolates a command from the host environment and config files.
func newTestApp(env map[string]string) *appState {
	app := newAppState()
	app.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	app.defaultConfig = func() (string, error) { return "", errors.New("no default config in tests") }
	app.dotEnvPaths = []string{"testdata-missing.env"}
	return app
}

func runApp(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()
	return runApp(t, newTestApp(nil), args)
}
