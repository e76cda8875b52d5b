package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fmueller/whisperd/internal/transcription"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const transcribeUsage = "Usage: whisperd transcribe <audio_file_path>"

type cliResult struct {
	Transcription string `json:"transcription"`
	Language      string `json:"language"`
	Success       bool   `json:"success"`
}

type cliFailure struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

func newTranscribeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "transcribe <audio-file>",
		Short:       "Transcribe an audio file and print the result as JSON",
		Args:        cobra.ArbitraryArgs,
		Annotations: map[string]string{quietAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return reportFailure(cmd.ErrOrStderr(), transcribeUsage)
			}

			audioPath := args[0]
			if _, err := os.Stat(audioPath); err != nil {
				return reportFailure(cmd.ErrOrStderr(), fmt.Sprintf("Audio file '%s' not found", audioPath))
			}

			result, err := app.transcribeFile(cmd.Context(), audioPath)
			if err != nil {
				return reportFailure(cmd.ErrOrStderr(), fmt.Sprintf("Error during transcription: %v", err))
			}

			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	return cmd
}

// transcribeFile loads the configured model and runs one file through it.
func (a *appState) transcribeFile(ctx context.Context, audioPath string) (cliResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	audioPath = filepath.Clean(audioPath)

	manager, err := a.loadModel(ctx)
	if err != nil {
		return cliResult{}, err
	}
	instance, err := manager.Model()
	if err != nil {
		return cliResult{}, err
	}

	a.log().Info("transcribing...", zap.String("audio", audioPath), zap.String("model", manager.Name()))
	stopSpinner := startSpinner(a.progressEnabled(), "Transcribing")
	started := time.Now()

	out, err := instance.Transcribe(ctx, audioPath)
	stopSpinner()
	if err != nil {
		a.log().Warn("transcription failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return cliResult{}, err
	}
	a.log().Info("transcription finished", zap.Duration("elapsed", time.Since(started)))

	language := strings.TrimSpace(out.Language)
	if language == "" {
		language = transcription.UnknownLanguage
	}
	return cliResult{
		Transcription: strings.TrimSpace(out.Text),
		Language:      language,
		Success:       true,
	}, nil
}

// reportFailure prints the JSON failure object and returns ErrReported.
func reportFailure(w io.Writer, message string) error {
	if err := writeJSON(w, cliFailure{Error: message, Success: false}); err != nil {
		return errors.Join(errors.New(message), err)
	}
	return fmt.Errorf("%w: %s", ErrReported, message)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
