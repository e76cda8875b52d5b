package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fmueller/whisperd/internal/platform"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WhisperPathEnv overrides the whisper-cli executable lookup.
const WhisperPathEnv = "WHISPERD_WHISPER_PATH"

// BundledEngine runs whisper.cpp's whisper-cli as a subprocess, one process
// per transcription. It holds no mutable state and is safe for concurrent use.
type BundledEngine struct {
	Executable string
	OutputDir  string
	Logger     *zap.Logger
}

// NewBundledEngine locates whisper-cli. An explicit path wins, then the
// WHISPERD_WHISPER_PATH environment variable, then the install layout next to
// the running binary, then PATH.
func NewBundledEngine(executable string, logger *zap.Logger) (*BundledEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if override := strings.TrimSpace(executable); override != "" {
		if err := ensureExecutable(override); err != nil {
			return nil, fmt.Errorf("whisper path is not executable: %w", err)
		}
		return &BundledEngine{Executable: override, Logger: logger}, nil
	}

	if override := strings.TrimSpace(os.Getenv(WhisperPathEnv)); override != "" {
		if err := ensureExecutable(override); err != nil {
			return nil, fmt.Errorf("%s is not executable: %w", WhisperPathEnv, err)
		}
		return &BundledEngine{Executable: override, Logger: logger}, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve whisperd executable path: %w", err)
	}

	whisperExe, err := ResolveBundledEnginePath(self)
	if err != nil {
		return nil, err
	}

	return &BundledEngine{Executable: whisperExe, Logger: logger}, nil
}

func ResolveBundledEnginePath(selfExecutable string) (string, error) {
	for _, candidate := range EnginePathCandidates(selfExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	if onPath, err := exec.LookPath(engineBinaryName()); err == nil {
		return onPath, nil
	}

	return "", fmt.Errorf("whisper engine not found near %s or on PATH; install whisper.cpp or set %s (expected at ../libexec/whisper/%s)", selfExecutable, WhisperPathEnv, engineBinaryName())
}

func EnginePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	engineName := engineBinaryName()
	host := platform.CurrentRuntime()
	hostTarget := fmt.Sprintf("%s_%s", host.OS, host.Arch)

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, "packaging", "whisper", hostTarget, engineName),
		filepath.Join(binDir, engineName),
	}
}

// Verify checks that the engine binary is still present and executable.
func (b *BundledEngine) Verify() error {
	if err := ensureExecutable(b.Executable); err != nil {
		return fmt.Errorf("whisper engine missing or not executable: %w", err)
	}
	return nil
}

func (b *BundledEngine) Transcribe(ctx context.Context, req TranscriptionRequest) (Transcription, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Transcription{}, errors.New("audio path is required")
	}
	if strings.TrimSpace(req.ModelPath) == "" {
		return Transcription{}, errors.New("model path is required")
	}

	if err := b.Verify(); err != nil {
		return Transcription{}, err
	}

	outDir := b.OutputDir
	if outDir == "" {
		outDir = os.TempDir()
	}
	outBase := filepath.Join(outDir, "whisperd-"+uuid.NewString())
	jsonOut := outBase + ".json"
	defer func() {
		if err := os.Remove(jsonOut); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.log().Warn("failed to remove whisper output", zap.String("path", jsonOut), zap.Error(err))
		}
	}()

	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		lang = LanguageAuto
	}

	args := []string{"-m", req.ModelPath, "-f", req.AudioPath, "-nt", "-oj", "-of", outBase, "-l", lang}

	cmd := exec.CommandContext(ctx, b.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	b.log().Debug("running whisper engine", zap.String("engine", b.Executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		errText := strings.TrimSpace(stderr.String())
		if isMissingSharedLibraryError(errText) {
			return Transcription{}, fmt.Errorf("whisper engine at %s is missing required shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF", b.Executable, errText)
		}
		if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
			return Transcription{}, fmt.Errorf("whisper engine crashed with an illegal CPU instruction; " +
				"your CPU may lack required instruction set extensions; " +
				"set " + WhisperPathEnv + " to a whisper-cli binary built for your CPU")
		}
		return Transcription{}, fmt.Errorf("whisper transcribe failed: %w (%s)", err, errText)
	}

	content, err := os.ReadFile(jsonOut)
	if err != nil {
		return Transcription{}, fmt.Errorf("read whisper output: %w", err)
	}

	return ParseJSONOutput(content)
}

type cliOutput struct {
	Params struct {
		Language string `json:"language"`
	} `json:"params"`
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Text string `json:"text"`
	} `json:"transcription"`
}

// ParseJSONOutput decodes the file whisper-cli writes with -oj.
func ParseJSONOutput(content []byte) (Transcription, error) {
	var out cliOutput
	if err := json.Unmarshal(content, &out); err != nil {
		return Transcription{}, fmt.Errorf("decode whisper output: %w", err)
	}

	var text strings.Builder
	for _, segment := range out.Transcription {
		text.WriteString(segment.Text)
	}

	language := strings.TrimSpace(out.Result.Language)
	if language == "" && out.Params.Language != LanguageAuto {
		language = strings.TrimSpace(out.Params.Language)
	}

	return Transcription{
		Text:     strings.TrimSpace(text.String()),
		Language: language,
	}, nil
}

func (b *BundledEngine) log() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}
