package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fmueller/whisperd/internal/config"
	"github.com/fmueller/whisperd/internal/logging"
	"github.com/fmueller/whisperd/internal/model"
	"github.com/fmueller/whisperd/internal/platform"
	"github.com/fmueller/whisperd/internal/version"
	"github.com/fmueller/whisperd/internal/whisper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/spf13/cobra"
)

// ErrReported marks failures the command already printed. Callers should exit
// non-zero without printing the error again.
var ErrReported = errors.New("error already reported")

type flagValues struct {
	configPath   string
	verbose      bool
	jsonLogs     bool
	logFile      string
	noProgress   bool
	model        string
	modelDir     string
	backend      string
	language     string
	autoDownload bool
	whisperPath  string

	host           string
	port           int
	stagingDir     string
	maxUploadBytes int64
	maxConcurrent  int
	corsOrigins    []string
}

type appState struct {
	flags flagValues
	cfg   *config.Config

	logger *zap.Logger

	lookupEnv     config.LookupFunc
	defaultConfig func() (string, error)
	dotEnvPaths   []string

	loaderFn func(cfg *config.Config) (model.Loader, error)
	serveFn  func(ctx context.Context, srv runner) error
}

type runner interface {
	Run(ctx context.Context) error
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(newAppState())
}

func newAppState() *appState {
	defaults := config.Default()
	app := &appState{
		flags: flagValues{
			model:          defaults.Model.Name,
			backend:        defaults.Model.Backend,
			language:       defaults.Model.Language,
			autoDownload:   defaults.Model.AutoDownload,
			host:           defaults.Server.Host,
			port:           defaults.Server.Port,
			maxUploadBytes: defaults.Server.MaxUploadBytes,
			corsOrigins:    defaults.Server.CORSOrigins,
		},
		lookupEnv:     os.LookupEnv,
		defaultConfig: platform.ResolveConfigFile,
	}
	app.loaderFn = app.newLoader
	app.serveFn = func(ctx context.Context, srv runner) error { return srv.Run(ctx) }
	return app
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "whisperd",
		Short:         "Serve speech-to-text transcription over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.prepare(cmd); err != nil {
				if isQuiet(cmd) {
					return reportFailure(cmd.ErrOrStderr(), err.Error())
				}
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindGlobalFlags(cmd, app)
	bindServeFlags(cmd, app)

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindGlobalFlags(cmd *cobra.Command, app *appState) {
	f := cmd.PersistentFlags()
	f.StringVar(&app.flags.configPath, "config", "", "Path to a YAML config file (default: $WHISPERD_CONFIG or the user config dir)")
	f.BoolVar(&app.flags.verbose, "verbose", false, "Enable verbose logs")
	f.BoolVar(&app.flags.jsonLogs, "log-json", false, "Enable JSON logging")
	f.StringVar(&app.flags.logFile, "log-file", "", "Also write JSON logs to this file, rotated by size")
	f.BoolVar(&app.flags.noProgress, "no-progress", false, "Disable progress indicators")
	f.StringVar(&app.flags.model, "model", app.flags.model, "Model name or model file path")
	f.StringVar(&app.flags.modelDir, "model-dir", "", "Directory where models are stored")
	f.StringVar(&app.flags.backend, "backend", app.flags.backend, "Inference backend: whisper-cli|openai")
	f.StringVar(&app.flags.language, "language", app.flags.language, "Language code (auto|en|de|...) for transcription")
	f.BoolVar(&app.flags.autoDownload, "auto-download", app.flags.autoDownload, "Automatically download missing models")
	f.StringVar(&app.flags.whisperPath, "whisper-path", "", "Path to the whisper-cli executable")
}

func bindServeFlags(cmd *cobra.Command, app *appState) {
	f := cmd.Flags()
	f.StringVar(&app.flags.host, "host", app.flags.host, "Interface to listen on")
	f.IntVar(&app.flags.port, "port", app.flags.port, "Port to listen on")
	f.StringVar(&app.flags.stagingDir, "staging-dir", "", "Directory for temporary upload files")
	f.Int64Var(&app.flags.maxUploadBytes, "max-upload-bytes", app.flags.maxUploadBytes, "Reject uploads larger than this; 0 means unlimited")
	f.IntVar(&app.flags.maxConcurrent, "max-concurrent", 0, "Maximum simultaneous transcriptions; 0 means unlimited")
	f.StringSliceVar(&app.flags.corsOrigins, "cors-origin", app.flags.corsOrigins, "Allowed CORS origin, repeatable")
}

// quietAnnotation marks commands whose stderr carries machine-readable output.
const quietAnnotation = "whisperd/quiet"

func isQuiet(cmd *cobra.Command) bool {
	return cmd.Annotations[quietAnnotation] == "true"
}

// prepare resolves configuration and the logger for every command.
func (a *appState) prepare(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(a.dotEnvPaths...); err != nil {
		return err
	}

	cfg := config.Default()
	if err := a.loadConfigFile(cfg); err != nil {
		return err
	}
	if err := config.ApplyEnv(cfg, a.env()); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	a.applyFlags(cmd, cfg)
	cfg.Model.Language = sanitizeLanguage(cfg.Model.Language)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Verbose: cfg.Log.Verbose,
		JSON:    cfg.Log.JSON,
		File:    cfg.Log.File,
		Quiet:   isQuiet(cmd) && !cfg.Log.Verbose,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *appState) loadConfigFile(cfg *config.Config) error {
	path := strings.TrimSpace(a.flags.configPath)
	if path == "" {
		if v, ok := a.env()("WHISPERD_CONFIG"); ok {
			path = strings.TrimSpace(v)
		}
	}
	if path != "" {
		return config.LoadFile(cfg, path)
	}

	if a.defaultConfig == nil {
		return nil
	}
	path, err := a.defaultConfig()
	if err != nil {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return config.LoadFile(cfg, path)
}

func (a *appState) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("verbose") {
		cfg.Log.Verbose = a.flags.verbose
	}
	if changed("log-json") {
		cfg.Log.JSON = a.flags.jsonLogs
	}
	if changed("log-file") {
		cfg.Log.File = a.flags.logFile
	}
	if changed("model") {
		cfg.Model.Name = a.flags.model
	}
	if changed("model-dir") {
		cfg.Model.Dir = a.flags.modelDir
	}
	if changed("backend") {
		cfg.Model.Backend = a.flags.backend
	}
	if changed("language") {
		cfg.Model.Language = a.flags.language
	}
	if changed("auto-download") {
		cfg.Model.AutoDownload = a.flags.autoDownload
	}
	if changed("whisper-path") {
		cfg.Model.WhisperPath = a.flags.whisperPath
	}
	if changed("model") && cfg.Model.Backend == config.BackendOpenAI {
		cfg.Model.OpenAI.Model = a.flags.model
	}

	if cmd.Flags().Lookup("host") == nil {
		return
	}
	if changed("host") {
		cfg.Server.Host = a.flags.host
	}
	if changed("port") {
		cfg.Server.Port = a.flags.port
	}
	if changed("staging-dir") {
		cfg.Staging.Dir = a.flags.stagingDir
	}
	if changed("max-upload-bytes") {
		cfg.Server.MaxUploadBytes = a.flags.maxUploadBytes
	}
	if changed("max-concurrent") {
		cfg.Model.MaxConcurrent = a.flags.maxConcurrent
	}
	if changed("cors-origin") {
		cfg.Server.CORSOrigins = a.flags.corsOrigins
	}
}

// newLoader builds the model loader for the configured backend.
func (a *appState) newLoader(cfg *config.Config) (model.Loader, error) {
	switch cfg.Model.Backend {
	case config.BackendOpenAI:
		engine, err := whisper.NewOpenAIEngine(whisper.OpenAIOptions{
			APIKey:  cfg.Model.OpenAI.APIKey,
			BaseURL: cfg.Model.OpenAI.BaseURL,
			Model:   cfg.Model.OpenAI.Model,
			Logger:  a.log(),
		})
		if err != nil {
			return nil, err
		}
		return &model.OpenAILoader{Engine: engine, Language: cfg.Model.Language}, nil
	default:
		engine, err := whisper.NewBundledEngine(cfg.Model.WhisperPath, a.log())
		if err != nil {
			return nil, err
		}
		modelDir, err := a.modelStorageDir()
		if err != nil {
			return nil, err
		}
		return &model.WhisperCLILoader{
			ModelDir:     modelDir,
			AutoDownload: cfg.Model.AutoDownload,
			Language:     cfg.Model.Language,
			Engine:       engine,
			Progress:     a.progressFile(),
			Logger:       a.log(),
		}, nil
	}
}

// loadModel builds the configured loader and loads the model once.
func (a *appState) loadModel(ctx context.Context) (*model.Manager, error) {
	name := a.cfg.ModelName()

	loaderFn := a.loaderFn
	if loaderFn == nil {
		loaderFn = a.newLoader
	}
	loader, err := loaderFn(a.cfg)
	if err != nil {
		return nil, &model.LoadError{Name: name, Err: err}
	}

	manager := model.NewManager(loader, a.log())
	if err := manager.Load(ctx, name); err != nil {
		return nil, err
	}
	return manager, nil
}

func (a *appState) modelStorageDir() (string, error) {
	override := ""
	if a.cfg != nil {
		override = a.cfg.Model.Dir
	}
	dir, err := platform.ResolveModelDir(override)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

func (a *appState) env() config.LookupFunc {
	if a.lookupEnv == nil {
		return os.LookupEnv
	}
	return a.lookupEnv
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.flags.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func (a *appState) progressFile() *os.File {
	if !a.progressEnabled() {
		return nil
	}
	return os.Stderr
}

func sanitizeLanguage(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return whisper.LanguageAuto
	}
	return trimmed
}
