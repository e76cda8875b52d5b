package whisper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultOpenAIModel is the hosted Whisper model id.
const DefaultOpenAIModel = openai.Whisper1

type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *zap.Logger
}

// OpenAIEngine sends staged audio to an OpenAI-compatible transcription API.
// ModelPath in the request is ignored; the remote model id is fixed at
// construction.
type OpenAIEngine struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

func NewOpenAIEngine(opts OpenAIOptions) (*OpenAIEngine, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.BaseURL = strings.TrimRight(base, "/")
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAIEngine{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}, nil
}

func (e *OpenAIEngine) ModelID() string {
	return e.model
}

func (e *OpenAIEngine) Transcribe(ctx context.Context, req TranscriptionRequest) (Transcription, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Transcription{}, errors.New("audio path is required")
	}

	audioReq := openai.AudioRequest{
		Model:    e.model,
		FilePath: req.AudioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if lang := strings.TrimSpace(req.Language); lang != "" && lang != LanguageAuto {
		audioReq.Language = lang
	}

	e.logger.Debug("calling transcription api", zap.String("model", e.model), zap.String("audio", req.AudioPath))
	resp, err := e.client.CreateTranscription(ctx, audioReq)
	if err != nil {
		return Transcription{}, fmt.Errorf("openai transcription failed: %w", err)
	}

	return Transcription{
		Text:     strings.TrimSpace(resp.Text),
		Language: normalizeLanguageName(resp.Language),
	}, nil
}

// The hosted API reports languages by English name in verbose_json.
var languageCodes = map[string]string{
	"english":    "en",
	"german":     "de",
	"french":     "fr",
	"spanish":    "es",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"russian":    "ru",
	"chinese":    "zh",
	"japanese":   "ja",
	"korean":     "ko",
	"polish":     "pl",
	"turkish":    "tr",
	"ukrainian":  "uk",
	"arabic":     "ar",
	"hindi":      "hi",
	"swedish":    "sv",
	"vietnamese": "vi",
}

func normalizeLanguageName(language string) string {
	value := strings.ToLower(strings.TrimSpace(language))
	if code, ok := languageCodes[value]; ok {
		return code
	}
	return value
}
