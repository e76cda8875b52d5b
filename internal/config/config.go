// Package config assembles service settings from defaults, an optional YAML
// file, the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fmueller/whisperd/internal/whisper"
)

const (
	BackendWhisperCLI = "whisper-cli"
	BackendOpenAI     = "openai"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Staging StagingConfig `yaml:"staging"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ModelConfig struct {
	Backend          string        `yaml:"backend"`
	Name             string        `yaml:"name"`
	Dir              string        `yaml:"dir"`
	AutoDownload     bool          `yaml:"auto_download"`
	Language         string        `yaml:"language"`
	WhisperPath      string        `yaml:"whisper_path"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	OpenAI           OpenAIConfig  `yaml:"openai"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type StagingConfig struct {
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	Verbose bool   `yaml:"verbose"`
	JSON    bool   `yaml:"json"`
	File    string `yaml:"file"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 15 * time.Second,
		},
		Model: ModelConfig{
			Backend:      BackendWhisperCLI,
			Name:         whisper.DefaultModel,
			AutoDownload: true,
			Language:     whisper.LanguageAuto,
			OpenAI: OpenAIConfig{
				Model: whisper.DefaultOpenAIModel,
			},
		},
	}
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ModelName is the identifier handed to the model loader.
func (c *Config) ModelName() string {
	if c.Model.Backend == BackendOpenAI {
		return c.Model.OpenAI.Model
	}
	return c.Model.Name
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must not be negative"))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}

	switch c.Model.Backend {
	case BackendWhisperCLI:
		if c.Model.Name == "" {
			errs = append(errs, errors.New("model.name must not be empty"))
		}
	case BackendOpenAI:
		if c.Model.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("model.openai.api_key is required for the openai backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("model.backend must be %q or %q, got %q", BackendWhisperCLI, BackendOpenAI, c.Model.Backend))
	}

	if c.Model.MaxConcurrent < 0 {
		errs = append(errs, errors.New("model.max_concurrent must not be negative"))
	}
	if c.Model.InferenceTimeout < 0 {
		errs = append(errs, errors.New("model.inference_timeout must not be negative"))
	}

	return errors.Join(errs...)
}
