package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "whisperd.config.schema.json"

// LoadFile overlays the YAML file at path onto cfg after validating it
// against the embedded schema.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if raw == nil {
		return nil
	}

	if err := validateSchema(raw); err != nil {
		return fmt.Errorf("config %s failed validation: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	return nil
}

func validateSchema(raw any) error {
	schema, err := jsonschema.CompileString(schemaURL, schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	// The validator expects encoding/json shaped values.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("normalize config: %w", err)
	}
	var doc any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return fmt.Errorf("normalize config: %w", err)
	}

	return schema.Validate(doc)
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error

	str := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
				*dst = strings.TrimSpace(v)
				return
			}
		}
	}
	integer := func(dst *int, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	int64v := func(dst *int64, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(dst *bool, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(dst *time.Duration, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str(&cfg.Server.Host, "WHISPERD_HOST")
	integer(&cfg.Server.Port, "PORT")
	integer(&cfg.Server.Port, "WHISPERD_PORT")
	int64v(&cfg.Server.MaxUploadBytes, "WHISPERD_MAX_UPLOAD_BYTES")
	if v, ok := lookup("WHISPERD_CORS_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}

	str(&cfg.Model.Backend, "WHISPERD_BACKEND")
	str(&cfg.Model.Name, "WHISPERD_MODEL")
	str(&cfg.Model.Dir, "WHISPERD_MODEL_DIR")
	boolean(&cfg.Model.AutoDownload, "WHISPERD_AUTO_DOWNLOAD")
	str(&cfg.Model.Language, "WHISPERD_LANGUAGE")
	str(&cfg.Model.WhisperPath, "WHISPERD_WHISPER_PATH")
	duration(&cfg.Model.InferenceTimeout, "WHISPERD_INFERENCE_TIMEOUT")
	integer(&cfg.Model.MaxConcurrent, "WHISPERD_MAX_CONCURRENT")
	str(&cfg.Model.OpenAI.APIKey, "OPENAI_API_KEY")
	str(&cfg.Model.OpenAI.BaseURL, "OPENAI_BASE_URL")

	str(&cfg.Staging.Dir, "WHISPERD_STAGING_DIR")

	boolean(&cfg.Log.Verbose, "WHISPERD_LOG_VERBOSE")
	boolean(&cfg.Log.JSON, "WHISPERD_LOG_JSON")
	str(&cfg.Log.File, "WHISPERD_LOG_FILE")

	return errors.Join(errs...)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
