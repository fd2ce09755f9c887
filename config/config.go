package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hannes/kiji-ner/providers"
)

const (
	DetectorNameModel     = "model_detector"
	DetectorNameONNXModel = "onnx_model_detector"
)

// ServerConfig holds HTTP transport settings
type ServerConfig struct {
	Port             string        `mapstructure:"port"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	MaxUploadBytes   int64         `mapstructure:"max_upload_bytes"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	RateLimit        float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst        int           `mapstructure:"rate_burst"`
	LegacyFieldNames bool          `mapstructure:"legacy_field_names"` // openai_results / huggingface_results
}

// GenerativeConfig selects and tunes the chat-completion provider
type GenerativeConfig struct {
	Provider        string        `mapstructure:"provider"`
	Model           string        `mapstructure:"model"`
	BaseURL         string        `mapstructure:"base_url"`
	UseHTTPS        bool          `mapstructure:"use_https"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	MaxInputTokens  int           `mapstructure:"max_input_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryAttempts   uint          `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	OpenAIAPIKey    string        `mapstructure:"openai_api_key"`
	MistralAPIKey   string        `mapstructure:"mistral_api_key"`
	AnthropicAPIKey string        `mapstructure:"anthropic_api_key"`
	GeminiAPIKey    string        `mapstructure:"gemini_api_key"`
}

// LabelingConfig selects the sequence-labeling detector
type LabelingConfig struct {
	Detector          string        `mapstructure:"detector"`
	ModelDir          string        `mapstructure:"model_dir"`
	SharedLibraryPath string        `mapstructure:"shared_library_path"`
	InputNames        []string      `mapstructure:"input_names"`
	OutputName        string        `mapstructure:"output_name"`
	RemoteURL         string        `mapstructure:"remote_url"`
	APIToken          string        `mapstructure:"api_token"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	Strict            bool          `mapstructure:"strict"` // labeling failure fails the request
	WatchModelDir     bool          `mapstructure:"watch_model_dir"`
	WatchDebounce     time.Duration `mapstructure:"watch_debounce"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"` // text or json
	File         string `mapstructure:"file"`   // empty logs to stderr
	MaxSizeMB    int    `mapstructure:"max_size_mb"`
	MaxBackups   int    `mapstructure:"max_backups"`
	MaxAgeDays   int    `mapstructure:"max_age_days"`
	Compress     bool   `mapstructure:"compress"`
	LogDocuments bool   `mapstructure:"log_documents"` // Log raw document text
}

// SentryConfig enables error reporting when DSN is set
type SentryConfig struct {
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// Config holds all configuration for the entity extraction service
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Generative GenerativeConfig `mapstructure:"generative"`
	Labeling   LabelingConfig   `mapstructure:"labeling"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           ":8000",
			AllowedOrigins: []string{"http://localhost:3000"},
			MaxUploadBytes: 5 << 20,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   120 * time.Second,
			IdleTimeout:    60 * time.Second,
			RateLimit:      10,
			RateBurst:      20,
		},
		Generative: GenerativeConfig{
			Provider:      string(providers.ProviderTypeOpenAI),
			Model:         providers.DefaultModelOpenAI,
			UseHTTPS:      true,
			Timeout:       60 * time.Second,
			RetryAttempts: 2,
			RetryDelay:    time.Second,
		},
		Labeling: LabelingConfig{
			Detector:      DetectorNameONNXModel,
			ModelDir:      "model",
			OutputName:    "logits",
			RemoteURL:     "https://api-inference.huggingface.co/models/dbmdz/bert-large-cased-finetuned-conll03-english",
			Timeout:       30 * time.Second,
			RetryAttempts: 3,
			WatchDebounce: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Sentry: SentryConfig{
			Environment: "development",
			SampleRate:  1.0,
		},
	}
}

// unprefixedEnv maps config keys to the conventional variable names that
// are honored in addition to the NER_ prefixed ones.
var unprefixedEnv = map[string]string{
	"generative.openai_api_key":    "OPENAI_API_KEY",
	"generative.mistral_api_key":   "MISTRAL_API_KEY",
	"generative.anthropic_api_key": "ANTHROPIC_API_KEY",
	"generative.gemini_api_key":    "GEMINI_API_KEY",
	"labeling.api_token":           "HF_API_TOKEN",
	"labeling.shared_library_path": "ONNXRUNTIME_SHARED_LIBRARY_PATH",
	"sentry.dsn":                   "SENTRY_DSN",
}

// LoadEnvFile loads variables from a dotenv file without overriding the
// environment. A missing default .env is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load layers defaults, the optional config file (JSON, YAML or TOML) and
// the environment, in that order of increasing precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("NER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range unprefixedEnv {
		envKey := "NER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envKey, name)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.max_upload_bytes", d.Server.MaxUploadBytes)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)
	v.SetDefault("server.legacy_field_names", d.Server.LegacyFieldNames)

	v.SetDefault("generative.provider", d.Generative.Provider)
	v.SetDefault("generative.model", d.Generative.Model)
	v.SetDefault("generative.base_url", d.Generative.BaseURL)
	v.SetDefault("generative.use_https", d.Generative.UseHTTPS)
	v.SetDefault("generative.max_tokens", d.Generative.MaxTokens)
	v.SetDefault("generative.max_input_tokens", d.Generative.MaxInputTokens)
	v.SetDefault("generative.timeout", d.Generative.Timeout)
	v.SetDefault("generative.retry_attempts", d.Generative.RetryAttempts)
	v.SetDefault("generative.retry_delay", d.Generative.RetryDelay)
	v.SetDefault("generative.openai_api_key", "")
	v.SetDefault("generative.mistral_api_key", "")
	v.SetDefault("generative.anthropic_api_key", "")
	v.SetDefault("generative.gemini_api_key", "")

	v.SetDefault("labeling.detector", d.Labeling.Detector)
	v.SetDefault("labeling.model_dir", d.Labeling.ModelDir)
	v.SetDefault("labeling.shared_library_path", "")
	v.SetDefault("labeling.input_names", d.Labeling.InputNames)
	v.SetDefault("labeling.output_name", d.Labeling.OutputName)
	v.SetDefault("labeling.remote_url", d.Labeling.RemoteURL)
	v.SetDefault("labeling.api_token", "")
	v.SetDefault("labeling.timeout", d.Labeling.Timeout)
	v.SetDefault("labeling.retry_attempts", d.Labeling.RetryAttempts)
	v.SetDefault("labeling.strict", d.Labeling.Strict)
	v.SetDefault("labeling.watch_model_dir", d.Labeling.WatchModelDir)
	v.SetDefault("labeling.watch_debounce", d.Labeling.WatchDebounce)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.log_documents", d.Logging.LogDocuments)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", d.Sentry.Environment)
	v.SetDefault("sentry.sample_rate", d.Sentry.SampleRate)
}

// APIKey returns the credential for the selected provider.
func (g GenerativeConfig) APIKey() string {
	switch providers.ProviderType(strings.ToLower(g.Provider)) {
	case providers.ProviderTypeMistral:
		return g.MistralAPIKey
	case providers.ProviderTypeAnthropic:
		return g.AnthropicAPIKey
	case providers.ProviderTypeGemini:
		return g.GeminiAPIKey
	default:
		return g.OpenAIAPIKey
	}
}

// ProviderOptions converts the section into provider construction options.
func (g GenerativeConfig) ProviderOptions() providers.Options {
	return providers.Options{
		Provider:  g.Provider,
		APIKey:    g.APIKey(),
		BaseURL:   g.BaseURL,
		UseHTTPS:  g.UseHTTPS,
		Model:     g.Model,
		MaxTokens: g.MaxTokens,
	}
}

// apiKeyEnv names the variable a user is expected to set for provider.
func apiKeyEnv(provider string) string {
	for key, name := range unprefixedEnv {
		if key == "generative."+strings.ToLower(provider)+"_api_key" {
			return name
		}
	}
	return "OPENAI_API_KEY"
}

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if err := validatePort(c.Server.Port, "Server.Port"); err != nil {
		errs = append(errs, err)
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("Server.MaxUploadBytes: must be positive (current value: %d)", c.Server.MaxUploadBytes))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("Server.RateLimit: must not be negative (current value: %g)", c.Server.RateLimit))
	}

	if !providers.IsKnown(c.Generative.Provider) {
		errs = append(errs, fmt.Errorf("Generative.Provider: unknown provider '%s'", c.Generative.Provider))
	} else if c.Generative.APIKey() == "" {
		errs = append(errs, fmt.Errorf("Generative.APIKey: API key for provider '%s' is required (set %s)",
			c.Generative.Provider, apiKeyEnv(c.Generative.Provider)))
	}

	switch c.Labeling.Detector {
	case DetectorNameONNXModel:
		if c.Labeling.ModelDir == "" {
			errs = append(errs, fmt.Errorf("Labeling.ModelDir: model directory cannot be empty"))
		}
	case DetectorNameModel:
		if c.Labeling.RemoteURL == "" {
			errs = append(errs, fmt.Errorf("Labeling.RemoteURL: remote URL cannot be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("Labeling.Detector: unknown detector '%s'", c.Labeling.Detector))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("Logging.Format: must be 'text' or 'json' (current value: %s)", c.Logging.Format))
	}

	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return errors.New(strings.Join(msgs, "; "))
}

// validatePort checks the ':PORT' listen address form.
func validatePort(port, fieldName string) error {
	if port == "" {
		return fmt.Errorf("%s: port cannot be empty", fieldName)
	}
	if !strings.HasPrefix(port, ":") {
		return fmt.Errorf("%s: port must be in format ':PORT' where PORT is numeric (current value: %s)", fieldName, port)
	}
	n, err := strconv.Atoi(port[1:])
	if err != nil {
		return fmt.Errorf("%s: port must be in format ':PORT' where PORT is numeric (current value: %s)", fieldName, port)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%s: port must be between 1 and 65535 (current value: %d)", fieldName, n)
	}
	return nil
}
