package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with STUDIO_CONFIG.
var ConfigPath = defaultConfigPath()

func defaultConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("STUDIO_CONFIG")); v != "" {
		return v
	}
	return "config.yaml"
}

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	Environment string `yaml:"environment"`

	// storage
	StoreDriver string `yaml:"storeDriver"`
	DatabaseURL string `yaml:"databaseURL"`

	// script cache
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	CacheTTL      string `yaml:"cacheTTL"`

	// object storage
	ObjectDriver    string `yaml:"objectDriver"`
	ObjectEndpoint  string `yaml:"objectEndpoint"`
	ObjectRegion    string `yaml:"objectRegion"`
	ObjectAccessKey string `yaml:"objectAccessKey"`
	ObjectSecretKey string `yaml:"objectSecretKey"`
	ObjectBucket    string `yaml:"objectBucket"`
	ObjectUseSSL    bool   `yaml:"objectUseSSL"`
	PresignTTL      string `yaml:"presignTTL"`

	// providers
	TextProvider    string `yaml:"textProvider"`
	TextModel       string `yaml:"textModel"`
	SpeechProvider  string `yaml:"speechProvider"`
	SpeechModel     string `yaml:"speechModel"`
	SpeechVoice     string `yaml:"speechVoice"`
	SpeechLanguage  string `yaml:"speechLanguage"`
	ImageProvider   string `yaml:"imageProvider"`
	ImageModel      string `yaml:"imageModel"`
	GeminiAPIKey    string `yaml:"geminiAPIKey"`
	GeminiBaseURL   string `yaml:"geminiBaseURL"`
	GoogleTTSAPIKey string `yaml:"googleTTSAPIKey"`
	OllamaURL       string `yaml:"ollamaURL"`
	OpenAIBaseURL   string `yaml:"openAIBaseURL"`
	OpenAIAPIKey    string `yaml:"openAIAPIKey"`

	// job events
	EventsDriver   string `yaml:"eventsDriver"`
	AMQPURL        string `yaml:"amqpURL"`
	EventsExchange string `yaml:"eventsExchange"`
	EventsStream   string `yaml:"eventsStream"`

	// http edge
	SessionSecret  string   `yaml:"sessionSecret"`
	DevAuthSecret  string   `yaml:"devAuthSecret"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`
	JWTLeeway      string   `yaml:"jwtLeeway"`
}

// Development reports whether the service runs in development mode.
func (c FileConfig) Development() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Load reads config from path (defaults to ConfigPath).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STUDIO_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("OBJECT_ENDPOINT"); v != "" {
		cfg.ObjectEndpoint = v
	}
	if v := os.Getenv("OBJECT_ACCESS_KEY"); v != "" {
		cfg.ObjectAccessKey = v
	}
	if v := os.Getenv("OBJECT_SECRET_KEY"); v != "" {
		cfg.ObjectSecretKey = v
	}
	if v := os.Getenv("OBJECT_BUCKET"); v != "" {
		cfg.ObjectBucket = v
	}
	if v := os.Getenv("OBJECT_USE_SSL"); v == "true" {
		cfg.ObjectUseSSL = true
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("GOOGLE_TTS_API_KEY"); v != "" {
		cfg.GoogleTTSAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		cfg.OllamaURL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := os.Getenv("DEV_AUTH_SECRET"); v != "" {
		cfg.DevAuthSecret = v
	}
	if v := os.Getenv("STUDIO_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("STUDIO_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "postgres"
	}
	if cfg.ObjectDriver == "" {
		cfg.ObjectDriver = "minio"
	}
	if cfg.TextProvider == "" {
		cfg.TextProvider = "gemini"
	}
	if cfg.SpeechProvider == "" {
		cfg.SpeechProvider = "google"
	}
	if cfg.ImageProvider == "" {
		cfg.ImageProvider = "gemini"
	}
	if cfg.EventsDriver == "" {
		cfg.EventsDriver = "none"
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.ObjectDriver = strings.ToLower(strings.TrimSpace(cfg.ObjectDriver))
	cfg.TextProvider = strings.ToLower(strings.TrimSpace(cfg.TextProvider))
	cfg.SpeechProvider = strings.ToLower(strings.TrimSpace(cfg.SpeechProvider))
	cfg.ImageProvider = strings.ToLower(strings.TrimSpace(cfg.ImageProvider))
	cfg.EventsDriver = strings.ToLower(strings.TrimSpace(cfg.EventsDriver))
}

func validateConfig(cfg FileConfig) error {
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storeDriver %q", cfg.StoreDriver)
	}
	switch cfg.ObjectDriver {
	case "minio", "s3":
		if cfg.ObjectBucket == "" {
			return errors.New("config: objectBucket is required (set in config.yaml or OBJECT_BUCKET)")
		}
		if cfg.ObjectDriver == "minio" && cfg.ObjectEndpoint == "" {
			return errors.New("config: objectEndpoint is required for minio")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown objectDriver %q", cfg.ObjectDriver)
	}
	switch cfg.TextProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return errors.New("config: geminiAPIKey is required for the gemini text provider")
		}
	case "ollama":
	case "openai":
		if cfg.OpenAIBaseURL == "" {
			return errors.New("config: openAIBaseURL is required for the openai text provider")
		}
	default:
		return fmt.Errorf("config: unknown textProvider %q", cfg.TextProvider)
	}
	switch cfg.SpeechProvider {
	case "google":
		if cfg.GoogleTTSAPIKey == "" && cfg.GeminiAPIKey == "" {
			return errors.New("config: googleTTSAPIKey is required for the google speech provider")
		}
	case "openai":
		if cfg.OpenAIBaseURL == "" {
			return errors.New("config: openAIBaseURL is required for the openai speech provider")
		}
	default:
		return fmt.Errorf("config: unknown speechProvider %q", cfg.SpeechProvider)
	}
	switch cfg.ImageProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return errors.New("config: geminiAPIKey is required for the gemini image provider")
		}
	case "openai":
		if cfg.OpenAIBaseURL == "" {
			return errors.New("config: openAIBaseURL is required for the openai image provider")
		}
	default:
		return fmt.Errorf("config: unknown imageProvider %q", cfg.ImageProvider)
	}
	switch cfg.EventsDriver {
	case "none":
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for redis events")
		}
	case "amqp":
		if cfg.AMQPURL == "" {
			return errors.New("config: amqpURL is required for amqp events (set in config.yaml or AMQP_URL)")
		}
	default:
		return fmt.Errorf("config: unknown eventsDriver %q", cfg.EventsDriver)
	}
	if cfg.SessionSecret != "" && len(cfg.SessionSecret) < 32 {
		return errors.New("config: sessionSecret must be at least 32 characters")
	}
	for _, field := range []struct{ name, value string }{
		{"cacheTTL", cfg.CacheTTL},
		{"presignTTL", cfg.PresignTTL},
		{"jwtLeeway", cfg.JWTLeeway},
	} {
		if _, err := ParseDuration(field.value); err != nil {
			return fmt.Errorf("config: %s: %w", field.name, err)
		}
	}
	return nil
}

// ParseDuration parses an optional duration; empty yields zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative")
	}
	return d, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
