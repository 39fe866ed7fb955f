package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the top-level configuration for the verifier.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Verify    VerifyConfig    `yaml:"verify" mapstructure:"verify"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model" validate:"required"`
	MaxTokens   int    `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gt=0"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=0"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0"`
}

// VerifyConfig tunes the verification run.
type VerifyConfig struct {
	MaxAttempts            int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	BackoffMs              int `yaml:"backoff_ms" mapstructure:"backoff_ms" validate:"gte=0"`
	MaxContentLength       int `yaml:"max_content_length" mapstructure:"max_content_length" validate:"gt=0"`
	MaxWebContentLength    int `yaml:"max_web_content_length" mapstructure:"max_web_content_length" validate:"gt=0"`
	DocumentFallbackLength int `yaml:"document_fallback_length" mapstructure:"document_fallback_length" validate:"gt=0"`
}

// ScrapeConfig configures web source fetching.
type ScrapeConfig struct {
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gt=0"`
	MaxRedirects int    `yaml:"max_redirects" mapstructure:"max_redirects" validate:"gte=0"`
	Retries      int    `yaml:"retries" mapstructure:"retries" validate:"gte=0"`
	UserAgent    string `yaml:"user_agent" mapstructure:"user_agent"`
}

// RateLimitConfig configures the gate in front of model calls.
type RateLimitConfig struct {
	Backend           string `yaml:"backend" mapstructure:"backend" validate:"oneof=local redis none"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"gte=0"`
	Burst             int    `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
	KeyPrefix         string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// RedisConfig holds the shared rate-limit backend connection.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// CircuitConfig configures the breaker around model calls.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"gte=0"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs" validate:"gte=0"`
}

// BatchConfig configures batch verification.
type BatchConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"gte=1,lte=50"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VERIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("anthropic.max_retries", 0)
	v.SetDefault("verify.max_attempts", 3)
	v.SetDefault("verify.backoff_ms", 1000)
	v.SetDefault("verify.max_content_length", 3000)
	v.SetDefault("verify.max_web_content_length", 3000)
	v.SetDefault("verify.document_fallback_length", 2000)
	v.SetDefault("scrape.timeout_secs", 10)
	v.SetDefault("scrape.max_redirects", 5)
	v.SetDefault("scrape.retries", 2)
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (compatible; TutorVerifier/1.0; +https://sells-group.com/bot)")
	v.SetDefault("ratelimit.backend", "local")
	v.SetDefault("ratelimit.requests_per_minute", 50)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("ratelimit.key_prefix", "verifier:llm")
	v.SetDefault("redis.url", "")
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("batch.max_concurrent", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validation modes, one per command family.
const (
	ModeVerify  = "verify"
	ModeServe   = "serve"
	ModeStore   = "store"
	ModeMigrate = "migrate"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		return name
	})
	return v
}

// Validate checks field bounds on the whole config and the settings the
// given mode needs. All problems are reported together.
func (c *Config) Validate(mode string) error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return eris.Wrap(err, "config: validate")
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %s", fieldPath(fe), fe.Tag()))
		}
	}

	needStore := func() {
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	}

	switch mode {
	case ModeVerify, ModeServe:
		needStore()
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.RateLimit.Backend == "redis" && c.Redis.URL == "" {
			problems = append(problems, "redis.url is required for the redis rate limit backend")
		}
		if mode == ModeServe && c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case ModeStore, ModeMigrate:
		needStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// fieldPath turns "Config.ratelimit.backend" into "ratelimit.backend".
func fieldPath(fe validator.FieldError) string {
	return strings.TrimPrefix(fe.Namespace(), "Config.")
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
