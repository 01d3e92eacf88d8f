package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	CourtListener CourtListenerConfig `yaml:"courtlistener" mapstructure:"courtlistener"`
	GovInfo       GovInfoConfig       `yaml:"govinfo" mapstructure:"govinfo"`
	CAP           CAPConfig           `yaml:"cap" mapstructure:"cap"`
	Embed         EmbedConfig         `yaml:"embed" mapstructure:"embed"`
	Anthropic     AnthropicConfig     `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline      PipelineConfig      `yaml:"pipeline" mapstructure:"pipeline"`
	Fetch         FetchConfig         `yaml:"fetch" mapstructure:"fetch"`
	Ingest        IngestConfig        `yaml:"ingest" mapstructure:"ingest"`
	Monitoring    MonitoringConfig    `yaml:"monitoring" mapstructure:"monitoring"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CourtListenerConfig configures the CourtListener provider.
type CourtListenerConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GovInfoConfig configures the GovInfo provider.
type GovInfoConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// CAPConfig configures the Case Access Project provider.
type CAPConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// EmbedConfig configures the embedding gateway.
type EmbedConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
	Dim     int    `yaml:"dim" mapstructure:"dim"`
}

// AnthropicConfig configures the optional outcome refiner.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	BatchSize           int `yaml:"batch_size" mapstructure:"batch_size"`
	ProviderConcurrency int `yaml:"provider_concurrency" mapstructure:"provider_concurrency"`
	RefineConcurrency   int `yaml:"refine_concurrency" mapstructure:"refine_concurrency"`
}

// FetchConfig tunes outbound provider requests.
type FetchConfig struct {
	Retry RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig holds retry settings for provider fetchers. A zero
// MaxAttempts keeps each provider's own attempt budget.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// IngestConfig holds defaults for the ingest command flags.
type IngestConfig struct {
	Providers      string `yaml:"providers" mapstructure:"providers"`
	Topics         string `yaml:"topics" mapstructure:"topics"`
	TopicsFile     string `yaml:"topics_file" mapstructure:"topics_file"`
	Days           int    `yaml:"days" mapstructure:"days"`
	Max            int    `yaml:"max" mapstructure:"max"`
	PageSize       int    `yaml:"page_size" mapstructure:"page_size"`
	IncludeUnknown bool   `yaml:"include_unknown" mapstructure:"include_unknown"`
	IncludeLost    bool   `yaml:"include_lost" mapstructure:"include_lost"`
}

// MonitoringConfig configures run health alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	SkipRateThreshold    float64 `yaml:"skip_rate_threshold" mapstructure:"skip_rate_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// envAliases maps config keys to the unprefixed variable names deployments
// already export. The CASELAW_ form always takes precedence.
var envAliases = map[string][]string{
	"store.database_url":     {"DATABASE_URL"},
	"courtlistener.token":    {"COURTLISTENER_TOKEN", "COURTLISTENER_API_KEY"},
	"courtlistener.base_url": {"COURTLISTENER_BASE"},
	"govinfo.api_key":        {"GOVINFO_API_KEY"},
	"cap.api_key":            {"CAP_API_KEY"},
	"cap.base_url":           {"CAP_BASE"},
	"embed.api_key":          {"OPENAI_API_KEY"},
	"anthropic.key":          {"ANTHROPIC_API_KEY"},
	"log.level":              {"LOG_LEVEL"},
}

// dotenvPaths are tried in order; the first that exists is loaded.
var dotenvPaths = []string{".env", "../.env"}

// LoadDotenv loads the first .env file found without overriding variables
// already set in the environment. A missing file is not an error.
func LoadDotenv() error {
	for _, p := range dotenvPaths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return eris.Wrapf(err, "config: load %s", p)
		}
		return nil
	}
	return nil
}

// Load reads configuration from .env, file, and environment.
func Load() (*Config, error) {
	if err := LoadDotenv(); err != nil {
		return nil, err
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CASELAW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, aliases := range envAliases {
		names := append([]string{"CASELAW_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.table", "federal_case_library")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("courtlistener.token", "")
	v.SetDefault("courtlistener.base_url", "https://www.courtlistener.com/api/rest/v3")
	v.SetDefault("govinfo.api_key", "")
	v.SetDefault("govinfo.base_url", "https://api.govinfo.gov")
	v.SetDefault("cap.api_key", "")
	v.SetDefault("cap.base_url", "https://api.case.law/v1")
	v.SetDefault("embed.api_key", "")
	v.SetDefault("embed.base_url", "https://api.openai.com/v1")
	v.SetDefault("embed.model", "text-embedding-3-small")
	v.SetDefault("embed.dim", 1536)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.provider_concurrency", 3)
	v.SetDefault("pipeline.refine_concurrency", 4)
	v.SetDefault("fetch.retry.max_attempts", 0)
	v.SetDefault("fetch.retry.initial_backoff_ms", 1000)
	v.SetDefault("fetch.retry.max_backoff_ms", 30000)
	v.SetDefault("fetch.retry.multiplier", 2.0)
	v.SetDefault("fetch.retry.jitter_fraction", 0.0)
	v.SetDefault("ingest.providers", "courtlistener,govinfo")
	v.SetDefault("ingest.topics", strings.Join(BuiltinPresets["civil_rights"], ","))
	v.SetDefault("ingest.topics_file", "")
	v.SetDefault("ingest.days", 365)
	v.SetDefault("ingest.max", 600)
	v.SetDefault("ingest.page_size", 50)
	v.SetDefault("ingest.include_unknown", false)
	v.SetDefault("ingest.include_lost", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.skip_rate_threshold", 0.10)
	v.SetDefault("monitoring.lookback_window_hours", 24)
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

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: unknown store driver %q (want postgres or sqlite)", c.Store.Driver)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return eris.Wrapf(err, "config: invalid log level %q", c.Log.Level)
	}
	if c.Embed.Dim <= 0 {
		return eris.Errorf("config: embed.dim must be positive, got %d", c.Embed.Dim)
	}
	if r := c.Fetch.Retry; r.MaxAttempts < 0 || r.JitterFraction < 0 || r.JitterFraction > 1 {
		return eris.Errorf("config: fetch.retry needs max_attempts >= 0 and jitter_fraction in [0,1], got %d and %g",
			r.MaxAttempts, r.JitterFraction)
	}
	return nil
}

// ValidateStore checks that a database location is configured.
func (c *Config) ValidateStore() error {
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required (set CASELAW_STORE_DATABASE_URL or DATABASE_URL)")
	}
	return nil
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
