package config

import (
	"errors"
	"io/fs"
	"net/url"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Jira       JiraConfig       `yaml:"jira" mapstructure:"jira"`
	Fields     FieldsConfig     `yaml:"fields" mapstructure:"fields"`
	History    HistoryConfig    `yaml:"history" mapstructure:"history"`
	Points     PointsConfig     `yaml:"points" mapstructure:"points"`
	Summary    SummaryConfig    `yaml:"summary" mapstructure:"summary"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// JiraConfig configures the tracker connection and its retry behavior.
type JiraConfig struct {
	URL   string `yaml:"url" mapstructure:"url"`
	Token string `yaml:"token" mapstructure:"token"`

	ConnectTimeoutSecs int `yaml:"connect_timeout_secs" mapstructure:"connect_timeout_secs"`
	ReadTimeoutSecs    int `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	RequestTimeoutSecs int `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`

	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	BackoffBaseMs  int     `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
	BackoffMaxMs   int     `yaml:"backoff_max_ms" mapstructure:"backoff_max_ms"`
	JitterFraction float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`

	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`

	FieldCacheTTLMins int `yaml:"field_cache_ttl_mins" mapstructure:"field_cache_ttl_mins"`

	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`

	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// FieldsConfig points at the tracked-field file.
type FieldsConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// HistoryConfig configures history reconciliation across items.
type HistoryConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// PointsConfig configures the story points breakdown over related issues.
type PointsConfig struct {
	Field               string   `yaml:"field" mapstructure:"field"`
	PositiveResolutions []string `yaml:"positive_resolutions" mapstructure:"positive_resolutions"`
	MaxIssues           int      `yaml:"max_issues" mapstructure:"max_issues"`
}

// Summary providers.
const (
	SummaryProviderRules     = "rules"
	SummaryProviderAnthropic = "anthropic"
)

// SummaryConfig configures how free-text status fields are condensed.
// Provider is "rules" or "anthropic".
type SummaryConfig struct {
	Provider     string `yaml:"provider" mapstructure:"provider"`
	AnthropicKey string `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	Model        string `yaml:"model" mapstructure:"model"`
	MaxLength    int    `yaml:"max_length" mapstructure:"max_length"`
	MaxTokens    int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// StoreConfig configures the snapshot log backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures the background connectivity check.
type MonitoringConfig struct {
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureThreshold  int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DATEMOVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used by existing deployments.
	if err := v.BindEnv("jira.url", "DATEMOVER_JIRA_URL", "JIRA_URL"); err != nil {
		return nil, eris.Wrap(err, "config: bind jira.url")
	}
	if err := v.BindEnv("jira.token", "DATEMOVER_JIRA_TOKEN", "JIRA_PAT_TOKEN"); err != nil {
		return nil, eris.Wrap(err, "config: bind jira.token")
	}
	if err := v.BindEnv("summary.anthropic_key", "DATEMOVER_SUMMARY_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind summary.anthropic_key")
	}

	// Defaults
	v.SetDefault("jira.connect_timeout_secs", 10)
	v.SetDefault("jira.read_timeout_secs", 30)
	v.SetDefault("jira.request_timeout_secs", 60)
	v.SetDefault("jira.max_retries", 3)
	v.SetDefault("jira.backoff_base_ms", 1000)
	v.SetDefault("jira.backoff_max_ms", 30000)
	v.SetDefault("jira.jitter_fraction", 0.0)
	v.SetDefault("jira.rate_limit", 10.0)
	v.SetDefault("jira.rate_burst", 10)
	v.SetDefault("jira.field_cache_ttl_mins", 60)
	v.SetDefault("jira.circuit_failure_threshold", 5)
	v.SetDefault("jira.circuit_reset_secs", 30)
	v.SetDefault("jira.user_agent", "datemover/1.0")
	v.SetDefault("fields.path", "config/fields.yaml")
	v.SetDefault("history.concurrency", 4)
	v.SetDefault("points.field", "customfield_10002")
	v.SetDefault("points.positive_resolutions", []string{"Fixed", "Done", "Resolved", "Complete"})
	v.SetDefault("points.max_issues", 1000)
	v.SetDefault("summary.provider", SummaryProviderRules)
	v.SetDefault("summary.model", "claude-haiku-4-5-20251001")
	v.SetDefault("summary.max_length", 200)
	v.SetDefault("summary.max_tokens", 256)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "datemover.db")
	v.SetDefault("server.port", 8473)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_threshold", 3)
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

// Validate checks the settings a command mode depends on. Modes: "check",
// "history", "points", "serve", "snapshots".
func (c *Config) Validate(mode string) error {
	var errs []string

	jira := func() {
		if c.Jira.URL == "" {
			errs = append(errs, "jira.url is required (JIRA_URL)")
		} else if u, err := url.Parse(c.Jira.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "jira.url must be an absolute URL")
		}
		if c.Jira.Token == "" {
			errs = append(errs, "jira.token is required (JIRA_PAT_TOKEN)")
		}
		if c.Jira.MaxRetries < 0 {
			errs = append(errs, "jira.max_retries must be >= 0")
		}
		if c.Jira.ConnectTimeoutSecs <= 0 || c.Jira.ReadTimeoutSecs <= 0 || c.Jira.RequestTimeoutSecs <= 0 {
			errs = append(errs, "jira timeouts must be > 0")
		}
	}
	concurrency := func() {
		if c.History.Concurrency < 1 || c.History.Concurrency > 32 {
			errs = append(errs, "history.concurrency must be between 1 and 32")
		}
	}
	summary := func() {
		switch c.Summary.Provider {
		case "", SummaryProviderRules:
		case SummaryProviderAnthropic:
			if c.Summary.AnthropicKey == "" {
				errs = append(errs, "summary.anthropic_key is required for the anthropic provider (ANTHROPIC_API_KEY)")
			}
		default:
			errs = append(errs, "summary.provider must be rules or anthropic")
		}
	}
	points := func() {
		if c.Points.Field == "" {
			errs = append(errs, "points.field is required")
		}
		if c.Points.MaxIssues < 1 {
			errs = append(errs, "points.max_issues must be > 0")
		}
	}
	store := func() {
		switch c.Store.Driver {
		case "none":
		case "sqlite", "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		default:
			errs = append(errs, "store.driver must be sqlite, postgres or none")
		}
	}

	switch mode {
	case "check":
		jira()
	case "history":
		jira()
		concurrency()
		summary()
		store()
	case "points":
		jira()
		points()
	case "serve":
		jira()
		concurrency()
		summary()
		points()
		store()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "snapshots":
		store()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger builds the global zap logger.
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
