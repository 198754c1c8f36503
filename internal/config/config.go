package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the runtime reads.
const EnvPrefix = "AGENTGATE"

// FileName is the config file searched for when none is given.
const FileName = "agentgate.yaml"

// Config is the runtime configuration. Precedence, lowest first: defaults,
// config file, environment, command-line flags.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	GRPCPort string `mapstructure:"grpc_port"`
	HTTPPort string `mapstructure:"http_port"`

	ClickHouseDSN string `mapstructure:"clickhouse_dsn"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	// AuditDB is the SQLite audit log path. Empty disables it.
	AuditDB string `mapstructure:"audit_db"`

	// APIKeyHash is the bcrypt hash accepted by the static authenticator
	// when no Postgres DSN is configured.
	APIKeyHash    string `mapstructure:"api_key_hash"`
	AuthCacheTTLS int    `mapstructure:"auth_cache_ttl_s"`

	SubagentTimeoutS int     `mapstructure:"subagent_timeout_s"`
	MaxParallel      int     `mapstructure:"max_parallel"`
	KeywordOverlap   float64 `mapstructure:"keyword_overlap"`
	ConfirmTimeoutS  int     `mapstructure:"confirm_timeout_s"`

	ToolRate  float64 `mapstructure:"tool_rate"`
	ToolBurst int     `mapstructure:"tool_burst"`

	Workspace string   `mapstructure:"workspace"`
	AgentDirs []string `mapstructure:"agent_dirs"`
	// Executor is the bridge command line that drives inference.
	Executor string `mapstructure:"executor"`
}

// SubagentTimeout returns the default per-invocation timeout.
func (c *Config) SubagentTimeout() time.Duration {
	return time.Duration(c.SubagentTimeoutS) * time.Second
}

// ConfirmTimeout bounds how long a queued confirmation waits for an answer.
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutS) * time.Second
}

// AuthCacheTTL returns the API key cache lifetime.
func (c *Config) AuthCacheTTL() time.Duration {
	return time.Duration(c.AuthCacheTTLS) * time.Second
}

// Validate rejects values the runtime cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q: want debug, info, warn or error", c.LogLevel))
	}
	for name, port := range map[string]string{"grpc_port": c.GRPCPort, "http_port": c.HTTPPort} {
		if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
			errs = append(errs, fmt.Errorf("%s %q: not a port number", name, port))
		}
	}
	if c.SubagentTimeoutS <= 0 {
		errs = append(errs, errors.New("subagent_timeout_s must be positive"))
	}
	if c.MaxParallel <= 0 {
		errs = append(errs, errors.New("max_parallel must be positive"))
	}
	if c.KeywordOverlap <= 0 || c.KeywordOverlap > 1 {
		errs = append(errs, fmt.Errorf("keyword_overlap %v: want a value in (0, 1]", c.KeywordOverlap))
	}
	if c.ToolRate < 0 {
		errs = append(errs, errors.New("tool_rate must not be negative"))
	}
	return errors.Join(errs...)
}

// New returns a viper instance with defaults and environment bindings set.
// Callers bind command-line flags on it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// The DSNs also honor the unprefixed names shared with other services.
	_ = v.BindEnv("clickhouse_dsn", EnvPrefix+"_CLICKHOUSE_DSN", "CLICKHOUSE_DSN")
	_ = v.BindEnv("postgres_dsn", EnvPrefix+"_POSTGRES_DSN", "POSTGRES_DSN")
	return v
}

// Load reads the config file, if any, and decodes v into a Config.
//
// An explicit path must exist. Without one, agentgate.yaml is searched in
// the working directory and then in the user config directory; finding
// none is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "agentgate"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("Load: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return cfg, nil
}
