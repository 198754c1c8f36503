package config

import "github.com/spf13/viper"

// Defaults, keyed by config name.
var defaults = map[string]any{
	"log_level":          "info",
	"grpc_port":          "50061",
	"http_port":          "8080",
	"clickhouse_dsn":     "",
	"postgres_dsn":       "",
	"audit_db":           ".agentgate/audit.db",
	"api_key_hash":       "",
	"auth_cache_ttl_s":   30,
	"subagent_timeout_s": 300,
	"max_parallel":       4,
	"keyword_overlap":    0.5,
	"confirm_timeout_s":  300,
	"tool_rate":          10.0,
	"tool_burst":         20,
	"workspace":          "",
	"agent_dirs":         []string{".agentgate/agents"},
	"executor":           "",
}

// setDefaults registers every key so AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}
