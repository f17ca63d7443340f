// Package config loads the pipeline worker's configuration: a YAML file
// (with the teacher's $include directive and ${ENV} expansion preserved
// from loader.go) decoded into a Config, then overlaid with the explicit
// environment variables spec.md §6 names for the drain scheduler's
// tunables. Grounded on the teacher's internal/config.Load (file read,
// env expansion, decode, env override, defaults, validate pipeline).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the pipeline worker's full configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	LLM           LLMConfig           `yaml:"llm"`
	Drain         DrainConfig         `yaml:"drain"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Realtime      RealtimeConfig      `yaml:"realtime"`
	GlobalPause   GlobalPauseConfig   `yaml:"global_pause"`
}

// DrainConfig holds the drain scheduler's tunables, each overridable by
// the exact environment variable names spec.md §6 specifies.
type DrainConfig struct {
	// Concurrency is the number of parallel per-conversation drain workers
	// (AI_AGENT_CONCURRENCY).
	Concurrency int `yaml:"concurrency"`

	// LockDuration is the drain lock TTL (AI_AGENT_LOCK_DURATION_MS).
	LockDuration time.Duration `yaml:"lock_duration"`

	// StalledInterval is how often the stalled-job sweep runs
	// (AI_AGENT_STALLED_INTERVAL_MS).
	StalledInterval time.Duration `yaml:"stalled_interval"`

	// MaxStalledCount bounds how many times a job may be recovered from a
	// stalled state before it is given up on (AI_AGENT_MAX_STALLED_COUNT).
	MaxStalledCount int `yaml:"max_stalled_count"`

	// MaxMessages bounds how many trigger messages one drain iteration
	// processes before yielding via a continuation
	// (AI_AGENT_DRAIN_MAX_MESSAGES).
	MaxMessages int `yaml:"max_messages"`

	// MaxRuntime bounds one drain iteration's wall-clock budget
	// (AI_AGENT_DRAIN_MAX_RUNTIME_MS).
	MaxRuntime time.Duration `yaml:"max_runtime"`

	// LockTTL is the drain lock's renewal TTL (AI_AGENT_DRAIN_LOCK_TTL_MS).
	LockTTL time.Duration `yaml:"lock_ttl"`

	// VisitorDebounce is the coalescing window (AI_AGENT_VISITOR_DEBOUNCE_MS).
	VisitorDebounce time.Duration `yaml:"visitor_debounce"`
}

// DefaultDrainConfig matches internal/drain.DefaultConfig and
// internal/coalesce's DefaultDebounce.
func DefaultDrainConfig() DrainConfig {
	return DrainConfig{
		Concurrency:     16,
		LockDuration:    60 * time.Second,
		StalledInterval: 30 * time.Second,
		MaxStalledCount: 3,
		MaxMessages:     20,
		MaxRuntime:      45 * time.Second,
		LockTTL:         60 * time.Second,
		VisitorDebounce: 250 * time.Millisecond,
	}
}

// Load resolves path's $include directives and ${ENV} expansion via
// LoadRaw, decodes the result into a Config, fills any zero-valued drain
// tunable with its default, then overlays the explicit env vars from
// spec.md §6 on top (env wins, since it is the operator's most specific
// override).
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	fillDrainDefaults(&cfg.Drain)
	applyEnvOverlay(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fillDrainDefaults(cfg *DrainConfig) {
	def := DefaultDrainConfig()
	if cfg.Concurrency == 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.LockDuration == 0 {
		cfg.LockDuration = def.LockDuration
	}
	if cfg.StalledInterval == 0 {
		cfg.StalledInterval = def.StalledInterval
	}
	if cfg.MaxStalledCount == 0 {
		cfg.MaxStalledCount = def.MaxStalledCount
	}
	if cfg.MaxMessages == 0 {
		cfg.MaxMessages = def.MaxMessages
	}
	if cfg.MaxRuntime == 0 {
		cfg.MaxRuntime = def.MaxRuntime
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.VisitorDebounce == 0 {
		cfg.VisitorDebounce = def.VisitorDebounce
	}
}

// applyEnvOverlay overlays the exact environment variables spec.md §6
// names on top of whatever the YAML file (or defaults) set.
func applyEnvOverlay(cfg *Config) {
	if v, ok := envInt("AI_AGENT_CONCURRENCY"); ok {
		cfg.Drain.Concurrency = v
	}
	if v, ok := envMillis("AI_AGENT_LOCK_DURATION_MS"); ok {
		cfg.Drain.LockDuration = v
	}
	if v, ok := envMillis("AI_AGENT_STALLED_INTERVAL_MS"); ok {
		cfg.Drain.StalledInterval = v
	}
	if v, ok := envInt("AI_AGENT_MAX_STALLED_COUNT"); ok {
		cfg.Drain.MaxStalledCount = v
	}
	if v, ok := envInt("AI_AGENT_DRAIN_MAX_MESSAGES"); ok {
		cfg.Drain.MaxMessages = v
	}
	if v, ok := envMillis("AI_AGENT_DRAIN_MAX_RUNTIME_MS"); ok {
		cfg.Drain.MaxRuntime = v
	}
	if v, ok := envMillis("AI_AGENT_DRAIN_LOCK_TTL_MS"); ok {
		cfg.Drain.LockTTL = v
	}
	if v, ok := envMillis("AI_AGENT_VISITOR_DEBOUNCE_MS"); ok {
		cfg.Drain.VisitorDebounce = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.Database.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		setProviderKey(cfg, "anthropic", v)
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		setProviderKey(cfg, "openai", v)
	}
	if v := strings.TrimSpace(os.Getenv("NATS_URL")); v != "" {
		cfg.Realtime.NATSURL = v
	}
	if v := strings.TrimSpace(os.Getenv("AI_AGENT_GLOBAL_PAUSE_FILE")); v != "" {
		cfg.GlobalPause.SentinelPath = v
	}
}

func setProviderKey(cfg *Config, provider, key string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	entry := cfg.LLM.Providers[provider]
	entry.APIKey = key
	cfg.LLM.Providers[provider] = entry
}

func envInt(name string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envMillis(name string) (time.Duration, bool) {
	v, ok := envInt(name)
	if !ok {
		return 0, false
	}
	return time.Duration(v) * time.Millisecond, true
}

// ConfigValidationError reports one or more invalid configuration values.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	if cfg.Server.GRPCPort != 0 && cfg.Server.GRPCPort == cfg.Server.HTTPPort {
		issues = append(issues, "server.grpc_port and server.http_port must differ")
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		issues = append(issues, "database.url is required")
	}
	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
		}
	}
	if cfg.Drain.MaxMessages <= 0 {
		issues = append(issues, "drain.max_messages must be > 0")
	}
	if cfg.Drain.FailureThresholdOrDefault() <= 0 {
		issues = append(issues, "drain.max_stalled_count must be > 0")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

// FailureThresholdOrDefault exposes MaxStalledCount under the name the
// drain worker's retry-threshold config knows it by.
func (d DrainConfig) FailureThresholdOrDefault() int {
	if d.MaxStalledCount <= 0 {
		return DefaultDrainConfig().MaxStalledCount
	}
	return d.MaxStalledCount
}
