package config

import "time"

// ServerConfig configures the pipeline worker's gRPC/HTTP/metrics listeners.
type ServerConfig struct {
	Host        string `yaml:"host"`
	GRPCPort    int    `yaml:"grpc_port"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DatabaseConfig configures the Postgres connection backing internal/db.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig configures the Redis connection backing internal/store,
// internal/jobq, and the kill-switch cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RealtimeConfig configures the dashboard/widget fan-out transport
// (internal/emitter.NATSSink). A blank URL falls back to an in-process
// internal/emitter.ChannelSink, which is the local-dev and test mode.
type RealtimeConfig struct {
	NATSURL string `yaml:"nats_url"`
}

// GlobalPauseConfig configures the process-wide emergency stop
// (internal/killswitch.GlobalPause) watched via fsnotify.
type GlobalPauseConfig struct {
	// SentinelPath, if set, is watched for creation/removal; the
	// process-wide pause is active whenever the file exists.
	SentinelPath string `yaml:"sentinel_path"`
}
