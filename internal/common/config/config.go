// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Router   RouterConfig   `mapstructure:"router"`
	Worktree WorktreeConfig `mapstructure:"worktree"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
	// AllowedCIDRs restricts the HTTP surface to the given networks
	// (RFC1918 private ranges by default); empty entries are ignored.
	AllowedCIDRs []string `mapstructure:"allowedCidrs"`
}

// DatabaseConfig holds the embedded sqlite persistence configuration used
// for worker/task/plan state and queue snapshots.
type DatabaseConfig struct {
	Path            string `mapstructure:"path"`
	MaxOpenConns    int    `mapstructure:"maxOpenConns"`
	BusyTimeoutMS   int    `mapstructure:"busyTimeoutMs"`
	MigrationsOnRun bool   `mapstructure:"migrationsOnRun"`
}

// QueueConfig holds the priority message queue configuration.
type QueueConfig struct {
	MaxSize          int    `mapstructure:"maxSize"`
	PersistPath      string `mapstructure:"persistPath"`
	SweepInterval    int    `mapstructure:"sweepInterval"`    // seconds between TTL/ack-timeout sweeps
	DefaultAckMS     int    `mapstructure:"defaultAckMs"`     // default ack timeout in ms when a message specifies none
	MaxRetryBackoffS int    `mapstructure:"maxRetryBackoffS"` // retry backoff ceiling in seconds
	PersistEnabled   bool   `mapstructure:"persistEnabled"`
}

// RouterConfig holds the message router configuration.
type RouterConfig struct {
	RuleFilePath    string `mapstructure:"ruleFilePath"`
	WatchRuleFile   bool   `mapstructure:"watchRuleFile"`
	TraceRoutes     bool   `mapstructure:"traceRoutes"`
	SubscriberDepth int    `mapstructure:"subscriberDepth"` // bounded channel depth before drop-oldest
}

// WorktreeConfig holds Git worktree configuration for concurrent worker execution.
type WorktreeConfig struct {
	BasePath        string `mapstructure:"basePath"`        // base directory for worktrees (default: ~/.orchestrion/worktrees)
	DefaultBranch   string `mapstructure:"defaultBranch"`   // fallback base branch when detection fails
	CleanupOnRemove bool   `mapstructure:"cleanupOnRemove"` // remove worktree directory on session completion
	GitTimeoutS     int    `mapstructure:"gitTimeoutS"`      // per-invocation timeout for git subprocess calls
}

// WorkerConfig holds worker session defaults: stream flush cadence, replay
// buffering for sinks that attach late, and stall detection.
type WorkerConfig struct {
	FlushIntervalMS     int `mapstructure:"flushIntervalMs"`     // debounce window for log-flush of streaming parts
	ReplayBufferSize    int `mapstructure:"replayBufferSize"`    // parts retained while no sink is attached
	StallCheckIntervalS int `mapstructure:"stallCheckIntervalS"` // ticker period for stall detection
	StallWarningS       int `mapstructure:"stallWarningS"`       // inactivity duration that triggers a stall warning
	ContextDigestCount  int `mapstructure:"contextDigestCount"`  // number of "key" messages carried across hot-swap
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwtSecret"`
	TokenDuration int    `mapstructure:"tokenDuration"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TokenDurationTime returns the token duration as a time.Duration.
func (a *AuthConfig) TokenDurationTime() time.Duration {
	return time.Duration(a.TokenDuration) * time.Second
}

// SweepIntervalDuration returns the sweep interval as a time.Duration.
func (q *QueueConfig) SweepIntervalDuration() time.Duration {
	return time.Duration(q.SweepInterval) * time.Second
}

// DefaultAckDuration returns the default ack timeout as a time.Duration.
func (q *QueueConfig) DefaultAckDuration() time.Duration {
	return time.Duration(q.DefaultAckMS) * time.Millisecond
}

// MaxRetryBackoffDuration returns the retry backoff ceiling as a time.Duration.
func (q *QueueConfig) MaxRetryBackoffDuration() time.Duration {
	return time.Duration(q.MaxRetryBackoffS) * time.Second
}

// GitTimeoutDuration returns the per-git-call timeout as a time.Duration.
func (w *WorktreeConfig) GitTimeoutDuration() time.Duration {
	return time.Duration(w.GitTimeoutS) * time.Second
}

// FlushIntervalDuration returns the stream-flush debounce window as a time.Duration.
func (w *WorkerConfig) FlushIntervalDuration() time.Duration {
	return time.Duration(w.FlushIntervalMS) * time.Millisecond
}

// StallCheckIntervalDuration returns the stall-check ticker period as a time.Duration.
func (w *WorkerConfig) StallCheckIntervalDuration() time.Duration {
	return time.Duration(w.StallCheckIntervalS) * time.Second
}

// StallWarningDuration returns the inactivity threshold that triggers a stall warning.
func (w *WorkerConfig) StallWarningDuration() time.Duration {
	return time.Duration(w.StallWarningS) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("ORCH_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.allowedCidrs", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "127.0.0.1/32"})

	// Database defaults
	v.SetDefault("database.path", "./orchestrion.db")
	v.SetDefault("database.maxOpenConns", 1) // sqlite: single-writer
	v.SetDefault("database.busyTimeoutMs", 5000)
	v.SetDefault("database.migrationsOnRun", true)

	// Queue defaults
	v.SetDefault("queue.maxSize", 10000)
	v.SetDefault("queue.persistPath", "~/.orchestrion/queue-snapshot.json")
	v.SetDefault("queue.sweepInterval", 60)
	v.SetDefault("queue.defaultAckMs", 30000)
	v.SetDefault("queue.maxRetryBackoffS", 30)
	v.SetDefault("queue.persistEnabled", true)

	// Router defaults
	v.SetDefault("router.ruleFilePath", "")
	v.SetDefault("router.watchRuleFile", true)
	v.SetDefault("router.traceRoutes", false)
	v.SetDefault("router.subscriberDepth", 256)

	// Worktree defaults
	v.SetDefault("worktree.basePath", "~/.orchestrion/worktrees")
	v.SetDefault("worktree.defaultBranch", "main")
	v.SetDefault("worktree.cleanupOnRemove", true)
	v.SetDefault("worktree.gitTimeoutS", 60)

	// Worker session defaults
	v.SetDefault("worker.flushIntervalMs", 50)
	v.SetDefault("worker.replayBufferSize", 1024)
	v.SetDefault("worker.stallCheckIntervalS", 30)
	v.SetDefault("worker.stallWarningS", 300)
	v.SetDefault("worker.contextDigestCount", 10)

	// Auth defaults
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenDuration", 3600) // 1 hour

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix ORCH_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/orchestrion/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "ORCH_LOG_LEVEL")
	_ = v.BindEnv("server.port", "ORCH_PORT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/orchestrion/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if cfg.Queue.MaxSize <= 0 {
		errs = append(errs, "queue.maxSize must be positive")
	}
	if cfg.Queue.SweepInterval <= 0 {
		errs = append(errs, "queue.sweepInterval must be positive")
	}

	if cfg.Router.SubscriberDepth <= 0 {
		errs = append(errs, "router.subscriberDepth must be positive")
	}

	if cfg.Worker.ReplayBufferSize <= 0 {
		errs = append(errs, "worker.replayBufferSize must be positive")
	}

	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDevSecret()
	}
	if cfg.Auth.TokenDuration <= 0 {
		errs = append(errs, "auth.tokenDuration must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// generateDevSecret generates a random secret for development mode.
func generateDevSecret() string {
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
