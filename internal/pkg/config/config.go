package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/Tenantly/internal/pkg/env"
)

// Config is the process-wide configuration, read once at boot.
type Config struct {
	AppHost string `validate:"required"`
	AppPort string `validate:"required,numeric"`

	DatabaseURL string `validate:"required"`
	CacheHost   string `validate:"required"`
	CachePort   string `validate:"required,numeric"`
	CachePass   string

	BaseDomain    string `validate:"required"`
	SessionSecret string

	AdminUser         string `validate:"required"`
	AdminPasswordHash string
	AdminAPIKeyHash   string

	HostVersion      string `validate:"required"`
	PluginDir        string `validate:"required"`
	PluginWorkerPath string `validate:"required"`
	PluginS3Bucket   string
	PluginS3Prefix   string
	PluginS3Region   string

	// StrictRegionIsolation turns the tenant-lookup fallback to the primary
	// database into an error.
	StrictRegionIsolation bool

	PlanTimeouts map[string]time.Duration

	QueueWorkers          int `validate:"min=1,max=64"`
	PluginLogRetentionDay int `validate:"min=1"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		AppHost:               env.GetEnv("APP_HOST", "localhost"),
		AppPort:               env.GetEnv("APP_PORT", "4000"),
		DatabaseURL:           env.GetEnv("DATABASE_URL", ""),
		CacheHost:             env.GetEnv("CACHE_HOST", "localhost"),
		CachePort:             env.GetEnv("CACHE_PORT", "6379"),
		CachePass:             env.GetEnv("CACHE_PASSWORD", ""),
		BaseDomain:            env.GetEnv("BASE_DOMAIN", "localhost"),
		SessionSecret:         env.GetEnv("SESSION_SECRET", ""),
		AdminUser:             env.GetEnv("ADMIN_USER", "admin"),
		AdminPasswordHash:     env.GetEnv("ADMIN_PASSWORD_HASH", ""),
		AdminAPIKeyHash:       env.GetEnv("ADMIN_API_KEY_HASH", ""),
		HostVersion:           env.GetEnv("HOST_VERSION", "1.0.0"),
		PluginDir:             env.GetEnv("PLUGIN_DIR", "./plugins"),
		PluginWorkerPath:      env.GetEnv("PLUGIN_WORKER_PATH", "./bin/plugin-worker"),
		PluginS3Bucket:        env.GetEnv("PLUGIN_S3_BUCKET", ""),
		PluginS3Prefix:        env.GetEnv("PLUGIN_S3_PREFIX", "plugins/"),
		PluginS3Region:        env.GetEnv("PLUGIN_S3_REGION", "eu-central-1"),
		StrictRegionIsolation: env.GetEnv("STRICT_REGION_ISOLATION", "false") == "true",
		PlanTimeouts: map[string]time.Duration{
			"free":       durationEnv("API_TIMEOUT_FREE", 10*time.Second),
			"pro":        durationEnv("API_TIMEOUT_PRO", 30*time.Second),
			"enterprise": durationEnv("API_TIMEOUT_ENTERPRISE", 60*time.Second),
		},
		QueueWorkers:          intEnv("QUEUE_WORKERS", 3),
		PluginLogRetentionDay: intEnv("PLUGIN_LOG_RETENTION_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.AppHost, c.AppPort)
}

// CacheAddr returns host:port of the redis server.
func (c *Config) CacheAddr() string {
	return fmt.Sprintf("%s:%s", c.CacheHost, c.CachePort)
}

// PlanTimeout returns the API timeout for a plan tier, falling back to the free tier.
func (c *Config) PlanTimeout(plan string) time.Duration {
	if d, ok := c.PlanTimeouts[plan]; ok && d > 0 {
		return d
	}
	return c.PlanTimeouts["free"]
}

func durationEnv(key string, def time.Duration) time.Duration {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func intEnv(key string, def int) int {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
