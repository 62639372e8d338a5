package pluginstore

import (
	"errors"
	"strings"

	"github.com/ManuelReschke/Tenantly/internal/pkg/env"
)

// Config describes where plugin bundles are published.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	EndpointURL     string // optional, for S3-compatible services
	AccessKeyID     string
	SecretAccessKey string
}

// LoadConfig combines the bucket settings with credentials from the
// environment. Without credentials the default AWS chain is used.
func LoadConfig(bucket, prefix, region string) (*Config, error) {
	cfg := &Config{
		Bucket:          bucket,
		Prefix:          NormalizePrefix(prefix),
		Region:          region,
		EndpointURL:     env.GetEnv("PLUGIN_S3_ENDPOINT_URL", ""),
		AccessKeyID:     env.GetEnv("PLUGIN_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("PLUGIN_S3_SECRET_ACCESS_KEY", ""),
	}
	if cfg.Bucket == "" {
		return nil, errors.New("PLUGIN_S3_BUCKET is required for plugin bundle sync")
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return nil, errors.New("PLUGIN_S3_ACCESS_KEY_ID and PLUGIN_S3_SECRET_ACCESS_KEY must be set together")
	}
	return cfg, nil
}

// IsEnabled reports whether a bucket is configured.
func (c *Config) IsEnabled() bool {
	return c != nil && c.Bucket != ""
}

// NormalizePrefix strips leading slashes and ensures a trailing one.
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimLeft(strings.TrimSpace(prefix), "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}
