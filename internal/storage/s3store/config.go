package s3store

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Config holds the connection options of an S3 store.
type Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"accessKeyId"`
	SecretAccessKey string `mapstructure:"secretAccessKey"`
	SessionToken    string `mapstructure:"sessionToken"`
	Profile         string `mapstructure:"profile"`

	// Path style access (for S3-compatible services like MinIO)
	ForcePathStyle bool `mapstructure:"forcePathStyle"`

	// DisableSSL switches a custom endpoint to plain HTTP.
	DisableSSL bool `mapstructure:"disableSSL"`

	// PageSize is the MaxKeys value of each ListObjectsV2 request.
	PageSize int32 `mapstructure:"pageSize"`
}

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() *Config {
	return &Config{
		PageSize: 1000,
	}
}

// DecodeConfig decodes raw store options into a Config on top of the
// defaults.
func DecodeConfig(raw map[string]any) (*Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode s3 store config: %w", err)
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 1000 {
		return nil, fmt.Errorf("s3 store pageSize must be between 1 and 1000, got %d", cfg.PageSize)
	}
	return cfg, nil
}
