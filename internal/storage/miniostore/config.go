package miniostore

import (
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Config holds the connection options of a MinIO (or other S3-compatible)
// store.
type Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"accessKeyId"`
	SecretAccessKey string `mapstructure:"secretAccessKey"`
	SessionToken    string `mapstructure:"sessionToken"`
	Region          string `mapstructure:"region"`
	Secure          bool   `mapstructure:"secure"`
}

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: "localhost:9000",
		Secure:   false,
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
		return nil, fmt.Errorf("failed to decode minio store config: %w", err)
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("minio store endpoint is required")
	}
	return cfg, nil
}
