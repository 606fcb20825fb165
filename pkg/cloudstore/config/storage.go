package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/tendant/simple-cloud/pkg/cloudstore"
	fsstorage "github.com/tendant/simple-cloud/pkg/cloudstore/storage/fs"
	memorystorage "github.com/tendant/simple-cloud/pkg/cloudstore/storage/memory"
	s3storage "github.com/tendant/simple-cloud/pkg/cloudstore/storage/s3"
)

// decodeBackend decodes a free-form backend section into target. Strings
// from env or files are converted to the target field types.
func decodeBackend(options map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

func (c *ServerConfig) fsConfig() (fsstorage.Config, error) {
	var cfg fsstorage.Config
	if err := decodeBackend(c.Storage.Config, &cfg); err != nil {
		return cfg, fmt.Errorf("storage.config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, formatValidationError(err)
	}
	return cfg, nil
}

func (c *ServerConfig) s3Config() (s3storage.Config, error) {
	cfg := s3storage.Config{Region: "us-east-1", SSEAlgorithm: "AES256"}
	if err := decodeBackend(c.Storage.Config, &cfg); err != nil {
		return cfg, fmt.Errorf("storage.config: %w", err)
	}
	if cfg.Bucket == "" {
		return cfg, fmt.Errorf("storage.config: s3 bucket is required")
	}
	if cfg.EnableSSE && cfg.SSEAlgorithm != "AES256" && cfg.SSEAlgorithm != "aws:kms" {
		return cfg, fmt.Errorf("storage.config: unsupported sse_algorithm %q", cfg.SSEAlgorithm)
	}
	return cfg, nil
}

// buildBlobStore creates the BlobStore named by the storage section
func (c *ServerConfig) buildBlobStore() (cloudstore.BlobStore, error) {
	switch c.Storage.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		cfg, err := c.fsConfig()
		if err != nil {
			return nil, err
		}
		return fsstorage.New(cfg)

	case "s3":
		cfg, err := c.s3Config()
		if err != nil {
			return nil, err
		}
		return s3storage.New(cfg)

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", c.Storage.Type)
	}
}
