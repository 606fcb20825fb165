package config

import (
	"github.com/tendant/simple-cloud/pkg/cloudstore"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	limits := cloudstore.DefaultLimits()
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		DatabaseType: "memory",
		DBSchema:     "cloud",
		Storage: StorageBackendConfig{
			Type:   "memory",
			Config: map[string]interface{}{},
		},
		Limits: LimitsConfig{
			MaxObjectBytes:    limits.MaxObjectBytes,
			QuotaCeilingBytes: limits.QuotaCeilingBytes,
			MaxRecipients:     limits.MaxRecipients,
		},
		DirectoryCacheSize: 1024,
		NotifyConcurrency:  4,
		EnableEventLogging: true,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// ServerConfig represents server configuration for the simple-cloud service
type ServerConfig struct {
	Port        string `mapstructure:"port" validate:"required"`
	Environment string `mapstructure:"environment" validate:"oneof=development production testing"`

	// Database configuration
	DatabaseURL  string `mapstructure:"database_url"`
	DatabaseType string `mapstructure:"database_type" validate:"oneof=memory postgres"`
	DBSchema     string `mapstructure:"db_schema"`

	// Storage configuration
	Storage StorageBackendConfig `mapstructure:"storage"`

	Limits LimitsConfig `mapstructure:"limits"`

	// Sharing
	NotifierURL        string `mapstructure:"notifier_url" validate:"omitempty,url"`
	DirectoryCacheSize int    `mapstructure:"directory_cache_size" validate:"gte=0"`
	NotifyConcurrency  int    `mapstructure:"notify_concurrency" validate:"gte=1"`

	// Server options
	JWTSecret          string `mapstructure:"jwt_secret"`
	EnableEventLogging bool   `mapstructure:"enable_event_logging"`
	LogLevel           string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat          string `mapstructure:"log_format" validate:"oneof=text json"`
}

// StorageBackendConfig represents configuration for the blob store
type StorageBackendConfig struct {
	Type   string                 `mapstructure:"type" validate:"oneof=memory fs s3"` // "memory", "fs", "s3"
	Config map[string]interface{} `mapstructure:"config"`
}

// LimitsConfig mirrors cloudstore.Limits with config tags
type LimitsConfig struct {
	MaxObjectBytes    int64 `mapstructure:"max_object_bytes" validate:"gt=0"`
	QuotaCeilingBytes int64 `mapstructure:"quota_ceiling_bytes" validate:"gt=0"`
	MaxRecipients     int   `mapstructure:"max_recipients" validate:"gt=0"`
}

// ServiceLimits converts the configured limits for the service.
func (c *ServerConfig) ServiceLimits() cloudstore.Limits {
	return cloudstore.Limits{
		MaxObjectBytes:    c.Limits.MaxObjectBytes,
		QuotaCeilingBytes: c.Limits.QuotaCeilingBytes,
		MaxRecipients:     c.Limits.MaxRecipients,
	}
}

// IsProduction reports whether the service runs in production mode.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}
