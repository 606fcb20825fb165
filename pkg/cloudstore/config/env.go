package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// EnvPrefix prefixes every variable read by WithEnv.
const EnvPrefix = "CLOUD_"

type cloudEnv struct {
	Port          string `env:"PORT"`
	Environment   string `env:"ENVIRONMENT"`
	DatabaseURL   string `env:"DATABASE_URL"`
	DBSchema      string `env:"DB_SCHEMA"`
	StorageURL    string `env:"STORAGE_URL"`
	MaxObjectSize int64  `env:"MAX_OBJECT_BYTES"`
	QuotaBytes    int64  `env:"QUOTA_BYTES"`
	MaxRecipients int    `env:"MAX_RECIPIENTS"`
	JWTSecret     string `env:"JWT_SECRET"`
	NotifierURL   string `env:"NOTIFIER_URL"`
	EventLogging  string `env:"EVENT_LOGGING"`
	LogLevel      string `env:"LOG_LEVEL"`
	LogFormat     string `env:"LOG_FORMAT"`
}

type awsEnv struct {
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	Region          string `env:"AWS_REGION"`
}

type environment struct {
	Cloud cloudEnv `env-prefix:"CLOUD_"`
	AWS   awsEnv
}

// WithEnv applies environment variable overrides. Unset variables leave the
// current value alone.
//
//	CLOUD_PORT, CLOUD_ENVIRONMENT
//	CLOUD_DATABASE_URL   "memory" or "postgres://..." / "postgresql://..."
//	CLOUD_DB_SCHEMA
//	CLOUD_STORAGE_URL    "memory://", "file:///path" or
//	                     "s3://bucket?region=..&endpoint=..&path_style=true&prefix=.."
//	CLOUD_MAX_OBJECT_BYTES, CLOUD_QUOTA_BYTES, CLOUD_MAX_RECIPIENTS
//	CLOUD_JWT_SECRET, CLOUD_NOTIFIER_URL, CLOUD_EVENT_LOGGING
//	CLOUD_LOG_LEVEL, CLOUD_LOG_FORMAT
//
// S3 credentials come from AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and
// AWS_REGION.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env environment
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		e := env.Cloud

		setString(&c.Port, e.Port)
		setString(&c.Environment, e.Environment)
		setString(&c.DBSchema, e.DBSchema)
		setString(&c.JWTSecret, e.JWTSecret)
		setString(&c.NotifierURL, e.NotifierURL)
		setString(&c.LogLevel, strings.ToLower(e.LogLevel))
		setString(&c.LogFormat, strings.ToLower(e.LogFormat))

		if e.MaxObjectSize > 0 {
			c.Limits.MaxObjectBytes = e.MaxObjectSize
		}
		if e.QuotaBytes > 0 {
			c.Limits.QuotaCeilingBytes = e.QuotaBytes
		}
		if e.MaxRecipients > 0 {
			c.Limits.MaxRecipients = e.MaxRecipients
		}
		if e.EventLogging != "" {
			enabled, err := strconv.ParseBool(e.EventLogging)
			if err != nil {
				return fmt.Errorf("invalid boolean for %sEVENT_LOGGING: %w", EnvPrefix, err)
			}
			c.EnableEventLogging = enabled
		}

		if err := applyDatabaseURL(e.DatabaseURL, c); err != nil {
			return err
		}
		return applyStorageURL(e.StorageURL, env.AWS, c)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// applyDatabaseURL auto-detects the database type from the URL scheme
func applyDatabaseURL(dbURL string, c *ServerConfig) error {
	switch {
	case dbURL == "":
		return nil
	case dbURL == "memory":
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
	default:
		return fmt.Errorf("unsupported %sDATABASE_URL format: %s (use 'memory' or 'postgresql://...')", EnvPrefix, dbURL)
	}
	return nil
}

// applyStorageURL configures the blob store from a storage URL
func applyStorageURL(storageURL string, creds awsEnv, c *ServerConfig) error {
	if storageURL == "" {
		return nil
	}
	if storageURL == "memory" || storageURL == "memory://" {
		return WithMemoryStorage()(c)
	}

	u, err := url.Parse(storageURL)
	if err != nil {
		return fmt.Errorf("invalid %sSTORAGE_URL: %w", EnvPrefix, err)
	}

	switch u.Scheme {
	case "file":
		path := u.Path
		if u.Host != "" {
			// file://relative/dir
			path = u.Host + u.Path
		}
		if path == "" {
			return fmt.Errorf("filesystem path cannot be empty in %sSTORAGE_URL", EnvPrefix)
		}
		return WithFilesystemStorage(path)(c)

	case "s3":
		if u.Host == "" {
			return fmt.Errorf("S3 bucket name cannot be empty in %sSTORAGE_URL", EnvPrefix)
		}
		q := u.Query()
		region := q.Get("region")
		if region == "" {
			region = creds.Region
		}
		if err := WithS3Storage(u.Host, region)(c); err != nil {
			return err
		}
		if endpoint := q.Get("endpoint"); endpoint != "" {
			c.Storage.Config["endpoint"] = endpoint
		}
		if v := q.Get("path_style"); v != "" {
			c.Storage.Config["use_path_style"] = v
		}
		if v := q.Get("prefix"); v != "" {
			c.Storage.Config["key_prefix"] = v
		}
		if v := q.Get("create_bucket"); v != "" {
			c.Storage.Config["create_bucket_if_not_exist"] = v
		}
		if creds.AccessKeyID != "" && creds.SecretAccessKey != "" {
			c.Storage.Config["access_key_id"] = creds.AccessKeyID
			c.Storage.Config["secret_access_key"] = creds.SecretAccessKey
		}
		return nil
	}

	return fmt.Errorf("unsupported %sSTORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", EnvPrefix, storageURL)
}
