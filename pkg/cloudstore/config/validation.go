package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the server configuration using struct tags and the
// cross-field rules tags cannot express.
func (c *ServerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return c.validateCustomRules()
}

func (c *ServerConfig) validateCustomRules() error {
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}
	if c.Limits.MaxObjectBytes > c.Limits.QuotaCeilingBytes {
		return fmt.Errorf("limits: max_object_bytes (%d) exceeds quota_ceiling_bytes (%d)",
			c.Limits.MaxObjectBytes, c.Limits.QuotaCeilingBytes)
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return errors.New("jwt_secret is required in production")
	}
	if c.DBSchema != "" && !validSchemaName(c.DBSchema) {
		return fmt.Errorf("db_schema %q must be a plain identifier", c.DBSchema)
	}
	switch c.Storage.Type {
	case "fs":
		if _, err := c.fsConfig(); err != nil {
			return err
		}
	case "s3":
		if _, err := c.s3Config(); err != nil {
			return err
		}
	}
	return nil
}

// validSchemaName keeps the schema safe to interpolate into SET search_path.
func validSchemaName(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return len(s) <= 63
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
