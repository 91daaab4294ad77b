package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// Validate checks a Config for structural problems beyond what the TOML
// decoder catches. Tag-based rules run first, then cross-field rules that
// depend on the tagged-union Type fields.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationError(verrs)
		}
		return fmt.Errorf("config validation: %w", err)
	}

	if cfg.Journal.Type == "sqlite" && cfg.Journal.DataDir == "" {
		return fmt.Errorf("config validation: journal.data_dir is required when journal.type is sqlite")
	}
	if cfg.Backup.Type == "filesystem" && cfg.Backup.Dir == "" {
		return fmt.Errorf("config validation: backup.dir is required when backup.type is filesystem")
	}
	if cfg.Backup.Encryption.Type == "age" {
		if cfg.Backup.Encryption.Recipient == "" {
			return fmt.Errorf("config validation: backup.encryption.recipient is required when encryption.type is age")
		}
		if cfg.Backup.Encryption.IdentityPath == "" {
			return fmt.Errorf("config validation: backup.encryption.identity_path is required when encryption.type is age")
		}
	}
	return nil
}

func formatValidationError(verrs validator.ValidationErrors) error {
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("config validation: %s is required", fe.Namespace())
		case "oneof":
			return fmt.Errorf("config validation: %s must be one of [%s], got %q", fe.Namespace(), fe.Param(), fe.Value())
		case "min":
			return fmt.Errorf("config validation: %s must be at least %s", fe.Namespace(), fe.Param())
		default:
			return fmt.Errorf("config validation: %s failed on %s", fe.Namespace(), fe.Tag())
		}
	}
	return fmt.Errorf("config validation failed")
}
