package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Struct tags cover the declarative checks; custom rules cover the
// cross-field constraints tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Fingerprints.Type == "badger" && cfg.Fingerprints.Path == "" {
		return fmt.Errorf("fingerprints: path is required when type is badger")
	}

	for id, sc := range cfg.Storages {
		if strings.ContainsRune(id, ':') {
			return fmt.Errorf("storages[%s]: identifier must not contain ':'", id)
		}
		if len(id) < 2 {
			// Single-letter identifiers collide with Windows drive
			// letters in path parsing.
			return fmt.Errorf("storages[%s]: identifier must be at least two characters", id)
		}
		if sc.Type == "" {
			return fmt.Errorf("storages[%s]: type is required", id)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
