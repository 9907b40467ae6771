// Package validation validates connkit configuration structs using
// go-playground/validator struct tags.
//
//	type Policy struct {
//	    MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=0"`
//	    BaseInterval time.Duration `mapstructure:"base_interval" validate:"gt=0"`
//	}
//	err := validation.Validate(policy)
//
// Failures are returned as a CONFIGURATION_ISSUE AppError whose details list
// each offending field by its mapstructure key.
package validation
