package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"voice-conformity-go/internal/failures"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the fully defaulted configuration. All problems are
// reported together.
func Validate(cfg *Config) error {
	var problems []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, describe(fe))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	if cfg.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(cfg.Schedule.Cron); err != nil {
			problems = append(problems, fmt.Sprintf("schedule.cron %q: %v", cfg.Schedule.Cron, err))
		}
	}
	if _, err := cfg.Schedule.Location(); err != nil {
		problems = append(problems, fmt.Sprintf("schedule.timezone %q: %v", cfg.Schedule.Timezone, err))
	}

	if len(problems) == 0 {
		return nil
	}
	return failures.Configuration("config.validate", errors.New(strings.Join(problems, "; ")))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s (value %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
}
