// Package validation checks trip requests before they reach the cache or provider.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/trip-weather-service/internal/models"
)

var (
	// ErrDestinationEmpty is returned when destination is empty or whitespace-only.
	ErrDestinationEmpty = errors.New("destination is required")
	// ErrDestinationTooLong is returned when destination exceeds the maximum length in runes.
	ErrDestinationTooLong = errors.New("destination too long")
	// ErrDestinationInvalidChars is returned when destination contains control characters.
	ErrDestinationInvalidChars = errors.New("destination contains invalid characters")
	// ErrInvalidDuration is returned when duration_days is below 1.
	ErrInvalidDuration = errors.New("duration_days must be at least 1")
	// ErrDurationTooLong is returned when duration_days exceeds the forecast horizon.
	ErrDurationTooLong = errors.New("duration_days exceeds forecast horizon")
	// ErrInvalidStartDate is returned when start_date is set but not a YYYY-MM-DD date.
	ErrInvalidStartDate = errors.New("start_date must be YYYY-MM-DD")
)

// Rules carries the configurable limits. Zero values disable a limit.
type Rules struct {
	DestinationMaxLength int
	MaxDurationDays      int
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("destination", func(fl validator.FieldLevel) bool {
		return destinationError(fl.Field().String()) == nil
	}); err != nil {
		panic(fmt.Sprintf("validation: register destination tag: %v", err))
	}
	return v
}

// ValidateRequest checks req against the struct tags on models.WeatherRequest
// and the configured rules. The destination is not modified: whether it is
// trimmed or case-folded for caching is the service's policy.
func ValidateRequest(req models.WeatherRequest, rules Rules) error {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return err
		}
		return fieldError(verrs[0], req)
	}
	if rules.DestinationMaxLength > 0 && utf8.RuneCountInString(strings.TrimSpace(req.Destination)) > rules.DestinationMaxLength {
		return fmt.Errorf("%w: max %d characters", ErrDestinationTooLong, rules.DestinationMaxLength)
	}
	if rules.MaxDurationDays > 0 {
		if err := validate.Var(req.DurationDays, fmt.Sprintf("lte=%d", rules.MaxDurationDays)); err != nil {
			return fmt.Errorf("%w: max %d days", ErrDurationTooLong, rules.MaxDurationDays)
		}
	}
	return nil
}

// ValidateDestination checks a destination on its own, for the current-conditions path.
func ValidateDestination(destination string, maxLen int) error {
	if err := destinationError(destination); err != nil {
		return err
	}
	if maxLen > 0 && utf8.RuneCountInString(strings.TrimSpace(destination)) > maxLen {
		return fmt.Errorf("%w: max %d characters", ErrDestinationTooLong, maxLen)
	}
	return nil
}

func destinationError(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrDestinationEmpty
	}
	for _, r := range s {
		if unicode.IsControl(r) && r != '\t' {
			return ErrDestinationInvalidChars
		}
	}
	return nil
}

func fieldError(fe validator.FieldError, req models.WeatherRequest) error {
	switch fe.StructField() {
	case "Destination":
		if err := destinationError(req.Destination); err != nil {
			return err
		}
		return ErrDestinationEmpty
	case "StartDate":
		return fmt.Errorf("%w: got %q", ErrInvalidStartDate, req.StartDate)
	case "DurationDays":
		return fmt.Errorf("%w: got %d", ErrInvalidDuration, req.DurationDays)
	}
	return fmt.Errorf("invalid %s: failed %s", fe.Field(), fe.Tag())
}
