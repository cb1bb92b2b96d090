package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"recoverly/internal/types"
)

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult collects field errors.
type ValidationResult struct {
	Errors []ValidationError `json:"errors,omitempty"`
}

// IsValid reports whether no errors were collected.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator with the request tags used by the
// API:
//
//	provider_secret_key  sk_ or rk_ prefixed provider API key
//	webhook_secret       whsec_ prefixed signing secret
//	single_line          no CR or LF (email subjects)
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator registers the custom tags. Field names in errors use the
// json tag.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	mustRegister(v, "provider_secret_key", prefixRule("sk_", "rk_"))
	mustRegister(v, "webhook_secret", prefixRule("whsec_"))
	mustRegister(v, "single_line", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "\r\n")
	})

	return &Validator{validate: v, logger: logger}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

func prefixRule(prefixes ...string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		for _, p := range prefixes {
			if strings.HasPrefix(s, p) && len(s) > len(p) {
				return true
			}
		}
		return false
	}
}

// Check validates s and returns every field error.
func (v *Validator) Check(s any) ValidationResult {
	var result ValidationResult
	err := v.validate.Struct(s)
	if err == nil {
		return result
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("validator misuse", "error", err)
		result.Errors = append(result.Errors, ValidationError{Field: "", Code: "invalid", Message: err.Error()})
		return result
	}
	for _, fe := range fieldErrs {
		result.Errors = append(result.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: messageFor(fe),
		})
	}
	return result
}

// ValidateStruct returns a validation_invalid_body AppError listing the
// field errors, or nil.
func (v *Validator) ValidateStruct(s any) error {
	result := v.Check(s)
	if result.IsValid() {
		return nil
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody, "request validation failed", nil,
		map[string]any{"fields": result.Errors})
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "provider_secret_key":
		return fe.Field() + " must be a provider secret or restricted key (sk_ or rk_)"
	case "webhook_secret":
		return fe.Field() + " must be a webhook signing secret (whsec_)"
	case "single_line":
		return fe.Field() + " must not contain line breaks"
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
