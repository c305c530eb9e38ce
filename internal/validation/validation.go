// Package validation checks request input before it reaches a store.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"murmur/internal/models"

	"github.com/go-playground/validator/v10"
)

// MaxBodyLength is the post body limit in runes.
const MaxBodyLength = 280

var idRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Validator wraps go-playground/validator with the "id" tag registered.
// Malformed ids map to INVALID_OPERATION, every other violation to
// VALIDATION_ERROR.
type Validator struct {
	cli *validator.Validate
}

func New() *Validator {
	cli := validator.New(validator.WithRequiredStructEnabled())
	cli.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// Registration only fails for an empty tag or nil func.
	_ = cli.RegisterValidation("id", func(fl validator.FieldLevel) bool {
		return IsID(fl.Field().String())
	})
	return &Validator{cli: cli}
}

// IsID reports whether s is a well-formed post or user id.
func IsID(s string) bool {
	return idRegex.MatchString(s)
}

// ID validates a single identifier.
func (v *Validator) ID(field, id string) error {
	if err := v.cli.Var(id, "required,id"); err != nil {
		return models.NewInvalidOperationError(fmt.Sprintf("%s is malformed", field))
	}
	return nil
}

// IDs validates every element of ids.
func (v *Validator) IDs(field string, ids []string) error {
	if err := v.cli.Var(ids, "dive,required,id"); err != nil {
		return models.NewInvalidOperationError(fmt.Sprintf("%s contains a malformed id", field))
	}
	return nil
}

// Struct validates s according to its validate tags.
func (v *Validator) Struct(s any) error {
	err := v.cli.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return models.NewValidationError(err.Error())
	}
	fe := verrs[0]
	if fe.Tag() == "id" {
		return models.NewInvalidOperationError(fmt.Sprintf("%s is malformed", fe.Field()))
	}
	return models.NewValidationError(message(fe))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
