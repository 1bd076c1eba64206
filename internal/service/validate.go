package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/sakif/chef-chat/internal/apperror"
)

// newValidator returns a validator that reports fields by their JSON name,
// so AppError.Field matches what the client sent ("channelId", "email").
//
// String length rules (min, max) count runes, not bytes.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// validationError turns the first validator failure into an AppError.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperror.ValidationFailed("", err.Error())
	}

	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required", "notblank":
		return apperror.ValidationFailed(field, field+" is required")
	case "email":
		return apperror.ValidationFailed(field, "not a valid email address")
	case "min":
		return apperror.ValidationFailed(field, fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
	case "max":
		return apperror.ValidationFailed(field, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
	default:
		return apperror.ValidationFailed(field, field+" is invalid")
	}
}
