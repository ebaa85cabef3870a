package sideeffect

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground validator with the "notblank" rule the
// data-lake event contract needs: non-empty after trimming, which
// "required" alone does not enforce for whitespace-only strings.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("notblank", validateNotBlank)
	return &Validator{validate: v}
}

func (v *Validator) ValidateDataLakeEvent(event *DataLakeEvent) error {
	if err := v.validate.Struct(event); err != nil {
		return fmt.Errorf("data-lake event validation failed: %w", err)
	}
	return nil
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}
