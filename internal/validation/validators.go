package validation

import (
	"github.com/go-playground/validator/v10"
)

// Validate is a shared validator instance. Request DTOs declare their rules
// with struct tags and call Validate.Struct before processing.
var Validate *validator.Validate

func init() {
	Validate = validator.New(validator.WithRequiredStructEnabled())
}
