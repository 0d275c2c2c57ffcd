package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/haatos/devflow/internal/service"
)

type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (rv *RequestValidator) Validate(i any) error {
	if err := rv.validate.Struct(i); err != nil {
		return service.ValidationError{Message: err.Error()}
	}
	return nil
}
