package server

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// maxAmount caps a single money field at 10^12 minor units.
const maxAmount int64 = 1_000_000_000_000

var registerOnce sync.Once

func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("amount", validateAmount)
		_ = v.RegisterValidation("currency", validateCurrency)
	})
}

// validateAmount accepts positive minor-unit amounts up to maxAmount.
func validateAmount(fl validator.FieldLevel) bool {
	switch fl.Field().Kind().String() {
	case "int", "int8", "int16", "int32", "int64":
		value := fl.Field().Int()
		return value > 0 && value <= maxAmount
	default:
		return false
	}
}

func validateCurrency(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	if len(value) != 3 {
		return false
	}
	for _, r := range value {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// bindingErrors converts validator failures into the API's field errors.
func bindingErrors(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return invalidRequestError()
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   toSnake(fe.Field()),
			Code:    fe.Tag(),
			Message: "invalid " + toSnake(fe.Field()),
		})
	}
	return &ValidationErrors{Errors: out}
}

func toSnake(name string) string {
	out := make([]byte, 0, len(name)+4)
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if ch >= 'A' && ch <= 'Z' {
			if i > 0 && name[i-1] >= 'a' && name[i-1] <= 'z' {
				out = append(out, '_')
			}
			ch += 'a' - 'A'
		}
		out = append(out, ch)
	}
	return string(out)
}
