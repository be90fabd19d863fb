package app

import (
	"reflect"
	"strings"

	"bloodlink/api/internal/store"
	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("bloodtype", func(fl validator.FieldLevel) bool {
		_, ok := store.ParseBloodType(fl.Field().String())
		return ok
	})
	return v
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func validationDetails(errs validator.ValidationErrors) []fieldError {
	out := make([]fieldError, 0, len(errs))
	for _, fe := range errs {
		out = append(out, fieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	kind := fe.Kind()
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "bloodtype":
		return "must be one of A+, A-, B+, B-, AB+, AB-, O+, O-"
	case "oneof":
		return "should have value in: " + fe.Param()
	case "lte", "max":
		if kind == reflect.String {
			return "length should be less or equal than " + fe.Param()
		}
		return "should be less or equal than " + fe.Param()
	case "gte", "min":
		if kind == reflect.String {
			return "length should be greater or equal than " + fe.Param()
		}
		return "should be greater or equal than " + fe.Param()
	}
	return "incorrect value passed"
}
