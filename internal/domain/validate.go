package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("content_type", func(fl validator.FieldLevel) bool {
		ct, ok := fl.Field().Interface().(GeneratedContentType)
		return ok && ct.Valid()
	})
	_ = v.RegisterValidation("uuid_set", func(fl validator.FieldLevel) bool {
		id, ok := fl.Field().Interface().(uuid.UUID)
		return ok && id != uuid.Nil
	})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		in := sl.Current().Interface().(GenerationInput)
		if strings.TrimSpace(in.Name) == "" && strings.TrimSpace(in.Prompt) == "" {
			sl.ReportError(in.Name, "name", "Name", "name_or_prompt", "")
		}
	}, GenerationInput{})
	return v
}

// ValidateStruct runs the shared validator and folds failures into one
// ErrInvalidWorkItem error. Other packages validate their request types
// through it so the same rules and messages apply.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidWorkItem, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidWorkItem, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s long", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range", field)
	case "content_type":
		return fmt.Sprintf("%s: content type %q is not supported", field, fe.Value())
	case "uuid_set":
		return fmt.Sprintf("%s is required", field)
	case "name_or_prompt":
		return "prompt or name is required"
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
