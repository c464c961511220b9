package shared

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
)

// FieldErrors collects per-field validation messages keyed by JSON name.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e[k])
	}
	return "validation: " + strings.Join(parts, "; ")
}

func (e FieldErrors) Unwrap() error { return httpx.ErrValidation }

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// ValidateStruct runs struct tag validation and returns FieldErrors on failure.
func ValidateStruct(v any) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		out[fieldPath(fe.Namespace())] = describe(fe)
	}
	return out
}

// Fields extracts per-field messages from a validation error, if any.
func Fields(err error) map[string]string {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe
	}
	var ve *ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		return map[string]string{ve.Field: ve.Reason}
	}
	return nil
}

func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gte", "min":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
