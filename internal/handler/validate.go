package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/teamspace/internal/apperror"
)

// maxBodyBytes caps request bodies; every endpoint takes small JSON objects.
const maxBodyBytes = 1 << 20

// Validator checks request structs against their `validate` tags.
type Validator struct {
	validate *validator.Validate
}

// NewValidator reports fields by their JSON names, so messages match what
// the client sent.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// invalidRequest carries per-field messages next to the ValidationFailed kind.
type invalidRequest struct {
	err    *apperror.AppError
	fields map[string]string
}

func (e *invalidRequest) Error() string { return e.err.Error() }
func (e *invalidRequest) Unwrap() error { return e.err }

// Struct validates s. Failures come back as an apperror validation error
// naming the first offending field (alphabetically) plus a map of all of them.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	fields := formatValidationErrors(err)
	if len(fields) == 0 {
		return fmt.Errorf("handler: validating request: %w", err)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	first := names[0]

	return &invalidRequest{
		err:    apperror.ValidationFailed(first, fields[first]),
		fields: fields,
	}
}

// formatValidationErrors converts validator errors to field → message.
func formatValidationErrors(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return out
	}
	for _, e := range verrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			out[field] = fmt.Sprintf("%s is required", field)
		case "email":
			out[field] = "invalid email format"
		case "min":
			out[field] = fmt.Sprintf("%s must be at least %s characters", field, e.Param())
		case "max":
			out[field] = fmt.Sprintf("%s must be at most %s characters", field, e.Param())
		case "oneof":
			out[field] = fmt.Sprintf("%s must be one of: %s", field, e.Param())
		case "url":
			out[field] = fmt.Sprintf("%s must be a valid URL", field)
		default:
			out[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return out
}

// decodeJSON reads the request body into dst and validates it.
// An empty body decodes as "{}" when allowEmpty is set.
func (v *Validator) decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return apperror.ValidationFailed("body", "request body is too large")
			}
			return apperror.ValidationFailed("body", "request body must be valid JSON")
		}
	}
	return v.Struct(dst)
}
