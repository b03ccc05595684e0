// Package errors turns Go errors into low-cardinality class names for
// metric tags and log fields.
package errors

import (
	goerrors "errors"
	"reflect"
	"strings"

	apperrors "github.com/docchat/docchat-go/internal/errors"
)

// Classify maps err to a stable class name. Application errors classify by
// their code (not_found, conflict, non_retryable, ...); anything else falls
// back to the innermost concrete type. Returns "" for nil.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var appErr *apperrors.AppError
	if goerrors.As(err, &appErr) {
		return string(appErr.Code)
	}

	return typeName(innermost(err))
}

func innermost(err error) error {
	for {
		next := goerrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func typeName(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.NewReplacer("*", "", ".", "_").Replace(t.String())
	name = strings.ToLower(name)
	if name == "" {
		return "unknown"
	}
	return name
}
