package common

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/procedo/constants"
)

// ValidationError is one failed field check.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// ValidationRule checks one value. It returns nil when the value passes.
type ValidationRule func(fieldName string, value any) *ValidationError

// Validator collects field failures so a request reports all of them at once.
type Validator struct {
	errors []ValidationError
}

func NewValidator() *Validator {
	return &Validator{}
}

// Field runs rules in order and records the first failure only.
func (v *Validator) Field(fieldName string, value any, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(fieldName, value); err != nil {
			v.errors = append(v.errors, *err)
			break
		}
	}
	return v
}

func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ErrorMessage joins all failures with "; ".
func (v *Validator) ErrorMessage() string {
	msgs := make([]string, 0, len(v.errors))
	for _, err := range v.errors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Error returns the collected failures wrapped in ErrValidation, or nil.
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}
	return NewAppError("VALIDATION_ERROR", v.ErrorMessage(), ErrValidation)
}

func fail(fieldName string, value any, format string, args ...any) *ValidationError {
	return &ValidationError{Field: fieldName, Value: value, Message: fmt.Sprintf(format, args...)}
}

// Required rejects nil and blank strings.
func Required(fieldName string, value any) *ValidationError {
	switch v := value.(type) {
	case nil:
		return fail(fieldName, value, "is required")
	case string:
		if strings.TrimSpace(v) == "" {
			return fail(fieldName, value, "is required")
		}
	case *string:
		if v == nil || strings.TrimSpace(*v) == "" {
			return fail(fieldName, value, "is required")
		}
	}
	return nil
}

// MaxLength limits a string to max runes.
func MaxLength(max int) ValidationRule {
	return func(fieldName string, value any) *ValidationError {
		if s, ok := value.(string); ok && utf8.RuneCountInString(s) > max {
			return fail(fieldName, value, "must be at most %d characters", max)
		}
		return nil
	}
}

// PDFFile accepts file names with an allowed extension.
func PDFFile(fieldName string, value any) *ValidationError {
	name, ok := value.(string)
	if !ok {
		return fail(fieldName, value, "must be a string")
	}
	if !constants.IsAllowedExt(filepath.Ext(name)) {
		return fail(fieldName, value, "must be a PDF")
	}
	return nil
}

// ContentType accepts an empty value or one starting with an allowed media
// type, so parameters like "; charset=binary" pass.
func ContentType(allowed ...string) ValidationRule {
	return func(fieldName string, value any) *ValidationError {
		ct, _ := value.(string)
		ct = strings.ToLower(strings.TrimSpace(ct))
		if ct == "" {
			return nil
		}
		for _, a := range allowed {
			if strings.HasPrefix(ct, a) {
				return nil
			}
		}
		return fail(fieldName, value, "must be %s", allowed[0])
	}
}
