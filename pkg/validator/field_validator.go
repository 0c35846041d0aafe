package validator

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// FieldType enumerates the value shapes a raw cell can be checked against.
type FieldType string

const (
	FieldTypeString  FieldType = "STRING"
	FieldTypeInteger FieldType = "INTEGER"
	FieldTypeFloat   FieldType = "FLOAT"
)

// FieldValidator checks raw spreadsheet cell values against field definitions.
type FieldValidator struct{}

// NewFieldValidator creates a new field validator
func NewFieldValidator() *FieldValidator {
	return &FieldValidator{}
}

// FieldDefinition represents a field definition for validation
type FieldDefinition struct {
	Type      FieldType `json:"type"`
	Required  bool      `json:"required"`
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
	MaxLength int       `json:"max_length,omitempty"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

// Fields lists the names of the failing fields in order.
func (r ValidationResult) Fields() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Field)
	}
	return out
}

// Message joins the error messages into one line.
func (r ValidationResult) Message() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, "; ")
}

// Validate checks every defined field. Values are trimmed first and blank
// values only fail when the field is required. Errors are ordered by field name.
func (fv *FieldValidator) Validate(values map[string]string, definitions map[string]FieldDefinition) ValidationResult {
	result := ValidationResult{
		IsValid: true,
		Errors:  []ValidationError{},
	}

	names := make([]string, 0, len(definitions))
	for name := range definitions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, fieldName := range names {
		def := definitions[fieldName]
		value := strings.TrimSpace(values[fieldName])

		if value == "" {
			if def.Required {
				result.IsValid = false
				result.Errors = append(result.Errors, ValidationError{
					Field:   fieldName,
					Message: fmt.Sprintf("required field '%s' is missing", fieldName),
				})
			}
			continue
		}

		if err := fv.validateFieldType(fieldName, value, def); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: err.Error(),
				Value:   value,
			})
		}
	}

	return result
}

func (fv *FieldValidator) validateFieldType(fieldName, value string, def FieldDefinition) error {
	switch FieldType(strings.ToUpper(string(def.Type))) {
	case FieldTypeString, "":
		if def.MaxLength > 0 && len([]rune(value)) > def.MaxLength {
			return fmt.Errorf("field '%s' length %d is greater than maximum %d", fieldName, len([]rune(value)), def.MaxLength)
		}
		return nil
	case FieldTypeInteger:
		n, err := ParseInteger(value)
		if err != nil {
			return fmt.Errorf("field '%s' must be an integer, got %q", fieldName, value)
		}
		return checkRange(fieldName, float64(n), def)
	case FieldTypeFloat:
		f, err := ParseFloat(value)
		if err != nil {
			return fmt.Errorf("field '%s' must be a number, got %q", fieldName, value)
		}
		return checkRange(fieldName, f, def)
	default:
		return fmt.Errorf("unknown field type: %s", def.Type)
	}
}

func checkRange(fieldName string, value float64, def FieldDefinition) error {
	if def.Min != nil && value < *def.Min {
		return fmt.Errorf("field '%s' value %v is less than minimum %v", fieldName, value, *def.Min)
	}
	if def.Max != nil && value > *def.Max {
		return fmt.Errorf("field '%s' value %v is greater than maximum %v", fieldName, value, *def.Max)
	}
	return nil
}

// ParseInteger accepts plain integers and integral decimals such as "7.0",
// which spreadsheets produce for numeric cells.
func ParseInteger(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return int(f), nil
}

// ParseFloat parses a finite number. A decimal comma is accepted.
func ParseFloat(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil && strings.Count(raw, ",") == 1 && !strings.Contains(raw, ".") {
		f, err = strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid number %q", raw)
	}
	return f, nil
}

// Bound is a helper for building range limits.
func Bound(v float64) *float64 {
	return &v
}
