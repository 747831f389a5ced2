package component

import (
	"fmt"
)

// ValidationError is one failed check against a component's config
// schema. Codes are machine-readable: "required", "type", "min", "max",
// and "enum".
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func schemaError(field, code, format string, args ...any) ValidationError {
	return ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	}
}

// ValidateSchema checks a raw config map against a ConfigSchema:
// required fields, declared types, numeric bounds, and enums. Fields
// the schema does not declare pass untouched so old configs keep
// working after a component adds settings.
func ValidateSchema(config map[string]any, schema ConfigSchema) []ValidationError {
	var errs []ValidationError

	for _, field := range schema.Required {
		if _, exists := config[field]; !exists {
			errs = append(errs, schemaError(field, "required", "Field %q is required", field))
		}
	}

	for field, value := range config {
		prop, declared := schema.Properties[field]
		if !declared {
			continue
		}
		errs = append(errs, checkProperty(field, value, prop)...)
	}

	return errs
}

func checkProperty(field string, value any, prop PropertySchema) []ValidationError {
	if err := checkType(field, value, prop.Type); err != nil {
		// no point checking bounds or enums on the wrong type
		return []ValidationError{*err}
	}

	var errs []ValidationError
	if len(prop.Enum) > 0 {
		if err := checkEnum(field, value, prop.Enum); err != nil {
			errs = append(errs, *err)
		}
	}

	if prop.Type == "int" || prop.Type == "float" {
		num, _ := numericValue(value)
		if prop.Minimum != nil && num < float64(*prop.Minimum) {
			errs = append(errs, schemaError(field, "min", "Field %q must be >= %d", field, *prop.Minimum))
		}
		if prop.Maximum != nil && num > float64(*prop.Maximum) {
			errs = append(errs, schemaError(field, "max", "Field %q must be <= %d", field, *prop.Maximum))
		}
	}
	return errs
}

func checkType(field string, value any, want string) *ValidationError {
	ok := true
	label := ""
	switch want {
	case "string":
		_, ok = value.(string)
		label = "a string"
	case "bool":
		_, ok = value.(bool)
		label = "a boolean"
	case "int":
		// JSON decodes numbers as float64
		_, ok = numericValue(value)
		label = "an integer"
	case "float":
		_, ok = numericValue(value)
		label = "a number"
	}
	if !ok {
		err := schemaError(field, "type", "Field %q must be %s", field, label)
		return &err
	}
	return nil
}

func checkEnum(field string, value any, allowed []string) *ValidationError {
	s, ok := value.(string)
	if !ok {
		err := schemaError(field, "type", "Field %q must be a string for enum validation", field)
		return &err
	}
	for _, candidate := range allowed {
		if s == candidate {
			return nil
		}
	}
	err := schemaError(field, "enum", "Field %q must be one of: %v", field, allowed)
	return &err
}

func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
