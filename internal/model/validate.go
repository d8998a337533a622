package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}

// ValidateComponent checks a Component for constraint violations, including
// its kind-specific fields.
func ValidateComponent(c *Component) error {
	var ve ValidationError

	if !c.Kind.IsValid() {
		ve.add("type", fmt.Sprintf("invalid value %q", c.Kind))
	}
	if len([]rune(c.Name)) > 200 {
		ve.add("name", "must be 200 characters or fewer")
	}
	if c.Size.Width < 0 || c.Size.Height < 0 {
		ve.add("size", "must not be negative")
	}

	if c.Kind.IsValid() {
		if err := ValidateFields(c.Fields, KindFields(c.Kind)); err != nil {
			if fe, ok := err.(*ValidationError); ok {
				ve.Errors = append(ve.Errors, fe.Errors...)
			}
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateDashboard checks a Dashboard for constraint violations.
func ValidateDashboard(d *Dashboard) error {
	var ve ValidationError

	if strings.TrimSpace(d.Name) == "" {
		ve.add("name", "is required")
	}
	if d.Path == "" {
		ve.add("path", "is required")
	} else if !strings.HasPrefix(d.Path, "/") || strings.ContainsAny(d.Path, " ?#") {
		ve.add("path", "must start with / and contain no spaces, ? or #")
	}
	seen := make(map[string]struct{}, len(d.Components))
	for _, dc := range d.Components {
		if !dc.Type.IsValid() {
			ve.add("components", fmt.Sprintf("invalid component type %q", dc.Type))
		}
		if _, dup := seen[dc.ComponentID]; dup {
			ve.add("components", fmt.Sprintf("duplicate component %q", dc.ComponentID))
		}
		seen[dc.ComponentID] = struct{}{}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateLiveEvent checks an inbound live frame.
func ValidateLiveEvent(ev *LiveEvent) error {
	var ve ValidationError

	if !ev.Type.IsValid() {
		ve.add("type", fmt.Sprintf("invalid value %q", ev.Type))
	}
	switch ev.Control {
	case "":
		if strings.TrimSpace(ev.Sender) == "" {
			ve.add("sender", "is required")
		}
	case LiveClear:
	default:
		ve.add("control", fmt.Sprintf("invalid value %q", ev.Control))
	}
	if len(ev.Data) > 0 && !json.Valid(ev.Data) {
		ve.add("data", "contains invalid JSON")
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
