package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"slices"
	"sort"
)

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// fieldCheckers validates a decoded JSON value for each field type. Range
// limits are applied separately.
var fieldCheckers = map[FieldType]func(d FieldDef, v any) error{
	FieldTypeString: func(_ FieldDef, v any) error {
		if _, ok := v.(string); !ok {
			return errors.New("must be a string")
		}
		return nil
	},
	FieldTypeInteger: func(_ FieldDef, v any) error {
		if n, ok := v.(float64); !ok || n != math.Trunc(n) {
			return errors.New("must be an integer")
		}
		return nil
	},
	FieldTypeFloat: func(_ FieldDef, v any) error {
		if _, ok := v.(float64); !ok {
			return errors.New("must be a number")
		}
		return nil
	},
	FieldTypeBoolean: func(_ FieldDef, v any) error {
		if _, ok := v.(bool); !ok {
			return errors.New("must be a boolean")
		}
		return nil
	},
	FieldTypeURL: func(_ FieldDef, v any) error {
		s, _ := v.(string)
		u, err := url.Parse(s)
		if s == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("must be an absolute http(s) URL")
		}
		return nil
	},
	FieldTypeColor: func(_ FieldDef, v any) error {
		if s, _ := v.(string); !hexColor.MatchString(s) {
			return errors.New("must be a hex color like #1e90ff")
		}
		return nil
	},
	FieldTypeEnum: func(d FieldDef, v any) error {
		if s, ok := v.(string); !ok || !slices.Contains(d.Values, s) {
			return fmt.Errorf("must be one of %v", d.Values)
		}
		return nil
	},
	FieldTypeStrings: func(_ FieldDef, v any) error {
		arr, ok := v.([]any)
		if !ok {
			return errors.New("must be an array of strings")
		}
		for _, elem := range arr {
			if _, ok := elem.(string); !ok {
				return errors.New("must be an array of strings")
			}
		}
		return nil
	},
	FieldTypeJSON: func(FieldDef, any) error { return nil },
}

// ValidateFields checks a component's fields object against defs: unknown
// keys, value types, numeric ranges and required fields. A null value counts
// as absent. Errors are reported in field name order as a *ValidationError.
func ValidateFields(fields json.RawMessage, defs []FieldDef) error {
	var m map[string]any
	if len(fields) > 0 && string(fields) != "null" {
		if err := json.Unmarshal(fields, &m); err != nil {
			return &ValidationError{Errors: []FieldError{{Field: "fields", Message: "must be a JSON object"}}}
		}
	}

	var ve ValidationError
	for _, key := range sortedKeys(m) {
		if !slices.ContainsFunc(defs, func(d FieldDef) bool { return d.Name == key }) {
			ve.add(key, "unknown field")
		}
	}
	for _, d := range defs {
		val := m[d.Name]
		if val == nil {
			if d.Required {
				ve.add(d.Name, "is required")
			}
			continue
		}
		if err := checkField(d, val); err != nil {
			ve.add(d.Name, err.Error())
		}
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

func checkField(d FieldDef, val any) error {
	check, ok := fieldCheckers[d.Type]
	if !ok {
		return fmt.Errorf("unknown field type %q", d.Type)
	}
	if err := check(d, val); err != nil {
		return err
	}
	n, isNum := val.(float64)
	if !isNum {
		return nil
	}
	if d.Min != nil && n < *d.Min {
		return fmt.Errorf("must be at least %g", *d.Min)
	}
	if d.Max != nil && n > *d.Max {
		return fmt.Errorf("must be at most %g", *d.Max)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
