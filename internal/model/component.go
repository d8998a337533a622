package model

import (
	"encoding/json"
	"time"
)

// Position is the top-left corner of a widget on its dashboard grid.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a widget's rendered width and height.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Component is the persisted metadata of one widget instance.
// Kind-specific settings (a graph's datasource, a text's font) live in Fields
// and are checked against KindFields(Kind).
type Component struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"type"`
	Name      string          `json:"name"`
	Position  Position        `json:"position"`
	Size      Size            `json:"size"`
	Fields    json.RawMessage `json:"fields,omitempty"`
	CreatedBy string          `json:"created_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Field decodes a single key from the component's Fields into v.
// It reports false when the key is absent or does not decode.
func (c *Component) Field(key string, v any) bool {
	if len(c.Fields) == 0 {
		return false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(c.Fields, &m); err != nil {
		return false
	}
	raw, ok := m[key]
	if !ok || string(raw) == "null" {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// MergeFields returns fields with every key of extra overlaid on top.
// A nil value in extra deletes the key.
func MergeFields(fields json.RawMessage, extra map[string]any) (json.RawMessage, error) {
	existing := make(map[string]any)
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &existing); err != nil {
			return nil, err
		}
	}
	for k, v := range extra {
		if v == nil {
			delete(existing, k)
			continue
		}
		existing[k] = v
	}
	if len(existing) == 0 {
		return nil, nil
	}
	return json.Marshal(existing)
}

// MapIcon is a marker placed on a map widget.
type MapIcon struct {
	ID   string  `json:"id"`
	Name string  `json:"name,omitempty"`
	Icon string  `json:"icon,omitempty"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// MapIcons returns the icons stored on a map component.
func MapIcons(c *Component) []MapIcon {
	var icons []MapIcon
	c.Field("icons", &icons)
	return icons
}
