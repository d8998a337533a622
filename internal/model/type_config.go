package model

// FieldType identifies the JSON schema type of a typed field.
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeInteger FieldType = "integer"
	FieldTypeFloat   FieldType = "float"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeURL     FieldType = "url"
	FieldTypeColor   FieldType = "color"
	FieldTypeEnum    FieldType = "enum"
	FieldTypeStrings FieldType = "string[]"
	FieldTypeJSON    FieldType = "json"
)

// FieldDef describes a single kind-specific field of a component.
type FieldDef struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Values   []string  `json:"values,omitempty"` // allowed values for enum
	Min      *float64  `json:"min,omitempty"`
	Max      *float64  `json:"max,omitempty"`
}

func limit(v float64) *float64 { return &v }

var kindFields = map[Kind][]FieldDef{
	KindChats: {
		{Name: "title", Type: FieldTypeString},
		{Name: "readonly", Type: FieldTypeBoolean},
	},
	KindGraphs: {
		{Name: "datasource", Type: FieldTypeString},
		{Name: "chart", Type: FieldTypeEnum, Values: []string{"line", "bar", "area", "scatter"}},
		{Name: "series", Type: FieldTypeStrings},
		{Name: "max_points", Type: FieldTypeInteger, Min: limit(1), Max: limit(100000)},
	},
	KindMaps: {
		{Name: "center_lat", Type: FieldTypeFloat, Min: limit(-90), Max: limit(90)},
		{Name: "center_lng", Type: FieldTypeFloat, Min: limit(-180), Max: limit(180)},
		{Name: "zoom", Type: FieldTypeInteger, Min: limit(0), Max: limit(22)},
		{Name: "icons", Type: FieldTypeJSON},
	},
	KindTexts: {
		{Name: "text", Type: FieldTypeString},
		{Name: "font", Type: FieldTypeString},
		{Name: "font_size", Type: FieldTypeInteger, Min: limit(1), Max: limit(400)},
		{Name: "alignment", Type: FieldTypeEnum, Values: []string{"left", "center", "right", "justify"}},
		{Name: "color", Type: FieldTypeColor},
	},
	KindImages: {
		{Name: "url", Type: FieldTypeURL, Required: true},
		{Name: "alt", Type: FieldTypeString},
		{Name: "fit", Type: FieldTypeEnum, Values: []string{"contain", "cover", "fill"}},
	},
	KindVideos: {
		{Name: "url", Type: FieldTypeURL, Required: true},
		{Name: "autoplay", Type: FieldTypeBoolean},
		{Name: "loop", Type: FieldTypeBoolean},
		{Name: "muted", Type: FieldTypeBoolean},
	},
	KindWebpages: {
		{Name: "url", Type: FieldTypeURL, Required: true},
		{Name: "refresh_secs", Type: FieldTypeInteger, Min: limit(0)},
	},
	KindDatasources: {
		{Name: "url", Type: FieldTypeURL},
		{Name: "method", Type: FieldTypeEnum, Values: []string{"GET", "POST"}},
		{Name: "interval_secs", Type: FieldTypeInteger, Min: limit(1)},
		{Name: "path", Type: FieldTypeString},
	},
}

// KindFields returns the field definitions for kind. Unknown kinds have none.
func KindFields(k Kind) []FieldDef {
	return kindFields[k]
}

// KindSchema describes one widget type for clients building editors.
type KindSchema struct {
	Type     Kind       `json:"type"`
	IDPrefix string     `json:"id_prefix"`
	Fields   []FieldDef `json:"fields"`
}

// Schemas describes every kind in Kinds order.
func Schemas() []KindSchema {
	out := make([]KindSchema, 0, len(kindFields))
	for _, k := range Kinds() {
		out = append(out, KindSchema{Type: k, IDPrefix: k.IDPrefix(), Fields: KindFields(k)})
	}
	return out
}
