package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/volary-ai/analyzer-agent/errors"
)

// Schema is the JSON-Schema subset used to describe tool parameters and
// structured outputs to the model.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Default     any                `json:"default,omitempty"`
	Format      string             `json:"format,omitempty"`
}

// Model is implemented by struct types that carry their own field
// descriptions and defaults. A Model used as a parameter or as an array
// element keeps its own required/optional split; any other struct is a plain
// record whose fields are all required.
type Model interface {
	SchemaName() string
}

// SchemaError reports a type that can't be described to the model.
type SchemaError struct {
	Path string
	Type reflect.Type
	Msg  string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("cannot derive schema for %s (%s): %s", e.Path, e.Type, e.Msg)
}

var (
	modelType = reflect.TypeFor[Model]()
	timeType  = reflect.TypeFor[time.Time]()
)

// Derive builds the parameter schema for an argument struct. Fields without a
// `default` tag that are neither pointers nor marked omitempty are required. Tags: `json` for the
// property name, `desc` for its description, `default` for the default value
// and `enum` for a comma separated list of allowed values.
func Derive(t reflect.Type) (*Schema, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, &SchemaError{Path: "$", Type: t, Msg: "arguments must be a struct"}
	}
	d := deriver{visiting: map[reflect.Type]bool{}}
	return d.object(t, "$", true)
}

// DeriveFor is Derive for a type parameter.
func DeriveFor[T any]() (*Schema, error) {
	return Derive(reflect.TypeFor[T]())
}

type deriver struct {
	visiting map[reflect.Type]bool
}

func isModel(t reflect.Type) bool {
	return t.Implements(modelType) || reflect.PointerTo(t).Implements(modelType)
}

func (d deriver) schema(t reflect.Type, path string) (*Schema, error) {
	if t.Kind() == reflect.Pointer {
		return d.schema(t.Elem(), path)
	}
	if t == timeType {
		return &Schema{Type: "string", Format: "date-time"}, nil
	}

	switch t.Kind() {
	case reflect.String:
		return &Schema{Type: "string"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return &Schema{Type: "number"}, nil
	case reflect.Bool:
		return &Schema{Type: "boolean"}, nil
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return &Schema{Type: "string"}, nil
		}
		items, err := d.schema(t.Elem(), path+"[]")
		if err != nil {
			return nil, err
		}
		return &Schema{Type: "array", Items: items}, nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, &SchemaError{Path: path, Type: t, Msg: "map keys must be strings"}
		}
		return &Schema{Type: "object"}, nil
	case reflect.Struct:
		return d.object(t, path, isModel(t))
	case reflect.Interface:
		return nil, &SchemaError{Path: path, Type: t, Msg: "interface types can hold more than one type; use a concrete type"}
	default:
		return nil, &SchemaError{Path: path, Type: t, Msg: "unsupported kind " + t.Kind().String()}
	}
}

// object describes a struct. With honorDefaults set the field tags decide
// which properties are required, otherwise every field is.
func (d deriver) object(t reflect.Type, path string, honorDefaults bool) (*Schema, error) {
	if d.visiting[t] {
		return nil, &SchemaError{Path: path, Type: t, Msg: "recursive types are not supported"}
	}
	d.visiting[t] = true
	defer delete(d.visiting, t)

	s := &Schema{Type: "object", Properties: map[string]*Schema{}}
	if err := d.fields(s, t, path, honorDefaults); err != nil {
		return nil, err
	}
	return s, nil
}

func (d deriver) fields(s *Schema, t reflect.Type, path string, honorDefaults bool) error {
	for i := range t.NumField() {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct && f.Tag.Get("json") == "" {
			if err := d.fields(s, f.Type, path, honorDefaults); err != nil {
				return err
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonName(f)
		if skip {
			continue
		}
		fpath := path + "." + name

		fs, err := d.schema(f.Type, fpath)
		if err != nil {
			return err
		}
		if desc := f.Tag.Get("desc"); desc != "" {
			fs.Description = desc
		}
		if enum := f.Tag.Get("enum"); enum != "" {
			fs.Enum = strings.Split(enum, ",")
		}

		def, hasDefault := f.Tag.Lookup("default")
		if hasDefault {
			v, err := parseDefault(f.Type, def)
			if err != nil {
				return &SchemaError{Path: fpath, Type: f.Type, Msg: err.Error()}
			}
			fs.Default = v
		}

		s.Properties[name] = fs
		optional := hasDefault || omitEmpty || f.Type.Kind() == reflect.Pointer
		if !honorDefaults || !optional {
			s.Required = append(s.Required, name)
		}
	}
	return nil
}

func jsonName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, slices.Contains(strings.Split(opts, ","), "omitempty"), false
}

func parseDefault(t reflect.Type, raw string) (any, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return raw, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.ParseInt(raw, 10, 64)
	case reflect.Float32, reflect.Float64:
		return strconv.ParseFloat(raw, 64)
	case reflect.Bool:
		return strconv.ParseBool(raw)
	default:
		return nil, fmt.Errorf("default values are not supported for %s", t.Kind())
	}
}

// Map returns the schema as a generic JSON object, the form the SDKs take.
// Object schemas always carry a properties key.
func (s *Schema) Map() map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	if m["type"] == "object" {
		if _, ok := m["properties"]; !ok {
			m["properties"] = map[string]any{}
		}
	}
	return m
}

// ApplyDefaults fills missing object properties that declare a default,
// recursing into nested objects and arrays. v is a decoded JSON value.
func (s *Schema) ApplyDefaults(v any) any {
	if s == nil {
		return v
	}
	switch val := v.(type) {
	case map[string]any:
		for name, ps := range s.Properties {
			cur, ok := val[name]
			if !ok || cur == nil {
				if ps.Default != nil {
					val[name] = ps.Default
				}
				continue
			}
			val[name] = ps.ApplyDefaults(cur)
		}
		return val
	case []any:
		for i := range val {
			val[i] = s.Items.ApplyDefaults(val[i])
		}
		return val
	default:
		return v
	}
}

// Validate checks a decoded JSON value against the schema and reports every
// violation found.
func (s *Schema) Validate(v any) error {
	var errs []error
	s.validate(v, "$", &errs)
	return errors.Join(errs...)
}

func (s *Schema) validate(v any, path string, errs *[]error) {
	if s == nil {
		return
	}
	fail := func(format string, a ...any) {
		*errs = append(*errs, fmt.Errorf("%s: %s", path, fmt.Sprintf(format, a...)))
	}

	switch s.Type {
	case "object":
		obj, ok := v.(map[string]any)
		if !ok {
			fail("expected object, got %s", jsonKind(v))
			return
		}
		for _, name := range s.Required {
			if val, present := obj[name]; !present || val == nil {
				fail("missing required property %q", name)
			}
		}
		names := make([]string, 0, len(s.Properties))
		for name := range s.Properties {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			if val, present := obj[name]; present && val != nil {
				s.Properties[name].validate(val, path+"."+name, errs)
			}
		}
	case "array":
		arr, ok := v.([]any)
		if !ok {
			fail("expected array, got %s", jsonKind(v))
			return
		}
		for i, item := range arr {
			s.Items.validate(item, fmt.Sprintf("%s[%d]", path, i), errs)
		}
	case "string":
		str, ok := v.(string)
		if !ok {
			fail("expected string, got %s", jsonKind(v))
			return
		}
		if len(s.Enum) > 0 && !slices.Contains(s.Enum, str) {
			fail("%q is not one of %s", str, strings.Join(s.Enum, ", "))
		}
	case "integer":
		n, ok := v.(float64)
		if !ok || n != math.Trunc(n) {
			fail("expected integer, got %s", jsonKind(v))
		}
	case "number":
		if _, ok := v.(float64); !ok {
			fail("expected number, got %s", jsonKind(v))
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			fail("expected boolean, got %s", jsonKind(v))
		}
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
