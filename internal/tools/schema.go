package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is the JSON-Schema subset used for tool parameters. It is marshalled
// verbatim into the model provider's function definition and compiled once
// for argument validation, so the model and the validator see one document.
type Schema struct {
	Type                 string             `json:"type"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []string           `json:"enum,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
}

var noExtraKeys = false

// Object builds an object schema that rejects undeclared keys. Properties not
// listed in required are optional.
func Object(props map[string]*Schema, required ...string) *Schema {
	if props == nil {
		props = map[string]*Schema{}
	}
	return &Schema{Type: "object", Properties: props, Required: required, AdditionalProperties: &noExtraKeys}
}

func String(desc string) *Schema { return &Schema{Type: "string", Description: desc} }

func Integer(desc string) *Schema { return &Schema{Type: "integer", Description: desc} }

func Number(desc string) *Schema { return &Schema{Type: "number", Description: desc} }

func Boolean(desc string) *Schema { return &Schema{Type: "boolean", Description: desc} }

// Enum builds a string schema restricted to values.
func Enum(desc string, values ...string) *Schema {
	return &Schema{Type: "string", Description: desc, Enum: values}
}

// Array builds an array schema of items.
func Array(desc string, items *Schema) *Schema {
	return &Schema{Type: "array", Description: desc, Items: items}
}

// FreeObject is an object with arbitrary keys.
func FreeObject(desc string) *Schema { return &Schema{Type: "object", Description: desc} }

// ── validation ──────────────────────────────────────────────

// compiledSchema validates raw tool arguments against a Schema.
type compiledSchema struct {
	schema *gojsonschema.Schema
}

func compileSchema(s *Schema) (*compiledSchema, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, err
	}
	return &compiledSchema{schema: compiled}, nil
}

// check returns every problem found in raw, sorted. A nil result means the
// arguments conform. Null values count as absent.
func (c *compiledSchema) check(raw json.RawMessage) []string {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	if !json.Valid(raw) {
		return []string{"arguments are not valid JSON"}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return []string{"arguments are not valid JSON"}
	}

	result, err := c.schema.Validate(gojsonschema.NewGoLoader(dropNulls(doc)))
	if err != nil {
		return []string{"arguments could not be validated: " + err.Error()}
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, describeSchemaError(re))
	}
	sort.Strings(problems)
	return problems
}

// dropNulls removes null-valued keys from every object in v.
func dropNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if val == nil {
				delete(t, k)
				continue
			}
			t[k] = dropNulls(val)
		}
	case []any:
		for i, val := range t {
			t[i] = dropNulls(val)
		}
	}
	return v
}

func describeSchemaError(re gojsonschema.ResultError) string {
	field := fieldPath(re.Field())
	details := re.Details()

	switch re.Type() {
	case "required":
		return join(field, fmt.Sprint(details["property"])) + ": is required"
	case "additional_property_not_allowed":
		return join(field, fmt.Sprint(details["property"])) + ": unknown field"
	case "invalid_type":
		return label(field) + ": must be " + article(fmt.Sprint(details["expected"]))
	case "enum":
		allowed := strings.ReplaceAll(fmt.Sprint(details["allowed"]), `"`, "")
		return label(field) + ": must be one of " + allowed
	default:
		return label(field) + ": " + re.Description()
	}
}

// fieldPath converts gojsonschema paths such as "a.0" to "a[0]".
func fieldPath(p string) string {
	if p == "" || p == gojsonschema.STRING_CONTEXT_ROOT {
		return ""
	}
	parts := strings.Split(p, ".")
	var b strings.Builder
	for i, part := range parts {
		if _, err := strconv.Atoi(part); err == nil && i > 0 {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func label(path string) string {
	if path == "" {
		return "arguments"
	}
	return path
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func article(typ string) string {
	switch typ {
	case "integer", "object", "array":
		return "an " + typ
	default:
		return "a " + typ
	}
}
