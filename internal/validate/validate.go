// Package validate checks untrusted client events against the LogEvent
// schema and returns them normalized, with every optional field defaulted.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"bruteguard/internal/model"
	"bruteguard/internal/normalize"
)

// FieldError describes one schema violation. Field is a dotted path; it is
// empty only for errors about the document as a whole.
type FieldError struct {
	Field   string `json:"field"`
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

// ValidationError is returned for any payload that does not match the schema.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

// HasField reports whether any violation names field.
func (e *ValidationError) HasField(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

type Validator struct {
	schema  *jsonschema.Schema
	printer *message.Printer
}

func New() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(logEventSchema))
	if err != nil {
		return nil, fmt.Errorf("parse log event schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add log event schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile log event schema: %w", err)
	}
	return &Validator{schema: sch, printer: message.NewPrinter(language.English)}, nil
}

func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// DecodeAndValidate parses body as JSON and validates it. Malformed JSON is
// reported as a ValidationError so callers have a single failure type.
func (v *Validator) DecodeAndValidate(body []byte) (model.LogEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return model.LogEvent{}, &ValidationError{Fields: []FieldError{{Keyword: "json", Message: "empty body"}}}
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return model.LogEvent{}, &ValidationError{Fields: []FieldError{{Keyword: "json", Message: "malformed JSON: " + err.Error()}}}
	}
	return v.Validate(doc)
}

// Validate checks a decoded JSON document. It has no side effects.
func (v *Validator) Validate(raw any) (model.LogEvent, error) {
	if err := v.schema.Validate(raw); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return model.LogEvent{}, &ValidationError{Fields: v.fieldErrors(verr)}
		}
		return model.LogEvent{}, &ValidationError{Fields: []FieldError{{Keyword: "schema", Message: err.Error()}}}
	}
	obj, _ := raw.(map[string]any)
	ev := model.LogEvent{
		CustomerID: stringField(obj, "customerId"),
		UserID:     stringField(obj, "userId"),
		Event:      stringField(obj, "event"),
		IP:         stringField(obj, "ip"),
		Device:     stringField(obj, "device"),
		Metadata:   map[string]any{},
	}
	if m, ok := obj["metadata"].(map[string]any); ok {
		ev.Metadata = plainNumbers(m).(map[string]any)
	}
	if s, ok := obj["eventTime"].(string); ok {
		ts, err := normalize.ParseRFC3339(s)
		if err != nil {
			return model.LogEvent{}, &ValidationError{Fields: []FieldError{{
				Field:   "eventTime",
				Keyword: "format",
				Message: fmt.Sprintf("%q is not valid date-time", s),
			}}}
		}
		ev.EventTime = ts
	}
	return ev, nil
}

func (v *Validator) fieldErrors(root *jsonschema.ValidationError) []FieldError {
	var out []FieldError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		out = append(out, v.leafErrors(e)...)
	}
	walk(root)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Keyword < out[j].Keyword
	})
	return out
}

func (v *Validator) leafErrors(e *jsonschema.ValidationError) []FieldError {
	base := strings.Join(e.InstanceLocation, ".")
	switch k := e.ErrorKind.(type) {
	case *kind.Required:
		out := make([]FieldError, 0, len(k.Missing))
		for _, name := range k.Missing {
			out = append(out, FieldError{Field: joinPath(base, name), Keyword: "required", Message: "missing required property"})
		}
		return out
	case *kind.AdditionalProperties:
		out := make([]FieldError, 0, len(k.Properties))
		for _, name := range k.Properties {
			out = append(out, FieldError{Field: joinPath(base, name), Keyword: "additionalProperties", Message: "property is not allowed"})
		}
		return out
	}
	keyword := ""
	if path := e.ErrorKind.KeywordPath(); len(path) > 0 {
		keyword = path[len(path)-1]
	}
	return []FieldError{{Field: base, Keyword: keyword, Message: e.ErrorKind.LocalizedString(v.printer)}}
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// plainNumbers replaces json.Number values with int64 or float64 so metadata
// carries ordinary Go types downstream.
func plainNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = plainNumbers(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = plainNumbers(val)
		}
		return out
	}
	return v
}
