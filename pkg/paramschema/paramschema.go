// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package paramschema carries the parameter interchange between procedures
// and an experiment wizard: a data schema describing each parameter and a UI
// schema describing how to render it. Procedures publish a Dialog, the wizard
// sends values back, Apply validates them into typed form.
package paramschema

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"

	"github.com/beamline-hub/blh-core/pkg/hwerr"
)

// Property types understood by Apply.
const (
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeString  = "string"
	TypeBoolean = "boolean"
)

// Property describes one parameter: its type, default and the constraints a
// proposed value is checked against.
type Property struct {
	Type     string   `json:"type"`
	Title    string   `json:"title,omitempty"`
	Default  any      `json:"default,omitempty"`
	Minimum  *float64 `json:"minimum,omitempty"`
	Maximum  *float64 `json:"maximum,omitempty"`
	Enum     []any    `json:"enum,omitempty"`
	ReadOnly bool     `json:"readOnly,omitempty"`
}

// Schema is the data half of a Dialog.
type Schema struct {
	Title      string               `json:"title,omitempty"`
	Type       string               `json:"type"`
	Properties map[string]*Property `json:"properties"`
	Required   []string             `json:"required,omitempty"`
}

// UISchema is the presentation half: field order, widget per field, and the
// signal names the wizard listens on.
type UISchema struct {
	Order        []string          `json:"order,omitempty"`
	Widgets      map[string]string `json:"widgets,omitempty"`
	UpdateSignal string            `json:"update_signal,omitempty"`
	ReturnSignal string            `json:"return_signal,omitempty"`
}

// Dialog bundles both halves the way they travel over the wire.
type Dialog struct {
	Schema   *Schema   `json:"schema"`
	UISchema *UISchema `json:"ui_schema,omitempty"`
}

// Parse decodes and checks a dialog. source labels error messages, usually
// the sidecar path the dialog came from.
func Parse(source string, data []byte) (*Dialog, error) {
	var dialog Dialog
	if err := json.Unmarshal(data, &dialog); err != nil {
		return nil, hwerr.NewConfigurationError(source, "invalid parameter dialog", err)
	}

	if dialog.Schema == nil {
		return nil, hwerr.NewConfigurationError(source, "parameter dialog has no schema", nil)
	}

	if err := dialog.Schema.check(source); err != nil {
		return nil, err
	}

	return &dialog, nil
}

// Encode serializes the dialog. Parse(Encode(d)) yields an equal dialog.
func (d *Dialog) Encode() ([]byte, error) {
	return json.Marshal(d)
}

func (s *Schema) check(source string) error {
	for key, prop := range s.Properties {
		if prop == nil {
			return hwerr.NewConfigurationError(source, fmt.Sprintf("property %q is empty", key), nil)
		}

		switch prop.Type {
		case TypeNumber, TypeInteger, TypeString, TypeBoolean:
		default:
			return hwerr.NewConfigurationError(source, fmt.Sprintf("property %q has unsupported type %q", key, prop.Type), nil)
		}

		if prop.Minimum != nil && prop.Maximum != nil && *prop.Minimum > *prop.Maximum {
			return hwerr.NewConfigurationError(source, fmt.Sprintf("property %q has minimum above maximum", key), nil)
		}
	}

	for _, key := range s.Required {
		if _, ok := s.Properties[key]; !ok {
			return hwerr.NewConfigurationError(source, fmt.Sprintf("required property %q is not declared", key), nil)
		}
	}

	return nil
}

// Defaults returns the declared default for every property that has one.
func (s *Schema) Defaults() map[string]any {
	defaults := make(map[string]any)

	for key, prop := range s.Properties {
		if prop.Default != nil {
			defaults[key] = prop.Default
		}
	}

	return defaults
}

// Values fills the schema's properties from a live source, falling back to
// the declared default when the source has no reading. read is typically a
// closure over the owning procedure's actuators.
func (s *Schema) Values(read func(key string) (any, bool)) map[string]any {
	values := make(map[string]any)

	for key, prop := range s.Properties {
		if read != nil {
			if v, ok := read(key); ok {
				values[key] = v

				continue
			}
		}

		if prop.Default != nil {
			values[key] = prop.Default
		}
	}

	return values
}

// Apply validates proposed values against the schema and returns them in
// typed form, with defaults filled in for absent optional properties. The
// proposal is rejected as a whole on the first violation.
func (s *Schema) Apply(proposed map[string]any) (map[string]any, error) {
	applied := make(map[string]any, len(s.Properties))

	for key, value := range proposed {
		prop, ok := s.Properties[key]
		if !ok {
			return nil, &hwerr.InvalidValueError{Value: value, Role: key, Reason: "not a declared parameter"}
		}

		if prop.ReadOnly {
			return nil, &hwerr.InvalidValueError{Value: value, Role: key, Reason: "parameter is read-only"}
		}

		typed, err := coerce(key, prop, value)
		if err != nil {
			return nil, err
		}

		applied[key] = typed
	}

	for key, prop := range s.Properties {
		if _, ok := applied[key]; ok {
			continue
		}

		if prop.Default == nil {
			continue
		}

		// Defaults decoded from JSON carry float64 for every number; hand
		// them back in the property's type like any proposed value.
		if typed, err := coerce(key, prop, prop.Default); err == nil {
			applied[key] = typed
		} else {
			applied[key] = prop.Default
		}
	}

	for _, key := range s.Required {
		if _, ok := applied[key]; !ok {
			return nil, &hwerr.InvalidValueError{Value: nil, Role: key, Reason: "required parameter is missing"}
		}
	}

	return applied, nil
}

// coerce converts a proposed value to the property's type and checks range
// and enum constraints. JSON decoding hands numbers over as float64, so
// integer properties accept whole floats.
func coerce(key string, prop *Property, value any) (any, error) {
	switch prop.Type {
	case TypeNumber:
		n, ok := asNumber(value)
		if !ok {
			return nil, &hwerr.InvalidValueError{Value: value, Role: key, Reason: "not a number"}
		}

		if err := checkRange(key, prop, n); err != nil {
			return nil, err
		}

		return n, checkEnum(key, prop, n)

	case TypeInteger:
		n, ok := asNumber(value)
		if !ok || n != math.Trunc(n) {
			return nil, &hwerr.InvalidValueError{Value: value, Role: key, Reason: "not an integer"}
		}

		if err := checkRange(key, prop, n); err != nil {
			return nil, err
		}

		return int(n), checkEnum(key, prop, int(n))

	case TypeString:
		str, ok := value.(string)
		if !ok {
			return nil, &hwerr.InvalidValueError{Value: value, Role: key, Reason: "not a string"}
		}

		return str, checkEnum(key, prop, str)

	case TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, &hwerr.InvalidValueError{Value: value, Role: key, Reason: "not a boolean"}
		}

		return b, nil
	}

	return nil, &hwerr.InvalidValueError{Value: value, Role: key, Reason: fmt.Sprintf("unsupported type %q", prop.Type)}
}

func checkRange(key string, prop *Property, n float64) error {
	if prop.Minimum != nil && n < *prop.Minimum {
		return &hwerr.InvalidValueError{Value: n, Role: key, Reason: fmt.Sprintf("below minimum %g", *prop.Minimum)}
	}

	if prop.Maximum != nil && n > *prop.Maximum {
		return &hwerr.InvalidValueError{Value: n, Role: key, Reason: fmt.Sprintf("above maximum %g", *prop.Maximum)}
	}

	return nil
}

func checkEnum(key string, prop *Property, value any) error {
	if len(prop.Enum) == 0 {
		return nil
	}

	for _, allowed := range prop.Enum {
		if enumEqual(allowed, value) {
			return nil
		}
	}

	return &hwerr.InvalidValueError{Value: value, Role: key, Reason: "not one of the allowed values"}
}

// enumEqual compares loosely across numeric kinds so a schema enum of [1, 2]
// matches a decoded 1.0.
func enumEqual(a, b any) bool {
	if na, ok := asNumber(a); ok {
		if nb, ok := asNumber(b); ok {
			return na == nb
		}

		return false
	}

	return a == b
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}

	return 0, false
}
