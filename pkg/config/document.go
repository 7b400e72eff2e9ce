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

package config

import (
	"fmt"

	"github.com/tiendc/go-deepcopy"
	"gopkg.in/yaml.v3"
)

// Reserved top-level document keys. Everything else is sidecar data.
const (
	keyInitialiseClass = "_initialise_class"
	keyObjects         = "_objects"
	keyVersion         = "_version"
	keyClass           = "class"
)

// DocumentVersionConstraint is the range of document schema versions this
// build understands. Documents declaring a `_version` outside the range are
// rejected rather than silently misread.
const DocumentVersionConstraint = ">= 1.0, < 2.0"

// ObjectSpec is one entry of a document's `_objects` list: a role name bound
// to a reference. The reference lives in a single namespace resolved
// role-first, then as a document path. Index records the declaration position
// because construction order must follow document order exactly.
type ObjectSpec struct {
	Role      string
	Reference string
	Index     int
}

// BindingSpec describes one hardware protocol binding, parsed from a legacy
// `<channel>` or `<command>` element. Protocol names ("exporter", "tango",
// "rest", "mock") select the channel adapter; the core treats the address as
// opaque.
type BindingSpec struct {
	Protocol string
	Name     string
	Address  string
}

// Document is the parsed, format-independent form of one hardware object
// configuration file. The YAML and XML parsers both produce it.
//
// Properties carries every non-reserved top-level key verbatim, with
// PropertyKeys preserving the order in which they appeared so the sidecar can
// be re-serialized unchanged.
type Document struct {
	// Source is the path this document was parsed from. Error messages and
	// the loader's path-keyed cache both use it.
	Source string

	// Class identifies the hardware object type to construct, from
	// `_initialise_class` in YAML or the root element's class attribute in XML.
	Class string

	// Args holds the constructor kwargs declared next to the class.
	Args map[string]any

	// Objects lists the child object references in declaration order.
	Objects []ObjectSpec

	// Channels and Commands hold explicit protocol bindings. YAML documents
	// usually leave these empty and put addresses in Properties instead.
	Channels []BindingSpec
	Commands []BindingSpec

	Properties   map[string]any
	PropertyKeys []string

	// Version is the raw `_version` string, empty when the document does not
	// declare one.
	Version string
}

// Clone creates a deep copy of the Document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}

	clone := &Document{Source: d.Source, Class: d.Class, Version: d.Version}
	deepcopy.Copy(&clone.Args, &d.Args)
	deepcopy.Copy(&clone.Objects, &d.Objects)
	deepcopy.Copy(&clone.Channels, &d.Channels)
	deepcopy.Copy(&clone.Commands, &d.Commands)
	deepcopy.Copy(&clone.Properties, &d.Properties)
	deepcopy.Copy(&clone.PropertyKeys, &d.PropertyKeys)

	return clone
}

// setProperty records a sidecar value, keeping PropertyKeys in first-seen
// order. A repeated key overwrites the value without duplicating the key.
func (d *Document) setProperty(key string, value any) {
	if _, seen := d.Properties[key]; !seen {
		d.PropertyKeys = append(d.PropertyKeys, key)
	}

	d.Properties[key] = value
}

// Property returns the sidecar value for key.
func (d *Document) Property(key string) (any, bool) {
	v, ok := d.Properties[key]

	return v, ok
}

// StringProperty returns the sidecar value for key as a string, or fallback
// when the key is absent. Non-string scalars are formatted.
func (d *Document) StringProperty(key, fallback string) string {
	v, ok := d.Properties[key]
	if !ok {
		return fallback
	}

	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", v)
}

// FloatProperty returns the sidecar value for key as a float64, or fallback
// when the key is absent or not numeric.
func (d *Document) FloatProperty(key string, fallback float64) float64 {
	v, ok := d.Properties[key]
	if !ok {
		return fallback
	}

	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return fallback
	}
}

// IntProperty returns the sidecar value for key as an int, or fallback when
// the key is absent or not an integer.
func (d *Document) IntProperty(key string, fallback int) int {
	v, ok := d.Properties[key]
	if !ok {
		return fallback
	}

	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	default:
		return fallback
	}
}

// BoolProperty returns the sidecar value for key as a bool, or fallback when
// the key is absent or not a bool.
func (d *Document) BoolProperty(key string, fallback bool) bool {
	v, ok := d.Properties[key]
	if !ok {
		return fallback
	}

	if b, ok := v.(bool); ok {
		return b
	}

	return fallback
}

// Channel returns the explicit channel binding with the given name.
func (d *Document) Channel(name string) (BindingSpec, bool) {
	for _, c := range d.Channels {
		if c.Name == name {
			return c, true
		}
	}

	return BindingSpec{}, false
}

// Command returns the explicit command binding with the given name.
func (d *Document) Command(name string) (BindingSpec, bool) {
	for _, c := range d.Commands {
		if c.Name == name {
			return c, true
		}
	}

	return BindingSpec{}, false
}

// MarshalProperties serializes the sidecar back to YAML with the top-level
// keys in their original order. Re-parsing the output yields the same
// mapping the document was loaded with.
func (d *Document) MarshalProperties() ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}

	for _, key := range d.PropertyKeys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: key}

		valNode := &yaml.Node{}
		if err := valNode.Encode(d.Properties[key]); err != nil {
			return nil, fmt.Errorf("failed to encode property %q: %w", key, err)
		}

		root.Content = append(root.Content, keyNode, valNode)
	}

	return yaml.Marshal(root)
}
