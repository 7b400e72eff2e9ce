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
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/beamline-hub/blh-core/pkg/hwerr"
)

var documentVersionRange *semver.Constraints

func init() {
	c, err := semver.NewConstraint(DocumentVersionConstraint)
	if err != nil {
		panic(fmt.Sprintf("invalid document version constraint %q: %v", DocumentVersionConstraint, err))
	}

	documentVersionRange = c
}

// ParseDocument parses data into a Document, choosing the parser by the
// source path's extension: ".xml" selects the legacy XML parser, everything
// else is treated as YAML.
func ParseDocument(source string, data []byte) (*Document, error) {
	if strings.EqualFold(filepath.Ext(source), ".xml") {
		return ParseXML(source, data)
	}

	return ParseYAML(source, data)
}

// ParseYAML parses a YAML hardware object document.
//
// The document is walked as a yaml.Node tree rather than unmarshalled into a
// map, because the `_objects` declaration order is load order and must
// survive parsing. `_objects` accepts both a plain mapping and the !!omap
// sequence-of-single-pair-mappings form that older documents use.
func ParseYAML(source string, data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, hwerr.NewConfigurationError(source, "invalid YAML", err)
	}

	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, hwerr.NewConfigurationError(source, "document is empty", nil)
	}

	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, hwerr.NewConfigurationError(source, "top level must be a mapping", nil)
	}

	doc := &Document{
		Source:     source,
		Args:       make(map[string]any),
		Properties: make(map[string]any),
	}

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		keyNode := mapping.Content[i]
		valNode := mapping.Content[i+1]

		switch keyNode.Value {
		case keyInitialiseClass:
			if err := parseInitialiseClass(doc, valNode); err != nil {
				return nil, err
			}
		case keyObjects:
			if err := parseObjects(doc, valNode); err != nil {
				return nil, err
			}
		case keyVersion:
			doc.Version = valNode.Value
		default:
			var value any
			if err := valNode.Decode(&value); err != nil {
				return nil, hwerr.NewConfigurationError(source, fmt.Sprintf("invalid value for %q", keyNode.Value), err)
			}

			doc.setProperty(keyNode.Value, value)
		}
	}

	if err := validateVersion(doc); err != nil {
		return nil, err
	}

	return doc, nil
}

// parseInitialiseClass reads the `_initialise_class` mapping: the `class` key
// names the type, every other key becomes a constructor kwarg.
func parseInitialiseClass(doc *Document, node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return hwerr.NewConfigurationError(doc.Source, keyInitialiseClass+" must be a mapping", nil)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]

		if keyNode.Value == keyClass {
			doc.Class = valNode.Value

			continue
		}

		var value any
		if err := valNode.Decode(&value); err != nil {
			return hwerr.NewConfigurationError(doc.Source, fmt.Sprintf("invalid constructor argument %q", keyNode.Value), err)
		}

		doc.Args[keyNode.Value] = value
	}

	if doc.Class == "" {
		return hwerr.NewConfigurationError(doc.Source, keyInitialiseClass+" is missing the class key", nil)
	}

	return nil
}

// parseObjects reads the `_objects` role to reference entries in document
// order. A role declared twice in the same document is rejected here, before
// any object is constructed.
func parseObjects(doc *Document, node *yaml.Node) error {
	addEntry := func(keyNode, valNode *yaml.Node) error {
		role := keyNode.Value

		for _, existing := range doc.Objects {
			if existing.Role == role {
				return &hwerr.DuplicateRoleError{
					Role:          role,
					Document:      doc.Source,
					FirstDocument: doc.Source,
				}
			}
		}

		doc.Objects = append(doc.Objects, ObjectSpec{
			Role:      role,
			Reference: valNode.Value,
			Index:     len(doc.Objects),
		})

		return nil
	}

	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			if err := addEntry(node.Content[i], node.Content[i+1]); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		// !!omap form: each item is a mapping holding exactly one pair.
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
				return hwerr.NewConfigurationError(doc.Source, keyObjects+" entries must be single role: reference pairs", nil)
			}

			if err := addEntry(item.Content[0], item.Content[1]); err != nil {
				return err
			}
		}
	default:
		return hwerr.NewConfigurationError(doc.Source, keyObjects+" must be a mapping", nil)
	}

	return nil
}

// validateVersion gates the declared `_version` against the supported range.
// Documents without a `_version` predate the versioning scheme and pass.
func validateVersion(doc *Document) error {
	if doc.Version == "" {
		return nil
	}

	v, err := semver.NewVersion(doc.Version)
	if err != nil {
		return hwerr.NewConfigurationError(doc.Source, fmt.Sprintf("invalid %s %q", keyVersion, doc.Version), err)
	}

	if !documentVersionRange.Check(v) {
		return hwerr.NewConfigurationError(doc.Source,
			fmt.Sprintf("%s %s is outside the supported range %s", keyVersion, doc.Version, DocumentVersionConstraint), nil)
	}

	return nil
}
