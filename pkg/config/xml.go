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
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/beamline-hub/blh-core/pkg/hwerr"
)

// ParseXML parses a legacy XML hardware object document.
//
// The format is a single root element carrying the class attribute, with
// three kinds of children: `<object role="..." href="..."/>` reference
// leaves (hwrid is accepted as an alias for href), `<channel>` / `<command>`
// protocol bindings, and arbitrary elements whose text content becomes a
// sidecar property. Element order is preserved as declaration order.
func ParseXML(source string, data []byte) (*Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	root, err := findRootElement(dec)
	if err != nil {
		return nil, hwerr.NewConfigurationError(source, "invalid XML", err)
	}

	switch root.Name.Local {
	case "object", "device", "equipment", "procedure":
	default:
		return nil, hwerr.NewConfigurationError(source, fmt.Sprintf("unexpected root element <%s>", root.Name.Local), nil)
	}

	doc := &Document{
		Source:     source,
		Args:       make(map[string]any),
		Properties: make(map[string]any),
	}

	for _, attr := range root.Attr {
		if attr.Name.Local == keyClass {
			doc.Class = attr.Value

			continue
		}

		doc.setProperty(attr.Name.Local, coerceScalar(attr.Value))
	}

	if doc.Class == "" {
		return nil, hwerr.NewConfigurationError(source, "root element is missing the class attribute", nil)
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, hwerr.NewConfigurationError(source, "invalid XML", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if err := parseXMLChild(dec, doc, t); err != nil {
				return nil, err
			}
		case xml.EndElement:
			// root closed
		}
	}

	return doc, nil
}

// findRootElement skips prolog tokens until the first start element.
func findRootElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}

		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

func parseXMLChild(dec *xml.Decoder, doc *Document, se xml.StartElement) error {
	switch se.Name.Local {
	case "object":
		return parseXMLReference(dec, doc, se)
	case "channel":
		binding, err := parseXMLBinding(dec, doc, se)
		if err != nil {
			return err
		}

		doc.Channels = append(doc.Channels, binding)

		return nil
	case "command":
		binding, err := parseXMLBinding(dec, doc, se)
		if err != nil {
			return err
		}

		doc.Commands = append(doc.Commands, binding)

		return nil
	default:
		text, err := readElementText(dec)
		if err != nil {
			return hwerr.NewConfigurationError(doc.Source, fmt.Sprintf("invalid element <%s>", se.Name.Local), err)
		}

		doc.setProperty(se.Name.Local, coerceScalar(text))

		return nil
	}
}

// parseXMLReference reads a nested `<object role= href=/>` reference leaf.
func parseXMLReference(dec *xml.Decoder, doc *Document, se xml.StartElement) error {
	var role, reference string

	for _, attr := range se.Attr {
		switch attr.Name.Local {
		case "role":
			role = attr.Value
		case "href", "hwrid":
			reference = attr.Value
		}
	}

	if role == "" {
		return hwerr.NewConfigurationError(doc.Source, "nested object is missing the role attribute", nil)
	}

	if reference == "" {
		return hwerr.NewConfigurationError(doc.Source,
			fmt.Sprintf("object role %q has no href; inline definitions are not supported", role), nil)
	}

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
		Reference: reference,
		Index:     len(doc.Objects),
	})

	return dec.Skip()
}

// parseXMLBinding reads a `<channel>` or `<command>` protocol binding. The
// type attribute names the protocol adapter and the element text is the
// protocol-specific address.
func parseXMLBinding(dec *xml.Decoder, doc *Document, se xml.StartElement) (BindingSpec, error) {
	var binding BindingSpec

	for _, attr := range se.Attr {
		switch attr.Name.Local {
		case "type":
			binding.Protocol = attr.Value
		case "name":
			binding.Name = attr.Value
		}
	}

	if binding.Protocol == "" || binding.Name == "" {
		return BindingSpec{}, hwerr.NewConfigurationError(doc.Source,
			fmt.Sprintf("<%s> requires type and name attributes", se.Name.Local), nil)
	}

	text, err := readElementText(dec)
	if err != nil {
		return BindingSpec{}, hwerr.NewConfigurationError(doc.Source, fmt.Sprintf("invalid <%s> element", se.Name.Local), err)
	}

	binding.Address = text

	return binding, nil
}

// readElementText consumes tokens until the current element closes and
// returns its trimmed text content. Nested elements are skipped.
func readElementText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder

	depth := 1
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.CharData:
			if depth == 1 {
				sb.Write(t)
			}
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				return strings.TrimSpace(sb.String()), nil
			}
		}
	}
}

// coerceScalar converts element text to the most specific scalar type, the
// same coercion the YAML parser gets for free from the YAML type system.
func coerceScalar(s string) any {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}

	return s
}
