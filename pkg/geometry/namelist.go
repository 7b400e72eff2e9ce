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

// Package geometry reads instrument geometry descriptions written as Fortran
// namelists, the interchange format of the simulation calibration tooling.
// A namelist is a sequence of groups ("&name ... /") holding key/value
// assignments; groups may repeat, values may be scalars or arrays. Callers
// treat the content as opaque calibration data and pick out the groups and
// keys they know.
package geometry

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/beamline-hub/blh-core/pkg/hwerr"
)

// Namelist is a parsed namelist file. Group names and keys are matched
// case-insensitively, as Fortran does.
type Namelist struct {
	groups map[string][]*Group
	order  []string
}

// Group is one "&name ... /" block. Repeated groups with the same name stay
// separate; Groups returns them in file order.
type Group struct {
	Name   string
	keys   []string
	values map[string][]any
}

// Parse reads namelist data. source labels error messages, usually the file
// path the data came from.
func Parse(source string, data []byte) (*Namelist, error) {
	nml := &Namelist{groups: make(map[string][]*Group)}

	var current *Group

	var lastKey string

	lineNo := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(stripComment(scanner.Text()))
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "&") {
			if current != nil {
				return nil, parseError(source, lineNo, "group %q is not closed", current.Name)
			}

			rest := ""

			if i := strings.IndexAny(line, " \t"); i >= 0 {
				rest = strings.TrimSpace(line[i+1:])
				line = line[:i]
			}

			name := strings.ToLower(line[1:])
			if name == "" {
				return nil, parseError(source, lineNo, "group has no name")
			}

			current = &Group{Name: name, values: make(map[string][]any)}
			lastKey = ""

			nml.groups[name] = append(nml.groups[name], current)
			nml.order = append(nml.order, name)

			line = rest
			if line == "" {
				continue
			}
		}

		if current == nil {
			return nil, parseError(source, lineNo, "content outside a group: %q", line)
		}

		if line == "/" {
			current = nil

			continue
		}

		if strings.HasSuffix(line, "/") && !insideQuotes(line, len(line)-1) {
			trimmed := strings.TrimSpace(line[:len(line)-1])
			if err := appendContent(source, lineNo, current, &lastKey, trimmed); err != nil {
				return nil, err
			}

			current = nil

			continue
		}

		if err := appendContent(source, lineNo, current, &lastKey, line); err != nil {
			return nil, err
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, hwerr.NewConfigurationError(source, "reading namelist", err)
	}

	if current != nil {
		return nil, hwerr.NewConfigurationError(source, fmt.Sprintf("group %q is not closed", current.Name), nil)
	}

	return nml, nil
}

// appendContent handles one line of group body: either a new "key = values"
// assignment or a continuation of the previous key's value list.
func appendContent(source string, lineNo int, g *Group, lastKey *string, line string) error {
	if line == "" {
		return nil
	}

	if i := indexTop(line, '='); i >= 0 {
		key := strings.ToLower(strings.TrimSpace(line[:i]))
		if key == "" {
			return parseError(source, lineNo, "assignment has no key")
		}

		values, err := parseValues(source, lineNo, line[i+1:])
		if err != nil {
			return err
		}

		if _, exists := g.values[key]; !exists {
			g.keys = append(g.keys, key)
		}

		g.values[key] = append(g.values[key], values...)
		*lastKey = key

		return nil
	}

	if *lastKey == "" {
		return parseError(source, lineNo, "continuation without a preceding assignment")
	}

	values, err := parseValues(source, lineNo, line)
	if err != nil {
		return err
	}

	g.values[*lastKey] = append(g.values[*lastKey], values...)

	return nil
}

func parseValues(source string, lineNo int, s string) ([]any, error) {
	var values []any

	for _, token := range splitTop(s, ',') {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		count := 1

		// Fortran repeat syntax: 3*0.0 stands for three zeros.
		if i := strings.Index(token, "*"); i > 0 && !strings.HasPrefix(token, "'") && !strings.HasPrefix(token, `"`) {
			if n, err := strconv.Atoi(token[:i]); err == nil && n > 0 {
				count = n
				token = strings.TrimSpace(token[i+1:])
			}
		}

		value, err := parseValue(source, lineNo, token)
		if err != nil {
			return nil, err
		}

		for range count {
			values = append(values, value)
		}
	}

	return values, nil
}

func parseValue(source string, lineNo int, token string) (any, error) {
	if len(token) >= 2 {
		if quote := token[0]; quote == '\'' || quote == '"' {
			if token[len(token)-1] != quote {
				return nil, parseError(source, lineNo, "unterminated string %s", token)
			}

			inner := token[1 : len(token)-1]

			return strings.ReplaceAll(inner, string([]byte{quote, quote}), string(quote)), nil
		}
	}

	switch strings.ToLower(token) {
	case ".true.", "t":
		return true, nil
	case ".false.", "f":
		return false, nil
	}

	if n, err := strconv.ParseInt(token, 10, 64); err == nil {
		return int(n), nil
	}

	// Fortran spells double-precision exponents with d: 1.0d-4.
	normalized := strings.Map(func(r rune) rune {
		if r == 'd' || r == 'D' {
			return 'e'
		}

		return r
	}, token)

	if f, err := strconv.ParseFloat(normalized, 64); err == nil {
		return f, nil
	}

	return nil, parseError(source, lineNo, "cannot parse value %q", token)
}

func parseError(source string, lineNo int, format string, args ...any) error {
	return hwerr.NewConfigurationError(source, fmt.Sprintf("line %d: %s", lineNo, fmt.Sprintf(format, args...)), nil)
}

// stripComment removes a trailing "!" comment, leaving quoted exclamation
// marks alone.
func stripComment(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] == '!' && !insideQuotes(line, i) {
			return line[:i]
		}
	}

	return line
}

// insideQuotes reports whether position i sits inside a quoted string.
func insideQuotes(line string, i int) bool {
	var open byte

	for j := 0; j < i && j < len(line); j++ {
		c := line[j]

		switch {
		case open == 0 && (c == '\'' || c == '"'):
			open = c
		case c == open:
			open = 0
		}
	}

	return open != 0
}

// indexTop finds the first occurrence of sep outside quotes, -1 if none.
func indexTop(s string, sep byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == sep && !insideQuotes(s, i) {
			return i
		}
	}

	return -1
}

// splitTop splits on sep outside quotes.
func splitTop(s string, sep byte) []string {
	var parts []string

	start := 0

	for i := 0; i < len(s); i++ {
		if s[i] == sep && !insideQuotes(s, i) {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}

	return append(parts, s[start:])
}

// Group returns the first group with the given name.
func (n *Namelist) Group(name string) (*Group, bool) {
	groups := n.groups[strings.ToLower(name)]
	if len(groups) == 0 {
		return nil, false
	}

	return groups[0], true
}

// Groups returns every group with the given name in file order.
func (n *Namelist) Groups(name string) []*Group {
	return n.groups[strings.ToLower(name)]
}

// GroupNames returns the distinct group names in first-appearance order.
func (n *Namelist) GroupNames() []string {
	seen := make(map[string]bool, len(n.groups))

	var names []string

	for _, name := range n.order {
		if !seen[name] {
			seen[name] = true

			names = append(names, name)
		}
	}

	return names
}

// Keys returns the group's keys in declaration order.
func (g *Group) Keys() []string {
	return g.keys
}

// Values returns the raw value list for a key.
func (g *Group) Values(key string) ([]any, bool) {
	values, ok := g.values[strings.ToLower(key)]

	return values, ok
}

// Float returns the key's single value as a float. Integer values convert.
func (g *Group) Float(key string) (float64, bool) {
	values, ok := g.Values(key)
	if !ok || len(values) != 1 {
		return 0, false
	}

	return toFloat(values[0])
}

// Floats returns the key's values as floats. All entries must be numeric.
func (g *Group) Floats(key string) ([]float64, bool) {
	values, ok := g.Values(key)
	if !ok {
		return nil, false
	}

	floats := make([]float64, len(values))

	for i, v := range values {
		f, ok := toFloat(v)
		if !ok {
			return nil, false
		}

		floats[i] = f
	}

	return floats, true
}

// Int returns the key's single value as an int.
func (g *Group) Int(key string) (int, bool) {
	values, ok := g.Values(key)
	if !ok || len(values) != 1 {
		return 0, false
	}

	if n, ok := values[0].(int); ok {
		return n, true
	}

	return 0, false
}

// String returns the key's single value as a string.
func (g *Group) String(key string) (string, bool) {
	values, ok := g.Values(key)
	if !ok || len(values) != 1 {
		return "", false
	}

	str, ok := values[0].(string)

	return str, ok
}

// Strings returns the key's values as strings. All entries must be strings.
func (g *Group) Strings(key string) ([]string, bool) {
	values, ok := g.Values(key)
	if !ok {
		return nil, false
	}

	strs := make([]string, len(values))

	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			return nil, false
		}

		strs[i] = str
	}

	return strs, true
}

// Bool returns the key's single value as a bool.
func (g *Group) Bool(key string) (bool, bool) {
	values, ok := g.Values(key)
	if !ok || len(values) != 1 {
		return false, false
	}

	b, ok := values[0].(bool)

	return b, ok
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}

	return 0, false
}
