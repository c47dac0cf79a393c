// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package glossary

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format names a glossary file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ErrUnknownFormat is returned for glossary files with an unrecognised extension.
var ErrUnknownFormat = errors.New("unknown glossary format")

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// LoadFile reads and parses a glossary file.
func LoadFile(path string) (*Glossary, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read glossary %s: %w", path, err)
	}
	g, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("parse glossary %s: %w", path, err)
	}
	return g, nil
}

// Parse decodes glossary data. JSON and YAML accept either a
// {"phrase": ["value", ...]} mapping or a list of {key, values} objects; a
// value may also be a single string. TOML accepts a [terms] table and/or
// [[entry]] arrays. JSON may additionally be wrapped in a {"data": ...}
// envelope as served by the backend.
func Parse(data []byte, format Format) (*Glossary, error) {
	switch format {
	case FormatJSON:
		return parseJSON(data)
	case FormatYAML:
		return parseYAML(data)
	case FormatTOML:
		return parseTOML(data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// valueList accepts either a list of strings or a single string.
type valueList []string

func (v *valueList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*v = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("glossary values must be a string or list of strings")
	}
	*v = []string{single}
	return nil
}

func (v *valueList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*v = []string{node.Value}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return fmt.Errorf("glossary values must be a string or list of strings: %w", err)
	}
	*v = list
	return nil
}

type listEntry struct {
	Key    string    `json:"key" yaml:"key"`
	Values valueList `json:"values" yaml:"values"`
}

func parseJSON(data []byte) (*Glossary, error) {
	data = bytes.TrimSpace(data)

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if len(data) > 0 && data[0] == '{' {
		if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Data) > 0 {
			data = envelope.Data
		}
	}

	var mapping map[string]valueList
	if err := json.Unmarshal(data, &mapping); err == nil {
		return fromMapping(mapping), nil
	}
	var list []listEntry
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode JSON glossary: %w", err)
	}
	return fromList(list), nil
}

func parseYAML(data []byte) (*Glossary, error) {
	var mapping map[string]valueList
	if err := yaml.Unmarshal(data, &mapping); err == nil {
		return fromMapping(mapping), nil
	}
	var list []listEntry
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode YAML glossary: %w", err)
	}
	return fromList(list), nil
}

func parseTOML(data []byte) (*Glossary, error) {
	var doc struct {
		Terms map[string][]string `toml:"terms"`
		Entry []Entry             `toml:"entry"`
	}
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("decode TOML glossary: %w", err)
	}
	m := make(map[string][]string, len(doc.Terms)+len(doc.Entry))
	for k, v := range doc.Terms {
		m[k] = v
	}
	for _, e := range doc.Entry {
		m[e.Key] = e.Values
	}
	return New(m), nil
}

func fromMapping(mapping map[string]valueList) *Glossary {
	m := make(map[string][]string, len(mapping))
	for k, v := range mapping {
		m[k] = v
	}
	return New(m)
}

func fromList(list []listEntry) *Glossary {
	m := make(map[string][]string, len(list))
	for _, e := range list {
		m[e.Key] = e.Values
	}
	return New(m)
}
