// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Format selects how a command prints its result.
type Format string

const (
	Text Format = "text"
	JSON Format = "json"
	YAML Format = "yaml"
)

// ParseFormat validates a format name. The empty name selects Text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "":
		return Text, nil
	case Text, JSON, YAML:
		return f, nil
	default:
		return "", errors.Errorf("unknown format %q", s)
	}
}

// String implements flag.Value.
func (f *Format) String() string {
	if f == nil || *f == "" {
		return string(Text)
	}
	return string(*f)
}

// Set implements flag.Value.
func (f *Format) Set(s string) error {
	parsed, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// TextWriter is implemented by results with a human-readable form.
type TextWriter interface {
	WriteText(IO) error
}

// Print writes v to cio.Out. Text uses v's WriteText and falls back to JSON
// when v has none. YAML keys follow the json field tags of v.
func Print(cio IO, f Format, v any) error {
	switch f {
	case "", Text:
		if tw, ok := v.(TextWriter); ok {
			return tw.WriteText(cio)
		}
		return Print(cio, JSON, v)
	case JSON:
		enc := json.NewEncoder(cio.Out)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "encoding result")
	case YAML:
		b, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "encoding result")
		}
		var doc yaml.Node
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return errors.Wrap(err, "converting result")
		}
		blockStyle(&doc)
		enc := yaml.NewEncoder(cio.Out)
		enc.SetIndent(2)
		if err := enc.Encode(&doc); err != nil {
			return errors.Wrap(err, "encoding result")
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown format %q", f)
	}
}

// blockStyle drops the flow and quoting styles a JSON document parses with.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
