// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package modulemd reads, edits, and renders modulemd v2 documents.
package modulemd

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/m10k/albs-web-server/pkg/rpm"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrRefConflict is returned when a component ref is set twice to different values.
var ErrRefConflict = errors.New("component ref already set")

const develSuffix = "-devel"

// Document is one modulemd YAML document.
type Document struct {
	Document string `yaml:"document"`
	Version  int    `yaml:"version"`
	Data     Data   `yaml:"data"`
}

// Data is the body of a modulemd document. Keys not modelled here are kept in Extra.
type Data struct {
	Name         string         `yaml:"name"`
	Stream       string         `yaml:"stream"`
	Version      uint64         `yaml:"version,omitempty"`
	Context      string         `yaml:"context,omitempty"`
	Arch         string         `yaml:"arch,omitempty"`
	Dependencies []Dependency   `yaml:"dependencies,omitempty"`
	Buildopts    *Buildopts     `yaml:"buildopts,omitempty"`
	Components   *Components    `yaml:"components,omitempty"`
	Artifacts    *Artifacts     `yaml:"artifacts,omitempty"`
	Extra        map[string]any `yaml:",inline"`
}

// Dependency maps module names to the streams they require.
type Dependency struct {
	BuildRequires map[string][]string `yaml:"buildrequires,omitempty"`
	Requires      map[string][]string `yaml:"requires,omitempty"`
}

type Buildopts struct {
	RPMs  *BuildoptsRPMs `yaml:"rpms,omitempty"`
	Extra map[string]any `yaml:",inline"`
}

type BuildoptsRPMs struct {
	Macros string         `yaml:"macros,omitempty"`
	Extra  map[string]any `yaml:",inline"`
}

type Components struct {
	RPMs  ComponentMap   `yaml:"rpms,omitempty"`
	Extra map[string]any `yaml:",inline"`
}

// Component is one RPM component of a module.
type Component struct {
	Rationale  string         `yaml:"rationale,omitempty"`
	Ref        string         `yaml:"ref,omitempty"`
	Buildorder int            `yaml:"buildorder,omitempty"`
	Extra      map[string]any `yaml:",inline"`
}

type Artifacts struct {
	RPMs  []string       `yaml:"rpms,omitempty"`
	Extra map[string]any `yaml:",inline"`
}

// ComponentMap is a component mapping that keeps document order.
type ComponentMap struct {
	names  []string
	byName map[string]*Component
}

func (m *ComponentMap) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return errors.Errorf("line %d: components must be a mapping", n.Line)
	}
	m.byName = make(map[string]*Component, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		name := n.Content[i].Value
		var c Component
		if err := n.Content[i+1].Decode(&c); err != nil {
			return errors.Wrapf(err, "component %s", name)
		}
		if _, dup := m.byName[name]; !dup {
			m.names = append(m.names, name)
		}
		m.byName[name] = &c
	}
	return nil
}

func (m ComponentMap) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range m.names {
		var v yaml.Node
		if err := v.Encode(m.byName[name]); err != nil {
			return nil, err
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: name}, &v)
	}
	return n, nil
}

// IsZero lets omitempty drop an empty mapping.
func (m ComponentMap) IsZero() bool { return len(m.names) == 0 }

// Parse decodes every document in a modulemd stream.
func Parse(r io.Reader) ([]Document, error) {
	dec := yaml.NewDecoder(r)
	var docs []Document
	for {
		var d Document
		if err := dec.Decode(&d); err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "decoding modulemd")
		}
		if d.Document != "modulemd" {
			continue
		}
		docs = append(docs, d)
	}
	if len(docs) == 0 {
		return nil, errors.New("no modulemd documents found")
	}
	return docs, nil
}

// Descriptor is a mutable module document. It is safe for concurrent use.
type Descriptor struct {
	mu        sync.Mutex
	doc       Document
	artifacts map[string]bool // NEVRA -> devel
	refsSet   map[string]string
}

// FromTemplate builds a descriptor named name from the template document with
// that name, or from the first document when none matches.
func FromTemplate(template []byte, name, stream string) (*Descriptor, error) {
	docs, err := Parse(bytes.NewReader(template))
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(docs, func(d Document) bool { return d.Data.Name == name })
	if i < 0 {
		i = 0
	}
	doc := docs[i]
	doc.Data.Name = name
	doc.Data.Stream = stream
	d := &Descriptor{doc: doc, artifacts: map[string]bool{}, refsSet: map[string]string{}}
	if doc.Data.Artifacts != nil {
		for _, a := range doc.Data.Artifacts.RPMs {
			d.artifacts[a] = d.IsDevel()
		}
	}
	return d, nil
}

// Name returns the module name.
func (d *Descriptor) Name() string { return d.doc.Data.Name }

// Stream returns the module stream.
func (d *Descriptor) Stream() string { return d.doc.Data.Stream }

// IsDevel reports whether this is a devel companion module.
func (d *Descriptor) IsDevel() bool { return strings.HasSuffix(d.doc.Data.Name, develSuffix) }

// DevelName returns the name of the devel companion of module name.
func DevelName(name string) string { return name + develSuffix }

// Components returns component names in document order.
func (d *Descriptor) Components() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc.Data.Components == nil {
		return nil
	}
	return slices.Clone(d.doc.Data.Components.RPMs.names)
}

// ComponentRef returns the current ref of a component.
func (d *Descriptor) ComponentRef(name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.component(name)
	if c == nil {
		return "", false
	}
	return c.Ref, true
}

func (d *Descriptor) component(name string) *Component {
	if d.doc.Data.Components == nil {
		return nil
	}
	return d.doc.Data.Components.RPMs.byName[name]
}

// SetComponentRef records the git ref of a component. Setting a different
// ref for a component that was already set returns ErrRefConflict.
func (d *Descriptor) SetComponentRef(name, ref string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.component(name)
	if c == nil {
		return errors.Errorf("module %s has no component %s", d.doc.Data.Name, name)
	}
	if prev, ok := d.refsSet[name]; ok && prev != ref {
		return errors.Wrapf(ErrRefConflict, "%s: %s != %s", name, prev, ref)
	}
	d.refsSet[name] = ref
	c.Ref = ref
	return nil
}

// AddArtifact adds a package to the module artifacts. Re-adding a package is a no-op.
func (d *Descriptor) AddArtifact(p rpm.Package, devel bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.artifacts[p.NEVRA()]; ok {
		return
	}
	d.artifacts[p.NEVRA()] = devel
}

// Artifacts returns the module artifacts sorted by NEVRA.
func (d *Descriptor) Artifacts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sortedArtifacts()
}

func (d *Descriptor) sortedArtifacts() []string {
	out := make([]string, 0, len(d.artifacts))
	for a := range d.artifacts {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// EnabledModules lists module dependencies as name:stream, without the platform pseudo-module.
type EnabledModules struct {
	Buildtime []string `json:"buildtime"`
	Runtime   []string `json:"runtime"`
}

// BuildDeps returns the modules a build of this module needs enabled.
func (d *Descriptor) BuildDeps() EnabledModules {
	d.mu.Lock()
	defer d.mu.Unlock()
	var em EnabledModules
	for _, dep := range d.doc.Data.Dependencies {
		em.Buildtime = appendDeps(em.Buildtime, dep.BuildRequires)
		em.Runtime = appendDeps(em.Runtime, dep.Requires)
	}
	return em
}

func appendDeps(dst []string, deps map[string][]string) []string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		if name != "platform" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		streams := deps[name]
		if len(streams) == 0 {
			streams = []string{""}
		}
		for _, s := range streams {
			dep := name
			if s != "" {
				dep += ":" + s
			}
			if !slices.Contains(dst, dep) {
				dst = append(dst, dep)
			}
		}
	}
	return dst
}

// MockDefinitions returns the mock macro definitions for building components of this module.
func (d *Descriptor) MockDefinitions() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	data := d.doc.Data
	defs := map[string]string{
		"_module_build":   "1",
		"modularitylabel": fmt.Sprintf("%s:%s:%d:%s", data.Name, data.Stream, data.Version, data.Context),
	}
	if data.Buildopts == nil || data.Buildopts.RPMs == nil {
		return defs
	}
	for _, line := range strings.Split(data.Buildopts.RPMs.Macros, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, _ := strings.Cut(line, " ")
		defs[strings.TrimPrefix(name, "%")] = strings.TrimSpace(value)
	}
	return defs
}

// Render encodes the descriptor as a modulemd document.
func (d *Descriptor) Render() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc := d.doc
	if arts := d.sortedArtifacts(); len(arts) > 0 {
		a := Artifacts{RPMs: arts}
		if doc.Data.Artifacts != nil {
			a.Extra = doc.Data.Artifacts.Extra
		}
		doc.Data.Artifacts = &a
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", errors.Wrap(err, "encoding modulemd")
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	buf.WriteString("...\n")
	return buf.String(), nil
}
