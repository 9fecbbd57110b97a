// Package prompt renders analysis prompts from configured templates.
//
// Each template carries a content-derived version tag; the tag is part of
// the cache key, so editing a template naturally stops matching results
// produced under the old wording.
package prompt

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/ferret-scan/ferret/pkg/models"
)

// DefaultTemplate is the template used when none is named.
const DefaultTemplate = "comprehensive"

type templateSpec struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type promptsFile struct {
	Templates map[string]templateSpec `yaml:"templates"`
}

type compiled struct {
	system  string
	tmpl    *template.Template
	version string
}

// Manager holds the compiled prompt templates.
type Manager struct {
	templates map[string]compiled
}

// Load reads and compiles templates from a YAML file.
func Load(path string) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}

	var file promptsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	if len(file.Templates) == 0 {
		return nil, fmt.Errorf("prompts file %s defines no templates", path)
	}

	m := &Manager{templates: make(map[string]compiled, len(file.Templates))}
	for name, spec := range file.Templates {
		tmpl, err := template.New(name).Parse(spec.User)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		sum := sha256.Sum256([]byte(spec.System + "\x00" + spec.User))
		m.templates[name] = compiled{
			system:  spec.System,
			tmpl:    tmpl,
			version: hex.EncodeToString(sum[:])[:12],
		}
	}
	return m, nil
}

// Render builds the full prompt for a file using the named template.
func (m *Manager) Render(name string, file models.FileRecord) (string, error) {
	c, ok := m.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	var buf bytes.Buffer
	if c.system != "" {
		buf.WriteString(c.system)
		buf.WriteString("\n")
	}
	if err := c.tmpl.Execute(&buf, file); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// Version returns the content-derived version tag for a template.
func (m *Manager) Version(name string) (string, error) {
	c, ok := m.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown template: %s", name)
	}
	return c.version, nil
}

// Names lists the available template names, sorted.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.templates))
	for name := range m.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
