// Package templates renders the administrator-editable auto-response text.
package templates

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Renderer renders small text templates with strict missing-key semantics.
// Parsed templates are cached by their source text.
type Renderer struct {
	cache sync.Map // template text -> *template.Template
}

// Render compiles tmpl (or reuses a cached parse) and executes it with data.
func (r *Renderer) Render(name, tmpl string, data any) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		return "", fmt.Errorf("templates: template text required")
	}
	t, err := r.parse(name, tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Validate reports whether tmpl parses.
func (r *Renderer) Validate(tmpl string) error {
	_, err := r.parse("validate", tmpl)
	return err
}

func (r *Renderer) parse(name, tmpl string) (*template.Template, error) {
	if cached, ok := r.cache.Load(tmpl); ok {
		return cached.(*template.Template), nil
	}
	t, err := template.New(name).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("templates: parse: %w", err)
	}
	r.cache.Store(tmpl, t)
	return t, nil
}
