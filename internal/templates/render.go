// Package templates renders tooltip HTML fragments from named templates.
package templates

import (
	"bytes"
	"fmt"
	"html/template"
	"sync"
)

// Missing is shown for absent or empty feature properties.
const Missing = "Sin dato"

// funcMap provides common template functions.
var funcMap = template.FuncMap{
	// dict creates a map from key-value pairs, useful for passing multiple values to nested templates
	"dict": func(values ...any) map[string]any {
		if len(values)%2 != 0 {
			return nil
		}
		m := make(map[string]any, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			m[key] = values[i+1]
		}
		return m
	},
	// prop reads a feature property, falling back to Missing.
	"prop": func(props map[string]any, key string) any {
		v, ok := props[key]
		if !ok || v == nil || v == "" {
			return Missing
		}
		return v
	},
}

// Renderer manages HTML fragment templates.
type Renderer struct {
	templates *template.Template
	mu        sync.RWMutex
}

// New parses each entry of named as a template of that name.
func New(named map[string]string) (*Renderer, error) {
	r := &Renderer{templates: template.New("").Funcs(funcMap)}
	for name, text := range named {
		if err := r.Add(name, text); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add parses text as the template name, replacing any previous one.
func (r *Renderer) Add(name, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.templates.New(name).Parse(text); err != nil {
		return fmt.Errorf("template %s: %w", name, err)
	}
	return nil
}

// Has reports whether a template called name exists.
func (r *Renderer) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates.Lookup(name) != nil
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// MustRender renders a template and panics on error.
// Use only when you're certain the template exists.
func (r *Renderer) MustRender(name string, data any) string {
	s, err := r.Render(name, data)
	if err != nil {
		panic(err)
	}
	return s
}
