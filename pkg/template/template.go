// Package template renders message bodies for outbound deliveries.
// Bodies are Go text templates registered by ID; rendering receives the
// event context, the recipient and the selected variant parameters.
package template

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"
)

// Renderer holds the registered template set. An unregistered template ID
// passes through unchanged as the body, so deployments that render
// content outside the engine need no template file at all.
type Renderer struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

func NewRenderer() *Renderer {
	return &Renderer{templates: make(map[string]*template.Template)}
}

// Register parses and stores one template body under the given ID. A
// parse failure is returned immediately so bad bodies are caught at load
// time, not at send time.
func (r *Renderer) Register(id, body string) error {
	tmpl, err := template.New(id).Funcs(funcs()).Parse(body)
	if err != nil {
		return fmt.Errorf("failed to parse template %q: %w", id, err)
	}

	r.mu.Lock()
	r.templates[id] = tmpl
	r.mu.Unlock()

	return nil
}

func (r *Renderer) RegisterAll(templates map[string]string) error {
	for id, body := range templates {
		if err := r.Register(id, body); err != nil {
			return err
		}
	}

	return nil
}

func (r *Renderer) Render(_ context.Context, templateID string, data map[string]any) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[templateID]
	r.mu.RUnlock()

	if !ok {
		return templateID, nil
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %q: %w", templateID, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}
}
