package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"default": func(defaultVal any, val any) any {
		if val == nil || val == "" {
			return defaultVal
		}
		return val
	},
	"upper":     strings.ToUpper,
	"lower":     strings.ToLower,
	"money":     Money,
	"thousands": Thousands,
	"pct": func(v float64) string {
		return fmt.Sprintf("%+.1f%%", v)
	},
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},
}

// Template is a parsed prompt template.
type Template struct {
	tmpl *template.Template
}

// MustParse parses a named prompt template and panics on syntax errors.
// Prompt templates are package-level constants, so a failure is a programming error.
func MustParse(name, text string) *Template {
	return &Template{tmpl: template.Must(template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(text))}
}

// Render executes the template against data.
func (t *Template) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.tmpl.Name(), err)
	}
	return buf.String(), nil
}

// RenderTemplate replaces template variables using Go's text/template package.
// This lives in internal to avoid committing to public API stability prematurely.
func RenderTemplate(text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}
	tmpl, err := template.New("prompt").Funcs(funcs).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
