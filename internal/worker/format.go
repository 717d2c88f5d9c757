package worker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

var templateVarRe = regexp.MustCompile(`\$(\$|[A-Za-z_][A-Za-z0-9_]*)`)

// Formatter renders the text payload that is actually embedded. The template
// substitutes $chunk and $<column> from the source row; $$ is a literal
// dollar sign.
type Formatter struct {
	template string
	columns  []string
}

// NewFormatter creates a formatter from a formatting config.
func NewFormatter(cfg *vectorizer.FormattingConfig) (*Formatter, error) {
	if cfg.Implementation != vectorizer.FormattingPythonTemplate {
		return nil, fmt.Errorf("unknown formatting implementation %q", cfg.Implementation)
	}
	f := &Formatter{template: cfg.Template}
	for _, m := range templateVarRe.FindAllStringSubmatch(cfg.Template, -1) {
		name := m[1]
		if name == "$" || name == "chunk" {
			continue
		}
		if !contains(f.columns, name) {
			f.columns = append(f.columns, name)
		}
	}
	return f, nil
}

// Columns returns the source columns the template references, excluding
// $chunk. The executor includes them in its source-row fetch.
func (f *Formatter) Columns() []string {
	return f.columns
}

// Render substitutes the chunk text and row values into the template.
func (f *Formatter) Render(chunk string, row map[string]string) string {
	return templateVarRe.ReplaceAllStringFunc(f.template, func(m string) string {
		name := m[1:]
		if name == "$" {
			return "$"
		}
		if name == "chunk" {
			return chunk
		}
		if v, ok := row[name]; ok {
			return v
		}
		return m
	})
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// stringifyValue renders a fetched column value for template substitution.
func stringifyValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// formatVector renders a pgvector literal.
func formatVector(vec []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, x := range vec {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%g", x)
	}
	sb.WriteByte(']')
	return sb.String()
}
