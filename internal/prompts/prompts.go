// Package prompts treats prompt templates as opaque (props) -> string
// producers external to the core, per spec.md §9. Grounded on
// nandosb-ai-native-sdlc/internal/prompts/prompts.go's loadTemplate +
// inline-fallback pattern.
package prompts

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/template"
)

// Templater renders a named template against props. It is the seam the
// engine calls through; the CLI front-end and the MDX-style prompt bodies
// referenced in spec.md §1's out-of-scope list live behind this interface.
type Templater interface {
	Render(name string, props map[string]interface{}) (string, error)
}

// FileTemplater loads templates from a directory, falling back to a small
// set of built-in inline templates when the file is absent — the same
// fallback shape as the teacher's loadTemplate.
type FileTemplater struct {
	dir string

	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewFileTemplater returns a FileTemplater rooted at dir.
func NewFileTemplater(dir string) *FileTemplater {
	return &FileTemplater{dir: dir, cache: map[string]*template.Template{}}
}

func (t *FileTemplater) Render(name string, props map[string]interface{}) (string, error) {
	tmpl, err := t.load(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, props); err != nil {
		return "", fmt.Errorf("prompts: render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (t *FileTemplater) load(name string) (*template.Template, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tmpl, ok := t.cache[name]; ok {
		return tmpl, nil
	}

	body, err := t.loadBody(name)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(name).Parse(body)
	if err != nil {
		return nil, fmt.Errorf("prompts: parse %s: %w", name, err)
	}
	t.cache[name] = tmpl
	return tmpl, nil
}

func (t *FileTemplater) loadBody(name string) (string, error) {
	if t.dir != "" {
		path := filepath.Join(t.dir, name+".tmpl")
		if raw, err := os.ReadFile(path); err == nil {
			return string(raw), nil
		}
	}
	if body, ok := builtins[name]; ok {
		return body, nil
	}
	return "", fmt.Errorf("prompts: no template named %q", name)
}

// builtins covers the stage prompts the engine dispatches by name when no
// on-disk override is supplied.
var builtins = map[string]string{
	"research": `Research ticket {{.ticketId}}: {{.title}}

{{.description}}

Relevant files: {{.relevantFiles}}
{{if .evictionReason}}
Prior eviction context for this ticket (evicted: {{.evictionReason}}):
Branch commits:
{{.evictionCommitLog}}
Changed files:
{{.evictionSummaryDiff}}
Mainline commits since the branch point:
{{.evictionMainlineLog}}
{{end}}`,

	"plan": `Plan an approach for ticket {{.ticketId}}: {{.title}}

Research summary: {{.researchSummary}}`,

	"implement": `Implement ticket {{.ticketId}}: {{.title}}

Plan: {{.plan}}
{{if .evictionReason}}
Prior eviction context for this ticket (evicted: {{.evictionReason}}; address these before re-attempting):
Branch commits:
{{.evictionCommitLog}}
Changed files:
{{.evictionSummaryDiff}}
Mainline commits since the branch point:
{{.evictionMainlineLog}}
{{end}}`,

	"code-review": `Review the diff for ticket {{.ticketId}} against this checklist:
{{.reviewChecklist}}

Diff summary: {{.filesChanged}}`,

	"review-fix": `Address the following review findings for ticket {{.ticketId}}:
{{.findings}}`,

	"scheduler": `Active jobs: {{.activeJobs}}
Ticket table: {{.tickets}}
Agent pool: {{.agentPool}}
Free slots: {{.freeSlots}}

Issue exactly {{.freeSlots}} jobs, respecting tier order, load balance, and
never double-scheduling a ticket already in flight.`,
}
