// Package prompt resolves the prompt text sent to the collaborator for
// each step. Inline templates configured per step id take precedence;
// when none exists the resolver falls back to prompt files located via
// the registry's path template.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// ErrNoPrompt indicates no inline template or prompt file exists for a
// step id.
var ErrNoPrompt = errors.New("no prompt configured for step")

// ErrEmptyPrompt indicates a template rendered to an empty string. An
// empty prompt would send the collaborator into a session with no
// instructions, so the resolver refuses to return one.
var ErrEmptyPrompt = errors.New("prompt rendered empty")

// Data is the scope exposed to prompt templates.
type Data struct {
	// StepID is the step being prompted.
	StepID string

	// AgentID is the registry's agent identifier.
	AgentID string

	// Handoff carries key/value pairs accumulated from prior step
	// outputs.
	Handoff map[string]any
}

// Resolver renders prompts for steps. Inline templates are checked
// first; otherwise the path template is expanded from the step id and
// the referenced file is loaded and rendered.
//
// Resolution is read-only after construction and safe for concurrent
// use.
type Resolver struct {
	agentID      string
	pathTemplate string
	baseDir      string
	inline       map[string]*template.Template
}

// NewResolver builds a [Resolver]. Inline templates are parsed eagerly
// so configuration mistakes surface at startup, not mid-run. The path
// template uses {c1}/{c2}/{c3} placeholders, e.g.
// "prompts/{c1}/{c2}/{c3}.md", filled from the agent id and the step
// id's dotted segments. baseDir anchors relative prompt file paths.
func NewResolver(agentID, pathTemplate, baseDir string, inline map[string]string) (*Resolver, error) {
	r := &Resolver{
		agentID:      agentID,
		pathTemplate: pathTemplate,
		baseDir:      baseDir,
		inline:       make(map[string]*template.Template, len(inline)),
	}
	for stepID, text := range inline {
		tmpl, err := template.New(stepID).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parsing prompt template for step %q: %w", stepID, err)
		}
		r.inline[stepID] = tmpl
	}
	return r, nil
}

// Resolve renders the prompt for a step, exposing the handoff data to
// the template. It never returns an empty prompt.
func (r *Resolver) Resolve(stepID string, handoff map[string]any) (string, error) {
	data := Data{StepID: stepID, AgentID: r.agentID, Handoff: handoff}

	if tmpl, ok := r.inline[stepID]; ok {
		return render(tmpl, data)
	}

	if r.pathTemplate == "" {
		return "", fmt.Errorf("%w: %s", ErrNoPrompt, stepID)
	}

	path := r.promptPath(stepID)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s (looked for %s)", ErrNoPrompt, stepID, path)
		}
		return "", fmt.Errorf("reading prompt file %s: %w", path, err)
	}

	tmpl, err := template.New(stepID).Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("parsing prompt file %s: %w", path, err)
	}
	return render(tmpl, data)
}

// promptPath expands the path template. c1 is the agent id; c2 and c3
// come from the step id's dotted segments, with c3 defaulting to
// "default" for single-segment ids.
func (r *Resolver) promptPath(stepID string) string {
	c2, c3 := splitStepID(stepID)
	expanded := strings.NewReplacer(
		"{c1}", r.agentID,
		"{c2}", c2,
		"{c3}", c3,
	).Replace(r.pathTemplate)
	if filepath.IsAbs(expanded) || r.baseDir == "" {
		return expanded
	}
	return filepath.Join(r.baseDir, expanded)
}

func splitStepID(stepID string) (c2, c3 string) {
	parts := strings.SplitN(stepID, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return stepID, "default"
}

func render(tmpl *template.Template, data Data) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering prompt for step %q: %w", data.StepID, err)
	}
	prompt := strings.TrimSpace(sb.String())
	if prompt == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyPrompt, data.StepID)
	}
	return prompt, nil
}
