package orchestrator

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/adminpilot/control-plane/pkg/models"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompts holds the prompt templates. Placeholders use {{name}}.
type Prompts struct {
	System            string            `yaml:"system"`
	Focus             map[string]string `yaml:"focus"`
	DestructivePolicy map[string]string `yaml:"destructive_policy"`
	Summary           string            `yaml:"summary"`
	Confirmation      string            `yaml:"confirmation"`
}

var templateVarRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

var knownVariables = map[string]bool{
	"context":            true,
	"focus":              true,
	"destructive_policy": true,
	"snapshot":           true,
	"now":                true,
	"summary":            true,
}

// LoadPrompts reads prompts from path, or the embedded defaults when path is
// empty. Keys missing from the file keep their default values.
func LoadPrompts(path string) (*Prompts, error) {
	p := &Prompts{}
	if err := yaml.Unmarshal(defaultPrompts, p); err != nil {
		return nil, fmt.Errorf("parse embedded prompts: %w", err)
	}
	if path == "" {
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	var override Prompts
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, fmt.Errorf("parse prompts file %s: %w", path, err)
	}
	p.merge(&override)
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("prompts file %s: %w", path, err)
	}
	return p, nil
}

func (p *Prompts) merge(o *Prompts) {
	if o.System != "" {
		p.System = o.System
	}
	if o.Summary != "" {
		p.Summary = o.Summary
	}
	if o.Confirmation != "" {
		p.Confirmation = o.Confirmation
	}
	for k, v := range o.Focus {
		p.Focus[k] = v
	}
	for k, v := range o.DestructivePolicy {
		p.DestructivePolicy[k] = v
	}
}

// validate rejects templates that reference placeholders nothing fills.
func (p *Prompts) validate() error {
	for name, tpl := range map[string]string{"system": p.System, "summary": p.Summary, "confirmation": p.Confirmation} {
		for _, v := range extractVariables(tpl) {
			if !knownVariables[v] {
				return fmt.Errorf("%s prompt uses unknown placeholder {{%s}}", name, v)
			}
		}
	}
	return nil
}

// SystemPrompt renders the system message for one request.
func (p *Prompts) SystemPrompt(rc models.RequestContext, mode, snapshot, now string) string {
	return renderPrompt(p.System, map[string]string{
		"context":            string(rc),
		"focus":              p.Focus[string(rc)],
		"destructive_policy": p.DestructivePolicy[mode],
		"snapshot":           snapshot,
		"now":                now,
	})
}

// ConfirmationPrompt renders the user turn replayed when a pending action is confirmed.
func (p *Prompts) ConfirmationPrompt(summary string) string {
	return renderPrompt(p.Confirmation, map[string]string{"summary": summary})
}

func renderPrompt(template string, variables map[string]string) string {
	result := template
	for key, val := range variables {
		result = strings.ReplaceAll(result, "{{"+key+"}}", val)
	}
	return strings.TrimSpace(result)
}

func extractVariables(template string) []string {
	matches := templateVarRegex.FindAllStringSubmatch(template, -1)
	seen := make(map[string]bool)
	var vars []string
	for _, match := range matches {
		if len(match) > 1 && !seen[match[1]] {
			seen[match[1]] = true
			vars = append(vars, match[1])
		}
	}
	return vars
}
