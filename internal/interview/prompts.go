package interview

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts/*.yaml
var promptFS embed.FS

// Prompt names understood by the engine.
const (
	promptOpening       = "opening"
	promptNextQuestion  = "next_question"
	promptAnalyzeAnswer = "analyze_answer"
	promptFollowUp      = "follow_up"
	promptFinalFeedback = "final_feedback"
)

var requiredPrompts = []string{promptOpening, promptNextQuestion, promptAnalyzeAnswer, promptFollowUp, promptFinalFeedback}

// PromptSet holds the parsed prompt templates.
type PromptSet struct {
	templates map[string]*template.Template
}

// LoadPrompts parses every embedded YAML prompt file.
func LoadPrompts() (*PromptSet, error) {
	entries, err := promptFS.ReadDir("prompts")
	if err != nil {
		return nil, fmt.Errorf("read prompts directory: %w", err)
	}

	set := &PromptSet{templates: make(map[string]*template.Template)}
	funcs := template.FuncMap{"join": strings.Join}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		data, err := promptFS.ReadFile("prompts/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read prompt file %s: %w", entry.Name(), err)
		}

		var raw map[string]string
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse prompt file %s: %w", entry.Name(), err)
		}

		for name, body := range raw {
			tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(body)
			if err != nil {
				return nil, fmt.Errorf("parse prompt %q: %w", name, err)
			}
			set.templates[name] = tmpl
		}
	}

	for _, name := range requiredPrompts {
		if _, ok := set.templates[name]; !ok {
			return nil, fmt.Errorf("prompt %q not found", name)
		}
	}
	return set, nil
}

// Render executes the named prompt with data.
func (p *PromptSet) Render(name string, data any) (string, error) {
	tmpl, ok := p.templates[name]
	if !ok {
		return "", fmt.Errorf("prompt %q not found", name)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return b.String(), nil
}
