package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"scriptstudio/pkg/domain"
)

const scriptSystemPrompt = `You write narration scripts for short videos.
Respond with a single JSON object and nothing else, using this shape:
{"title": string, "sections": [{"heading": string, "text": string}], "outline": [string], "seo": {"title": string, "description": string, "tags": [string]}}
Every section must have non-empty narration text.`

// ScriptWriter asks a TextGenerator for a script and parses its JSON reply.
type ScriptWriter struct {
	gen      TextGenerator
	provider string
}

// NewScriptWriter builds a ScriptGenerator on top of gen. provider is recorded
// on every script it produces.
func NewScriptWriter(gen TextGenerator, provider string) *ScriptWriter {
	return &ScriptWriter{gen: gen, provider: provider}
}

// GenerateScript implements ScriptGenerator.
func (w *ScriptWriter) GenerateScript(ctx context.Context, req ScriptRequest) (domain.Script, error) {
	raw, err := w.gen.GenerateText(ctx, scriptSystemPrompt, scriptUserPrompt(req))
	if err != nil {
		return domain.Script{}, err
	}
	script, err := ParseScript(raw)
	if err != nil {
		return domain.Script{}, err
	}
	script.Provider = w.provider
	return script, nil
}

func scriptUserPrompt(req ScriptRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	if req.Persona != "" {
		fmt.Fprintf(&b, "Narrator persona: %s\n", req.Persona)
	}
	if req.LengthMinutes > 0 {
		fmt.Fprintf(&b, "Target length: about %d minutes of narration\n", req.LengthMinutes)
	}
	if req.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", req.Language)
	}
	return b.String()
}

// ParseScript extracts a script from model output, tolerating markdown code
// fences and surrounding prose.
func ParseScript(raw string) (domain.Script, error) {
	body := strings.TrimSpace(raw)
	if start := strings.Index(body, "{"); start >= 0 {
		if end := strings.LastIndex(body, "}"); end > start {
			body = body[start : end+1]
		}
	}
	var script domain.Script
	if err := json.Unmarshal([]byte(body), &script); err != nil {
		return domain.Script{}, fmt.Errorf("parse script: %w", err)
	}
	sections := script.Sections[:0]
	for _, s := range script.Sections {
		s.Heading = strings.TrimSpace(s.Heading)
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" {
			continue
		}
		sections = append(sections, s)
	}
	script.Sections = sections
	if len(script.Sections) == 0 {
		return domain.Script{}, errors.New("parse script: no sections")
	}
	return script, nil
}
