package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubText struct {
	out        string
	err        error
	userPrompt string
}

func (s *stubText) GenerateText(_ context.Context, _, userPrompt string) (string, error) {
	s.userPrompt = userPrompt
	return s.out, s.err
}

func TestParseScriptStripsFences(t *testing.T) {
	raw := "Here you go:\n```json\n{\"title\":\"Tides\",\"sections\":[{\"heading\":\" Intro \",\"text\":\" The sea. \"},{\"heading\":\"Empty\",\"text\":\"  \"}],\"outline\":[\"Intro\"],\"seo\":{\"title\":\"Tides\",\"tags\":[\"ocean\"]}}\n```"
	script, err := ParseScript(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if script.Title != "Tides" || len(script.Sections) != 1 {
		t.Fatalf("unexpected script %+v", script)
	}
	if script.Sections[0].Heading != "Intro" || script.Sections[0].Text != "The sea." {
		t.Fatalf("expected trimmed section, got %+v", script.Sections[0])
	}
	if script.SEO == nil || script.SEO.Tags[0] != "ocean" {
		t.Fatalf("expected seo, got %+v", script.SEO)
	}
}

func TestParseScriptErrors(t *testing.T) {
	for _, raw := range []string{"", "no json here", `{"sections":[]}`, `{"sections":[{"text":""}]}`} {
		if _, err := ParseScript(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestScriptWriter(t *testing.T) {
	gen := &stubText{out: `{"title":"T","sections":[{"heading":"A","text":"body"}]}`}
	w := NewScriptWriter(gen, "gemini")
	script, err := w.GenerateScript(context.Background(), ScriptRequest{Topic: "Tides", Persona: "pirate", LengthMinutes: 3})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if script.Provider != "gemini" {
		t.Fatalf("expected provider recorded, got %q", script.Provider)
	}
	for _, want := range []string{"Tides", "pirate", "3 minutes"} {
		if !strings.Contains(gen.userPrompt, want) {
			t.Fatalf("prompt missing %q: %s", want, gen.userPrompt)
		}
	}
}

func TestScriptWriterPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	w := NewScriptWriter(&stubText{err: boom}, "x")
	if _, err := w.GenerateScript(context.Background(), ScriptRequest{Topic: "t"}); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}
