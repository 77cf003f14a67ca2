package ai

import (
	"context"

	"scriptstudio/pkg/domain"
)

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Gemini, Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Audio is synthesized speech as returned by a provider.
type Audio struct {
	Data     []byte
	MimeType string
}

// SpeechRequest describes one synthesis call.
type SpeechRequest struct {
	Text        string
	Voice       *domain.VoiceConfig
	AudioConfig *domain.AudioConfig
}

// SpeechSynthesizer turns text into audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) (Audio, error)
}

// Image is a generated picture as returned by a provider.
type Image struct {
	Data     []byte
	MimeType string
}

// ImageRequest describes one image generation call.
type ImageRequest struct {
	Prompt      string
	Style       string
	AspectRatio string
}

// ImageGenerator turns a prompt into an image.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (Image, error)
}

// ScriptRequest describes a script to write.
type ScriptRequest struct {
	Topic         string
	Persona       string
	LengthMinutes int
	Language      string
}

// ScriptGenerator produces a structured script.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, req ScriptRequest) (domain.Script, error)
}

func imagePrompt(req ImageRequest) string {
	if req.Style == "" {
		return req.Prompt
	}
	return req.Prompt + "\nStyle: " + req.Style
}
