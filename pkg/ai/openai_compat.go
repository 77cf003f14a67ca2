package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatClient calls any OpenAI-compatible /v1 API.
// Works with vLLM, LiteLLM, LocalAI, OpenRouter, self-hosted models, etc.
type OpenAICompatClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAICompatClient builds a client.
// baseURL should include the /v1 prefix, e.g. "http://localhost:8000/v1".
// apiKey can be empty for local models that do not require authentication.
func NewOpenAICompatClient(baseURL, apiKey string) *OpenAICompatClient {
	return &OpenAICompatClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// post sends payload as JSON and returns the raw response body and its content type.
func (c *OpenAICompatClient) post(ctx context.Context, path string, payload any) ([]byte, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("openai-compat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return nil, "", fmt.Errorf("openai-compat api error: %s", errResp.Error.Message)
		}
		return nil, "", fmt.Errorf("openai-compat api error: %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("openai-compat read: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// OpenAICompatGenerator implements TextGenerator via /chat/completions.
type OpenAICompatGenerator struct {
	client *OpenAICompatClient
	model  string
}

// NewOpenAICompatGenerator builds an OpenAI-compatible TextGenerator.
func NewOpenAICompatGenerator(client *OpenAICompatClient, model string) *OpenAICompatGenerator {
	return &OpenAICompatGenerator{client: client, model: strings.TrimSpace(model)}
}

// GenerateText implements TextGenerator using the OpenAI chat completions API.
func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("openai-compat generation model required")
	}
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: userPrompt})

	data, _, err := g.client.post(ctx, "/chat/completions", oaiChatRequest{Model: g.model, Messages: messages})
	if err != nil {
		return "", err
	}
	var chatResp oaiChatResponse
	if err := json.Unmarshal(data, &chatResp); err != nil {
		return "", fmt.Errorf("openai-compat decode: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	return text, nil
}

// OpenAICompatSpeech implements SpeechSynthesizer via /audio/speech.
type OpenAICompatSpeech struct {
	client *OpenAICompatClient
	model  string
	voice  string
}

// NewOpenAICompatSpeech builds a speech synthesizer. voice is used when the
// request carries no voice name.
func NewOpenAICompatSpeech(client *OpenAICompatClient, model, voice string) *OpenAICompatSpeech {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		voice = "alloy"
	}
	return &OpenAICompatSpeech{client: client, model: strings.TrimSpace(model), voice: voice}
}

// Synthesize implements SpeechSynthesizer.
func (s *OpenAICompatSpeech) Synthesize(ctx context.Context, req SpeechRequest) (Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Audio{}, fmt.Errorf("speech text required")
	}
	body := oaiSpeechRequest{
		Model:          s.model,
		Input:          req.Text,
		Voice:          s.voice,
		ResponseFormat: "mp3",
	}
	if req.Voice != nil && req.Voice.Name != "" {
		body.Voice = req.Voice.Name
	}
	if req.AudioConfig != nil {
		if req.AudioConfig.SpeakingRate > 0 {
			body.Speed = req.AudioConfig.SpeakingRate
		}
		if f := oaiSpeechFormat(req.AudioConfig.AudioEncoding); f != "" {
			body.ResponseFormat = f
		}
	}
	data, contentType, err := s.client.post(ctx, "/audio/speech", body)
	if err != nil {
		return Audio{}, err
	}
	if len(data) == 0 {
		return Audio{}, fmt.Errorf("empty audio from openai-compat api")
	}
	mimeType := mimeForSpeechFormat(body.ResponseFormat)
	if strings.HasPrefix(contentType, "audio/") {
		mimeType = contentType
	}
	return Audio{Data: data, MimeType: mimeType}, nil
}

func oaiSpeechFormat(encoding string) string {
	switch strings.ToUpper(strings.TrimSpace(encoding)) {
	case "MP3":
		return "mp3"
	case "LINEAR16":
		return "wav"
	case "OGG_OPUS":
		return "opus"
	case "PCM":
		return "pcm"
	default:
		return ""
	}
}

func mimeForSpeechFormat(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	case "pcm":
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}

// OpenAICompatImages implements ImageGenerator via /images/generations.
type OpenAICompatImages struct {
	client *OpenAICompatClient
	model  string
}

// NewOpenAICompatImages builds an image generator.
func NewOpenAICompatImages(client *OpenAICompatClient, model string) *OpenAICompatImages {
	return &OpenAICompatImages{client: client, model: strings.TrimSpace(model)}
}

// GenerateImage implements ImageGenerator.
func (g *OpenAICompatImages) GenerateImage(ctx context.Context, req ImageRequest) (Image, error) {
	body := oaiImageRequest{
		Model:          g.model,
		Prompt:         imagePrompt(req),
		N:              1,
		Size:           sizeForAspect(req.AspectRatio),
		ResponseFormat: "b64_json",
	}
	data, _, err := g.client.post(ctx, "/images/generations", body)
	if err != nil {
		return Image{}, err
	}
	var resp oaiImageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Image{}, fmt.Errorf("openai-compat decode: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return Image{}, fmt.Errorf("empty image from openai-compat api")
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return Image{}, fmt.Errorf("decode openai-compat image: %w", err)
	}
	return Image{Data: raw, MimeType: "image/png"}, nil
}

func sizeForAspect(aspect string) string {
	switch strings.TrimSpace(aspect) {
	case "16:9":
		return "1792x1024"
	case "9:16":
		return "1024x1792"
	default:
		return "1024x1024"
	}
}

// OpenAI-compatible request/response types.

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
}

type oaiSpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

type oaiImageRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type oaiImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
