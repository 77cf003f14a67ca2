package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"scriptstudio/pkg/domain"
)

const defaultGoogleTTSBaseURL = "https://texttospeech.googleapis.com/v1"

// GoogleTTSClient calls the Google Cloud Text-to-Speech REST API.
type GoogleTTSClient struct {
	apiKey       string
	baseURL      string
	defaultVoice domain.VoiceConfig
	httpClient   *http.Client
}

// NewGoogleTTSClient constructs a client. defaultVoice fills in fields the
// request leaves empty.
func NewGoogleTTSClient(apiKey, baseURL string, defaultVoice domain.VoiceConfig) (*GoogleTTSClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("google tts api key required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultGoogleTTSBaseURL
	}
	if defaultVoice.LanguageCode == "" {
		defaultVoice.LanguageCode = "en-US"
	}
	return &GoogleTTSClient{
		apiKey:       apiKey,
		baseURL:      baseURL,
		defaultVoice: defaultVoice,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Synthesize implements SpeechSynthesizer.
func (c *GoogleTTSClient) Synthesize(ctx context.Context, req SpeechRequest) (Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Audio{}, fmt.Errorf("speech text required")
	}
	voice := c.defaultVoice
	if req.Voice != nil {
		if req.Voice.LanguageCode != "" {
			voice.LanguageCode = req.Voice.LanguageCode
		}
		if req.Voice.Name != "" {
			voice.Name = req.Voice.Name
		}
		if req.Voice.SSMLGender != "" {
			voice.SSMLGender = req.Voice.SSMLGender
		}
	}
	audioCfg := domain.AudioConfig{AudioEncoding: "MP3"}
	if req.AudioConfig != nil {
		audioCfg = *req.AudioConfig
		if audioCfg.AudioEncoding == "" {
			audioCfg.AudioEncoding = "MP3"
		}
	}
	audioCfg.AudioEncoding = strings.ToUpper(audioCfg.AudioEncoding)

	reqBody := ttsRequest{
		Input:       ttsInput{Text: req.Text},
		Voice:       voice,
		AudioConfig: audioCfg,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Audio{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/text:synthesize", bytes.NewReader(body))
	if err != nil {
		return Audio{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Audio{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp googleErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return Audio{}, fmt.Errorf("google tts api error: %s", errResp.Error.Message)
		}
		return Audio{}, fmt.Errorf("google tts api error: %s", resp.Status)
	}
	var out ttsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Audio{}, err
	}
	if out.AudioContent == "" {
		return Audio{}, fmt.Errorf("empty audio from google tts")
	}
	data, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return Audio{}, fmt.Errorf("decode google tts audio: %w", err)
	}
	return Audio{Data: data, MimeType: MimeForEncoding(audioCfg.AudioEncoding)}, nil
}

// MimeForEncoding maps a Text-to-Speech audioEncoding to a mime type.
func MimeForEncoding(encoding string) string {
	switch strings.ToUpper(strings.TrimSpace(encoding)) {
	case "LINEAR16":
		return "audio/wav"
	case "OGG_OPUS":
		return "audio/ogg"
	case "MULAW", "ALAW":
		return "audio/basic"
	default:
		return "audio/mpeg"
	}
}

type ttsInput struct {
	Text string `json:"text"`
}

type ttsRequest struct {
	Input       ttsInput           `json:"input"`
	Voice       domain.VoiceConfig `json:"voice"`
	AudioConfig domain.AudioConfig `json:"audioConfig"`
}

type ttsResponse struct {
	AudioContent string `json:"audioContent"`
}
