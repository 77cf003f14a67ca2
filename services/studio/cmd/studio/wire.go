package main

import (
	"context"
	"fmt"

	"scriptstudio/pkg/ai"
	"scriptstudio/pkg/cache"
	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/events"
	"scriptstudio/pkg/store"
	"scriptstudio/services/studio/internal/config"
)

func buildStore(cfg config.FileConfig) (store.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		return store.NewMemoryStore(), func() {}, nil
	}
	s, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func buildCache(ctx context.Context, cfg config.FileConfig) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryCache(), nil
	}
	c := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := c.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return c, nil
}

type providerSet struct {
	scripts ai.ScriptGenerator
	speech  ai.SpeechSynthesizer
	images  ai.ImageGenerator
}

func buildProviders(cfg config.FileConfig) (providerSet, error) {
	var (
		gemini *ai.GeminiClient
		openai *ai.OpenAICompatClient
		err    error
	)
	if cfg.GeminiAPIKey != "" {
		gemini, err = ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiBaseURL)
		if err != nil {
			return providerSet{}, err
		}
	}
	if cfg.OpenAIBaseURL != "" {
		openai = ai.NewOpenAICompatClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey)
	}

	var out providerSet
	switch cfg.TextProvider {
	case "gemini":
		out.scripts = ai.NewScriptWriter(ai.NewGeminiGenerator(gemini, modelOr(cfg.TextModel, "gemini-2.0-flash")), "gemini")
	case "ollama":
		out.scripts = ai.NewScriptWriter(ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.OllamaURL), modelOr(cfg.TextModel, "llama3.1")), "ollama")
	case "openai":
		out.scripts = ai.NewScriptWriter(ai.NewOpenAICompatGenerator(openai, modelOr(cfg.TextModel, "gpt-4o-mini")), "openai")
	default:
		return providerSet{}, fmt.Errorf("unknown text provider %q", cfg.TextProvider)
	}

	switch cfg.SpeechProvider {
	case "google":
		key := cfg.GoogleTTSAPIKey
		if key == "" {
			key = cfg.GeminiAPIKey
		}
		tts, err := ai.NewGoogleTTSClient(key, "", domain.VoiceConfig{
			LanguageCode: cfg.SpeechLanguage,
			Name:         cfg.SpeechVoice,
		})
		if err != nil {
			return providerSet{}, err
		}
		out.speech = tts
	case "openai":
		out.speech = ai.NewOpenAICompatSpeech(openai, modelOr(cfg.SpeechModel, "tts-1"), cfg.SpeechVoice)
	default:
		return providerSet{}, fmt.Errorf("unknown speech provider %q", cfg.SpeechProvider)
	}

	switch cfg.ImageProvider {
	case "gemini":
		out.images = ai.NewGeminiImageGenerator(gemini, modelOr(cfg.ImageModel, "imagen-3.0-generate-002"))
	case "openai":
		out.images = ai.NewOpenAICompatImages(openai, modelOr(cfg.ImageModel, "dall-e-3"))
	default:
		return providerSet{}, fmt.Errorf("unknown image provider %q", cfg.ImageProvider)
	}
	return out, nil
}

func buildEvents(cfg config.FileConfig) (events.Publisher, error) {
	switch cfg.EventsDriver {
	case "redis":
		return events.NewRedisStreamPublisher(events.RedisStreamConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.EventsStream,
		})
	case "amqp":
		return events.NewAMQPPublisher(events.AMQPConfig{URL: cfg.AMQPURL, Exchange: cfg.EventsExchange})
	default:
		return events.NopPublisher{}, nil
	}
}

func modelOr(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}
