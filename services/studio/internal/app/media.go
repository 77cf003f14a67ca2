package app

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"scriptstudio/internal/util"
	"scriptstudio/pkg/ai"
	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/storage"
)

// ImageRequest is the body of an image generation call.
type ImageRequest struct {
	ProjectID   string `json:"projectId"`
	Prompt      string `json:"prompt"`
	Style       string `json:"style,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
	Label       string `json:"label,omitempty"`
}

// ImageResponse is returned by GenerateImage.
type ImageResponse struct {
	ProjectID string `json:"projectId"`
	AssetID   string `json:"assetId"`
	Key       string `json:"key"`
}

// SpeechRequest is the body of a text-to-speech call.
type SpeechRequest struct {
	ProjectID   string                 `json:"projectId"`
	Sections    []domain.ScriptSection `json:"sections"`
	Voice       *domain.VoiceConfig    `json:"voice,omitempty"`
	AudioConfig *domain.AudioConfig    `json:"audioConfig,omitempty"`
}

// SpeechAsset describes one synthesized section.
type SpeechAsset struct {
	AssetID string `json:"assetId"`
	Key     string `json:"key"`
	Heading string `json:"heading,omitempty"`
}

// SpeechResponse is returned by GenerateSpeech.
type SpeechResponse struct {
	ProjectID string        `json:"projectId"`
	Assets    []SpeechAsset `json:"assets"`
}

// GenerateImage renders one image into the project's asset set.
func (a *App) GenerateImage(ctx context.Context, id domain.Identity, req ImageRequest) (ImageResponse, error) {
	if strings.TrimSpace(id.Subject) == "" {
		return ImageResponse{}, ErrUnauthorized
	}
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.ProjectID == "" {
		return ImageResponse{}, invalid("projectId required")
	}
	if req.Prompt == "" {
		return ImageResponse{}, invalid("prompt required")
	}
	user, err := a.currentUser(ctx, id)
	if err != nil {
		return ImageResponse{}, err
	}
	project, err := a.ownedProject(ctx, user, req.ProjectID)
	if err != nil {
		return ImageResponse{}, err
	}
	job, err := a.startJob(ctx, project.ID, domain.ImagePayload{
		Prompt:      req.Prompt,
		Style:       req.Style,
		AspectRatio: req.AspectRatio,
		Label:       req.Label,
	})
	if err != nil {
		return ImageResponse{}, err
	}

	img, err := a.images.GenerateImage(ctx, ai.ImageRequest{
		Prompt:      req.Prompt,
		Style:       req.Style,
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		return ImageResponse{}, a.failJob(ctx, job, err)
	}
	asset, err := a.saveAsset(ctx, project.ID, domain.AssetImage, req.Label, img.Data, img.MimeType)
	if err != nil {
		return ImageResponse{}, a.failJob(ctx, job, err)
	}
	if err := a.succeedJob(ctx, job, domain.ImageResult{AssetID: asset.ID, StorageKey: asset.StorageKey}); err != nil {
		return ImageResponse{}, err
	}
	return ImageResponse{ProjectID: project.ID, AssetID: asset.ID, Key: asset.StorageKey}, nil
}

// GenerateSpeech synthesizes each section in order. The first failing section
// fails the job; assets written before it are kept.
func (a *App) GenerateSpeech(ctx context.Context, id domain.Identity, req SpeechRequest) (SpeechResponse, error) {
	if strings.TrimSpace(id.Subject) == "" {
		return SpeechResponse{}, ErrUnauthorized
	}
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if req.ProjectID == "" {
		return SpeechResponse{}, invalid("projectId required")
	}
	if len(req.Sections) == 0 {
		return SpeechResponse{}, invalid("sections required")
	}
	user, err := a.currentUser(ctx, id)
	if err != nil {
		return SpeechResponse{}, err
	}
	project, err := a.ownedProject(ctx, user, req.ProjectID)
	if err != nil {
		return SpeechResponse{}, err
	}
	job, err := a.startJob(ctx, project.ID, domain.SpeechPayload{
		Sections:    req.Sections,
		Voice:       req.Voice,
		AudioConfig: req.AudioConfig,
	})
	if err != nil {
		return SpeechResponse{}, err
	}

	out := SpeechResponse{ProjectID: project.ID, Assets: make([]SpeechAsset, 0, len(req.Sections))}
	assetIDs := make([]string, 0, len(req.Sections))
	for i, section := range req.Sections {
		if strings.TrimSpace(section.Text) == "" {
			return SpeechResponse{}, a.failJob(ctx, job, fmt.Errorf("section %d: text required", i+1))
		}
		audio, err := a.speech.Synthesize(ctx, ai.SpeechRequest{
			Text:        section.Text,
			Voice:       req.Voice,
			AudioConfig: req.AudioConfig,
		})
		if err != nil {
			return SpeechResponse{}, a.failJob(ctx, job, fmt.Errorf("section %d: %w", i+1, err))
		}
		label := section.Heading
		if label == "" {
			label = section.ID
		}
		asset, err := a.saveAsset(ctx, project.ID, domain.AssetAudio, label, audio.Data, audio.MimeType)
		if err != nil {
			return SpeechResponse{}, a.failJob(ctx, job, fmt.Errorf("section %d: %w", i+1, err))
		}
		assetIDs = append(assetIDs, asset.ID)
		out.Assets = append(out.Assets, SpeechAsset{AssetID: asset.ID, Key: asset.StorageKey, Heading: section.Heading})
	}
	if err := a.succeedJob(ctx, job, domain.SpeechResult{AssetIDs: assetIDs}); err != nil {
		return SpeechResponse{}, err
	}
	return out, nil
}

// saveAsset uploads data and records the asset row.
func (a *App) saveAsset(ctx context.Context, projectID string, kind domain.AssetType, label string, data []byte, mimeType string) (domain.Asset, error) {
	if len(data) == 0 {
		return domain.Asset{}, fmt.Errorf("provider returned no %s data", kind)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	assetID := uuid.NewString()
	key := storage.AssetKey(projectID, assetFolder(kind), assetID, mimeType)
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), mimeType); err != nil {
		return domain.Asset{}, fmt.Errorf("upload %s: %w", kind, err)
	}
	asset, err := a.store.CreateAsset(ctx, domain.Asset{
		ID:         assetID,
		ProjectID:  projectID,
		Type:       kind,
		Label:      label,
		StorageKey: key,
		MimeType:   mimeType,
		SizeBytes:  int64(len(data)),
	})
	if err != nil {
		if delErr := a.objects.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			util.LoggerFromContext(ctx).Error("asset cleanup failed", "project_id", projectID, "key", key, "err", delErr)
		}
		return domain.Asset{}, fmt.Errorf("save asset: %w", err)
	}
	return asset, nil
}

func assetFolder(kind domain.AssetType) string {
	switch kind {
	case domain.AssetImage:
		return "images"
	case domain.AssetExport:
		return "exports"
	default:
		return "audio"
	}
}
