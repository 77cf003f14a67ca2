package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type JobType string

const (
	JobScript JobType = "script"
	JobTTS    JobType = "tts"
	JobImage  JobType = "image"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// GenerationJob records one provider invocation. Payload and Result always
// carry the variant matching Type.
type GenerationJob struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Type      JobType    `json:"type"`
	Status    JobStatus  `json:"status"`
	Payload   JobPayload `json:"payload,omitempty"`
	Result    JobResult  `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// UnmarshalJSON restores the typed payload and result from their JSON form.
func (j *GenerationJob) UnmarshalJSON(data []byte) error {
	type plain GenerationJob
	aux := struct {
		*plain
		Payload json.RawMessage `json:"payload,omitempty"`
		Result  json.RawMessage `json:"result,omitempty"`
	}{plain: (*plain)(j)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	payload, err := DecodeJobPayload(j.Type, aux.Payload)
	if err != nil {
		return err
	}
	result, err := DecodeJobResult(j.Type, aux.Result)
	if err != nil {
		return err
	}
	j.Payload = payload
	j.Result = result
	return nil
}

// JobPayload is the request-side half of a job.
type JobPayload interface {
	JobType() JobType
}

// JobResult is the outcome half of a succeeded job.
type JobResult interface {
	JobType() JobType
}

type ScriptPayload struct {
	Topic         string `json:"topic"`
	Persona       string `json:"persona,omitempty"`
	LengthMinutes int    `json:"lengthMinutes,omitempty"`
	Language      string `json:"language,omitempty"`
	CacheKey      string `json:"cacheKey"`
	Regenerate    bool   `json:"regenerate,omitempty"`
}

func (ScriptPayload) JobType() JobType { return JobScript }

type ScriptResult struct {
	VersionID string `json:"versionId"`
	Version   int    `json:"version"`
	Sections  int    `json:"sections"`
	Provider  string `json:"provider,omitempty"`
}

func (ScriptResult) JobType() JobType { return JobScript }

type SpeechPayload struct {
	Sections    []ScriptSection `json:"sections"`
	Voice       *VoiceConfig    `json:"voice,omitempty"`
	AudioConfig *AudioConfig    `json:"audioConfig,omitempty"`
}

func (SpeechPayload) JobType() JobType { return JobTTS }

type SpeechResult struct {
	AssetIDs []string `json:"assetIds"`
}

func (SpeechResult) JobType() JobType { return JobTTS }

type ImagePayload struct {
	Prompt      string `json:"prompt"`
	Style       string `json:"style,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
	Label       string `json:"label,omitempty"`
}

func (ImagePayload) JobType() JobType { return JobImage }

type ImageResult struct {
	AssetID    string `json:"assetId"`
	StorageKey string `json:"storageKey"`
}

func (ImageResult) JobType() JobType { return JobImage }

// VoiceConfig selects a synthesis voice.
type VoiceConfig struct {
	LanguageCode string `json:"languageCode,omitempty"`
	Name         string `json:"name,omitempty"`
	SSMLGender   string `json:"ssmlGender,omitempty"`
}

// AudioConfig tunes synthesized audio output.
type AudioConfig struct {
	AudioEncoding string  `json:"audioEncoding,omitempty"`
	SpeakingRate  float64 `json:"speakingRate,omitempty"`
	Pitch         float64 `json:"pitch,omitempty"`
}

// EncodeJobPayload serializes a payload for storage.
func EncodeJobPayload(p JobPayload) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return json.Marshal(p)
}

// DecodeJobPayload restores the payload variant for the given job type.
func DecodeJobPayload(t JobType, raw []byte) (JobPayload, error) {
	if isEmptyJSON(raw) {
		return nil, nil
	}
	switch t {
	case JobScript:
		var p ScriptPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode script payload: %w", err)
		}
		return p, nil
	case JobTTS:
		var p SpeechPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode tts payload: %w", err)
		}
		return p, nil
	case JobImage:
		var p ImagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode image payload: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown job type %q", t)
	}
}

// EncodeJobResult serializes a result for storage.
func EncodeJobResult(r JobResult) ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return json.Marshal(r)
}

// DecodeJobResult restores the result variant for the given job type.
func DecodeJobResult(t JobType, raw []byte) (JobResult, error) {
	if isEmptyJSON(raw) {
		return nil, nil
	}
	switch t {
	case JobScript:
		var r ScriptResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode script result: %w", err)
		}
		return r, nil
	case JobTTS:
		var r SpeechResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode tts result: %w", err)
		}
		return r, nil
	case JobImage:
		var r ImageResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode image result: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown job type %q", t)
	}
}

func isEmptyJSON(raw []byte) bool {
	s := string(raw)
	return s == "" || s == "null"
}
