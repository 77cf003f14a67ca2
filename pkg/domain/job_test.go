package domain

import (
	"encoding/json"
	"testing"
)

func TestDecodeJobPayloadRestoresVariant(t *testing.T) {
	raw, err := EncodeJobPayload(SpeechPayload{
		Sections: []ScriptSection{{Heading: "Intro", Text: "hello"}},
		Voice:    &VoiceConfig{LanguageCode: "en-US"},
	})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	got, err := DecodeJobPayload(JobTTS, raw)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	p, ok := got.(SpeechPayload)
	if !ok {
		t.Fatalf("expected SpeechPayload, got %T", got)
	}
	if len(p.Sections) != 1 || p.Sections[0].Text != "hello" || p.Voice == nil || p.Voice.LanguageCode != "en-US" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestDecodeJobResultEmpty(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte("null")} {
		got, err := DecodeJobResult(JobScript, raw)
		if err != nil || got != nil {
			t.Fatalf("expected nil result for %q, got %v err=%v", raw, got, err)
		}
	}
}

func TestDecodeJobPayloadUnknownType(t *testing.T) {
	if _, err := DecodeJobPayload(JobType("video"), []byte(`{}`)); err == nil {
		t.Fatalf("expected unknown job type to fail")
	}
}

func TestJobStatusTerminal(t *testing.T) {
	if JobRunning.Terminal() || JobQueued.Terminal() {
		t.Fatalf("running/queued must not be terminal")
	}
	if !JobSucceeded.Terminal() || !JobFailed.Terminal() {
		t.Fatalf("succeeded/failed must be terminal")
	}
}

func TestGenerationJobJSONKeepsVariants(t *testing.T) {
	job := GenerationJob{
		ID:      "j1",
		Type:    JobImage,
		Status:  JobSucceeded,
		Payload: ImagePayload{Prompt: "fox", Label: "cover"},
		Result:  ImageResult{AssetID: "a1", StorageKey: "projects/p/images/a1.png"},
	}
	raw, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got GenerationJob
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p, ok := got.Payload.(ImagePayload); !ok || p.Prompt != "fox" {
		t.Fatalf("unexpected payload %#v", got.Payload)
	}
	if r, ok := got.Result.(ImageResult); !ok || r.AssetID != "a1" {
		t.Fatalf("unexpected result %#v", got.Result)
	}
	if got.ID != "j1" || got.Status != JobSucceeded {
		t.Fatalf("unexpected job %+v", got)
	}

	var running GenerationJob
	if err := json.Unmarshal([]byte(`{"id":"j2","type":"tts","status":"running"}`), &running); err != nil {
		t.Fatalf("unmarshal running job: %v", err)
	}
	if running.Payload != nil || running.Result != nil {
		t.Fatalf("expected empty variants, got %+v", running)
	}
}
