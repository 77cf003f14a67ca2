package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"scriptstudio/internal/util"
	"scriptstudio/pkg/ai"
	"scriptstudio/pkg/cache"
	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/events"
	"scriptstudio/pkg/storage"
	"scriptstudio/pkg/store"
)

type stubScripts struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (s *stubScripts) GenerateScript(_ context.Context, req ai.ScriptRequest) (domain.Script, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return domain.Script{}, s.err
	}
	return domain.Script{
		Title:    "All about " + req.Topic,
		Sections: []domain.ScriptSection{{Heading: "Intro", Text: "Plants make food from light."}},
		Provider: "stub",
	}, nil
}

type stubSpeech struct {
	calls int
	err   error
}

func (s *stubSpeech) Synthesize(_ context.Context, req ai.SpeechRequest) (ai.Audio, error) {
	s.calls++
	if s.err != nil {
		return ai.Audio{}, s.err
	}
	return ai.Audio{Data: []byte("audio:" + req.Text), MimeType: "audio/mpeg"}, nil
}

type stubImages struct {
	err error
}

func (s *stubImages) GenerateImage(_ context.Context, _ ai.ImageRequest) (ai.Image, error) {
	if s.err != nil {
		return ai.Image{}, s.err
	}
	return ai.Image{Data: []byte{0x89, 'P', 'N', 'G'}, MimeType: "image/png"}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.JobEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	app     *App
	store   *store.MemoryStore
	objects *storage.MemoryStore
	scripts *stubScripts
	speech  *stubSpeech
	images  *stubImages
	events  *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewMemoryStore(),
		objects: storage.NewMemoryStore(),
		scripts: &stubScripts{},
		speech:  &stubSpeech{},
		images:  &stubImages{},
		events:  &recordingPublisher{},
	}
	a, err := New(Config{
		Store:   f.store,
		Cache:   cache.NewMemoryCache(),
		Objects: f.objects,
		Scripts: f.scripts,
		Speech:  f.speech,
		Images:  f.images,
		Events:  f.events,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	f.app = a
	return f
}

var (
	alice = domain.Identity{Subject: "alice", Email: "alice@example.com", Name: "Alice"}
	bob   = domain.Identity{Subject: "bob", Email: "bob@example.com"}
)

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestGenerateScriptForFreshUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "Photosynthesis basics"})
	if err != nil {
		t.Fatalf("generate script: %v", err)
	}
	if resp.Cached || resp.Result.Version != 1 || resp.Result.VersionID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	projects, versions, assets, jobs := f.store.Counts()
	if projects != 1 || versions != 1 || assets != 0 || jobs != 1 {
		t.Fatalf("unexpected counts projects=%d versions=%d assets=%d jobs=%d", projects, versions, assets, jobs)
	}

	project, ok, _ := f.store.GetProject(ctx, resp.ProjectID)
	if !ok || project.Status != domain.ProjectReady {
		t.Fatalf("expected ready project, got %+v", project)
	}
	if project.Title != "All about Photosynthesis basics" {
		t.Fatalf("expected title from script, got %q", project.Title)
	}
	jobList, _ := f.store.ListJobs(ctx, resp.ProjectID)
	if jobList[0].Status != domain.JobSucceeded {
		t.Fatalf("expected succeeded job, got %s", jobList[0].Status)
	}
	result, ok := jobList[0].Result.(domain.ScriptResult)
	if !ok || result.Version != 1 || result.Sections != 1 {
		t.Fatalf("unexpected job result %#v", jobList[0].Result)
	}
	if len(f.events.events) != 2 || f.events.events[0].Type != events.TypeJobStarted || f.events.events[1].Status != domain.JobSucceeded {
		t.Fatalf("unexpected events %+v", f.events.events)
	}
}

func TestGenerateScriptCacheHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "Photosynthesis basics", Persona: "narrator"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	for _, projectID := range []string{first.ProjectID, ""} {
		second, err := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "  photosynthesis   BASICS ", Persona: "narrator", ProjectID: projectID})
		if err != nil {
			t.Fatalf("second (projectId=%q): %v", projectID, err)
		}
		if !second.Cached || second.ProjectID != first.ProjectID {
			t.Fatalf("expected cached response for the first project, got %+v", second)
		}
		if !reflect.DeepEqual(second.Result, first.Result) {
			t.Fatalf("expected the first result, got %+v want %+v", second.Result, first.Result)
		}
	}
	if f.scripts.calls.Load() != 1 {
		t.Fatalf("expected one provider call, got %d", f.scripts.calls.Load())
	}
	projects, versions, _, jobs := f.store.Counts()
	if projects != 1 || versions != 1 || jobs != 1 {
		t.Fatalf("cache hit must not write: projects=%d versions=%d jobs=%d", projects, versions, jobs)
	}
}

func TestGenerateScriptCacheHitForAnotherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "Volcanoes"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	other, err := f.app.GenerateScript(ctx, bob, ScriptRequest{Topic: "volcanoes"})
	if err != nil {
		t.Fatalf("bob: %v", err)
	}
	if !other.Cached || other.ProjectID == first.ProjectID || other.Result.VersionID == first.Result.VersionID {
		t.Fatalf("expected cached script in bob's own project, got %+v", other)
	}
	if other.Result.Version != 1 || !reflect.DeepEqual(other.Result.Script, first.Result.Script) {
		t.Fatalf("unexpected copied result %+v", other.Result)
	}
	if f.scripts.calls.Load() != 1 {
		t.Fatalf("expected one provider call, got %d", f.scripts.calls.Load())
	}
	project, ok, _ := f.store.GetProject(ctx, other.ProjectID)
	if !ok || project.Status != domain.ProjectReady {
		t.Fatalf("expected ready project for bob, got %+v", project)
	}
	jobs, _ := f.store.ListJobs(ctx, other.ProjectID)
	if len(jobs) != 0 {
		t.Fatalf("cache hit must not create a job, got %d", len(jobs))
	}
}

func TestGenerateScriptRegenerateBypassesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "Tides"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "Tides", ProjectID: first.ProjectID, Regenerate: true})
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if second.Cached || second.Result.Version != 2 {
		t.Fatalf("expected fresh version 2, got %+v", second)
	}
	if f.scripts.calls.Load() != 2 {
		t.Fatalf("expected two provider calls, got %d", f.scripts.calls.Load())
	}
}

func TestGenerateScriptProviderFailureRecordedOnJob(t *testing.T) {
	f := newFixture(t)
	f.scripts.err = errors.New("upstream 503: model overloaded")
	ctx := context.Background()

	_, err := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "Volcanoes"})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	projects, _ := f.app.ListProjects(ctx, alice)
	if len(projects) != 1 || projects[0].Status != domain.ProjectDraft {
		t.Fatalf("expected one draft project, got %+v", projects)
	}
	jobs, _ := f.store.ListJobs(ctx, projects[0].ID)
	if len(jobs) != 1 || jobs[0].Status != domain.JobFailed || !strings.Contains(jobs[0].Error, "model overloaded") {
		t.Fatalf("expected failed job with provider error, got %+v", jobs)
	}

	// failures are not cached
	f.scripts.err = nil
	resp, err := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "Volcanoes", ProjectID: projects[0].ID})
	if err != nil || resp.Cached {
		t.Fatalf("expected fresh generation after failure, resp=%+v err=%v", resp, err)
	}
}

func TestGenerateScriptSharesInFlightProviderCall(t *testing.T) {
	f := newFixture(t)
	f.scripts.release = make(chan struct{})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]ScriptResponse, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "Comets"})
		}(i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, _, _, jobs := f.store.Counts()
		if jobs == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for both jobs")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(f.scripts.release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if f.scripts.calls.Load() != 1 {
		t.Fatalf("expected a single provider call, got %d", f.scripts.calls.Load())
	}
	_, versions, _, _ := f.store.Counts()
	if versions != 2 {
		t.Fatalf("expected each request to record its own version, got %d", versions)
	}
}

func TestGenerateScriptValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "   "})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.app.GenerateScript(ctx, domain.Identity{}, ScriptRequest{Topic: "x"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "x", ProjectID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGenerationRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	owned, err := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "Glaciers"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	projects, versions, assets, jobs := f.store.Counts()

	cases := []struct {
		name string
		call func() error
	}{
		{"script", func() error {
			_, err := f.app.GenerateScript(ctx, bob, ScriptRequest{Topic: "Glaciers", ProjectID: owned.ProjectID, Regenerate: true})
			return err
		}},
		{"image", func() error {
			_, err := f.app.GenerateImage(ctx, bob, ImageRequest{ProjectID: owned.ProjectID, Prompt: "ice"})
			return err
		}},
		{"tts", func() error {
			_, err := f.app.GenerateSpeech(ctx, bob, SpeechRequest{ProjectID: owned.ProjectID, Sections: []domain.ScriptSection{{Text: "hi"}}})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, ErrForbidden) {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}
		})
	}

	p2, v2, a2, j2 := f.store.Counts()
	if p2 != projects || v2 != versions || a2 != assets || j2 != jobs {
		t.Fatalf("forbidden requests must not write: before=%d/%d/%d/%d after=%d/%d/%d/%d",
			projects, versions, assets, jobs, p2, v2, a2, j2)
	}
	if f.scripts.calls.Load() != 1 || f.speech.calls != 0 {
		t.Fatalf("forbidden requests must not reach providers")
	}
}

func TestGenerateSpeechStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed, err := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "Rivers"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err = f.app.GenerateSpeech(ctx, alice, SpeechRequest{
		ProjectID: seed.ProjectID,
		Sections: []domain.ScriptSection{
			{Heading: "One", Text: "First section."},
			{Heading: "Two", Text: ""},
			{Heading: "Three", Text: "Third section."},
		},
	})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if f.speech.calls != 1 {
		t.Fatalf("expected synthesis to stop after first section, got %d calls", f.speech.calls)
	}
	assets, _ := f.store.ListAssets(ctx, seed.ProjectID)
	if len(assets) != 1 || assets[0].Label != "One" || assets[0].MimeType != "audio/mpeg" {
		t.Fatalf("expected one audio asset for the first section, got %+v", assets)
	}
	if f.objects.Len() != 1 {
		t.Fatalf("expected written audio to stay in storage, got %d objects", f.objects.Len())
	}
	jobs, _ := f.store.ListJobs(ctx, seed.ProjectID)
	if jobs[0].Type != domain.JobTTS || jobs[0].Status != domain.JobFailed {
		t.Fatalf("expected failed tts job, got %+v", jobs[0])
	}
}

// ctxStore fails terminal job writes once the context is done, like the
// database-backed store does.
type ctxStore struct {
	*store.MemoryStore
}

func (s ctxStore) FinishJob(ctx context.Context, id string, status domain.JobStatus, result domain.JobResult, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.FinishJob(ctx, id, status, result, errMsg)
}

type cancellingSpeech struct {
	cancel context.CancelFunc
}

func (s cancellingSpeech) Synthesize(ctx context.Context, _ ai.SpeechRequest) (ai.Audio, error) {
	s.cancel()
	return ai.Audio{}, ctx.Err()
}

func TestGenerateSpeechClientGoneStillFinishesJob(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := New(Config{
		Store:   ctxStore{mem},
		Objects: storage.NewMemoryStore(),
		Scripts: &stubScripts{},
		Speech:  cancellingSpeech{cancel: cancel},
		Images:  &stubImages{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	seed, err := a.GenerateScript(context.Background(), alice, ScriptRequest{Topic: "Tides"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err = a.GenerateSpeech(ctx, alice, SpeechRequest{
		ProjectID: seed.ProjectID,
		Sections:  []domain.ScriptSection{{Heading: "One", Text: "First section."}},
	})
	if !errors.Is(err, ErrGenerationFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected generation failure caused by cancellation, got %v", err)
	}
	jobs, _ := mem.ListJobs(context.Background(), seed.ProjectID)
	if len(jobs) != 2 {
		t.Fatalf("expected script and tts jobs, got %d", len(jobs))
	}
	for _, job := range jobs {
		if !job.Status.Terminal() {
			t.Fatalf("job %s left in %s", job.Type, job.Status)
		}
	}
	if jobs[0].Type != domain.JobTTS || jobs[0].Status != domain.JobFailed || jobs[0].Error == "" {
		t.Fatalf("expected failed tts job with error, got %+v", jobs[0])
	}
}

func TestGenerateSpeech(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed, _ := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "Rivers"})

	resp, err := f.app.GenerateSpeech(ctx, alice, SpeechRequest{
		ProjectID: seed.ProjectID,
		Sections:  []domain.ScriptSection{{Heading: "One", Text: "a"}, {ID: "s2", Text: "b"}},
		Voice:     &domain.VoiceConfig{LanguageCode: "en-GB"},
	})
	if err != nil {
		t.Fatalf("generate speech: %v", err)
	}
	if len(resp.Assets) != 2 || !strings.HasPrefix(resp.Assets[0].Key, "projects/"+seed.ProjectID+"/audio/") {
		t.Fatalf("unexpected response %+v", resp)
	}
	obj, ok := f.objects.Get(resp.Assets[1].Key)
	if !ok || string(obj.Data) != "audio:b" {
		t.Fatalf("expected stored audio, got %+v", obj)
	}
	if _, err := f.app.GenerateSpeech(ctx, alice, SpeechRequest{ProjectID: seed.ProjectID}); err == nil {
		t.Fatalf("expected validation error for empty sections")
	}
}

func TestGenerateImageAndReadPaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed, _ := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "Deserts"})

	img, err := f.app.GenerateImage(ctx, alice, ImageRequest{ProjectID: seed.ProjectID, Prompt: "dunes", Label: "cover"})
	if err != nil {
		t.Fatalf("generate image: %v", err)
	}
	if !strings.HasSuffix(img.Key, img.AssetID+".png") || !strings.Contains(img.Key, "/images/") {
		t.Fatalf("unexpected key %q", img.Key)
	}

	detail, err := f.app.ProjectDetail(ctx, alice, seed.ProjectID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail.Versions) != 1 || len(detail.Assets) != 1 || len(detail.Jobs) != 2 {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if detail.Assets[0].SizeBytes != 4 || detail.Assets[0].Label != "cover" {
		t.Fatalf("unexpected asset %+v", detail.Assets[0])
	}
	if _, err := f.app.ProjectDetail(ctx, bob, seed.ProjectID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	url, ttl, err := f.app.AssetURL(ctx, alice, img.AssetID)
	if err != nil {
		t.Fatalf("asset url: %v", err)
	}
	if !strings.HasPrefix(url, "memory://") || ttl != 15*time.Minute {
		t.Fatalf("unexpected url %q ttl %v", url, ttl)
	}
	if _, _, err := f.app.AssetURL(ctx, bob, img.AssetID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, _, err := f.app.AssetURL(ctx, alice, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGenerateImageProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.images.err = errors.New("safety filter")
	ctx := context.Background()
	seed, _ := f.app.GenerateScript(ctx, alice, ScriptRequest{Topic: "Storms"})

	if _, err := f.app.GenerateImage(ctx, alice, ImageRequest{ProjectID: seed.ProjectID, Prompt: "lightning"}); !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if f.objects.Len() != 0 {
		t.Fatalf("expected nothing stored")
	}
}

type rejectingAssets struct {
	*store.MemoryStore
}

func (rejectingAssets) CreateAsset(context.Context, domain.Asset) (domain.Asset, error) {
	return domain.Asset{}, errors.New("assets table unavailable")
}

type stuckObjects struct {
	*storage.MemoryStore
}

func (stuckObjects) Delete(context.Context, string) error {
	return errors.New("bucket read-only")
}

func TestSaveAssetLogsCleanupFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	a, err := New(Config{
		Store:   rejectingAssets{mem},
		Objects: stuckObjects{storage.NewMemoryStore()},
		Scripts: &stubScripts{},
		Speech:  &stubSpeech{},
		Images:  &stubImages{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	seed, err := a.GenerateScript(context.Background(), alice, ScriptRequest{Topic: "Glaciers"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var buf bytes.Buffer
	ctx := util.ContextWithLogger(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
	if _, err := a.GenerateImage(ctx, alice, ImageRequest{ProjectID: seed.ProjectID, Prompt: "ice"}); !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	logs := buf.String()
	if !strings.Contains(logs, "asset cleanup failed") || !strings.Contains(logs, "bucket read-only") {
		t.Fatalf("expected cleanup failure in logs, got %s", logs)
	}
}

func TestScriptCacheKey(t *testing.T) {
	base := ScriptCacheKey(ScriptRequest{Topic: "Black holes", Persona: "narrator", LengthMinutes: 5, Language: "en"})
	if !strings.HasPrefix(base, "script:v2:") || len(base) != len("script:v2:")+64 {
		t.Fatalf("unexpected key format %q", base)
	}
	same := ScriptCacheKey(ScriptRequest{Topic: "  BLACK\tholes ", Persona: "narrator", LengthMinutes: 5, Language: "en", ProjectID: "p", Regenerate: true})
	if same != base {
		t.Fatalf("expected normalized topic and ignored fields to share a key")
	}
	for _, req := range []ScriptRequest{
		{Topic: "Black holes", Persona: "pirate", LengthMinutes: 5, Language: "en"},
		{Topic: "Black holes", Persona: "narrator", LengthMinutes: 6, Language: "en"},
		{Topic: "Black holes", Persona: "narrator", LengthMinutes: 5, Language: "de"},
	} {
		if ScriptCacheKey(req) == base {
			t.Fatalf("expected distinct key for %+v", req)
		}
	}
}
