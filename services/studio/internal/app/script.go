package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"scriptstudio/internal/util"
	"scriptstudio/pkg/ai"
	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/store"
)

const scriptCachePrefix = "script:v2:"

// ScriptRequest is the body of a script generation call.
type ScriptRequest struct {
	Topic         string `json:"topic"`
	Persona       string `json:"persona,omitempty"`
	LengthMinutes int    `json:"lengthMinutes,omitempty"`
	Language      string `json:"language,omitempty"`
	ProjectID     string `json:"projectId,omitempty"`
	Regenerate    bool   `json:"regenerate,omitempty"`
}

// ScriptOutput is a generated script and the version it was stored as.
type ScriptOutput struct {
	VersionID string        `json:"versionId,omitempty"`
	Version   int           `json:"version,omitempty"`
	Script    domain.Script `json:"script"`
}

// cachedScript is the cache entry written after a successful generation.
type cachedScript struct {
	ProjectID string       `json:"projectId"`
	Result    ScriptOutput `json:"result"`
}

// ScriptResponse is returned by GenerateScript.
type ScriptResponse struct {
	ProjectID string       `json:"projectId"`
	Cached    bool         `json:"cached"`
	Result    ScriptOutput `json:"result"`
}

// GenerateScript writes a script for the caller, reusing a cached result for
// an equivalent request unless Regenerate is set.
func (a *App) GenerateScript(ctx context.Context, id domain.Identity, req ScriptRequest) (ScriptResponse, error) {
	if strings.TrimSpace(id.Subject) == "" {
		return ScriptResponse{}, ErrUnauthorized
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		return ScriptResponse{}, invalid("topic required")
	}
	if req.LengthMinutes < 0 {
		return ScriptResponse{}, invalid("lengthMinutes must not be negative")
	}
	user, err := a.currentUser(ctx, id)
	if err != nil {
		return ScriptResponse{}, err
	}

	key := ScriptCacheKey(req)
	if !req.Regenerate {
		if entry, ok := a.cachedScript(ctx, key); ok {
			return a.serveCached(ctx, user, req, key, entry)
		}
	}

	project, err := a.scriptProject(ctx, user, req)
	if err != nil {
		return ScriptResponse{}, err
	}

	job, err := a.startJob(ctx, project.ID, domain.ScriptPayload{
		Topic:         req.Topic,
		Persona:       req.Persona,
		LengthMinutes: req.LengthMinutes,
		Language:      req.Language,
		CacheKey:      key,
		Regenerate:    req.Regenerate,
	})
	if err != nil {
		return ScriptResponse{}, err
	}

	script, err := a.writeScript(ctx, key, req)
	if err != nil {
		return ScriptResponse{}, a.failJob(ctx, job, err)
	}
	version, err := a.store.AppendVersion(ctx, domain.ProjectVersion{
		ProjectID:     project.ID,
		Sections:      script.Sections,
		Outline:       script.Outline,
		SEO:           script.SEO,
		GeneratedWith: script.Provider,
	})
	if err != nil {
		return ScriptResponse{}, a.failJob(ctx, job, fmt.Errorf("append version: %w", err))
	}
	if err := a.markReady(ctx, project.ID, script.Title, req); err != nil {
		return ScriptResponse{}, a.failJob(ctx, job, err)
	}
	out := ScriptOutput{VersionID: version.ID, Version: version.Version, Script: script}
	a.storeScript(ctx, key, cachedScript{ProjectID: project.ID, Result: out})
	if err := a.succeedJob(ctx, job, domain.ScriptResult{
		VersionID: version.ID,
		Version:   version.Version,
		Sections:  len(script.Sections),
		Provider:  script.Provider,
	}); err != nil {
		return ScriptResponse{}, err
	}
	return ScriptResponse{ProjectID: project.ID, Result: out}, nil
}

// serveCached answers a cache hit without a job or a provider call. The first
// result is returned as is when its project belongs to the caller. Otherwise
// the cached script is stored as a new version of the caller's project, so no
// caller ever receives ids from another user's project.
func (a *App) serveCached(ctx context.Context, user domain.User, req ScriptRequest, key string, entry cachedScript) (ScriptResponse, error) {
	logger := util.LoggerFromContext(ctx)
	var project domain.Project
	if projectID := strings.TrimSpace(req.ProjectID); projectID != "" {
		p, err := a.ownedProject(ctx, user, projectID)
		if err != nil {
			return ScriptResponse{}, err
		}
		project = p
	}

	origin, ok, err := a.store.GetProject(ctx, entry.ProjectID)
	if err != nil {
		return ScriptResponse{}, fmt.Errorf("load project: %w", err)
	}
	if ok && origin.UserID == user.ID {
		if project.ID == "" {
			project = origin
		}
		logger.Info("script cache hit", "project_id", project.ID, "cache_key", key)
		return ScriptResponse{ProjectID: project.ID, Cached: true, Result: entry.Result}, nil
	}

	script := entry.Result.Script
	if project.ID == "" {
		project, err = a.store.CreateProject(ctx, domain.Project{
			UserID:       user.ID,
			Title:        req.Topic,
			Topic:        req.Topic,
			TargetLength: req.LengthMinutes,
			Status:       domain.ProjectDraft,
		})
		if err != nil {
			return ScriptResponse{}, fmt.Errorf("create project: %w", err)
		}
	}
	version, err := a.store.AppendVersion(ctx, domain.ProjectVersion{
		ProjectID:     project.ID,
		Sections:      script.Sections,
		Outline:       script.Outline,
		SEO:           script.SEO,
		GeneratedWith: script.Provider,
	})
	if err != nil {
		return ScriptResponse{}, fmt.Errorf("append version: %w", err)
	}
	if err := a.markReady(ctx, project.ID, script.Title, req); err != nil {
		return ScriptResponse{}, err
	}
	logger.Info("script cache hit copied", "project_id", project.ID, "cache_key", key)
	return ScriptResponse{
		ProjectID: project.ID,
		Cached:    true,
		Result:    ScriptOutput{VersionID: version.ID, Version: version.Version, Script: script},
	}, nil
}

// scriptProject resolves the target project, creating a draft when none is named.
func (a *App) scriptProject(ctx context.Context, user domain.User, req ScriptRequest) (domain.Project, error) {
	if projectID := strings.TrimSpace(req.ProjectID); projectID != "" {
		return a.ownedProject(ctx, user, projectID)
	}
	project, err := a.store.CreateProject(ctx, domain.Project{
		UserID:       user.ID,
		Title:        req.Topic,
		Topic:        req.Topic,
		TargetLength: req.LengthMinutes,
		Status:       domain.ProjectDraft,
	})
	if err != nil {
		return domain.Project{}, fmt.Errorf("create project: %w", err)
	}
	return project, nil
}

// writeScript calls the provider. Concurrent callers of a fresh request with
// the same key share a single provider call.
func (a *App) writeScript(ctx context.Context, key string, req ScriptRequest) (domain.Script, error) {
	call := func() (any, error) {
		return a.scripts.GenerateScript(ctx, ai.ScriptRequest{
			Topic:         req.Topic,
			Persona:       req.Persona,
			LengthMinutes: req.LengthMinutes,
			Language:      req.Language,
		})
	}
	if req.Regenerate {
		v, err := call()
		if err != nil {
			return domain.Script{}, err
		}
		return v.(domain.Script), nil
	}
	v, err, _ := a.inflight.Do(key, call)
	if err != nil {
		return domain.Script{}, err
	}
	return v.(domain.Script), nil
}

func (a *App) markReady(ctx context.Context, projectID, title string, req ScriptRequest) error {
	ready := domain.ProjectReady
	patch := store.ProjectPatch{Status: &ready}
	if title = strings.TrimSpace(title); title != "" {
		patch.Title = &title
	}
	patch.Topic = &req.Topic
	if req.LengthMinutes > 0 {
		patch.TargetLength = &req.LengthMinutes
	}
	if err := a.store.UpdateProject(ctx, projectID, patch); err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

func (a *App) cachedScript(ctx context.Context, key string) (cachedScript, bool) {
	raw, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("script cache read failed", "cache_key", key, "err", err)
		return cachedScript{}, false
	}
	if !ok {
		return cachedScript{}, false
	}
	var entry cachedScript
	if err := json.Unmarshal(raw, &entry); err != nil || entry.ProjectID == "" {
		util.LoggerFromContext(ctx).Warn("script cache entry unreadable", "cache_key", key, "err", err)
		return cachedScript{}, false
	}
	return entry, true
}

func (a *App) storeScript(ctx context.Context, key string, entry cachedScript) {
	raw, err := json.Marshal(entry)
	if err == nil {
		err = a.cache.Set(ctx, key, raw, a.cacheTTL)
	}
	if err != nil {
		util.LoggerFromContext(ctx).Warn("script cache write failed", "cache_key", key, "err", err)
	}
}

// ScriptCacheKey derives the dedup key from the fields that change the output.
// Topic case and whitespace do not.
func ScriptCacheKey(req ScriptRequest) string {
	normalized := struct {
		Topic         string `json:"topic"`
		Persona       string `json:"persona"`
		LengthMinutes int    `json:"lengthMinutes"`
		Language      string `json:"language"`
	}{
		Topic:         strings.ToLower(strings.Join(strings.Fields(req.Topic), " ")),
		Persona:       strings.TrimSpace(req.Persona),
		LengthMinutes: req.LengthMinutes,
		Language:      strings.TrimSpace(req.Language),
	}
	raw, _ := json.Marshal(normalized)
	sum := sha256.Sum256(raw)
	return scriptCachePrefix + hex.EncodeToString(sum[:])
}
