package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"scriptstudio/internal/util"
	"scriptstudio/pkg/ai"
	"scriptstudio/pkg/cache"
	"scriptstudio/pkg/domain"
	"scriptstudio/pkg/events"
	"scriptstudio/pkg/storage"
	"scriptstudio/pkg/store"
)

// Config holds the collaborators of the generation service.
type Config struct {
	Store   store.Store
	Cache   cache.Cache
	Objects storage.ObjectStore
	Scripts ai.ScriptGenerator
	Speech  ai.SpeechSynthesizer
	Images  ai.ImageGenerator
	// Events is optional; nil drops job notifications.
	Events     events.Publisher
	CacheTTL   time.Duration
	PresignTTL time.Duration
}

// App orchestrates script, speech and image generation for projects.
type App struct {
	store      store.Store
	cache      cache.Cache
	objects    storage.ObjectStore
	scripts    ai.ScriptGenerator
	speech     ai.SpeechSynthesizer
	images     ai.ImageGenerator
	events     events.Publisher
	cacheTTL   time.Duration
	presignTTL time.Duration
	inflight   singleflight.Group
}

// New validates cfg and builds the service.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Scripts == nil || cfg.Speech == nil || cfg.Images == nil {
		return nil, fmt.Errorf("script, speech and image providers required")
	}
	c := cfg.Cache
	if c == nil {
		c = cache.NewMemoryCache()
	}
	pub := cfg.Events
	if pub == nil {
		pub = events.NopPublisher{}
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	presignTTL := cfg.PresignTTL
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &App{
		store:      cfg.Store,
		cache:      c,
		objects:    cfg.Objects,
		scripts:    cfg.Scripts,
		speech:     cfg.Speech,
		images:     cfg.Images,
		events:     pub,
		cacheTTL:   cacheTTL,
		presignTTL: presignTTL,
	}, nil
}

// currentUser mirrors the caller into the users table.
func (a *App) currentUser(ctx context.Context, id domain.Identity) (domain.User, error) {
	if strings.TrimSpace(id.Subject) == "" {
		return domain.User{}, ErrUnauthorized
	}
	user, err := a.store.UpsertUser(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

// ownedProject loads a project and checks that user owns it.
func (a *App) ownedProject(ctx context.Context, user domain.User, projectID string) (domain.Project, error) {
	project, ok, err := a.store.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("load project: %w", err)
	}
	if !ok {
		return domain.Project{}, ErrNotFound
	}
	if project.UserID != user.ID {
		return domain.Project{}, ErrForbidden
	}
	return project, nil
}

// startJob records a running job and announces it.
func (a *App) startJob(ctx context.Context, projectID string, payload domain.JobPayload) (domain.GenerationJob, error) {
	job, err := a.store.CreateJob(ctx, domain.GenerationJob{
		ProjectID: projectID,
		Type:      payload.JobType(),
		Status:    domain.JobRunning,
		Payload:   payload,
	})
	if err != nil {
		return domain.GenerationJob{}, fmt.Errorf("create job: %w", err)
	}
	a.publish(ctx, events.TypeJobStarted, job)
	return job, nil
}

// succeedJob marks the job done with its typed result. Terminal writes
// ignore request cancellation so a job never stays running.
func (a *App) succeedJob(ctx context.Context, job domain.GenerationJob, result domain.JobResult) error {
	ctx = context.WithoutCancel(ctx)
	if err := a.store.FinishJob(ctx, job.ID, domain.JobSucceeded, result, ""); err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	job.Status = domain.JobSucceeded
	job.Result = result
	a.publish(ctx, events.TypeJobFinished, job)
	return nil
}

// failJob records cause on the job and returns the generic error callers see.
func (a *App) failJob(ctx context.Context, job domain.GenerationJob, cause error) error {
	ctx = context.WithoutCancel(ctx)
	logger := util.LoggerFromContext(ctx)
	logger.Error("generation failed", "job_id", job.ID, "job_type", job.Type, "project_id", job.ProjectID, "err", cause)
	if err := a.store.FinishJob(ctx, job.ID, domain.JobFailed, nil, cause.Error()); err != nil {
		logger.Error("mark job failed", "job_id", job.ID, "err", err)
	}
	job.Status = domain.JobFailed
	job.Error = cause.Error()
	a.publish(ctx, events.TypeJobFinished, job)
	return fmt.Errorf("%w: %w", ErrGenerationFailed, cause)
}

func (a *App) publish(ctx context.Context, eventType string, job domain.GenerationJob) {
	if err := a.events.Publish(ctx, events.NewJobEvent(eventType, job)); err != nil {
		util.LoggerFromContext(ctx).Warn("publish job event", "job_id", job.ID, "event", eventType, "err", err)
	}
}

// ListProjects returns the caller's projects, most recently updated first.
func (a *App) ListProjects(ctx context.Context, id domain.Identity) ([]domain.Project, error) {
	user, err := a.currentUser(ctx, id)
	if err != nil {
		return nil, err
	}
	projects, err := a.store.ListProjectsByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// ProjectDetail returns a project together with its versions, assets and jobs.
func (a *App) ProjectDetail(ctx context.Context, id domain.Identity, projectID string) (domain.ProjectDetail, error) {
	user, err := a.currentUser(ctx, id)
	if err != nil {
		return domain.ProjectDetail{}, err
	}
	project, err := a.ownedProject(ctx, user, projectID)
	if err != nil {
		return domain.ProjectDetail{}, err
	}

	detail := domain.ProjectDetail{Project: project}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		versions, err := a.store.ListVersions(gctx, project.ID)
		if err != nil {
			return fmt.Errorf("list versions: %w", err)
		}
		detail.Versions = versions
		return nil
	})
	g.Go(func() error {
		assets, err := a.store.ListAssets(gctx, project.ID)
		if err != nil {
			return fmt.Errorf("list assets: %w", err)
		}
		detail.Assets = assets
		return nil
	})
	g.Go(func() error {
		jobs, err := a.store.ListJobs(gctx, project.ID)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		detail.Jobs = jobs
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.ProjectDetail{}, err
	}
	return detail, nil
}

// AssetURL returns a time-limited download URL for an asset the caller owns.
func (a *App) AssetURL(ctx context.Context, id domain.Identity, assetID string) (string, time.Duration, error) {
	user, err := a.currentUser(ctx, id)
	if err != nil {
		return "", 0, err
	}
	asset, ok, err := a.store.GetAsset(ctx, assetID)
	if err != nil {
		return "", 0, fmt.Errorf("load asset: %w", err)
	}
	if !ok {
		return "", 0, ErrNotFound
	}
	if _, err := a.ownedProject(ctx, user, asset.ProjectID); err != nil {
		return "", 0, err
	}
	url, err := a.objects.PresignGet(ctx, asset.StorageKey, a.presignTTL)
	if err != nil {
		return "", 0, fmt.Errorf("presign asset: %w", err)
	}
	return url, a.presignTTL, nil
}
