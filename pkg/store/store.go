package store

import (
	"context"
	"errors"

	"scriptstudio/pkg/domain"
)

var (
	// ErrVersionConflict means concurrent writers kept winning the next
	// version number for a project.
	ErrVersionConflict = errors.New("project version conflict")
	// ErrJobNotRunning means a terminal transition was attempted on a job that
	// is missing or already terminal.
	ErrJobNotRunning = errors.New("job is not running")
)

// ProjectPatch updates selected project fields. Nil fields are left as is.
type ProjectPatch struct {
	Title        *string
	Topic        *string
	TargetLength *int
	Status       *domain.ProjectStatus
}

// Store defines persistence for users, projects and everything generated
// against them.
type Store interface {
	// users
	UpsertUser(ctx context.Context, identity domain.Identity) (domain.User, error)

	// projects
	CreateProject(ctx context.Context, p domain.Project) (domain.Project, error)
	GetProject(ctx context.Context, id string) (domain.Project, bool, error)
	ListProjectsByUser(ctx context.Context, userID string) ([]domain.Project, error)
	UpdateProject(ctx context.Context, id string, patch ProjectPatch) error

	// versions
	AppendVersion(ctx context.Context, v domain.ProjectVersion) (domain.ProjectVersion, error)
	ListVersions(ctx context.Context, projectID string) ([]domain.ProjectVersion, error)

	// assets
	CreateAsset(ctx context.Context, a domain.Asset) (domain.Asset, error)
	GetAsset(ctx context.Context, id string) (domain.Asset, bool, error)
	ListAssets(ctx context.Context, projectID string) ([]domain.Asset, error)

	// jobs
	CreateJob(ctx context.Context, job domain.GenerationJob) (domain.GenerationJob, error)
	FinishJob(ctx context.Context, id string, status domain.JobStatus, result domain.JobResult, errMsg string) error
	ListJobs(ctx context.Context, projectID string) ([]domain.GenerationJob, error)
}
