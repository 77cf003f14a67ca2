package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"scriptstudio/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and local runs
// without a database.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User // key: access subject
	projects  map[string]domain.Project
	versions  map[string][]domain.ProjectVersion // key: project ID
	assets    map[string]domain.Asset
	assetList map[string][]string // project ID -> asset IDs in insertion order
	jobs      map[string]domain.GenerationJob
	jobList   map[string][]string // project ID -> job IDs in insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		projects:  make(map[string]domain.Project),
		versions:  make(map[string][]domain.ProjectVersion),
		assets:    make(map[string]domain.Asset),
		assetList: make(map[string][]string),
		jobs:      make(map[string]domain.GenerationJob),
		jobList:   make(map[string][]string),
	}
}

func (m *MemoryStore) UpsertUser(_ context.Context, identity domain.Identity) (domain.User, error) {
	subject := strings.TrimSpace(identity.Subject)
	if subject == "" {
		return domain.User{}, errors.New("access subject required")
	}
	email := strings.TrimSpace(identity.Email)
	name := strings.TrimSpace(identity.Name)
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[subject]
	if !ok {
		u = domain.User{ID: uuid.NewString(), AccessSubject: subject, CreatedAt: now}
	}
	if email != "" {
		u.Email = email
	}
	if name != "" {
		u.Name = name
	}
	u.UpdatedAt = now
	m.users[subject] = u
	return u, nil
}

func (m *MemoryStore) CreateProject(_ context.Context, p domain.Project) (domain.Project, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = domain.ProjectDraft
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projects[p.ID]; exists {
		return domain.Project{}, fmt.Errorf("create project: %w", gorm.ErrDuplicatedKey)
	}
	m.projects[p.ID] = p
	return p, nil
}

func (m *MemoryStore) GetProject(_ context.Context, id string) (domain.Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	return p, ok, nil
}

func (m *MemoryStore) ListProjectsByUser(_ context.Context, userID string) ([]domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Project, 0)
	for _, p := range m.projects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateProject(_ context.Context, id string, patch ProjectPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return fmt.Errorf("update project %s: %w", id, gorm.ErrRecordNotFound)
	}
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Topic != nil {
		p.Topic = *patch.Topic
	}
	if patch.TargetLength != nil {
		p.TargetLength = *patch.TargetLength
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	p.UpdatedAt = time.Now().UTC()
	m.projects[id] = p
	return nil
}

func (m *MemoryStore) AppendVersion(_ context.Context, v domain.ProjectVersion) (domain.ProjectVersion, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.versions[v.ProjectID]
	v.Version = len(existing) + 1
	m.versions[v.ProjectID] = append(existing, v)
	return v, nil
}

func (m *MemoryStore) ListVersions(_ context.Context, projectID string) ([]domain.ProjectVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ProjectVersion(nil), m.versions[projectID]...), nil
}

func (m *MemoryStore) CreateAsset(_ context.Context, a domain.Asset) (domain.Asset, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[a.ID] = a
	m.assetList[a.ProjectID] = append(m.assetList[a.ProjectID], a.ID)
	return a, nil
}

func (m *MemoryStore) GetAsset(_ context.Context, id string) (domain.Asset, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	return a, ok, nil
}

func (m *MemoryStore) ListAssets(_ context.Context, projectID string) ([]domain.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.assetList[projectID]
	out := make([]domain.Asset, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.assets[id])
	}
	return out, nil
}

func (m *MemoryStore) CreateJob(_ context.Context, job domain.GenerationJob) (domain.GenerationJob, error) {
	if job.Payload != nil && job.Payload.JobType() != job.Type {
		return domain.GenerationJob{}, fmt.Errorf("job payload %s does not match job type %s", job.Payload.JobType(), job.Type)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = domain.JobRunning
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	m.jobList[job.ProjectID] = append(m.jobList[job.ProjectID], job.ID)
	return job, nil
}

func (m *MemoryStore) FinishJob(_ context.Context, id string, status domain.JobStatus, result domain.JobResult, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish job: %q is not terminal", status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != domain.JobRunning {
		return ErrJobNotRunning
	}
	job.Status = status
	job.Result = result
	job.Error = errMsg
	job.UpdatedAt = time.Now().UTC()
	m.jobs[id] = job
	return nil
}

// ListJobs returns jobs newest first.
func (m *MemoryStore) ListJobs(_ context.Context, projectID string) ([]domain.GenerationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.jobList[projectID]
	out := make([]domain.GenerationJob, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, m.jobs[ids[i]])
	}
	return out, nil
}

// Counts reports stored row counts; tests use it to assert nothing was written.
func (m *MemoryStore) Counts() (projects, versions, assets, jobs int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions {
		versions += len(v)
	}
	return len(m.projects), versions, len(m.assets), len(m.jobs)
}

// UserBySubject returns the stored user for an access subject.
func (m *MemoryStore) UserBySubject(subject string) (domain.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[subject]
	return u, ok
}
