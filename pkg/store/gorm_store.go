package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"scriptstudio/pkg/domain"
)

const migrateLockID int64 = 51873301

const maxVersionAttempts = 3

//go:embed migrations/*.sql
var migrations embed.FS

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB through pgx, applies migrations and wraps the
// connection pool with GORM.
func NewGormStore(dsn string) (*GormStore, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func migrate(sqlDB *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// UpsertUser creates the user for identity.Subject or refreshes its email and
// name when the identity carries non-empty values.
func (s *GormStore) UpsertUser(ctx context.Context, identity domain.Identity) (domain.User, error) {
	subject := strings.TrimSpace(identity.Subject)
	if subject == "" {
		return domain.User{}, errors.New("access subject required")
	}
	now := time.Now().UTC()
	model := UserModel{
		ID:            uuid.NewString(),
		AccessSubject: subject,
		Email:         strings.TrimSpace(identity.Email),
		Name:          strings.TrimSpace(identity.Name),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "access_subject"}},
		DoUpdates: clause.Assignments(map[string]any{
			"email":      gorm.Expr("COALESCE(NULLIF(EXCLUDED.email, ''), users.email)"),
			"name":       gorm.Expr("COALESCE(NULLIF(EXCLUDED.name, ''), users.name)"),
			"updated_at": now,
		}),
	}).Create(&model).Error
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	var stored UserModel
	if err := db.First(&stored, "access_subject = ?", subject).Error; err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return userFromModel(stored), nil
}

// CreateProject inserts a project, assigning an id when absent.
func (s *GormStore) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
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
	model := projectToModel(p)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Project{}, fmt.Errorf("create project: %w", err)
	}
	return projectFromModel(model), nil
}

// GetProject returns a project by id.
func (s *GormStore) GetProject(ctx context.Context, id string) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	return projectFromModel(model), true, nil
}

// ListProjectsByUser returns the user's projects, most recently updated first.
func (s *GormStore) ListProjectsByUser(ctx context.Context, userID string) ([]domain.Project, error) {
	var models []ProjectModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at desc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Project, 0, len(models))
	for _, m := range models {
		out = append(out, projectFromModel(m))
	}
	return out, nil
}

// UpdateProject applies patch and bumps updated_at.
func (s *GormStore) UpdateProject(ctx context.Context, id string, patch ProjectPatch) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Topic != nil {
		updates["topic"] = *patch.Topic
	}
	if patch.TargetLength != nil {
		updates["target_length"] = *patch.TargetLength
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	res := s.db.WithContext(ctx).Model(&ProjectModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update project: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update project %s: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// AppendVersion stores v as max(version)+1 for its project. The unique
// (project_id, version) index rejects concurrent duplicates; those are retried.
func (s *GormStore) AppendVersion(ctx context.Context, v domain.ProjectVersion) (domain.ProjectVersion, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	model, err := versionToModel(v)
	if err != nil {
		return domain.ProjectVersion{}, err
	}
	err = retryVersionConflict(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var current int
			if err := tx.Model(&ProjectVersionModel{}).
				Where("project_id = ?", v.ProjectID).
				Select("COALESCE(MAX(version), 0)").
				Scan(&current).Error; err != nil {
				return err
			}
			model.Version = current + 1
			return tx.Create(&model).Error
		})
	})
	if err != nil {
		return domain.ProjectVersion{}, err
	}
	return versionFromModel(model)
}

// retryVersionConflict runs insert until it stops failing on the unique
// version index, giving up with ErrVersionConflict after maxVersionAttempts.
func retryVersionConflict(insert func() error) error {
	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		err := insert()
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("append version: %w", err)
		}
	}
	return ErrVersionConflict
}

// ListVersions returns versions oldest first.
func (s *GormStore) ListVersions(ctx context.Context, projectID string) ([]domain.ProjectVersion, error) {
	var models []ProjectVersionModel
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("version asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ProjectVersion, 0, len(models))
	for _, m := range models {
		v, err := versionFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// CreateAsset records an uploaded artifact.
func (s *GormStore) CreateAsset(ctx context.Context, a domain.Asset) (domain.Asset, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	model := assetToModel(a)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Asset{}, fmt.Errorf("create asset: %w", err)
	}
	return assetFromModel(model), nil
}

// GetAsset returns an asset by id.
func (s *GormStore) GetAsset(ctx context.Context, id string) (domain.Asset, bool, error) {
	var model AssetModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Asset{}, false, nil
		}
		return domain.Asset{}, false, err
	}
	return assetFromModel(model), true, nil
}

// ListAssets returns assets oldest first.
func (s *GormStore) ListAssets(ctx context.Context, projectID string) ([]domain.Asset, error) {
	var models []AssetModel
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at asc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Asset, 0, len(models))
	for _, m := range models {
		out = append(out, assetFromModel(m))
	}
	return out, nil
}

// CreateJob inserts a job in its initial state.
func (s *GormStore) CreateJob(ctx context.Context, job domain.GenerationJob) (domain.GenerationJob, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = domain.JobRunning
	}
	model, err := jobToModel(job)
	if err != nil {
		return domain.GenerationJob{}, err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.GenerationJob{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// FinishJob moves a running job to a terminal status exactly once.
func (s *GormStore) FinishJob(ctx context.Context, id string, status domain.JobStatus, result domain.JobResult, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish job: %q is not terminal", status)
	}
	raw, err := domain.EncodeJobResult(result)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&GenerationJobModel{}).
		Where("id = ? AND status = ?", id, string(domain.JobRunning)).
		Updates(map[string]any{
			"status":     string(status),
			"result":     datatypes.JSON(raw),
			"error":      errMsg,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("finish job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotRunning
	}
	return nil
}

// ListJobs returns jobs newest first.
func (s *GormStore) ListJobs(ctx context.Context, projectID string) ([]domain.GenerationJob, error) {
	var models []GenerationJobModel
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at desc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.GenerationJob, 0, len(models))
	for _, m := range models {
		job, err := jobFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:            m.ID,
		AccessSubject: m.AccessSubject,
		Email:         m.Email,
		Name:          m.Name,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func projectToModel(p domain.Project) ProjectModel {
	return ProjectModel{
		ID:           p.ID,
		UserID:       p.UserID,
		Title:        p.Title,
		Topic:        p.Topic,
		TargetLength: p.TargetLength,
		Status:       string(p.Status),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func projectFromModel(m ProjectModel) domain.Project {
	return domain.Project{
		ID:           m.ID,
		UserID:       m.UserID,
		Title:        m.Title,
		Topic:        m.Topic,
		TargetLength: m.TargetLength,
		Status:       domain.ProjectStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func versionToModel(v domain.ProjectVersion) (ProjectVersionModel, error) {
	sections, err := json.Marshal(v.Sections)
	if err != nil {
		return ProjectVersionModel{}, fmt.Errorf("encode sections: %w", err)
	}
	outline, err := json.Marshal(v.Outline)
	if err != nil {
		return ProjectVersionModel{}, fmt.Errorf("encode outline: %w", err)
	}
	seo, err := json.Marshal(v.SEO)
	if err != nil {
		return ProjectVersionModel{}, fmt.Errorf("encode seo: %w", err)
	}
	return ProjectVersionModel{
		ID:            v.ID,
		ProjectID:     v.ProjectID,
		Version:       v.Version,
		Sections:      datatypes.JSON(sections),
		Outline:       datatypes.JSON(outline),
		SEO:           datatypes.JSON(seo),
		GeneratedWith: v.GeneratedWith,
		CreatedAt:     v.CreatedAt,
	}, nil
}

func versionFromModel(m ProjectVersionModel) (domain.ProjectVersion, error) {
	v := domain.ProjectVersion{
		ID:            m.ID,
		ProjectID:     m.ProjectID,
		Version:       m.Version,
		GeneratedWith: m.GeneratedWith,
		CreatedAt:     m.CreatedAt,
	}
	if len(m.Sections) > 0 {
		if err := json.Unmarshal(m.Sections, &v.Sections); err != nil {
			return v, fmt.Errorf("decode sections: %w", err)
		}
	}
	if len(m.Outline) > 0 {
		if err := json.Unmarshal(m.Outline, &v.Outline); err != nil {
			return v, fmt.Errorf("decode outline: %w", err)
		}
	}
	if len(m.SEO) > 0 {
		if err := json.Unmarshal(m.SEO, &v.SEO); err != nil {
			return v, fmt.Errorf("decode seo: %w", err)
		}
	}
	return v, nil
}

func assetToModel(a domain.Asset) AssetModel {
	return AssetModel{
		ID:         a.ID,
		ProjectID:  a.ProjectID,
		Type:       string(a.Type),
		Label:      a.Label,
		StorageKey: a.StorageKey,
		MimeType:   a.MimeType,
		SizeBytes:  a.SizeBytes,
		CreatedAt:  a.CreatedAt,
	}
}

func assetFromModel(m AssetModel) domain.Asset {
	return domain.Asset{
		ID:         m.ID,
		ProjectID:  m.ProjectID,
		Type:       domain.AssetType(m.Type),
		Label:      m.Label,
		StorageKey: m.StorageKey,
		MimeType:   m.MimeType,
		SizeBytes:  m.SizeBytes,
		CreatedAt:  m.CreatedAt,
	}
}

func jobToModel(job domain.GenerationJob) (GenerationJobModel, error) {
	if job.Payload != nil && job.Payload.JobType() != job.Type {
		return GenerationJobModel{}, fmt.Errorf("job payload %s does not match job type %s", job.Payload.JobType(), job.Type)
	}
	payload, err := domain.EncodeJobPayload(job.Payload)
	if err != nil {
		return GenerationJobModel{}, fmt.Errorf("encode job payload: %w", err)
	}
	result, err := domain.EncodeJobResult(job.Result)
	if err != nil {
		return GenerationJobModel{}, fmt.Errorf("encode job result: %w", err)
	}
	return GenerationJobModel{
		ID:        job.ID,
		ProjectID: job.ProjectID,
		Type:      string(job.Type),
		Status:    string(job.Status),
		Payload:   datatypes.JSON(payload),
		Result:    datatypes.JSON(result),
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}, nil
}

func jobFromModel(m GenerationJobModel) (domain.GenerationJob, error) {
	jobType := domain.JobType(m.Type)
	payload, err := domain.DecodeJobPayload(jobType, m.Payload)
	if err != nil {
		return domain.GenerationJob{}, err
	}
	result, err := domain.DecodeJobResult(jobType, m.Result)
	if err != nil {
		return domain.GenerationJob{}, err
	}
	return domain.GenerationJob{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		Type:      jobType,
		Status:    domain.JobStatus(m.Status),
		Payload:   payload,
		Result:    result,
		Error:     m.Error,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}
