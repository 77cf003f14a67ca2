package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. The schema itself is owned by the goose
// migrations under migrations/.
type UserModel struct {
	ID            string `gorm:"primaryKey"`
	AccessSubject string `gorm:"uniqueIndex;not null"`
	Email         string
	Name          string
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type ProjectModel struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"not null;index"`
	Title        string `gorm:"not null"`
	Topic        string
	TargetLength int
	Status       string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (ProjectModel) TableName() string { return "projects" }

type ProjectVersionModel struct {
	ID            string         `gorm:"primaryKey"`
	ProjectID     string         `gorm:"not null;uniqueIndex:idx_project_versions_project_version"`
	Version       int            `gorm:"not null;uniqueIndex:idx_project_versions_project_version"`
	Sections      datatypes.JSON `gorm:"type:jsonb;not null"`
	Outline       datatypes.JSON `gorm:"type:jsonb"`
	SEO           datatypes.JSON `gorm:"column:seo;type:jsonb"`
	GeneratedWith string
	CreatedAt     time.Time `gorm:"not null"`
}

func (ProjectVersionModel) TableName() string { return "project_versions" }

type AssetModel struct {
	ID         string `gorm:"primaryKey"`
	ProjectID  string `gorm:"not null;index"`
	Type       string `gorm:"not null"`
	Label      string
	StorageKey string    `gorm:"not null"`
	MimeType   string    `gorm:"not null"`
	SizeBytes  int64     `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (AssetModel) TableName() string { return "assets" }

type GenerationJobModel struct {
	ID        string         `gorm:"primaryKey"`
	ProjectID string         `gorm:"not null;index"`
	Type      string         `gorm:"not null"`
	Status    string         `gorm:"not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`
	Result    datatypes.JSON `gorm:"type:jsonb"`
	Error     string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (GenerationJobModel) TableName() string { return "generation_jobs" }
