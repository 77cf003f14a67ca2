package domain

import "time"

type ProjectStatus string

const (
	ProjectDraft      ProjectStatus = "draft"
	ProjectGenerating ProjectStatus = "generating"
	ProjectReady      ProjectStatus = "ready"
	ProjectArchived   ProjectStatus = "archived"
)

type AssetType string

const (
	AssetAudio  AssetType = "audio"
	AssetImage  AssetType = "image"
	AssetExport AssetType = "export"
)

// Identity is the verified caller. It is never persisted directly; the
// orchestrator mirrors it into a User row keyed by Subject.
type Identity struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Issuer  string `json:"iss,omitempty"`
	Token   string `json:"-"`
}

type User struct {
	ID            string    `json:"id"`
	AccessSubject string    `json:"accessSubject"`
	Email         string    `json:"email,omitempty"`
	Name          string    `json:"name,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Project struct {
	ID           string        `json:"id"`
	UserID       string        `json:"userId"`
	Title        string        `json:"title"`
	Topic        string        `json:"topic,omitempty"`
	TargetLength int           `json:"targetLength,omitempty"`
	Status       ProjectStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// ProjectVersion is an immutable snapshot of a generated script.
type ProjectVersion struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"projectId"`
	Version       int             `json:"version"`
	Sections      []ScriptSection `json:"sections"`
	Outline       []string        `json:"outline,omitempty"`
	SEO           *SEO            `json:"seo,omitempty"`
	GeneratedWith string          `json:"generatedWith,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type ScriptSection struct {
	ID      string `json:"id,omitempty"`
	Heading string `json:"heading"`
	Text    string `json:"text"`
}

type SEO struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type Asset struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	Type       AssetType `json:"type"`
	Label      string    `json:"label,omitempty"`
	StorageKey string    `json:"storageKey"`
	MimeType   string    `json:"mimeType"`
	SizeBytes  int64     `json:"sizeBytes"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ProjectDetail groups a project with everything recorded against it.
type ProjectDetail struct {
	Project  Project          `json:"project"`
	Versions []ProjectVersion `json:"versions"`
	Assets   []Asset          `json:"assets"`
	Jobs     []GenerationJob  `json:"jobs"`
}

// Script is the provider output for a script request, cached and persisted
// as a ProjectVersion.
type Script struct {
	Title    string          `json:"title,omitempty"`
	Sections []ScriptSection `json:"sections"`
	Outline  []string        `json:"outline,omitempty"`
	SEO      *SEO            `json:"seo,omitempty"`
	Provider string          `json:"provider,omitempty"`
}
