package models

import "time"

type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
}

type TaskStatusResponse struct {
	TaskID    string    `json:"task_id"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FinalizeResponse carries the asset once the vendor job has succeeded;
// before that it reports the current state so clients keep polling.
type FinalizeResponse struct {
	TaskID    string `json:"task_id"`
	State     string `json:"state"`
	AssetUUID string `json:"asset_uuid,omitempty"`
}

type AssetResponse struct {
	UUID       string    `json:"uuid"`
	TaskID     string    `json:"task_id,omitempty"`
	Status     string    `json:"status"`
	FileFormat string    `json:"file_format,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type RenditionResponse struct {
	AssetUUID   string    `json:"asset_uuid"`
	Format      string    `json:"format"`
	WithTexture bool      `json:"with_texture"`
	State       string    `json:"state"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type RenditionListResponse struct {
	Renditions []RenditionResponse `json:"renditions"`
}

type DownloadResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

// NotReadyResponse tells clients to wait and retry rather than treat the
// state as an error.
type NotReadyResponse struct {
	State   string `json:"state"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}
