package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Asset statuses.
const (
	AssetStatusActive  = "active"
	AssetStatusDeleted = "deleted"
)

// Rendition states.
const (
	RenditionStateCreated    = "created"
	RenditionStateProcessing = "processing"
	RenditionStateSuccess    = "success"
	RenditionStateFailed     = "failed"
)

// Rendition formats.
const (
	FormatOBJ = "obj"
	FormatGLB = "glb"
	FormatSTL = "stl"
	FormatFBX = "fbx"
)

// RenditionFormats lists every derivable output format.
var RenditionFormats = []string{FormatOBJ, FormatGLB, FormatSTL, FormatFBX}

// ValidFormat reports whether f is a known rendition format.
func ValidFormat(f string) bool {
	for _, known := range RenditionFormats {
		if f == known {
			return true
		}
	}
	return false
}

// Asset is one finalized 3D model. At most one active asset exists per
// task_id; finalization upserts against that key.
type Asset struct {
	UUID        uuid.UUID
	UserUUID    uuid.UUID
	TaskID      sql.NullString
	Status      string
	CoverKey    sql.NullString
	FileKeyFull sql.NullString
	FileFormat  sql.NullString
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AssetRendition is one derived-format artifact, unique per
// (asset_uuid, format, with_texture).
type AssetRendition struct {
	ID             uuid.UUID
	AssetUUID      uuid.UUID
	Format         string
	WithTexture    bool
	State          string
	FileKey        sql.NullString
	CreditsCharged int
	ErrorMessage   sql.NullString
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
