package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// GenerationTask is one vendor reconstruction job. The row is created after
// the vendor accepts the job and credits are charged; it is never deleted.
type GenerationTask struct {
	TaskID         string
	UserUUID       uuid.UUID
	RequestType    int
	ModelVersion   string
	Resolution     sql.NullString
	Face           sql.NullInt64
	Format         sql.NullString
	State          string
	CreditsCharged int
	Refunded       bool
	CoverURL       sql.NullString
	FileURL        sql.NullString
	ErrorMessage   sql.NullString
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
