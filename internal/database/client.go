// Package database is the persistence layer. There is no cross-instance lock
// available, so every transition that can race (finalize, refund, rendition
// claim) is expressed as a single conditional statement: the row either moves
// or reports that someone else moved it first.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"meshforge-backend/internal/models"
)

var ErrNotFound = errors.New("database: not found")

type Client struct {
	db *sql.DB
}

func NewClient(connectionString string) (*Client, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an already-open handle, letting tests back the client
// with a mock driver.
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// DB exposes the underlying handle for collaborators that run their own
// statements (credits ledger, vendor token store).
func (c *Client) DB() *sql.DB {
	return c.db
}

func (c *Client) Close() error {
	return c.db.Close()
}

// ---- generation tasks ----

const taskColumns = `task_id, user_uuid, request_type, model_version, resolution, face, format,
	state, credits_charged, refunded, cover_url, file_url, error_message, created_at, updated_at`

func scanTask(row interface{ Scan(...interface{}) error }) (*models.GenerationTask, error) {
	var t models.GenerationTask
	err := row.Scan(
		&t.TaskID, &t.UserUUID, &t.RequestType, &t.ModelVersion, &t.Resolution, &t.Face, &t.Format,
		&t.State, &t.CreditsCharged, &t.Refunded, &t.CoverURL, &t.FileURL, &t.ErrorMessage,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return &t, nil
}

func (c *Client) CreateTask(t *models.GenerationTask) error {
	_, err := c.db.Exec(`
		INSERT INTO generation_tasks
			(task_id, user_uuid, request_type, model_version, resolution, face, format, state, credits_charged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.TaskID, t.UserUUID, t.RequestType, t.ModelVersion, t.Resolution, t.Face, t.Format, t.State, t.CreditsCharged)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (c *Client) GetTask(taskID string) (*models.GenerationTask, error) {
	row := c.db.QueryRow(`SELECT `+taskColumns+` FROM generation_tasks WHERE task_id = $1`, taskID)
	return scanTask(row)
}

func (c *Client) GetTaskForUser(taskID string, userUUID uuid.UUID) (*models.GenerationTask, error) {
	row := c.db.QueryRow(`
		SELECT `+taskColumns+`
		FROM generation_tasks
		WHERE task_id = $1 AND user_uuid = $2
	`, taskID, userUUID)
	return scanTask(row)
}

// AdvanceTaskState moves a non-terminal task forward and records the vendor
// URLs when known. Terminal rows are left untouched, which makes duplicate
// webhook deliveries harmless.
func (c *Client) AdvanceTaskState(taskID, state, coverURL, fileURL string) error {
	_, err := c.db.Exec(`
		UPDATE generation_tasks
		SET state = $2,
		    cover_url = COALESCE(NULLIF($3, ''), cover_url),
		    file_url = COALESCE(NULLIF($4, ''), file_url),
		    updated_at = now()
		WHERE task_id = $1 AND state NOT IN ('success', 'failed')
	`, taskID, state, coverURL, fileURL)
	if err != nil {
		return fmt.Errorf("failed to advance task state: %w", err)
	}
	return nil
}

// MarkTaskSuccess flips the task to success. Returns true when this call
// performed the transition.
func (c *Client) MarkTaskSuccess(taskID string) (bool, error) {
	res, err := c.db.Exec(`
		UPDATE generation_tasks
		SET state = 'success', updated_at = now()
		WHERE task_id = $1 AND state <> 'success'
	`, taskID)
	if err != nil {
		return false, fmt.Errorf("failed to mark task success: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FailTaskAndRefund marks the task failed and credits the owner back in one
// statement. The refunded flag is flipped in the same write that performs the
// credit, so N failure observations produce exactly one refund.
func (c *Client) FailTaskAndRefund(taskID, errorMsg string) (refunded bool, err error) {
	res, err := c.db.Exec(`
		WITH failed AS (
			UPDATE generation_tasks
			SET state = 'failed', refunded = TRUE, error_message = $2, updated_at = now()
			WHERE task_id = $1 AND refunded = FALSE
			RETURNING user_uuid, credits_charged
		)
		UPDATE profiles p
		SET credits = p.credits + failed.credits_charged, updated_at = now()
		FROM failed
		WHERE p.id = failed.user_uuid
	`, taskID, errorMsg)
	if err != nil {
		return false, fmt.Errorf("failed to fail task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListStaleTasks returns non-terminal tasks last touched before cutoff, for
// the reconciliation sweep.
func (c *Client) ListStaleTasks(cutoff time.Time, limit int) ([]models.GenerationTask, error) {
	rows, err := c.db.Query(`
		SELECT `+taskColumns+`
		FROM generation_tasks
		WHERE state NOT IN ('success', 'failed') AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.GenerationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// ---- assets ----

const assetColumns = `uuid, user_uuid, task_id, status, cover_key, file_key_full, file_format, created_at, updated_at`

func scanAsset(row interface{ Scan(...interface{}) error }) (*models.Asset, error) {
	var a models.Asset
	err := row.Scan(
		&a.UUID, &a.UserUUID, &a.TaskID, &a.Status, &a.CoverKey, &a.FileKeyFull, &a.FileFormat,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan asset: %w", err)
	}
	return &a, nil
}

// UpsertAssetByTask is the finalize write. Keyed on the active-asset-per-task
// unique index: a concurrent finalizer that lost the race gets the winner's
// row back instead of inserting a duplicate, and a row that already carries
// file_key_full keeps it.
func (c *Client) UpsertAssetByTask(a *models.Asset) (*models.Asset, error) {
	row := c.db.QueryRow(`
		INSERT INTO assets (uuid, user_uuid, task_id, status, cover_key, file_key_full, file_format)
		VALUES ($1, $2, $3, 'active', $4, $5, $6)
		ON CONFLICT (task_id) WHERE status = 'active' AND task_id IS NOT NULL
		DO UPDATE SET
			cover_key = COALESCE(assets.cover_key, EXCLUDED.cover_key),
			file_key_full = COALESCE(assets.file_key_full, EXCLUDED.file_key_full),
			file_format = COALESCE(assets.file_format, EXCLUDED.file_format),
			updated_at = now()
		RETURNING `+assetColumns,
		a.UUID, a.UserUUID, a.TaskID, a.CoverKey, a.FileKeyFull, a.FileFormat)
	return scanAsset(row)
}

func (c *Client) GetAsset(assetUUID uuid.UUID) (*models.Asset, error) {
	row := c.db.QueryRow(`SELECT `+assetColumns+` FROM assets WHERE uuid = $1`, assetUUID)
	return scanAsset(row)
}

func (c *Client) GetAssetForUser(assetUUID, userUUID uuid.UUID) (*models.Asset, error) {
	row := c.db.QueryRow(`
		SELECT `+assetColumns+`
		FROM assets
		WHERE uuid = $1 AND user_uuid = $2 AND status = 'active'
	`, assetUUID, userUUID)
	return scanAsset(row)
}

func (c *Client) GetAssetByTask(taskID string) (*models.Asset, error) {
	row := c.db.QueryRow(`
		SELECT `+assetColumns+`
		FROM assets
		WHERE task_id = $1 AND status = 'active'
	`, taskID)
	return scanAsset(row)
}

// ---- renditions ----

const renditionColumns = `id, asset_uuid, format, with_texture, state, file_key, credits_charged, error_message, created_at, updated_at`

func scanRendition(row interface{ Scan(...interface{}) error }) (*models.AssetRendition, error) {
	var r models.AssetRendition
	err := row.Scan(
		&r.ID, &r.AssetUUID, &r.Format, &r.WithTexture, &r.State, &r.FileKey, &r.CreditsCharged,
		&r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan rendition: %w", err)
	}
	return &r, nil
}

func (c *Client) GetRendition(assetUUID uuid.UUID, format string, withTexture bool) (*models.AssetRendition, error) {
	row := c.db.QueryRow(`
		SELECT `+renditionColumns+`
		FROM asset_renditions
		WHERE asset_uuid = $1 AND format = $2 AND with_texture = $3
	`, assetUUID, format, withTexture)
	return scanRendition(row)
}

func (c *Client) ListRenditions(assetUUID uuid.UUID) ([]models.AssetRendition, error) {
	rows, err := c.db.Query(`
		SELECT `+renditionColumns+`
		FROM asset_renditions
		WHERE asset_uuid = $1
		ORDER BY format, with_texture
	`, assetUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list renditions: %w", err)
	}
	defer rows.Close()

	var renditions []models.AssetRendition
	for rows.Next() {
		r, err := scanRendition(rows)
		if err != nil {
			return nil, err
		}
		renditions = append(renditions, *r)
	}
	return renditions, rows.Err()
}

// ClaimRendition acquires the right to materialize one (asset, format,
// with_texture) key. Exactly one of the concurrent callers gets claimed=true:
// either the insert wins, or the conditional update moves a created/failed
// row to processing. Everyone else receives the current row and must not
// start a second materialization.
func (c *Client) ClaimRendition(assetUUID uuid.UUID, format string, withTexture bool) (*models.AssetRendition, bool, error) {
	row := c.db.QueryRow(`
		INSERT INTO asset_renditions (id, asset_uuid, format, with_texture, state)
		VALUES ($1, $2, $3, $4, 'processing')
		ON CONFLICT (asset_uuid, format, with_texture) DO NOTHING
		RETURNING `+renditionColumns,
		uuid.New(), assetUUID, format, withTexture)
	r, err := scanRendition(row)
	if err == nil {
		return r, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	// Row exists. Retry terminal-failed or never-started rows; leave
	// processing and success alone.
	row = c.db.QueryRow(`
		UPDATE asset_renditions
		SET state = 'processing', error_message = NULL, updated_at = now()
		WHERE asset_uuid = $1 AND format = $2 AND with_texture = $3
		  AND state IN ('created', 'failed')
		RETURNING `+renditionColumns,
		assetUUID, format, withTexture)
	r, err = scanRendition(row)
	if err == nil {
		return r, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	r, err = c.GetRendition(assetUUID, format, withTexture)
	if err != nil {
		return nil, false, err
	}
	return r, false, nil
}

func (c *Client) CompleteRendition(assetUUID uuid.UUID, format string, withTexture bool, fileKey string) error {
	_, err := c.db.Exec(`
		UPDATE asset_renditions
		SET state = 'success', file_key = $4, error_message = NULL, updated_at = now()
		WHERE asset_uuid = $1 AND format = $2 AND with_texture = $3
	`, assetUUID, format, withTexture, fileKey)
	if err != nil {
		return fmt.Errorf("failed to complete rendition: %w", err)
	}
	return nil
}

func (c *Client) FailRendition(assetUUID uuid.UUID, format string, withTexture bool, errorMsg string) error {
	_, err := c.db.Exec(`
		UPDATE asset_renditions
		SET state = 'failed', error_message = $4, updated_at = now()
		WHERE asset_uuid = $1 AND format = $2 AND with_texture = $3
	`, assetUUID, format, withTexture, errorMsg)
	if err != nil {
		return fmt.Errorf("failed to fail rendition: %w", err)
	}
	return nil
}
