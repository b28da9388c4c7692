// Package services holds the finalization coordinator: the idempotent
// procedure that turns a vendor-reported success into a durable asset, and
// the per-format rendition materializer built on top of it.
//
// Three entry points race to finalize the same task: the vendor webhook, a
// user-triggered poll, and the periodic sweep. There is no cross-instance
// lock; safety comes entirely from the conditional writes in the repository
// (upsert-by-task_id, rendition claim, refunded-flag CAS).
package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"meshforge-backend/internal/database"
	"meshforge-backend/internal/models"
	"meshforge-backend/internal/storage"
	"meshforge-backend/internal/supabase"
	"meshforge-backend/internal/tripo"
	"meshforge-backend/internal/zipx"
)

// ErrUnknownTask is returned for callbacks about tasks we never created.
// Webhook handlers still acknowledge these with 2xx.
var ErrUnknownTask = errors.New("unknown task")

// Repository is the slice of the persistence layer the coordinator needs.
// *database.Client satisfies it.
type Repository interface {
	GetTask(taskID string) (*models.GenerationTask, error)
	AdvanceTaskState(taskID, state, coverURL, fileURL string) error
	MarkTaskSuccess(taskID string) (bool, error)
	FailTaskAndRefund(taskID, errorMsg string) (bool, error)
	UpsertAssetByTask(a *models.Asset) (*models.Asset, error)
	GetAsset(assetUUID uuid.UUID) (*models.Asset, error)
	GetAssetByTask(taskID string) (*models.Asset, error)
	GetRendition(assetUUID uuid.UUID, format string, withTexture bool) (*models.AssetRendition, error)
	ClaimRendition(assetUUID uuid.UUID, format string, withTexture bool) (*models.AssetRendition, bool, error)
	CompleteRendition(assetUUID uuid.UUID, format string, withTexture bool, fileKey string) error
	FailRendition(assetUUID uuid.UUID, format string, withTexture bool, errorMsg string) error
}

// Vendor is the polling surface of the vendor client.
type Vendor interface {
	Query(taskID string) (*tripo.QueryResult, error)
}

// Fetcher probes and downloads vendor-hosted artifact URLs.
type Fetcher interface {
	Fetch(url string) ([]byte, error)
	FetchFirst(candidates []string) (string, []byte, error)
}

// ObjectStore is the owned storage the coordinator materializes into.
type ObjectStore interface {
	Upload(key string, data []byte, contentType string) error
	DownloadAndUpload(sourceURL, key string, headers map[string]string, contentType string) (int64, error)
	Delete(keys []string) error
}

// Options tune coordinator behavior.
type Options struct {
	// InstantReady short-circuits a rendition request that exactly matches
	// the stored original (format equal, texture off) to success with zero
	// vendor calls.
	InstantReady bool
	// VendorHeaders are sent on artifact downloads from the vendor CDN.
	VendorHeaders map[string]string
}

type Finalizer struct {
	repo     Repository
	vendor   Vendor
	fetcher  Fetcher
	store    ObjectStore
	realtime *supabase.RealtimeClient
	opts     Options
}

func NewFinalizer(repo Repository, vendor Vendor, fetcher Fetcher, store ObjectStore, realtime *supabase.RealtimeClient, opts Options) *Finalizer {
	return &Finalizer{
		repo:     repo,
		vendor:   vendor,
		fetcher:  fetcher,
		store:    store,
		realtime: realtime,
		opts:     opts,
	}
}

// HandleVendorState applies one observed vendor state to the task. It is the
// single transition path shared by webhook (push), poll (pull) and the sweep.
// On success it finalizes and returns the asset; on failure it refunds once,
// recording the vendor's message as the terminal reason; otherwise it records
// the intermediate state.
func (f *Finalizer) HandleVendorState(taskID string, state tripo.TaskState, coverURL, fileURL, message string) (*models.Asset, tripo.TaskState, error) {
	task, err := f.repo.GetTask(taskID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, "", ErrUnknownTask
		}
		return nil, "", err
	}

	switch state {
	case tripo.StateSuccess:
		asset, err := f.finalize(task, coverURL, fileURL)
		if err != nil {
			return nil, tripo.StateSuccess, err
		}
		return asset, tripo.StateSuccess, nil

	case tripo.StateFailed:
		reason := message
		if reason == "" {
			reason = "vendor reported failure"
		}
		refunded, err := f.repo.FailTaskAndRefund(taskID, reason)
		if err != nil {
			return nil, state, err
		}
		if refunded {
			f.realtime.PublishTaskEvent(taskID, "task_failed",
				supabase.TaskFailedPayload(taskID, reason, true))
		}
		return nil, tripo.StateFailed, nil

	default:
		if err := f.repo.AdvanceTaskState(taskID, string(state), coverURL, fileURL); err != nil {
			return nil, state, err
		}
		return nil, state, nil
	}
}

// Poll queries the vendor for the current state and applies it. Used by the
// user-triggered finalize endpoint and by the sweep.
func (f *Finalizer) Poll(taskID string) (*models.Asset, tripo.TaskState, error) {
	task, err := f.repo.GetTask(taskID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, "", ErrUnknownTask
		}
		return nil, "", err
	}

	// Terminal tasks need no vendor round trip.
	if task.State == string(tripo.StateFailed) {
		return nil, tripo.StateFailed, nil
	}
	if task.State == string(tripo.StateSuccess) {
		asset, err := f.repo.GetAssetByTask(taskID)
		if err == nil {
			return asset, tripo.StateSuccess, nil
		}
		// Success without an asset means an earlier finalize died between
		// the vendor call and the asset write; fall through and redo it.
	}

	result, err := f.vendor.Query(taskID)
	if err != nil {
		// Vendor flakiness is not a user-facing failure; report the last
		// known state and let the next trigger retry.
		log.Printf("vendor query for task %s failed: %v", taskID, err)
		return nil, tripo.TaskState(task.State), nil
	}

	return f.HandleVendorState(taskID, result.State, result.CoverURL, result.FileURL, result.Message)
}

// finalize converts a successful vendor job into a stored asset. Safe to call
// from any number of racers: artifact downloads happen before the asset
// upsert, and the upsert-by-task_id collapses duplicates onto one row. The
// task is marked success only after the asset row exists, so a task observed
// as success always resolves to an asset.
func (f *Finalizer) finalize(task *models.GenerationTask, coverURL, fileURL string) (*models.Asset, error) {
	if existing, err := f.repo.GetAssetByTask(task.TaskID); err == nil && existing.FileKeyFull.Valid {
		// Duplicate finalize: acknowledge with the existing asset.
		return existing, nil
	}

	if fileURL == "" {
		fileURL = task.FileURL.String
	}
	if coverURL == "" {
		coverURL = task.CoverURL.String
	}
	if fileURL == "" {
		return nil, fmt.Errorf("task %s: vendor reported success without a file url", task.TaskID)
	}

	assetUUID := uuid.New()
	format := originalFormat(fileURL, task.Format.String)

	asset := &models.Asset{
		UUID:     assetUUID,
		UserUUID: task.UserUUID,
		TaskID:   nullString(task.TaskID),
		Status:   models.AssetStatusActive,
	}

	// Cover is optional; its absence must not block the asset.
	if coverURL != "" {
		coverKey := storage.AssetKey(task.UserUUID, assetUUID, "cover"+extOf(coverURL, ".webp"))
		if _, err := f.store.DownloadAndUpload(coverURL, coverKey, f.opts.VendorHeaders, ""); err != nil {
			log.Printf("task %s: cover download failed: %v", task.TaskID, err)
		} else {
			asset.CoverKey = nullString(coverKey)
		}
	}

	// The primary file is the asset; a storage failure here fails the
	// finalize loudly and leaves the task non-terminal for the next trigger.
	fileKey := storage.AssetKey(task.UserUUID, assetUUID, "model."+format)
	if _, err := f.store.DownloadAndUpload(fileURL, fileKey, f.opts.VendorHeaders, contentTypeFor(format)); err != nil {
		return nil, fmt.Errorf("task %s: primary file download failed: %w", task.TaskID, err)
	}
	asset.FileKeyFull = nullString(fileKey)
	asset.FileFormat = nullString(format)

	persisted, err := f.repo.UpsertAssetByTask(asset)
	if err != nil {
		return nil, err
	}
	if persisted.UUID != assetUUID {
		log.Printf("task %s: lost finalize race, reusing asset %s", task.TaskID, persisted.UUID)
		// The winner's keys survived the upsert; this finalizer's uploads are
		// orphaned under the losing asset's prefix and can go.
		var orphaned []string
		if asset.CoverKey.Valid && asset.CoverKey.String != persisted.CoverKey.String {
			orphaned = append(orphaned, asset.CoverKey.String)
		}
		if asset.FileKeyFull.Valid && asset.FileKeyFull.String != persisted.FileKeyFull.String {
			orphaned = append(orphaned, asset.FileKeyFull.String)
		}
		if len(orphaned) > 0 {
			if err := f.store.Delete(orphaned); err != nil {
				log.Printf("task %s: deleting orphaned uploads failed: %v", task.TaskID, err)
			}
		}
	}

	// Record the vendor URLs while the row is still non-terminal; renditions
	// derive their candidate URLs from file_url later.
	if err := f.repo.AdvanceTaskState(task.TaskID, task.State, coverURL, fileURL); err != nil {
		log.Printf("task %s: recording vendor urls failed: %v", task.TaskID, err)
	}
	transitioned, err := f.repo.MarkTaskSuccess(task.TaskID)
	if err != nil {
		return nil, err
	}

	if transitioned {
		f.realtime.PublishTaskEvent(task.TaskID, "asset_ready",
			supabase.AssetReadyPayload(task.TaskID, persisted.UUID))

		// Pre-populate the remaining formats. Strictly best-effort: every
		// failure is swallowed and leaves the rendition retriable.
		go f.materializeRemaining(persisted, task)
	}

	return persisted, nil
}

// materializeRemaining records the original format as an immediately-ready
// rendition and then derives the non-original formats after a finalize.
func (f *Finalizer) materializeRemaining(asset *models.Asset, task *models.GenerationTask) {
	if asset.FileKeyFull.Valid && asset.FileFormat.Valid {
		if _, claimed, err := f.repo.ClaimRendition(asset.UUID, asset.FileFormat.String, false); err == nil && claimed {
			if err := f.repo.CompleteRendition(asset.UUID, asset.FileFormat.String, false, asset.FileKeyFull.String); err != nil {
				log.Printf("asset %s: recording default rendition failed: %v", asset.UUID, err)
			}
		}
	}

	withTexture := task.RequestType != tripo.RequestTypeGeometry
	for _, format := range models.RenditionFormats {
		if format == asset.FileFormat.String {
			continue
		}
		if _, err := f.MaterializeRendition(asset, format, withTexture); err != nil {
			log.Printf("asset %s: best-effort %s rendition failed: %v", asset.UUID, format, err)
		}
	}
}

// MaterializeRendition serves one (format, with_texture) request. The claim
// is the concurrency gate: callers that find the key already processing or
// already succeeded get the current row back and trigger no vendor traffic.
func (f *Finalizer) MaterializeRendition(asset *models.Asset, format string, withTexture bool) (*models.AssetRendition, error) {
	// Instant-ready: requested combination is exactly the stored original.
	// Only a texture-off request qualifies; the original's own texture state
	// is not inspectable, so texture-on never takes the shortcut.
	if f.opts.InstantReady && !withTexture && format == asset.FileFormat.String && asset.FileKeyFull.Valid {
		_, claimed, err := f.repo.ClaimRendition(asset.UUID, format, withTexture)
		if err != nil {
			return nil, err
		}
		if claimed {
			if err := f.repo.CompleteRendition(asset.UUID, format, withTexture, asset.FileKeyFull.String); err != nil {
				return nil, err
			}
		}
		return f.repo.GetRendition(asset.UUID, format, withTexture)
	}

	rendition, claimed, err := f.repo.ClaimRendition(asset.UUID, format, withTexture)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// success: idempotent repeat; processing: someone else is on it.
		return rendition, nil
	}

	fileKey, err := f.materializeFromVendor(asset, format, withTexture)
	if err != nil {
		if failErr := f.repo.FailRendition(asset.UUID, format, withTexture, err.Error()); failErr != nil {
			return nil, failErr
		}
		f.realtime.PublishAssetEvent(asset.UUID, "rendition_failed",
			supabase.RenditionPayload(asset.UUID, format, withTexture, models.RenditionStateFailed))
		return f.repo.GetRendition(asset.UUID, format, withTexture)
	}

	if err := f.repo.CompleteRendition(asset.UUID, format, withTexture, fileKey); err != nil {
		return nil, err
	}
	f.realtime.PublishAssetEvent(asset.UUID, "rendition_ready",
		supabase.RenditionPayload(asset.UUID, format, withTexture, models.RenditionStateSuccess))
	return f.repo.GetRendition(asset.UUID, format, withTexture)
}

// materializeFromVendor fetches the requested format from the vendor CDN and
// stores it, returning the storage key of the rendition file.
func (f *Finalizer) materializeFromVendor(asset *models.Asset, format string, withTexture bool) (string, error) {
	if !asset.TaskID.Valid {
		return "", fmt.Errorf("asset %s has no source task", asset.UUID)
	}
	task, err := f.repo.GetTask(asset.TaskID.String)
	if err != nil {
		return "", err
	}
	if !task.FileURL.Valid || task.FileURL.String == "" {
		return "", fmt.Errorf("task %s has no vendor file url", task.TaskID)
	}
	knownURL := task.FileURL.String

	url, data, err := f.fetcher.FetchFirst(tripo.SiblingCandidates(knownURL, format))
	if err != nil {
		return "", fmt.Errorf("no %s artifact for task %s: %w", format, task.TaskID, err)
	}

	if strings.HasSuffix(url, ".zip") {
		return f.storeVendorZip(asset, format, data)
	}

	if format == models.FormatOBJ {
		return f.storeObjBundle(asset, knownURL, url, data, withTexture)
	}

	key := storage.AssetKey(asset.UserUUID, asset.UUID, "model."+format)
	if err := f.store.Upload(key, data, contentTypeFor(format)); err != nil {
		return "", err
	}
	return key, nil
}

// storeVendorZip keeps the vendor's pre-packaged archive as the rendition
// file. OBJ archives are additionally unpacked so individual bundle files are
// addressable under the obj/ prefix.
func (f *Finalizer) storeVendorZip(asset *models.Asset, format string, data []byte) (string, error) {
	key := storage.AssetKey(asset.UserUUID, asset.UUID, "model."+format+".zip")
	if err := f.store.Upload(key, data, "application/zip"); err != nil {
		return "", err
	}

	if format == models.FormatOBJ {
		entries, err := zipx.Decode(data)
		if err != nil {
			log.Printf("asset %s: vendor zip not decodable: %v", asset.UUID, err)
			return key, nil
		}
		for _, e := range entries {
			name := zipx.SanitizeEntryName(e.Name)
			if name == "" {
				continue
			}
			objKey := storage.AssetObjKey(asset.UserUUID, asset.UUID, name)
			if err := f.store.Upload(objKey, e.Data, contentTypeForName(name)); err != nil {
				log.Printf("asset %s: unpacking %s failed: %v", asset.UUID, name, err)
			}
		}
	}
	return key, nil
}

// storeObjBundle assembles an OBJ bundle when the vendor only serves the bare
// OBJ: the model file, its declared (or guessed) MTLs and, for textured
// requests, the textures those MTLs reference. Component files land under
// obj/ and the packaged archive is the rendition file.
func (f *Finalizer) storeObjBundle(asset *models.Asset, knownURL, objURL string, objData []byte, withTexture bool) (string, error) {
	objName := tripo.BaseName(objURL) + ".obj"
	entries := []zipx.Entry{{Name: objName, Data: objData}}

	if withTexture {
		for _, mtlRef := range tripo.ParseMTLRefs(string(objData), tripo.BaseName(objURL)) {
			mtlURL, mtlData, err := f.fetcher.FetchFirst(
				tripo.AlternateDirCandidates(tripo.SiblingFileURL(objURL, mtlRef)))
			if err != nil {
				continue
			}
			entries = append(entries, zipx.Entry{Name: mtlRef, Data: mtlData})

			for _, texRef := range tripo.ParseTextureRefs(string(mtlData)) {
				_, texData, err := f.fetcher.FetchFirst(
					tripo.AlternateDirCandidates(tripo.SiblingFileURL(mtlURL, texRef)))
				if err != nil {
					continue
				}
				entries = append(entries, zipx.Entry{Name: texRef, Data: texData})
			}
		}
	}

	for _, e := range entries {
		name := zipx.SanitizeEntryName(e.Name)
		if name == "" {
			continue
		}
		objKey := storage.AssetObjKey(asset.UserUUID, asset.UUID, name)
		if err := f.store.Upload(objKey, e.Data, contentTypeForName(name)); err != nil {
			log.Printf("asset %s: storing bundle file %s failed: %v", asset.UUID, name, err)
		}
	}

	key := storage.AssetKey(asset.UserUUID, asset.UUID, "model.obj.zip")
	if err := f.store.Upload(key, zipx.Encode(entries), "application/zip"); err != nil {
		return "", err
	}
	return key, nil
}

// ---- helpers ----

func originalFormat(fileURL, hint string) string {
	if ext := strings.TrimPrefix(extOf(fileURL, ""), "."); models.ValidFormat(ext) {
		return ext
	}
	if models.ValidFormat(hint) {
		return hint
	}
	return models.FormatGLB
}

func extOf(url, fallback string) string {
	slash := strings.LastIndex(url, "/")
	dot := strings.LastIndex(url, ".")
	if dot <= slash {
		return fallback
	}
	ext := url[dot:]
	if q := strings.IndexAny(ext, "?#"); q >= 0 {
		ext = ext[:q]
	}
	return ext
}

func contentTypeFor(format string) string {
	switch format {
	case models.FormatGLB:
		return "model/gltf-binary"
	case models.FormatOBJ:
		return "text/plain"
	case models.FormatSTL, models.FormatFBX:
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}

func contentTypeForName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".obj"), strings.HasSuffix(lower, ".mtl"):
		return "text/plain"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
