package services_test

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meshforge-backend/internal/database"
	"meshforge-backend/internal/models"
	"meshforge-backend/internal/services"
	"meshforge-backend/internal/supabase"
	"meshforge-backend/internal/tripo"
	"meshforge-backend/internal/zipx"
)

// fakeRepo is an in-memory Repository with the same conditional-write
// semantics as the SQL layer: refund-once, upsert-by-task, rendition claim.
type fakeRepo struct {
	mu         sync.Mutex
	tasks      map[string]*models.GenerationTask
	assets     map[string]*models.Asset // keyed by task id
	renditions map[string]*models.AssetRendition
	refunds    int

	// winner, when set, is committed just before the next upsert resolves,
	// simulating a concurrent finalizer that wrote its asset row first.
	winner *models.Asset
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		tasks:      make(map[string]*models.GenerationTask),
		assets:     make(map[string]*models.Asset),
		renditions: make(map[string]*models.AssetRendition),
	}
}

func renditionKey(assetUUID uuid.UUID, format string, withTexture bool) string {
	return fmt.Sprintf("%s/%s/%v", assetUUID, format, withTexture)
}

func (r *fakeRepo) GetTask(taskID string) (*models.GenerationTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *fakeRepo) AdvanceTaskState(taskID, state, coverURL, fileURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return database.ErrNotFound
	}
	if t.State == "success" || t.State == "failed" {
		return nil
	}
	t.State = state
	if coverURL != "" {
		t.CoverURL = sql.NullString{String: coverURL, Valid: true}
	}
	if fileURL != "" {
		t.FileURL = sql.NullString{String: fileURL, Valid: true}
	}
	return nil
}

func (r *fakeRepo) MarkTaskSuccess(taskID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return false, database.ErrNotFound
	}
	if t.State == "success" || t.State == "failed" {
		return false, nil
	}
	t.State = "success"
	return true, nil
}

func (r *fakeRepo) FailTaskAndRefund(taskID, errorMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return false, database.ErrNotFound
	}
	if t.Refunded {
		return false, nil
	}
	t.State = "failed"
	t.Refunded = true
	t.ErrorMessage = sql.NullString{String: errorMsg, Valid: true}
	r.refunds++
	return true, nil
}

func (r *fakeRepo) UpsertAssetByTask(a *models.Asset) (*models.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.winner != nil {
		if _, ok := r.assets[r.winner.TaskID.String]; !ok {
			w := *r.winner
			r.assets[w.TaskID.String] = &w
		}
		r.winner = nil
	}
	if existing, ok := r.assets[a.TaskID.String]; ok {
		// First writer wins, matching the COALESCE in the SQL upsert.
		if !existing.FileKeyFull.Valid {
			existing.FileKeyFull = a.FileKeyFull
			existing.FileFormat = a.FileFormat
		}
		if !existing.CoverKey.Valid {
			existing.CoverKey = a.CoverKey
		}
		copied := *existing
		return &copied, nil
	}
	copied := *a
	r.assets[a.TaskID.String] = &copied
	out := copied
	return &out, nil
}

func (r *fakeRepo) GetAsset(assetUUID uuid.UUID) (*models.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.assets {
		if a.UUID == assetUUID {
			copied := *a
			return &copied, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r *fakeRepo) GetAssetByTask(taskID string) (*models.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[taskID]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *fakeRepo) GetRendition(assetUUID uuid.UUID, format string, withTexture bool) (*models.AssetRendition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rend, ok := r.renditions[renditionKey(assetUUID, format, withTexture)]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *rend
	return &copied, nil
}

func (r *fakeRepo) ClaimRendition(assetUUID uuid.UUID, format string, withTexture bool) (*models.AssetRendition, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := renditionKey(assetUUID, format, withTexture)
	if rend, ok := r.renditions[key]; ok {
		if rend.State == models.RenditionStateCreated || rend.State == models.RenditionStateFailed {
			rend.State = models.RenditionStateProcessing
			copied := *rend
			return &copied, true, nil
		}
		copied := *rend
		return &copied, false, nil
	}
	rend := &models.AssetRendition{
		AssetUUID:   assetUUID,
		Format:      format,
		WithTexture: withTexture,
		State:       models.RenditionStateProcessing,
	}
	r.renditions[key] = rend
	copied := *rend
	return &copied, true, nil
}

func (r *fakeRepo) CompleteRendition(assetUUID uuid.UUID, format string, withTexture bool, fileKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rend, ok := r.renditions[renditionKey(assetUUID, format, withTexture)]
	if !ok {
		return database.ErrNotFound
	}
	rend.State = models.RenditionStateSuccess
	rend.FileKey = sql.NullString{String: fileKey, Valid: true}
	return nil
}

func (r *fakeRepo) FailRendition(assetUUID uuid.UUID, format string, withTexture bool, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rend, ok := r.renditions[renditionKey(assetUUID, format, withTexture)]
	if !ok {
		return database.ErrNotFound
	}
	rend.State = models.RenditionStateFailed
	rend.ErrorMessage = sql.NullString{String: errorMsg, Valid: true}
	return nil
}

// fakeVendor answers Query with a scripted result.
type fakeVendor struct {
	mu      sync.Mutex
	result  *tripo.QueryResult
	err     error
	queries int
}

func (v *fakeVendor) Query(taskID string) (*tripo.QueryResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queries++
	if v.err != nil {
		return nil, v.err
	}
	return v.result, nil
}

// fakeFetcher serves bytes for known URLs and 404s everything else.
type fakeFetcher struct {
	mu      sync.Mutex
	files   map[string][]byte
	fetches int
}

func (f *fakeFetcher) Fetch(url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if data, ok := f.files[url]; ok {
		return data, nil
	}
	return nil, tripo.ErrNotFound
}

func (f *fakeFetcher) FetchFirst(candidates []string) (string, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	for _, url := range candidates {
		if data, ok := f.files[url]; ok {
			return url, data, nil
		}
	}
	return "", nil, tripo.ErrNotFound
}

// fakeStore records uploads and deletions by key.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Upload(key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeStore) DownloadAndUpload(sourceURL, key string, headers map[string]string, contentType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload := []byte("remote:" + sourceURL)
	s.objects[key] = payload
	return int64(len(payload)), nil
}

func (s *fakeStore) Delete(keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.objects, key)
		s.deleted = append(s.deleted, key)
	}
	return nil
}

func (s *fakeStore) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

func (s *fakeStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	return out
}

func seedTask(repo *fakeRepo, taskID string, requestType int, fileURL string) *models.GenerationTask {
	t := &models.GenerationTask{
		TaskID:      taskID,
		UserUUID:    uuid.New(),
		RequestType: requestType,
		State:       "processing",
	}
	if fileURL != "" {
		t.FileURL = sql.NullString{String: fileURL, Valid: true}
	}
	repo.tasks[taskID] = t
	return t
}

func newTestFinalizer(repo *fakeRepo, vendor *fakeVendor, fetcher *fakeFetcher, store *fakeStore, opts services.Options) *services.Finalizer {
	return services.NewFinalizer(repo, vendor, fetcher, store, supabase.NewRealtimeClient(nil), opts)
}

func TestHandleVendorState_SuccessFinalizes(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	seedTask(repo, "task-1", tripo.RequestTypeGeometryTexture, "")
	f := newTestFinalizer(repo, &fakeVendor{}, &fakeFetcher{files: map[string][]byte{}}, store, services.Options{})

	asset, state, err := f.HandleVendorState("task-1", tripo.StateSuccess,
		"https://cdn.example.com/r/cover.webp", "https://cdn.example.com/r/scene.glb", "")
	require.NoError(t, err)
	assert.Equal(t, tripo.StateSuccess, state)
	require.NotNil(t, asset)

	assert.True(t, asset.FileKeyFull.Valid)
	assert.Equal(t, "glb", asset.FileFormat.String)
	assert.True(t, asset.CoverKey.Valid)

	// Primary file and cover landed under the asset's prefix.
	_, ok := store.get(asset.FileKeyFull.String)
	assert.True(t, ok)
	_, ok = store.get(asset.CoverKey.String)
	assert.True(t, ok)

	task, err := repo.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, "success", task.State)
}

func TestHandleVendorState_DuplicateSuccessIsNoOp(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	seedTask(repo, "task-1", tripo.RequestTypeGeometry, "")
	f := newTestFinalizer(repo, &fakeVendor{}, &fakeFetcher{files: map[string][]byte{}}, store, services.Options{})

	first, _, err := f.HandleVendorState("task-1", tripo.StateSuccess, "", "https://cdn.example.com/r/scene.glb", "")
	require.NoError(t, err)
	uploads := len(store.keys())

	second, _, err := f.HandleVendorState("task-1", tripo.StateSuccess, "", "https://cdn.example.com/r/scene.glb", "")
	require.NoError(t, err)

	assert.Equal(t, first.UUID, second.UUID)
	assert.Equal(t, uploads, len(store.keys()), "duplicate finalize must not re-upload")
}

func TestHandleVendorState_SuccessWithoutFileURLFails(t *testing.T) {
	repo := newFakeRepo()
	seedTask(repo, "task-1", tripo.RequestTypeGeometry, "")
	f := newTestFinalizer(repo, &fakeVendor{}, &fakeFetcher{}, newFakeStore(), services.Options{})

	_, _, err := f.HandleVendorState("task-1", tripo.StateSuccess, "", "", "")
	assert.Error(t, err)

	// Task stays non-terminal for the next trigger.
	task, _ := repo.GetTask("task-1")
	assert.Equal(t, "processing", task.State)
}

func TestHandleVendorState_FailureRefundsOnce(t *testing.T) {
	repo := newFakeRepo()
	seedTask(repo, "task-1", tripo.RequestTypeGeometry, "")
	f := newTestFinalizer(repo, &fakeVendor{}, &fakeFetcher{}, newFakeStore(), services.Options{})

	_, state, err := f.HandleVendorState("task-1", tripo.StateFailed, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, tripo.StateFailed, state)

	_, _, err = f.HandleVendorState("task-1", tripo.StateFailed, "", "", "")
	require.NoError(t, err)

	assert.Equal(t, 1, repo.refunds)
	task, _ := repo.GetTask("task-1")
	assert.Equal(t, "failed", task.State)
	assert.True(t, task.Refunded)
}

func TestHandleVendorState_FailureRecordsVendorReason(t *testing.T) {
	repo := newFakeRepo()
	seedTask(repo, "task-1", tripo.RequestTypeGeometry, "")
	f := newTestFinalizer(repo, &fakeVendor{}, &fakeFetcher{}, newFakeStore(), services.Options{})

	_, _, err := f.HandleVendorState("task-1", tripo.StateFailed, "", "", "texture baking ran out of memory")
	require.NoError(t, err)

	task, _ := repo.GetTask("task-1")
	assert.Equal(t, "texture baking ran out of memory", task.ErrorMessage.String)

	// Without a vendor message a generic reason still lands.
	repo2 := newFakeRepo()
	seedTask(repo2, "task-2", tripo.RequestTypeGeometry, "")
	f2 := newTestFinalizer(repo2, &fakeVendor{}, &fakeFetcher{}, newFakeStore(), services.Options{})
	_, _, err = f2.HandleVendorState("task-2", tripo.StateFailed, "", "", "")
	require.NoError(t, err)
	task2, _ := repo2.GetTask("task-2")
	assert.Equal(t, "vendor reported failure", task2.ErrorMessage.String)
}

func TestHandleVendorState_LostRaceDeletesOrphanedUploads(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	task := seedTask(repo, "task-1", tripo.RequestTypeGeometry, "")

	winner := &models.Asset{
		UUID:        uuid.New(),
		UserUUID:    task.UserUUID,
		TaskID:      sql.NullString{String: "task-1", Valid: true},
		Status:      models.AssetStatusActive,
		CoverKey:    sql.NullString{String: "assets/u/w/cover.webp", Valid: true},
		FileKeyFull: sql.NullString{String: "assets/u/w/model.glb", Valid: true},
		FileFormat:  sql.NullString{String: models.FormatGLB, Valid: true},
	}
	repo.winner = winner

	f := newTestFinalizer(repo, &fakeVendor{}, &fakeFetcher{files: map[string][]byte{}}, store, services.Options{})
	asset, _, err := f.HandleVendorState("task-1", tripo.StateSuccess,
		"https://cdn.example.com/r/cover.webp", "https://cdn.example.com/r/scene.glb", "")
	require.NoError(t, err)

	// The loser adopts the winner's row and its uploads are removed.
	assert.Equal(t, winner.UUID, asset.UUID)
	assert.Equal(t, winner.FileKeyFull.String, asset.FileKeyFull.String)
	assert.Len(t, store.deleted, 2)
	assert.Empty(t, store.keys())
}

func TestHandleVendorState_IntermediateRecordsState(t *testing.T) {
	repo := newFakeRepo()
	seedTask(repo, "task-1", tripo.RequestTypeGeometry, "")
	f := newTestFinalizer(repo, &fakeVendor{}, &fakeFetcher{}, newFakeStore(), services.Options{})

	_, state, err := f.HandleVendorState("task-1", tripo.StateQueueing, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, tripo.StateQueueing, state)

	task, _ := repo.GetTask("task-1")
	assert.Equal(t, "queueing", task.State)
}

func TestHandleVendorState_UnknownTask(t *testing.T) {
	f := newTestFinalizer(newFakeRepo(), &fakeVendor{}, &fakeFetcher{}, newFakeStore(), services.Options{})
	_, _, err := f.HandleVendorState("nope", tripo.StateSuccess, "", "", "")
	assert.ErrorIs(t, err, services.ErrUnknownTask)
}

func TestPoll_TerminalStatesSkipVendor(t *testing.T) {
	repo := newFakeRepo()
	vendor := &fakeVendor{}
	task := seedTask(repo, "task-1", tripo.RequestTypeGeometry, "")
	task.State = "failed"
	f := newTestFinalizer(repo, vendor, &fakeFetcher{}, newFakeStore(), services.Options{})

	_, state, err := f.Poll("task-1")
	require.NoError(t, err)
	assert.Equal(t, tripo.StateFailed, state)
	assert.Zero(t, vendor.queries)
}

func TestPoll_SuccessWithAssetSkipsVendor(t *testing.T) {
	repo := newFakeRepo()
	vendor := &fakeVendor{}
	task := seedTask(repo, "task-1", tripo.RequestTypeGeometry, "")
	task.State = "success"
	repo.assets["task-1"] = &models.Asset{
		UUID:        uuid.New(),
		UserUUID:    task.UserUUID,
		TaskID:      sql.NullString{String: "task-1", Valid: true},
		FileKeyFull: sql.NullString{String: "assets/a/b/model.glb", Valid: true},
	}
	f := newTestFinalizer(repo, vendor, &fakeFetcher{}, newFakeStore(), services.Options{})

	asset, state, err := f.Poll("task-1")
	require.NoError(t, err)
	assert.Equal(t, tripo.StateSuccess, state)
	require.NotNil(t, asset)
	assert.Zero(t, vendor.queries)
}

func TestPoll_VendorErrorReportsLastKnownState(t *testing.T) {
	repo := newFakeRepo()
	vendor := &fakeVendor{err: errors.New("vendor down")}
	seedTask(repo, "task-1", tripo.RequestTypeGeometry, "")
	f := newTestFinalizer(repo, vendor, &fakeFetcher{}, newFakeStore(), services.Options{})

	_, state, err := f.Poll("task-1")
	require.NoError(t, err)
	assert.Equal(t, tripo.StateProcessing, state)
}

func seededAsset(repo *fakeRepo, taskID string) *models.Asset {
	task := repo.tasks[taskID]
	asset := &models.Asset{
		UUID:        uuid.New(),
		UserUUID:    task.UserUUID,
		TaskID:      sql.NullString{String: taskID, Valid: true},
		Status:      models.AssetStatusActive,
		FileKeyFull: sql.NullString{String: "assets/u/a/model.glb", Valid: true},
		FileFormat:  sql.NullString{String: models.FormatGLB, Valid: true},
	}
	repo.assets[taskID] = asset
	return asset
}

func TestMaterializeRendition_InstantReady(t *testing.T) {
	repo := newFakeRepo()
	fetcher := &fakeFetcher{files: map[string][]byte{}}
	seedTask(repo, "task-1", tripo.RequestTypeGeometry, "https://cdn.example.com/r/scene.glb")
	asset := seededAsset(repo, "task-1")
	f := newTestFinalizer(repo, &fakeVendor{}, fetcher, newFakeStore(), services.Options{InstantReady: true})

	rend, err := f.MaterializeRendition(asset, models.FormatGLB, false)
	require.NoError(t, err)
	assert.Equal(t, models.RenditionStateSuccess, rend.State)
	assert.Equal(t, asset.FileKeyFull.String, rend.FileKey.String)
	assert.Zero(t, fetcher.fetches, "instant-ready must not touch the network")
}

func TestMaterializeRendition_TextureRequestSkipsInstantReady(t *testing.T) {
	repo := newFakeRepo()
	fetcher := &fakeFetcher{files: map[string][]byte{
		"https://cdn.example.com/r/scene.glb.zip": zipx.Encode([]zipx.Entry{{Name: "scene.glb", Data: []byte{1}}}),
	}}
	seedTask(repo, "task-1", tripo.RequestTypeGeometryTexture, "https://cdn.example.com/r/scene.glb")
	asset := seededAsset(repo, "task-1")
	f := newTestFinalizer(repo, &fakeVendor{}, fetcher, newFakeStore(), services.Options{InstantReady: true})

	// Same format as the original but with texture on: must go to the vendor.
	rend, err := f.MaterializeRendition(asset, models.FormatGLB, true)
	require.NoError(t, err)
	assert.Equal(t, models.RenditionStateSuccess, rend.State)
	assert.NotZero(t, fetcher.fetches)
}

func TestMaterializeRendition_RepeatAfterSuccessIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	fetcher := &fakeFetcher{files: map[string][]byte{
		"https://cdn.example.com/r/scene.stl": []byte("solid mesh"),
	}}
	seedTask(repo, "task-1", tripo.RequestTypeGeometry, "https://cdn.example.com/r/scene.glb")
	asset := seededAsset(repo, "task-1")
	f := newTestFinalizer(repo, &fakeVendor{}, fetcher, newFakeStore(), services.Options{})

	first, err := f.MaterializeRendition(asset, models.FormatSTL, false)
	require.NoError(t, err)
	require.Equal(t, models.RenditionStateSuccess, first.State)
	fetchesAfterFirst := fetcher.fetches

	second, err := f.MaterializeRendition(asset, models.FormatSTL, false)
	require.NoError(t, err)
	assert.Equal(t, models.RenditionStateSuccess, second.State)
	assert.Equal(t, first.FileKey.String, second.FileKey.String)
	assert.Equal(t, fetchesAfterFirst, fetcher.fetches, "repeat must not re-fetch")
}

func TestMaterializeRendition_MissingArtifactFailsRetriable(t *testing.T) {
	repo := newFakeRepo()
	fetcher := &fakeFetcher{files: map[string][]byte{}}
	seedTask(repo, "task-1", tripo.RequestTypeGeometry, "https://cdn.example.com/r/scene.glb")
	asset := seededAsset(repo, "task-1")
	f := newTestFinalizer(repo, &fakeVendor{}, fetcher, newFakeStore(), services.Options{})

	rend, err := f.MaterializeRendition(asset, models.FormatFBX, false)
	require.NoError(t, err)
	assert.Equal(t, models.RenditionStateFailed, rend.State)
	assert.True(t, rend.ErrorMessage.Valid)

	// A failed rendition can be claimed again.
	fetcher.mu.Lock()
	fetcher.files["https://cdn.example.com/r/scene.fbx"] = []byte("fbx bytes")
	fetcher.mu.Unlock()

	retried, err := f.MaterializeRendition(asset, models.FormatFBX, false)
	require.NoError(t, err)
	assert.Equal(t, models.RenditionStateSuccess, retried.State)
}

func TestMaterializeRendition_VendorZipUnpacked(t *testing.T) {
	repo := newFakeRepo()
	archive := zipx.Encode([]zipx.Entry{
		{Name: "scene.obj", Data: []byte("mtllib scene.mtl\nv 0 0 0\n")},
		{Name: "scene.mtl", Data: []byte("newmtl m\nmap_Kd albedo.png\n")},
		{Name: "albedo.png", Data: []byte{0x89, 1, 2}},
	})
	fetcher := &fakeFetcher{files: map[string][]byte{
		"https://cdn.example.com/r/scene.obj.zip": archive,
	}}
	store := newFakeStore()
	seedTask(repo, "task-1", tripo.RequestTypeGeometryTexture, "https://cdn.example.com/r/scene.glb")
	asset := seededAsset(repo, "task-1")
	f := newTestFinalizer(repo, &fakeVendor{}, fetcher, store, services.Options{})

	rend, err := f.MaterializeRendition(asset, models.FormatOBJ, true)
	require.NoError(t, err)
	require.Equal(t, models.RenditionStateSuccess, rend.State)
	assert.True(t, strings.HasSuffix(rend.FileKey.String, "model.obj.zip"))

	// The archive itself plus each unpacked bundle file.
	stored, ok := store.get(rend.FileKey.String)
	require.True(t, ok)
	assert.Equal(t, archive, stored)

	var unpacked int
	for _, key := range store.keys() {
		if strings.Contains(key, "/obj/") {
			unpacked++
		}
	}
	assert.Equal(t, 3, unpacked)
}

func TestMaterializeRendition_ObjBundleAssembled(t *testing.T) {
	repo := newFakeRepo()
	fetcher := &fakeFetcher{files: map[string][]byte{
		"https://cdn.example.com/r/model/scene.obj": []byte("mtllib scene.mtl\nv 0 0 0\n"),
		// MTL lives in the parent dir, exercising the alternate-dir probe.
		"https://cdn.example.com/r/scene.mtl":       []byte("newmtl m\nmap_Kd albedo.png\n"),
		"https://cdn.example.com/r/albedo.png":      []byte{0x89, 'P', 'N', 'G'},
	}}
	store := newFakeStore()
	seedTask(repo, "task-1", tripo.RequestTypeGeometryTexture, "https://cdn.example.com/r/model/scene.glb")
	asset := seededAsset(repo, "task-1")
	f := newTestFinalizer(repo, &fakeVendor{}, fetcher, store, services.Options{})

	rend, err := f.MaterializeRendition(asset, models.FormatOBJ, true)
	require.NoError(t, err)
	require.Equal(t, models.RenditionStateSuccess, rend.State)

	bundle, ok := store.get(rend.FileKey.String)
	require.True(t, ok)
	entries, err := zipx.Decode(bundle)
	require.NoError(t, err)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	assert.ElementsMatch(t, []string{"scene.obj", "scene.mtl", "albedo.png"}, names)
}

func TestMaterializeRendition_ObjWithoutTextureSkipsMaterials(t *testing.T) {
	repo := newFakeRepo()
	fetcher := &fakeFetcher{files: map[string][]byte{
		"https://cdn.example.com/r/scene.obj": []byte("mtllib scene.mtl\nv 0 0 0\n"),
		"https://cdn.example.com/r/scene.mtl": []byte("newmtl m\nmap_Kd albedo.png\n"),
	}}
	store := newFakeStore()
	seedTask(repo, "task-1", tripo.RequestTypeGeometry, "https://cdn.example.com/r/scene.glb")
	asset := seededAsset(repo, "task-1")
	f := newTestFinalizer(repo, &fakeVendor{}, fetcher, store, services.Options{})

	rend, err := f.MaterializeRendition(asset, models.FormatOBJ, false)
	require.NoError(t, err)
	require.Equal(t, models.RenditionStateSuccess, rend.State)

	bundle, _ := store.get(rend.FileKey.String)
	entries, err := zipx.Decode(bundle)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "scene.obj", entries[0].Name)
}
