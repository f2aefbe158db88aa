package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camden-git/mediasyncd/config"
	"github.com/camden-git/mediasyncd/database"
	"github.com/camden-git/mediasyncd/reindex"
	"github.com/camden-git/mediasyncd/sources"
	"github.com/camden-git/mediasyncd/storage"
)

type testEnv struct {
	cfg      config.Config
	registry *sources.Registry
	dbCache  *database.ProjectDBCache
	router   *chi.Mux
	project  storage.Project
}

func newTestEnv(t *testing.T, maxUploadBytes int64) *testEnv {
	t.Helper()
	cfg := config.Config{
		ProjectsRoot:      t.TempDir(),
		SourcesParentRoot: t.TempDir(),
		MaxUploadBytes:    maxUploadBytes,
	}
	registry := sources.NewRegistry(cfg)
	dbCache := database.NewProjectDBCache()
	reconciler := reindex.NewReconciler(dbCache)

	project := storage.NewProject("p1", sources.PrimaryName, cfg.ProjectsRoot)
	require.NoError(t, os.MkdirAll(project.Root, 0755))
	require.NoError(t, project.EnsureLayout())
	_, err := storage.SeedIndex(project, "")
	require.NoError(t, err)

	uploadHandler := NewUploadHandler(registry, dbCache, cfg.MaxUploadBytes)
	mediaHandler := NewMediaHandler(registry, dbCache)
	projectHandler := NewProjectHandler(registry, reconciler)

	r := chi.NewRouter()
	r.Route("/api/projects/{project_name}", func(r chi.Router) {
		r.Get("/", projectHandler.GetProject)
		r.Post("/upload", uploadHandler.Upload)
		r.Route("/batches", func(r chi.Router) {
			r.Post("/", uploadHandler.BatchStart)
			r.Get("/{batch_id}", uploadHandler.BatchSnapshot)
			r.Post("/{batch_id}/finalize", uploadHandler.BatchFinalize)
		})
		r.Get("/media", mediaHandler.ListMedia)
		r.Delete("/media/*", mediaHandler.DeleteMedia)
	})

	return &testEnv{cfg: cfg, registry: registry, dbCache: dbCache, router: r, project: project}
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func (env *testEnv) upload(t *testing.T, url, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, url, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeResults(t *testing.T, rec *httptest.ResponseRecorder) []UploadResult {
	t.Helper()
	var response struct {
		Results []UploadResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	return response.Results
}

func TestUpload_StoresAndDeduplicates(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	content := []byte("the one true clip")

	rec := env.upload(t, "/api/projects/p1/upload", "clip.mp4", content)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	results := decodeResults(t, rec)
	require.Len(t, results, 1)
	assert.False(t, results[0].Duplicate)
	assert.Equal(t, "ingest/originals/clip.mp4", results[0].RelativePath)
	assert.Equal(t, int64(len(content)), results[0].SizeBytes)
	assert.NotEmpty(t, results[0].StreamURL)

	stored, err := os.ReadFile(filepath.Join(env.project.OriginalsDir(), "clip.mp4"))
	require.NoError(t, err)
	assert.Equal(t, content, stored)

	// identical content under a different name is a duplicate, not a store
	rec = env.upload(t, "/api/projects/p1/upload", "clip_copy.mp4", content)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	results = decodeResults(t, rec)
	require.Len(t, results, 1)
	assert.True(t, results[0].Duplicate)
	assert.Equal(t, "ingest/originals/clip.mp4", results[0].RelativePath)

	_, err = os.Stat(filepath.Join(env.project.OriginalsDir(), "clip_copy.mp4"))
	assert.True(t, os.IsNotExist(err))

	doc, err := storage.LoadIndex(env.project)
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Counts.Videos)
	assert.Equal(t, int64(1), doc.Counts.DuplicatesSkipped)

	// no scratch residue under the manifest directory
	entries, err := os.ReadDir(env.project.ManifestDir())
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".upload-")
	}
}

func TestUpload_NameCollisionWithDifferentContent(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	rec := env.upload(t, "/api/projects/p1/upload", "clip.mp4", []byte("first content"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.upload(t, "/api/projects/p1/upload", "clip.mp4", []byte("second content"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	results := decodeResults(t, rec)
	require.Len(t, results, 1)
	assert.False(t, results[0].Duplicate)
	assert.NotEqual(t, "ingest/originals/clip.mp4", results[0].RelativePath,
		"the second file must land on a disambiguated name")
}

func TestUpload_RejectsUnsupportedType(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	rec := env.upload(t, "/api/projects/p1/upload", "notes.txt", []byte("plain text"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_EnforcesSizeLimit(t *testing.T) {
	env := newTestEnv(t, 64)
	rec := env.upload(t, "/api/projects/p1/upload", "big.mp4", bytes.Repeat([]byte("x"), 256))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUpload_TruncatedMultipartStream(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	// one complete part, then the stream dies right after the next boundary
	boundary := "testboundary"
	body := "--" + boundary + "\r\n" +
		"Content-Disposition: form-data; name=\"file\"; filename=\"clip.mp4\"\r\n\r\n" +
		"first clip bytes\r\n" +
		"--" + boundary + "\r\n"

	req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/upload", strings.NewReader(body))
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestUpload_UnknownProject(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	rec := env.upload(t, "/api/projects/ghost/upload", "clip.mp4", []byte("content"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpload_UnreachableSourceIsNotFound(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	_, err := env.registry.Register("nas", filepath.Join(env.cfg.SourcesParentRoot, "offline"), "smb", true)
	require.NoError(t, err)

	rec := env.upload(t, "/api/projects/p1/upload?source=nas", "clip.mp4", []byte("content"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchUploadFlow(t *testing.T) {
	env := newTestEnv(t, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/api/projects/p1/batches/", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var meta storage.BatchMeta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	require.NotEmpty(t, meta.BatchID)

	env.upload(t, "/api/projects/p1/upload?batch_id="+meta.BatchID, "clip1.mp4", []byte("one"))
	env.upload(t, "/api/projects/p1/upload?batch_id="+meta.BatchID, "clip2.mp4", []byte("one"))

	req = httptest.NewRequest(http.MethodPost, "/api/projects/p1/batches/"+meta.BatchID+"/finalize", nil)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var finalized struct {
		Summary storage.BatchSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &finalized))
	assert.Equal(t, 2, finalized.Summary.Total)
	assert.Equal(t, 1, finalized.Summary.Stored)
	assert.Equal(t, 1, finalized.Summary.Duplicates)

	// an upload against a finalized batch is refused
	rec = env.upload(t, "/api/projects/p1/upload?batch_id="+meta.BatchID, "clip3.mp4", []byte("three"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListMedia_NaturalOrder(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	env.upload(t, "/api/projects/p1/upload", "clip_10.mp4", []byte("ten"))
	env.upload(t, "/api/projects/p1/upload", "clip_2.mp4", []byte("two"))

	req := httptest.NewRequest(http.MethodGet, "/api/projects/p1/media", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Media []MediaListing `json:"media"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response.Media, 2)
	assert.Equal(t, "ingest/originals/clip_2.mp4", response.Media[0].RelativePath)
	assert.Equal(t, "ingest/originals/clip_10.mp4", response.Media[1].RelativePath)
	assert.NotEmpty(t, response.Media[0].SizeHuman)
}

func TestDeleteMedia(t *testing.T) {
	env := newTestEnv(t, 1<<20)
	rec := env.upload(t, "/api/projects/p1/upload", "clip.mp4", []byte("bytes"))
	results := decodeResults(t, rec)
	require.Len(t, results, 1)

	// a stored thumbnail and the ingest sidecar share the record's hash key
	thumbPath := filepath.Join(env.project.ThumbnailsDir(), results[0].Sha256+".jpg")
	require.NoError(t, os.WriteFile(thumbPath, []byte("thumb"), 0644))
	sidecarPath := filepath.Join(env.project.MetadataDir(), results[0].Sha256+".json")
	_, err := os.Stat(sidecarPath)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/api/projects/p1/media/"+results[0].RelativePath, nil)
	rec2 := httptest.NewRecorder()
	env.router.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusOK, rec2.Code, rec2.Body.String())

	_, err = os.Stat(filepath.Join(env.project.OriginalsDir(), "clip.mp4"))
	assert.True(t, os.IsNotExist(err))

	// the hash-keyed companions go with the last record of that hash
	_, err = os.Stat(sidecarPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(thumbPath)
	assert.True(t, os.IsNotExist(err))

	doc, err := storage.LoadIndex(env.project)
	require.NoError(t, err)
	assert.Equal(t, int64(0), doc.Counts.Videos)

	// deleting again is NotFound
	rec3 := httptest.NewRecorder()
	env.router.ServeHTTP(rec3, httptest.NewRequest(http.MethodDelete, "/api/projects/p1/media/"+results[0].RelativePath, nil))
	assert.Equal(t, http.StatusNotFound, rec3.Code)
}
