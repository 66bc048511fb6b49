package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"watchy/internal/domain"
	"watchy/internal/downloader"
	"watchy/internal/repository/sqlite"
	"watchy/internal/resolver"
	"watchy/internal/service"
	"watchy/internal/storage"
)

type fakeResolver struct {
	res domain.Resolution
	err error
}

func (f *fakeResolver) Resolve(context.Context, string) (domain.Resolution, error) {
	return f.res, f.err
}

type submission struct {
	url  string
	opts downloader.SubmitOptions
}

type fakeQueue struct {
	mu        sync.Mutex
	submitted []submission
}

func (q *fakeQueue) Submit(url string, opts downloader.SubmitOptions) domain.DownloadJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.submitted = append(q.submitted, submission{url: url, opts: opts})
	return domain.DownloadJob{ID: url, URL: url, Directory: opts.Directory, MagnetTitle: opts.MagnetTitle, State: domain.JobStateQueued}
}

func (q *fakeQueue) Snapshot() []domain.DownloadJob {
	return []domain.DownloadJob{{ID: "active-1", URL: "https://cdn/a", State: domain.JobStateActive}}
}

type fakeEvents struct {
	mu   sync.Mutex
	subs []func(domain.DownloadEvent)
}

func (e *fakeEvents) Subscribe(fn func(domain.DownloadEvent)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, fn)
	return func() {}
}

func (e *fakeEvents) emit(event domain.DownloadEvent) {
	e.mu.Lock()
	subs := append([]func(domain.DownloadEvent){}, e.subs...)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(event)
	}
}

func (e *fakeEvents) subscribed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs) > 0
}

type testEnv struct {
	router   *gin.Engine
	resolver *fakeResolver
	queue    *fakeQueue
	events   *fakeEvents
	library  service.LibraryService
	handler  *Handler
}

func newTestEnv(t *testing.T, auth service.AuthService) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "watchy.db"))
	require.NoError(t, err)
	store := sqlite.NewKVStore(db)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(context.Background()))

	if auth == nil {
		auth, err = service.NewAuthService("", "", 0)
		require.NoError(t, err)
	}

	env := &testEnv{
		resolver: &fakeResolver{},
		queue:    &fakeQueue{},
		events:   &fakeEvents{},
		library:  service.NewLibraryService(store),
	}
	env.handler = NewHandler(Dependencies{
		Resolver: env.resolver,
		Queue:    env.queue,
		Events:   env.events,
		Library:  env.library,
		Auth:     auth,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("metrics"))
		}),
	})
	env.router = gin.New()
	env.handler.RegisterRoutes(env.router)
	return env
}

func (env *testEnv) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func TestResolveEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.resolver.res = domain.Resolution{
		Status: domain.ResolutionReady,
		Hash:   "abc",
		Files:  []domain.ResolvedFile{{Filename: "a.mkv", DirectURL: "https://cdn/a"}},
	}

	rec := env.do(http.MethodPost, "/api/resolve", gin.H{"magnet": "magnet:?xt=urn:btih:abc"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ResolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.ResolutionReady, resp.Status)
	assert.Equal(t, "Ready to play.", resp.Message)
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "https://cdn/a", resp.Files[0].DirectURL)

	rec = env.do(http.MethodPost, "/api/resolve", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveEndpointStepError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.resolver.err = &resolver.StepError{Step: resolver.StepUpload, Err: errors.New("boom")}

	rec := env.do(http.MethodPost, "/api/resolve", gin.H{"magnet": "m"})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"step":"upload"`)
	assert.Contains(t, rec.Body.String(), "failed to upload magnet")
}

func TestDownloadMagnetQueuesResolvedFiles(t *testing.T) {
	env := newTestEnv(t, nil)
	env.resolver.res = domain.Resolution{
		Status: domain.ResolutionReady,
		Hash:   "abc",
		Files: []domain.ResolvedFile{
			{Filename: "e01.mkv", DirectURL: "https://cdn/1"},
			{Filename: "e02.mkv", DirectURL: "https://cdn/2"},
		},
	}

	rec := env.do(http.MethodPost, "/api/magnets/download", gin.H{
		"magnet":    "magnet:?xt=urn:btih:abc&dn=My%20Show",
		"directory": "/media/show",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, env.queue.submitted, 2)
	assert.Equal(t, "https://cdn/1", env.queue.submitted[0].url)
	assert.Equal(t, downloader.SubmitOptions{Directory: "/media/show", MagnetTitle: "My Show"}, env.queue.submitted[0].opts)
}

func TestDownloadMagnetStillCaching(t *testing.T) {
	env := newTestEnv(t, nil)
	env.resolver.res = domain.Resolution{Status: domain.ResolutionStillCaching, Hash: "abc"}

	rec := env.do(http.MethodPost, "/api/magnets/download", gin.H{"magnet": "m"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "still-caching")
	assert.Empty(t, env.queue.submitted)
}

func TestSubmitDownloads(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/downloads", gin.H{
		"url":          "https://cdn/1",
		"urls":         []string{"https://cdn/2", " "},
		"magnet_title": "Show",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var jobs []JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, "https://cdn/1", jobs[0].URL)
	assert.Equal(t, "Show", jobs[1].MagnetTitle)

	rec = env.do(http.MethodPost, "/api/downloads", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/downloads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "active-1")
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.library.AddDownloadHistory(ctx, domain.DownloadHistoryEntry{Filename: "a.mkv", MagnetTitle: "Show", State: domain.JobStateCompleted}))

	rec := env.do(http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.DownloadHistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)

	rec = env.do(http.MethodDelete, "/api/history/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodDelete, "/api/history/"+history[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodDelete, "/api/history", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWatchedEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/watched", gin.H{"magnet_hash": "h1", "magnet_title": "Show", "filename": "e01.mkv"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/api/watched", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var watched []domain.WatchHistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &watched))
	require.Len(t, watched, 1)

	rec = env.do(http.MethodDelete, "/api/watched/"+watched[0].ID+"/files", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodDelete, "/api/watched/"+watched[0].ID+"/files?filename=e01.mkv", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodDelete, "/api/watched/"+watched[0].ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "entry went away with its last file")
}

func TestLibraryEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/library/searches", gin.H{"query": "dune"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(http.MethodPost, "/api/library/searches", gin.H{"query": "arrival"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(http.MethodPost, "/api/library/searches", gin.H{"query": "dune"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = env.do(http.MethodPost, "/api/library/searches", gin.H{"query": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/library/searches", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var searches []domain.SavedSearch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &searches))
	require.Len(t, searches, 2)
	assert.Equal(t, "arrival", searches[0].Query)

	rec = env.do(http.MethodDelete, "/api/library/searches/"+searches[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	magnet := gin.H{"title": "Dune", "magnet": "magnet:?xt=urn:btih:aaaa", "size": "2 GB", "seeds": 9, "imdb_id": "tt1160419"}
	rec = env.do(http.MethodPost, "/api/library/magnets", magnet)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(http.MethodPost, "/api/library/magnets", magnet)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = env.do(http.MethodPost, "/api/library/magnets", gin.H{"title": "no locator"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/library/magnets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var magnets []domain.SavedMagnet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &magnets))
	require.Len(t, magnets, 1)
	assert.Equal(t, 9, magnets[0].Seeds)
	require.NotNil(t, magnets[0].ImdbID)
	assert.Equal(t, "tt1160419", *magnets[0].ImdbID)
	assert.Nil(t, magnets[0].CanonicalTitle)

	rec = env.do(http.MethodDelete, "/api/library/magnets/"+magnets[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(http.MethodDelete, "/api/library/magnets/"+magnets[0].ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStorageNotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/api/storage/objects", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeStorage struct {
	objects []storage.ObjectInfo
	deleted []string
	expiry  time.Duration
}

func (f *fakeStorage) UploadFile(context.Context, string, string, storage.UploadOptions) (string, error) {
	return "", nil
}

func (f *fakeStorage) ListObjects(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for _, obj := range f.objects {
		if strings.HasPrefix(obj.Key, prefix) {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (f *fakeStorage) ObjectURL(_ context.Context, key string, expires time.Duration) (string, error) {
	f.expiry = expires
	return "https://bucket.example/" + key + "?sig=1", nil
}

func (f *fakeStorage) DeletePrefix(_ context.Context, prefix string) error {
	f.deleted = append(f.deleted, prefix)
	return nil
}

func TestStorageObjects(t *testing.T) {
	env := newTestEnv(t, nil)
	modified := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStorage{objects: []storage.ObjectInfo{
		{Key: "media/Show/e01.mkv", Size: 42, LastModified: &modified},
		{Key: "other/file.bin", Size: 7},
	}}
	env.handler.deps.Storage = store

	rec := env.do(http.MethodGet, "/api/storage/objects?prefix=media/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var objects []StorageObjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &objects))
	require.Len(t, objects, 1)
	assert.Equal(t, "media/Show/e01.mkv", objects[0].Key)
	require.NotNil(t, objects[0].LastModified)
	assert.Equal(t, "2024-03-01T12:00:00Z", *objects[0].LastModified)

	rec = env.do(http.MethodDelete, "/api/storage/objects", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.deleted)

	rec = env.do(http.MethodDelete, "/api/storage/objects?prefix=media/Show/", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"media/Show/"}, store.deleted)
}

func TestStorageObjectURL(t *testing.T) {
	env := newTestEnv(t, nil)
	store := &fakeStorage{}
	env.handler.deps.Storage = store

	rec := env.do(http.MethodGet, "/api/storage/objects/url", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodGet, "/api/storage/objects/url?key=a.mkv&expires=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/storage/objects/url?key=media/Show/e01.mkv&expires=600", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ObjectURLResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "media/Show/e01.mkv", resp.Key)
	assert.Equal(t, "https://bucket.example/media/Show/e01.mkv?sig=1", resp.URL)
	assert.Equal(t, 10*time.Minute, store.expiry)
	assert.NotEmpty(t, resp.ExpiresAt)

	rec = env.do(http.MethodGet, "/api/storage/objects/url?key=a.mkv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, storage.DefaultURLExpiry, store.expiry)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/health", nil).Code)
	rec := env.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, "metrics", rec.Body.String())

	rec = env.do(http.MethodOptions, "/api/resolve", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuthFlow(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)
	auth, err := service.NewAuthService(string(hash), "secret", time.Hour)
	require.NoError(t, err)
	env := newTestEnv(t, auth)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/history", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/health", nil).Code)

	rec := env.do(http.MethodPost, "/api/auth/token", gin.H{"password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/auth/token", gin.H{"password": "hunter22"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)

	rec = env.do(http.MethodGet, "/api/history", nil, "Authorization", "Bearer "+body.Token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/history?token="+body.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStreamEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/downloads/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, env.events.subscribed, 5*time.Second, 10*time.Millisecond)
	env.events.emit(domain.DownloadEvent{JobID: "job-9", State: domain.JobStateCompleted, MagnetTitle: "Show"})

	reader := bufio.NewReader(resp.Body)
	var data []string
	for len(data) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = append(data, strings.TrimPrefix(strings.TrimSpace(line), "data: "))
		}
	}

	assert.Contains(t, data[0], `"id":"active-1"`)
	assert.Contains(t, data[1], `"id":"job-9"`)
	assert.Contains(t, data[1], `"state":"completed"`)
}
