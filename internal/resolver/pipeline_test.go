package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchy/internal/alldebrid"
	"watchy/internal/domain"
)

const testMagnet = "magnet:?xt=urn:btih:ABCDEF0123456789ABCDEF0123456789ABCDEF01&dn=Some.Show"
const testHash = "abcdef0123456789abcdef0123456789abcdef01"

type fakeClient struct {
	mu sync.Mutex

	uploadResult *alldebrid.UploadResult
	uploadErr    error
	status       map[string]*alldebrid.MagnetStatus
	statusErr    error
	files        map[string][]alldebrid.FileNode
	filesErr     error
	legacy       map[string]*alldebrid.MagnetStatus
	unlock       map[string]*alldebrid.UnlockedLink

	uploads  int
	statuses []string
	listings []string
	legacies []string
	unlocks  []string
}

func (f *fakeClient) UploadMagnet(_ context.Context, magnet string) (*alldebrid.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return f.uploadResult, nil
}

func (f *fakeClient) StatusByID(_ context.Context, id string) (*alldebrid.MagnetStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, id)
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if s, ok := f.status[id]; ok {
		return s, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeClient) Files(_ context.Context, ids []string) ([]alldebrid.MagnetFiles, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings = append(f.listings, ids...)
	if f.filesErr != nil {
		return nil, f.filesErr
	}
	var out []alldebrid.MagnetFiles
	for _, id := range ids {
		out = append(out, alldebrid.MagnetFiles{ID: alldebrid.RemoteID(id), Files: f.files[id]})
	}
	return out, nil
}

func (f *fakeClient) LegacyStatus(_ context.Context, id string) (*alldebrid.MagnetStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.legacies = append(f.legacies, id)
	if s, ok := f.legacy[id]; ok {
		return s, nil
	}
	return nil, errors.New("legacy status unavailable")
}

func (f *fakeClient) UnlockLink(_ context.Context, link string) (*alldebrid.UnlockedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocks = append(f.unlocks, link)
	if u, ok := f.unlock[link]; ok {
		return u, nil
	}
	return nil, errors.New("link down")
}

type memoryCache struct {
	ids    map[string]string
	writes int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{ids: map[string]string{}}
}

func (c *memoryCache) MagnetID(_ context.Context, hash string) (string, bool, error) {
	id, ok := c.ids[hash]
	return id, ok, nil
}

func (c *memoryCache) SetMagnetID(_ context.Context, hash, id string) error {
	c.writes++
	c.ids[hash] = id
	return nil
}

func readyStatus() *alldebrid.MagnetStatus {
	return &alldebrid.MagnetStatus{StatusCode: alldebrid.StatusReady, Status: "Ready"}
}

func episodeTree() []alldebrid.FileNode {
	return []alldebrid.FileNode{
		{Name: "Season 1", Children: []alldebrid.FileNode{
			{Name: "e01.mkv", Link: "https://host/e01"},
			{Name: "e02.mkv", Link: "https://host/e02"},
		}},
		{Name: "readme.txt", Link: "https://host/readme"},
	}
}

func TestResolveCachedReadySkipsUpload(t *testing.T) {
	client := &fakeClient{
		status: map[string]*alldebrid.MagnetStatus{"42": readyStatus()},
		files:  map[string][]alldebrid.FileNode{"42": episodeTree()},
	}
	cache := newMemoryCache()
	cache.ids[testHash] = "42"

	res, err := NewPipeline(Config{}, client, cache).Resolve(context.Background(), testMagnet)
	require.NoError(t, err)

	assert.Equal(t, domain.ResolutionReady, res.Status)
	assert.Equal(t, "42", res.RemoteID)
	assert.Equal(t, 0, client.uploads)
	assert.Equal(t, 0, cache.writes)
	require.Len(t, res.Files, 3)
	assert.Equal(t, "Season 1/e01.mkv", res.Files[0].Filename)
}

func TestResolveUploadThenCache(t *testing.T) {
	client := &fakeClient{
		uploadResult: &alldebrid.UploadResult{ID: "7", Ready: true},
		status:       map[string]*alldebrid.MagnetStatus{"7": readyStatus()},
		files:        map[string][]alldebrid.FileNode{"7": episodeTree()},
	}
	cache := newMemoryCache()
	p := NewPipeline(Config{}, client, cache)

	first, err := p.Resolve(context.Background(), testMagnet)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionReady, first.Status)
	assert.Equal(t, "7", cache.ids[testHash])
	assert.Equal(t, 1, client.uploads)
	assert.Empty(t, client.statuses)

	second, err := p.Resolve(context.Background(), testMagnet)
	require.NoError(t, err)
	assert.Equal(t, first.Files, second.Files)
	assert.Equal(t, 1, client.uploads, "cached ready magnet is not uploaded again")
	assert.Equal(t, []string{"7"}, client.statuses)
}

func TestResolveStillCaching(t *testing.T) {
	client := &fakeClient{uploadResult: &alldebrid.UploadResult{ID: "9", Ready: false}}
	cache := newMemoryCache()

	res, err := NewPipeline(Config{}, client, cache).Resolve(context.Background(), testMagnet)
	require.NoError(t, err)

	assert.Equal(t, domain.ResolutionStillCaching, res.Status)
	assert.Empty(t, res.Files)
	assert.Equal(t, "9", cache.ids[testHash])
	assert.Empty(t, client.listings)
	assert.Empty(t, client.legacies)
	assert.NotEqual(t, domain.Resolution{Status: domain.ResolutionNoFiles}.Message(), res.Message())
}

func TestResolveStaleCachedIDReuploads(t *testing.T) {
	client := &fakeClient{
		uploadResult: &alldebrid.UploadResult{ID: "new", Ready: true},
		status: map[string]*alldebrid.MagnetStatus{
			"old": {StatusCode: 1, Status: "Downloading"},
		},
		files: map[string][]alldebrid.FileNode{"new": {{Name: "movie.mkv", Link: "https://host/movie"}}},
	}
	cache := newMemoryCache()
	cache.ids[testHash] = "old"

	res, err := NewPipeline(Config{}, client, cache).Resolve(context.Background(), testMagnet)
	require.NoError(t, err)

	assert.Equal(t, domain.ResolutionReady, res.Status)
	assert.Equal(t, 1, client.uploads)
	assert.Equal(t, "new", cache.ids[testHash])
	assert.Equal(t, []string{"new"}, client.listings, "files of a not ready id are never listed")
}

func TestResolveFastPathErrorFallsThrough(t *testing.T) {
	client := &fakeClient{
		uploadResult: &alldebrid.UploadResult{ID: "5", Ready: false},
		statusErr:    errors.New("timeout"),
	}
	cache := newMemoryCache()
	cache.ids[testHash] = "4"

	res, err := NewPipeline(Config{}, client, cache).Resolve(context.Background(), testMagnet)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionStillCaching, res.Status)
	assert.Equal(t, "5", cache.ids[testHash])
}

func TestResolveUploadFailureDoesNotCache(t *testing.T) {
	cause := &alldebrid.APIError{Code: "MAGNET_INVALID_URI", Message: "invalid"}
	client := &fakeClient{uploadErr: cause}
	cache := newMemoryCache()

	_, err := NewPipeline(Config{}, client, cache).Resolve(context.Background(), testMagnet)
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepUpload, stepErr.Step)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 0, cache.writes)
}

func TestResolveFilesFailure(t *testing.T) {
	client := &fakeClient{
		uploadResult: &alldebrid.UploadResult{ID: "3", Ready: true},
		filesErr:     errors.New("bad gateway"),
	}

	_, err := NewPipeline(Config{}, client, newMemoryCache()).Resolve(context.Background(), testMagnet)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepFiles, stepErr.Step)
}

func TestResolveEmptyListingUsesLegacyLinks(t *testing.T) {
	client := &fakeClient{
		uploadResult: &alldebrid.UploadResult{ID: "11", Ready: true},
		status:       map[string]*alldebrid.MagnetStatus{"11": readyStatus()},
		files:        map[string][]alldebrid.FileNode{},
		legacy: map[string]*alldebrid.MagnetStatus{
			"11": {StatusCode: alldebrid.StatusReady, Links: []alldebrid.LinkRef{
				{Link: "https://hoster/a"},
				{Link: "https://hoster/broken"},
				{Link: "https://hoster/c"},
			}},
		},
		unlock: map[string]*alldebrid.UnlockedLink{
			"https://hoster/a": {Filename: "a.mkv", Link: "https://direct/a"},
			"https://hoster/c": {Filename: "c.mkv", Link: "https://direct/c"},
		},
	}
	cache := newMemoryCache()
	cache.ids[testHash] = "11"

	res, err := NewPipeline(Config{}, client, cache).Resolve(context.Background(), testMagnet)
	require.NoError(t, err)

	assert.Equal(t, domain.ResolutionReady, res.Status)
	assert.Equal(t, []string{"11"}, client.legacies)
	assert.ElementsMatch(t, []string{"https://hoster/a", "https://hoster/broken", "https://hoster/c"}, client.unlocks)
	assert.Equal(t, []domain.ResolvedFile{
		{Filename: "a.mkv", DirectURL: "https://direct/a"},
		{Filename: "c.mkv", DirectURL: "https://direct/c"},
	}, res.Files)
}

func TestResolveNoFiles(t *testing.T) {
	client := &fakeClient{
		uploadResult: &alldebrid.UploadResult{ID: "12", Ready: true},
		legacy:       map[string]*alldebrid.MagnetStatus{"12": {StatusCode: alldebrid.StatusReady}},
	}

	res, err := NewPipeline(Config{}, client, newMemoryCache()).Resolve(context.Background(), testMagnet)
	require.NoError(t, err)
	assert.Equal(t, domain.ResolutionNoFiles, res.Status)
	assert.Equal(t, "No files found.", res.Message())
	assert.Equal(t, []string{"12"}, client.legacies)
}

func TestResolveLegacyStatusFailure(t *testing.T) {
	client := &fakeClient{uploadResult: &alldebrid.UploadResult{ID: "13", Ready: true}}

	_, err := NewPipeline(Config{}, client, newMemoryCache()).Resolve(context.Background(), testMagnet)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepStatus, stepErr.Step)
}

func TestResolveHashlessMagnetUsesIdentityKey(t *testing.T) {
	client := &fakeClient{uploadResult: &alldebrid.UploadResult{ID: "1", Ready: false}}
	cache := newMemoryCache()

	res, err := NewPipeline(Config{}, client, cache).ResolveResult(context.Background(), domain.SearchResult{Magnet: "not-a-magnet"})
	require.NoError(t, err)
	assert.Equal(t, "not-a-magnet", res.Hash)
	assert.Equal(t, "1", cache.ids["not-a-magnet"])
}

func TestFlattenDepthFirst(t *testing.T) {
	tree := []alldebrid.FileNode{
		{Name: "root", Children: []alldebrid.FileNode{
			{Name: "a", Children: []alldebrid.FileNode{
				{Name: "1.mkv", Link: "l1"},
			}},
			{Name: "2.mkv", Link: "l2"},
			{Name: "empty"},
		}},
		{Name: "3.mkv", Link: "l3"},
	}

	files := Flatten(tree, "")
	assert.Equal(t, []domain.ResolvedFile{
		{Filename: "root/a/1.mkv", DirectURL: "l1"},
		{Filename: "root/2.mkv", DirectURL: "l2"},
		{Filename: "3.mkv", DirectURL: "l3"},
	}, files)

	prefixed := Flatten([]alldebrid.FileNode{{Name: "x.mkv", Link: "lx"}}, "dir")
	assert.Equal(t, "dir/x.mkv", prefixed[0].Filename)
	assert.Empty(t, Flatten(nil, ""))
}
