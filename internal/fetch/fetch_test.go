package fetch

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipiton/depsolve/internal/download"
	"github.com/ipiton/depsolve/internal/ifacecache"
	"github.com/ipiton/depsolve/internal/model"
)

// fakeDownloads serves fixed byte payloads keyed by URL, skipping the
// network entirely.
type fakeDownloads struct {
	mu      sync.Mutex
	payload map[string][]byte
	fail    map[string]error
}

func newFakeDownloads() *fakeDownloads {
	return &fakeDownloads{payload: make(map[string][]byte), fail: make(map[string]error)}
}

func (f *fakeDownloads) Begin(ctx context.Context, url string) (string, error) {
	return url, nil
}

func (f *fakeDownloads) Await(ctx context.Context, jobID string) (download.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[jobID]; ok {
		return download.Result{}, err
	}
	body, ok := f.payload[jobID]
	if !ok {
		return download.Result{}, fmt.Errorf("fakeDownloads: no payload for %q", jobID)
	}
	return download.Result{Body: io.NopCloser(bytes.NewReader(body)), Size: int64(len(body))}, nil
}

func (f *fakeDownloads) Cancel(jobID string) {}

// fakeStore is an in-memory Store good enough to exercise FetchImplementation
// without touching the filesystem's real content-addressing logic.
type fakeStore struct {
	mu        sync.Mutex
	dir       string
	committed map[string]string
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	return &fakeStore{dir: t.TempDir(), committed: make(map[string]string)}
}

func (s *fakeStore) Lookup(digest string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.committed[digest]
	return path, ok
}

func (s *fakeStore) StageTemp() (string, error) {
	return os.MkdirTemp(s.dir, "stage-")
}

func (s *fakeStore) VerifyAndCommit(ctx context.Context, tempDir, wantDigest string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed[wantDigest] = tempDir
	return tempDir, nil
}

func tarOf(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestFetchImplementation_LocalPathIsPassthrough(t *testing.T) {
	c := New(Options{Interfaces: ifacecache.NewMemory(0), Store: newFakeStore(t)})
	impl := &model.Implementation{LocalPath: "/opt/tool"}
	path, err := c.FetchImplementation(context.Background(), impl, nil)
	require.NoError(t, err)
	assert.Equal(t, "/opt/tool", path)
}

func TestFetchImplementation_AlreadyInStoreSkipsDownload(t *testing.T) {
	st := newFakeStore(t)
	st.committed["sha1=abc"] = "/cache/abc"
	c := New(Options{Interfaces: ifacecache.NewMemory(0), Downloads: nil, Store: st})
	impl := &model.Implementation{ID: "sha1=abc"}
	path, err := c.FetchImplementation(context.Background(), impl, model.DownloadSource{URL: "http://foo/a.tar"})
	require.NoError(t, err)
	assert.Equal(t, "/cache/abc", path)
}

func TestFetchImplementation_SingleDownloadUnpacksAndCommits(t *testing.T) {
	downloads := newFakeDownloads()
	downloads.payload["http://foo/a.tar"] = tarOf(t, "bin/tool", []byte("#!/bin/sh\n"))
	st := newFakeStore(t)
	c := New(Options{Interfaces: ifacecache.NewMemory(0), Downloads: downloads, Store: st})

	impl := &model.Implementation{ID: "sha1=abc"}
	method := model.DownloadSource{URL: "http://foo/a.tar", MimeType: "tar"}
	path, err := c.FetchImplementation(context.Background(), impl, method)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(path, "bin/tool"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))

	committed, ok := st.Lookup("sha1=abc")
	require.True(t, ok)
	assert.Equal(t, path, committed)
}

func TestFetchImplementation_RecipeUnpacksStepsInOrder(t *testing.T) {
	downloads := newFakeDownloads()
	downloads.payload["http://foo/base.tar"] = tarOf(t, "base.txt", []byte("base"))
	downloads.payload["http://foo/overlay.tar"] = tarOf(t, "overlay.txt", []byte("overlay"))
	st := newFakeStore(t)
	c := New(Options{Interfaces: ifacecache.NewMemory(0), Downloads: downloads, Store: st})

	impl := &model.Implementation{ID: "sha1=recipe"}
	recipe := model.Recipe{Steps: []model.RetrievalMethod{
		model.DownloadSource{URL: "http://foo/base.tar", MimeType: "tar"},
		model.DownloadSource{URL: "http://foo/overlay.tar", MimeType: "tar"},
	}}
	path, err := c.FetchImplementation(context.Background(), impl, recipe)
	require.NoError(t, err)

	base, err := os.ReadFile(filepath.Join(path, "base.txt"))
	require.NoError(t, err)
	assert.Equal(t, "base", string(base))

	overlay, err := os.ReadFile(filepath.Join(path, "overlay.txt"))
	require.NoError(t, err)
	assert.Equal(t, "overlay", string(overlay))
}

func TestFetchImplementation_SingleDownloadUnpackFailureCleansUpStagingDir(t *testing.T) {
	downloads := newFakeDownloads()
	downloads.payload["http://foo/bad.tar"] = []byte("not a tar archive")
	st := newFakeStore(t)
	c := New(Options{Interfaces: ifacecache.NewMemory(0), Downloads: downloads, Store: st})

	impl := &model.Implementation{ID: "sha1=bad"}
	method := model.DownloadSource{URL: "http://foo/bad.tar", MimeType: "tar"}
	_, err := c.FetchImplementation(context.Background(), impl, method)
	require.Error(t, err)

	entries, rerr := os.ReadDir(st.dir)
	require.NoError(t, rerr)
	assert.Empty(t, entries, "a failed unpack must not leave a staging directory behind")
}

func TestFetchImplementation_RecipeUnpackFailureCleansUpStagingDir(t *testing.T) {
	downloads := newFakeDownloads()
	downloads.payload["http://foo/base.tar"] = tarOf(t, "base.txt", []byte("base"))
	downloads.payload["http://foo/bad.tar"] = []byte("not a tar archive")
	st := newFakeStore(t)
	c := New(Options{Interfaces: ifacecache.NewMemory(0), Downloads: downloads, Store: st})

	impl := &model.Implementation{ID: "sha1=recipe-bad"}
	recipe := model.Recipe{Steps: []model.RetrievalMethod{
		model.DownloadSource{URL: "http://foo/base.tar", MimeType: "tar"},
		model.DownloadSource{URL: "http://foo/bad.tar", MimeType: "tar"},
	}}
	_, err := c.FetchImplementation(context.Background(), impl, recipe)
	require.Error(t, err)

	entries, rerr := os.ReadDir(st.dir)
	require.NoError(t, rerr)
	assert.Empty(t, entries, "a failed recipe step unpack must not leave a staging directory behind")
}

func TestFetchImplementation_MissingDigestErrors(t *testing.T) {
	c := New(Options{Interfaces: ifacecache.NewMemory(0), Store: newFakeStore(t)})
	impl := &model.Implementation{ID: "no-digest-id"}
	_, err := c.FetchImplementation(context.Background(), impl, model.DownloadSource{URL: "http://foo/a.tar"})
	assert.Error(t, err)
}

func TestBeginInterfaceDownload_LocalURISkipsDownload(t *testing.T) {
	c := New(Options{Interfaces: ifacecache.NewMemory(0), Downloads: newFakeDownloads()})
	err := c.BeginInterfaceDownload(context.Background(), &model.Interface{URI: "/local/feed.xml"}, false)
	require.NoError(t, err)
	require.NoError(t, c.Wait(context.Background()))
}

func TestBeginInterfaceDownload_DedupesInFlightURI(t *testing.T) {
	downloads := newFakeDownloads()
	downloads.payload["http://foo/Root.xml"] = []byte("<interface/>")
	ifaces := ifacecache.NewMemory(0)
	c := New(Options{Interfaces: ifaces, Downloads: downloads, Loader: noopLoader{}})

	iface := &model.Interface{URI: "http://foo/Root.xml"}
	require.NoError(t, c.BeginInterfaceDownload(context.Background(), iface, false))
	require.NoError(t, c.BeginInterfaceDownload(context.Background(), iface, false))
	require.NoError(t, c.Wait(context.Background()))
}

type noopLoader struct{}

func (noopLoader) ParseFeed(ctx context.Context, uri string, data []byte) (*model.Interface, error) {
	return &model.Interface{URI: uri}, nil
}
