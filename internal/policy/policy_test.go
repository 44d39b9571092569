package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	p := New("http://example.com/foo.xml", NetworkFull)
	require.NoError(t, p.Validate())
	assert.Equal(t, int64(defaultFreshnessSeconds), p.Freshness)
	assert.False(t, p.HelpWithTesting)
}

func TestValidateRejectsBadNetworkUse(t *testing.T) {
	p := &Policy{Root: "http://example.com/foo.xml", NetworkUse: "bogus"}
	assert.Error(t, p.Validate())
}

func TestValidateRejectsMissingRoot(t *testing.T) {
	p := &Policy{NetworkUse: NetworkFull}
	assert.Error(t, p.Validate())
}

func TestWarnOfflineOnceFiresOnce(t *testing.T) {
	p := New("http://example.com/foo.xml", NetworkOffline)
	assert.True(t, p.WarnOfflineOnce())
	assert.False(t, p.WarnOfflineOnce())
}

func TestLoadGlobalConfigDefaultsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadGlobalConfig(filepath.Join(dir, "config.ini"))
	require.NoError(t, err)
	assert.Equal(t, string(NetworkFull), cfg.NetworkUse)
	assert.Equal(t, int64(defaultFreshnessSeconds), cfg.Freshness)
}

func TestSaveThenLoadGlobalConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")

	cfg := &GlobalConfig{
		NetworkUse:      string(NetworkMinimal),
		Freshness:       3600,
		HelpWithTesting: true,
	}
	require.NoError(t, SaveGlobalConfig(path, cfg))

	_, err := os.Stat(path)
	require.NoError(t, err)

	loaded, err := LoadGlobalConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.NetworkUse, loaded.NetworkUse)
	assert.Equal(t, cfg.Freshness, loaded.Freshness)
	assert.Equal(t, cfg.HelpWithTesting, loaded.HelpWithTesting)
}

func TestSaveGlobalConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")
	err := SaveGlobalConfig(path, &GlobalConfig{NetworkUse: "nonsense"})
	assert.Error(t, err)
}

func TestConsoleHandlerLifecycle(t *testing.T) {
	h := NewConsoleHandler()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	h.GetDownload(ctx, "http://example.com/a.tar.gz")
	h.UpdateDownload(DownloadProgress{URL: "http://example.com/a.tar.gz", BytesReceived: 10, BytesTotal: 100})
	h.DownloadFinished("http://example.com/a.tar.gz", nil)

	require.NoError(t, h.WaitForDownloads(ctx))
}

func TestNoopHandlerNeverBlocks(t *testing.T) {
	h := NewNoopHandler()
	ctx := context.Background()
	h.GetDownload(ctx, "http://example.com/a.tar.gz")
	require.NoError(t, h.WaitForDownloads(ctx))
}
