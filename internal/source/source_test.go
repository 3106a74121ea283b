package source

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quantmind-br/themepkg/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func jsonHandler(t *testing.T, path, body string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != path {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func TestNewSelectsByType(t *testing.T) {
	fs := afero.NewMemMapFs()
	tests := []struct {
		source  config.SourceConfig
		want    Kind
		wantErr bool
	}{
		{config.SourceConfig{Type: "release", Repository: "acme/dawn"}, KindRelease, false},
		{config.SourceConfig{Type: "release"}, "", true},
		{config.SourceConfig{Type: "registry"}, KindRegistry, false},
		{config.SourceConfig{Type: "url", URL: "https://x.test/latest.json"}, KindURL, false},
		{config.SourceConfig{Type: "url"}, "", true},
		{config.SourceConfig{Type: "local", Path: "/releases"}, KindLocal, false},
		{config.SourceConfig{Type: "ftp"}, "", true},
		{config.SourceConfig{}, "", true},
	}

	for _, tt := range tests {
		cfg := &config.Config{}
		cfg.Update.Source = tt.source
		src, err := New(fs, cfg, "dawn", nopLogger())
		if tt.wantErr {
			assert.Error(t, err, tt.source.Type)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, src.Kind())
	}
}

func TestReleaseSource(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, "/repos/acme/dawn/releases/latest", `{
		"tag_name": "v2.1.0",
		"body": "Bug fixes",
		"published_at": "2026-02-01T10:00:00Z",
		"tarball_url": "https://api.test/tarball/v2.1.0",
		"assets": [
			{"name": "checksums.txt", "browser_download_url": "https://dl.test/checksums.txt"},
			{"name": "dawn-2.1.0.zip", "browser_download_url": "https://dl.test/dawn-2.1.0.zip"}
		]
	}`))
	defer srv.Close()

	info, err := NewReleaseSource(srv.URL+"/", "acme/dawn", time.Second, nopLogger()).FetchLatestVersionInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", info.Version)
	assert.Equal(t, "Bug fixes", info.ReleaseNotes)
	assert.Equal(t, "https://dl.test/dawn-2.1.0.zip", info.DownloadURL)
	assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), info.PublishedAt.UTC())
	assert.Equal(t, KindRelease, info.Source)
}

func TestReleaseSourceFallsBackToTarball(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, "/repos/acme/dawn/releases/latest",
		`{"tag_name": "1.0.1", "tarball_url": "https://api.test/tarball/1.0.1"}`))
	defer srv.Close()

	info, err := NewReleaseSource(srv.URL, "acme/dawn", time.Second, nopLogger()).FetchLatestVersionInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://api.test/tarball/1.0.1", info.DownloadURL)
}

func TestRegistrySource(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, "/@storefront%2Fdawn/latest",
		`{"version": "3.0.0", "dist": {"tarball": "https://reg.test/dawn-3.0.0.tgz"}}`))
	defer srv.Close()

	info, err := NewRegistrySource(srv.URL, "@storefront/dawn", time.Second, nopLogger()).FetchLatestVersionInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.0.0", info.Version)
	assert.Equal(t, "https://reg.test/dawn-3.0.0.tgz", info.DownloadURL)
}

func TestURLSource(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(t, "/latest.json",
		`{"version": "v1.3.0", "downloadUrl": "https://dl.test/dawn.tar.gz", "localPath": "/etc"}`))
	defer srv.Close()

	info, err := NewURLSource(srv.URL+"/latest.json", time.Second, nopLogger()).FetchLatestVersionInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", info.Version)
	assert.Equal(t, "https://dl.test/dawn.tar.gz", info.DownloadURL)
	assert.Empty(t, info.LocalPath, "remote endpoints cannot point at local paths")
}

func TestRemoteFailuresAreNoUpdateInfo(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"not json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "<html>")
		},
		"bad version": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"version": "latest"}`)
		},
		"slow": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		},
	}

	for name, handler := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			_, err := NewURLSource(srv.URL, 100*time.Millisecond, nopLogger()).FetchLatestVersionInfo(context.Background())
			assert.ErrorIs(t, err, ErrNoUpdateInfo)
		})
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewURLSource(srv.URL, time.Second, nopLogger())
	for i := 0; i < 5; i++ {
		_, err := src.FetchLatestVersionInfo(context.Background())
		assert.ErrorIs(t, err, ErrNoUpdateInfo)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestLocalSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/releases/dawn/theme.json", []byte(`{"id":"dawn","name":"Dawn","version":"2.0.0"}`), 0644))
	require.NoError(t, afero.WriteFile(fs, "/single/theme.json", []byte(`{"id":"dawn","name":"Dawn","version":"1.5.0"}`), 0644))

	info, err := NewLocalSource(fs, "/releases", "dawn").FetchLatestVersionInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", info.Version)
	assert.Equal(t, "/releases/dawn", info.LocalPath)

	info, err = NewLocalSource(fs, "/single", "dawn").FetchLatestVersionInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.5.0", info.Version)
	assert.Equal(t, "/single", info.LocalPath)

	_, err = NewLocalSource(fs, "/single", "aurora").FetchLatestVersionInfo(context.Background())
	assert.ErrorIs(t, err, ErrNoUpdateInfo)

	_, err = NewLocalSource(fs, "/missing", "dawn").FetchLatestVersionInfo(context.Background())
	assert.ErrorIs(t, err, ErrNoUpdateInfo)
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type countingReader struct {
	r      io.Reader
	n      int
	closed bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func (c *countingReader) Close() error {
	c.closed = true
	return nil
}

func TestFetcherDownloadsAndExtracts(t *testing.T) {
	payload := zipArchive(t, map[string]string{
		"dawn-2.0.0/theme.json": `{"id":"dawn","name":"Dawn","version":"2.0.0"}`,
		"dawn-2.0.0/index.js":   "export default {}",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	var progress *countingReader
	f := NewFetcher(fs, "/tmp/themepkg", nopLogger()).WithProgress(func(body io.Reader, _ int64, _ string) io.ReadCloser {
		progress = &countingReader{r: body}
		return progress
	})

	// no extension on the URL: the format is sniffed from the body
	dl, err := f.Fetch(context.Background(), &ReleaseInfo{Version: "2.0.0", DownloadURL: srv.URL + "/download"})
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, dl.Root+"/index.js")
	require.NoError(t, err)
	assert.Equal(t, "export default {}", string(data))
	assert.Equal(t, "dawn-2.0.0", dl.Root[len(dl.Root)-len("dawn-2.0.0"):])
	assert.Equal(t, len(payload), progress.n)
	assert.True(t, progress.closed)
}

func TestFetcherCleansUpOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "not an archive")
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	f := NewFetcher(fs, "/tmp/themepkg", nopLogger())

	_, err := f.Fetch(context.Background(), &ReleaseInfo{Version: "2.0.0", DownloadURL: srv.URL + "/dawn"})
	assert.Error(t, err)

	infos, err := afero.ReadDir(fs, "/tmp/themepkg")
	require.NoError(t, err)
	assert.Empty(t, infos)

	_, err = f.Fetch(context.Background(), &ReleaseInfo{Version: "2.0.0"})
	assert.Error(t, err)
}

func TestFetcherRejectsOversizedDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 1024*1024+100))
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	f := NewFetcher(fs, "/tmp/themepkg", nopLogger())
	f.maxSize = 1024 * 1024

	_, err := f.Fetch(context.Background(), &ReleaseInfo{Version: "2.0.0", DownloadURL: srv.URL + "/dawn.zip"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDownloadTooLarge)
	assert.Contains(t, err.Error(), "exceeds 1 MB")

	infos, err := afero.ReadDir(fs, "/tmp/themepkg")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestFetcherCopiesLocalCandidate(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/releases/dawn/theme.json", []byte(`{"version":"2.0.0"}`), 0644))
	require.NoError(t, afero.WriteFile(fs, "/releases/dawn/sections/hero.js", []byte("x"), 0644))

	dl, err := NewFetcher(fs, "/tmp/themepkg", nopLogger()).Fetch(context.Background(), &ReleaseInfo{Version: "2.0.0", LocalPath: "/releases/dawn"})
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, dl.Root+"/sections/hero.js")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	require.NoError(t, fs.RemoveAll(dl.Dir))
	exists, err := afero.Exists(fs, "/releases/dawn/theme.json")
	require.NoError(t, err)
	assert.True(t, exists, "the local source itself is never touched")
}
