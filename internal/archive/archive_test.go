package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

type entry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func tarBytes(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		hdr := &tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.body)), Typeflag: typeflag, Linkname: e.linkname}
		if typeflag != tar.TypeReg {
			hdr.Size = 0
		}
		if typeflag == tar.TypeDir {
			hdr.Mode = 0755
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func compress(t *testing.T, format Format, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch format {
	case FormatTarGz:
		w = gzip.NewWriter(&buf)
	case FormatTarXz:
		xw, err := xz.NewWriter(&buf)
		require.NoError(t, err)
		w = xw
	default:
		return data
	}
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(data)
}

func TestDetectFormat(t *testing.T) {
	tests := map[string]Format{
		"dawn-2.0.0.zip":                    FormatZip,
		"dawn-2.0.0.tar.gz":                 FormatTarGz,
		"dawn.TGZ":                          FormatTarGz,
		"dawn.tar.xz":                       FormatTarXz,
		"dawn.tar":                          FormatTar,
		"https://x.test/a/dawn.zip?token=1": FormatZip,
	}
	for name, want := range tests {
		got, err := DetectFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := DetectFormat("dawn.rar")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSniff(t *testing.T) {
	plain := tarBytes(t, []entry{{name: "a.js", body: "x"}})

	got, err := Sniff(compress(t, FormatTarGz, plain))
	require.NoError(t, err)
	assert.Equal(t, FormatTarGz, got)

	got, err = Sniff(compress(t, FormatTarXz, plain))
	require.NoError(t, err)
	assert.Equal(t, FormatTarXz, got)

	got, err = Sniff(zipBytes(t, map[string]string{"a.js": "x"}))
	require.NoError(t, err)
	assert.Equal(t, FormatZip, got)

	_, err = Sniff([]byte("<html>"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractTarFormats(t *testing.T) {
	entries := []entry{
		{name: "dawn/", typeflag: tar.TypeDir},
		{name: "dawn/theme.json", body: `{"id":"dawn"}`},
		{name: "dawn/sections/hero.js", body: "export {}"},
		{name: "dawn/link", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"},
	}

	for _, format := range []Format{FormatTar, FormatTarGz, FormatTarXz} {
		t.Run(string(format), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			archivePath := "/tmp/release." + string(format)
			require.NoError(t, afero.WriteFile(fs, archivePath, compress(t, format, tarBytes(t, entries)), 0644))

			require.NoError(t, Extract(context.Background(), fs, archivePath, "/out"))

			assert.Equal(t, `{"id":"dawn"}`, readFile(t, fs, "/out/dawn/theme.json"))
			assert.Equal(t, "export {}", readFile(t, fs, "/out/dawn/sections/hero.js"))
			exists, err := afero.Exists(fs, "/out/dawn/link")
			require.NoError(t, err)
			assert.False(t, exists, "symlinks are skipped")

			root, err := SingleRoot(fs, "/out")
			require.NoError(t, err)
			assert.Equal(t, "/out/dawn", root)
		})
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := tarBytes(t, []entry{{name: "../escape.js", body: "x"}})
	require.NoError(t, afero.WriteFile(fs, "/tmp/bad.tar", data, 0644))

	err := Extract(context.Background(), fs, "/tmp/bad.tar", "/out")
	assert.Error(t, err)
	exists, _ := afero.Exists(fs, "/escape.js")
	assert.False(t, exists)

	zipData := zipBytes(t, map[string]string{"../../evil.sh": "rm -rf /"})
	require.NoError(t, afero.WriteFile(fs, "/tmp/bad.zip", zipData, 0644))
	assert.Error(t, Extract(context.Background(), fs, "/tmp/bad.zip", "/out"))
}

func TestExtractZip(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := zipBytes(t, map[string]string{
		"theme.json":      `{"id":"dawn"}`,
		"styles/main.css": "body{}",
	})
	require.NoError(t, afero.WriteFile(fs, "/tmp/dawn.zip", data, 0644))

	require.NoError(t, Extract(context.Background(), fs, "/tmp/dawn.zip", "/out"))
	assert.Equal(t, "body{}", readFile(t, fs, "/out/styles/main.css"))

	root, err := SingleRoot(fs, "/out")
	require.NoError(t, err)
	assert.Equal(t, "/out", root)
}

func TestExtractCorrupted(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/tmp/x.tar.gz", []byte("not a tar.gz"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/tmp/x.zip", []byte("not a zip"), 0644))

	assert.Error(t, Extract(context.Background(), fs, "/tmp/x.tar.gz", "/out"))
	assert.Error(t, Extract(context.Background(), fs, "/tmp/x.zip", "/out"))
	assert.Error(t, Extract(context.Background(), fs, "/tmp/missing.tar.xz", "/out"))
}

func TestExtractHonoursContext(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/tmp/a.tar", tarBytes(t, []entry{{name: "a.js", body: "x"}}), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Extract(ctx, fs, "/tmp/a.tar", "/out"), context.Canceled)
}
