package source

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/quantmind-br/themepkg/internal/archive"
	"github.com/quantmind-br/themepkg/internal/version"
	"github.com/rs/zerolog"
)

// ReleaseSource reads the latest release of a repository from a GitHub-style
// release API.
type ReleaseSource struct {
	client     *client
	baseURL    string
	repository string
}

// NewReleaseSource creates a release source for repository ("owner/name")
func NewReleaseSource(baseURL, repository string, timeout time.Duration, logger *zerolog.Logger) *ReleaseSource {
	return &ReleaseSource{
		client:     newClient(string(KindRelease), timeout, logger),
		baseURL:    strings.TrimRight(baseURL, "/"),
		repository: repository,
	}
}

// Kind implements Source
func (s *ReleaseSource) Kind() Kind { return KindRelease }

type releaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type releaseResponse struct {
	TagName     string         `json:"tag_name"`
	Body        string         `json:"body"`
	PublishedAt time.Time      `json:"published_at"`
	Assets      []releaseAsset `json:"assets"`
	TarballURL  string         `json:"tarball_url"`
	ZipballURL  string         `json:"zipball_url"`
}

// FetchLatestVersionInfo implements Source. The first asset with a known
// archive extension is preferred over the generated source tarball.
func (s *ReleaseSource) FetchLatestVersionInfo(ctx context.Context) (*ReleaseInfo, error) {
	var rel releaseResponse
	if err := s.client.getJSON(ctx, s.baseURL+"/repos/"+s.repository+"/releases/latest", &rel); err != nil {
		return nil, err
	}

	ver := version.Normalize(rel.TagName)
	if !version.Valid(ver) {
		return nil, noInfo("release tag %q is not a version", rel.TagName)
	}

	download := rel.TarballURL
	for _, asset := range rel.Assets {
		if _, err := archive.DetectFormat(asset.Name); err == nil {
			download = asset.BrowserDownloadURL
			break
		}
	}
	if download == "" {
		download = rel.ZipballURL
	}

	return &ReleaseInfo{
		Version:      ver,
		ReleaseNotes: rel.Body,
		DownloadURL:  download,
		PublishedAt:  rel.PublishedAt,
		Source:       KindRelease,
	}, nil
}

// RegistrySource reads the "latest" dist-tag of a package from an npm-style
// registry.
type RegistrySource struct {
	client  *client
	baseURL string
	name    string
}

// NewRegistrySource creates a registry source for the package name
func NewRegistrySource(baseURL, name string, timeout time.Duration, logger *zerolog.Logger) *RegistrySource {
	return &RegistrySource{
		client:  newClient(string(KindRegistry), timeout, logger),
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
	}
}

// Kind implements Source
func (s *RegistrySource) Kind() Kind { return KindRegistry }

type registryResponse struct {
	Version     string `json:"version"`
	Description string `json:"description"`
	Dist        struct {
		Tarball string `json:"tarball"`
	} `json:"dist"`
}

// FetchLatestVersionInfo implements Source
func (s *RegistrySource) FetchLatestVersionInfo(ctx context.Context) (*ReleaseInfo, error) {
	// scoped names keep their @ but the slash is escaped
	var resp registryResponse
	if err := s.client.getJSON(ctx, s.baseURL+"/"+url.PathEscape(s.name)+"/latest", &resp); err != nil {
		return nil, err
	}
	if !version.Valid(resp.Version) {
		return nil, noInfo("registry returned invalid version %q", resp.Version)
	}
	return &ReleaseInfo{
		Version:      resp.Version,
		ReleaseNotes: resp.Description,
		DownloadURL:  resp.Dist.Tarball,
		Source:       KindRegistry,
	}, nil
}

// URLSource reads {version, downloadUrl} from a fixed JSON endpoint
type URLSource struct {
	client *client
	url    string
}

// NewURLSource creates a source polling endpoint
func NewURLSource(endpoint string, timeout time.Duration, logger *zerolog.Logger) *URLSource {
	return &URLSource{client: newClient(string(KindURL), timeout, logger), url: endpoint}
}

// Kind implements Source
func (s *URLSource) Kind() Kind { return KindURL }

// FetchLatestVersionInfo implements Source
func (s *URLSource) FetchLatestVersionInfo(ctx context.Context) (*ReleaseInfo, error) {
	var info ReleaseInfo
	if err := s.client.getJSON(ctx, s.url, &info); err != nil {
		return nil, err
	}
	info.Version = version.Normalize(info.Version)
	if !version.Valid(info.Version) {
		return nil, noInfo("endpoint returned invalid version %q", info.Version)
	}
	info.LocalPath = ""
	info.Source = KindURL
	return &info, nil
}
