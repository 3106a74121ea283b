package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// ProgressBar wraps progressbar/v3 with themepkg styling
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// NewProgressBarBytes creates a byte-counting progress bar. A negative max
// renders a spinner for downloads of unknown length.
func NewProgressBarBytes(w io.Writer, max int64, description string) *ProgressBar {
	bar := progressbar.NewOptions64(max,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(15),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &ProgressBar{bar: bar}
}

// Add64 increments the progress bar by n
func (p *ProgressBar) Add64(n int64) error {
	return p.bar.Add64(n)
}

// Finish completes the progress bar
func (p *ProgressBar) Finish() error {
	return p.bar.Finish()
}

// ProgressReader wraps an io.Reader with a progress bar
type ProgressReader struct {
	reader io.Reader
	bar    *ProgressBar
	read   int64
}

// NewProgressReader creates a new reader with progress tracking on w
func NewProgressReader(w io.Writer, reader io.Reader, max int64, description string) *ProgressReader {
	return &ProgressReader{
		reader: reader,
		bar:    NewProgressBarBytes(w, max, description),
	}
}

// Read implements io.Reader with progress tracking
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		_ = pr.bar.Add64(int64(n))
	}
	return n, err
}

// Close finishes the progress bar
func (pr *ProgressReader) Close() error {
	return pr.bar.Finish()
}

// BytesRead returns how much has been read through the reader
func (pr *ProgressReader) BytesRead() int64 {
	return pr.read
}

// DownloadProgress returns a hook for the update fetcher that renders every
// download on stderr.
func DownloadProgress() func(body io.Reader, size int64, description string) io.ReadCloser {
	return DownloadProgressTo(os.Stderr)
}

// DownloadProgressTo is DownloadProgress rendering on w
func DownloadProgressTo(w io.Writer) func(body io.Reader, size int64, description string) io.ReadCloser {
	return func(body io.Reader, size int64, description string) io.ReadCloser {
		if size <= 0 {
			size = -1
		}
		return NewProgressReader(w, body, size, description)
	}
}
