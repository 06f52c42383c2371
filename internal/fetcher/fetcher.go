// Package fetcher checks source URLs and downloads source documents.
package fetcher

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
)

// Fetcher defines the source operations used by the fetch and download stages.
type Fetcher interface {
	// Check probes the URL and reports what the source serves.
	Check(ctx context.Context, url string) (SourceInfo, error)

	// DownloadToFile fetches the URL and writes it atomically to path.
	// Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// SourceInfo describes a reachable source.
type SourceInfo struct {
	URL           string
	StatusCode    int
	ContentType   string
	ContentLength int64
	ETag          string
}

// LooksLikePDF reports whether the source advertises PDF content. Servers
// that omit the header get the benefit of the doubt.
func (s SourceInfo) LooksLikePDF() bool {
	ct := strings.ToLower(s.ContentType)
	return ct == "" || strings.Contains(ct, "pdf") || strings.Contains(ct, "octet-stream")
}

// Router sends each URL to the fetcher for its scheme.
type Router struct {
	HTTP Fetcher
	FTP  Fetcher
}

// New builds a Router over the HTTP and FTP fetchers from the fetch config.
func New(cfg config.FetchConfig) *Router {
	return &Router{
		HTTP: FromConfig(cfg),
		FTP:  NewFTPFetcher(FTPOptions{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second}),
	}
}

func (r *Router) route(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse %q", rawURL)
	}
	var f Fetcher
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		f = r.HTTP
	case "ftp":
		f = r.FTP
	}
	if f == nil {
		return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
	return f, nil
}

// Check probes rawURL with the fetcher for its scheme.
func (r *Router) Check(ctx context.Context, rawURL string) (SourceInfo, error) {
	f, err := r.route(rawURL)
	if err != nil {
		return SourceInfo{}, model.DataError(model.CodeFetchUnreachable, err)
	}
	return f.Check(ctx, rawURL)
}

// DownloadToFile downloads rawURL with the fetcher for its scheme.
func (r *Router) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	f, err := r.route(rawURL)
	if err != nil {
		return 0, model.DataError(model.CodeDownloadFailed, err)
	}
	return f.DownloadToFile(ctx, rawURL, path)
}
