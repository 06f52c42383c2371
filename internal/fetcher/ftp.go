package fetcher

import (
	"context"
	"net"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lawdoc-cli/internal/artifact"
	"github.com/sells-group/lawdoc-cli/internal/model"
)

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration
}

// FTPFetcher checks and downloads sources published on FTP mirrors.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{opts: opts}
}

// ftpTarget is a parsed ftp:// source URL.
type ftpTarget struct {
	host     string
	path     string
	user     string
	password string
}

// parseFTPURL extracts host (with port), path, and credentials from an FTP
// URL. Without user info the login is anonymous.
func parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}

	t := ftpTarget{host: u.Host, path: u.Path, user: "anonymous", password: "anonymous@"}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if t.path == "" || t.path == "/" {
		return ftpTarget{}, eris.New("empty path in ftp url")
	}
	if u.User != nil {
		t.user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			t.password = p
		}
	}
	return t, nil
}

// connect dials and logs in. The caller must Quit the connection.
func (f *FTPFetcher) connect(ctx context.Context, t ftpTarget) (*ftp.ServerConn, error) {
	zap.L().Debug("ftp: connecting", zap.String("host", t.host), zap.String("path", t.path))

	conn, err := ftp.Dial(t.host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, model.TransientError(model.CodeFetchUnreachable, eris.Wrap(err, "ftp dial"))
	}
	if err := conn.Login(t.user, t.password); err != nil {
		_ = conn.Quit()
		return nil, model.DataError(model.CodeFetchUnreachable, eris.Wrap(err, "ftp login"))
	}
	return conn, nil
}

// Check asks the server for the file's size. A missing file is a data
// error; the content type is inferred from the extension.
func (f *FTPFetcher) Check(ctx context.Context, rawURL string) (SourceInfo, error) {
	t, err := parseFTPURL(rawURL)
	if err != nil {
		return SourceInfo{}, model.DataError(model.CodeFetchUnreachable, eris.Wrap(err, "fetcher: check"))
	}
	conn, err := f.connect(ctx, t)
	if err != nil {
		return SourceInfo{}, eris.Wrap(err, "fetcher: check")
	}
	defer conn.Quit() //nolint:errcheck

	size, err := conn.FileSize(t.path)
	if err != nil {
		return SourceInfo{}, model.DataError(model.CodeFetchUnreachable, eris.Wrapf(err, "fetcher: check: ftp size %s", t.path))
	}

	info := SourceInfo{URL: rawURL, ContentLength: size}
	if path.Ext(t.path) == ".pdf" {
		info.ContentType = "application/pdf"
	}
	return info, nil
}

// DownloadToFile retrieves the FTP URL into path. An empty file is
// EMPTY_ARTIFACT and leaves nothing on disk.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, rawURL string, dest string) (int64, error) {
	t, err := parseFTPURL(rawURL)
	if err != nil {
		return 0, model.DataError(model.CodeDownloadFailed, eris.Wrap(err, "fetcher: download"))
	}
	conn, err := f.connect(ctx, t)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: download")
	}
	defer conn.Quit() //nolint:errcheck

	resp, err := conn.Retr(t.path)
	if err != nil {
		return 0, model.DataError(model.CodeDownloadFailed, eris.Wrapf(err, "fetcher: download: ftp retrieve %s", t.path))
	}
	n, err := artifact.WriteStream(dest, resp)
	closeErr := resp.Close()
	if err != nil {
		return n, model.TransientError(model.CodeDownloadFailed, eris.Wrap(err, "fetcher: download"))
	}
	if closeErr != nil {
		_ = os.Remove(dest)
		return 0, model.TransientError(model.CodeDownloadFailed, eris.Wrap(closeErr, "fetcher: download: ftp transfer"))
	}
	if n == 0 {
		_ = os.Remove(dest)
		return 0, model.DataError(model.CodeEmptyArtifact, eris.Errorf("fetcher: download: empty file at %s", rawURL))
	}
	return n, nil
}
