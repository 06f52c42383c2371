package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/lawdoc-cli/internal/config"
	"github.com/sells-group/lawdoc-cli/internal/model"
	"github.com/sells-group/lawdoc-cli/internal/resilience"
)

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:         "test-agent",
		Timeout:           5 * time.Second,
		RequestsPerSecond: 1000,
		Retry: resilience.Policy{
			Attempts:  3,
			BaseDelay: time.Millisecond,
			MaxDelay:  5 * time.Millisecond,
		},
	})
}

func TestCheck_Head(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	info, err := newTestFetcher().Check(context.Background(), srv.URL+"/loi-2024-15.pdf")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, info.StatusCode)
	assert.Equal(t, `"abc123"`, info.ETag)
	assert.True(t, info.LooksLikePDF())
}

func TestCheck_FallsBackToGet(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>")) //nolint:errcheck
	}))
	defer srv.Close()

	info, err := newTestFetcher().Check(context.Background(), srv.URL+"/doc")
	require.NoError(t, err)
	assert.Equal(t, []string{http.MethodHead, http.MethodGet}, methods)
	assert.False(t, info.LooksLikePDF())
}

func TestCheck_NotFoundIsDataError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestFetcher().Check(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Equal(t, model.CodeFetchUnreachable, model.CodeOf(err))
	assert.Equal(t, model.KindData, model.KindOf(err))
}

func TestCheck_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestFetcher().Check(context.Background(), url+"/doc")
	require.Error(t, err)
	assert.Equal(t, model.CodeFetchUnreachable, model.CodeOf(err))
	assert.Equal(t, model.KindTransient, model.KindOf(err))
}

func TestDownloadToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("%PDF-1.4 content")) //nolint:errcheck
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "loi", "loi-2024-15.pdf")
	n, err := newTestFetcher().DownloadToFile(context.Background(), srv.URL+"/file", path)
	require.NoError(t, err)
	assert.Equal(t, int64(16), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 content", string(data))
}

func TestDownloadToFile_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "empty.pdf")
	_, err := newTestFetcher().DownloadToFile(context.Background(), srv.URL+"/empty", path)
	require.Error(t, err)
	assert.Equal(t, model.CodeEmptyArtifact, model.CodeOf(err))
	assert.NoFileExists(t, path)
}

func TestDownloadToFile_Forbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestFetcher().DownloadToFile(context.Background(), srv.URL+"/x", filepath.Join(t.TempDir(), "x.pdf"))
	require.Error(t, err)
	assert.Equal(t, model.CodeDownloadFailed, model.CodeOf(err))
	assert.Equal(t, model.KindData, model.KindOf(err))
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("success")) //nolint:errcheck
	}))
	defer srv.Close()

	n, err := newTestFetcher().DownloadToFile(context.Background(), srv.URL+"/retry", filepath.Join(t.TempDir(), "r.pdf"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetryExhausted(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestFetcher().DownloadToFile(context.Background(), srv.URL+"/fail", filepath.Join(t.TempDir(), "f.pdf"))
	require.Error(t, err)
	assert.Equal(t, model.CodeDownloadFailed, model.CodeOf(err))
	assert.Equal(t, model.KindTransient, model.KindOf(err))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRateLimiting(t *testing.T) {
	var reqTimes []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reqTimes = append(reqTimes, time.Now())
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{UserAgent: "test-agent", RequestsPerSecond: 4})
	ctx := context.Background()
	for range 3 {
		_, err := f.Check(ctx, srv.URL+"/limited")
		require.NoError(t, err)
	}

	// 4 req/s, burst 1, rising at most 20% per success: three requests
	// span at least ~300ms.
	require.Len(t, reqTimes, 3)
	assert.GreaterOrEqual(t, reqTimes[2].Sub(reqTimes[0]).Milliseconds(), int64(300))
}

func TestAdaptiveLimiter(t *testing.T) {
	a := NewAdaptiveLimiter(10, 1)
	a.OnSuccess()
	assert.InDelta(t, 12, float64(a.Limit()), 0.001)
	for range 10 {
		a.OnSuccess()
	}
	assert.InDelta(t, 20, float64(a.Limit()), 0.001)
	for range 10 {
		a.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(a.Limit()), 0.001)
	assert.Equal(t, rate.Limit(10), a.initialRate)
}

func TestFromConfig(t *testing.T) {
	f := FromConfig(config.FetchConfig{UserAgent: "lawdoc-cli/1.0", TimeoutSecs: 30, MaxRetries: 2, RequestsPerSecond: 3})
	assert.Equal(t, "lawdoc-cli/1.0", f.opts.UserAgent)
	assert.Equal(t, 30*time.Second, f.client.Timeout)
	assert.Equal(t, 3, f.opts.Retry.Attempts)
	assert.Same(t, f.limiterFor("https://sgg.gouv.bj/a"), f.limiterFor("https://sgg.gouv.bj/b"))
	assert.NotSame(t, f.limiterFor("https://sgg.gouv.bj/a"), f.limiterFor("https://other.example/b"))
}
