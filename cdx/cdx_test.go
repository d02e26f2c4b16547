package cdx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return &Client{
		HTTPClient: srv.Client(),
		Limiter:    rate.NewLimiter(rate.Inf, 1),
		BaseURL:    srv.URL,
		MaxRetries: 2,
	}
}

func TestFetchPageParsesRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[["timestamp","original","statuscode"],["20131226101010","http://example.com/a.html","200"]]`))
	}))
	defer srv.Close()

	entries, err := testClient(t, srv).FetchPage(context.Background(), "http://example.com/a.html", -1, "", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Entry{Timestamp: "20131226101010", OriginalURL: "http://example.com/a.html", StatusCode: "200"}, entries[0])
}

func TestFetchPageEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	entries, err := testClient(t, srv).FetchPage(context.Background(), "http://example.com/", -1, "", "")
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestFetchPageRetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[["timestamp","original"],["1","http://x/"]]`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	entries, err := c.FetchPage(context.Background(), "http://x/", -1, "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Len(t, entries, 1)
}

func TestFetchPageNonRetriableError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).FetchPage(context.Background(), "http://x/", -1, "", "")
	assert.Error(t, err)
}

func TestFetchSnapshotsDedupesAndPaginates(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Query().Get("page") {
		case "0":
			_, _ = w.Write([]byte(`[["timestamp","original"],["1","http://x/a"],["2","http://x/b"],["1","http://x/a"]]`))
		default:
			_, _ = w.Write([]byte(`[["timestamp","original"]]`))
		}
	}))
	defer srv.Close()

	entries, err := FetchSnapshots(context.Background(), testClient(t, srv), "http://x/", false, "", "")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 2, calls)
}

func TestRetryDelayHonoursRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"3"}}}
	assert.Equal(t, 3*time.Second, retryDelay(0, resp))
}
