package batch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webarchive-tools/wbrewrite/cdx"
)

func TestRunFetchesRewritesAndWrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><img src="a.gif"></body></html>`))
	}))
	defer srv.Close()

	outDir := t.TempDir()
	captures := []cdx.Entry{
		{Timestamp: "20131226101010", OriginalURL: "http://example.com/some/path/index.html", StatusCode: "200"},
	}

	res := Run(context.Background(), captures, Options{
		OutDir:         outDir,
		Prefix:         "/web/",
		Concurrency:    2,
		HTTPClient:     srv.Client(),
		ArchiveBaseURL: srv.URL + "/web/",
	})
	require.Equal(t, 0, res.Failed, res.Errors)
	assert.Equal(t, 1, res.Succeeded)

	data, err := os.ReadFile(filepath.Join(outDir, "http-example.com-80", "some", "path", "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "/web/20131226101010im_/http://example.com/some/path/a.gif")
}

func TestRunRecordsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	captures := []cdx.Entry{
		{Timestamp: "20131226101010", OriginalURL: "http://example.com/a.html", StatusCode: "200"},
	}
	res := Run(context.Background(), captures, Options{
		OutDir:         t.TempDir(),
		Prefix:         "/web/",
		HTTPClient:     srv.Client(),
		ArchiveBaseURL: srv.URL + "/web/",
	})
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.Succeeded)
}
