// Package files writes rewritten archive documents to an output
// directory tree keyed by scheme/host/port.
//
// See https://serverfault.com/a/276755 when you have URLs with query string.
package files

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	sanitize "github.com/mrz1836/go-sanitize"

	"github.com/webarchive-tools/wbrewrite/urlnorm"
)

// Doc is one captured-and-rewritten document ready to be placed on disk.
type Doc struct {
	// URL is the original (pre-rewrite) absolute URL of the capture.
	URL string
	// StatusCode is the HTTP status the capture returned.
	StatusCode int
	// ContentType is the capture's media type, e.g. "text/html".
	ContentType string
	// ModTime stamps the written file, typically the capture time.
	ModTime time.Time
	// Body is the already-rewritten document content.
	Body io.Reader
}

var htmlExtensionRe = regexp.MustCompile(`\.[Hh][Tt][Mm][Ll]?$`)

// Write places doc under outDir, in a directory named for its scheme,
// host and port, and a path derived from its original URL. 404s are
// skipped; redirects are not followed (the batch caller is expected to
// have already resolved them); anything else is an error.
func Write(outDir string, doc Doc) error {
	if doc.StatusCode == 404 {
		return nil
	}
	if doc.StatusCode != 200 {
		return fmt.Errorf("unsupported status code %d: %s", doc.StatusCode, doc.URL)
	}
	u, err := url.Parse(doc.URL)
	if err != nil {
		return fmt.Errorf("files: parse %q: %w", doc.URL, err)
	}
	uc := urlnorm.Canonical(u)
	hostDir := fmt.Sprintf("%s-%s-%s", uc.Scheme, uc.Hostname(), resolvePort(uc.Scheme, uc.Port()))

	filename := u.Path
	if u.RawQuery != "" {
		filename += "?" + sanitize.PathName(u.RawQuery)
	} else if strings.HasSuffix(u.Path, "/") || u.Path == "" {
		filename += "index"
	}
	if doc.ContentType == "text/html" && !htmlExtensionRe.MatchString(filename) {
		filename += ".html"
	}

	outputPath := filepath.Join(outDir, hostDir, filename)
	dir, _ := filepath.Split(outputPath)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return err
	}

	f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, doc.Body)
	closeErr := f.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}

	if doc.ModTime.IsZero() {
		return nil
	}
	return os.Chtimes(outputPath, doc.ModTime, doc.ModTime)
}

func resolvePort(scheme, port string) string {
	if port != "" {
		return port
	}
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}
