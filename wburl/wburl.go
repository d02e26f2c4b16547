// Package wburl implements the archival URL reference and the UrlRewriter
// capability that rewrites page URLs to point through an archive replay
// endpoint.
package wburl

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/webarchive-tools/wbrewrite/urlnorm"
)

// Modifier is a short tag appended to the capture timestamp that hints to
// the replay renderer how a resource should be served.
type Modifier string

// Modifier values from the REWRITE_TAGS table.
const (
	ModNone   Modifier = ""
	ModImage  Modifier = "im_"
	ModScript Modifier = "js_"
	ModObject Modifier = "oe_"
	ModIframe Modifier = "if_"
	ModFrame  Modifier = "fr_"
)

var ignoredSchemes = []string{"javascript:", "mailto:", "data:"}

// WbUrl ties a capture timestamp, a modifier, and a target URL together,
// the archival URL reference a Rewriter is constructed from.
type WbUrl struct {
	Timestamp string
	Modifier  Modifier
	Target    *url.URL
}

var wburlPathRe = regexp.MustCompile(`^(\d{1,14})([a-z]{2}_)?/(.*)$`)

// Parse splits a wayback-style path fragment "<timestamp><modifier>/<url>"
// into its components.
func Parse(raw string) (WbUrl, error) {
	m := wburlPathRe.FindStringSubmatch(raw)
	if m == nil {
		return WbUrl{}, fmt.Errorf("parse wburl %q: does not match <timestamp><modifier>/<url>", raw)
	}
	target, err := url.Parse(m[3])
	if err != nil {
		return WbUrl{}, err
	}
	return WbUrl{
		Timestamp: m[1],
		Modifier:  Modifier(m[2]),
		Target:    target,
	}, nil
}

// Rewriter is the UrlRewriter capability consumed by the HTML, CSS and JS
// rewriters: a pure function over a URL string plus an optional modifier,
// with a mutable base URL used to resolve relatives.
type Rewriter struct {
	wburl  WbUrl
	prefix string
	base   *url.URL
}

// NewRewriter constructs a Rewriter bound to wb, emitting URLs under
// prefix (e.g. "/web/"). The base URL starts out as wb.Target.
func NewRewriter(prefix string, wb WbUrl) *Rewriter {
	base := wb.Target
	if base == nil {
		base = &url.URL{}
	}
	return &Rewriter{wburl: wb, prefix: prefix, base: base}
}

// BaseURL returns the current base URL used to resolve relative references.
func (r *Rewriter) BaseURL() *url.URL {
	return r.base
}

// Rewrite resolves value against the current base URL and returns
// prefix + timestamp + modifier + "/" + absolute-url. Empty values,
// fragment-only references, and javascript:/mailto:/data: pseudo-URLs are
// returned unchanged. Malformed URLs are returned unchanged rather than
// raising, per the archive's tolerance-of-malformed-input contract.
func (r *Rewriter) Rewrite(value string, mod Modifier) string {
	if value == "" || strings.HasPrefix(value, "#") {
		return value
	}
	if hasIgnoredScheme(value) {
		return value
	}
	ref, err := url.Parse(value)
	if err != nil {
		return value
	}
	abs := urlnorm.Canonical(r.base.ResolveReference(ref))
	if mod == "" {
		mod = r.wburl.Modifier
	}
	var sb strings.Builder
	sb.WriteString(r.prefix)
	sb.WriteString(r.wburl.Timestamp)
	sb.WriteString(string(mod))
	sb.WriteByte('/')
	sb.WriteString(abs.String())
	return sb.String()
}

// SetBaseURL replaces base_url with the absolute resolution of value
// against the current base URL. Malformed values leave the base unchanged.
func (r *Rewriter) SetBaseURL(value string) {
	if value == "" {
		return
	}
	ref, err := url.Parse(value)
	if err != nil {
		return
	}
	r.base = urlnorm.Canonical(r.base.ResolveReference(ref))
}

func hasIgnoredScheme(value string) bool {
	lower := strings.ToLower(strings.TrimSpace(value))
	for _, scheme := range ignoredSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}
