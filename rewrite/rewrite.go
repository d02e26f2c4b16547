// Package rewrite implements the CSS, JS and HTML sub-rewriters that make
// up the core of the archive's URL-rewriting HTML stream transformer.
package rewrite

import "github.com/webarchive-tools/wbrewrite/wburl"

// URLRewriteFunc rewrites a single URL found in HTML attributes, inline
// scripts/styles, or CSS text, given an optional modifier hinting the
// resource type (empty means "use the default modifier for this
// document"). Implementations must be tolerant of malformed input:
// return value unchanged rather than erroring, mirroring wburl.Rewriter.
type URLRewriteFunc func(value string, mod wburl.Modifier) string
