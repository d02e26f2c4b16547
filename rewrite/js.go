package rewrite

import (
	"regexp"

	"github.com/webarchive-tools/wbrewrite/wburl"
)

// jsSubstitution is one literal-to-literal regex substitution applied to
// JavaScript text, unconditionally and with no lexical awareness of string
// or comment context.
type jsSubstitution struct {
	pattern     *regexp.Regexp
	replacement string
}

// jsSubstitutions is the fixed, ordered list of textual rewrites applied by
// JS before URL-literal rewriting. Compiled once at package init since the
// patterns are read-only and safe to share across rewriters.
var jsSubstitutions = []jsSubstitution{
	{
		pattern:     regexp.MustCompile(`window\.location\b`),
		replacement: "window.WB_wombat_location",
	},
}

// absoluteURLLiteralRe matches a single- or double-quoted http(s) URL
// literal, the kind of inline reference a script uses to kick off its own
// navigation or XHR before any client-side rewriting library has loaded.
var absoluteURLLiteralRe = regexp.MustCompile(`(["'])(https?://[^"'\s\\]+)(["'])`)

// JS applies the fixed set of textual substitutions to jsText, then
// rewrites any absolute http(s) URL string literal via rewriter (with no
// modifier override), so a same-origin redirect or fetch target issued
// before the client-side bootstrap loads still resolves through the
// archive. It is not a JavaScript parser: matches are purely textual.
func JS(jsText string, rewriter URLRewriteFunc) string {
	for _, sub := range jsSubstitutions {
		jsText = sub.pattern.ReplaceAllString(jsText, sub.replacement)
	}
	return absoluteURLLiteralRe.ReplaceAllStringFunc(jsText, func(m string) string {
		parts := absoluteURLLiteralRe.FindStringSubmatch(m)
		return parts[1] + rewriter(parts[2], wburl.ModNone) + parts[3]
	})
}
