package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/webarchive-tools/wbrewrite/wburl"
)

func identityRewriter(value string, mod wburl.Modifier) string {
	return value
}

func TestJS(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "assignment",
			input: `window.location = "http://example.com/a/b/c.html"`,
			want:  `window.WB_wombat_location = "http://example.com/a/b/c.html"`,
		},
		{
			name:  "property access",
			input: `if (window.location.href.indexOf("x") > -1) {}`,
			want:  `if (window.WB_wombat_location.href.indexOf("x") > -1) {}`,
		},
		{
			name:  "no occurrence",
			input: `console.log("hi")`,
			want:  `console.log("hi")`,
		},
		{
			name:  "multiple occurrences",
			input: `window.location = window.location + "#x"`,
			want:  `window.WB_wombat_location = window.WB_wombat_location + "#x"`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JS(tt.input, identityRewriter))
		})
	}
}

func TestJSRewritesAbsoluteURLLiterals(t *testing.T) {
	rewriter := func(value string, mod wburl.Modifier) string {
		return "/web/20131226101010/" + value
	}
	got := JS(`window.location = "http://example.com/a/b/c.html"`, rewriter)
	assert.Equal(t, `window.WB_wombat_location = "/web/20131226101010/http://example.com/a/b/c.html"`, got)
}

func TestJSLeavesNonURLStringsAlone(t *testing.T) {
	got := JS(`var msg = 'hello world'`, identityRewriter)
	assert.Equal(t, `var msg = 'hello world'`, got)
}
