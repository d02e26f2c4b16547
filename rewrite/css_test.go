package rewrite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/webarchive-tools/wbrewrite/wburl"
)

func TestCSS(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		output string
		skip   string
	}{
		{
			name:   "unquoted url",
			input:  "body { background: url(http://example.com/img.png); }",
			output: "body { background: url(https://example.net/newimg.png); }",
		},
		{
			name:   "unquoted url with spaces",
			input:  "body { background: url(  http://example.com/img.png   ); }",
			output: "body { background: url(  https://example.net/newimg.png   ); }",
		},
		{
			name:   "quoted url double",
			input:  "body { background: url(\"http://example.com/img.png\"); }",
			output: "body { background: url(\"https://example.net/newimg.png\"); }",
		},
		{
			name:   "quoted url single",
			input:  "body { background: url('http://example.com/img.png'); }",
			output: "body { background: url('https://example.net/newimg.png'); }",
		},
		{
			name:   "quoted url with spaces",
			input:  "body { background: url(  \"http://example.com/img.png\"   ); }",
			output: "body { background: url(  \"https://example.net/newimg.png\"   ); }",
		},
		{
			name:  "import string",
			input: "@import \"another.css\" print; body { background: url(\"http://example.com/img.png\"); }",
			output: "@import \"https://example.net/newimg.png\" print; " +
				"body { background: url(\"https://example.net/newimg.png\"); }",
		},
		{
			name:  "import url",
			input: "@import url(\"another.css\") print; body { background: url(\"http://example.com/img.png\"); }",
			output: "@import url(\"https://example.net/newimg.png\") print; " +
				"body { background: url(\"https://example.net/newimg.png\"); }",
		},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name+" verbatim", func(t *testing.T) {
			if test.skip != "" {
				t.Skip(test.skip)
			}
			var sb strings.Builder
			rewriter := func(value string, mod wburl.Modifier) string {
				return value
			}
			err := CSS(&sb, test.input, rewriter)
			if assert.NoError(t, err) {
				assert.Equal(t, test.input, sb.String())
			}
		})
		t.Run(test.name+" replaced", func(t *testing.T) {
			if test.skip != "" {
				t.Skip(test.skip)
			}
			var sb strings.Builder
			rewriter := func(value string, mod wburl.Modifier) string {
				return "https://example.net/newimg.png"
			}
			err := CSS(&sb, test.input, rewriter)
			if assert.NoError(t, err) {
				assert.Equal(t, test.output, sb.String())
			}
		})
	}
}
