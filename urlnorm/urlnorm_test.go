package urlnorm

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases scheme and host", "HTTP://Example.COM/a", "http://example.com/a"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"keeps non-default port", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"adds root path", "http://example.com", "http://example.com/"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Canonical(u).String())
		})
	}
}

func TestCanonicalPunycodeEncodesNonASCIIHost(t *testing.T) {
	u, err := url.Parse("http://bücher.example/a")
	require.NoError(t, err)
	got := Canonical(u).String()
	assert.True(t, strings.HasPrefix(got, "http://xn--"), "got %q", got)
	assert.NotContains(t, got, "ü")
}

func TestCanonicalKeepsIPv6HostBracketed(t *testing.T) {
	u, err := url.Parse("http://[::1]:8080/a")
	require.NoError(t, err)
	assert.Equal(t, "http://[::1]:8080/a", Canonical(u).String())
}
