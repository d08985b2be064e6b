package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chaierr "github.com/chai-pm/chai/pkg/errors"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"trailing slash", "https://serde.rs/", "https://serde.rs"},
		{"already canonical", "https://serde.rs", "https://serde.rs"},
		{"upper host", "https://GitHub.com/Serde-RS/serde", "https://github.com/Serde-RS/serde"},
		{"default https port", "https://example.com:443/proj", "https://example.com/proj"},
		{"default http port", "http://example.com:80/proj", "http://example.com/proj"},
		{"custom port kept", "https://example.com:8080/proj", "https://example.com:8080/proj"},
		{"index.html", "https://example.com/docs/index.html", "https://example.com/docs"},
		{"tracking params", "https://example.com/proj?utm_source=rss&utm_medium=feed", "https://example.com/proj"},
		{"mixed params sorted", "https://example.com/p?b=2&a=1&fbclid=xyz", "https://example.com/p?a=1&b=2"},
		{"http upgrade on forge", "http://github.com/serde-rs/serde", "https://github.com/serde-rs/serde"},
		{"git scheme on forge", "git://github.com/serde-rs/serde.git", "https://github.com/serde-rs/serde"},
		{"dot git off forge kept", "https://example.com/repo.git", "https://example.com/repo.git"},
		{"schemeless forge", "github.com/serde-rs/serde", "https://github.com/serde-rs/serde"},
		{"fragment dropped", "https://example.com/proj#readme", "https://example.com/proj"},
		{"http off allowlist stays", "http://example.com/proj", "http://example.com/proj"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Canonicalize(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalizeRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"ftp://example.com/file",
		"mailto:someone@example.com",
		"https://",
		"https://[::1/path",
	} {
		_, err := Canonicalize(in)
		require.Error(t, err, "input %q", in)
		assert.True(t, chaierr.Is(err, chaierr.ErrCodeMalformedURL), "input %q", in)
	}
}

// Canonicalization must be a fixed point: applying it twice never changes
// the result again.
func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		"https://serde.rs/",
		"http://github.com/serde-rs/serde.git",
		"https://example.com/p?b=2&a=1",
		"git://github.com/torvalds/linux.git",
		"https://example.com:8080/x/index.html",
		"sourceforge.net/projects/mingw",
	}
	for _, in := range inputs {
		once, err := Canonicalize(in)
		require.NoError(t, err)
		twice, err := Canonicalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "input %q", in)
		assert.True(t, IsCanonical(once), "input %q", in)
	}
}

func TestIsCanonical(t *testing.T) {
	assert.True(t, IsCanonical("https://serde.rs"))
	assert.False(t, IsCanonical("https://serde.rs/"))
	assert.False(t, IsCanonical("not a url at all ::"))
}
