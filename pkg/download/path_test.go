package download

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3glob/s3glob/pkg/glob"
	"github.com/s3glob/s3glob/pkg/provider"
)

func objs(keys ...string) []provider.ObjectSummary {
	out := make([]provider.ObjectSummary, len(keys))
	for i, k := range keys {
		out[i] = provider.ObjectSummary{Key: k}
	}
	return out
}

func TestParsePathMode(t *testing.T) {
	tests := []struct {
		in      string
		want    PathMode
		wantErr bool
	}{
		{"absolute", Absolute, false},
		{"abs", Absolute, false},
		{"from-first-glob", FromFirstGlob, false},
		{"g", FromFirstGlob, false},
		{"", FromFirstGlob, false},
		{"shortest", Shortest, false},
		{"s", Shortest, false},
		{"bogus", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePathMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestStripPrefix(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		mode    PathMode
		keys    []provider.ObjectSummary
		want    string
	}{
		{"absolute strips nothing", "prefix/path/to/*.txt", Absolute, nil, ""},

		{"from-first-glob at leaf", "prefix/path/to/*.txt", FromFirstGlob, nil, "prefix/path/to/"},
		{"from-first-glob mid-path", "prefix/path/*/more/*.txt", FromFirstGlob, nil, "prefix/path/"},
		{"from-first-glob single level", "prefix/*.txt", FromFirstGlob, nil, "prefix/"},
		{"from-first-glob bare star", "*.txt", FromFirstGlob, nil, ""},
		{"from-first-glob literal", "prefix/a.txt", FromFirstGlob, nil, "prefix/"},
		{"from-first-glob class", "prefix/path/to/[abc]/*.txt", FromFirstGlob, nil, "prefix/path/to/"},
		{"from-first-glob question", "prefix/path/to/?/*.txt", FromFirstGlob, nil, "prefix/path/to/"},
		{"from-first-glob alternation", "prefix/path/{a,b}/*.txt", FromFirstGlob, nil, "prefix/path/"},

		{"shortest no keys", "any/pattern/*.txt", Shortest, nil, ""},
		{"shortest single key", "single/path/*.txt", Shortest,
			objs("single/path/file.txt"), "single/path/"},
		{"shortest common dir", "prefix/2024-*/file*.txt", Shortest,
			objs("prefix/2024-01/file1.txt", "prefix/2024-01/file2.txt", "prefix/2024-02/file2.txt"),
			"prefix/"},
		{"shortest nested", "prefix/nested/*/file*.txt", Shortest,
			objs("prefix/nested/a/file1.txt", "prefix/nested/b/file2.txt"),
			"prefix/nested/"},
		{"shortest deeper common", "prefix/*/nested/*.txt", Shortest,
			objs("prefix/a/nested/file1.txt", "prefix/a/nested/file2.txt"),
			"prefix/a/nested/"},
		{"shortest disjoint", "different/*/file*.txt", Shortest,
			objs("different/path/file1.txt", "alternate/path/file2.txt"), ""},
		{"shortest partial segment overlap", "shared-prefix/*/data/*.txt", Shortest,
			objs("shared-prefix/abc/data/file1.txt", "shared-prefix-extra/xyz/data/file2.txt"), ""},
		{"shortest one key prefix of another", "deep/nested/*/file*.txt", Shortest,
			objs("deep/nested/path/file1.txt", "deep/nested/path/more/file2.txt"),
			"deep/nested/path/"},
		{"shortest root files", "*.txt", Shortest,
			objs("file1.txt", "file2.txt"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := glob.Parse(tt.pattern, '/')
			require.NoError(t, err)
			assert.Equal(t, tt.want, stripPrefix(tt.mode, p, tt.keys))
		})
	}
}

func TestRelPath(t *testing.T) {
	assert.Equal(t, "a/file.txt", relPath("pre/a/file.txt", "pre/", false, "/"))
	assert.Equal(t, "a-file.txt", relPath("pre/a/file.txt", "pre/", true, "/"))
	assert.Equal(t, "pre/a/file.txt", relPath("pre/a/file.txt", "", false, "/"))
}

func TestCollisionSet(t *testing.T) {
	c := newCollisionSet()

	assert.Equal(t, "out/name.txt", c.claim("out/name.txt"))
	assert.Equal(t, "out/name (1).txt", c.claim("out/name.txt"))
	assert.Equal(t, "out/name (2).txt", c.claim("out/name.txt"))

	// No extension
	assert.Equal(t, "out/blob", c.claim("out/blob"))
	assert.Equal(t, "out/blob (1)", c.claim("out/blob"))

	// A later explicit claim of a generated name still disambiguates.
	assert.Equal(t, "out/name (1) (1).txt", c.claim("out/name (1).txt"))
}

// Path derivation plus collision handling must be injective over any key
// set.
func TestClaim_InjectiveOverKeys(t *testing.T) {
	keys := []string{
		"proj/2024/a.txt", "proj/2025/a.txt", "proj/2024/b.txt",
		"proj/2024/sub/a.txt", "proj/2024-a.txt",
	}
	c := newCollisionSet()
	seen := make(map[string]string)
	for _, k := range keys {
		path := c.claim(relPath(k, "proj/", true, "/"))
		prev, dup := seen[path]
		assert.False(t, dup, "keys %q and %q map to the same path %q", prev, k, path)
		seen[path] = k
	}
}
