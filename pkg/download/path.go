package download

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/s3glob/s3glob/pkg/glob"
	"github.com/s3glob/s3glob/pkg/provider"
)

// PathMode controls how object keys map to local file paths.
type PathMode string

const (
	// Absolute reproduces the full key path under the destination.
	Absolute PathMode = "absolute"

	// FromFirstGlob strips the pattern's literal prefix (up to the last
	// delimiter before the first glob character) from the key. When the
	// literal prefix has no delimiter, all of it is stripped.
	FromFirstGlob PathMode = "from-first-glob"

	// Shortest strips the longest common directory prefix of all matched
	// keys.
	Shortest PathMode = "shortest"
)

// ParsePathMode parses a --path-mode value, accepting the short aliases
// the CLI documents.
func ParsePathMode(s string) (PathMode, error) {
	switch s {
	case "absolute", "abs":
		return Absolute, nil
	case "from-first-glob", "g", "":
		return FromFirstGlob, nil
	case "shortest", "s":
		return Shortest, nil
	}
	return "", fmt.Errorf("invalid path mode %q (want absolute|from-first-glob|shortest)", s)
}

// stripPrefix computes the key prefix to remove before joining onto the
// destination directory.
//
// For Shortest the sample keys establish the longest common prefix,
// truncated to the last delimiter so only whole "directories" are removed.
func stripPrefix(mode PathMode, pattern *glob.Pattern, sample []provider.ObjectSummary) string {
	switch mode {
	case Absolute:
		return ""
	case FromFirstGlob:
		return pattern.BaseStripPrefix()
	case Shortest:
		if len(sample) == 0 {
			return ""
		}
		prefix := sample[0].Key
		for _, obj := range sample[1:] {
			prefix = commonPrefix(prefix, obj.Key)
		}
		return truncateToDelimiter(prefix, string(pattern.Delimiter()))
	}
	return ""
}

// commonPrefix returns the longest shared leading substring of a and b.
func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// truncateToDelimiter cuts s back to just past its last delimiter, or to
// empty when it contains none.
func truncateToDelimiter(s, delim string) string {
	if idx := strings.LastIndex(s, delim); idx >= 0 {
		return s[:idx+len(delim)]
	}
	return ""
}

// relPath derives the destination-relative path for a key.
func relPath(key, strip string, flatten bool, delim string) string {
	suffix := strings.TrimPrefix(key, strip)
	if flatten {
		suffix = strings.ReplaceAll(suffix, delim, "-")
	}
	return filepath.FromSlash(suffix)
}

// collisionSet guarantees that two distinct keys never map to the same
// local path. The second and subsequent claimants of a path get a numeric
// suffix before the extension: name.txt, name (1).txt, name (2).txt.
type collisionSet struct {
	mu   sync.Mutex
	used map[string]struct{}
}

func newCollisionSet() *collisionSet {
	return &collisionSet{used: make(map[string]struct{})}
}

// claim reserves path, disambiguating if it is already taken.
func (c *collisionSet) claim(path string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, taken := c.used[path]; !taken {
		c.used[path] = struct{}{}
		return path
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, taken := c.used[candidate]; !taken {
			c.used[candidate] = struct{}{}
			return candidate
		}
	}
}
