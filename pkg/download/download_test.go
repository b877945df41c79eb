package download

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3glob/s3glob/pkg/glob"
	"github.com/s3glob/s3glob/pkg/provider"
	"github.com/s3glob/s3glob/pkg/provider/memory"
)

// runDownload feeds every stored object matching the pattern through a
// Manager and returns the result.
func runDownload(t *testing.T, store *memory.Provider, pattern string, keys []string, cfg Config) *Result {
	t.Helper()

	p, err := glob.Parse(pattern, '/')
	require.NoError(t, err)

	mgr := New(store, p, cfg)

	in := make(chan provider.ObjectSummary, len(keys))
	for _, k := range keys {
		in <- provider.ObjectSummary{Key: k}
	}
	close(in)

	result, err := mgr.Run(context.Background(), in)
	require.NoError(t, err)
	return result
}

func TestDownload_FromFirstGlob(t *testing.T) {
	dest := t.TempDir()
	store := memory.New()
	store.Put("proj/2024/a.txt", []byte("alpha"))
	store.Put("proj/2024/b.txt", []byte("beta"))

	result := runDownload(t, store, "proj/2024/*.txt",
		[]string{"proj/2024/a.txt", "proj/2024/b.txt"},
		Config{Dest: dest})

	assert.Equal(t, int64(2), result.Downloaded)
	assert.Equal(t, int64(0), result.Failed)
	assert.Equal(t, int64(9), result.Bytes)

	data, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	assert.Equal(t, []string{
		filepath.Join(dest, "a.txt"),
		filepath.Join(dest, "b.txt"),
	}, result.Files)
}

func TestDownload_Absolute(t *testing.T) {
	dest := t.TempDir()
	store := memory.New()
	store.Put("proj/2024/a.txt", []byte("alpha"))

	runDownload(t, store, "proj/2024/*.txt",
		[]string{"proj/2024/a.txt"},
		Config{Dest: dest, Mode: Absolute})

	_, err := os.Stat(filepath.Join(dest, "proj", "2024", "a.txt"))
	assert.NoError(t, err)
}

func TestDownload_ShortestMode(t *testing.T) {
	dest := t.TempDir()
	store := memory.New()
	store.Put("proj/2024/a.txt", []byte("a"))
	store.Put("proj/2024/b.txt", []byte("b"))

	result := runDownload(t, store, "proj/2024/*.txt",
		[]string{"proj/2024/a.txt", "proj/2024/b.txt"},
		Config{Dest: dest, Mode: Shortest})

	assert.Equal(t, []string{
		filepath.Join(dest, "a.txt"),
		filepath.Join(dest, "b.txt"),
	}, result.Files)
}

func TestDownload_ShortestRecomputesOnce(t *testing.T) {
	dest := t.TempDir()
	store := memory.New()
	store.Put("proj/2024/a.txt", []byte("a"))
	store.Put("proj/2025/a.txt", []byte("b"))

	// A tiny lookahead makes the second key arrive after the prefix was
	// fixed, forcing the one-shot recomputation.
	result := runDownload(t, store, "proj/*/*.txt",
		[]string{"proj/2024/a.txt", "proj/2025/a.txt"},
		Config{Dest: dest, Mode: Shortest, ShortestLookahead: 1})

	assert.Equal(t, int64(2), result.Downloaded)
	// Both files exist and no two keys collided.
	assert.Len(t, result.Files, 2)
	for _, f := range result.Files {
		_, err := os.Stat(f)
		assert.NoError(t, err)
	}
}

func TestDownload_ShortestKeepsSameNamesApart(t *testing.T) {
	dest := t.TempDir()
	store := memory.New()
	store.Put("proj/2024/a.txt", []byte("first"))
	store.Put("proj/2025/a.txt", []byte("second"))

	// Shortest mode strips the common "proj/" only, so the two a.txt keys
	// stay apart through their year directories.
	p, err := glob.Parse("proj/*/*.txt", '/')
	require.NoError(t, err)
	mgr := New(store, p, Config{Dest: dest, Mode: Shortest, Flatten: false})

	in := make(chan provider.ObjectSummary, 2)
	in <- provider.ObjectSummary{Key: "proj/2024/a.txt"}
	in <- provider.ObjectSummary{Key: "proj/2025/a.txt"}
	close(in)

	result, err := mgr.Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, result.Files, 2)
	assert.NotEqual(t, result.Files[0], result.Files[1])
	for _, f := range result.Files {
		_, err := os.Stat(f)
		assert.NoError(t, err)
	}
}

func TestDownload_FlattenCollision(t *testing.T) {
	dest := t.TempDir()
	store := memory.New()
	store.Put("p/x/f.txt", []byte("1"))
	store.Put("p/x-f.txt", []byte("2"))

	result := runDownload(t, store, "p/**",
		[]string{"p/x/f.txt", "p/x-f.txt"},
		Config{Dest: dest, Flatten: true, Mode: FromFirstGlob})

	// Flattening maps both to x-f.txt; the collision suffix keeps them
	// distinct.
	require.Len(t, result.Files, 2)
	assert.Contains(t, result.Files, filepath.Join(dest, "x-f.txt"))
	assert.Contains(t, result.Files, filepath.Join(dest, "x-f (1).txt"))
}

func TestDownload_RetriesTransientErrors(t *testing.T) {
	dest := t.TempDir()
	store := memory.New()
	store.Put("p/a.txt", []byte("payload"))
	store.FailGet("p/a.txt", provider.ErrThrottled, 2)

	result := runDownload(t, store, "p/*.txt",
		[]string{"p/a.txt"},
		Config{Dest: dest, RetryBaseDelay: time.Millisecond})

	assert.Equal(t, int64(1), result.Downloaded)
	assert.Equal(t, int64(0), result.Failed)
}

func TestDownload_NonRetryableFailsObjectOnly(t *testing.T) {
	dest := t.TempDir()
	store := memory.New()
	store.Put("p/a.txt", []byte("ok"))
	store.Put("p/b.txt", []byte("denied"))
	store.FailGet("p/b.txt", provider.ErrAccessDenied, 1)

	result := runDownload(t, store, "p/*.txt",
		[]string{"p/a.txt", "p/b.txt"},
		Config{Dest: dest, RetryBaseDelay: time.Millisecond})

	assert.Equal(t, int64(1), result.Downloaded)
	assert.Equal(t, int64(1), result.Failed)
	assert.Equal(t, []string{filepath.Join(dest, "a.txt")}, result.Files)
}

func TestDownload_NoPartialFilesAfterFailure(t *testing.T) {
	dest := t.TempDir()
	store := memory.New()
	store.Put("p/a.txt", []byte("data"))
	store.FailGet("p/a.txt", provider.ErrAccessDenied, 1)

	result := runDownload(t, store, "p/*.txt",
		[]string{"p/a.txt"},
		Config{Dest: dest})

	assert.Equal(t, int64(1), result.Failed)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial or temp files may remain")
}

func TestDownload_CancellationRemovesPartials(t *testing.T) {
	dest := t.TempDir()
	store := memory.New().WithLatency(50 * time.Millisecond)
	store.Put("p/a.txt", []byte("data"))
	store.Put("p/b.txt", []byte("data"))

	p, err := glob.Parse("p/*.txt", '/')
	require.NoError(t, err)
	mgr := New(store, p, Config{Dest: dest})

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan provider.ObjectSummary, 2)
	in <- provider.ObjectSummary{Key: "p/a.txt"}
	in <- provider.ObjectSummary{Key: "p/b.txt"}
	close(in)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, runErr := mgr.Run(ctx, in)
	assert.Error(t, runErr)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".s3glob-tmp-", "partial file left behind")
	}
}
