// Package download persists matched objects to the local filesystem,
// fetching in parallel with per-prefix worker pools.
//
// Objects are hashed by their parent prefix onto a fixed set of pools so
// one slow "directory" cannot head-of-line block the rest. Each object is
// written to a temp file and renamed into place only when complete;
// partial files never survive an error or cancellation.
package download

import (
	"context"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/s3glob/s3glob/pkg/glob"
	"github.com/s3glob/s3glob/pkg/progress"
	"github.com/s3glob/s3glob/pkg/provider"
)

// Config configures a download run.
type Config struct {
	// Dest is the destination directory.
	Dest string

	// Mode controls key-to-path derivation. Default: FromFirstGlob.
	Mode PathMode

	// Flatten replaces delimiters in the stripped key portion with dashes.
	Flatten bool

	// Pools is the number of per-prefix worker pools.
	// Default: 8
	Pools int

	// PoolWorkers is the number of concurrent GETs per pool.
	// Default: derived from MaxParallelism, at least 1.
	PoolWorkers int

	// MaxParallelism caps total concurrent GETs across pools, except that
	// every pool keeps at least one worker.
	// Default: 64
	MaxParallelism int

	// Attempts bounds retries per object on transient errors.
	// Default: 5
	Attempts int

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	// Default: 100ms
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the backoff delay.
	// Default: 5s
	RetryMaxDelay time.Duration

	// RequestTimeout bounds each individual GET request.
	// Default: 30s
	RequestTimeout time.Duration

	// ShortestLookahead is how many matches are buffered to establish the
	// common prefix in Shortest mode. Default: 256
	ShortestLookahead int

	// Reporter receives counter updates. Nil disables reporting.
	Reporter *progress.Reporter

	// Logger receives diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// DefaultConfig returns the default download configuration.
func DefaultConfig() Config {
	return Config{
		Mode:              FromFirstGlob,
		Pools:             8,
		MaxParallelism:    64,
		Attempts:          5,
		RetryBaseDelay:    100 * time.Millisecond,
		RetryMaxDelay:     5 * time.Second,
		RequestTimeout:    30 * time.Second,
		ShortestLookahead: 256,
	}
}

// Result aggregates a completed download run.
type Result struct {
	// Downloaded is the number of objects fully written.
	Downloaded int64

	// Failed is the number of objects abandoned after retries.
	Failed int64

	// Bytes is the total payload written.
	Bytes int64

	// Files lists the local paths written, sorted.
	Files []string
}

// Manager consumes a stream of matched objects and downloads each one.
//
// Manager is safe for single use only.
type Manager struct {
	getter  provider.Getter
	pattern *glob.Pattern
	cfg     Config
	log     *zap.Logger

	collisions *collisionSet
	tmpSeq     atomic.Int64

	downloaded atomic.Int64
	failed     atomic.Int64
	bytes      atomic.Int64

	filesMu sync.Mutex
	files   []string
}

// New creates a download manager.
func New(getter provider.Getter, pattern *glob.Pattern, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.Pools <= 0 {
		cfg.Pools = def.Pools
	}
	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = def.MaxParallelism
	}
	if cfg.PoolWorkers <= 0 {
		cfg.PoolWorkers = cfg.MaxParallelism / cfg.Pools
		if cfg.PoolWorkers < 1 {
			cfg.PoolWorkers = 1
		}
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.ShortestLookahead <= 0 {
		cfg.ShortestLookahead = def.ShortestLookahead
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Manager{
		getter:     getter,
		pattern:    pattern,
		cfg:        cfg,
		log:        cfg.Logger,
		collisions: newCollisionSet(),
	}
}

// task is one object with its claimed local destination.
type task struct {
	obj  provider.ObjectSummary
	dest string
}

// Run drains the input stream and downloads every object.
//
// Run returns when the input closes and all downloads finish, or when the
// context dies; partial files are removed in either case. Per-object
// failures are counted, not fatal.
func (m *Manager) Run(ctx context.Context, in <-chan provider.ObjectSummary) (*Result, error) {
	delim := string(m.pattern.Delimiter())

	// Shortest mode needs a sample of keys before any path can be derived.
	var buffered []provider.ObjectSummary
	strip := stripPrefix(m.cfg.Mode, m.pattern, nil)
	if m.cfg.Mode == Shortest {
		for obj := range in {
			buffered = append(buffered, obj)
			if len(buffered) >= m.cfg.ShortestLookahead {
				break
			}
		}
		strip = stripPrefix(Shortest, m.pattern, buffered)
		if len(buffered) > 0 {
			m.log.Debug("established common prefix to strip",
				zap.String("prefix", strip),
				zap.Int("sampled", len(buffered)))
		}
	}

	pools := make([]chan task, m.cfg.Pools)
	var wg sync.WaitGroup
	for i := range pools {
		pools[i] = make(chan task, m.cfg.PoolWorkers)
		for w := 0; w < m.cfg.PoolWorkers; w++ {
			wg.Add(1)
			go func(jobs <-chan task) {
				defer wg.Done()
				for t := range jobs {
					m.downloadOne(ctx, t)
				}
			}(pools[i])
		}
	}

	// Dispatch serially so collision resolution is deterministic for a
	// given arrival order (within one prefix, arrival is S3's
	// lexicographic page order).
	recomputed := false
	dispatch := func(obj provider.ObjectSummary) {
		if !strings.HasPrefix(obj.Key, strip) && m.cfg.Mode == Shortest && !recomputed {
			// A late key disagrees with the sampled prefix: recompute once
			// against it, then freeze the policy.
			strip = truncateToDelimiter(commonPrefix(strip, obj.Key), delim)
			recomputed = true
			m.log.Debug("recomputed common prefix", zap.String("prefix", strip))
		}
		dest := m.collisions.claim(filepath.Join(m.cfg.Dest, relPath(obj.Key, strip, m.cfg.Flatten, delim)))
		if m.cfg.Reporter != nil {
			m.cfg.Reporter.ObjectQueued()
		}
		pool := pools[poolIndex(obj.Key, delim, len(pools))]
		select {
		case <-ctx.Done():
		case pool <- task{obj: obj, dest: dest}:
		}
	}

	for _, obj := range buffered {
		dispatch(obj)
	}
drain:
	for {
		select {
		case <-ctx.Done():
			break drain
		case obj, ok := <-in:
			if !ok {
				break drain
			}
			dispatch(obj)
		}
	}

	for _, pool := range pools {
		close(pool)
	}
	wg.Wait()

	result := &Result{
		Downloaded: m.downloaded.Load(),
		Failed:     m.failed.Load(),
		Bytes:      m.bytes.Load(),
		Files:      m.sortedFiles(),
	}
	return result, ctx.Err()
}

// downloadOne fetches a single object to its destination with bounded
// retries, writing through a temp file.
func (m *Manager) downloadOne(ctx context.Context, t task) {
	if ctx.Err() != nil {
		return
	}

	if err := os.MkdirAll(filepath.Dir(t.dest), 0o755); err != nil {
		m.objectFailed(t, err)
		return
	}

	tmp := t.dest + ".s3glob-tmp-" + strconv.FormatInt(m.tmpSeq.Add(1), 10)
	delay := m.cfg.RetryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= m.cfg.Attempts; attempt++ {
		err := m.fetchTo(ctx, t.obj.Key, tmp)
		if err == nil {
			if err := os.Rename(tmp, t.dest); err != nil {
				m.objectFailed(t, err)
				_ = os.Remove(tmp)
				return
			}
			m.downloaded.Add(1)
			m.addFile(t.dest)
			if m.cfg.Reporter != nil {
				m.cfg.Reporter.ObjectCompleted()
			}
			return
		}

		// A failed attempt must not leave a partial file behind.
		_ = os.Remove(tmp)
		lastErr = err

		if ctx.Err() != nil {
			return
		}
		if !provider.IsRetryable(err) {
			break
		}
		m.log.Debug("retrying download",
			zap.String("key", t.obj.Key),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if !sleepCtx(ctx, delay) {
			return
		}
		delay *= 2
		if delay > m.cfg.RetryMaxDelay {
			delay = m.cfg.RetryMaxDelay
		}
	}

	m.objectFailed(t, lastErr)
}

// fetchTo streams one object into path, creating or truncating it.
func (m *Manager) fetchTo(ctx context.Context, key, path string) error {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	body, _, err := m.getter.Get(reqCtx, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	written, err := copyCtx(ctx, f, body)
	if err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	m.bytes.Add(written)
	if m.cfg.Reporter != nil {
		m.cfg.Reporter.AddBytes(written)
	}
	return nil
}

func (m *Manager) objectFailed(t task, err error) {
	m.failed.Add(1)
	if m.cfg.Reporter != nil {
		m.cfg.Reporter.ErrorOccurred()
		m.cfg.Reporter.Errorln("failed to download %s: %v", t.obj.Key, err)
	}
	m.log.Warn("download failed",
		zap.String("key", t.obj.Key),
		zap.String("dest", t.dest),
		zap.Error(err))
}

func (m *Manager) addFile(path string) {
	m.filesMu.Lock()
	defer m.filesMu.Unlock()
	m.files = append(m.files, path)
}

func (m *Manager) sortedFiles() []string {
	m.filesMu.Lock()
	defer m.filesMu.Unlock()
	out := make([]string, len(m.files))
	copy(out, m.files)
	sort.Strings(out)
	return out
}

// poolIndex assigns a key to a pool by hashing its parent prefix.
func poolIndex(key, delim string, pools int) int {
	dir := ""
	if idx := strings.LastIndex(key, delim); idx >= 0 {
		dir = key[:idx+len(delim)]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(dir))
	return int(h.Sum32()) % pools
}

// copyCtx copies src to dst in chunks, aborting promptly on cancellation.
func copyCtx(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 128*1024)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, werr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// sleepCtx sleeps for d, returning false if the context died first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
