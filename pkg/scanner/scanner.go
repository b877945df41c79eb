// Package scanner enumerates every key matching a compiled glob pattern
// while issuing as few List requests as possible.
//
// Seed prefixes from the generator are drained by a worker pool. Each
// worker subdivides its prefix with delimiter-based listing, prunes
// branches that cannot match, and streams matching objects downstream.
// A `**` switches the branch to a full recursive walk.
package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/s3glob/s3glob/pkg/glob"
	"github.com/s3glob/s3glob/pkg/provider"
)

// Config configures scanner behavior.
type Config struct {
	// MaxParallelism caps the worker count.
	// Default: 10000
	MaxParallelism int

	// MinParallelism floors the worker count so a tiny initial frontier
	// does not under-subscribe the connection.
	// Default: 50
	MinParallelism int

	// QueueHighWater is the queue depth at which seed injection blocks.
	// Default: 4096
	QueueHighWater int

	// Attempts bounds retries for a single job on retryable errors.
	// Default: 5
	Attempts int

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	// Default: 100ms
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the backoff delay.
	// Default: 5s
	RetryMaxDelay time.Duration

	// RequestTimeout bounds each individual List/Head request.
	// Default: 30s
	RequestTimeout time.Duration

	// RateLimit is the maximum requests per second to the provider.
	// Zero means unlimited.
	RateLimit float64

	// FrontierWarnThreshold triggers a warning suggesting the user narrow
	// the pattern. Default: 10000
	FrontierWarnThreshold int

	// Logger receives diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// DefaultConfig returns the default scanner configuration.
func DefaultConfig() Config {
	return Config{
		MaxParallelism:        10000,
		MinParallelism:        50,
		QueueHighWater:        4096,
		Attempts:              5,
		RetryBaseDelay:        100 * time.Millisecond,
		RetryMaxDelay:         5 * time.Second,
		RequestTimeout:        30 * time.Second,
		FrontierWarnThreshold: 10000,
	}
}

// Match is one scan finding: either a concrete object or a bare prefix
// that exists in the store where an exact key was asked for.
type Match struct {
	Object   provider.ObjectSummary
	IsPrefix bool
	Prefix   string
}

// Summary aggregates scan statistics.
type Summary struct {
	// ListCalls counts List requests issued. Head probes are counted in
	// HeadCalls, not here.
	ListCalls int64

	// HeadCalls counts Head requests issued.
	HeadCalls int64

	// ObjectsExamined counts objects returned by the store and tested
	// against the pattern.
	ObjectsExamined int64

	// ObjectsMatched counts emitted matches.
	ObjectsMatched int64

	// PrefixesPruned counts common prefixes discarded without a request.
	PrefixesPruned int64

	// PeakFrontier is the larger of the generator's frontier peak and the
	// deepest scan-queue depth observed.
	PeakFrontier int

	// FailedJobs counts jobs abandoned after exhausting retries.
	FailedJobs int64

	// Duration is the wall-clock scan time.
	Duration time.Duration
}

// ErrAllPrefixesPruned reports the (asserted-impossible) state where the
// generator produced seeds but the scan issued no request at all.
var ErrAllPrefixesPruned = errors.New("all seed prefixes pruned before any list call")

// Scanner executes one scan. Create a new Scanner per run.
type Scanner struct {
	lister  provider.Lister
	pattern *glob.Pattern
	cfg     Config
	limiter *rate.Limiter
	log     *zap.Logger

	listCalls atomic.Int64
	headCalls atomic.Int64
	examined  atomic.Int64
	matched   atomic.Int64
	pruned    atomic.Int64
	failed    atomic.Int64

	fatalOnce sync.Once
	fatalErr  error
}

// New creates a scanner over the given lister and pattern.
func New(lister provider.Lister, pattern *glob.Pattern, cfg Config) *Scanner {
	def := DefaultConfig()
	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = def.MaxParallelism
	}
	if cfg.MinParallelism <= 0 {
		cfg.MinParallelism = def.MinParallelism
	}
	if cfg.QueueHighWater <= 0 {
		cfg.QueueHighWater = def.QueueHighWater
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
	if cfg.FrontierWarnThreshold <= 0 {
		cfg.FrontierWarnThreshold = def.FrontierWarnThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Scanner{
		lister:  lister,
		pattern: pattern,
		cfg:     cfg,
		log:     cfg.Logger,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return s
}

// Run drains the expansion's seed prefixes and streams matches to out.
//
// Run closes out when the scan finishes. It returns a summary in all cases;
// the error is non-nil on fatal provider errors and cancellation.
func (s *Scanner) Run(ctx context.Context, exp *glob.Expansion, out chan<- Match) (*Summary, error) {
	start := time.Now()
	defer close(out)

	if exp.PeakFrontier > s.cfg.FrontierWarnThreshold {
		s.log.Warn("prefix frontier is very large, consider narrowing the pattern",
			zap.Int("peak_frontier", exp.PeakFrontier),
			zap.Int("threshold", s.cfg.FrontierWarnThreshold))
	}

	seeds := exp.Nodes
	workers := len(seeds)
	if workers < s.cfg.MinParallelism {
		workers = s.cfg.MinParallelism
	}
	if workers > s.cfg.MaxParallelism {
		workers = s.cfg.MaxParallelism
	}

	s.log.Debug("starting scan",
		zap.Int("seed_prefixes", len(seeds)),
		zap.Int("workers", workers),
		zap.Int("peak_frontier", exp.PeakFrontier))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := newJobQueue(s.cfg.QueueHighWater)
	queue.reserve(len(seeds))
	if len(seeds) == 0 {
		queue.close()
	}

	// Close the queue when the surrounding context dies so workers and
	// seed injection unblock promptly.
	go func() {
		<-runCtx.Done()
		queue.close()
	}()

	// Seed injection blocks at the queue's high-water mark: the frontier
	// never materializes past the bound even for huge expansions.
	preProbe := s.pattern.HasMeta()
	go func() {
		for _, node := range seeds {
			j := scanJob{prefix: node.Literal}
			switch {
			case node.IsExactKey(s.pattern):
				j.kind = jobHead
				j.prePossible = preProbe
			case node.IsRecursive(s.pattern):
				j.kind = jobWalk
			default:
				j.kind = jobList
			}
			if err := queue.pushSeed(runCtx, j); err != nil {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, ok := queue.pop()
				if !ok {
					return
				}
				s.runJob(runCtx, j, queue, out)
				queue.done()
			}
		}()
	}
	wg.Wait()

	summary := &Summary{
		ListCalls:       s.listCalls.Load(),
		HeadCalls:       s.headCalls.Load(),
		ObjectsExamined: s.examined.Load(),
		ObjectsMatched:  s.matched.Load(),
		PrefixesPruned:  s.pruned.Load(),
		PeakFrontier:    exp.PeakFrontier,
		FailedJobs:      s.failed.Load(),
		Duration:        time.Since(start),
	}
	if qp := queue.peak(); qp > summary.PeakFrontier {
		summary.PeakFrontier = qp
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if s.fatalErr != nil {
		return summary, s.fatalErr
	}
	if len(seeds) > 0 && summary.ListCalls+summary.HeadCalls == 0 {
		return summary, ErrAllPrefixesPruned
	}
	if summary.FailedJobs > 0 {
		return summary, errors.New("scan incomplete: some prefixes could not be listed")
	}

	s.log.Debug("scan complete",
		zap.Int64("list_calls", summary.ListCalls),
		zap.Int64("objects_examined", summary.ObjectsExamined),
		zap.Int64("objects_matched", summary.ObjectsMatched),
		zap.Int64("prefixes_pruned", summary.PrefixesPruned),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// runJob executes one job with bounded retries on transient errors.
func (s *Scanner) runJob(ctx context.Context, j scanJob, queue *jobQueue, out chan<- Match) {
	delay := s.cfg.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		err := s.processJob(ctx, j, queue, out)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if provider.IsFatal(err) {
			s.fatalOnce.Do(func() {
				s.fatalErr = err
				queue.close()
			})
			return
		}
		if !provider.IsRetryable(err) || attempt >= s.cfg.Attempts {
			s.failed.Add(1)
			s.log.Warn("abandoning prefix after repeated failures",
				zap.String("prefix", j.prefix),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return
		}

		s.log.Debug("retrying prefix",
			zap.String("prefix", j.prefix),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if !sleepCtx(ctx, delay) {
			return
		}
		delay *= 2
		if delay > s.cfg.RetryMaxDelay {
			delay = s.cfg.RetryMaxDelay
		}
	}
}

func (s *Scanner) processJob(ctx context.Context, j scanJob, queue *jobQueue, out chan<- Match) error {
	if err := s.waitForRateLimit(ctx); err != nil {
		return err
	}

	switch j.kind {
	case jobHead:
		return s.processHead(ctx, j, out)
	case jobList:
		return s.processList(ctx, j, queue, out)
	case jobWalk:
		return s.processWalk(ctx, j, queue, out)
	}
	return nil
}

// processHead probes a single exact key produced by full expansion.
func (s *Scanner) processHead(ctx context.Context, j scanJob, out chan<- Match) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	obj, err := s.lister.Head(reqCtx, j.prefix)
	cancel()
	s.headCalls.Add(1)

	if err == nil {
		s.examined.Add(1)
		return s.emit(ctx, out, Match{Object: *obj})
	}
	if !provider.IsNotFound(err) {
		return err
	}
	if !j.prePossible {
		return nil
	}

	// The exact key does not exist; it may still name a "directory". One
	// cheap delimiter listing decides whether to report it as a prefix.
	delim := string(s.pattern.Delimiter())
	reqCtx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
	res, err := s.lister.List(reqCtx, provider.ListOptions{
		Prefix:    j.prefix + delim,
		Delimiter: delim,
		MaxKeys:   1,
	})
	cancel()
	s.listCalls.Add(1)
	if err != nil {
		return err
	}
	if len(res.Objects) > 0 || len(res.CommonPrefixes) > 0 {
		return s.emit(ctx, out, Match{IsPrefix: true, Prefix: j.prefix + delim})
	}
	return nil
}

// processList enumerates one delimiter level and subdivides.
func (s *Scanner) processList(ctx context.Context, j scanJob, queue *jobQueue, out chan<- Match) error {
	delim := string(s.pattern.Delimiter())

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	res, err := s.lister.List(reqCtx, provider.ListOptions{
		Prefix:            j.prefix,
		Delimiter:         delim,
		ContinuationToken: j.continuation,
	})
	cancel()
	s.listCalls.Add(1)
	if err != nil {
		return err
	}

	for _, cp := range res.CommonPrefixes {
		pm := s.pattern.MatchPrefix(cp)
		switch {
		case !pm.Compatible:
			s.pruned.Add(1)
		case pm.Recursive:
			queue.push(scanJob{kind: jobWalk, prefix: cp})
		default:
			queue.push(scanJob{kind: jobList, prefix: cp})
		}
	}

	if err := s.emitMatching(ctx, res.Objects, out); err != nil {
		return err
	}

	if res.IsTruncated && res.ContinuationToken != "" {
		queue.push(scanJob{kind: jobList, prefix: j.prefix, continuation: res.ContinuationToken})
	}
	return nil
}

// processWalk lists a whole subtree without a delimiter, confirming every
// key against the full pattern. Used once a `**` has been reached.
func (s *Scanner) processWalk(ctx context.Context, j scanJob, queue *jobQueue, out chan<- Match) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	res, err := s.lister.List(reqCtx, provider.ListOptions{
		Prefix:            j.prefix,
		ContinuationToken: j.continuation,
	})
	cancel()
	s.listCalls.Add(1)
	if err != nil {
		return err
	}

	if err := s.emitMatching(ctx, res.Objects, out); err != nil {
		return err
	}

	if res.IsTruncated && res.ContinuationToken != "" {
		queue.push(scanJob{kind: jobWalk, prefix: j.prefix, continuation: res.ContinuationToken})
	}
	return nil
}

func (s *Scanner) emitMatching(ctx context.Context, objects []provider.ObjectSummary, out chan<- Match) error {
	for _, obj := range objects {
		s.examined.Add(1)
		if !s.pattern.MatchKey(obj.Key) {
			continue
		}
		if err := s.emit(ctx, out, Match{Object: obj}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) emit(ctx context.Context, out chan<- Match, m Match) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- m:
		s.matched.Add(1)
		return nil
	}
}

// waitForRateLimit blocks until the rate limiter allows a request.
// Returns immediately if rate limiting is disabled.
func (s *Scanner) waitForRateLimit(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
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
