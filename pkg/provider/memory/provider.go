// Package memory implements an in-memory provider for tests.
//
// It reproduces S3 ListObjectsV2 semantics faithfully enough to exercise
// the scanner: lexicographic ordering, delimiter grouping into common
// prefixes, pagination with continuation tokens. Latency and error
// injection plus a recorded call log make concurrency and retry behavior
// observable.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/s3glob/s3glob/pkg/provider"
)

// Call records a single provider invocation.
type Call struct {
	Op        string
	Prefix    string
	Delimiter string
	Key       string
}

// failure is a pending injected error.
type failure struct {
	err   error
	times int
}

// Provider is an in-memory key-value store implementing the provider
// interfaces.
type Provider struct {
	mu       sync.Mutex
	keys     []string
	objects  map[string]object
	pageSize int
	latency  time.Duration
	region   string

	listFailures map[string]*failure
	getFailures  map[string]*failure

	calls []Call
}

type object struct {
	body         []byte
	lastModified time.Time
}

// Ensure Provider implements the interfaces.
var (
	_ provider.Provider         = (*Provider)(nil)
	_ provider.RegionDiscoverer = (*Provider)(nil)
)

// New creates an empty in-memory provider.
func New() *Provider {
	return &Provider{
		objects:      make(map[string]object),
		pageSize:     1000,
		region:       "us-east-1",
		listFailures: make(map[string]*failure),
		getFailures:  make(map[string]*failure),
	}
}

// Put stores an object. The key is inserted in sorted position.
func (p *Provider) Put(key string, body []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.objects[key]; !exists {
		idx := sort.SearchStrings(p.keys, key)
		p.keys = append(p.keys, "")
		copy(p.keys[idx+1:], p.keys[idx:])
		p.keys[idx] = key
	}
	p.objects[key] = object{body: body, lastModified: time.Unix(1700000000, 0).UTC()}
}

// PutKeys stores empty objects under every given key.
func (p *Provider) PutKeys(keys ...string) {
	for _, k := range keys {
		p.Put(k, nil)
	}
}

// WithPageSize sets the page size used for List (default 1000).
func (p *Provider) WithPageSize(n int) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pageSize = n
	return p
}

// WithLatency injects a per-call delay, simulating network I/O.
func (p *Provider) WithLatency(d time.Duration) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
	return p
}

// WithRegion sets the region reported by BucketRegion.
func (p *Provider) WithRegion(region string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.region = region
	return p
}

// FailList makes the next `times` List calls for the exact prefix fail
// with err.
func (p *Provider) FailList(prefix string, err error, times int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listFailures[prefix] = &failure{err: err, times: times}
}

// FailGet makes the next `times` Get calls for the key fail with err.
func (p *Provider) FailGet(key string, err error, times int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getFailures[key] = &failure{err: err, times: times}
}

// Calls returns a copy of the recorded call log.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// ListCalls returns the recorded List calls only.
func (p *Provider) ListCalls() []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Op == "List" {
			out = append(out, c)
		}
	}
	return out
}

// List returns a page of objects and common prefixes under a prefix.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, Call{Op: "List", Prefix: opts.Prefix, Delimiter: opts.Delimiter})

	if f, ok := p.listFailures[opts.Prefix]; ok && f.times > 0 {
		f.times--
		return nil, &provider.Error{Op: "List", Provider: "memory", Key: opts.Prefix, Err: f.err}
	}

	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = p.pageSize
	}

	result := &provider.ListResult{}
	count := 0

	for _, key := range p.keys {
		if !strings.HasPrefix(key, opts.Prefix) {
			continue
		}
		// Continuation tokens are the last key examined; resume strictly after.
		if opts.ContinuationToken != "" && key <= opts.ContinuationToken {
			continue
		}

		rest := key[len(opts.Prefix):]
		var cp string
		if opts.Delimiter != "" {
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				cp = key[:len(opts.Prefix)+idx+len(opts.Delimiter)]
			}
		}

		// Keys folded into the common prefix just emitted extend it rather
		// than starting a new page entry, exactly as S3 rolls them up.
		if cp != "" {
			if n := len(result.CommonPrefixes); n > 0 && result.CommonPrefixes[n-1] == cp {
				result.ContinuationToken = key
				continue
			}
		}

		if count >= maxKeys {
			result.IsTruncated = true
			break
		}

		if cp != "" {
			result.CommonPrefixes = append(result.CommonPrefixes, cp)
			result.ContinuationToken = key
			count++
			continue
		}

		obj := p.objects[key]
		result.Objects = append(result.Objects, provider.ObjectSummary{
			Key:          key,
			Size:         int64(len(obj.body)),
			ETag:         fmt.Sprintf("%x", len(obj.body)),
			LastModified: obj.lastModified,
		})
		result.ContinuationToken = key
		count++
	}

	if !result.IsTruncated {
		result.ContinuationToken = ""
	}
	return result, nil
}

// Head returns metadata for a single object.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectSummary, error) {
	if err := p.sleep(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, Call{Op: "Head", Key: key})

	obj, ok := p.objects[key]
	if !ok {
		return nil, &provider.Error{Op: "Head", Provider: "memory", Key: key, Err: provider.ErrNotFound}
	}
	return &provider.ObjectSummary{
		Key:          key,
		Size:         int64(len(obj.body)),
		ETag:         fmt.Sprintf("%x", len(obj.body)),
		LastModified: obj.lastModified,
	}, nil
}

// Get returns the object body stream and its content length.
func (p *Provider) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if err := p.sleep(ctx); err != nil {
		return nil, 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, Call{Op: "Get", Key: key})

	if f, ok := p.getFailures[key]; ok && f.times > 0 {
		f.times--
		return nil, 0, &provider.Error{Op: "Get", Provider: "memory", Key: key, Err: f.err}
	}

	obj, ok := p.objects[key]
	if !ok {
		return nil, 0, &provider.Error{Op: "Get", Provider: "memory", Key: key, Err: provider.ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(obj.body)), int64(len(obj.body)), nil
}

// BucketRegion reports the configured region for any bucket.
func (p *Provider) BucketRegion(ctx context.Context, bucket string) (string, error) {
	_ = ctx
	_ = bucket
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.region, nil
}

// Close releases nothing; it satisfies the interface.
func (p *Provider) Close() error { return nil }

// sleep applies the injected latency, honoring cancellation.
func (p *Provider) sleep(ctx context.Context) error {
	p.mu.Lock()
	d := p.latency
	p.mu.Unlock()

	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
