// Package downloader is the concurrent blocklist source fetcher (§4.6):
// a shared HTTP client, per-source cache-aware download with a size
// cap, and bounded-parallelism batch fetch that preserves input order.
// The per-source request construction follows the teacher's fetchURL
// pattern (internal/modules/learning/steps/web_resources_seed_fetch.go);
// batch bounding follows its errgroup.SetLimit usage
// (internal/modules/learning/steps/file_signature_build.go).
package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zachlagden/listworker/internal/cacherepo"
	"github.com/zachlagden/listworker/internal/platform/dbctx"
	"github.com/zachlagden/listworker/internal/platform/logger"
	"github.com/zachlagden/listworker/internal/sourceconfig"
)

// MaxSourceBytes is the hard cap on one source's body, applied both to
// the Content-Length header (fast path) and the streamed read
// (slow path) (§4.6, §5 "Bounded concurrency", §8 boundary behaviors).
const MaxSourceBytes = 100 * 1024 * 1024

const userAgent = "ZachsListsWorker/1.0 (+blocklist build)"

// Downloader fetches blocklist source bodies, consulting the cache
// before every network request.
type Downloader struct {
	client *http.Client
	cache  cacherepo.Repo
	log    *logger.Logger
}

// New constructs a Downloader with a client built once for the worker's
// lifetime (§4.6 "Client"). timeout applies per request; Go's transport
// already negotiates and transparently decompresses gzip/deflate
// responses when no Accept-Encoding is set, so that is left untouched.
func New(timeout time.Duration, cache cacherepo.Repo, baseLog *logger.Logger) *Downloader {
	return &Downloader{
		client: &http.Client{Timeout: timeout},
		cache:  cache,
		log:    baseLog.With("component", "Downloader"),
	}
}

// SourceResult is the outcome of fetching one source (§4.6).
type SourceResult struct {
	Source       sourceconfig.Source
	Content      []byte
	CacheHit     bool
	BytesFetched int64
	ETag         string
	LastModified string
	DomainCount  int
	Duration     time.Duration
	Error        error
}

// Fetch downloads a single source, consulting the cache first. Every
// failure mode is captured into SourceResult.Error rather than
// returned, so the downloader never aborts a batch over one source
// (§4.6 "the downloader never panics a source").
func (d *Downloader) Fetch(ctx context.Context, dbc dbctx.Context, source sourceconfig.Source) SourceResult {
	start := time.Now()
	result := SourceResult{Source: source}

	if content, hit, err := d.cache.Get(dbc, source.URL); err != nil {
		d.log.Warn("cache lookup failed, continuing uncached", "url", source.URL, "error", err)
	} else if hit {
		result.Content = content
		result.CacheHit = true
		result.Duration = time.Since(start)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		result.Error = fmt.Errorf("build request: %w", err)
		return result
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Error = fmt.Errorf("http status %s", resp.Status)
		result.Duration = time.Since(start)
		return result
	}

	if cl := strings.TrimSpace(resp.Header.Get("Content-Length")); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > MaxSourceBytes {
			result.Error = fmt.Errorf("content-length %d exceeds %d byte cap", n, MaxSourceBytes)
			result.Duration = time.Since(start)
			return result
		}
	}

	limited := io.LimitReader(resp.Body, MaxSourceBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		result.Error = fmt.Errorf("read body: %w", err)
		result.Duration = time.Since(start)
		return result
	}
	if int64(len(body)) > MaxSourceBytes {
		result.Error = fmt.Errorf("body exceeds %d byte cap", MaxSourceBytes)
		result.Duration = time.Since(start)
		return result
	}

	result.Content = body
	result.BytesFetched = int64(len(body))
	result.ETag = resp.Header.Get("ETag")
	result.LastModified = resp.Header.Get("Last-Modified")
	result.DomainCount = bytes.Count(body, []byte("\n"))
	result.Duration = time.Since(start)

	if err := d.cache.Store(dbc, source.URL, body, result.ETag, result.LastModified, result.DomainCount); err != nil {
		d.log.Warn("cache store failed, degraded to uncached", "url", source.URL, "error", err)
	}

	return result
}

// ProgressFunc is invoked once per completed source during Batch.
type ProgressFunc func(index int, result SourceResult)

// Batch fetches every source with bounded parallelism, preserving input
// order in the returned slice regardless of completion order (§4.6
// "Batch", §5 "Ordering guarantees").
func (d *Downloader) Batch(ctx context.Context, dbc dbctx.Context, sources []sourceconfig.Source, maxConcurrent int, onProgress ProgressFunc) []SourceResult {
	results := make([]SourceResult, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrent > 0 {
		g.SetLimit(maxConcurrent)
	}

	for i, source := range sources {
		i, source := i, source
		g.Go(func() error {
			res := d.Fetch(gctx, dbc, source)
			results[i] = res
			if onProgress != nil {
				onProgress(i, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// CheckAllCached reports whether every source already has a valid
// cache entry, short-circuiting on the first miss (§4.6
// "Check-all-cached").
func (d *Downloader) CheckAllCached(dbc dbctx.Context, sources []sourceconfig.Source, ttl time.Duration) (bool, error) {
	for _, source := range sources {
		ok, err := d.cache.HasValidCache(dbc, source.URL, ttl)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
