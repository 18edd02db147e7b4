package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zachlagden/listworker/internal/platform/dbctx"
	"github.com/zachlagden/listworker/internal/platform/logger"
	"github.com/zachlagden/listworker/internal/sourceconfig"
)

// fakeCache is a minimal in-memory cacherepo.Repo used so the downloader
// can be tested without a running Mongo instance.
type fakeCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	validChecks int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (f *fakeCache) KeyFor(url string) string { return url }

func (f *fakeCache) Get(dbc dbctx.Context, url string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.entries[url]
	return content, ok, nil
}

func (f *fakeCache) Store(dbc dbctx.Context, url string, content []byte, etag, lastModified string, domainCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[url] = content
	return nil
}

func (f *fakeCache) HasValidCache(dbc dbctx.Context, url string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validChecks++
	_, ok := f.entries[url]
	return ok, nil
}

func (f *fakeCache) UpdateDomainCount(dbc dbctx.Context, url string, domainCount int) error { return nil }

func (f *fakeCache) PreviousDomainCount(dbc dbctx.Context, url string) (int, bool, error) {
	return 0, false, nil
}

func (f *fakeCache) CleanupStale(dbc dbctx.Context, ttl time.Duration) (int64, error) {
	return 0, nil
}

func testLogger() *logger.Logger {
	log, err := logger.New("test")
	if err != nil {
		panic(err)
	}
	return log
}

func TestFetchCacheHitSkipsNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte("a.com\n"))
	}))
	defer srv.Close()

	cache := newFakeCache()
	cache.entries[srv.URL] = []byte("cached content\n")

	d := New(5*time.Second, cache, testLogger())
	result := d.Fetch(context.Background(), dbctx.Background(), sourceconfig.Source{URL: srv.URL})

	if !result.CacheHit {
		t.Fatal("expected cache hit")
	}
	if called {
		t.Fatal("expected network not to be called on cache hit")
	}
	if string(result.Content) != "cached content\n" {
		t.Errorf("content = %q", result.Content)
	}
}

func TestFetchStoresIntoCacheOnMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("a.com\nb.com\n"))
	}))
	defer srv.Close()

	cache := newFakeCache()
	d := New(5*time.Second, cache, testLogger())
	result := d.Fetch(context.Background(), dbctx.Background(), sourceconfig.Source{URL: srv.URL})

	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.CacheHit {
		t.Fatal("expected a cache miss on first fetch")
	}
	if _, ok, _ := cache.Get(dbctx.Background(), srv.URL); !ok {
		t.Fatal("expected content to be stored in cache after fetch")
	}
}

func TestFetchRejectsOversizedContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", MaxSourceBytes+1))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(5*time.Second, newFakeCache(), testLogger())
	result := d.Fetch(context.Background(), dbctx.Background(), sourceconfig.Source{URL: srv.URL})

	if result.Error == nil {
		t.Fatal("expected an error for oversized content-length")
	}
}

func TestFetchRejectsBodyOverCapWithoutContentLengthHeader(t *testing.T) {
	body := strings.Repeat("a", MaxSourceBytes+1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	d := New(30*time.Second, newFakeCache(), testLogger())
	result := d.Fetch(context.Background(), dbctx.Background(), sourceconfig.Source{URL: srv.URL})

	if result.Error == nil {
		t.Fatal("expected an error for an oversized streamed body")
	}
}

func TestFetchAcceptsBodyExactlyAtCap(t *testing.T) {
	body := strings.Repeat("a", MaxSourceBytes)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	d := New(60*time.Second, newFakeCache(), testLogger())
	result := d.Fetch(context.Background(), dbctx.Background(), sourceconfig.Source{URL: srv.URL})

	if result.Error != nil {
		t.Fatalf("expected a body exactly at the cap to be accepted, got error: %v", result.Error)
	}
	if int64(len(result.Content)) != MaxSourceBytes {
		t.Errorf("content length = %d, want %d", len(result.Content), MaxSourceBytes)
	}
}

func TestFetchCapturesErrorOnNon2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := New(5*time.Second, newFakeCache(), testLogger())
	result := d.Fetch(context.Background(), dbctx.Background(), sourceconfig.Source{URL: srv.URL})

	if result.Error == nil {
		t.Fatal("expected an error for a 404 response")
	}
}

func TestBatchPreservesInputOrderRegardlessOfCompletionOrder(t *testing.T) {
	var mu sync.Mutex
	delays := map[string]time.Duration{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		d := delays[r.URL.Path]
		mu.Unlock()
		time.Sleep(d)
		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	sources := make([]sourceconfig.Source, 6)
	for i := range sources {
		path := fmt.Sprintf("/s%d", i)
		// Reverse delay order: later sources finish first.
		delays[path] = time.Duration(len(sources)-i) * time.Millisecond
		sources[i] = sourceconfig.Source{URL: srv.URL + path}
	}

	d := New(5*time.Second, newFakeCache(), testLogger())
	results := d.Batch(context.Background(), dbctx.Background(), sources, 4, nil)

	if len(results) != len(sources) {
		t.Fatalf("expected %d results, got %d", len(sources), len(results))
	}
	for i, r := range results {
		if r.Source.URL != sources[i].URL {
			t.Errorf("result %d URL = %q, want %q (index must equal input index)", i, r.Source.URL, sources[i].URL)
		}
	}
}

func TestCheckAllCachedShortCircuitsOnFirstMiss(t *testing.T) {
	cache := newFakeCache()
	cache.entries["https://a.example/x"] = []byte("x")
	cache.entries["https://c.example/z"] = []byte("z")

	sources := []sourceconfig.Source{
		{URL: "https://a.example/x"},
		{URL: "https://b.example/missing"},
		{URL: "https://c.example/z"},
	}

	d := New(5*time.Second, cache, testLogger())
	ok, err := d.CheckAllCached(dbctx.Background(), sources, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected CheckAllCached to report false when one source is missing")
	}
	if cache.validChecks != 2 {
		t.Errorf("expected lookups to stop at the first miss (2 checks), got %d", cache.validChecks)
	}
}

func TestCheckAllCachedTrueWhenEverySourceCached(t *testing.T) {
	cache := newFakeCache()
	cache.entries["https://a.example/x"] = []byte("x")
	cache.entries["https://b.example/y"] = []byte("y")

	sources := []sourceconfig.Source{
		{URL: "https://a.example/x"},
		{URL: "https://b.example/y"},
	}

	d := New(5*time.Second, cache, testLogger())
	ok, err := d.CheckAllCached(dbctx.Background(), sources, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected CheckAllCached to report true when every source is cached")
	}
}
