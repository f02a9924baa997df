package site

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/halnet"
	"github.com/wolfeidau/halnet/generate"
	"github.com/wolfeidau/halnet/store"
)

type fakeGenerator struct {
	mu       sync.Mutex
	calls    atomic.Int32
	requests []generate.Request
	content  func(req generate.Request) string
	err      error
	block    chan struct{}
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Generate(ctx context.Context, req generate.Request) (*generate.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, &generate.ProviderError{Provider: "fake", Path: req.Path.Normalized, Err: f.err}
	}
	content := "<html><body>" + req.Path.Normalized + "</body></html>"
	if f.content != nil {
		content = f.content(req)
	}
	return &generate.Result{Content: []byte(content), Provider: "fake", Model: "fake-1"}, nil
}

func (f *fakeGenerator) lastRequest(t *testing.T) generate.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

// faultyStore fails selected operations with a transport error.
type faultyStore struct {
	*store.Memory
	failGet    func(key string) bool
	failExists bool
	failSet    bool
}

func transportErr(op, key string) error {
	return &store.TransportError{Op: op, Key: key, Err: errors.New("connection refused")}
}

func (f *faultyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.failGet != nil && f.failGet(key) {
		return nil, transportErr("get", key)
	}
	return f.Memory.Get(ctx, key)
}

func (f *faultyStore) Exists(ctx context.Context, key string) (bool, error) {
	if f.failExists {
		return false, transportErr("exists", key)
	}
	return f.Memory.Exists(ctx, key)
}

func (f *faultyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.failSet {
		return transportErr("set", key)
	}
	return f.Memory.Set(ctx, key, value, ttl)
}

// racingStore runs onMiss the first time key is looked up and misses,
// before reporting the miss to the caller.
type racingStore struct {
	*store.Memory
	key    string
	onMiss func()
	fired  bool
}

func (r *racingStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.Memory.Get(ctx, key)
	if key == r.key && errors.Is(err, store.ErrNotFound) && !r.fired {
		r.fired = true
		r.onMiss()
	}
	return val, err
}

type memLedger struct {
	mu      sync.Mutex
	visited map[string]bool
}

func newMemLedger() *memLedger {
	return &memLedger{visited: map[string]bool{}}
}

func (l *memLedger) Visited(_ context.Context, path string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visited[path], nil
}

func (l *memLedger) MarkVisited(_ context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visited[path] = true
	return nil
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func exists(t *testing.T, s store.Store, key string) bool {
	t.Helper()
	ok, err := s.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func TestRootGeneratedThenCached(t *testing.T) {
	mem := store.NewMemory()
	gen := &fakeGenerator{}
	h := NewHandler(mem, gen)

	rec := serve(t, h, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	require.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	require.Equal(t, "<html><body>/</body></html>", rec.Body.String())
	require.Equal(t, int32(1), gen.calls.Load())

	req := gen.lastRequest(t)
	require.Equal(t, halnet.KindDocument, req.Path.Kind)
	require.Contains(t, req.Prompt, "Current Path: /\n")
	require.True(t, exists(t, mem, "halnet:/"))

	etag := rec.Header().Get("ETag")
	require.Equal(t, halnet.Digest(rec.Body.Bytes()).ETag(), etag)

	rec = serve(t, h, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	require.Equal(t, "<html><body>/</body></html>", rec.Body.String())
	require.Equal(t, etag, rec.Header().Get("ETag"))
	require.Equal(t, int32(1), gen.calls.Load(), "cached content must not call the provider again")
}

func TestNestedUsesParentExcerpt(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.Set(ctx, "halnet:/about", []byte("<html><nav>ABOUT-PARENT</nav></html>"), 0))

	gen := &fakeGenerator{}
	h := NewHandler(mem, gen)

	rec := serve(t, h, http.MethodGet, "/about/team")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int32(1), gen.calls.Load())

	req := gen.lastRequest(t)
	require.Contains(t, req.Prompt, "Parent Path: /about\n")
	require.Contains(t, req.Prompt, "ABOUT-PARENT")
	require.True(t, exists(t, mem, "halnet:/about/team"))
}

func TestBlockedWhenParentMissing(t *testing.T) {
	mem := store.NewMemory()
	gen := &fakeGenerator{}
	h := NewHandler(mem, gen, WithTTL(time.Hour))

	rec := serve(t, h, http.MethodGet, "/about/team")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	require.Equal(t, "BLOCKED", rec.Header().Get("X-Cache"))
	require.Empty(t, rec.Header().Get("ETag"))

	body := rec.Body.String()
	require.Contains(t, body, `<span class="path">/about/team</span>`)
	require.Contains(t, body, `<a href="/about">/about</a>`)

	require.Zero(t, gen.calls.Load())
	require.False(t, exists(t, mem, "halnet:/about/team"))
}

func TestBlockedContentTypeFollowsPath(t *testing.T) {
	h := NewHandler(store.NewMemory(), &fakeGenerator{})
	rec := serve(t, h, http.MethodGet, "/a/b/theme.css")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "text/css", rec.Header().Get("Content-Type"))
}

func TestBlockedPageEscapesPath(t *testing.T) {
	h := NewHandler(store.NewMemory(), &fakeGenerator{})
	rec := serve(t, h, http.MethodGet, "/%3Cscript%3E/x")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotContains(t, rec.Body.String(), "<script>")
}

func TestUnlockAfterParentVisited(t *testing.T) {
	mem := store.NewMemory()
	gen := &fakeGenerator{}
	h := NewHandler(mem, gen)

	require.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/about/team").Code)
	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/about").Code)
	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/about/team/").Code)
	require.True(t, exists(t, mem, "halnet:/about/team"))
	require.Equal(t, int32(2), gen.calls.Load())
}

func TestStylesheetIgnoresQuery(t *testing.T) {
	mem := store.NewMemory()
	gen := &fakeGenerator{content: func(generate.Request) string { return "body { color: #4c1d95; }" }}
	h := NewHandler(mem, gen)

	rec := serve(t, h, http.MethodGet, "/theme.css?variant=crimson-query-value")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/css", rec.Header().Get("Content-Type"))

	req := gen.lastRequest(t)
	require.Equal(t, halnet.KindStylesheet, req.Path.Kind)
	require.True(t, strings.HasPrefix(req.Prompt, "Generate CSS stylesheet content for HalNet."))
	require.NotContains(t, req.Prompt, "crimson-query-value")
}

func TestDocumentIncludesQuery(t *testing.T) {
	gen := &fakeGenerator{}
	h := NewHandler(store.NewMemory(), gen)

	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/search?q=dragons").Code)
	require.Contains(t, gen.lastRequest(t).Prompt, `Query parameters: {"q":"dragons"}`)
}

func TestProviderFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.Set(ctx, "halnet:/other", []byte("keep me"), 0))

	gen := &fakeGenerator{err: errors.New("upstream returned 503")}
	h := NewHandler(mem, gen)

	rec := serve(t, h, http.MethodGet, "/about")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, ErrorPage, rec.Body.String())
	require.Equal(t, "ERROR", rec.Header().Get("X-Cache"))
	require.NotContains(t, rec.Body.String(), "503")

	require.False(t, exists(t, mem, "halnet:/about"))
	got, err := mem.Get(ctx, "halnet:/other")
	require.NoError(t, err)
	require.Equal(t, "keep me", string(got))

	// Failures are not remembered; the next request tries again.
	gen.err = nil
	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/about").Code)
	require.Equal(t, int32(2), gen.calls.Load())
}

func TestCacheLookupFailure(t *testing.T) {
	s := &faultyStore{Memory: store.NewMemory(), failGet: func(string) bool { return true }}
	gen := &fakeGenerator{}
	h := NewHandler(s, gen)

	out := h.Resolve(context.Background(), "/", nil)
	failed, ok := out.(*Failed)
	require.True(t, ok, "got %T", out)
	require.ErrorIs(t, failed.Err, store.ErrTransport)
	require.Zero(t, gen.calls.Load())

	rec := serve(t, h, http.MethodGet, "/")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, ErrorPage, rec.Body.String())
}

func TestGateFailure(t *testing.T) {
	s := &faultyStore{Memory: store.NewMemory(), failExists: true}
	gen := &fakeGenerator{}
	h := NewHandler(s, gen)

	rec := serve(t, h, http.MethodGet, "/a/b")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Zero(t, gen.calls.Load())
}

func TestCacheWriteFailure(t *testing.T) {
	s := &faultyStore{Memory: store.NewMemory(), failSet: true}
	h := NewHandler(s, &fakeGenerator{})

	out := h.Resolve(context.Background(), "/about", nil)
	failed, ok := out.(*Failed)
	require.True(t, ok, "got %T", out)
	require.ErrorIs(t, failed.Err, store.ErrTransport)
}

func TestParentReadFailureIgnored(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.Set(ctx, "halnet:/about", []byte("<html>parent</html>"), 0))

	s := &faultyStore{Memory: mem, failGet: func(key string) bool { return key == "halnet:/about" }}
	gen := &fakeGenerator{}
	h := NewHandler(s, gen)

	rec := serve(t, h, http.MethodGet, "/about/team")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, gen.lastRequest(t).Prompt, "PARENT PAGE HTML")
}

func TestConcurrentFirstRequestsShareGeneration(t *testing.T) {
	mem := store.NewMemory()
	gen := &fakeGenerator{block: make(chan struct{})}
	h := NewHandler(mem, gen)

	const n = 8
	var wg sync.WaitGroup
	codes := make([]int, n)
	bodies := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			rec := serve(t, h, http.MethodGet, "/about")
			codes[idx] = rec.Code
			bodies[idx] = rec.Body.String()
		}(i)
	}

	require.Eventually(t, func() bool { return gen.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gen.block)
	wg.Wait()

	require.Equal(t, int32(1), gen.calls.Load())
	for i := range n {
		require.Equal(t, http.StatusOK, codes[i])
		require.Equal(t, "<html><body>/about</body></html>", bodies[i])
	}
}

func TestLedgerUnlocksExpiredParent(t *testing.T) {
	l := newMemLedger()
	gen := &fakeGenerator{}

	first := NewHandler(store.NewMemory(), gen, WithLedger(l))
	require.Equal(t, http.StatusOK, serve(t, first, http.MethodGet, "/about").Code)

	visited, err := l.Visited(context.Background(), "/about")
	require.NoError(t, err)
	require.True(t, visited)

	// A fresh cache stands in for the parent's entry having expired.
	without := NewHandler(store.NewMemory(), gen)
	require.Equal(t, http.StatusNotFound, serve(t, without, http.MethodGet, "/about/team").Code)

	with := NewHandler(store.NewMemory(), gen, WithLedger(l))
	require.Equal(t, http.StatusOK, serve(t, with, http.MethodGet, "/about/team").Code)
}

func TestHeadRequest(t *testing.T) {
	h := NewHandler(store.NewMemory(), &fakeGenerator{})

	rec := serve(t, h, http.MethodHead, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("Content-Length"))
}

func TestConditionalGet(t *testing.T) {
	h := NewHandler(store.NewMemory(), &fakeGenerator{})

	rec := serve(t, h, http.MethodGet, "/")
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotModified, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestCustomPrefixAndTTL(t *testing.T) {
	mem := store.NewMemory()
	h := NewHandler(mem, &fakeGenerator{}, WithPrefix("test:"), WithTTL(20*time.Millisecond))

	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/about").Code)
	require.True(t, exists(t, mem, "test:/about"))
	require.False(t, exists(t, mem, "halnet:/about"))

	require.Eventually(t, func() bool {
		ok, err := mem.Exists(context.Background(), "test:/about")
		return err == nil && !ok
	}, time.Second, 10*time.Millisecond)
}

func TestGenerationCompletedAfterMissIsServedFromCache(t *testing.T) {
	gen := &fakeGenerator{}
	rs := &racingStore{Memory: store.NewMemory(), key: "halnet:/about"}
	h := NewHandler(rs, gen)

	// Another request generates and stores /about after this one saw the miss.
	var first Outcome
	rs.onMiss = func() {
		first = h.Resolve(context.Background(), "/about", nil)
	}

	second := h.Resolve(context.Background(), "/about", nil)

	require.IsType(t, &Generated{}, first)
	require.IsType(t, &Cached{}, second)
	require.Equal(t, first.Body(), second.Body())
	require.Equal(t, int32(1), gen.calls.Load())
}

func TestGeneratedETagWithoutHash(t *testing.T) {
	content := []byte("<html>late</html>")
	g := &Generated{Path: halnet.Normalize("/late"), Content: content}
	require.Equal(t, halnet.Digest(content).ETag(), g.ETag())

	g.Hash = halnet.Digest([]byte("other"))
	require.Equal(t, g.Hash.ETag(), g.ETag())
}
