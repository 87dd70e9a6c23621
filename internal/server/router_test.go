package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/blobcache/internal/cache"
)

func TestGetBlobServesPayload(t *testing.T) {
	app := newTestApp(t, 5000)
	app.cache.payloads["https://img.local/a.png"] = []byte("hello")

	resp := app.do(t, "GET", "/blobs?url=https://img.local/a.png")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if resp.Header.Get("X-Blobcache-Hit") != "false" {
		t.Fatalf("expected miss header, got %q", resp.Header.Get("X-Blobcache-Hit"))
	}
}

func TestGetBlobReportsResidentHit(t *testing.T) {
	app := newTestApp(t, 5000)
	app.cache.payloads["k"] = []byte("v")
	app.cache.resident["k"] = true

	resp := app.do(t, "GET", "/blobs?url=k")
	if resp.Header.Get("X-Blobcache-Hit") != "true" {
		t.Fatalf("expected hit header, got %q", resp.Header.Get("X-Blobcache-Hit"))
	}
}

func TestGetBlobRequiresURL(t *testing.T) {
	app := newTestApp(t, 5000)

	resp := app.do(t, "GET", "/blobs")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["error"]; got != "url_required" {
		t.Fatalf("expected url_required, got %v", got)
	}
}

func TestGetBlobFailureReturnsBadGateway(t *testing.T) {
	app := newTestApp(t, 5000)

	resp := app.do(t, "GET", "/blobs?url=missing")
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["error"]; got != "fetch_failed" {
		t.Fatalf("expected fetch_failed, got %v", got)
	}
}

func TestGetBlobTimesOut(t *testing.T) {
	app := newTestAppWithWait(t, 5000, 20*time.Millisecond)
	app.cache.hold = true

	resp := app.do(t, "GET", "/blobs?url=slow")
	if resp.StatusCode != fiber.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
}

func TestDeleteBlobRemovesKey(t *testing.T) {
	app := newTestApp(t, 5000)

	resp := app.do(t, "DELETE", "/blobs?url=k")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if len(app.cache.removed) != 1 || app.cache.removed[0] != "k" {
		t.Fatalf("expected k removed, got %v", app.cache.removed)
	}
}

func TestStatusReportsEntryState(t *testing.T) {
	app := newTestApp(t, 5000)
	app.cache.resident["k"] = true
	app.cache.failed["k"] = true

	resp := app.do(t, "GET", "/-/status?url=k")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["resident"] != true || body["failed"] != true || body["fetching"] != false {
		t.Fatalf("unexpected status body %v", body)
	}
}

func TestStatsEndpoint(t *testing.T) {
	app := newTestApp(t, 5000)
	app.cache.stats = cache.Stats{
		Name:           "images",
		MemoryEntries:  3,
		DiskEntries:    7,
		TimeToLive:     time.Hour,
		MemoryMaxCount: 5,
	}

	resp := app.do(t, "GET", "/-/stats")
	body := decodeBody(t, resp)
	if body["name"] != "images" {
		t.Fatalf("unexpected name %v", body["name"])
	}
	if body["memory_entries"] != float64(3) || body["disk_entries"] != float64(7) {
		t.Fatalf("unexpected counts %v", body)
	}
	if body["ttl_seconds"] != float64(3600) || body["memory_max_count"] != float64(5) {
		t.Fatalf("unexpected limits %v", body)
	}
}

func TestPersistEndpoint(t *testing.T) {
	app := newTestApp(t, 5000)

	resp := app.do(t, "POST", "/-/persist")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if app.cache.persisted != 1 {
		t.Fatalf("expected persist to be called once, got %d", app.cache.persisted)
	}
}

func TestReduceEndpoint(t *testing.T) {
	app := newTestApp(t, 5000)

	resp := app.do(t, "POST", "/-/reduce?max=10")
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if len(app.cache.reduced) != 1 || app.cache.reduced[0] != 10 {
		t.Fatalf("expected reduce(10), got %v", app.cache.reduced)
	}

	for _, target := range []string{"/-/reduce", "/-/reduce?max=abc", "/-/reduce?max=-1"} {
		resp := app.do(t, "POST", target)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, resp.StatusCode)
		}
	}
}

func TestPurgeSignalsMemoryPressure(t *testing.T) {
	called := 0
	original := notifyMemoryPressure
	notifyMemoryPressure = func() { called++ }
	t.Cleanup(func() { notifyMemoryPressure = original })

	app := newTestApp(t, 5000)
	resp := app.do(t, "POST", "/-/purge")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if called != 1 {
		t.Fatalf("expected one pressure notification, got %d", called)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	app := newTestApp(t, 5000)

	resp := app.do(t, "GET", "/v2/")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["error"]; got != "route_not_found" {
		t.Fatalf("expected route_not_found, got %v", got)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cases := []AppOptions{
		{Cache: newFakeCache(), ListenPort: 5000},
		{Logger: logger, ListenPort: 5000},
		{Logger: logger, Cache: newFakeCache()},
	}
	for i, opts := range cases {
		if _, err := NewApp(opts); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

type testApp struct {
	*fiber.App
	cache *fakeCache
}

func newTestApp(t *testing.T, port int) *testApp {
	return newTestAppWithWait(t, port, time.Second)
}

func newTestAppWithWait(t *testing.T, port int, wait time.Duration) *testApp {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	fc := newFakeCache()
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Cache:      fc,
		ListenPort: port,
		FetchWait:  wait,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return &testApp{App: app, cache: fc}
}

func (a *testApp) do(t *testing.T, method, target string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, "http://blobcache.local"+target, nil)
	resp, err := a.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

type fakeCache struct {
	mu        sync.Mutex
	hold      bool
	payloads  map[string][]byte
	resident  map[string]bool
	failed    map[string]bool
	removed   []string
	reduced   []int
	persisted int
	stats     cache.Stats
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		payloads: make(map[string][]byte),
		resident: make(map[string]bool),
		failed:   make(map[string]bool),
	}
}

func (f *fakeCache) Fetch(key string, cb cache.Callback[[]byte]) {
	f.mu.Lock()
	hold := f.hold
	payload, ok := f.payloads[key]
	f.mu.Unlock()
	if hold {
		return
	}
	go cb(key, payload, ok)
}

func (f *fakeCache) Remove(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
}

func (f *fakeCache) Peek(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.resident[key] {
		return nil, false
	}
	return f.payloads[key], true
}

func (f *fakeCache) Fetching(string) bool { return false }

func (f *fakeCache) FailedToFetch(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed[key]
}

func (f *fakeCache) PersistCacheToDisk(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted++
}

func (f *fakeCache) ReduceDiskCache(maxCount int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reduced = append(f.reduced, maxCount)
}

func (f *fakeCache) Stats() cache.Stats { return f.stats }
