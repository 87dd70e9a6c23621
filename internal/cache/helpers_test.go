package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stubFetcher 记录每个 key 的抓取次数；gate 非空时抓取会阻塞到 release。
type stubFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
	gate  chan struct{}
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{calls: make(map[string]int), fail: make(map[string]bool)}
}

func (f *stubFetcher) hold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

func (f *stubFetcher) release() {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	close(gate)
}

func (f *stubFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	f.calls[key]++
	fail := f.fail[key]
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("origin unavailable")
	}
	return []byte("blob:" + key), nil
}

func (f *stubFetcher) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

type result struct {
	key     string
	payload []byte
	ok      bool
}

type testCache struct {
	*Cache[[]byte]
	clock    *fakeClock
	fetcher  *stubFetcher
	fs       afero.Fs
	delivery *QueueDelivery
}

func newTestCache(t *testing.T, opts ...Option) *testCache {
	t.Helper()
	tc := &testCache{
		clock:    newFakeClock(),
		fetcher:  newStubFetcher(),
		fs:       afero.NewMemMapFs(),
		delivery: NewQueueDelivery(),
	}
	base := []Option{
		WithFetcher(tc.fetcher),
		WithClock(tc.clock.Now),
		WithFs(tc.fs),
		WithDirectory("/cache"),
		WithDelivery(tc.delivery),
	}
	c, err := New[[]byte]("test", BytesCodec{}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	tc.Cache = c
	t.Cleanup(func() {
		c.Close()
		tc.delivery.Close()
	})
	return tc
}

// collector 返回一个把结果写入 channel 的回调。
func collector() (Callback[[]byte], chan result) {
	ch := make(chan result, 64)
	return func(key string, payload []byte, ok bool) {
		ch <- result{key: key, payload: payload, ok: ok}
	}, ch
}

func awaitResult(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for callback")
		return result{}
	}
}

// fetchAndWait 发起一次 Fetch 并等待回调。
func (tc *testCache) fetchAndWait(t *testing.T, key string) result {
	t.Helper()
	cb, ch := collector()
	tc.Fetch(key, cb)
	return awaitResult(t, ch)
}

// settle 等待在途加载回报、磁盘任务完成以及已排队的回调执行完毕。
func (tc *testCache) settle(t *testing.T) {
	t.Helper()
	tc.exec.call(func() {})
	tc.loads.Wait()
	tc.exec.call(func() {})
	tc.disk.wait()
	done := make(chan struct{})
	tc.delivery.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("delivery queue did not drain")
	}
}
