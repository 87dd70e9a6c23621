package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const (
	// MinTimeToLive 是 TTL 的下限；更小的设置会被忽略并保留原值。
	MinTimeToLive = time.Second
	// MinMemoryMaxCount 是内存层容量的下限。
	MinMemoryMaxCount = 1

	defaultTimeToLive     = 24 * time.Hour
	defaultMemoryMaxCount = 100
	defaultWriteLimit     = 4
)

type config struct {
	fetcher    Fetcher
	delivery   Delivery
	logger     logrus.FieldLogger
	fs         afero.Fs
	root       string
	ttl        time.Duration
	maxCount   int
	now        func() time.Time
	writeLimit int
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		ttl:        defaultTimeToLive,
		maxCount:   defaultMemoryMaxCount,
		now:        time.Now,
		writeLimit: defaultWriteLimit,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}

	if cfg.fetcher == nil {
		cfg.fetcher = NewHTTPFetcher(nil)
	}
	if cfg.logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		cfg.logger = discard
	}
	if cfg.fs == nil {
		cfg.fs = afero.NewOsFs()
	}
	if cfg.root == "" {
		cfg.root = defaultRoot()
	}
	return cfg, nil
}

// defaultRoot 返回宿主的缓存目录，不可用时退回临时目录。
func defaultRoot() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "blobcache")
	}
	return filepath.Join(os.TempDir(), "blobcache")
}

// WithFetcher sets the origin fetcher. Default is an HTTPFetcher on
// http.DefaultClient.
func WithFetcher(f Fetcher) Option {
	return func(cfg *config) error {
		if f != nil {
			cfg.fetcher = f
		}
		return nil
	}
}

// WithDelivery sets the context callbacks run on. By default each cache owns a
// QueueDelivery that is closed with the cache.
func WithDelivery(d Delivery) Option {
	return func(cfg *config) error {
		cfg.delivery = d
		return nil
	}
}

// WithLogger sets the logger. Default discards output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(cfg *config) error {
		cfg.logger = l
		return nil
	}
}

// WithFs sets the filesystem backing the disk tier.
func WithFs(fs afero.Fs) Option {
	return func(cfg *config) error {
		cfg.fs = fs
		return nil
	}
}

// WithDirectory sets the root under which each cache instance creates a
// directory named after itself.
func WithDirectory(root string) Option {
	return func(cfg *config) error {
		cfg.root = root
		return nil
	}
}

// WithTimeToLive sets the initial entry time-to-live.
//
// Default is 24 hours.
func WithTimeToLive(ttl time.Duration) Option {
	return func(cfg *config) error {
		if ttl < MinTimeToLive {
			return fmt.Errorf("time to live must be at least %s", MinTimeToLive)
		}
		cfg.ttl = ttl
		return nil
	}
}

// WithMemoryMaxCount sets the initial memory tier capacity.
//
// Default is 100 entries.
func WithMemoryMaxCount(n int) Option {
	return func(cfg *config) error {
		if n < MinMemoryMaxCount {
			return errors.New("memory max count must be at least 1")
		}
		cfg.maxCount = n
		return nil
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		cfg.now = now
		return nil
	}
}

// WithWriteConcurrency limits concurrent blob writes in PersistCacheToDisk.
func WithWriteConcurrency(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return errors.New("write concurrency must be positive")
		}
		cfg.writeLimit = n
		return nil
	}
}
