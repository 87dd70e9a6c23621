package cache

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Cache 是内存 + 磁盘两级 blob 缓存。entries/ttl/maxCount/gen 只允许在
// serializer（exec）上访问；加载与磁盘 I/O 在 serializer 之外运行。
type Cache[P any] struct {
	name     string
	codec    Codec[P]
	fetcher  Fetcher
	delivery Delivery
	owned    *QueueDelivery
	log      logrus.FieldLogger
	now      func() time.Time

	writeLimit int

	exec     *executor
	entries  map[string]*entry[P]
	ttl      time.Duration
	maxCount int
	gen      uint64

	disk *diskTier

	ctx    context.Context
	cancel context.CancelFunc
	loads  sync.WaitGroup

	closeOnce sync.Once
}

// Stats 是某一时刻的缓存概况，用于诊断接口。
type Stats struct {
	Name           string        `json:"name"`
	MemoryEntries  int           `json:"memory_entries"`
	LoadingEntries int           `json:"loading_entries"`
	DiskEntries    int           `json:"disk_entries"`
	TimeToLive     time.Duration `json:"ttl"`
	MemoryMaxCount int           `json:"memory_max_count"`
}

// New 创建名为 name 的缓存实例，磁盘数据位于 <root>/<name>。
// 不同 name 的实例互不共享存储；同名实例会在文件上竞争，属于误用。
func New[P any](name string, codec Codec[P], options ...Option) (*Cache[P], error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("cache name required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, errors.New("cache name must not contain path separators")
	}
	if codec == nil {
		return nil, errors.New("codec required")
	}

	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	log := opts.logger.WithField("cache", name)
	store, err := NewStore(opts.fs, filepath.Join(opts.root, name))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache[P]{
		name:       name,
		codec:      codec,
		fetcher:    opts.fetcher,
		delivery:   opts.delivery,
		log:        log,
		now:        opts.now,
		writeLimit: opts.writeLimit,
		exec:       newExecutor(),
		entries:    make(map[string]*entry[P]),
		ttl:        opts.ttl,
		maxCount:   opts.maxCount,
		disk:       newDiskTier(store, log),
		ctx:        ctx,
		cancel:     cancel,
	}
	if c.delivery == nil {
		c.owned = NewQueueDelivery()
		c.delivery = c.owned
	}

	register(c)
	return c, nil
}

// Name 返回实例名（即磁盘目录名）。
func (c *Cache[P]) Name() string {
	return c.name
}

// Fetch 请求 key 对应的 blob。内存中有新鲜 payload 时直接投递；已有加载在途时
// 仅登记 cb；否则发起一次新的加载（磁盘优先，其次源站）。cb 可为 nil，
// 总是在 Delivery 上异步调用，且最多一次。
func (c *Cache[P]) Fetch(key string, cb Callback[P]) {
	c.exec.submit(func() {
		c.fetch(key, cb)
	})
}

func (c *Cache[P]) fetch(key string, cb Callback[P]) {
	now := c.now()
	if e, ok := c.entries[key]; ok {
		if e.fresh(now, c.ttl) {
			e.lastAccessed = now
			if cb != nil {
				payload := e.payload
				c.delivery.Submit(func() { cb(key, payload, true) })
			}
			return
		}
		if e.loading {
			// 新请求复用在途加载；Remove 之前登记的等待者不再投递。
			if e.cancelRequested {
				e.pending = nil
				e.cancelRequested = false
			}
			if cb != nil {
				e.pending = append(e.pending, cb)
			}
			e.lastAccessed = now
			return
		}
	}

	c.gen++
	e := &entry[P]{
		key:          key,
		gen:          c.gen,
		loading:      true,
		downloadedAt: now,
		lastAccessed: now,
	}
	if cb != nil {
		e.pending = []Callback[P]{cb}
	}
	c.entries[key] = e
	c.rotate(now, key)
	c.startLoad(key, e.gen, c.ttl)
}

// arrived 是加载结果回到 serializer 后的处理入口。
func (c *Cache[P]) arrived(key string, gen uint64, payload P, ok bool, downloadedAt time.Time) {
	e, exists := c.entries[key]
	if !exists || e.gen != gen || !e.loading {
		return
	}
	if e.cancelRequested {
		delete(c.entries, key)
		return
	}

	e.payload = payload
	e.hasPayload = ok
	if !ok {
		e.clearPayload()
	}
	e.downloadedAt = downloadedAt
	e.lastAccessed = c.now()
	e.loading = false

	waiters := e.pending
	e.pending = nil
	delivered := e.payload
	for _, cb := range waiters {
		cb := cb
		c.delivery.Submit(func() { cb(key, delivered, ok) })
	}
}

// Remove 删除内存中的 key。加载在途时只标记取消，由加载回报时删除；
// 磁盘层不受影响。
func (c *Cache[P]) Remove(key string) {
	c.exec.submit(func() {
		e, ok := c.entries[key]
		if !ok {
			return
		}
		if e.loading {
			e.cancelRequested = true
			e.clearPayload()
			return
		}
		delete(c.entries, key)
	})
}

// Peek 同步读取内存层，不触发加载；命中会刷新 lastAccessed。过期 payload 不返回。
func (c *Cache[P]) Peek(key string) (P, bool) {
	var (
		payload P
		found   bool
	)
	c.exec.call(func() {
		e, ok := c.entries[key]
		if !ok {
			return
		}
		now := c.now()
		e.lastAccessed = now
		if e.fresh(now, c.ttl) {
			payload, found = e.payload, true
		}
	})
	return payload, found
}

// Fetching 报告 key 是否存在、无 payload 且正在加载。
func (c *Cache[P]) Fetching(key string) bool {
	var result bool
	c.exec.call(func() {
		e, ok := c.entries[key]
		result = ok && !e.hasPayload && e.loading
	})
	return result
}

// FailedToFetch 报告 key 是否存在、无 payload 且不在加载中。
func (c *Cache[P]) FailedToFetch(key string) bool {
	var result bool
	c.exec.call(func() {
		e, ok := c.entries[key]
		result = ok && !e.hasPayload && !e.loading
	})
	return result
}

// RemoveAll 清空内存层。在途加载仍会完成，但回报时找不到条目而成为空操作，
// 其等待者不会收到回调。
func (c *Cache[P]) RemoveAll() {
	c.exec.call(func() {
		c.entries = make(map[string]*entry[P])
	})
}

// TimeToLive 返回当前 TTL。
func (c *Cache[P]) TimeToLive() time.Duration {
	var ttl time.Duration
	c.exec.call(func() { ttl = c.ttl })
	return ttl
}

// SetTimeToLive 更新 TTL；小于 MinTimeToLive 时保留原值。TTL 缩短会触发一次轮转。
func (c *Cache[P]) SetTimeToLive(ttl time.Duration) {
	c.exec.call(func() {
		if ttl < MinTimeToLive {
			c.log.WithFields(logrus.Fields{"action": "set_ttl", "ttl": ttl.String()}).Debug("ttl below minimum ignored")
			return
		}
		decreased := ttl < c.ttl
		c.ttl = ttl
		if decreased {
			c.rotate(c.now(), "")
		}
	})
}

// MemoryMaxCount 返回内存层容量上限。
func (c *Cache[P]) MemoryMaxCount() int {
	var n int
	c.exec.call(func() { n = c.maxCount })
	return n
}

// SetMemoryMaxCount 更新内存层容量；小于 1 时保留原值。容量缩小会触发一次轮转。
func (c *Cache[P]) SetMemoryMaxCount(n int) {
	c.exec.call(func() {
		if n < MinMemoryMaxCount {
			c.log.WithFields(logrus.Fields{"action": "set_memory_max", "max": n}).Debug("memory max below minimum ignored")
			return
		}
		decreased := n < c.maxCount
		c.maxCount = n
		if decreased {
			c.rotate(c.now(), "")
		}
	})
}

// Stats 返回内存与磁盘两层的条目统计。
func (c *Cache[P]) Stats() Stats {
	stats := Stats{Name: c.name}
	c.exec.call(func() {
		stats.MemoryEntries = len(c.entries)
		for _, e := range c.entries {
			if e.loading {
				stats.LoadingEntries++
			}
		}
		stats.TimeToLive = c.ttl
		stats.MemoryMaxCount = c.maxCount
	})
	stats.DiskEntries = c.disk.count(context.Background())
	return stats
}

// Close 停止 serializer，等待在途加载与磁盘任务结束，并关闭自有的 Delivery。
// 不可在回调中调用。
func (c *Cache[P]) Close() {
	c.closeOnce.Do(func() {
		unregister(c)
		c.cancel()
		c.exec.close()
		c.loads.Wait()
		c.disk.wait()
		if c.owned != nil {
			c.owned.Close()
		}
	})
}
