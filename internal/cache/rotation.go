package cache

import (
	"context"
	"sort"
	"time"
)

// rotate 先做 TTL 清扫，再在达到容量时按 lastAccessed 淘汰最旧的 max/10+1 个条目
// （超出容量更多时淘汰到容量以内）。
// 必须在 serializer 上调用。keep 为刚插入、即将开始加载的 key，不参与容量淘汰。
func (c *Cache[P]) rotate(now time.Time, keep string) {
	ttl := c.ttl
	for key, e := range c.entries {
		if now.Sub(e.downloadedAt) > ttl {
			// Loading entries go too; their arrival finds nothing and is dropped.
			delete(c.entries, key)
		}
	}
	c.disk.startSweep(ttl, now)

	if len(c.entries) < c.maxCount {
		return
	}

	candidates := make([]*entry[P], 0, len(c.entries))
	for key, e := range c.entries {
		if key != keep {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.lastAccessed.Equal(b.lastAccessed) {
			return a.lastAccessed.Before(b.lastAccessed)
		}
		return a.key < b.key
	})

	n := c.maxCount/10 + 1
	if excess := len(c.entries) - c.maxCount; excess > n {
		// A shrunk capacity is restored in one pass.
		n = excess
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	for _, e := range candidates[:n] {
		c.evict(e)
	}
}

// evict 将条目移出内存层。带 payload 的条目交给磁盘层落盘；
// 仍在加载的条目直接丢弃，其结果与等待者一并失去。
func (c *Cache[P]) evict(e *entry[P]) {
	delete(c.entries, e.key)
	if !e.hasPayload {
		return
	}

	waiters := e.pending
	e.pending = nil
	for _, cb := range waiters {
		cb := cb
		var zero P
		key := e.key
		c.delivery.Submit(func() { cb(key, zero, false) })
	}

	key, payload, downloadedAt := e.key, e.payload, e.downloadedAt
	c.disk.background(func() {
		c.writeThrough(context.Background(), key, payload, downloadedAt, true)
	})
}

// writeThrough 编码 payload 并写入磁盘层，失败只记录日志。
func (c *Cache[P]) writeThrough(ctx context.Context, key string, payload P, downloadedAt time.Time, saveIndex bool) error {
	data, err := c.codec.Encode(payload)
	if err == nil {
		err = c.disk.write(ctx, key, data, downloadedAt, saveIndex)
	}
	if err != nil {
		c.log.WithError(err).WithField("action", "disk_write").WithField("key", key).Debug("disk write failed")
	}
	return err
}
