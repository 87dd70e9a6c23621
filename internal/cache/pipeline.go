package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// startLoad 在 serializer 之外执行 磁盘 → 源站 的加载，并把结果恰好回报一次。
func (c *Cache[P]) startLoad(key string, gen uint64, ttl time.Duration) {
	c.loads.Add(1)
	go func() {
		defer c.loads.Done()
		payload, downloadedAt, ok := c.load(key, ttl)
		c.exec.submit(func() {
			c.arrived(key, gen, payload, ok, downloadedAt)
		})
	}()
}

func (c *Cache[P]) load(key string, ttl time.Duration) (P, time.Time, bool) {
	var zero P

	// A disk hit keeps its original downloadedAt, so the TTL clock is not reset.
	if data, downloadedAt, ok := c.disk.read(context.Background(), key, ttl, c.now()); ok {
		if payload, ok := c.codec.Decode(data); ok {
			return payload, downloadedAt, true
		}
		c.log.WithFields(logrus.Fields{"action": "disk_decode", "key": key}).Debug("disk blob undecodable, falling back to origin")
	}

	data, err := c.fetcher.Fetch(c.ctx, key)
	now := c.now()
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{"action": "fetch", "key": key}).Debug("fetch failed")
		return zero, now, false
	}
	payload, ok := c.codec.Decode(data)
	if !ok {
		c.log.WithFields(logrus.Fields{"action": "decode", "key": key, "bytes": len(data)}).Debug("decode failed")
		return zero, now, false
	}
	return payload, now, true
}
