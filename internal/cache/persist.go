package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PersistCacheToDisk 把内存层中所有带 payload 的条目写入磁盘（不移出内存），
// 然后持久化索引。通常在进程挂起/退出前调用，为下次启动预热磁盘层。
// 阻塞直至写入结束；失败只记录日志。
func (c *Cache[P]) PersistCacheToDisk(ctx context.Context) {
	type snapshot struct {
		key          string
		payload      P
		downloadedAt time.Time
	}

	var items []snapshot
	c.exec.call(func() {
		for key, e := range c.entries {
			if e.hasPayload {
				items = append(items, snapshot{key: key, payload: e.payload, downloadedAt: e.downloadedAt})
			}
		}
	})

	var (
		mu   sync.Mutex
		errs error
	)
	g := new(errgroup.Group)
	g.SetLimit(c.writeLimit)
	for _, item := range items {
		item := item
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.writeThrough(ctx, item.key, item.payload, item.downloadedAt, false); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := c.disk.saveIndex(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}

	fields := logrus.Fields{"action": "persist", "entries": len(items)}
	if errs != nil {
		c.log.WithError(errs).WithFields(fields).Warn("persist to disk incomplete")
		return
	}
	c.log.WithFields(fields).Debug("memory tier persisted to disk")
}

// ReduceDiskCache 在后台把磁盘层裁剪到 maxCount 个条目（按 downloadedAt 最旧优先）。
// 并发完成的加载可能让磁盘层再次短暂超过 maxCount。
func (c *Cache[P]) ReduceDiskCache(maxCount int) {
	c.disk.background(func() {
		c.disk.reduce(context.Background(), maxCount)
	})
}
