package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const indexFileName = "index.json"

// diskTier 维护磁盘索引并在后台执行落盘任务。它不经过 serializer：
// mu 只保护 index map 本身，复合操作之间的竞争（例如淘汰写入与 reduce 并发）
// 被视为可接受的风险，任何失败都降级为未命中。
type diskTier struct {
	store Store
	log   logrus.FieldLogger

	mu     sync.Mutex
	index  map[string]DiskEntry
	loaded bool

	wg       sync.WaitGroup
	sweeping atomic.Bool
}

func newDiskTier(store Store, log logrus.FieldLogger) *diskTier {
	return &diskTier{
		store: store,
		log:   log,
		index: make(map[string]DiskEntry),
	}
}

// diskFileName 由 key 派生抗碰撞的文件名。
func diskFileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// background 在后台 goroutine 中运行 fn，wait 可等待全部完成。
func (d *diskTier) background(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

func (d *diskTier) wait() {
	d.wg.Wait()
}

// hydrate 每个实例只加载一次索引文件；缺失或损坏都按空索引处理。
func (d *diskTier) hydrate(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return
	}
	d.loaded = true

	data, err := d.store.Get(ctx, indexFileName)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			d.log.WithError(err).WithField("action", "disk_index_load").Warn("disk index unreadable")
		}
		return
	}

	var index map[string]DiskEntry
	if err := json.Unmarshal(data, &index); err != nil {
		d.log.WithError(err).WithField("action", "disk_index_load").Warn("disk index corrupt, starting empty")
		return
	}
	for key, de := range index {
		de.Key = key
		if de.FileName == "" {
			continue
		}
		d.index[key] = de
	}
}

// saveIndex 将当前索引整体写入索引文件。先 hydrate，避免空索引覆盖已有文件。
func (d *diskTier) saveIndex(ctx context.Context) error {
	d.hydrate(ctx)
	d.mu.Lock()
	snapshot := make(map[string]DiskEntry, len(d.index))
	for key, de := range d.index {
		snapshot[key] = de
	}
	d.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return d.store.Put(ctx, indexFileName, data)
}

func (d *diskTier) persistIndex(ctx context.Context) {
	if err := d.saveIndex(ctx); err != nil {
		d.log.WithError(err).WithField("action", "disk_index_save").Warn("disk index not saved")
	}
}

func (d *diskTier) lookup(ctx context.Context, key string) (DiskEntry, bool) {
	d.hydrate(ctx)
	d.mu.Lock()
	defer d.mu.Unlock()
	de, ok := d.index[key]
	return de, ok
}

// read 返回 TTL 内的磁盘 blob 及其原始 downloadedAt；任何错误都视为未命中。
func (d *diskTier) read(ctx context.Context, key string, ttl time.Duration, now time.Time) ([]byte, time.Time, bool) {
	de, ok := d.lookup(ctx, key)
	if !ok || now.Sub(de.DownloadedAt) >= ttl {
		return nil, time.Time{}, false
	}
	data, err := d.store.Get(ctx, de.FileName)
	if err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{"action": "disk_read", "key": key}).Debug("disk miss")
		return nil, time.Time{}, false
	}
	return data, de.DownloadedAt, true
}

// write 写入 blob 并登记索引；saveIndex 为 true 时同时持久化索引文件。
func (d *diskTier) write(ctx context.Context, key string, data []byte, downloadedAt time.Time, saveIndex bool) error {
	d.hydrate(ctx)
	de := DiskEntry{Key: key, DownloadedAt: downloadedAt, FileName: diskFileName(key)}
	if err := d.store.Put(ctx, de.FileName, data); err != nil {
		return err
	}

	d.mu.Lock()
	d.index[key] = de
	d.mu.Unlock()

	if saveIndex {
		return d.saveIndex(ctx)
	}
	return nil
}

// remove 尽力删除 blob 文件，失败静默。
func (d *diskTier) remove(ctx context.Context, de DiskEntry) {
	if err := d.store.Remove(ctx, de.FileName); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{"action": "disk_remove", "key": de.Key}).Debug("disk remove failed")
	}
}

// startSweep 在后台执行一次 sweep；已有 sweep 在运行时直接返回 false。
func (d *diskTier) startSweep(ttl time.Duration, now time.Time) bool {
	if !d.sweeping.CompareAndSwap(false, true) {
		return false
	}
	d.background(func() {
		defer d.sweeping.Store(false)
		d.sweep(context.Background(), ttl, now)
	})
	return true
}

// sweep 删除超过 TTL 的磁盘条目及其文件。
func (d *diskTier) sweep(ctx context.Context, ttl time.Duration, now time.Time) {
	d.hydrate(ctx)

	var expired []DiskEntry
	d.mu.Lock()
	for key, de := range d.index {
		if now.Sub(de.DownloadedAt) > ttl {
			expired = append(expired, de)
			delete(d.index, key)
		}
	}
	d.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	for _, de := range expired {
		d.remove(ctx, de)
	}
	d.persistIndex(ctx)
}

// reduce 按 downloadedAt 升序删除最旧的条目，直到数量不超过 maxCount。
func (d *diskTier) reduce(ctx context.Context, maxCount int) {
	if maxCount < 0 {
		maxCount = 0
	}
	d.hydrate(ctx)

	d.mu.Lock()
	excess := len(d.index) - maxCount
	if excess <= 0 {
		d.mu.Unlock()
		return
	}
	all := make([]DiskEntry, 0, len(d.index))
	for _, de := range d.index {
		all = append(all, de)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].DownloadedAt.Equal(all[j].DownloadedAt) {
			return all[i].DownloadedAt.Before(all[j].DownloadedAt)
		}
		return all[i].Key < all[j].Key
	})
	victims := all[:excess]
	for _, de := range victims {
		delete(d.index, de.Key)
	}
	d.mu.Unlock()

	for _, de := range victims {
		d.remove(ctx, de)
	}
	d.persistIndex(ctx)
}

func (d *diskTier) count(ctx context.Context) int {
	d.hydrate(ctx)
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.index)
}
