package cache

import (
	"encoding/json"
	"math"
	"time"
)

// Callback 接收一次 Fetch 的结果；ok 为 false 表示加载失败或条目被容量淘汰。
type Callback[P any] func(key string, payload P, ok bool)

// entry 是内存层中单个 key 的权威状态，只允许在 serializer 上读写。
type entry[P any] struct {
	key          string
	gen          uint64
	payload      P
	hasPayload   bool
	lastAccessed time.Time
	downloadedAt time.Time

	loading         bool
	cancelRequested bool
	pending         []Callback[P]
}

func (e *entry[P]) clearPayload() {
	var zero P
	e.payload = zero
	e.hasPayload = false
}

// fresh 判断 payload 是否仍在 TTL 内，可直接服务。
func (e *entry[P]) fresh(now time.Time, ttl time.Duration) bool {
	return !e.loading && e.hasPayload && now.Sub(e.downloadedAt) < ttl
}

// DiskEntry 描述已落盘的 blob 元数据；文件本身可能已丢失，读取时按未命中处理。
type DiskEntry struct {
	Key          string
	DownloadedAt time.Time
	FileName     string
}

// diskRecord 是索引文件中的序列化形态，downloadedAt 以 epoch 秒（浮点）存储。
type diskRecord struct {
	DownloadedAt float64 `json:"downloadedAt"`
	FileName     string  `json:"fileName"`
	Key          string  `json:"key"`
}

// MarshalJSON writes the entry in the index file layout.
func (d DiskEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(diskRecord{
		DownloadedAt: float64(d.DownloadedAt.UnixMicro()) / 1e6,
		FileName:     d.FileName,
		Key:          d.Key,
	})
}

// UnmarshalJSON reads the index file layout; timestamps keep microsecond precision.
func (d *DiskEntry) UnmarshalJSON(data []byte) error {
	var rec diskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	d.Key = rec.Key
	d.FileName = rec.FileName
	d.DownloadedAt = time.UnixMicro(int64(math.Round(rec.DownloadedAt * 1e6)))
	return nil
}
