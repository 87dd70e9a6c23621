package cache

import "sync"

var (
	sharedOnce sync.Once
	shared     *Cache[[]byte]
)

// Shared 返回进程级默认实例（名为 "shared"，默认配置），首次调用时惰性创建。
// 需要不同配置时用 New 创建独立实例。
func Shared() *Cache[[]byte] {
	sharedOnce.Do(func() {
		c, err := New[[]byte]("shared", BytesCodec{})
		if err != nil {
			panic(err)
		}
		shared = c
	})
	return shared
}
