package cache

import (
	"context"
	"errors"
)

// Store 负责单个缓存实例目录下 blob 文件的读写。磁盘布局遵循：
//
//	<root>/<cache name>/index.json      # 磁盘索引
//	<root>/<cache name>/<sha256(key)>    # blob 正文
//
// 文件名由调用方派生，Store 只保证单文件写入的原子性。
type Store interface {
	// Get 读取整个文件。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, fileName string) ([]byte, error)

	// Put 通过临时文件 + rename 写入，失败时清理临时文件。
	Put(ctx context.Context, fileName string, data []byte) error

	// Remove 删除文件；文件不存在不视为错误。
	Remove(ctx context.Context, fileName string) error
}

// ErrNotFound 表示磁盘上不存在对应文件。
var ErrNotFound = errors.New("cache entry not found")
