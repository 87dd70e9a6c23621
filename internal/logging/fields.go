package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/blobcache/internal/config"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 描述缓存实例的关键参数，供启动与诊断日志复用。
func CacheFields(cfg config.CacheConfig, directory string) logrus.Fields {
	return logrus.Fields{
		"cache":            cfg.Name,
		"directory":        directory,
		"ttl":              cfg.TimeToLive.DurationValue().String(),
		"memory_max_count": cfg.MemoryMaxCount,
		"disk_max_count":   cfg.DiskMaxCount,
	}
}

// RequestFields 提供 key/命中状态字段，供 HTTP 请求日志复用。
func RequestFields(requestID, key string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"key":        key,
		"cache_hit":  cacheHit,
	}
}
