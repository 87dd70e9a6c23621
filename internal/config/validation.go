package config

import (
	"errors"
	"strings"
	"time"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	cc := c.Cache
	if cc.Name == "" {
		return newFieldError(cacheField("Name"), "不能为空")
	}
	if strings.ContainsAny(cc.Name, `/\ `) || cc.Name == "." || cc.Name == ".." {
		return newFieldError(cacheField("Name"), "不允许包含路径分隔符或空格")
	}
	if cc.TimeToLive.DurationValue() < time.Second {
		return newFieldError(cacheField("TimeToLive"), "不能小于 1s")
	}
	if cc.MemoryMaxCount < 1 {
		return newFieldError(cacheField("MemoryMaxCount"), "必须大于 0")
	}
	if cc.DiskMaxCount < 0 {
		return newFieldError(cacheField("DiskMaxCount"), "不能为负数")
	}
	if cc.FetchWait.DurationValue() <= 0 {
		return newFieldError(cacheField("FetchWait"), "必须大于 0")
	}

	return nil
}
