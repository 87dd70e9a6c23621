package config

import (
	"testing"
	"time"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"

[Cache]
Name = "images"
TimeToLive = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsSecondsAndDurationStrings(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamTimeout = 15

[Cache]
Name = "thumbs"
TimeToLive = "90m"
FetchWait = 2.5
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.UpstreamTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("整数应按秒解析，得到 %s", loaded.Global.UpstreamTimeout.DurationValue())
	}
	if loaded.Cache.TimeToLive.DurationValue() != 90*time.Minute {
		t.Fatalf("Duration 字符串解析失败，得到 %s", loaded.Cache.TimeToLive.DurationValue())
	}
	if loaded.Cache.FetchWait.DurationValue() != 2500*time.Millisecond {
		t.Fatalf("浮点秒解析失败，得到 %s", loaded.Cache.FetchWait.DurationValue())
	}
	if loaded.Cache.MemoryMaxCount != 100 {
		t.Fatalf("MemoryMaxCount 默认值未生效")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(testConfigPath(t, "does-not-exist.toml")); err == nil {
		t.Fatalf("不存在的文件应返回错误")
	}
}
