package config

import (
	"os"
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
Origin = "https://portfolio.example.com"
UpstreamTimeout = "boom"

[Cache]
Name = "v1"
Assets = ["/"]
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsIntegerSecondsDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
Origin = "https://portfolio.example.com"
UpstreamTimeout = 45

[Cache]
Name = "v1"
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if got := loaded.Global.UpstreamTimeout.DurationValue(); got != 45*time.Second {
		t.Fatalf("纯数字应按秒解析，得到 %s", got)
	}
	if loaded.Cache.InstallConcurrency != 4 {
		t.Fatalf("InstallConcurrency 默认值应为 4，得到 %d", loaded.Cache.InstallConcurrency)
	}
}

func TestLoadMemoryBackendKeepsStoragePath(t *testing.T) {
	cfg := `
StorageBackend = "Memory"
StoragePath = "relative"
Origin = "https://portfolio.example.com/"

[Cache]
Name = "v1"
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.StorageBackend != StorageBackendMemory {
		t.Fatalf("StorageBackend 应被规范化为小写，得到 %s", loaded.Global.StorageBackend)
	}
	if loaded.Global.StoragePath != "relative" {
		t.Fatalf("内存模式不应改写 StoragePath，得到 %s", loaded.Global.StoragePath)
	}
	if loaded.Global.Origin != "https://portfolio.example.com" {
		t.Fatalf("Origin 末尾的 / 应被去除，得到 %s", loaded.Global.Origin)
	}
}

func TestWatchReportsChangedCache(t *testing.T) {
	path := writeTempConfig(t, `
Origin = "https://portfolio.example.com"

[Cache]
Name = "v1"
Assets = ["/"]
`)

	changes := make(chan *Config, 4)
	if err := Watch(path, func(cfg *Config) { changes <- cfg }, nil); err != nil {
		t.Fatalf("Watch 返回错误: %v", err)
	}

	next := `
Origin = "https://portfolio.example.com"

[Cache]
Name = "v2"
Assets = ["/", "/blog.html"]
`
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatalf("写入新配置失败: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Cache.Name == "v2" && len(cfg.Cache.Assets) == 2 {
				return
			}
		case <-deadline:
			t.Fatalf("未收到配置变更回调")
		}
	}
}
