package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// StorageBackend 决定缓存桶落在磁盘还是内存。
const (
	StorageBackendDisk   = "disk"
	StorageBackendMemory = "memory"
)

// GlobalConfig 描述进程级运行参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StorageBackend  string   `mapstructure:"StorageBackend"`
	Origin          string   `mapstructure:"Origin"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	WatchConfig     bool     `mapstructure:"WatchConfig"`
}

// CacheConfig 对应 service worker 的版本号与预缓存清单。
type CacheConfig struct {
	// Name 是版本标签，每次资源内容变化都必须修改，否则老访客会一直拿到旧资源。
	Name string `mapstructure:"Name"`
	// Assets 可以是站内相对路径，也可以是外部 CDN 的绝对 URL。
	Assets             []string `mapstructure:"Assets"`
	InstallConcurrency int      `mapstructure:"InstallConcurrency"`
}

// FeedConfig 控制演示用的模拟行情。
type FeedConfig struct {
	Enabled      bool     `mapstructure:"Enabled"`
	Interval     Duration `mapstructure:"Interval"`
	ChartPoints  int      `mapstructure:"ChartPoints"`
	ChartStep    float64  `mapstructure:"ChartStep"`
	InitialValue float64  `mapstructure:"InitialValue"`
	Symbols      []string `mapstructure:"Symbols"`
	Sectors      []string `mapstructure:"Sectors"`
	Seed         uint64   `mapstructure:"Seed"`
}

// ManifestIcon 对应 Web App Manifest 中的一个图标。
type ManifestIcon struct {
	Src     string `mapstructure:"Src"`
	Sizes   string `mapstructure:"Sizes"`
	Type    string `mapstructure:"Type"`
	Purpose string `mapstructure:"Purpose"`
}

// ManifestConfig 描述 PWA 安装元数据。
type ManifestConfig struct {
	Name            string         `mapstructure:"Name"`
	ShortName       string         `mapstructure:"ShortName"`
	Description     string         `mapstructure:"Description"`
	StartURL        string         `mapstructure:"StartURL"`
	Scope           string         `mapstructure:"Scope"`
	Display         string         `mapstructure:"Display"`
	BackgroundColor string         `mapstructure:"BackgroundColor"`
	ThemeColor      string         `mapstructure:"ThemeColor"`
	Icons           []ManifestIcon `mapstructure:"Icons"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Cache    CacheConfig    `mapstructure:"Cache"`
	Feed     FeedConfig     `mapstructure:"Feed"`
	Manifest ManifestConfig `mapstructure:"Manifest"`
}

// SameCache 判断两份缓存配置是否描述同一个部署版本（名称与清单完全一致）。
func (c CacheConfig) SameCache(other CacheConfig) bool {
	if c.Name != other.Name || len(c.Assets) != len(other.Assets) {
		return false
	}
	for i := range c.Assets {
		if c.Assets[i] != other.Assets[i] {
			return false
		}
	}
	return true
}
