package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
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
	switch g.StorageBackend {
	case StorageBackendDisk:
		if g.StoragePath == "" {
			return newFieldError("Global.StoragePath", "不能为空")
		}
	case StorageBackendMemory:
	default:
		return newFieldError("Global.StorageBackend", "仅支持 disk/memory")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	origin, err := validateOrigin(g.Origin)
	if err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}

	if err := c.Cache.validate(origin); err != nil {
		return err
	}
	if err := c.Feed.validate(); err != nil {
		return err
	}
	return c.Manifest.validate()
}

func (c CacheConfig) validate(origin *url.URL) error {
	if c.Name == "" {
		return newFieldError("Cache.Name", "不能为空")
	}
	if strings.ContainsAny(c.Name, " \t\r\n") {
		return newFieldError("Cache.Name", "不允许包含空白字符")
	}
	if c.InstallConcurrency < 0 {
		return newFieldError("Cache.InstallConcurrency", "不能为负数")
	}

	seen := make(map[string]int, len(c.Assets))
	for i, raw := range c.Assets {
		resolved, err := ResolveAsset(origin, raw)
		if err != nil {
			return fmt.Errorf("%s: %w", indexedField("Cache.Assets", i), err)
		}
		key := resolved.String()
		if prev, exists := seen[key]; exists {
			return newFieldError(indexedField("Cache.Assets", i), fmt.Sprintf("与 Cache.Assets[%d] 重复", prev))
		}
		seen[key] = i
	}
	return nil
}

func (f FeedConfig) validate() error {
	if !f.Enabled {
		return nil
	}
	if f.Interval.DurationValue() <= 0 {
		return newFieldError("Feed.Interval", "必须大于 0")
	}
	if f.ChartPoints <= 0 {
		return newFieldError("Feed.ChartPoints", "必须大于 0")
	}
	if f.ChartStep < 0 {
		return newFieldError("Feed.ChartStep", "不能为负数")
	}
	if f.InitialValue < 0 {
		return newFieldError("Feed.InitialValue", "不能为负数")
	}
	return nil
}

func (m ManifestConfig) validate() error {
	for i, icon := range m.Icons {
		if strings.TrimSpace(icon.Src) == "" {
			return newFieldError(indexedField("Manifest.Icons", i)+".Src", "不能为空")
		}
	}
	switch m.Display {
	case "fullscreen", "standalone", "minimal-ui", "browser":
	default:
		return newFieldError("Manifest.Display", "仅支持 fullscreen/standalone/minimal-ui/browser")
	}
	return nil
}

func validateOrigin(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("缺少站点源地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return parsed, nil
}

// OriginURL 返回解析后的站点源地址（假定 Validate 已经通过）。
func (g GlobalConfig) OriginURL() *url.URL {
	parsed, _ := url.Parse(g.Origin)
	return parsed
}

// ResolveAsset 将清单中的条目解析为绝对 URL：以 / 开头的路径拼接到源站，
// 绝对 URL 原样保留（例如字体或 CSS CDN）。不做任何规范化，缓存按字面值匹配。
func ResolveAsset(origin *url.URL, raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("资源地址不能为空")
	}
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		if origin == nil {
			return nil, errors.New("相对路径需要配置源站")
		}
		return url.Parse(origin.Scheme + "://" + origin.Host + strings.TrimRight(origin.Path, "/") + raw)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("仅支持站内路径或 http/https 绝对地址: %s", raw)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("资源缺少 Host: %s", raw)
	}
	return parsed, nil
}
