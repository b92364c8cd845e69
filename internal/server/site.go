package server

import (
	"errors"
	"net/url"

	"github.com/folio-hub/folio/internal/config"
)

// Site 聚合源站地址与监听端口，供路由层与 handler 复用，避免每个请求重复解析配置。
type Site struct {
	// Origin 是站点静态文件所在的源站，预缓存清单中的站内路径也基于它解析。
	Origin     *url.URL
	ListenPort int
}

// NewSite 根据配置构建 Site。调用方应在启动阶段创建一次并复用。
func NewSite(cfg *config.Config) (*Site, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	origin := cfg.Global.OriginURL()
	if origin == nil || origin.Host == "" {
		return nil, errors.New("origin is not configured")
	}
	return &Site{Origin: origin, ListenPort: cfg.Global.ListenPort}, nil
}

// Target 把收到的原始 RequestURI（路径 + 查询串）映射到源站 URL。
// 与预缓存清单使用同一套解析规则，字节级一致，缓存键才能精确命中。
func (s *Site) Target(requestURI string) (*url.URL, error) {
	if requestURI == "" {
		requestURI = "/"
	}
	return config.ResolveAsset(s.Origin, requestURI)
}
