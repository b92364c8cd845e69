// Package webmanifest builds the Web App Manifest that makes the portfolio
// installable as a PWA. The document is opaque to the rest of the system; it is
// rendered once from config and served as-is.
package webmanifest

import (
	"encoding/json"

	"github.com/folio-hub/folio/internal/config"
)

// ContentType 是 W3C 规定的 manifest 媒体类型。
const ContentType = "application/manifest+json"

// Icon 对应 manifest 中的 icons 项。
type Icon struct {
	Src     string `json:"src"`
	Sizes   string `json:"sizes,omitempty"`
	Type    string `json:"type,omitempty"`
	Purpose string `json:"purpose,omitempty"`
}

// Manifest 是序列化后的 manifest 文档。
type Manifest struct {
	Name            string `json:"name,omitempty"`
	ShortName       string `json:"short_name,omitempty"`
	Description     string `json:"description,omitempty"`
	StartURL        string `json:"start_url"`
	Scope           string `json:"scope,omitempty"`
	Display         string `json:"display"`
	BackgroundColor string `json:"background_color,omitempty"`
	ThemeColor      string `json:"theme_color,omitempty"`
	Icons           []Icon `json:"icons,omitempty"`
}

// FromConfig 将 [Manifest] 配置映射为 manifest 文档。
func FromConfig(cfg config.ManifestConfig) Manifest {
	m := Manifest{
		Name:            cfg.Name,
		ShortName:       cfg.ShortName,
		Description:     cfg.Description,
		StartURL:        cfg.StartURL,
		Scope:           cfg.Scope,
		Display:         cfg.Display,
		BackgroundColor: cfg.BackgroundColor,
		ThemeColor:      cfg.ThemeColor,
	}
	for _, icon := range cfg.Icons {
		m.Icons = append(m.Icons, Icon{
			Src:     icon.Src,
			Sizes:   icon.Sizes,
			Type:    icon.Type,
			Purpose: icon.Purpose,
		})
	}
	return m
}

// Encode 输出带缩进的 JSON，便于浏览器开发者工具查看。
func (m Manifest) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
