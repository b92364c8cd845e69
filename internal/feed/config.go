package feed

import (
	"github.com/sirupsen/logrus"

	"github.com/folio-hub/folio/internal/config"
)

// FromConfig 将 [Feed] 配置映射为 Options 并构造 Feed；Enabled=false 时返回 nil。
func FromConfig(cfg config.FeedConfig, logger *logrus.Logger) (*Feed, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return New(Options{
		Interval:     cfg.Interval.DurationValue(),
		ChartPoints:  cfg.ChartPoints,
		ChartStep:    cfg.ChartStep,
		InitialValue: cfg.InitialValue,
		Symbols:      append([]string(nil), cfg.Symbols...),
		Sectors:      append([]string(nil), cfg.Sectors...),
		Seed:         cfg.Seed,
	}, logger)
}
