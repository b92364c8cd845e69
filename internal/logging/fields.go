package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供缓存名/方法/URL/命中状态字段，供 fetch 日志复用。
func RequestFields(cacheName, method, url string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"cache":     cacheName,
		"method":    method,
		"url":       url,
		"cache_hit": cacheHit,
	}
}

// CacheFields 描述一次缓存桶级别的操作（填充、删除等）。
func CacheFields(action, cacheName string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"cache":  cacheName,
	}
}
