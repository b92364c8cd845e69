package version

import (
	"fmt"
	"runtime"
)

// Version/Commit/Date 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version = "0.1.0"
	Commit  = "dev"
	Date    = "unknown"
)

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("folio %s (%s, %s, %s)", Version, Commit, Date, runtime.Version())
}

// UserAgent 是访问源站和外部 CDN 时使用的 User-Agent。
func UserAgent() string {
	return "folio/" + Version
}
