package worker

import (
	"fmt"
	"net/http"
)

// AssetError 描述安装阶段某个资源抓取失败的原因。
type AssetError struct {
	URL    string
	Status int
	Err    error
}

func (e *AssetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("asset %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("asset %s: unexpected status %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

func (e *AssetError) Unwrap() error {
	return e.Err
}
