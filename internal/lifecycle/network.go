package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/folio-hub/folio/internal/cache"
)

// Fetcher 抽象网络访问，*http.Client 即满足该接口，测试中可替换为桩。
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// MaxResponseBytes 限制单个网络响应读入内存的大小。
const MaxResponseBytes = 64 << 20

// ErrNetwork 包装所有网络层失败，调用方据此返回 502。
var ErrNetwork = errors.New("network fetch failed")

// FetchNetwork 直接访问网络并把完整响应读入内存；不会写入任何缓存。
func FetchNetwork(ctx context.Context, client Fetcher, req *http.Request) (*cache.Response, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: no fetcher configured", ErrNetwork)
	}
	resp, err := client.Do(req.Clone(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	stored, err := cache.ReadResponse(resp, MaxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, req.Method, req.URL, err)
	}
	if stored.URL == "" {
		stored.URL = req.URL.String()
	}
	return stored, nil
}
