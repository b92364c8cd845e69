package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Storage 对应浏览器的 CacheStorage：按名称管理多个缓存桶。
type Storage interface {
	// Open 打开指定名称的缓存桶，不存在时创建。
	Open(ctx context.Context, name string) (Bucket, error)

	// Lookup 只读地打开已存在的缓存桶，不存在时返回 ErrNotFound，不会创建。
	Lookup(ctx context.Context, name string) (Bucket, error)

	// Has 判断缓存桶是否存在，不会产生副作用。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 整体删除缓存桶，返回桶是否存在过。
	Delete(ctx context.Context, name string) (bool, error)

	// Keys 返回所有缓存桶名称（按名称排序）。
	Keys(ctx context.Context) ([]string, error)
}

// Bucket 是单个命名缓存桶，条目按 RequestKey 精确匹配。
type Bucket interface {
	Name() string

	// Put 写入（或覆盖）一个条目。
	Put(ctx context.Context, key RequestKey, resp *Response) error

	// Match 返回已存储的响应，未命中时返回 ErrNotFound。
	Match(ctx context.Context, key RequestKey) (*Response, error)

	// Delete 删除单个条目，返回条目是否存在过。
	Delete(ctx context.Context, key RequestKey) (bool, error)

	// Keys 返回桶内所有条目的 RequestKey（按字面值排序）。
	Keys(ctx context.Context) ([]RequestKey, error)
}

// RequestKey 唯一定位一个缓存条目：请求方法 + 完整 URL，按字面值比较，不做任何规范化。
type RequestKey struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// KeyFor 从 http.Request 构造 RequestKey，方法为空时视为 GET。
func KeyFor(req *http.Request) RequestKey {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	return RequestKey{Method: method, URL: req.URL.String()}
}

func (k RequestKey) String() string {
	return k.Method + " " + k.URL
}

// Response 是缓存中保存的响应快照：状态码、头部与完整正文。
type Response struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"-"`
	URL        string      `json:"url"`
	StoredAt   time.Time   `json:"stored_at"`
	// Cached 仅在内存中使用：Bucket.Match 返回的响应为 true，网络响应为 false。
	Cached bool `json:"-"`
}

// OK 与 fetch Response.ok 一致：状态码位于 200-299。
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode <= 299
}

// Clone 深拷贝响应，避免调用方修改缓存中的数据。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	cloned.Body = append([]byte(nil), r.Body...)
	return &cloned
}

// ErrNotFound 表示缓存条目不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidName 表示缓存桶名称无法映射为存储路径。
var ErrInvalidName = errors.New("invalid cache name")

// ErrBodyTooLarge 表示响应正文超过 ReadResponse 的上限。
var ErrBodyTooLarge = errors.New("response body too large")

// ReadResponse 读取 http.Response 的全部正文并生成 Response，limit <= 0 表示不限制。
// 调用方仍需关闭 resp.Body。
func ReadResponse(resp *http.Response, limit int64) (*Response, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}

	reader := io.Reader(resp.Body)
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}

	url := ""
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		URL:        url,
		StoredAt:   time.Now().UTC(),
	}, nil
}
