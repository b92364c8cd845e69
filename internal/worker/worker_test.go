package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/folio-hub/folio/internal/cache"
	"github.com/folio-hub/folio/internal/config"
	"github.com/folio-hub/folio/internal/lifecycle"
)

func TestInstallPopulatesEveryAsset(t *testing.T) {
	origin := newOriginStub(t)
	storage := cache.NewMemoryStorage()
	reg := lifecycle.NewRegistration(origin.Client(), quietLogger())

	deploy(t, reg, newWorker(t, origin, storage, "v1", "/", "/about.html"))

	keys := bucketKeys(t, storage, "v1")
	if len(keys) != 2 {
		t.Fatalf("v1 应包含 2 个条目，得到 %v", keys)
	}

	origin.reset()
	for _, path := range []string{"/", "/about.html"} {
		result := serve(t, reg, origin.URL+path)
		if result.Source != lifecycle.SourceCache {
			t.Fatalf("%s 应从缓存返回", path)
		}
		if string(result.Response.Body) != "page:"+path {
			t.Fatalf("缓存正文不正确: %s", result.Response.Body)
		}
	}
	if total := origin.total(); total != 0 {
		t.Fatalf("缓存命中不应访问源站，实际 %d 次", total)
	}
}

func TestUnlistedResourceAlwaysHitsNetwork(t *testing.T) {
	origin := newOriginStub(t)
	storage := cache.NewMemoryStorage()
	reg := lifecycle.NewRegistration(origin.Client(), quietLogger())
	deploy(t, reg, newWorker(t, origin, storage, "v1", "/", "/about.html"))
	origin.reset()

	for i := 0; i < 3; i++ {
		result := serve(t, reg, origin.URL+"/contact.html")
		if result.Source != lifecycle.SourceNetwork {
			t.Fatalf("未列入清单的资源应走网络")
		}
	}
	if got := origin.count("/contact.html"); got != 3 {
		t.Fatalf("未命中响应不应回写缓存，期望 3 次回源，得到 %d", got)
	}
	if keys := bucketKeys(t, storage, "v1"); len(keys) != 2 {
		t.Fatalf("未命中不应改变缓存桶: %v", keys)
	}
}

func TestExactLocatorMatching(t *testing.T) {
	origin := newOriginStub(t)
	storage := cache.NewMemoryStorage()
	reg := lifecycle.NewRegistration(origin.Client(), quietLogger())
	deploy(t, reg, newWorker(t, origin, storage, "v1", "/about.html"))
	origin.reset()

	for _, path := range []string{"/about.html?ref=nav", "/about", "/ABOUT.html"} {
		if result := serve(t, reg, origin.URL+path); result.Source != lifecycle.SourceNetwork {
			t.Fatalf("%s 不应匹配 /about.html", path)
		}
	}

	req, _ := http.NewRequest(http.MethodHead, origin.URL+"/about.html", nil)
	result, err := reg.Serve(context.Background(), req)
	if err != nil {
		t.Fatalf("serve error: %v", err)
	}
	if result.Source != lifecycle.SourceNetwork {
		t.Fatalf("方法不同的请求不应命中缓存")
	}
}

func TestVersionUpgradeScenario(t *testing.T) {
	origin := newOriginStub(t)
	storage := cache.NewMemoryStorage()
	reg := lifecycle.NewRegistration(origin.Client(), quietLogger())

	deploy(t, reg, newWorker(t, origin, storage, "v1", "/", "/about.html"))
	if keys := bucketKeys(t, storage, "v1"); len(keys) != 2 {
		t.Fatalf("v1 应包含 2 个条目")
	}

	deploy(t, reg, newWorker(t, origin, storage, "v2", "/", "/about.html", "/blog.html"))

	names, err := storage.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if strings.Join(names, ",") != "v2" {
		t.Fatalf("激活 v2 后只应保留 v2，得到 %v", names)
	}
	if keys := bucketKeys(t, storage, "v2"); len(keys) != 3 {
		t.Fatalf("v2 应包含 3 个条目，得到 %v", keys)
	}

	origin.reset()
	result := serve(t, reg, origin.URL+"/blog.html")
	if result.Source != lifecycle.SourceCache || result.CacheName != "v2" {
		t.Fatalf("/blog.html 应由 v2 缓存返回: %+v", result)
	}
	if origin.total() != 0 {
		t.Fatalf("缓存命中不应访问源站")
	}
}

func TestFailedInstallKeepsServingPreviousCache(t *testing.T) {
	origin := newOriginStub(t)
	storage := cache.NewMemoryStorage()
	reg := lifecycle.NewRegistration(origin.Client(), quietLogger())

	deploy(t, reg, newWorker(t, origin, storage, "v1", "/", "/about.html"))

	broken := newWorker(t, origin, storage, "v2", "/", "/about.html", "/missing.html")
	err := reg.Deploy(context.Background(), broken)
	if !errors.Is(err, lifecycle.ErrInstallFailed) {
		t.Fatalf("expected ErrInstallFailed, got %v", err)
	}
	var assetErr *AssetError
	if !errors.As(err, &assetErr) || assetErr.Status != http.StatusNotFound {
		t.Fatalf("错误应指明 404 的资源，得到 %v", err)
	}
	if !strings.HasSuffix(assetErr.URL, "/missing.html") {
		t.Fatalf("unexpected asset url: %s", assetErr.URL)
	}

	if has, _ := storage.Has(context.Background(), "v1"); !has {
		t.Fatalf("安装失败不应删除 v1")
	}
	if keys := bucketKeys(t, storage, "v2"); len(keys) != 0 {
		t.Fatalf("安装失败不应留下任何 v2 条目，得到 %v", keys)
	}

	origin.reset()
	result := serve(t, reg, origin.URL+"/about.html")
	if result.Source != lifecycle.SourceCache || result.CacheName != "v1" {
		t.Fatalf("应继续由 v1 提供服务: %+v", result)
	}
	if origin.total() != 0 {
		t.Fatalf("v1 缓存命中不应访问源站")
	}
}

func TestReinstallSameVersionIsIdempotent(t *testing.T) {
	origin := newOriginStub(t)
	storage := cache.NewMemoryStorage()
	reg := lifecycle.NewRegistration(origin.Client(), quietLogger())

	deploy(t, reg, newWorker(t, origin, storage, "v1", "/", "/about.html"))
	first := bucketKeys(t, storage, "v1")
	deploy(t, reg, newWorker(t, origin, storage, "v1", "/", "/about.html"))
	second := bucketKeys(t, storage, "v1")

	if len(first) != len(second) {
		t.Fatalf("重复安装不应产生重复条目: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("条目不一致: %v vs %v", first[i], second[i])
		}
	}
	if names, _ := storage.Keys(context.Background()); len(names) != 1 {
		t.Fatalf("同名版本重装后应仍只有一个缓存桶: %v", names)
	}
}

func TestCrossOriginAssetsAreCached(t *testing.T) {
	origin := newOriginStub(t)
	cdn := newOriginStub(t)
	storage := cache.NewMemoryStorage()
	reg := lifecycle.NewRegistration(origin.Client(), quietLogger())

	font, _ := url.Parse(cdn.URL + "/css2?family=Inter")
	home, _ := url.Parse(origin.URL + "/")
	w, err := New(Options{
		CacheName: "v1",
		Assets:    []*url.URL{home, font},
		Storage:   storage,
		Network:   origin.Client(),
		Logger:    quietLogger(),
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	deploy(t, reg, w)

	cdn.reset()
	result := serve(t, reg, font.String())
	if result.Source != lifecycle.SourceCache {
		t.Fatalf("跨域资源应同样从缓存返回")
	}
	if cdn.total() != 0 {
		t.Fatalf("跨域资源命中后不应访问 CDN")
	}
}

func TestActivateToleratesDeleteFailure(t *testing.T) {
	origin := newOriginStub(t)
	storage := &failingDeleteStorage{Storage: cache.NewMemoryStorage()}
	reg := lifecycle.NewRegistration(origin.Client(), quietLogger())

	deploy(t, reg, newWorker(t, origin, storage, "v1", "/"))
	storage.fail = true
	deploy(t, reg, newWorker(t, origin, storage, "v2", "/"))

	if reg.CacheName() != "v2" {
		t.Fatalf("删除旧缓存失败不应阻止激活")
	}
	if has, _ := storage.Has(context.Background(), "v1"); !has {
		t.Fatalf("删除失败时 v1 应仍然存在")
	}

	storage.fail = false
	deploy(t, reg, newWorker(t, origin, storage, "v3", "/"))
	names, _ := storage.Keys(context.Background())
	if strings.Join(names, ",") != "v3" {
		t.Fatalf("下一次激活应清理所有旧缓存，得到 %v", names)
	}
}

func TestMatchDoesNotRecreateDeletedBucket(t *testing.T) {
	origin := newOriginStub(t)
	inner := cache.NewMemoryStorage()
	reg := lifecycle.NewRegistration(origin.Client(), quietLogger())
	old := newWorker(t, origin, inner, "v1", "/")
	deploy(t, reg, old)

	// 查到桶之后、读取条目之前被激活流程删除
	storage := &deleteAfterLookupStorage{Storage: inner}
	old.storage = storage

	req, err := http.NewRequest(http.MethodGet, origin.URL+"/", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if _, err := old.match(context.Background(), req); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("被删除的桶应视为未命中，得到 %v", err)
	}
	if storage.deleted != 1 {
		t.Fatalf("lookup 应被调用一次，实际 %d", storage.deleted)
	}

	names, err := inner.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("match 不应重建已删除的缓存桶: %v", names)
	}
}

func TestServeDuringDeployOnlyHitsCacheOrNetwork(t *testing.T) {
	origin := newOriginStub(t)
	storage := cache.NewMemoryStorage()
	reg := lifecycle.NewRegistration(origin.Client(), quietLogger())
	paths := []string{"/", "/about.html", "/blog.html"}
	deploy(t, reg, newWorker(t, origin, storage, "v1", paths...))

	type outcome struct {
		path   string
		result *lifecycle.Result
		err    error
	}
	outcomes := make(chan outcome, 1024)
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; ; n++ {
				select {
				case <-done:
					return
				default:
				}
				path := paths[(i+n)%len(paths)]
				req, err := http.NewRequest(http.MethodGet, origin.URL+path, nil)
				if err != nil {
					outcomes <- outcome{path: path, err: err}
					return
				}
				result, err := reg.Serve(context.Background(), req)
				select {
				case outcomes <- outcome{path: path, result: result, err: err}:
				default:
				}
			}
		}(i)
	}

	deploy(t, reg, newWorker(t, origin, storage, "v2", paths...))
	close(done)
	wg.Wait()
	close(outcomes)

	seen := 0
	for o := range outcomes {
		seen++
		if o.err != nil {
			t.Fatalf("%s 并发请求失败: %v", o.path, o.err)
		}
		switch o.result.Source {
		case lifecycle.SourceCache:
			if o.result.CacheName != "v1" && o.result.CacheName != "v2" {
				t.Fatalf("%s 命中未知缓存 %s", o.path, o.result.CacheName)
			}
		case lifecycle.SourceNetwork:
		default:
			t.Fatalf("%s 来源未知: %s", o.path, o.result.Source)
		}
		if string(o.result.Response.Body) != "page:"+o.path {
			t.Fatalf("%s 正文错乱: %s", o.path, o.result.Response.Body)
		}
	}
	if seen == 0 {
		t.Fatalf("部署期间没有完成任何请求")
	}

	names, err := storage.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if strings.Join(names, ",") != "v2" {
		t.Fatalf("部署结束后只应保留 v2，得到 %v", names)
	}
}

func TestFromConfigResolvesAssets(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{Origin: "https://portfolio.example.com/site"},
		Cache: config.CacheConfig{
			Name:   "v1",
			Assets: []string{"/", "/about.html", "https://fonts.googleapis.com/css2?family=Inter"},
		},
	}
	w, err := FromConfig(cfg, cache.NewMemoryStorage(), http.DefaultClient, quietLogger())
	if err != nil {
		t.Fatalf("FromConfig error: %v", err)
	}
	want := []string{
		"https://portfolio.example.com/site/",
		"https://portfolio.example.com/site/about.html",
		"https://fonts.googleapis.com/css2?family=Inter",
	}
	for i, asset := range w.assets {
		if asset.String() != want[i] {
			t.Fatalf("asset %d: want %s got %s", i, want[i], asset)
		}
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Options{Storage: cache.NewMemoryStorage(), Network: http.DefaultClient}); err == nil {
		t.Fatalf("缺少 CacheName 应报错")
	}
	if _, err := New(Options{CacheName: "v1", Network: http.DefaultClient}); err == nil {
		t.Fatalf("缺少 Storage 应报错")
	}
	if _, err := New(Options{CacheName: "v1", Storage: cache.NewMemoryStorage()}); err == nil {
		t.Fatalf("缺少 Network 应报错")
	}
}

type failingDeleteStorage struct {
	cache.Storage
	fail bool
}

func (s *failingDeleteStorage) Delete(ctx context.Context, name string) (bool, error) {
	if s.fail {
		return false, errors.New("disk busy")
	}
	return s.Storage.Delete(ctx, name)
}

// deleteAfterLookupStorage 在 Lookup 返回桶之后立即删除它。
type deleteAfterLookupStorage struct {
	cache.Storage
	deleted int
}

func (s *deleteAfterLookupStorage) Lookup(ctx context.Context, name string) (cache.Bucket, error) {
	bucket, err := s.Storage.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if _, err := s.Storage.Delete(ctx, name); err != nil {
		return nil, err
	}
	s.deleted++
	return bucket, nil
}

// originStub 记录每个路径被访问的次数，/missing* 返回 404。
type originStub struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newOriginStub(t *testing.T) *originStub {
	t.Helper()
	stub := &originStub{hits: make(map[string]int)}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.hits[r.URL.Path]++
		stub.mu.Unlock()

		if strings.HasPrefix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, "page:"+r.URL.Path)
	}))
	t.Cleanup(stub.Close)
	return stub
}

func (s *originStub) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = make(map[string]int)
}

func (s *originStub) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *originStub) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.hits {
		n += c
	}
	return n
}

func newWorker(t *testing.T, origin *originStub, storage cache.Storage, name string, paths ...string) *Worker {
	t.Helper()
	assets := make([]*url.URL, 0, len(paths))
	for _, p := range paths {
		u, err := url.Parse(origin.URL + p)
		if err != nil {
			t.Fatalf("parse asset: %v", err)
		}
		assets = append(assets, u)
	}
	w, err := New(Options{
		CacheName:   name,
		Assets:      assets,
		Concurrency: 2,
		Storage:     storage,
		Network:     origin.Client(),
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func deploy(t *testing.T, reg *lifecycle.Registration, w *Worker) {
	t.Helper()
	if err := reg.Deploy(context.Background(), w); err != nil {
		t.Fatalf("deploy %s: %v", w.CacheName(), err)
	}
}

func serve(t *testing.T, reg *lifecycle.Registration, rawURL string) *lifecycle.Result {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	result, err := reg.Serve(context.Background(), req)
	if err != nil {
		t.Fatalf("serve %s: %v", rawURL, err)
	}
	return result
}

func bucketKeys(t *testing.T, storage cache.Storage, name string) []cache.RequestKey {
	t.Helper()
	has, err := storage.Has(context.Background(), name)
	if err != nil {
		t.Fatalf("has error: %v", err)
	}
	if !has {
		return nil
	}
	bucket, err := storage.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	keys, err := bucket.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys %s: %v", name, err)
	}
	return keys
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
