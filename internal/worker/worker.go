package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/folio-hub/folio/internal/cache"
	"github.com/folio-hub/folio/internal/config"
	"github.com/folio-hub/folio/internal/lifecycle"
	"github.com/folio-hub/folio/internal/logging"
)

// Options 描述一个待部署版本。
type Options struct {
	// CacheName 是版本标签，也是缓存桶名称。
	CacheName string
	// Assets 是已解析为绝对 URL 的预缓存清单，顺序即写入顺序。
	Assets []*url.URL
	// Concurrency 限制安装阶段的并发抓取数，<= 0 时不限制。
	Concurrency int

	Storage cache.Storage
	Network lifecycle.Fetcher
	Logger  *logrus.Logger
}

// Worker 是某个版本的缓存管理脚本，实现 lifecycle.Script。
type Worker struct {
	name        string
	assets      []*url.URL
	concurrency int
	storage     cache.Storage
	network     lifecycle.Fetcher
	logger      *logrus.Logger
}

// New 校验参数并构造 Worker。
func New(opts Options) (*Worker, error) {
	if opts.CacheName == "" {
		return nil, errors.New("cache name is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Network == nil {
		return nil, errors.New("network fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		name:        opts.CacheName,
		assets:      append([]*url.URL(nil), opts.Assets...),
		concurrency: opts.Concurrency,
		storage:     opts.Storage,
		network:     opts.Network,
		logger:      logger,
	}, nil
}

// FromConfig 根据 [Cache] 配置构造 Worker，清单中的相对路径以 Origin 为基准解析。
func FromConfig(cfg *config.Config, storage cache.Storage, network lifecycle.Fetcher, logger *logrus.Logger) (*Worker, error) {
	origin := cfg.Global.OriginURL()
	assets := make([]*url.URL, 0, len(cfg.Cache.Assets))
	for i, raw := range cfg.Cache.Assets {
		resolved, err := config.ResolveAsset(origin, raw)
		if err != nil {
			return nil, fmt.Errorf("Cache.Assets[%d]: %w", i, err)
		}
		assets = append(assets, resolved)
	}
	return New(Options{
		CacheName:   cfg.Cache.Name,
		Assets:      assets,
		Concurrency: cfg.Cache.InstallConcurrency,
		Storage:     storage,
		Network:     network,
		Logger:      logger,
	})
}

// CacheName 返回版本标签。
func (w *Worker) CacheName() string {
	return w.name
}

// Register 向派发器注册 install/activate/fetch 三个 handler。
func (w *Worker) Register(d *lifecycle.Dispatcher) {
	d.On(lifecycle.EventInstall, w.onInstall)
	d.On(lifecycle.EventActivate, w.onActivate)
	d.On(lifecycle.EventFetch, w.onFetch)
}

func (w *Worker) onInstall(ev *lifecycle.Event) {
	ev.WaitUntil(func(ctx context.Context) error {
		bucket, err := w.storage.Open(ctx, w.name)
		if err != nil {
			return err
		}
		return w.addAll(ctx, bucket)
	})
}

func (w *Worker) onActivate(ev *lifecycle.Event) {
	ev.WaitUntil(w.deleteStale)
}

func (w *Worker) onFetch(ev *lifecycle.Event) {
	req := ev.Request
	ev.RespondWith(func(ctx context.Context) (*cache.Response, error) {
		started := time.Now()
		resp, err := w.match(ctx, req)
		if err == nil {
			w.logFetch(req, true, resp.StatusCode, started, nil)
			return resp, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			w.logger.WithFields(logging.CacheFields("cache_match", w.name)).
				WithError(err).Warn("cache_match_failed")
		}

		resp, err = lifecycle.FetchNetwork(ctx, w.network, req)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		w.logFetch(req, false, status, started, err)
		return resp, err
	})
}

// addAll 先抓取全部资源，全部成功后才写入缓存桶，任一失败则一条也不写。
func (w *Worker) addAll(ctx context.Context, bucket cache.Bucket) error {
	responses := make([]*cache.Response, len(w.assets))

	group, gctx := errgroup.WithContext(ctx)
	if w.concurrency > 0 {
		group.SetLimit(w.concurrency)
	}
	for i, asset := range w.assets {
		group.Go(func() error {
			resp, err := w.fetchAsset(gctx, asset)
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for i, asset := range w.assets {
		key := cache.RequestKey{Method: http.MethodGet, URL: asset.String()}
		if err := bucket.Put(ctx, key, responses[i]); err != nil {
			return fmt.Errorf("store %s: %w", key.URL, err)
		}
	}

	fields := logging.CacheFields("cache_populated", w.name)
	fields["entries"] = len(w.assets)
	w.logger.WithFields(fields).Info("cache_populated")
	return nil
}

func (w *Worker) fetchAsset(ctx context.Context, asset *url.URL) (*cache.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.String(), nil)
	if err != nil {
		return nil, &AssetError{URL: asset.String(), Err: err}
	}
	resp, err := lifecycle.FetchNetwork(ctx, w.network, req)
	if err != nil {
		return nil, &AssetError{URL: asset.String(), Err: err}
	}
	if !resp.OK() {
		return nil, &AssetError{URL: asset.String(), Status: resp.StatusCode}
	}
	return resp, nil
}

// deleteStale 删除所有名称不等于当前版本的缓存桶。删除失败只记录日志，
// 下一次激活时会再次尝试。
func (w *Worker) deleteStale(ctx context.Context) error {
	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.logger.WithFields(logging.CacheFields("cache_list", w.name)).
			WithError(err).Warn("cache_list_failed")
		return nil
	}

	for _, name := range names {
		if name == w.name {
			continue
		}
		fields := logging.CacheFields("cache_delete", name)
		fields["current"] = w.name
		if _, err := w.storage.Delete(ctx, name); err != nil {
			w.logger.WithFields(fields).WithError(err).Warn("cache_delete_failed")
			continue
		}
		w.logger.WithFields(fields).Info("cache_deleted")
	}
	return nil
}

// match 只查询当前版本的缓存桶；桶不存在时视为未命中，不会顺带创建空桶。
func (w *Worker) match(ctx context.Context, req *http.Request) (*cache.Response, error) {
	bucket, err := w.storage.Lookup(ctx, w.name)
	if err != nil {
		return nil, err
	}
	return bucket.Match(ctx, cache.KeyFor(req))
}

func (w *Worker) logFetch(req *http.Request, hit bool, status int, started time.Time, err error) {
	fields := logging.RequestFields(w.name, req.Method, req.URL.String(), hit)
	fields["action"] = "fetch"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		w.logger.WithFields(fields).Error("fetch_failed")
		return
	}
	w.logger.WithFields(fields).Debug("fetch_complete")
}
