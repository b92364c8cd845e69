package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/folio-hub/folio/internal/cache"
	"github.com/folio-hub/folio/internal/config"
	"github.com/folio-hub/folio/internal/feed"
	"github.com/folio-hub/folio/internal/lifecycle"
	"github.com/folio-hub/folio/internal/logging"
	"github.com/folio-hub/folio/internal/proxy"
	"github.com/folio-hub/folio/internal/server"
	"github.com/folio-hub/folio/internal/server/routes"
	"github.com/folio-hub/folio/internal/version"
	"github.com/folio-hub/folio/internal/webmanifest"
	"github.com/folio-hub/folio/internal/worker"
)

type serveCmd struct {
	opts *cliOptions
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "部署缓存版本并启动 HTTP 服务" }
func (*serveCmd) Usage() string {
	return `folio [-config <path>] serve

  Installs and activates the [Cache] version, starts the simulated feed and
  serves the site through the cache-first handler until SIGINT/SIGTERM.
`
}
func (*serveCmd) SetFlags(*flag.FlagSet) {}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	path := c.opts.configPath()
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return subcommands.ExitFailure
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return subcommands.ExitFailure
	}
	defer logging.Close(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildServices(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return subcommands.ExitFailure
	}

	fields := logging.BaseFields("startup", path)
	fields["cache"] = cfg.Cache.Name
	fields["origin"] = cfg.Global.Origin
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_backend"] = cfg.Global.StorageBackend
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	// 安装失败时仍然启动服务：没有激活版本的请求直接走网络
	if err := rt.deploy(ctx, cfg); err != nil {
		logger.WithFields(logging.CacheFields("deploy", cfg.Cache.Name)).WithError(err).Error("deploy_failed")
	}

	if cfg.Global.WatchConfig {
		if err := config.Watch(path, func(next *config.Config) {
			if err := rt.deploy(ctx, next); err != nil {
				logger.WithFields(logging.CacheFields("redeploy", next.Cache.Name)).WithError(err).Error("deploy_failed")
			}
		}, func(err error) {
			logger.WithFields(logging.BaseFields("config_reload", path)).WithError(err).Warn("config_reload_failed")
		}); err != nil {
			logger.WithFields(logging.BaseFields("config_watch", path)).WithError(err).Warn("config_watch_failed")
		}
	}

	if err := rt.serve(ctx); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// services 持有 serve 期间共享的组件，按“存储 → 上游 client → 注册 → feed → Fiber”顺序构建。
type services struct {
	cfg          *config.Config
	logger       *logrus.Logger
	storage      cache.Storage
	client       *http.Client
	registration *lifecycle.Registration
	feed         *feed.Feed
	app          *fiber.App

	deployMu sync.Mutex
	deployed *config.CacheConfig
}

func buildServices(cfg *config.Config, logger *logrus.Logger) (*services, error) {
	storage, err := newStorage(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}
	client := server.NewUpstreamClient(cfg)
	registration := lifecycle.NewRegistration(client, logger)

	marketFeed, err := feed.FromConfig(cfg.Feed, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化模拟行情失败: %w", err)
	}

	site, err := server.NewSite(cfg)
	if err != nil {
		return nil, err
	}
	app, err := server.NewApp(server.AppOptions{
		Logger:  logger,
		Site:    site,
		Handler: proxy.NewHandler(registration, logger),
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterCacheRoutes(app, storage, registration)
	routes.RegisterFeedRoutes(app, marketFeed)
	if err := routes.RegisterManifestRoute(app, webmanifest.FromConfig(cfg.Manifest)); err != nil {
		return nil, fmt.Errorf("编码 manifest 失败: %w", err)
	}

	return &services{
		cfg:          cfg,
		logger:       logger,
		storage:      storage,
		client:       client,
		registration: registration,
		feed:         marketFeed,
		app:          app,
	}, nil
}

func newStorage(g config.GlobalConfig) (cache.Storage, error) {
	if g.StorageBackend == config.StorageBackendMemory {
		return cache.NewMemoryStorage(), nil
	}
	return cache.NewDiskStorage(g.StoragePath)
}

// deploy 在 [Cache] 与已部署版本不同时安装并激活新版本。Origin 等其它字段变化需要重启进程。
func (rt *services) deploy(ctx context.Context, cfg *config.Config) error {
	rt.deployMu.Lock()
	defer rt.deployMu.Unlock()

	if rt.deployed != nil && rt.deployed.SameCache(cfg.Cache) {
		rt.logger.WithFields(logging.CacheFields("deploy", cfg.Cache.Name)).Debug("deploy_skipped")
		return nil
	}
	if cfg.Global.Origin != rt.cfg.Global.Origin {
		rt.logger.WithFields(logrus.Fields{
			"action":  "deploy",
			"origin":  cfg.Global.Origin,
			"current": rt.cfg.Global.Origin,
		}).Warn("origin_change_requires_restart")
		return nil
	}

	w, err := worker.FromConfig(cfg, rt.storage, rt.client, rt.logger)
	if err != nil {
		return err
	}
	if err := rt.registration.Deploy(ctx, w); err != nil {
		return err
	}
	deployed := cfg.Cache
	rt.deployed = &deployed
	return nil
}

// serve 并行运行 Fiber 与模拟行情，ctx 取消后优雅关闭。
func (rt *services) serve(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	if rt.feed != nil {
		group.Go(func() error {
			rt.feed.Run(gctx)
			return nil
		})
	}

	group.Go(func() error {
		rt.logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   rt.cfg.Global.ListenPort,
		}).Info("Fiber 服务启动")
		err := rt.app.Listen(fmt.Sprintf(":%d", rt.cfg.Global.ListenPort), fiber.ListenConfig{
			DisableStartupMessage: true,
		})
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-gctx.Done()
		rt.logger.WithField("action", "shutdown").Info("shutting_down")
		return rt.app.Shutdown()
	})

	return group.Wait()
}
