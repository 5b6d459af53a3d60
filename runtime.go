package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/annonay-escalade/offline-agent/internal/agent"
	"github.com/annonay-escalade/offline-agent/internal/cache"
	"github.com/annonay-escalade/offline-agent/internal/config"
	"github.com/annonay-escalade/offline-agent/internal/host"
	"github.com/annonay-escalade/offline-agent/internal/logging"
	"github.com/annonay-escalade/offline-agent/internal/metrics"
	"github.com/annonay-escalade/offline-agent/internal/network"
	"github.com/annonay-escalade/offline-agent/internal/server"
	"github.com/annonay-escalade/offline-agent/internal/server/routes"
)

const (
	shutdownTimeout  = 10 * time.Second
	minSweepInterval = time.Second
)

// agentRuntime 持有进程生命周期内共享的组件。
type agentRuntime struct {
	cfg        *config.Config
	configPath string
	logger     *logrus.Logger

	provider *metrics.Provider
	store    cache.Store
	fetcher  *network.HTTPFetcher
	host     *host.Host
	origin   *url.URL
	app      *fiber.App
}

func newRuntime(ctx context.Context, cfg *config.Config, configPath string, logger *logrus.Logger) (*agentRuntime, error) {
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, fmt.Errorf("解析源站地址失败: %w", err)
	}

	provider, err := metrics.New(ctx, cfg.Global.MetricsExporter)
	if err != nil {
		return nil, fmt.Errorf("初始化指标失败: %w", err)
	}

	store, err := cache.Open(ctx, cfg.Storage.CacheOptions())
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	fetcher := network.NewFetcher(network.NewClient(cfg.Global.UpstreamTimeout.DurationValue()))
	h, err := host.New(host.Options{
		Network: fetcher,
		Logger:  logger,
		Metrics: provider,
	})
	if err != nil {
		_ = store.Close()
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	rt := &agentRuntime{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		provider:   provider,
		store:      store,
		fetcher:    fetcher,
		host:       h,
		origin:     origin,
	}

	app, err := server.NewApp(server.AppOptions{Logger: logger, Host: h, Origin: origin})
	if err != nil {
		_ = rt.close(ctx)
		return nil, err
	}
	routes.RegisterLifecycleRoutes(app, routes.LifecycleOptions{
		Host:      h,
		Installer: rt.buildAgent,
		Logger:    logger,
	})
	routes.RegisterStatusRoutes(app, routes.StatusOptions{
		Host:    h,
		Store:   store,
		Driver:  cfg.Storage.Driver,
		Metrics: provider.Handler(),
	})
	rt.app = app
	return rt, nil
}

// buildAgent 重新读取配置文件中的 [Agent] 段构建新代理；存储与源站变更需要重启进程。
func (rt *agentRuntime) buildAgent(context.Context) (*agent.Agent, error) {
	cfg := rt.cfg
	if rt.configPath != "" {
		if _, err := os.Stat(rt.configPath); err == nil {
			reloaded, err := config.Load(rt.configPath)
			if err != nil {
				return nil, err
			}
			if reloaded.Global.Origin != rt.cfg.Global.Origin || reloaded.Storage.Driver != rt.cfg.Storage.Driver {
				rt.logger.WithFields(logging.BaseFields("reload", rt.configPath)).
					Warn("源站或存储驱动变更需要重启，本次仅应用 [Agent] 配置")
			}
			cfg = reloaded
		}
	}

	return agent.New(agent.Options{
		Config: agent.Config{
			GenerationTag:        cfg.Agent.GenerationTag,
			Assets:               cfg.Agent.Assets,
			Scope:                rt.origin,
			SkipWaitingOnInstall: cfg.Agent.SkipWaitingOnInstall,
		},
		Store:   rt.store,
		Network: rt.fetcher,
		Logger:  rt.logger,
		Metrics: rt.provider,
	})
}

// install 构建并注册一个新代理。
func (rt *agentRuntime) install(ctx context.Context) error {
	a, err := rt.buildAgent(ctx)
	if err != nil {
		return err
	}
	return rt.host.Register(ctx, a)
}

// watchReload 在收到 SIGHUP 时滚动日志并重新安装。
func (rt *agentRuntime) watchReload(ctx context.Context, signals <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			fields := logging.BaseFields("reload", rt.configPath)
			if err := logging.Rotate(rt.logger); err != nil {
				rt.logger.WithFields(fields).WithError(err).Warn("日志滚动失败")
			}
			if err := rt.install(ctx); err != nil {
				rt.logger.WithFields(fields).WithError(err).Error("重新安装失败")
				continue
			}
			rt.logger.WithFields(fields).Info("重新安装完成")
		}
	}
}

func (rt *agentRuntime) sweepInterval() time.Duration {
	interval := rt.cfg.Global.ClientIdleTimeout.DurationValue() / 2
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	return interval
}

// sweepLoop 定期移除空闲客户端，使等待中的代理有机会激活。
func (rt *agentRuntime) sweepLoop(ctx context.Context) {
	idle := rt.cfg.Global.ClientIdleTimeout.DurationValue()
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(rt.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.sweepOnce(ctx, idle)
		}
	}
}

func (rt *agentRuntime) sweepOnce(ctx context.Context, idle time.Duration) int {
	removed, err := rt.host.Sweep(ctx, idle)
	if err != nil {
		rt.logger.WithFields(logrus.Fields{"action": "sweep", "removed": removed}).
			WithError(err).Warn("空闲客户端清理后激活失败")
		return removed
	}
	if removed > 0 {
		rt.logger.WithFields(logrus.Fields{"action": "sweep", "removed": removed}).Debug("移除空闲客户端")
	}
	return removed
}

// serve 监听端口直到 ctx 结束，然后优雅关闭 Fiber。
func (rt *agentRuntime) serve(ctx context.Context) error {
	port := rt.cfg.Global.ListenPort
	errCh := make(chan error, 1)
	go func() {
		rt.logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		errCh <- rt.app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	rt.logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("Fiber 服务关闭")
	if err := rt.app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// close 释放存储与指标资源。
func (rt *agentRuntime) close(ctx context.Context) error {
	return errors.Join(rt.store.Close(), rt.provider.Shutdown(ctx))
}
