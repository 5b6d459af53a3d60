package agent

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/annonay-escalade/offline-agent/internal/cache"
	"github.com/annonay-escalade/offline-agent/internal/logging"
)

// Setup 处理 setup 事件：并发拉取全部资源，全部成功后才写入代际分区。
// 任一资源传输失败或状态码非 2xx 时不写入任何条目，代理进入 redundant 状态。
func (a *Agent) Setup(ctx context.Context, scope Scope) error {
	if err := a.transition(StateInstalling, StateParsed); err != nil {
		return err
	}
	tag := a.cfg.GenerationTag
	a.logger.WithFields(logging.AgentFields("install", a.id, tag)).Info("installing")

	if err := a.provision(ctx); err != nil {
		a.setState(StateRedundant)
		a.metrics.Provisioned(ctx, tag, err)
		a.logger.WithFields(logging.AgentFields("install", a.id, tag)).
			WithError(err).Error("install failed")
		return err
	}

	a.setState(StateInstalled)
	a.metrics.Provisioned(ctx, tag, nil)
	a.logger.WithFields(logging.AgentFields("install", a.id, tag)).
		WithField("assets", len(a.assets)).Info("installed successfully")

	if a.cfg.SkipWaitingOnInstall && scope != nil {
		if err := scope.SkipWaiting(ctx); err != nil {
			a.logger.WithFields(logging.AgentFields("skip_waiting", a.id, tag)).
				WithError(err).Warn("skip waiting request rejected")
		}
	}
	return nil
}

func (a *Agent) provision(ctx context.Context) error {
	tag := a.cfg.GenerationTag
	region, err := a.store.Open(ctx, tag)
	if err != nil {
		return &ProvisionError{Generation: tag, Err: err}
	}
	a.logger.WithFields(logging.AgentFields("install", a.id, tag)).Info("caching files")

	responses := make([]*cache.Response, len(a.assets))
	fetches, fetchCtx := errgroup.WithContext(ctx)
	for i, asset := range a.assets {
		fetches.Go(func() error {
			req := &Request{Method: http.MethodGet, URL: asset, Header: http.Header{}}
			resp, err := a.network.Fetch(fetchCtx, req)
			if err != nil {
				return &ProvisionError{Generation: tag, Asset: asset.String(), Err: err}
			}
			if !resp.OK() {
				return &ProvisionError{Generation: tag, Asset: asset.String(), Status: resp.Status}
			}
			responses[i] = resp
			return nil
		})
	}
	if err := fetches.Wait(); err != nil {
		return err
	}

	writes, writeCtx := errgroup.WithContext(ctx)
	for i, asset := range a.assets {
		writes.Go(func() error {
			if err := region.Put(writeCtx, asset.String(), responses[i]); err != nil {
				return &ProvisionError{Generation: tag, Asset: asset.String(), Err: err}
			}
			return nil
		})
	}
	return writes.Wait()
}
