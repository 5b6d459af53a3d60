package agent

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/annonay-escalade/offline-agent/internal/cache"
	"github.com/annonay-escalade/offline-agent/internal/logging"
	"github.com/annonay-escalade/offline-agent/internal/metrics"
)

// Result 是一次拦截的结果。
type Result struct {
	Response  *cache.Response
	FromCache bool
	// Region 为命中的分区名，仅 FromCache 为 true 时有效。
	Region string
}

// Intercept 处理 intercept 事件：缓存命中时原样返回，未命中时只发起一次网络请求。
// 网络响应不会写回缓存。
func (a *Agent) Intercept(ctx context.Context, req *Request) (*Result, error) {
	switch a.State() {
	case StateActivating, StateActivated:
	default:
		return nil, ErrInvalidState
	}
	start := time.Now()
	key := req.CacheKey()

	if req.Cacheable() {
		resp, region, err := cache.Match(ctx, a.store, key)
		switch {
		case err == nil:
			a.metrics.Intercepted(ctx, metrics.SourceCache, nil)
			a.logger.WithFields(logging.RequestFields(req.Method, key, metrics.SourceCache, true)).
				WithFields(logrus.Fields{"region": region, "elapsed_ms": time.Since(start).Milliseconds()}).
				Debug("serving from cache")
			return &Result{Response: resp, FromCache: true, Region: region}, nil
		case !cache.IsMiss(err):
			// 存储故障时退回网络，页面不应因缓存不可用而失败。
			a.logger.WithFields(logging.RequestFields(req.Method, key, metrics.SourceNetwork, false)).
				WithError(err).Warn("cache lookup failed")
		}
	}

	resp, err := a.network.Fetch(ctx, req)
	fields := logging.RequestFields(req.Method, key, metrics.SourceNetwork, false)
	if err != nil {
		serveErr := &ServeError{URL: key, Err: err}
		a.metrics.Intercepted(ctx, metrics.SourceNetwork, serveErr)
		a.logger.WithFields(fields).WithError(err).Warn("network fetch failed")
		return nil, serveErr
	}
	a.metrics.Intercepted(ctx, metrics.SourceNetwork, nil)
	a.logger.WithFields(fields).
		WithFields(logrus.Fields{"status": resp.Status, "elapsed_ms": time.Since(start).Milliseconds()}).
		Debug("fetching from network")
	return &Result{Response: resp}, nil
}
