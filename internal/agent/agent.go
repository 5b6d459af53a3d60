package agent

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/annonay-escalade/offline-agent/internal/cache"
	"github.com/annonay-escalade/offline-agent/internal/logging"
	"github.com/annonay-escalade/offline-agent/internal/metrics"
)

// Fetcher 执行真实的网络请求。非 2xx 响应不是错误，只有传输失败才返回 error。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.Response, error)
}

// Scope 是宿主在分发事件时提供给代理的能力。
type Scope interface {
	// SkipWaiting 请求宿主跳过等待阶段，立即激活该代理。
	SkipWaiting(ctx context.Context) error
	// Claim 让该代理接管宿主当前所有客户端。
	Claim(ctx context.Context) error
}

// Options 汇总构造代理所需的依赖。
type Options struct {
	Config  Config
	Store   cache.Store
	Network Fetcher
	Logger  *logrus.Logger
	Metrics metrics.Recorder
}

// Agent 是单个代际的缓存代理，由宿主依次驱动 Setup、Activate、Intercept 与 Message。
type Agent struct {
	id      string
	cfg     Config
	assets  []*url.URL
	store   cache.Store
	network Fetcher
	logger  *logrus.Logger
	metrics metrics.Recorder

	mu    sync.RWMutex
	state State
}

// New 校验配置并创建处于 parsed 状态的代理。
func New(opts Options) (*Agent, error) {
	if opts.Store == nil {
		return nil, errors.New("agent: cache store is required")
	}
	if opts.Network == nil {
		return nil, errors.New("agent: network fetcher is required")
	}
	cfg := opts.Config.withDefaults()
	assets, err := cfg.ResolveAssets()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Noop()
	}

	return &Agent{
		id:      uuid.NewString(),
		cfg:     cfg,
		assets:  assets,
		store:   opts.Store,
		network: opts.Network,
		logger:  logger,
		metrics: rec,
		state:   StateParsed,
	}, nil
}

// ID 返回代理实例的唯一标识。
func (a *Agent) ID() string {
	return a.id
}

// Generation 返回代际标签（即缓存分区名）。
func (a *Agent) Generation() string {
	return a.cfg.GenerationTag
}

// Assets 返回解析后的预热资源 URL。
func (a *Agent) Assets() []string {
	out := make([]string, len(a.assets))
	for i, u := range a.assets {
		out[i] = u.String()
	}
	return out
}

// State 返回当前生命周期状态。
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// MarkRedundant 在代理被新代际替换或预热失败后将其标记为废弃。
func (a *Agent) MarkRedundant() {
	a.setState(StateRedundant)
}
