package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/annonay-escalade/offline-agent/internal/agent"
	"github.com/annonay-escalade/offline-agent/internal/cache"
	"github.com/annonay-escalade/offline-agent/internal/logging"
	"github.com/annonay-escalade/offline-agent/internal/metrics"
)

var (
	// ErrInstallInProgress 表示已有代理正在安装。
	ErrInstallInProgress = errors.New("host: another agent is installing")
	// ErrNotActive 表示只有激活中的代理才能接管客户端。
	ErrNotActive = errors.New("host: agent is not active")
)

// Options 汇总 Host 的依赖。
type Options struct {
	// Network 用于没有激活代理时的直通请求。
	Network agent.Fetcher
	Logger  *logrus.Logger
	Metrics metrics.Recorder
	Now     func() time.Time
}

// Outcome 是一次经由宿主分发的拦截结果。
type Outcome struct {
	Response *cache.Response
	// Source 取 metrics.SourceCache、metrics.SourceNetwork 或 metrics.SourcePassthrough。
	Source     string
	Generation string
}

type worker struct {
	agent       *agent.Agent
	skipWaiting bool
}

type client struct {
	controller *worker
	lastSeen   time.Time
}

// Host 负责分发生命周期事件并维护 installing/waiting/active 三个槽位。
type Host struct {
	network agent.Fetcher
	logger  *logrus.Logger
	metrics metrics.Recorder
	now     func() time.Time

	// activateMu 串行化激活流程。
	activateMu sync.Mutex

	mu         sync.Mutex
	installing *worker
	waiting    *worker
	active     *worker
	clients    map[string]*client
}

// New 创建空宿主。
func New(opts Options) (*Host, error) {
	if opts.Network == nil {
		return nil, errors.New("host: network fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Noop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Host{
		network: opts.Network,
		logger:  logger,
		metrics: rec,
		now:     now,
		clients: make(map[string]*client),
	}, nil
}

// Register 安装新代理并按规则决定等待还是立即激活。
// 安装失败时之前的激活代理保持不变，错误原样返回。
func (h *Host) Register(ctx context.Context, a *agent.Agent) error {
	w := &worker{agent: a}

	h.mu.Lock()
	if h.installing != nil {
		h.mu.Unlock()
		return ErrInstallInProgress
	}
	h.installing = w
	h.mu.Unlock()

	err := a.Setup(ctx, &scope{host: h, worker: w})

	h.mu.Lock()
	h.installing = nil
	if err != nil {
		h.mu.Unlock()
		return fmt.Errorf("install %s: %w", a.Generation(), err)
	}
	if h.waiting != nil {
		h.waiting.agent.MarkRedundant()
	}
	h.waiting = w
	promote := w.skipWaiting || h.active == nil || h.controlledLocked(h.active) == 0
	h.mu.Unlock()

	if !promote {
		h.logger.WithFields(logging.AgentFields("wait", a.ID(), a.Generation())).
			Info("installed agent is waiting for clients to release the active one")
		return nil
	}
	return h.activate(ctx, w)
}

// activate 将 waiting 槽位中的 w 提升为激活代理；w 已被替换或已激活时不做任何事。
func (h *Host) activate(ctx context.Context, w *worker) error {
	h.activateMu.Lock()
	defer h.activateMu.Unlock()

	h.mu.Lock()
	if h.waiting != w {
		h.mu.Unlock()
		return nil
	}
	h.waiting = nil
	prev := h.active
	h.active = w
	for _, c := range h.clients {
		if c.controller == prev && prev != nil {
			c.controller = w
		}
	}
	h.mu.Unlock()

	if prev != nil {
		prev.agent.MarkRedundant()
		h.logger.WithFields(logging.AgentFields("retire", prev.agent.ID(), prev.agent.Generation())).
			Info("previous agent is redundant")
	}

	if err := w.agent.Activate(ctx, &scope{host: h, worker: w}); err != nil {
		h.logger.WithFields(logging.AgentFields("activate", w.agent.ID(), w.agent.Generation())).
			WithError(err).Error("activation failed")
		return err
	}
	return nil
}

// skipWaiting 处理代理发起的跳过等待请求。
func (h *Host) skipWaiting(ctx context.Context, w *worker) error {
	h.mu.Lock()
	switch w {
	case h.installing:
		w.skipWaiting = true
		h.mu.Unlock()
		return nil
	case h.waiting:
		h.mu.Unlock()
		return h.activate(ctx, w)
	default:
		h.mu.Unlock()
		return nil
	}
}

// claim 让 w 接管所有已知客户端。
func (h *Host) claim(w *worker) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != w {
		return ErrNotActive
	}
	for _, c := range h.clients {
		c.controller = w
	}
	return nil
}

func (h *Host) controlledLocked(w *worker) int {
	n := 0
	for _, c := range h.clients {
		if c.controller == w {
			n++
		}
	}
	return n
}

// promoteWaiting 在激活代理不再控制任何客户端时激活等待中的代理。
func (h *Host) promoteWaiting(ctx context.Context) error {
	h.mu.Lock()
	w := h.waiting
	if w == nil || (h.active != nil && h.controlledLocked(h.active) > 0) {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()
	return h.activate(ctx, w)
}

// Intercept 将请求交给该客户端的控制代理；未受控的客户端直接访问网络。
func (h *Host) Intercept(ctx context.Context, clientID string, req *agent.Request) (*Outcome, error) {
	controller := h.touch(clientID)
	if controller == nil {
		return h.passthrough(ctx, req)
	}

	res, err := controller.agent.Intercept(ctx, req)
	if errors.Is(err, agent.ErrInvalidState) {
		// 控制代理刚被替换，按当前激活代理重试一次。
		h.mu.Lock()
		active := h.active
		h.mu.Unlock()
		if active == nil || active == controller {
			return h.passthrough(ctx, req)
		}
		controller = active
		res, err = active.agent.Intercept(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	source := metrics.SourceNetwork
	if res.FromCache {
		source = metrics.SourceCache
	}
	return &Outcome{Response: res.Response, Source: source, Generation: controller.agent.Generation()}, nil
}

func (h *Host) passthrough(ctx context.Context, req *agent.Request) (*Outcome, error) {
	resp, err := h.network.Fetch(ctx, req)
	if err != nil {
		serveErr := &agent.ServeError{URL: req.CacheKey(), Err: err}
		h.metrics.Intercepted(ctx, metrics.SourcePassthrough, serveErr)
		return nil, serveErr
	}
	h.metrics.Intercepted(ctx, metrics.SourcePassthrough, nil)
	return &Outcome{Response: resp, Source: metrics.SourcePassthrough}, nil
}

// PostMessage 将消息投递给 waiting、installing 或 active 代理（按此优先级）。
// 没有任何代理时返回 false。
func (h *Host) PostMessage(ctx context.Context, data []byte) bool {
	h.mu.Lock()
	target := h.waiting
	if target == nil {
		target = h.installing
	}
	if target == nil {
		target = h.active
	}
	h.mu.Unlock()

	if target == nil {
		return false
	}
	return target.agent.Message(ctx, &scope{host: h, worker: target}, data)
}

// scope 是单个代理视角下的宿主能力。
type scope struct {
	host   *Host
	worker *worker
}

func (s *scope) SkipWaiting(ctx context.Context) error {
	return s.host.skipWaiting(ctx, s.worker)
}

func (s *scope) Claim(context.Context) error {
	return s.host.claim(s.worker)
}
