package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/annonay-escalade/offline-agent/internal/agent"
	"github.com/annonay-escalade/offline-agent/internal/cache"
	"github.com/annonay-escalade/offline-agent/internal/host"
	"github.com/annonay-escalade/offline-agent/internal/logging"
	"github.com/annonay-escalade/offline-agent/internal/metrics"
	"github.com/annonay-escalade/offline-agent/internal/network"
)

// interceptor 将 Fiber 请求转换为 agent.Request 并交给宿主处理。
type interceptor struct {
	host   *host.Host
	origin *url.URL
	logger *logrus.Logger
}

func newInterceptor(h *host.Host, origin *url.URL, logger *logrus.Logger) *interceptor {
	return &interceptor{host: h, origin: origin, logger: logger}
}

// Handle 拦截请求；处理过程中的 panic 转换为 500 intercept_panic。
func (i *interceptor) Handle(c fiber.Ctx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = i.respondError(c, fiber.StatusInternalServerError, "intercept_panic", fmt.Errorf("panic: %v", r), nil)
		}
	}()
	return i.serve(c)
}

func (i *interceptor) serve(c fiber.Ctx) error {
	start := time.Now()
	req := i.buildRequest(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	outcome, err := i.host.Intercept(ctx, ClientID(c), req)
	if err != nil {
		var serveErr *agent.ServeError
		if errors.As(err, &serveErr) {
			return i.respondError(c, fiber.StatusBadGateway, "upstream_failed", err, req)
		}
		return i.respondError(c, fiber.StatusInternalServerError, "intercept_failed", err, req)
	}

	fields := logging.RequestFields(req.Method, req.CacheKey(), outcome.Source, outcome.Source == metrics.SourceCache)
	fields["status"] = outcome.Response.Status
	fields["elapsed_ms"] = time.Since(start).Milliseconds()
	fields["request_id"] = RequestID(c)
	fields["generation"] = outcome.Generation
	i.logger.WithFields(fields).Info("intercept")

	c.Set("X-Agent-Cache", outcome.Source)
	if outcome.Generation != "" {
		c.Set("X-Agent-Generation", outcome.Generation)
	}
	return writeResponse(c, outcome.Response)
}

// buildRequest 将请求路径映射到源站：/a/b?x=1 -> <origin>a/b?x=1。
func (i *interceptor) buildRequest(c fiber.Ctx) *agent.Request {
	uri := c.Request().URI()
	relative := &url.URL{Path: strings.TrimLeft(string(uri.Path()), "/")}
	if query := uri.QueryString(); len(query) > 0 {
		relative.RawQuery = string(query)
	}
	target := i.origin.ResolveReference(relative)

	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	header.Del(fiber.HeaderHost)
	header.Del(ClientHeader)
	stripClientCookie(header)

	var body []byte
	if raw := c.Body(); len(raw) > 0 {
		body = append([]byte(nil), raw...)
	}

	return &agent.Request{
		Method: c.Method(),
		URL:    target,
		Header: header,
		Body:   body,
	}
}

// stripClientCookie 从 Cookie 头中移除客户端标识，其余 cookie 原样转发给源站。
func stripClientCookie(header http.Header) {
	values := header.Values(fiber.HeaderCookie)
	if len(values) == 0 {
		return
	}
	header.Del(fiber.HeaderCookie)
	for _, line := range values {
		kept := make([]string, 0, 4)
		for _, part := range strings.Split(line, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, _, _ := strings.Cut(part, "=")
			if strings.TrimSpace(name) == ClientCookie {
				continue
			}
			kept = append(kept, part)
		}
		if len(kept) > 0 {
			header.Add(fiber.HeaderCookie, strings.Join(kept, "; "))
		}
	}
}

// writeResponse 原样写出响应快照，过滤 hop-by-hop 头。
func writeResponse(c fiber.Ctx, resp *cache.Response) error {
	for key, values := range resp.Header {
		if network.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == fiber.HeaderContentLength {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	return c.Status(resp.Status).Send(resp.Body)
}

func (i *interceptor) respondError(c fiber.Ctx, status int, code string, err error, req *agent.Request) error {
	fields := logrus.Fields{
		"action":     "intercept",
		"error_code": code,
		"request_id": RequestID(c),
	}
	if req != nil {
		fields["method"] = req.Method
		fields["url"] = req.CacheKey()
	}
	i.logger.WithFields(fields).WithError(err).Warn("intercept failed")
	return c.Status(status).JSON(fiber.Map{"error": code})
}
