package server

import (
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/annonay-escalade/offline-agent/internal/host"
)

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger *logrus.Logger
	Host   *host.Host
	// Origin is the base URL every intercepted path is resolved against. It
	// must end with "/".
	Origin *url.URL
}

const (
	contextKeyRequestID = "_agent_request_id"
	contextKeyClientID  = "_agent_client_id"

	// ClientCookie carries the client identifier between page loads.
	ClientCookie = "agent_client"
	// ClientHeader overrides the cookie for non-browser callers.
	ClientHeader = "X-Agent-Client"
)

// NewApp builds a Fiber application that intercepts every path outside the
// /-/ diagnostics namespace and hands it to the host.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Host == nil {
		return nil, errors.New("host is required")
	}
	if opts.Origin == nil || !opts.Origin.IsAbs() {
		return nil, errors.New("absolute origin is required")
	}
	if !strings.HasSuffix(opts.Origin.Path, "/") {
		return nil, errors.New("origin path must end with /")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	interceptor := newInterceptor(opts.Host, opts.Origin, opts.Logger)
	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return interceptor.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 生成请求 ID，并解析（或分配）客户端 ID。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		clientID := strings.TrimSpace(c.Get(ClientHeader))
		if clientID == "" {
			clientID = strings.TrimSpace(c.Cookies(ClientCookie))
		}
		if clientID == "" {
			clientID = uuid.NewString()
			c.Cookie(&fiber.Cookie{
				Name:     ClientCookie,
				Value:    clientID,
				Path:     "/",
				HTTPOnly: true,
				SameSite: fiber.CookieSameSiteLaxMode,
			})
		}
		c.Locals(contextKeyClientID, clientID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// ClientID returns the client identifier resolved by the middleware.
func ClientID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyClientID); value != nil {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
