package routes

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/annonay-escalade/offline-agent/internal/agent"
	"github.com/annonay-escalade/offline-agent/internal/host"
	"github.com/annonay-escalade/offline-agent/internal/server"
)

// Installer 基于最新配置构建一个待安装的代理。
type Installer func(ctx context.Context) (*agent.Agent, error)

// LifecycleOptions 汇总生命周期接口的依赖。
type LifecycleOptions struct {
	Host      *host.Host
	Installer Installer
	Logger    *logrus.Logger
}

// RegisterLifecycleRoutes 暴露 /-/lifecycle/* 接口：投递消息、重新安装与释放客户端。
func RegisterLifecycleRoutes(app *fiber.App, opts LifecycleOptions) {
	if app == nil || opts.Host == nil {
		return
	}

	app.Post("/-/lifecycle/message", func(c fiber.Ctx) error {
		recognized := opts.Host.PostMessage(c.Context(), c.Body())
		return c.JSON(fiber.Map{"recognized": recognized})
	})

	app.Post("/-/lifecycle/install", func(c fiber.Ctx) error {
		if opts.Installer == nil {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "installer_unavailable"})
		}
		a, err := opts.Installer(c.Context())
		if err != nil {
			logFailure(opts.Logger, c, "install_config", err)
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":  "invalid_config",
				"detail": err.Error(),
			})
		}
		if err := opts.Host.Register(c.Context(), a); err != nil {
			logFailure(opts.Logger, c, "install", err)
			var perr *agent.ProvisionError
			switch {
			case errors.Is(err, host.ErrInstallInProgress):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "install_in_progress"})
			case errors.As(err, &perr):
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
					"error":  "provision_failed",
					"asset":  perr.Asset,
					"detail": err.Error(),
				})
			default:
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "install_failed"})
			}
		}
		return c.JSON(fiber.Map{
			"id":         a.ID(),
			"generation": a.Generation(),
			"state":      a.State(),
		})
	})

	app.Post("/-/lifecycle/release", func(c fiber.Ctx) error {
		if err := opts.Host.Release(c.Context(), server.ClientID(c)); err != nil {
			logFailure(opts.Logger, c, "release", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "release_failed"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func logFailure(logger *logrus.Logger, c fiber.Ctx, action string, err error) {
	if logger == nil {
		return
	}
	logger.WithFields(logrus.Fields{
		"action":     action,
		"request_id": server.RequestID(c),
	}).WithError(err).Warn("lifecycle request failed")
}
