package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/annonay-escalade/offline-agent/internal/cache"
	"github.com/annonay-escalade/offline-agent/internal/host"
	"github.com/annonay-escalade/offline-agent/internal/version"
)

// StatusOptions 汇总诊断接口的依赖。
type StatusOptions struct {
	Host   *host.Host
	Store  cache.Store
	Driver string
	// Metrics 为 nil 时不注册 /-/metrics。
	Metrics http.Handler
}

type storagePayload struct {
	Driver      string `json:"driver"`
	Description string `json:"description,omitempty"`
	Persistent  bool   `json:"persistent"`
}

type regionPayload struct {
	Name    string   `json:"name"`
	Current bool     `json:"current"`
	Entries []string `json:"entries"`
}

// RegisterStatusRoutes 暴露 /-/status、/-/regions 与可选的 /-/metrics。
func RegisterStatusRoutes(app *fiber.App, opts StatusOptions) {
	if app == nil || opts.Host == nil {
		return
	}

	storage := storagePayload{Driver: opts.Driver}
	if d, ok := cache.ResolveDriver(opts.Driver); ok {
		storage.Driver = d.Name
		storage.Description = d.Description
		storage.Persistent = d.Persistent
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"version": version.Full(),
			"driver":  storage.Driver,
			"storage": storage,
			"host":    opts.Host.Status(),
		})
	})

	if opts.Store != nil {
		app.Get("/-/regions", func(c fiber.Ctx) error {
			names, err := opts.Store.Names(c.Context())
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "regions_unavailable"})
			}
			current := ""
			if active := opts.Host.Active(); active != nil {
				current = active.Generation()
			}
			regions := make([]regionPayload, 0, len(names))
			for _, name := range names {
				entries, err := opts.Store.Entries(c.Context(), name)
				if err != nil {
					// 列举期间被删除的分区直接跳过。
					if cache.IsMiss(err) {
						continue
					}
					return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "regions_unavailable"})
				}
				regions = append(regions, regionPayload{Name: name, Current: name == current, Entries: entries})
			}
			return c.JSON(fiber.Map{"regions": regions})
		})
	}

	if opts.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(opts.Metrics))
	}
}
