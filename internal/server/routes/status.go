package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/statline-hub/statline-hub/internal/version"
)

// RegisterStatusRoutes 暴露 /-/ 前缀下的诊断接口。
func RegisterStatusRoutes(app *fiber.App, deps Deps) {
	if app == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := fiber.Map{
			"version":            version.Version,
			"client_initialized": deps.Manager != nil && deps.Manager.IsInitialized(),
			"catalog_cache":      deps.Catalog.Stats(),
			"dimension_cache":    deps.DimCache.Stats(),
		}
		if deps.Artifacts != nil {
			payload["artifact_entries"] = len(deps.Artifacts.Entries())
		}
		return c.JSON(payload)
	})

	app.Post("/-/catalog/refresh", func(c fiber.Ctx) error {
		count, err := deps.Catalog.Refresh(requestContext(c))
		if err != nil {
			return upstreamError(c, deps.Logger, "catalog_refresh", err)
		}
		return c.JSON(fiber.Map{"refreshed": count})
	})

	app.Post("/-/cache/clear", func(c fiber.Ctx) error {
		if err := deps.Catalog.Clear(); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "catalog_clear_failed"})
		}
		deps.DimCache.Clear()
		if deps.Artifacts != nil {
			if err := deps.Artifacts.Clear(); err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "artifact_clear_failed"})
			}
		}
		return c.JSON(fiber.Map{"cleared": true})
	})
}
