package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/jm2pdf/jm2pdf/internal/provision"
	"github.com/jm2pdf/jm2pdf/internal/version"
)

// RegisterStatusRoutes 暴露 /-/status，报告运行环境准备状态。
func RegisterStatusRoutes(app *fiber.App, status *provision.Status) {
	if app == nil || status == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		snap := status.Snapshot()
		code := fiber.StatusOK
		if snap.State == provision.StateFailed {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(statusPayload{
			Snapshot: snap,
			Version:  version.Full(),
		})
	})
}

type statusPayload struct {
	provision.Snapshot
	Version string `json:"version"`
}
